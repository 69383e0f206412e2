package proxy

import (
	"encoding/json"
	"testing"
	"time"
)

func newTestInstance() *Instance {
	return New("pool.example.com:3333", "poolgen/1.0", "user", "x", nil)
}

func TestParseNotifyParams(t *testing.T) {
	raw := json.RawMessage(`["abc","00"+"0"+"prev","cb1","cb2",["m0","m1"],"00000002","1a2b3c4d","5e6f7080",true]`)
	// build properly instead of the malformed concat above
	raw = json.RawMessage(`["abc","0000000000000000000000000000000000000000000000000000000000000000","cb1","cb2",["m0","m1"],"00000002","1a2b3c4d","5e6f7080",true]`)
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil {
		t.Fatalf("setup: %v", err)
	}
	ni, err := parseNotifyParams(arr)
	if err != nil {
		t.Fatalf("parseNotifyParams: %v", err)
	}
	if ni.UpstreamJobID != "abc" || len(ni.Merkles) != 2 || !ni.Clean {
		t.Errorf("unexpected notify: %+v", ni)
	}
}

func TestParseNotifyParamsMerkleBoundaries(t *testing.T) {
	build := func(n int) []json.RawMessage {
		merkles := make([]string, n)
		for i := range merkles {
			merkles[i] = "m"
		}
		fields := []interface{}{"job", "prev", "cb1", "cb2", merkles, "v", "nbit", "ntime", true}
		arr := make([]json.RawMessage, len(fields))
		for i, f := range fields {
			b, _ := json.Marshal(f)
			arr[i] = b
		}
		return arr
	}

	if _, err := parseNotifyParams(build(0)); err != nil {
		t.Errorf("0 merkles should parse: %v", err)
	}
	if _, err := parseNotifyParams(build(16)); err != nil {
		t.Errorf("16 merkles should parse: %v", err)
	}
	if _, err := parseNotifyParams(build(17)); err == nil {
		t.Errorf("17 merkles should be rejected")
	}
}

func TestNotifyPropagation(t *testing.T) {
	pi := newTestInstance()
	params, _ := json.Marshal([]interface{}{
		"abc", "00" + "0000000000000000000000000000000000000000000000000000000000", "cb1", "cb2",
		[]string{"m0", "m1"}, "00000002", "1a2b3c4d", "5e6f7080", true,
	})

	if !pi.handleNotify(params) {
		t.Fatal("handleNotify should succeed")
	}
	if !pi.notifd {
		t.Error("notifd flag should be set")
	}

	reply, ok := pi.CurrentNotifyJSON()
	if !ok {
		t.Fatal("CurrentNotifyJSON should have a value")
	}
	var decoded notifyReply
	if err := json.Unmarshal(reply, &decoded); err != nil {
		t.Fatalf("decoding reply: %v", err)
	}
	if decoded.JobID != 0 {
		t.Errorf("first notify should have jobid 0, got %d", decoded.JobID)
	}
	if !decoded.Clean {
		t.Errorf("clean should be true")
	}
}

func TestNotifyIDsMonotonicAndCurrentIsHighest(t *testing.T) {
	pi := newTestInstance()
	for i := 0; i < 5; i++ {
		pi.insertNotify(&NotifyInstance{NotifyTime: time.Now()})
	}
	cur, ok := pi.currentNotify()
	if !ok {
		t.Fatal("expected a current notify")
	}
	if cur.ID != 4 {
		t.Errorf("current notify id = %d, want 4 (highest)", cur.ID)
	}
}

func TestAgeNotifiesRequiresThreeEntries(t *testing.T) {
	pi := newTestInstance()
	old := time.Now().Add(-700 * time.Second)
	pi.insertNotify(&NotifyInstance{NotifyTime: old})
	pi.insertNotify(&NotifyInstance{NotifyTime: old})

	pi.ageNotifies(time.Now())

	pi.notifyMu.Lock()
	n := len(pi.notifies)
	pi.notifyMu.Unlock()
	if n != 2 {
		t.Errorf("aging should not trigger below 3 entries, got %d remaining", n)
	}
}

func TestAgeNotifiesRemovesOldWhenThreeOrMore(t *testing.T) {
	pi := newTestInstance()
	old := time.Now().Add(-700 * time.Second)
	fresh := time.Now()
	pi.insertNotify(&NotifyInstance{NotifyTime: old})
	pi.insertNotify(&NotifyInstance{NotifyTime: old})
	pi.insertNotify(&NotifyInstance{NotifyTime: fresh})

	pi.ageNotifies(time.Now())

	pi.notifyMu.Lock()
	defer pi.notifyMu.Unlock()
	if _, ok := pi.notifies[2]; !ok {
		t.Errorf("fresh entry (id 2) should survive aging")
	}
}

func TestClearNotifiesEmptiesRegistryAndCurrent(t *testing.T) {
	pi := newTestInstance()
	pi.insertNotify(&NotifyInstance{NotifyTime: time.Now()})
	pi.clearNotifies()

	if _, ok := pi.currentNotify(); ok {
		t.Error("current notify should be empty after clearNotifies")
	}
	if _, ok := pi.CurrentNotifyJSON(); ok {
		t.Error("CurrentNotifyJSON should report no value after clearNotifies")
	}
}
