package proxy

import (
	"os"
	"testing"
)

type recordingNotifier struct {
	signals []string
}

func (r *recordingNotifier) Notify(signal string) {
	r.signals = append(r.signals, signal)
}

func TestDispatchNotifySignalsOnce(t *testing.T) {
	n := &recordingNotifier{}
	pi := New("upstream:3333", "poolgen/1.0", "user", "x", n)

	params := `["job","` + pad64("prev") + `","cb1","cb2",[],"00000002","1a2b3c4d","5e6f7080",true]`
	pi.dispatch(`{"id":null,"method":"mining.notify","params":` + params + `}`)

	if len(n.signals) != 1 || n.signals[0] != "notify" {
		t.Fatalf("signals = %v, want [notify]", n.signals)
	}
	if pi.notifd {
		t.Error("notifd flag should be cleared after signaling")
	}
}

func TestDispatchSetDifficultySignalsDiff(t *testing.T) {
	n := &recordingNotifier{}
	pi := New("upstream:3333", "poolgen/1.0", "user", "x", n)

	pi.dispatch(`{"id":null,"method":"mining.set_difficulty","params":[128]}`)

	if len(n.signals) != 1 || n.signals[0] != "diff" {
		t.Fatalf("signals = %v, want [diff]", n.signals)
	}
}

func TestDispatchShareResponseRemovesFromRegistry(t *testing.T) {
	pi := newTestInstance()
	s := pi.insertShare(1, 99)

	pi.dispatch(`{"id":` + itoa(uint64(s.ID)) + `,"result":true,"error":null}`)

	if _, ok := pi.removeShare(s.ID); ok {
		t.Error("share should already have been removed by dispatch")
	}
}

func TestDispatchStaleShareResponseDoesNotPanic(t *testing.T) {
	pi := newTestInstance()
	// id 42 was never inserted into the share registry: a late or
	// duplicate response, not an unrecognized message.
	pi.dispatch(`{"id":42,"result":true,"error":null}`)
}

func TestDispatchUnhandledMessageDoesNotPanic(t *testing.T) {
	pi := newTestInstance()
	pi.dispatch(`not even json`)
	pi.dispatch(`{"nothing":"recognizable"}`)
}

func TestIsTimeoutDetectsTimeoutError(t *testing.T) {
	if isTimeout(nil) {
		t.Error("nil error should not be a timeout")
	}
	if !isTimeout(os.ErrDeadlineExceeded) {
		t.Error("a read-deadline error should be a timeout")
	}
}
