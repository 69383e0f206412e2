package proxy

import (
	"encoding/json"
	"sort"
	"time"
)

// notifyAgeout and shareAgeout are the two fixed windows spec.md §5
// "Timeouts" names.
const (
	notifyAgeout     = 600 * time.Second
	shareAgeout      = 120 * time.Second
	notifyMinToAge   = 3
)

// parseNotifyParams implements spec.md §4.6: the params array of a
// mining.notify must be exactly nine well-typed elements, copied byte-exact
// except for the merkle branch, which is bounded at 16 entries (§8
// boundary: 16 parses, 17 is rejected).
func parseNotifyParams(params []json.RawMessage) (*NotifyInstance, error) {
	if len(params) != 9 {
		return nil, wrap(ErrProtocol, "mining.notify: want 9 params, got %d", len(params))
	}

	var (
		jobID, prevHash, cb1, cb2 string
		bbversion, nbit, ntime    string
		merkles                   []string
		clean                     bool
	)
	fields := []struct {
		raw json.RawMessage
		dst interface{}
	}{
		{params[0], &jobID},
		{params[1], &prevHash},
		{params[2], &cb1},
		{params[3], &cb2},
		{params[4], &merkles},
		{params[5], &bbversion},
		{params[6], &nbit},
		{params[7], &ntime},
		{params[8], &clean},
	}
	for i, f := range fields {
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return nil, wrap(ErrProtocol, "mining.notify: param %d: %v", i, err)
		}
	}
	if len(merkles) > 16 {
		return nil, wrap(ErrProtocol, "mining.notify: %d merkle branches exceeds 16", len(merkles))
	}

	return &NotifyInstance{
		UpstreamJobID: jobID,
		PrevHash:      prevHash,
		Coinbase1:     cb1,
		Coinbase2:     cb2,
		Merkles:       merkles,
		BBVersion:     bbversion,
		NBit:          nbit,
		NTime:         ntime,
		Clean:         clean,
		NotifyTime:    time.Now(),
	}, nil
}

// insertNotify assigns a local monotonic id and makes ni the current notify
// (§3 "current always references the most recently inserted instance";
// §8 invariant 1/2/6).
func (pi *Instance) insertNotify(ni *NotifyInstance) {
	pi.notifyMu.Lock()
	ni.ID = pi.nextNID
	pi.nextNID++
	pi.notifies[ni.ID] = ni
	pi.currentID = ni.ID
	pi.haveCur = true
	pi.notifyMu.Unlock()
}

// handleNotify is the mining.notify arm of parse_method (§4.1).
func (pi *Instance) handleNotify(params json.RawMessage) bool {
	var arr []json.RawMessage
	if err := json.Unmarshal(params, &arr); err != nil {
		pi.notifd = false
		return false
	}
	ni, err := parseNotifyParams(arr)
	if err != nil {
		pi.notifd = false
		return false
	}
	pi.insertNotify(ni)
	pi.notifd = true
	pi.countNotify()
	return true
}

// ageNotifies drops notify instances older than notifyAgeout, but only
// while at least notifyMinToAge entries remain, oldest first (insertion
// order — local ids are assigned monotonically so sorting by id is
// equivalent and avoids relying on Go's randomized map iteration order).
// Mirrors ckpool's proxy_recv aging pass (§4.2 step 1).
func (pi *Instance) ageNotifies(now time.Time) {
	pi.notifyMu.Lock()
	defer pi.notifyMu.Unlock()

	ids := make([]uint32, 0, len(pi.notifies))
	for id := range pi.notifies {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		if len(pi.notifies) < notifyMinToAge {
			break
		}
		if now.Sub(pi.notifies[id].NotifyTime) > notifyAgeout {
			delete(pi.notifies, id)
			pi.countNotifyAge()
		}
	}
}

// clearNotifies discards every NotifyInstance and the current pointer; used
// on reconnect because local ids become meaningless under a new session
// (§4.4 step 1, §8 invariant 5).
func (pi *Instance) clearNotifies() {
	pi.notifyMu.Lock()
	pi.notifies = make(map[uint32]*NotifyInstance)
	pi.haveCur = false
	pi.currentID = 0
	pi.notifyMu.Unlock()
}

// lookupNotify returns a copy-safe snapshot of the notify with the given
// local id (used by the sender to resolve a share's upstream job id, §4.3).
func (pi *Instance) lookupNotify(id uint32) (NotifyInstance, bool) {
	pi.notifyMu.Lock()
	defer pi.notifyMu.Unlock()
	ni, ok := pi.notifies[id]
	if !ok {
		return NotifyInstance{}, false
	}
	return *ni, true
}

// currentNotify returns a copy-safe snapshot of the current notify, if any
// (§4.5 "getnotify").
func (pi *Instance) currentNotify() (NotifyInstance, bool) {
	pi.notifyMu.Lock()
	defer pi.notifyMu.Unlock()
	if !pi.haveCur {
		return NotifyInstance{}, false
	}
	ni, ok := pi.notifies[pi.currentID]
	if !ok {
		return NotifyInstance{}, false
	}
	return *ni, true
}

// notifyReply is the JSON shape §4.5 "getnotify" returns to the stratifier.
type notifyReply struct {
	JobID      uint32   `json:"jobid"`
	PrevHash   string   `json:"prevhash"`
	Coinbase1  string   `json:"coinbase1"`
	Coinbase2  string   `json:"coinbase2"`
	MerkleHash []string `json:"merklehash"`
	BBVersion  string   `json:"bbversion"`
	NBit       string   `json:"nbit"`
	NTime      string   `json:"ntime"`
	Clean      bool     `json:"clean"`
}

// CurrentNotifyJSON renders the current notify for "getnotify" (§4.5). It
// returns ok=false if no mining.notify has arrived yet.
func (pi *Instance) CurrentNotifyJSON() (json.RawMessage, bool) {
	ni, ok := pi.currentNotify()
	if !ok {
		return nil, false
	}
	merkles := ni.Merkles
	if merkles == nil {
		merkles = []string{}
	}
	reply := notifyReply{
		JobID:      ni.ID,
		PrevHash:   ni.PrevHash,
		Coinbase1:  ni.Coinbase1,
		Coinbase2:  ni.Coinbase2,
		MerkleHash: merkles,
		BBVersion:  ni.BBVersion,
		NBit:       ni.NBit,
		NTime:      ni.NTime,
		Clean:      ni.Clean,
	}
	data, err := json.Marshal(reply)
	if err != nil {
		return nil, false
	}
	return data, true
}
