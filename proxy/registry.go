package proxy

import "time"

// insertShare assigns a fresh monotonic share id and registers the pending
// share (§4.5 "share submission"; §8 invariant 4). Share ids are never
// reset, even across reconnects (§5 "Ordering guarantees").
func (pi *Instance) insertShare(clientID, msgID int64) *ShareMsg {
	pi.shareMu.Lock()
	defer pi.shareMu.Unlock()

	s := &ShareMsg{
		ID:         pi.nextSID,
		ClientID:   clientID,
		MsgID:      msgID,
		SubmitTime: time.Now(),
	}
	pi.nextSID++
	pi.shares[s.ID] = s
	return s
}

// removeShare deletes and returns the share with the given id, if present
// (matching upstream response, §4.2 step 6 / parse_share).
func (pi *Instance) removeShare(id uint32) (*ShareMsg, bool) {
	pi.shareMu.Lock()
	defer pi.shareMu.Unlock()
	s, ok := pi.shares[id]
	if ok {
		delete(pi.shares, id)
	}
	return s, ok
}

// ageShares removes every share older than shareAgeout and returns the
// removed entries, so callers (the audit sink, §4.11) can record the
// outcome. The share registry is never wholesale-flushed on reconnect —
// only aged (§4.4, §3 lifecycle rules).
func (pi *Instance) ageShares(now time.Time) []*ShareMsg {
	pi.shareMu.Lock()
	defer pi.shareMu.Unlock()

	var aged []*ShareMsg
	for id, s := range pi.shares {
		if now.Sub(s.SubmitTime) > shareAgeout {
			aged = append(aged, s)
			delete(pi.shares, id)
		}
	}
	return aged
}

// ageSharesAndAudit is ageShares plus the §4.11 audit-sink side effect; the
// receiver calls this instead of ageShares directly.
func (pi *Instance) ageSharesAndAudit(now time.Time) []*ShareMsg {
	aged := pi.ageShares(now)
	for _, s := range aged {
		pi.recordOutcome(s, "aged_out")
		pi.countShareAge()
	}
	return aged
}

// enqueueOutbound appends msg to the outbound FIFO and wakes the sender
// (§4.5 share submission; §5 psend_lock/psend_cond).
func (pi *Instance) enqueueOutbound(msg *OutboundMsg) {
	pi.sendMu.Lock()
	pi.outbound = append(pi.outbound, msg)
	pi.sendMu.Unlock()
	pi.sendCond.Signal()
}

// dequeueOutbound blocks on the FIFO's condition variable until a message
// is available or the sender has been told to stop, then returns the
// oldest queued message (FIFO order preserves "enqueue order == transmit
// order", §5). It returns ok=false once stopSender has been called and the
// queue has drained.
func (pi *Instance) dequeueOutbound() (*OutboundMsg, bool) {
	pi.sendMu.Lock()
	defer pi.sendMu.Unlock()
	for len(pi.outbound) == 0 && !pi.closed {
		pi.sendCond.Wait()
	}
	if len(pi.outbound) == 0 {
		return nil, false
	}
	msg := pi.outbound[0]
	pi.outbound = pi.outbound[1:]
	return msg, true
}

// stopSender wakes the sender task so it can observe cancellation at its
// condition-variable suspension point (§5 "Cancellation").
func (pi *Instance) stopSender() {
	pi.sendMu.Lock()
	pi.closed = true
	pi.sendMu.Unlock()
	pi.sendCond.Broadcast()
}
