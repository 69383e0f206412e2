package proxy

import (
	"context"

	"github.com/embercore/poolgen/logging"
)

// RunSender runs the sender task's endless loop (§4.3) until stopSender is
// called or ctx is cancelled. Each iteration dequeues one outbound share,
// resolves its job against the notify registry, and transmits a
// mining.submit.
func (pi *Instance) RunSender(ctx context.Context) {
	for {
		msg, ok := pi.dequeueOutbound()
		if !ok {
			return
		}
		if ctx.Err() != nil {
			return
		}
		pi.sendShare(msg)
	}
}

// sendShare is §4.3 steps 2–5: resolve the local jobid against the notify
// registry and submit, or drop the share with a warning if the job has
// already been evicted.
func (pi *Instance) sendShare(msg *OutboundMsg) {
	ni, ok := pi.lookupNotify(msg.JobID)
	if !ok {
		err := wrap(ErrStale, "jobid %d: no matching notify (evicted or unknown)", msg.JobID)
		logging.Logger().WithError(err).Warn("dropping share for evicted job")
		return
	}

	req := Request{
		ID:     uint64(msg.ID),
		Method: "mining.submit",
		Params: []string{pi.auth, ni.UpstreamJobID, msg.Nonce2, msg.NTime, msg.Nonce},
	}
	if err := pi.writeRequest(req); err != nil {
		logging.Logger().WithError(err).Warn("share transport failure, closing connection")
		pi.closeConn()
	}
}
