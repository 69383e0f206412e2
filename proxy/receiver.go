package proxy

import (
	"context"
	"encoding/json"
	"time"

	"github.com/embercore/poolgen/logging"
)

// maxReadRetries is the number of consecutive 5-second read timeouts the
// receiver tolerates (≈2 minutes total, §4.2 step 3) before declaring the
// upstream dead and reconnecting.
const maxReadRetries = 24

// reconnectBackoff is the pause between failed reconnect attempts (§4.4
// step 2).
const reconnectBackoff = 5 * time.Second

// RunReceiver runs the receiver task's endless loop (§4.2) until ctx is
// cancelled. It ages both registries, reads one upstream line per
// iteration, dispatches it, and reconnects on read failure.
func (pi *Instance) RunReceiver(ctx context.Context) error {
	retries := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		now := time.Now()
		pi.ageNotifies(now)
		for _, s := range pi.ageSharesAndAudit(now) {
			logging.Logger().WithField("share_id", s.ID).Warn("share aged out without a response")
		}

		line, err := pi.readWithDeadline()
		if err != nil {
			if isTimeout(err) {
				retries++
				if retries < maxReadRetries {
					continue
				}
				logging.Logger().Warn("upstream unresponsive for ~2 minutes, reconnecting")
			} else {
				logging.Logger().WithError(err).Warn("upstream read failed")
			}
			retries = 0
			if err := pi.reconnect(ctx); err != nil {
				return err
			}
			continue
		}
		retries = 0
		pi.touchLastMessage(time.Now())

		pi.dispatch(line)
	}
}

// readWithDeadline is the receiver's per-iteration read, arming the 5-second
// timeout of §4.2 step 3.
func (pi *Instance) readWithDeadline() (string, error) {
	return pi.readLine(pi.deadline5s)
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}

// dispatch is §4.2 steps 5–7: try parse_method, then parse_share, then give
// up and log.
func (pi *Instance) dispatch(line string) {
	if pi.parseMethod(json.RawMessage(line)) {
		if pi.notifd {
			pi.notifd = false
			pi.signal("notify")
		}
		if pi.diffed {
			pi.diffed = false
			pi.signal("diff")
		}
		return
	}

	if s, recognized := parseShare(pi, line); recognized {
		if s != nil {
			logging.Logger().WithField("share_id", s.ID).Debug("share response matched")
		}
		return
	}

	logging.Logger().WithField("message", line).Debug("unhandled message")
}

// reconnect is §4.4: drop all notifies, then loop connect/subscribe/
// authorize with a 5-second backoff between failures, until one succeeds or
// ctx is cancelled.
func (pi *Instance) reconnect(ctx context.Context) error {
	pi.clearNotifies()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		pi.closeConn()

		if err := pi.Connect(); err != nil {
			logging.Logger().WithError(err).Warn("reconnect: connect failed")
			if !sleepCtx(ctx, reconnectBackoff) {
				return ctx.Err()
			}
			continue
		}
		if err := pi.Subscribe(); err != nil {
			logging.Logger().WithError(err).Warn("reconnect: subscribe failed")
			if !sleepCtx(ctx, reconnectBackoff) {
				return ctx.Err()
			}
			continue
		}
		if err := pi.Authorize(); err != nil {
			logging.Logger().WithError(err).Warn("reconnect: authorize failed")
			if !sleepCtx(ctx, reconnectBackoff) {
				return ctx.Err()
			}
			continue
		}
		break
	}

	pi.countReconnect()
	pi.signal("subscribe")
	return nil
}

// signal delivers an outbound signal to the stratifier via the Notifier
// collaborator, if one was supplied (tests commonly omit it).
func (pi *Instance) signal(s string) {
	if pi.notifier != nil {
		pi.notifier.Notify(s)
	}
}

// sleepCtx sleeps for d or returns early (false) if ctx is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
