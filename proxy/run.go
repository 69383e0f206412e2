package proxy

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/embercore/poolgen/audit"
	"github.com/embercore/poolgen/config"
	"github.com/embercore/poolgen/ipc"
	"github.com/embercore/poolgen/logging"
	"github.com/embercore/poolgen/metrics"
)

// Run drives one upstream connection through startup (§4.7) and then the
// three long-lived tasks (§5): receiver, sender, and the stratifier-facing
// request endpoint loop. It returns once shutdown is requested or ctx is
// cancelled, after every task has been joined. sink and counters may both be
// nil, in which case share outcomes (§4.11) and status counters (§4.10) are
// simply not recorded.
func Run(ctx context.Context, cfg *config.Config, notifier Notifier, sink *audit.Sink, counters *metrics.Counters) error {
	pi, err := startFirstAvailable(cfg.Proxy.Upstreams, cfg.ClientVersion, notifier)
	if err != nil {
		return wrap(ErrFatal, "proxy startup: %v", err)
	}
	pi.SetAuditSink(sink)
	pi.SetMetrics(counters)

	ln, err := ipc.Listen(cfg.Socket)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	g.Go(func() error {
		return pi.RunReceiver(runCtx)
	})
	g.Go(func() error {
		pi.RunSender(runCtx)
		return nil
	})
	g.Go(func() error {
		// RunEndpoint returns nil both on a "shutdown" request and when ln
		// is closed out from under it; either way the other two tasks need
		// to be told to stop, since a nil return never cancels gctx on its
		// own (§4.5/§6 "shutdown terminates the proxy").
		err := pi.RunEndpoint(ln)
		cancel()
		pi.stopSender()
		return err
	})

	// If the outer ctx is cancelled (or a task errors) before a shutdown
	// request arrives, unblock the endpoint loop's Accept and the sender's
	// condition-variable wait the same way.
	go func() {
		<-runCtx.Done()
		ln.Close()
		pi.stopSender()
	}()

	err = g.Wait()
	cancel()
	ln.Close()
	pi.stopSender()
	if err != nil && err != context.Canceled {
		logging.Logger().WithError(err).Warn("proxy run exited with error")
		return err
	}
	return nil
}

// startFirstAvailable attempts the full connect/subscribe/authorize
// handshake against each configured upstream in order and commits to the
// first that succeeds (§4.7). If none succeed it returns the last upstream's
// handshake error (an ErrFatal-wrapped error only when the list is empty);
// Run wraps whatever it returns with ErrFatal.
func startFirstAvailable(upstreams []config.Upstream, clientVersion string, notifier Notifier) (*Instance, error) {
	var lastErr error
	for _, u := range upstreams {
		pi := New(u.URL, clientVersion, u.Auth, u.Pass, notifier)
		if err := pi.Connect(); err != nil {
			logging.Logger().WithError(err).WithField("upstream", u.Name).Warn("startup connect failed")
			lastErr = err
			continue
		}
		if err := pi.Subscribe(); err != nil {
			logging.Logger().WithError(err).WithField("upstream", u.Name).Warn("startup subscribe failed")
			pi.closeConn()
			lastErr = err
			continue
		}
		if err := pi.Authorize(); err != nil {
			logging.Logger().WithError(err).WithField("upstream", u.Name).Warn("startup authorize failed")
			pi.closeConn()
			lastErr = err
			continue
		}
		logging.Logger().WithField("upstream", u.Name).Info("connected to upstream")
		return pi, nil
	}
	if lastErr == nil {
		lastErr = wrap(ErrFatal, "no upstreams configured")
	}
	return nil, lastErr
}
