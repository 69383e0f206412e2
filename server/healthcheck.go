package server

import (
	"github.com/robfig/cron"

	"github.com/embercore/poolgen/logging"
	"github.com/embercore/poolgen/rpcclient"
)

// StartHealthCheck re-probes every configured endpoint on schedule
// (SPEC_FULL §4.9, supplementing the spec's one-shot startup probe). It
// never changes which endpoint is live; it only updates each endpoint's
// Alive flag for diagnostics.
func (s *Server) StartHealthCheck(schedule string) (*cron.Cron, error) {
	if schedule == "" {
		return nil, nil
	}
	c := cron.New()
	err := c.AddFunc(schedule, s.probeAll)
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}

// probeAll re-dials and probes every configured endpoint independently of
// which one is currently active.
func (s *Server) probeAll() {
	for _, ep := range s.endpoints {
		alive := probeEndpoint(ep)
		ep.mu.Lock()
		changed := ep.alive != alive
		ep.alive = alive
		ep.mu.Unlock()

		if changed {
			logging.Logger().WithField("endpoint", ep.cfg.Name).WithField("alive", alive).Info("endpoint health changed")
		}
	}
}

func probeEndpoint(ep *endpointState) bool {
	client, err := rpcclient.Dial(ep.cfg.Host, ep.cfg.User, ep.cfg.Pass, ep.cfg.UseTLS, nil)
	if err != nil {
		return false
	}
	defer client.Shutdown()
	_, err = client.GetBlockCount()
	return err == nil
}

// Alive reports whether the named endpoint last probed successfully.
func (s *Server) Alive(name string) bool {
	for _, ep := range s.endpoints {
		if ep.cfg.Name == name {
			ep.mu.RLock()
			defer ep.mu.RUnlock()
			return ep.alive
		}
	}
	return false
}
