// Package metrics exposes the generator's read-only status surface
// (SPEC_FULL §4.10): counters for notifies, shares, age-outs, and
// reconnects, served over HTTP, plus an optional New Relic agent that reports
// Go runtime metrics (the counters themselves are not forwarded to New
// Relic). This is observability, not the logging spec.md's Non-goals exclude.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/yvasiyarov/gorelic"
)

// Counters tracks the running totals this module reports. All fields are
// updated with atomic operations so any task (receiver, sender, endpoint
// loop) can record an event without its own lock.
type Counters struct {
	Notifies   uint64
	Shares     uint64
	NotifyAges uint64
	ShareAges  uint64
	Reconnects uint64

	// lastMessageNano is the UnixNano of the last line successfully read
	// from upstream, whether or not it parsed (SPEC_FULL §3's supplemental
	// "lastMessage" field,
	// surfaced here as the operator-facing health gauge). Zero means no
	// message has been recorded yet.
	lastMessageNano int64
}

func (c *Counters) IncNotifies()   { atomic.AddUint64(&c.Notifies, 1) }
func (c *Counters) IncShares()     { atomic.AddUint64(&c.Shares, 1) }
func (c *Counters) IncNotifyAges() { atomic.AddUint64(&c.NotifyAges, 1) }
func (c *Counters) IncShareAges()  { atomic.AddUint64(&c.ShareAges, 1) }
func (c *Counters) IncReconnects() { atomic.AddUint64(&c.Reconnects, 1) }

// SetLastMessage records the time of the most recent upstream message.
func (c *Counters) SetLastMessage(t time.Time) {
	atomic.StoreInt64(&c.lastMessageNano, t.UnixNano())
}

// snapshot is the JSON shape served at GET /status.
type snapshot struct {
	Notifies                uint64  `json:"notifies"`
	Shares                  uint64  `json:"shares"`
	NotifyAges              uint64  `json:"notify_ageouts"`
	ShareAges               uint64  `json:"share_ageouts"`
	Reconnects              uint64  `json:"reconnects"`
	SecondsSinceLastMessage float64 `json:"seconds_since_last_message"`
}

func (c *Counters) snapshot() snapshot {
	s := snapshot{
		Notifies:   atomic.LoadUint64(&c.Notifies),
		Shares:     atomic.LoadUint64(&c.Shares),
		NotifyAges: atomic.LoadUint64(&c.NotifyAges),
		ShareAges:  atomic.LoadUint64(&c.ShareAges),
		Reconnects: atomic.LoadUint64(&c.Reconnects),
	}
	if nano := atomic.LoadInt64(&c.lastMessageNano); nano != 0 {
		s.SecondsSinceLastMessage = time.Since(time.Unix(0, nano)).Seconds()
	} else {
		s.SecondsSinceLastMessage = -1
	}
	return s
}

// Server is the HTTP status endpoint plus, optionally, a New Relic agent
// reporting Go runtime metrics (see EnableNewRelic).
type Server struct {
	counters *Counters
	http     *http.Server
	agent    *gorelic.Agent
}

// NewServer builds the status HTTP handler bound to listen.
func NewServer(listen string, counters *Counters) *Server {
	r := mux.NewRouter()
	s := &Server{counters: counters}
	r.HandleFunc("/status", s.handleStatus).Methods("GET")
	s.http = &http.Server{Addr: listen, Handler: r}
	return s
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.counters.snapshot())
}

// Serve starts the HTTP status endpoint; it blocks until the listener is
// closed (mirrors net/http.Server.ListenAndServe's contract).
func (s *Server) Serve() error {
	return s.http.ListenAndServe()
}

// Close shuts down the HTTP listener.
func (s *Server) Close() error {
	return s.http.Close()
}

// EnableNewRelic starts the gorelic agent, which reports Go runtime metrics
// (GC pauses, goroutine counts, memory) to New Relic on its own internal
// schedule. The generator's own counters stay on the /status surface above;
// gorelic's component-metric API is aimed at web-request instrumentation
// the generator doesn't have, so only runtime metrics are forwarded.
func (s *Server) EnableNewRelic(name, key string, verbose bool) error {
	agent := gorelic.NewAgent()
	agent.Verbose = verbose
	agent.NewrelicLicense = key
	agent.NewrelicName = name
	if err := agent.Run(); err != nil {
		return err
	}
	s.agent = agent
	return nil
}
