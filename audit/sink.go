// Package audit implements the share-outcome audit trail SPEC_FULL §4.11
// adds: a best-effort, non-blocking record of every ShareMsg's terminal
// outcome (matched or aged out), so an operator can inspect recent share
// history without routing results back to individual clients (spec.md §9
// still leaves that open).
package audit

import (
	"encoding/json"
	"time"

	"gopkg.in/redis.v3"

	"github.com/embercore/poolgen/config"
	"github.com/embercore/poolgen/logging"
)

// Outcome is one terminal ShareMsg event.
type Outcome struct {
	ShareID  uint32        `json:"share_id"`
	ClientID int64         `json:"client_id"`
	MsgID    int64         `json:"msg_id"`
	Result   string        `json:"result"` // "matched" or "aged_out"
	Latency  time.Duration `json:"latency_ns"`
}

// sinkBuffer bounds how many pending outcomes Record will buffer before it
// starts dropping newly recorded ones, so a stalled Redis connection can
// never make the generator's hot paths block.
const sinkBuffer = 1024

// Sink drains Outcomes onto a Redis list, or discards them if no Redis
// server is configured (§4.11: "if Redis is not configured the sink is a
// no-op").
type Sink struct {
	client *redis.Client
	key    string
	events chan Outcome
	done   chan struct{}
}

// NewSink builds a Sink from RedisConfig. If cfg.Addr is empty, the
// returned Sink's Record method is a no-op and no connection is made.
func NewSink(cfg config.RedisConfig) *Sink {
	s := &Sink{key: "poolgen:shares", events: make(chan Outcome, sinkBuffer), done: make(chan struct{})}
	if cfg.Addr == "" {
		close(s.done)
		return s
	}

	s.client = redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	go s.run()
	return s
}

// Record pushes an outcome for asynchronous delivery. It never blocks the
// caller (the receiver or sender task): a full buffer drops the event with
// a log line rather than applying backpressure.
func (s *Sink) Record(o Outcome) {
	if s.client == nil {
		return
	}
	select {
	case s.events <- o:
	default:
		logging.Logger().WithField("share_id", o.ShareID).Warn("audit sink buffer full, dropping event")
	}
}

func (s *Sink) run() {
	defer close(s.done)
	for o := range s.events {
		data, err := json.Marshal(o)
		if err != nil {
			continue
		}
		if err := s.client.RPush(s.key, string(data)).Err(); err != nil {
			logging.Logger().WithError(err).Warn("audit sink: RPush failed")
		}
	}
}

// Close stops accepting new events and waits for the drain loop to finish
// flushing what's already buffered.
func (s *Sink) Close() {
	if s.client == nil {
		return
	}
	close(s.events)
	<-s.done
	s.client.Close()
}
