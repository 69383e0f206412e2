// Package proxy implements proxy mode (spec.md §2): the upstream stratum
// session, the concurrent receiver/sender tasks, the notify and share
// registries, and the stratifier-facing request endpoint loop. This is the
// hard 85% of the generator the spec budgets for (spec.md §2 table).
package proxy

import (
	"bufio"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/embercore/poolgen/audit"
	"github.com/embercore/poolgen/metrics"
)

// Notifier delivers one of the outbound signals named in spec.md §6
// ("subscribe", "notify", "diff", "shutdown") to the stratifier. The
// stratifier itself, and the channel used to reach it, are external
// collaborators (spec.md §1); this interface is the seam.
type Notifier interface {
	Notify(signal string)
}

// Instance is one upstream stratum pool session: spec.md §3's
// ProxyInstance. There is exactly one live Instance per process in proxy
// mode (spec.md §9 "Global mutable state" — passed explicitly rather than
// held as a package-level singleton).
type Instance struct {
	conn   net.Conn
	reader *bufio.Reader

	url           string
	clientVersion string

	auth string
	pass string

	// Negotiated session state (§3, §4.1).
	enonce1    string
	enonce1Bin []byte
	nonce2Len  int
	sessionID  string
	noSession  bool // no_sessionid
	noParams   bool // no_params

	diffMu sync.RWMutex
	diff   float64
	diffed bool
	notifd bool // "notified" in spec.md; renamed to avoid shadowing notify.go's receiver name

	reqID atomic.Uint64 // monotonic upstream JSON-RPC id counter (§3)

	notifyMu  sync.Mutex
	notifies  map[uint32]*NotifyInstance
	currentID uint32
	haveCur   bool
	nextNID   uint32

	shareMu sync.Mutex
	shares  map[uint32]*ShareMsg
	nextSID uint32

	sendMu   sync.Mutex
	sendCond *sync.Cond
	outbound []*OutboundMsg
	closed   bool

	notifier Notifier
	audit    *audit.Sink
	counters *metrics.Counters

	// connMu guards conn/reader replacement across reconnects so the
	// sender and receiver never read a half-swapped connection.
	connMu sync.RWMutex
}

// SetAuditSink attaches the share audit sink (SPEC_FULL §4.11). A nil or
// unset sink means outcomes are simply not recorded.
func (pi *Instance) SetAuditSink(s *audit.Sink) {
	pi.audit = s
}

// SetMetrics attaches the status counters (SPEC_FULL §4.10). A nil or unset
// counters means events simply aren't counted.
func (pi *Instance) SetMetrics(c *metrics.Counters) {
	pi.counters = c
}

func (pi *Instance) recordOutcome(s *ShareMsg, result string) {
	if pi.audit == nil || s == nil {
		return
	}
	pi.audit.Record(audit.Outcome{
		ShareID:  s.ID,
		ClientID: s.ClientID,
		MsgID:    s.MsgID,
		Result:   result,
		Latency:  time.Since(s.SubmitTime),
	})
}

func (pi *Instance) countNotify() {
	if pi.counters != nil {
		pi.counters.IncNotifies()
	}
}

func (pi *Instance) countShare() {
	if pi.counters != nil {
		pi.counters.IncShares()
	}
}

func (pi *Instance) countNotifyAge() {
	if pi.counters != nil {
		pi.counters.IncNotifyAges()
	}
}

func (pi *Instance) countShareAge() {
	if pi.counters != nil {
		pi.counters.IncShareAges()
	}
}

func (pi *Instance) countReconnect() {
	if pi.counters != nil {
		pi.counters.IncReconnects()
	}
}

func (pi *Instance) touchLastMessage(t time.Time) {
	if pi.counters != nil {
		pi.counters.SetLastMessage(t)
	}
}

// NotifyInstance is one upstream mining.notify snapshot (spec.md §3). Once
// inserted into the registry its fields are immutable until removal.
type NotifyInstance struct {
	ID            uint32
	UpstreamJobID string

	Coinbase1 string
	Coinbase2 string

	PrevHash string // 64 hex chars (+ NUL in the C original; Go strings don't need the NUL)
	Merkles  []string

	BBVersion string
	NBit      string
	NTime     string
	Clean     bool

	NotifyTime time.Time
}

// ShareMsg is a pending share awaiting an upstream mining.submit response
// (spec.md §3).
type ShareMsg struct {
	ID         uint32
	ClientID   int64
	MsgID      int64
	SubmitTime time.Time
}

// OutboundMsg holds the fields extracted from one share submission (local
// jobid, nonce2, ntime, nonce and the assigned share id) pending translation
// and transmission by the sender task (spec.md §3).
type OutboundMsg struct {
	JobID uint32
	Nonce2 string
	NTime  string
	Nonce  string
	ID     uint32
}

// New constructs an Instance bound to one upstream pool. Connect/Subscribe/
// Authorize must be called, in that order, before the receiver, sender and
// endpoint tasks are started.
func New(url, clientVersion, auth, pass string, notifier Notifier) *Instance {
	pi := &Instance{
		url:           url,
		clientVersion: clientVersion,
		auth:          auth,
		pass:          pass,
		notifies:      make(map[uint32]*NotifyInstance),
		shares:        make(map[uint32]*ShareMsg),
		notifier:      notifier,
	}
	pi.sendCond = sync.NewCond(&pi.sendMu)
	return pi
}

// Enonce1 returns the negotiated extranonce1 hex string and the negotiated
// nonce2 length, used to answer "getsubscribe" (§4.5).
func (pi *Instance) Enonce1() (hex string, nonce2Len int) {
	pi.connMu.RLock()
	defer pi.connMu.RUnlock()
	return pi.enonce1, pi.nonce2Len
}

// Diff returns the most recently negotiated difficulty (§4.5 "getdiff").
func (pi *Instance) Diff() float64 {
	pi.diffMu.RLock()
	defer pi.diffMu.RUnlock()
	return pi.diff
}
