package proxy

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/embercore/poolgen/logging"
)

// readTimeout is the per-line deadline used while establishing a session
// (§4.1), the same 5-second budget the receiver uses once running (§4.2).
const readTimeout = 5 * time.Second

// Connect opens a TCP connection to the upstream pool and enables
// keepalive (§4.1 "connect"). Failure is always ErrConnect.
func (pi *Instance) Connect() error {
	conn, err := net.DialTimeout("tcp", pi.url, 10*time.Second)
	if err != nil {
		return wrap(ErrConnect, "dialing %s: %v", pi.url, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAlive(true)
		_ = tc.SetKeepAlivePeriod(30 * time.Second)
	}

	pi.connMu.Lock()
	pi.conn = conn
	pi.reader = bufio.NewReader(conn)
	pi.connMu.Unlock()
	return nil
}

// closeConn tears down the current connection, if any, without touching
// session state (used both by subscribe's internal retries and by the
// reconnect procedure, §4.4 step 2).
func (pi *Instance) closeConn() {
	pi.connMu.Lock()
	conn := pi.conn
	pi.conn = nil
	pi.reader = nil
	pi.connMu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// deadline5s arms a 5-second read deadline on the current connection,
// matching ckpool's read_socket_line(cs, 5) used throughout session setup.
func (pi *Instance) deadline5s() error {
	pi.connMu.RLock()
	conn := pi.conn
	pi.connMu.RUnlock()
	if conn == nil {
		return wrap(ErrConnect, "not connected")
	}
	return conn.SetReadDeadline(time.Now().Add(readTimeout))
}

// Subscribe negotiates extranonce parameters via mining.subscribe, with the
// three-attempt sessionid/params/no-params fallback ladder of §4.1. It owns
// reconnecting between attempts, since each attempt requires a fresh socket
// (ckpool's subscribe_stratum).
func (pi *Instance) Subscribe() error {
	for {
		var params interface{}
		switch {
		case pi.sessionID != "" && !pi.noSession:
			params = []string{pi.clientVersion, pi.sessionID}
		case !pi.noParams:
			params = []string{pi.clientVersion}
		default:
			params = []string{}
		}

		req := Request{ID: pi.nextID(), Method: "mining.subscribe", Params: params}
		if err := pi.writeRequest(req); err != nil {
			return err
		}

		err := pi.parseSubscribeReply()
		if err == nil {
			return nil
		}
		logging.Logger().WithError(err).Warn("subscribe attempt failed")

		pi.closeConn()
		if pi.noParams {
			return wrap(ErrProtocol, "subscribe: exhausted all fallback options: %v", err)
		}
		if pi.sessionID != "" && !pi.noSession {
			pi.noSession = true
			pi.sessionID = ""
		} else {
			pi.noParams = true
		}
		if cerr := pi.Connect(); cerr != nil {
			return wrap(ErrConnect, "subscribe: reconnecting for next attempt: %v", cerr)
		}
	}
}

// parseSubscribeReply reads and parses one mining.subscribe response,
// implementing §4.1's "reply parsing" and §4.6's enonce1/nonce2len bounds.
func (pi *Instance) parseSubscribeReply() error {
	if err := pi.deadline5s(); err != nil {
		return err
	}
	line, err := pi.readLine(nil)
	if err != nil {
		return wrap(ErrConnect, "reading subscribe reply: %v", err)
	}
	return pi.parseSubscribeReplyFromLine(line)
}

// parseSubscribeReplyFromLine does the actual parsing/validation once a line
// has been read, split out from parseSubscribeReply so it can be exercised
// directly in tests without a live connection.
func (pi *Instance) parseSubscribeReplyFromLine(line string) error {
	result, err := msgResult(line)
	if err != nil {
		return err
	}

	var arr []json.RawMessage
	if err := json.Unmarshal(result, &arr); err != nil {
		return wrap(ErrProtocol, "subscribe result not an array: %v", err)
	}
	if len(arr) < 3 {
		return wrap(ErrProtocol, "subscribe result array too small (%d)", len(arr))
	}

	if notify, ok := findNotify(result); ok && !pi.noParams && !pi.noSession && len(notify) > 1 {
		var sessionID string
		if json.Unmarshal(notify[1], &sessionID) == nil && sessionID != "" {
			pi.sessionID = sessionID
		}
	}

	var enonce1 string
	if err := json.Unmarshal(arr[1], &enonce1); err != nil || enonce1 == "" {
		return wrap(ErrProtocol, "subscribe: invalid enonce1")
	}
	enonce1Bin, err := hex.DecodeString(enonce1)
	if err != nil {
		return wrap(ErrProtocol, "subscribe: enonce1 not hex: %v", err)
	}
	if len(enonce1Bin) > 15 {
		return wrap(ErrProtocol, "subscribe: enonce1 too long at %d bytes", len(enonce1Bin))
	}

	var nonce2Len int
	if err := json.Unmarshal(arr[2], &nonce2Len); err != nil {
		return wrap(ErrProtocol, "subscribe: invalid nonce2len")
	}
	if nonce2Len < 1 || nonce2Len > 8 {
		return wrap(ErrProtocol, "subscribe: nonce2len %d out of range", nonce2Len)
	}
	if nonce2Len < 4 {
		return wrap(ErrProtocol, "subscribe: nonce2len %d too small to proxy", nonce2Len)
	}

	pi.connMu.Lock()
	pi.enonce1 = enonce1
	pi.enonce1Bin = enonce1Bin
	pi.nonce2Len = nonce2Len
	pi.connMu.Unlock()
	return nil
}

// Authorize sends mining.authorize and classifies any server-pushed methods
// interleaved before the response (§4.1 "authorize").
func (pi *Instance) Authorize() error {
	req := Request{ID: pi.nextID(), Method: "mining.authorize", Params: []string{pi.auth, pi.pass}}
	if err := pi.writeRequest(req); err != nil {
		return err
	}

	var line string
	for {
		if err := pi.deadline5s(); err != nil {
			return err
		}
		l, err := pi.readLine(nil)
		if err != nil {
			return wrap(ErrConnect, "reading authorize reply: %v", err)
		}
		line = l
		if !pi.parseMethod(json.RawMessage(line)) {
			break
		}
	}

	result, err := msgResult(line)
	if err != nil {
		return wrap(ErrAuth, "authorize: %v", err)
	}
	var ok bool
	if err := json.Unmarshal(result, &ok); err != nil || !ok {
		return wrap(ErrAuth, "authorize: upstream returned false")
	}
	return nil
}

// parseMethod is parse_method (§4.1): classify and dispatch one inbound
// message by its "method" field. It returns true when the message was a
// recognized server-pushed method (so callers like Authorize know to keep
// reading), false when it should be treated as something else (an RPC
// response, or an unrecognized/malformed message).
func (pi *Instance) parseMethod(raw json.RawMessage) bool {
	var msg inboundMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return false
	}
	if msg.Method == "" {
		return false
	}
	if len(msg.Error) > 0 && !jsonIsNull(msg.Error) {
		logging.Logger().WithField("error", string(msg.Error)).Info("method reply carried an error")
		return false
	}

	switch {
	case strings.EqualFold(msg.Method, "mining.notify"):
		return pi.handleNotify(msg.Params)
	case strings.EqualFold(msg.Method, "mining.set_difficulty"):
		return pi.handleSetDifficulty(msg.Params)
	case strings.EqualFold(msg.Method, "client.reconnect"):
		// Open question §9: treated as a no-op placeholder, matching
		// ckpool's parse_reconnect macro.
		return true
	case strings.EqualFold(msg.Method, "client.get_version"):
		return pi.replyVersion(msg.ID)
	case strings.EqualFold(msg.Method, "client.show_message"):
		return pi.showMessage(msg.Params)
	default:
		return false
	}
}

// handleSetDifficulty is the mining.set_difficulty arm of parse_method
// (§4.1): ignore a zero or unchanged difficulty, otherwise update it and set
// the diffed flag for the receiver to signal on.
func (pi *Instance) handleSetDifficulty(params json.RawMessage) bool {
	var vals []float64
	if err := json.Unmarshal(params, &vals); err != nil || len(vals) < 1 {
		return false
	}
	d := vals[0]
	if d <= 0 {
		return true
	}

	pi.diffMu.Lock()
	changed := d != pi.diff
	pi.diff = d
	pi.diffMu.Unlock()

	if changed {
		pi.diffed = true
	}
	return true
}

// replyVersion answers client.get_version in place (§4.1).
func (pi *Instance) replyVersion(id json.RawMessage) bool {
	resp := struct {
		ID     json.RawMessage `json:"id"`
		Result string          `json:"result"`
		Error  interface{}     `json:"error"`
	}{ID: id, Result: pi.clientVersion}
	data, err := json.Marshal(resp)
	if err != nil {
		return false
	}
	data = append(data, '\n')

	pi.connMu.RLock()
	conn := pi.conn
	pi.connMu.RUnlock()
	if conn == nil {
		return false
	}
	_, err = conn.Write(data)
	return err == nil
}

// showMessage is the client.show_message arm of parse_method: just log it.
func (pi *Instance) showMessage(params json.RawMessage) bool {
	var arr []string
	if err := json.Unmarshal(params, &arr); err != nil || len(arr) == 0 {
		logging.Logger().WithField("params", string(params)).Info("show_message")
		return true
	}
	logging.Logger().Info(strings.Join(arr, " "))
	return true
}

func jsonIsNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

// parseShare matches a response line against the share registry by its
// integer "id" field (§4.2 step 6 / ckpool's parse_share). recognized is
// true whenever the line carried a share-response-shaped id at all, whether
// or not it matched a pending share; share is non-nil only on a match. A
// recognized id with no match is a stale response — the share already aged
// out, or upstream answered twice (§7 Stale) — and is logged as such rather
// than falling through to dispatch's "unhandled message" path.
func parseShare(pi *Instance, line string) (share *ShareMsg, recognized bool) {
	var msg inboundMsg
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		return nil, false
	}
	if len(msg.ID) == 0 {
		return nil, false
	}
	id, err := strconv.ParseUint(strings.TrimSpace(string(msg.ID)), 10, 32)
	if err != nil {
		return nil, false
	}
	share, ok := pi.removeShare(uint32(id))
	if !ok {
		logging.Logger().WithError(wrap(ErrStale, "share id %d: no pending share", id)).Warn("stale share response")
		return nil, true
	}
	pi.recordOutcome(share, "matched")
	return share, true
}
