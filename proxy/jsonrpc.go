package proxy

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Request is one JSON-RPC message sent upstream. Every message the
// generator sends carries an integer id and method; params is always an
// array (spec.md §6).
type Request struct {
	ID     uint64      `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params"`
}

// inboundMsg is the generic shape of anything read from upstream: either a
// response to one of our requests (Result/Error set, Method empty) or a
// server-pushed notification/method call (Method set).
type inboundMsg struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

// nextID returns the next monotonically increasing upstream JSON-RPC id.
func (pi *Instance) nextID() uint64 {
	return pi.reqID.Add(1)
}

// writeRequest marshals req, appends a newline, and writes it to the current
// connection. Returns ErrTransport on write failure (§7 Transport).
func (pi *Instance) writeRequest(req Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return wrap(ErrProtocol, "marshaling %s request: %v", req.Method, err)
	}
	data = append(data, '\n')

	pi.connMu.RLock()
	conn := pi.conn
	pi.connMu.RUnlock()
	if conn == nil {
		return wrap(ErrTransport, "not connected")
	}
	if _, err := conn.Write(data); err != nil {
		return wrap(ErrTransport, "writing %s request: %v", req.Method, err)
	}
	return nil
}

// readLine reads one newline-delimited message from the current connection,
// honoring the given per-read deadline (§4.2 "5-second timeout").
func (pi *Instance) readLine(deadline func() error) (string, error) {
	pi.connMu.RLock()
	conn := pi.conn
	reader := pi.reader
	pi.connMu.RUnlock()
	if conn == nil || reader == nil {
		return "", wrap(ErrConnect, "not connected")
	}
	if deadline != nil {
		if err := deadline(); err != nil {
			return "", err
		}
	}
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// msgResult parses line as a JSON-RPC response and returns its non-null
// result, equivalent to ckpool's json_msg_result: a non-nil error is a
// protocol failure, not an upstream application error, since upstream
// errors are reported via the "error" field which this treats as
// ErrProtocol too (the generator has no way to act on an RPC-level error
// other than treating the attempt as failed).
func msgResult(line string) (json.RawMessage, error) {
	var msg inboundMsg
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		return nil, wrap(ErrProtocol, "decoding json-rpc message: %v", err)
	}
	if len(msg.Error) > 0 && !bytes.Equal(bytes.TrimSpace(msg.Error), []byte("null")) {
		return nil, wrap(ErrProtocol, "upstream returned error: %s", msg.Error)
	}
	if len(msg.Result) == 0 || bytes.Equal(bytes.TrimSpace(msg.Result), []byte("null")) {
		return nil, wrap(ErrProtocol, "message has no non-null result field")
	}
	return msg.Result, nil
}

// findNotify performs a depth-first search of a JSON array for the first
// nested array whose element 0 is a string case-insensitively equal to
// "mining.notify" (spec.md §4.1 subscribe reply parsing; mirrors ckpool's
// find_notify, which recurses because different pools nest the notify
// descriptor at different depths inside the subscribe result).
func findNotify(raw json.RawMessage) ([]json.RawMessage, bool) {
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil {
		return nil, false
	}
	if len(arr) > 0 {
		var head string
		if json.Unmarshal(arr[0], &head) == nil && strings.EqualFold(head, "mining.notify") {
			return arr, true
		}
	}
	for _, elem := range arr {
		if found, ok := findNotify(elem); ok {
			return found, true
		}
	}
	return nil, false
}
