package proxy

import (
	"encoding/json"
	"strings"

	"github.com/embercore/poolgen/ipc"
	"github.com/embercore/poolgen/logging"
)

// RunEndpoint runs the request endpoint loop (§4.5): accept one stratifier
// request per connection on ln, dispatch by prefix, and reply. It returns
// nil once a "shutdown" request is received or ln.Close is called from
// elsewhere (§5 "Cancellation").
func (pi *Instance) RunEndpoint(ln *ipc.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			// Close() makes Accept return an error; treat that as the
			// cancellation signal rather than a failure (§5).
			return nil
		}

		shutdown := pi.handleRequest(conn)
		if shutdown {
			return nil
		}
	}
}

// handleRequest serves exactly one stratifier request and reports whether
// it was a shutdown request.
func (pi *Instance) handleRequest(conn *ipc.Conn) bool {
	req, err := conn.Recv()
	if err != nil {
		logging.Logger().WithError(err).Warn("reading stratifier request")
		conn.Close()
		return false
	}
	req = strings.TrimSpace(req)

	switch {
	case req == "shutdown":
		conn.Close()
		return true

	case req == "getsubscribe":
		enonce1, nonce2Len := pi.Enonce1()
		reply, _ := json.Marshal(struct {
			Enonce1   string `json:"enonce1"`
			Nonce2Len int    `json:"nonce2len"`
		}{enonce1, nonce2Len})
		pi.reply(conn, string(reply))

	case req == "getnotify":
		if reply, ok := pi.CurrentNotifyJSON(); ok {
			pi.reply(conn, string(reply))
		} else {
			pi.reply(conn, "{}")
		}

	case req == "getdiff":
		reply, _ := json.Marshal(struct {
			Diff float64 `json:"diff"`
		}{pi.Diff()})
		pi.reply(conn, string(reply))

	case req == "ping":
		pi.reply(conn, "pong")

	case strings.HasPrefix(req, "{"):
		pi.submitShare(conn, req)

	default:
		logging.Logger().WithField("request", req).Warn("unrecognised message")
		conn.Close()
	}

	return false
}

func (pi *Instance) reply(conn *ipc.Conn, body string) {
	if err := conn.Send(body); err != nil {
		logging.Logger().WithError(err).Warn("replying to stratifier request")
	}
}

// submitShare implements §4.5's "share submission": extract client_id/msg_id,
// allocate a ShareMsg, overwrite the id field, and enqueue for the sender.
// No reply is sent (§6).
func (pi *Instance) submitShare(conn *ipc.Conn, body string) {
	defer conn.Close()

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		logging.Logger().WithError(err).Warn("share submission not valid json")
		return
	}

	var clientID, msgID, jobID int64
	var nonce2, ntime, nonce string
	for k, v := range raw {
		switch k {
		case "client_id":
			json.Unmarshal(v, &clientID)
		case "msg_id":
			json.Unmarshal(v, &msgID)
		case "jobid":
			json.Unmarshal(v, &jobID)
		case "nonce2":
			json.Unmarshal(v, &nonce2)
		case "ntime":
			json.Unmarshal(v, &ntime)
		case "nonce":
			json.Unmarshal(v, &nonce)
		}
	}

	share := pi.insertShare(clientID, msgID)
	pi.enqueueOutbound(&OutboundMsg{
		JobID:  uint32(jobID),
		Nonce2: nonce2,
		NTime:  ntime,
		Nonce:  nonce,
		ID:     share.ID,
	})
	pi.countShare()
}
