// Package server implements server mode (spec.md §1/§2): the generator
// bridges the stratifier to a bitcoind-compatible JSON-RPC endpoint instead
// of an upstream stratum pool. This is the peripheral 15% of the generator
// the spec budgets for.
package server

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/embercore/poolgen/config"
	"github.com/embercore/poolgen/ipc"
	"github.com/embercore/poolgen/logging"
	"github.com/embercore/poolgen/rpcclient"
)

// Server is one server-mode session: a live bitcoind RPC connection plus
// the health-checked roster of every configured endpoint (§4.9).
type Server struct {
	mu       sync.RWMutex
	active   *rpcclient.Client
	payout   string
	notifier Notifier

	endpoints []*endpointState
}

// Notifier delivers the "update" signal (§6: "on successful block
// submission") to the stratifier.
type Notifier interface {
	Notify(signal string)
}

type endpointState struct {
	cfg   config.RPCEndpoint
	mu    sync.RWMutex
	alive bool
}

// Start enumerates every configured endpoint, attempts the full RPC
// handshake on each (a GetBlockCount probe), and commits to the first that
// succeeds (§4.7). If a payout address is configured it is validated
// against the committed endpoint.
func Start(cfg *config.ServerConfig, notifier Notifier) (*Server, error) {
	s := &Server{payout: cfg.PayoutAddress, notifier: notifier}
	for _, ep := range cfg.Endpoints {
		s.endpoints = append(s.endpoints, &endpointState{cfg: ep})
	}

	var lastErr error
	for _, ep := range s.endpoints {
		client, err := rpcclient.Dial(ep.cfg.Host, ep.cfg.User, ep.cfg.Pass, ep.cfg.UseTLS, nil)
		if err != nil {
			logging.Logger().WithError(err).WithField("endpoint", ep.cfg.Name).Warn("server startup: dial failed")
			lastErr = err
			continue
		}
		if _, err := client.GetBlockCount(); err != nil {
			logging.Logger().WithError(err).WithField("endpoint", ep.cfg.Name).Warn("server startup: probe failed")
			lastErr = err
			continue
		}
		ep.mu.Lock()
		ep.alive = true
		ep.mu.Unlock()

		s.mu.Lock()
		s.active = client
		s.mu.Unlock()

		if cfg.PayoutAddress != "" {
			if _, err := client.ValidateAddress(cfg.PayoutAddress); err != nil {
				logging.Logger().WithError(err).Warn("configured payout address failed validation")
			}
		}
		logging.Logger().WithField("endpoint", ep.cfg.Name).Info("connected to RPC endpoint")
		return s, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no RPC endpoints configured")
	}
	return nil, fmt.Errorf("server startup: no endpoint available: %w", lastErr)
}

func (s *Server) client() *rpcclient.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// RunEndpoint serves the server-mode request protocol (§6) over ln.
func (s *Server) RunEndpoint(ln *ipc.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return nil
		}
		if s.handleRequest(conn) {
			return nil
		}
	}
}

func (s *Server) handleRequest(conn *ipc.Conn) (shutdown bool) {
	req, err := conn.Recv()
	if err != nil {
		logging.Logger().WithError(err).Warn("reading stratifier request")
		conn.Close()
		return false
	}
	req = strings.TrimSpace(req)

	client := s.client()
	switch {
	case req == "shutdown":
		conn.Close()
		return true

	case req == "ping":
		s.reply(conn, "pong")

	case req == "getbase":
		tmpl, err := client.GetBlockTemplate(nil)
		if err != nil {
			logging.Logger().WithError(err).Warn("getbase failed")
			s.reply(conn, "Failed")
			return false
		}
		data, _ := json.Marshal(tmpl)
		s.reply(conn, string(data))

	case req == "getbest":
		hash, err := client.GetBestBlockHash()
		if err != nil {
			s.reply(conn, "Failed")
			return false
		}
		s.reply(conn, hash.String())

	case req == "getlast":
		count, err := client.GetBlockCount()
		if err != nil {
			s.reply(conn, "Failed")
			return false
		}
		hash, err := client.GetBlockHash(count)
		if err != nil {
			s.reply(conn, "Failed")
			return false
		}
		s.reply(conn, hash.String())

	case strings.HasPrefix(req, "submitblock:"):
		blockHex := strings.TrimPrefix(req, "submitblock:")
		if _, err := hex.DecodeString(blockHex); err != nil {
			logging.Logger().WithError(err).Warn("submitblock: not hex")
			conn.Close()
			return false
		}
		if err := client.SubmitBlock(blockHex); err != nil {
			logging.Logger().WithError(err).Warn("submitblock failed")
			conn.Close()
			return false
		}
		conn.Close()
		if s.notifier != nil {
			s.notifier.Notify("update")
		}

	default:
		logging.Logger().WithField("request", req).Warn("unrecognised message")
		conn.Close()
	}
	return false
}

func (s *Server) reply(conn *ipc.Conn, body string) {
	if err := conn.Send(body); err != nil {
		logging.Logger().WithError(err).Warn("replying to stratifier request")
	}
}
