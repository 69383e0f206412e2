package server

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/embercore/poolgen/config"
	"github.com/embercore/poolgen/ipc"
)

type recordingNotifier struct {
	signals []string
}

func (r *recordingNotifier) Notify(signal string) {
	r.signals = append(r.signals, signal)
}

func TestStartFailsWithNoReachableEndpoint(t *testing.T) {
	cfg := &config.ServerConfig{
		Endpoints: []config.RPCEndpoint{{Name: "dead", Host: "127.0.0.1:1"}},
	}
	if _, err := Start(cfg, nil); err == nil {
		t.Fatal("expected an error when no endpoint is reachable")
	}
}

func TestRunEndpointPingAndShutdown(t *testing.T) {
	s := &Server{}
	dir := t.TempDir()
	path := filepath.Join(dir, "server.sock")
	ln, err := ipc.Listen(path)
	if err != nil {
		t.Fatalf("ipc.Listen: %v", err)
	}
	defer ln.Close()

	done := make(chan error, 1)
	go func() { done <- s.RunEndpoint(ln) }()

	conn, err := ipc.Dial(path)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Write([]byte("ping"))
	conn.(interface{ CloseWrite() error }).CloseWrite()
	buf := make([]byte, 16)
	n, _ := conn.Read(buf)
	conn.Close()
	if string(buf[:n]) != "pong" {
		t.Errorf("reply = %q", string(buf[:n]))
	}

	conn2, err := ipc.Dial(path)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn2.Write([]byte("shutdown"))
	conn2.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunEndpoint: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunEndpoint did not return after shutdown")
	}
}

func TestAliveReportsUnknownEndpointAsFalse(t *testing.T) {
	s := &Server{}
	if s.Alive("nonexistent") {
		t.Error("unknown endpoint should report not alive")
	}
}
