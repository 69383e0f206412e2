package proxy

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/embercore/poolgen/ipc"
)

func newEndpointFixture(t *testing.T) (*Instance, *ipc.Listener, string) {
	t.Helper()
	pi := newTestInstance()
	dir := t.TempDir()
	path := filepath.Join(dir, "poolgen.sock")
	ln, err := ipc.Listen(path)
	if err != nil {
		t.Fatalf("ipc.Listen: %v", err)
	}
	return pi, ln, path
}

func roundTrip(t *testing.T, path, request string) string {
	t.Helper()
	conn, err := ipc.Dial(path)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if request != "" {
		if _, err := conn.Write([]byte(request)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	type closeWriter interface{ CloseWrite() error }
	if cw, ok := conn.(closeWriter); ok {
		cw.CloseWrite()
	}
	buf := make([]byte, 4096)
	n, _ := conn.Read(buf)
	conn.Close()
	return string(buf[:n])
}

func TestEndpointPing(t *testing.T) {
	pi, ln, path := newEndpointFixture(t)
	defer ln.Close()
	done := make(chan error, 1)
	go func() { done <- pi.RunEndpoint(ln) }()

	reply := roundTrip(t, path, "ping")
	if reply != "pong" {
		t.Errorf("reply = %q, want pong", reply)
	}
	ln.Close()
	<-done
}

func TestEndpointGetSubscribe(t *testing.T) {
	pi, ln, path := newEndpointFixture(t)
	defer ln.Close()
	pi.connMu.Lock()
	pi.enonce1 = "deadbeef"
	pi.nonce2Len = 8
	pi.connMu.Unlock()

	go pi.RunEndpoint(ln)
	reply := roundTrip(t, path, "getsubscribe")

	var decoded struct {
		Enonce1   string `json:"enonce1"`
		Nonce2Len int    `json:"nonce2len"`
	}
	if err := json.Unmarshal([]byte(reply), &decoded); err != nil {
		t.Fatalf("decoding reply %q: %v", reply, err)
	}
	if decoded.Enonce1 != "deadbeef" || decoded.Nonce2Len != 8 {
		t.Errorf("unexpected reply: %+v", decoded)
	}
}

func TestEndpointShareSubmissionEnqueues(t *testing.T) {
	pi, ln, path := newEndpointFixture(t)
	defer ln.Close()
	pi.insertNotify(&NotifyInstance{UpstreamJobID: "upstream-job", NotifyTime: time.Now()})

	go pi.RunEndpoint(ln)

	share := `{"client_id":1,"msg_id":2,"jobid":0,"nonce2":"0011","ntime":"5e6f7080","nonce":"1a2b3c4d"}`
	conn, err := ipc.Dial(path)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Write([]byte(share))
	conn.Close()

	time.Sleep(50 * time.Millisecond)
	pi.sendMu.Lock()
	var msg *OutboundMsg
	ok := len(pi.outbound) > 0
	if ok {
		msg = pi.outbound[0]
	}
	pi.sendMu.Unlock()
	if !ok {
		t.Fatal("expected a queued outbound message")
	}
	if msg.Nonce2 != "0011" {
		t.Errorf("nonce2 = %s", msg.Nonce2)
	}
}

func TestEndpointShutdownStopsLoop(t *testing.T) {
	pi, ln, path := newEndpointFixture(t)
	defer ln.Close()
	done := make(chan error, 1)
	go func() { done <- pi.RunEndpoint(ln) }()

	conn, err := ipc.Dial(path)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Write([]byte("shutdown"))
	conn.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunEndpoint returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunEndpoint did not return after shutdown")
	}
}

func TestEndpointUnrecognisedMessageDoesNotHang(t *testing.T) {
	pi, ln, path := newEndpointFixture(t)
	defer ln.Close()
	go pi.RunEndpoint(ln)

	conn, err := ipc.Dial(path)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Write([]byte("totally unrecognised"))
	conn.Close()
	// Give the endpoint loop a moment to process without hanging the test.
	time.Sleep(20 * time.Millisecond)
}

func TestMain_socketCleanup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cleanup.sock")
	ln, err := ipc.Listen(path)
	if err != nil {
		t.Fatalf("ipc.Listen: %v", err)
	}
	ln.Close()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("socket file should be removed after Close")
	}
}
