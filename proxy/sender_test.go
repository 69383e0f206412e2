package proxy

import (
	"context"
	"testing"
	"time"
)

func TestSendShareDropsWhenJobEvicted(t *testing.T) {
	pi := newTestInstance()
	pi.sendShare(&OutboundMsg{JobID: 999, ID: 1, Nonce2: "00", NTime: "00000000", Nonce: "00000000"})
	// No panic, no connection required: the job lookup miss short-circuits
	// before any write is attempted.
}

func TestSendShareTransmitsResolvedJob(t *testing.T) {
	client, server := pairedConns(t)
	defer client.Close()
	defer server.Close()

	pi := newSessionInstance(client)
	pi.insertNotify(&NotifyInstance{UpstreamJobID: "upstream-job", NotifyTime: time.Now()})

	pi.sendShare(&OutboundMsg{JobID: 0, ID: 5, Nonce2: "0011", NTime: "5e6f7080", Nonce: "1a2b3c4d"})

	line := readOneLine(t, server)
	if line == "" {
		t.Fatal("expected mining.submit to be written")
	}
}

func TestRunSenderStopsOnStopSender(t *testing.T) {
	pi := newTestInstance()
	done := make(chan struct{})
	go func() {
		pi.RunSender(context.Background())
		close(done)
	}()
	pi.stopSender()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunSender did not return after stopSender")
	}
}
