// Package ipc implements the local transport the stratifier uses to reach
// the generator. spec.md §1 leaves this as an external collaborator
// ("assumed: an ordered datagram/stream channel carrying length-delimited
// text messages; any replacement is acceptable"). This repo picks a concrete
// realization: a Unix domain socket, one request per accepted connection,
// framed as "read until EOF, write the reply, close" — the same discipline
// ckpool's unixsock_t/send_unix_msg/recv_unix_msg convention uses
// (_examples/original_source/src/generator.c).
package ipc

import (
	"fmt"
	"io"
	"net"
	"os"
)

// MaxMessageSize bounds one request so a misbehaving stratifier can't OOM
// the generator; ckpool used a fixed 1024-byte read buffer for the
// equivalent purpose.
const MaxMessageSize = 1 << 20

// Listener accepts one stratifier request per connection on a Unix domain
// socket.
type Listener struct {
	path string
	ln   net.Listener
}

// Listen creates (or replaces) the Unix domain socket at path.
func Listen(path string) (*Listener, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("removing stale socket %s: %w", path, err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", path, err)
	}
	return &Listener{path: path, ln: ln}, nil
}

// Close closes the listener and removes the socket file.
func (l *Listener) Close() error {
	err := l.ln.Close()
	os.Remove(l.path)
	return err
}

// Accept blocks for the next connection. It returns an error once Close has
// been called, which callers use as their cancellation signal (mirrors the
// request endpoint's "blocks on accept" suspension point, §5).
func (l *Listener) Accept() (*Conn, error) {
	c, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return &Conn{c: c}, nil
}

// Conn is one accepted request/response round trip.
type Conn struct {
	c net.Conn
}

// Recv reads the whole request (the stratifier writes its message then
// half-closes or closes the connection).
func (c *Conn) Recv() (string, error) {
	data, err := io.ReadAll(io.LimitReader(c.c, MaxMessageSize+1))
	if err != nil {
		return "", err
	}
	if len(data) > MaxMessageSize {
		return "", fmt.Errorf("request exceeds %d bytes", MaxMessageSize)
	}
	return string(data), nil
}

// Send writes the reply and closes the connection. A request that expects
// no reply (e.g. a share submission, §4.5) should call Close directly
// instead.
func (c *Conn) Send(msg string) error {
	defer c.c.Close()
	_, err := io.WriteString(c.c, msg)
	return err
}

// Close closes the connection without sending a reply.
func (c *Conn) Close() error {
	return c.c.Close()
}

// Dial connects to a generator's Unix socket; used by tests and by any
// in-process stratifier stand-in that wants to exercise the same wire path.
func Dial(path string) (net.Conn, error) {
	return net.Dial("unix", path)
}
