package proxy

import (
	"fmt"

	"github.com/pkg/errors"
)

// The six error kinds spec.md §7 names, as sentinels. Call sites wrap them
// with github.com/pkg/errors so a log line keeps the causal chain while
// callers can still branch with errors.Is against the sentinel (pkg/errors
// v0.9.1's wrapped errors implement Unwrap for errors.Is/As compatibility).
var (
	// ErrConnect is a TCP connect or DNS failure (§7 ConnectError).
	ErrConnect = errors.New("connect error")
	// ErrProtocol is malformed JSON, missing fields, type mismatches, an
	// unsupported nonce2len, or an enonce1 that is too long (§7 ProtocolError).
	ErrProtocol = errors.New("protocol error")
	// ErrAuth is a mining.authorize that returned non-true (§7 AuthFailed).
	ErrAuth = errors.New("auth failed")
	// ErrStale is a late share response or a submit referencing an evicted
	// notify (§7 Stale).
	ErrStale = errors.New("stale")
	// ErrTransport is a sender write failure (§7 Transport).
	ErrTransport = errors.New("transport error")
	// ErrFatal means no configured upstream came up at startup (§7 Fatal).
	ErrFatal = errors.New("fatal: no upstream available")
)

// wrap attaches context to one of the sentinels above while keeping the
// sentinel as the Unwrap target, so errors.Is(result, sentinel) still holds.
func wrap(sentinel error, format string, args ...interface{}) error {
	return errors.Wrap(sentinel, fmt.Sprintf(format, args...))
}
