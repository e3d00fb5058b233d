// ABOUTME: Error taxonomy for session commands
// ABOUTME: Sentinels are wrapped with context and matched with errors.Is

package session

import "errors"

var (
	// ErrValidation marks a malformed command (missing clientId, empty text).
	ErrValidation = errors.New("validation failed")

	// ErrNotConnected is returned by Send when the session is absent or not CONNECTED.
	ErrNotConnected = errors.New("client not connected")

	// ErrInvalidAddress is returned by Send when the phone number has no digits.
	ErrInvalidAddress = errors.New("invalid phone number")

	// ErrTransport wraps a failure reported by the transport's send primitive.
	ErrTransport = errors.New("transport send failed")

	// ErrConnectFailed wraps a synchronous failure to open a transport.
	ErrConnectFailed = errors.New("connect failed")

	// ErrShuttingDown is returned by Connect after Shutdown has begun.
	ErrShuttingDown = errors.New("session controller shutting down")

	// errStale aborts a mutation whose generation or state no longer matches.
	errStale = errors.New("stale session event")
)
