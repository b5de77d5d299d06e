// Package stream defines the exchange-level view of a transport: a Stream
// carries exactly one request/response exchange, and [BodyIO] layers the
// body consumption helpers over its chunk primitives.
package stream

import (
	"time"

	"http-exchange/application/http/semantic"
	"http-exchange/transport"
)

// Stream is one request/response exchange bound to a connection.
//
// Every timeout is relative. A negative timeout blocks indefinitely,
// zero fails at once with [ErrTimeout] unless the operation can complete
// without waiting.
type Stream interface {
	// WriteHeaders sends a header section. endOfStream marks a message
	// without content.
	WriteHeaders(h *semantic.HeaderSet, endOfStream bool, timeout time.Duration) error
	// GetHeaders waits for the next header section from the peer,
	// interim (1xx) responses included.
	GetHeaders(timeout time.Duration) (*semantic.HeaderSet, error)

	// WriteChunk sends body bytes. The last chunk may be empty.
	// p is not retained after WriteChunk returns.
	WriteChunk(p []byte, isLast bool, timeout time.Duration) error
	// GetNextChunk returns the next non-empty piece of the body,
	// or [ErrEndOfBody] once the body is complete.
	GetNextChunk(timeout time.Duration) ([]byte, error)
	// UngetBytes pushes p back so that the next GetNextChunk returns it first.
	UngetBytes(p []byte)

	Shutdown() error

	// CheckTLS reports the server name of a TLS connection.
	CheckTLS() (serverName string, ok bool)
	LocalAddr() transport.Addr
	PeerAddr() transport.Addr
}

// Connection hands out streams to one peer.
type Connection interface {
	NewStream() (Stream, error)
	Close() error
}
