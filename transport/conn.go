package transport

import (
	"context"
	"errors"
	"time"
)

var (
	ErrConnClosed         = errors.New("connection is closed")
	ErrConnListenerClosed = errors.New("conn listener is closed")
	ErrDeadLineExceeded   = errors.New("deadline exceeded")
	ErrConnRefused        = errors.New("connection refused")
	ErrAddrAlreadyInUse   = errors.New("address already in use")
	ErrNetUnreachable     = errors.New("network is unreachable")
	ErrTLSUnsupported     = errors.New("tls is not supported by the transport")
)

// Conn is a reliable, ordered byte stream.
// Read returns [ErrConnClosed] once either side has closed it,
// and [ErrDeadLineExceeded] when the read deadline passes.
type Conn interface {
	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)
	Close() error

	LocalAddr() Addr
	RemoteAddr() Addr

	// Zero time means no deadline.
	SetReadDeadLine(t time.Time)
	SetWriteDeadLine(t time.Time)
}

// TLSConn is implemented by connections secured with TLS.
type TLSConn interface {
	Conn
	ServerName() string
}

type ConnListener interface {
	Accept(ctx context.Context) (Conn, error)
	Close() error
	Addr() Addr
}

type ConnDialer interface {
	Dial(ctx context.Context, addr Addr) (Conn, error)
}

// TLSDialer is implemented by dialers able to secure a connection.
type TLSDialer interface {
	ConnDialer
	DialTLS(ctx context.Context, addr Addr, config TLSConfig) (TLSConn, error)
}
