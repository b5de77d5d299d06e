// Package transport defines the byte stream abstraction that HTTP connections run on.
package transport

import "crypto/tls"

type Protocol string

const (
	TCP  Protocol = "tcp"
	Pipe Protocol = "pipe"
)

type Addr interface {
	Network() Protocol
	String() string
}

// TLSConfig carries client TLS settings.
// A nil Config uses defaults with ServerName filled in by the dialer.
type TLSConfig struct {
	ServerName string
	Config     *tls.Config
}
