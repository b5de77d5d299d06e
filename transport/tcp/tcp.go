// Package tcp adapts operating system TCP sockets to [transport.Conn].
//
// Reference: https://datatracker.ietf.org/doc/html/rfc9293
package tcp

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/netip"
	"os"
	"strconv"
	"syscall"
	"time"

	"http-exchange/transport"

	"github.com/pkg/errors"
)

type Addr struct {
	Host string
	Port uint16
}

var _ transport.Addr = Addr{}

func NewAddr(host string, port uint16) Addr { return Addr{Host: host, Port: port} }

func (a Addr) Network() transport.Protocol { return transport.TCP }

func (a Addr) String() string {
	return net.JoinHostPort(a.Host, strconv.FormatUint(uint64(a.Port), 10))
}

func addrFrom(a net.Addr) Addr {
	if a == nil {
		return Addr{}
	}

	ap, err := netip.ParseAddrPort(a.String())
	if err != nil {
		return Addr{Host: a.String()}
	}

	return Addr{Host: ap.Addr().Unmap().String(), Port: ap.Port()}
}

// Conn wraps a [net.Conn], translating its errors into transport errors.
type Conn struct {
	nc net.Conn
}

var _ transport.Conn = (*Conn)(nil)

func (c *Conn) Read(p []byte) (int, error) {
	n, err := c.nc.Read(p)
	return n, convertErr(err)
}

func (c *Conn) Write(p []byte) (int, error) {
	n, err := c.nc.Write(p)
	return n, convertErr(err)
}

func (c *Conn) Close() error {
	if err := c.nc.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (c *Conn) LocalAddr() transport.Addr  { return addrFrom(c.nc.LocalAddr()) }
func (c *Conn) RemoteAddr() transport.Addr { return addrFrom(c.nc.RemoteAddr()) }

func (c *Conn) SetReadDeadLine(t time.Time)  { _ = c.nc.SetReadDeadline(t) }
func (c *Conn) SetWriteDeadLine(t time.Time) { _ = c.nc.SetWriteDeadline(t) }

type tlsConn struct {
	*Conn
	serverName string
}

var _ transport.TLSConn = (*tlsConn)(nil)

func (c *tlsConn) ServerName() string { return c.serverName }

func convertErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		return errors.Wrap(transport.ErrConnClosed, err.Error())
	case errors.Is(err, os.ErrDeadlineExceeded):
		return transport.ErrDeadLineExceeded
	}
	return err
}

// Dialer opens TCP connections, optionally secured with TLS.
type Dialer struct {
	nd net.Dialer
}

var _ transport.TLSDialer = (*Dialer)(nil)

func NewDialer(keepAlive time.Duration) *Dialer {
	return &Dialer{nd: net.Dialer{KeepAlive: keepAlive}}
}

func (d *Dialer) Dial(ctx context.Context, addr transport.Addr) (transport.Conn, error) {
	if addr.Network() != transport.TCP {
		return nil, errors.Wrapf(transport.ErrNetUnreachable, "network %q", addr.Network())
	}

	nc, err := d.nd.DialContext(ctx, "tcp", addr.String())
	if err != nil {
		return nil, dialErr(err)
	}

	return &Conn{nc: nc}, nil
}

// DialTLS performs the TLS handshake before returning.
// When config carries no server name, the host of addr is used.
func (d *Dialer) DialTLS(ctx context.Context, addr transport.Addr, config transport.TLSConfig) (transport.TLSConn, error) {
	if addr.Network() != transport.TCP {
		return nil, errors.Wrapf(transport.ErrNetUnreachable, "network %q", addr.Network())
	}

	conf := &tls.Config{}
	if config.Config != nil {
		conf = config.Config.Clone()
	}
	if conf.ServerName == "" {
		conf.ServerName = config.ServerName
	}
	if conf.ServerName == "" {
		if host, _, err := net.SplitHostPort(addr.String()); err == nil {
			conf.ServerName = host
		}
	}

	td := tls.Dialer{NetDialer: &d.nd, Config: conf}
	nc, err := td.DialContext(ctx, "tcp", addr.String())
	if err != nil {
		return nil, dialErr(err)
	}

	return &tlsConn{Conn: &Conn{nc: nc}, serverName: conf.ServerName}, nil
}

func dialErr(err error) error {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return errors.Wrap(transport.ErrConnRefused, err.Error())
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return transport.ErrDeadLineExceeded
	}
	return errors.Wrap(err, "dialing")
}

// Listener accepts TCP connections.
type Listener struct {
	nl *net.TCPListener
}

var _ transport.ConnListener = (*Listener)(nil)

func Listen(ctx context.Context, address string) (*Listener, error) {
	var lc net.ListenConfig

	nl, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return nil, errors.Wrap(transport.ErrAddrAlreadyInUse, err.Error())
		}
		return nil, errors.Wrap(err, "listening")
	}

	return &Listener{nl: nl.(*net.TCPListener)}, nil
}

func (l *Listener) Addr() transport.Addr { return addrFrom(l.nl.Addr()) }

func (l *Listener) Accept(ctx context.Context) (transport.Conn, error) {
	_ = l.nl.SetDeadline(time.Time{})

	// Unblock Accept once ctx is done.
	stop := context.AfterFunc(ctx, func() { _ = l.nl.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	nc, err := l.nl.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, transport.ErrConnListenerClosed
		}
		return nil, errors.Wrap(err, "accepting")
	}

	return &Conn{nc: nc}, nil
}

func (l *Listener) Close() error {
	if err := l.nl.Close(); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return transport.ErrConnListenerClosed
		}
		return err
	}
	return nil
}
