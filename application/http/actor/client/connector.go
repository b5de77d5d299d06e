package client

import (
	"context"
	"crypto/tls"
	"log/slog"
	"time"

	"http-exchange/application/http/actor/common"
	"http-exchange/application/http/stream"
	"http-exchange/transport"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

// Target is the peer a request is sent to.
type Target struct {
	Host string
	Port uint16
	TLS  bool
	// TLSConfig replaces the default TLS settings when set.
	TLSConfig *tls.Config
}

// Connector opens a new connection for every exchange.
type Connector interface {
	Connect(target Target, timeout time.Duration) (stream.Connection, error)
}

// AddrFunc maps a host and port to an address of the dialer's network.
type AddrFunc func(host string, port uint16) transport.Addr

// DialConnector opens HTTP/1.1 connections with a [transport.ConnDialer].
// TLS targets need a dialer implementing [transport.TLSDialer].
type DialConnector struct {
	dialer transport.ConnDialer
	addr   AddrFunc

	opts ConnectorOptions

	logger *slog.Logger
	clock  clock.Clock
}

var _ Connector = (*DialConnector)(nil)

func NewDialConnector(
	d transport.ConnDialer,
	addr AddrFunc,
	logger *slog.Logger,
	clock clock.Clock,
	opts ConnectorOptions,
) *DialConnector {
	return &DialConnector{
		dialer: d,
		addr:   addr,
		opts:   opts,
		logger: logger,
		clock:  clock,
	}
}

func (dc *DialConnector) Connect(target Target, timeout time.Duration) (stream.Connection, error) {
	if timeout == 0 {
		return nil, errors.Wrap(stream.ErrTimeout, "no time left to connect")
	}

	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = dc.clock.WithTimeout(ctx, timeout)
		defer cancel()
	}

	addr := dc.addr(target.Host, target.Port)

	var conn transport.Conn
	var err error
	if target.TLS {
		td, ok := dc.dialer.(transport.TLSDialer)
		if !ok {
			return nil, errors.Wrapf(transport.ErrTLSUnsupported, "dialing %s", addr)
		}
		conn, err = td.DialTLS(ctx, addr, transport.TLSConfig{
			ServerName: target.Host,
			Config:     target.TLSConfig,
		})
	} else {
		conn, err = dc.dialer.Dial(ctx, addr)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return nil, errors.Wrapf(stream.ErrTimeout, "dialing %s", addr)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "dialing %s", addr)
	}

	dc.logger.Debug("connected", "addr", addr.String(), "tls", target.TLS)

	return common.NewConnection(conn, dc.clock, dc.logger, dc.opts.Stream), nil
}
