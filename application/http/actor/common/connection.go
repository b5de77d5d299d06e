package common

import (
	"log/slog"

	"http-exchange/application/http/stream"
	"http-exchange/transport"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

var ErrConnectionUsed = errors.New("connection already carried an exchange")

// Connection is a client connection that carries a single exchange.
// Connections are never reused.
type Connection struct {
	conn   transport.Conn
	clock  clock.Clock
	logger *slog.Logger
	opts   Options

	used bool
}

var _ stream.Connection = (*Connection)(nil)

func NewConnection(conn transport.Conn, clock clock.Clock, logger *slog.Logger, opts Options) *Connection {
	return &Connection{conn: conn, clock: clock, logger: logger, opts: opts}
}

func (c *Connection) NewStream() (stream.Stream, error) {
	if c.used {
		return nil, ErrConnectionUsed
	}
	c.used = true
	return NewStream(c.conn, RoleClient, c.clock, c.logger, c.opts), nil
}

func (c *Connection) Close() error { return c.conn.Close() }
