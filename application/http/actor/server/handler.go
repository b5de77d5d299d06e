package server

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"http-exchange/application/http/semantic"
	"http-exchange/application/http/semantic/status"
	"http-exchange/application/http/stream"
	"http-exchange/transport"

	"github.com/pkg/errors"
)

// HandleFunc serves the request arriving on s and writes the response to it.
// When it fails before a response head was written, the server answers
// with a status derived from the error; see [status.Error].
type HandleFunc func(c *HandleContext, s stream.Stream) error

type HandleContext struct {
	ctx context.Context

	remoteAddr  transport.Addr
	readTimeout time.Duration

	logger *slog.Logger
}

func (c *HandleContext) doHandle(handle HandleFunc, s stream.Stream) (err error) {
	defer func() {
		if e := recover(); e != nil {
			err = errors.Errorf("handler panicked: %s", e)
		}
	}()

	return handle(c, s)
}

// Context is canceled when the server closes.
func (c *HandleContext) Context() context.Context { return c.ctx }

func (c *HandleContext) RemoteAddr() transport.Addr { return c.remoteAddr }
func (c *HandleContext) ReadTimeout() time.Duration { return c.readTimeout }
func (c *HandleContext) Logger() *slog.Logger       { return c.logger }

// errorResponse returns the response head reported for err,
// or nil when the peer is gone.
func errorResponse(err error) *semantic.HeaderSet {
	var st status.Status
	switch statusErr := new(status.Error); {
	case errors.Is(err, transport.ErrConnClosed):
		return nil
	case errors.As(err, statusErr):
		st = statusErr.Status
	case errors.Is(err, stream.ErrTimeout):
		st = status.RequestTimeout
	case errors.Is(err, stream.ErrInvalidArgument):
		st = status.BadRequest
	default:
		st = status.InternalServerError
	}

	return semantic.NewHeaderSet(semantic.Field{
		Name:  semantic.PseudoStatus,
		Value: strconv.FormatUint(uint64(st.Code), 10),
	})
}
