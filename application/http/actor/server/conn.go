package server

import (
	"context"
	"time"

	"http-exchange/application/http/actor/common"
	"http-exchange/application/http/semantic"
	"http-exchange/application/http/semantic/status"
	"http-exchange/application/http/stream"
	"http-exchange/transport"

	"github.com/pkg/errors"
)

// trackedStream remembers whether the final response head went out.
type trackedStream struct {
	stream.Stream
	responded bool
}

func (t *trackedStream) WriteHeaders(h *semantic.HeaderSet, endOfStream bool, timeout time.Duration) error {
	if err := t.Stream.WriteHeaders(h, endOfStream, timeout); err != nil {
		return err
	}
	if code, ok := h.Status(); ok && (!status.IsInformational(code) || code == int(status.SwitchingProtocols.Code)) {
		t.responded = true
	}
	return nil
}

func (s *Server) serveConn(ctx context.Context, conn transport.Conn) {
	logger := s.logger.With("conn", conn.RemoteAddr().String())
	st := common.NewStream(conn, common.RoleServer, s.clock, logger, s.opts.Stream)

	defer func() {
		logger.Debug("closing connection")
		if err := st.Shutdown(); err != nil {
			logger.Debug("error when closing connection", "error", err)
		}
	}()

	// Unblock the handler once the server closes.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	tracked := &trackedStream{Stream: st}
	hctx := &HandleContext{
		ctx:         ctx,
		remoteAddr:  conn.RemoteAddr(),
		readTimeout: s.opts.Timeout.ReadTimeout,
		logger:      logger,
	}

	err := hctx.doHandle(s.handle, tracked)
	switch {
	case err == nil:
		return
	case ctx.Err() != nil:
		logger.Debug("handler interrupted", "error", err)
		return
	case errors.Is(err, transport.ErrConnClosed):
		logger.Info("unexpected connection closure")
		return
	}

	if tracked.responded {
		logger.Error("handler failed after responding", "error", err)
		return
	}

	logger.Info("request failed", "error", err)

	response := errorResponse(err)
	if response == nil {
		return
	}
	if err := st.WriteHeaders(response, true, s.opts.Timeout.WriteTimeout); err != nil {
		logger.Debug("writing error response", "error", err)
	}
}
