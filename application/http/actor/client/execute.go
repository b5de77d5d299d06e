package client

import (
	"log/slog"
	"time"

	"http-exchange/application/http/semantic"
	"http-exchange/application/http/semantic/status"
	"http-exchange/application/http/stream"
	"http-exchange/lib/deadline"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Execute sends the request and waits for the final response head.
// timeout bounds the whole exchange, redirects included; a negative timeout
// never expires.
//
// On success the caller owns the returned stream and whatever is left of the
// response body, and shuts the stream down when done.
func (r *Request) Execute(timeout time.Duration) (*semantic.HeaderSet, stream.Stream, error) {
	return r.execute(deadline.New(r.client.clock, timeout))
}

func (r *Request) execute(dl deadline.Deadline) (*semantic.HeaderSet, stream.Stream, error) {
	c := r.client
	logger := c.logger.With("exchange", uuid.NewString(), "method", r.Method(), "url", r.URL())
	started := c.clock.Now()

	h, s, err := r.exchange(dl, logger)
	if err != nil {
		logger.Debug("exchange failed", "error", err)
		c.metrics.exchangeDone(outcomeOf(err), c.clock.Since(started))
		return nil, nil, err
	}

	code, _ := h.Status()
	if !r.followRedirects || !status.IsRedirection(code) {
		logger.Debug("response received", "status", code, "headers", h)
		c.metrics.exchangeDone(outcomeOK, c.clock.Since(started))
		return h, s, nil
	}

	if err := s.Shutdown(); err != nil {
		logger.Debug("shutting down redirected stream", "error", err)
	}

	next, err := r.ResolveRedirect(h)
	if err != nil {
		c.metrics.exchangeDone(outcomeOf(err), c.clock.Since(started))
		return nil, nil, err
	}

	location, _ := h.Get(semantic.FieldLocation)
	logger.Debug("following redirect", "status", code, "location", location)
	c.metrics.exchangeDone(outcomeRedirected, c.clock.Since(started))

	return next.execute(dl)
}

// exchange runs one request/response over a fresh stream. The stream is
// shut down on every failure.
func (r *Request) exchange(dl deadline.Deadline, logger *slog.Logger) (*semantic.HeaderSet, stream.Stream, error) {
	c := r.client

	conn, err := c.connector.Connect(Target{
		Host:      r.host,
		Port:      r.port,
		TLS:       r.tls,
		TLSConfig: r.tlsConfig,
	}, dl.Remaining())
	if err != nil {
		return nil, nil, err
	}

	s, err := conn.NewStream()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}

	h, err := r.roundTrip(s, dl, logger)
	if err != nil {
		_ = s.Shutdown()
		return nil, nil, err
	}

	return h, s, nil
}

func (r *Request) roundTrip(s stream.Stream, dl deadline.Deadline, logger *slog.Logger) (*semantic.HeaderSet, error) {
	hasBody := r.body.kind != BodyEmpty

	if err := s.WriteHeaders(r.headers, !hasBody, dl.Remaining()); err != nil {
		return nil, err
	}

	var h *semantic.HeaderSet
	if hasBody {
		if r.headers.ExpectsContinue() {
			var err error
			h, err = s.GetHeaders(deadline.Min(r.expect100Timeout, dl.Remaining()))
			switch {
			case errors.Is(err, stream.ErrTimeout):
				// The peer may not support 100-continue. Send the body anyway.
				logger.Debug("no response to 100-continue, sending body")
				r.client.metrics.continueTimedOut()
				h = nil
			case err != nil:
				return nil, err
			}
		}

		if err := r.writeBody(s, dl); err != nil {
			return nil, err
		}
	}

	for h == nil || isInterim(h) {
		var err error
		if h, err = s.GetHeaders(dl.Remaining()); err != nil {
			return nil, err
		}
	}

	return h, nil
}

func (r *Request) writeBody(s stream.Stream, dl deadline.Deadline) error {
	bio := stream.NewBodyIO(s, r.client.clock)

	switch r.body.kind {
	case BodyBuffer:
		return bio.WriteFromBuffer(r.body.buf, dl.Remaining())

	case BodySource:
		if err := r.body.rewind(); err != nil {
			return err
		}
		return bio.WriteFromSource(r.body.src, dl.Remaining())

	case BodyGenerator:
		for {
			if dl.Exceeded() {
				return stream.ErrTimeout
			}

			segment, done, err := r.body.gen(dl.Remaining())
			if err != nil {
				return errors.Wrap(err, "generating body")
			}
			if len(segment) > 0 {
				if err := s.WriteChunk(segment, false, dl.Remaining()); err != nil {
					return err
				}
			}
			if done {
				break
			}
		}
		return s.WriteChunk(nil, true, dl.Remaining())
	}

	return nil
}

// isInterim reports a 1xx head that is followed by the final response.
// 101 ends the exchange as HTTP and is final here.
func isInterim(h *semantic.HeaderSet) bool {
	code, ok := h.Status()
	return ok && status.IsInformational(code) && code != int(status.SwitchingProtocols.Code)
}
