// Package proxy forwards requests received by an [server.Server] to their
// origin with a [client.Client] and relays the responses back.
package proxy

import (
	"log/slog"
	"strconv"
	"time"

	"http-exchange/application/http/actor/client"
	"http-exchange/application/http/actor/server"
	"http-exchange/application/http/semantic"
	"http-exchange/application/http/semantic/status"
	"http-exchange/application/http/stream"
	"http-exchange/lib/deadline"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const viaValue = "1.1 hx"

type Options struct {
	// UpstreamTimeout bounds the exchange with the origin, from connecting
	// until its response head arrives.
	UpstreamTimeout time.Duration
	// WriteTimeout bounds relaying the response, body included.
	WriteTimeout time.Duration
}

type Forwarder struct {
	client *client.Client
	opts   Options

	requests *prometheus.CounterVec

	clock clock.Clock
}

func NewForwarder(c *client.Client, reg prometheus.Registerer, clock clock.Clock, opts Options) *Forwarder {
	return &Forwarder{
		client: c,
		opts:   opts,
		requests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "hx_proxy_requests_total",
			Help: "Total number of forwarded requests by response status",
		}, []string{"code"}),
		clock: clock,
	}
}

var _ server.HandleFunc = (*Forwarder)(nil).Handle

// Handle forwards one request. Redirects are passed back to the caller
// instead of being followed.
func (f *Forwarder) Handle(c *server.HandleContext, s stream.Stream) error {
	r, err := f.client.NewFromStream(s, c.ReadTimeout())
	if err != nil {
		return err
	}
	defer r.Close()

	logger := c.Logger().With("method", r.Method(), "url", r.URL())

	if r.Method() == semantic.MethodConnect {
		f.count(status.NotImplemented)
		return status.NewError(errors.New("tunnels are not supported"), status.NotImplemented)
	}

	r.SetFollowRedirects(false)
	r.Headers().Append(semantic.FieldVia, viaValue)

	h, upstream, err := r.Execute(f.opts.UpstreamTimeout)
	if err != nil {
		st := status.BadGateway
		if errors.Is(err, stream.ErrTimeout) {
			st = status.GatewayTimeout
		}
		f.count(st)
		return status.NewError(errors.Wrap(err, "forwarding"), st)
	}
	defer func() {
		if err := upstream.Shutdown(); err != nil {
			logger.Debug("shutting down upstream stream", "error", err)
		}
	}()

	code, _ := h.Status()
	f.requests.WithLabelValues(strconv.Itoa(code)).Inc()
	logger.Info("forwarded", "status", code)

	return f.relay(s, r.Method(), h, upstream, logger)
}

func (f *Forwarder) relay(s stream.Stream, method semantic.Method, h *semantic.HeaderSet, upstream stream.Stream, logger *slog.Logger) error {
	dl := deadline.New(f.clock, f.opts.WriteTimeout)

	res := h.Clone()
	res.RemoveHopByHop()
	res.Append(semantic.FieldVia, viaValue)

	code, _ := res.Status()
	noContent := method == semantic.MethodHead || status.HasNoContent(code)

	if err := s.WriteHeaders(res, noContent, dl.Remaining()); err != nil {
		return errors.Wrap(err, "writing response head")
	}
	if noContent {
		return nil
	}

	for chunk, err := range stream.NewBodyIO(upstream, f.clock).Chunks(dl.Remaining()) {
		if err != nil {
			// The head is out. All that is left is to cut the response short.
			logger.Warn("upstream body failed", "error", err)
			return errors.Wrap(err, "reading upstream body")
		}
		if err := s.WriteChunk(chunk, false, dl.Remaining()); err != nil {
			return errors.Wrap(err, "relaying body")
		}
	}
	return s.WriteChunk(nil, true, dl.Remaining())
}

func (f *Forwarder) count(st status.Status) {
	f.requests.WithLabelValues(strconv.FormatUint(uint64(st.Code), 10)).Inc()
}
