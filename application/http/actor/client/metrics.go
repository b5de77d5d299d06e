package client

import (
	"time"

	"http-exchange/application/http/stream"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeOK         = "ok"
	outcomeRedirected = "redirected"
	outcomeTimeout    = "timeout"
	outcomeRejected   = "rejected"
	outcomeError      = "error"
)

// Metrics counts exchanges executed by a [Client].
// A nil *Metrics records nothing.
type Metrics struct {
	exchanges        *prometheus.CounterVec
	duration         prometheus.Histogram
	continueTimeouts prometheus.Counter
}

// NewMetrics registers the client metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		exchanges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hx_client_exchanges_total",
			Help: "Total number of exchanges, one per request sent",
		}, []string{"outcome"}), // outcome: ok, redirected, timeout, rejected, error
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "hx_client_exchange_duration_seconds",
			Help:    "Time from connecting to the final response head",
			Buckets: prometheus.DefBuckets,
		}),
		continueTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "hx_client_continue_timeouts_total",
			Help: "Total number of bodies sent without waiting any longer for 100 Continue",
		}),
	}
}

func (m *Metrics) exchangeDone(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.exchanges.WithLabelValues(outcome).Inc()
	m.duration.Observe(took.Seconds())
}

func (m *Metrics) continueTimedOut() {
	if m == nil {
		return
	}
	m.continueTimeouts.Inc()
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, stream.ErrTimeout):
		return outcomeTimeout
	case errors.Is(err, stream.ErrInvalidArgument),
		errors.Is(err, stream.ErrRedirectLimitExceeded):
		return outcomeRejected
	}
	return outcomeError
}
