package proxy

import (
	"bytes"
	"strconv"

	"http-exchange/application/http/actor/server"
	"http-exchange/application/http/semantic"
	"http-exchange/application/http/semantic/status"
	"http-exchange/application/http/stream"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

const MetricsPath = "/metrics"

// MetricsHandler serves the metrics gathered by g in the text exposition
// format on [MetricsPath].
func MetricsHandler(g prometheus.Gatherer) server.HandleFunc {
	format := expfmt.NewFormat(expfmt.TypeTextPlain)

	return func(c *server.HandleContext, s stream.Stream) error {
		h, err := s.GetHeaders(c.ReadTimeout())
		if err != nil {
			return err
		}

		method, _ := h.Get(semantic.PseudoMethod)
		if m := semantic.Method(method); m != semantic.MethodGet && m != semantic.MethodHead {
			return status.NewError(errors.Errorf("method %s", method), status.MethodNotAllowed)
		}
		if path, _ := h.Get(semantic.PseudoPath); path != MetricsPath {
			return status.NewError(errors.Errorf("path %s", path), status.NotFound)
		}

		families, err := g.Gather()
		if err != nil {
			return errors.Wrap(err, "gathering metrics")
		}

		var buf bytes.Buffer
		enc := expfmt.NewEncoder(&buf, format)
		for _, mf := range families {
			if err := enc.Encode(mf); err != nil {
				return errors.Wrap(err, "encoding metrics")
			}
		}

		res := semantic.NewHeaderSet(
			semantic.Field{Name: semantic.PseudoStatus, Value: "200"},
			semantic.Field{Name: semantic.FieldContentType, Value: string(format)},
			semantic.Field{Name: semantic.FieldContentLength, Value: strconv.Itoa(buf.Len())},
		)
		if semantic.Method(method) == semantic.MethodHead {
			return s.WriteHeaders(res, true, c.ReadTimeout())
		}
		if err := s.WriteHeaders(res, false, c.ReadTimeout()); err != nil {
			return err
		}
		return s.WriteChunk(buf.Bytes(), true, c.ReadTimeout())
	}
}
