package proxy

import (
	"log/slog"
	"strconv"
	"testing"
	"time"

	"http-exchange/application/http/actor/client"
	"http-exchange/application/http/actor/server"
	"http-exchange/application/http/semantic"
	"http-exchange/application/http/stream"
	"http-exchange/transport"
	"http-exchange/transport/pipe"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type ProxyTestSuite struct {
	suite.Suite

	clock     clock.Clock
	logger    *slog.Logger
	transport *pipe.PipeTransport
	registry  *prometheus.Registry

	origin  *server.Server
	proxy   *server.Server
	metrics *server.Server

	fwd          *Forwarder
	originHandle server.HandleFunc
}

func TestProxyTestSuite(t *testing.T) {
	suite.Run(t, new(ProxyTestSuite))
}

func (s *ProxyTestSuite) listen(name string, handle server.HandleFunc) *server.Server {
	lis, err := s.transport.Listen(pipe.Addr{Name: name})
	s.Require().NoError(err)

	srv := server.New(lis, s.logger, s.clock, handle, server.DefaultOptions())
	srv.Start()
	return srv
}

func (s *ProxyTestSuite) SetupTest() {
	s.clock = clock.New()
	s.logger = slog.New(slog.DiscardHandler)
	s.transport = pipe.NewPipeTransport(s.clock)
	s.registry = prometheus.NewRegistry()

	s.originHandle = func(c *server.HandleContext, st stream.Stream) error {
		return nil
	}
	s.origin = s.listen("origin", func(c *server.HandleContext, st stream.Stream) error {
		return s.originHandle(c, st)
	})

	upstream := client.New(
		client.NewDialConnector(s.transport, func(host string, _ uint16) transport.Addr {
			return pipe.Addr{Name: host}
		}, s.logger, s.clock, client.DefaultConnectorOptions()),
		afero.NewMemMapFs(),
		client.NewMetrics(s.registry),
		s.logger,
		s.clock,
		client.DefaultOptions(),
	)
	s.fwd = NewForwarder(upstream, s.registry, s.clock, Options{
		UpstreamTimeout: 200 * time.Millisecond,
		WriteTimeout:    time.Second,
	})

	s.proxy = s.listen("proxy", s.fwd.Handle)
	s.metrics = s.listen("metrics", MetricsHandler(s.registry))
}

func (s *ProxyTestSuite) TearDownTest() {
	s.NoError(s.metrics.Close())
	s.NoError(s.proxy.Close())
	s.NoError(s.origin.Close())
}

// through returns a client sending every request to the listener called name.
func (s *ProxyTestSuite) through(name string) *client.Client {
	connector := client.NewDialConnector(s.transport, func(string, uint16) transport.Addr {
		return pipe.Addr{Name: name}
	}, s.logger, s.clock, client.DefaultConnectorOptions())

	return client.New(connector, afero.NewMemMapFs(), nil, s.logger, s.clock, client.DefaultOptions())
}

type response struct {
	headers *semantic.HeaderSet
	body    string
}

func (s *ProxyTestSuite) do(r *client.Request) response {
	h, st, err := r.Execute(time.Second)
	s.Require().NoError(err)
	defer st.Shutdown()

	body, err := stream.NewBodyIO(st, s.clock).ReadAll(time.Second)
	s.Require().NoError(err)
	return response{headers: h, body: string(body)}
}

func (s *ProxyTestSuite) get(url string) response {
	r, err := s.through("proxy").NewFromURI(url)
	s.Require().NoError(err)
	return s.do(r)
}

func code(h *semantic.HeaderSet) int {
	c, _ := h.Status()
	return c
}

func (s *ProxyTestSuite) TestForward() {
	seen := make(chan *semantic.HeaderSet, 1)
	s.originHandle = func(c *server.HandleContext, st stream.Stream) error {
		h, err := st.GetHeaders(c.ReadTimeout())
		if err != nil {
			return err
		}
		seen <- h

		body, err := stream.NewBodyIO(st, s.clock).ReadAll(c.ReadTimeout())
		if err != nil {
			return err
		}
		res := semantic.NewHeaderSet(
			semantic.Field{Name: semantic.PseudoStatus, Value: "201"},
			semantic.Field{Name: "x-origin", Value: "yes"},
			semantic.Field{Name: "keep-alive", Value: "timeout=5"},
			semantic.Field{Name: semantic.FieldContentLength, Value: strconv.Itoa(len(body))},
		)
		if err := st.WriteHeaders(res, false, time.Second); err != nil {
			return err
		}
		return st.WriteChunk(body, true, time.Second)
	}

	r, err := s.through("proxy").NewFromURI("http://origin/echo?x=1")
	s.Require().NoError(err)
	s.Require().NoError(r.SetMethod(semantic.MethodPost))
	r.Headers().Append("x-custom", "kept")
	r.SetBody(client.BufferBody([]byte("hello")))

	res := s.do(r)
	s.Equal(201, code(res.headers))
	s.Equal("hello", res.body)

	origin, _ := res.headers.Get("x-origin")
	s.Equal("yes", origin)
	via, _ := res.headers.Get(semantic.FieldVia)
	s.Equal(viaValue, via)
	s.False(res.headers.Has("keep-alive"))

	h := <-seen
	method, _ := h.Get(semantic.PseudoMethod)
	s.Equal("POST", method)
	path, _ := h.Get(semantic.PseudoPath)
	s.Equal("/echo?x=1", path)
	custom, _ := h.Get("x-custom")
	s.Equal("kept", custom)
	via, _ = h.Get(semantic.FieldVia)
	s.Equal(viaValue, via)

	s.Equal(1.0, testutil.ToFloat64(s.fwd.requests.WithLabelValues("201")))
}

func (s *ProxyTestSuite) TestChunkedResponse() {
	s.originHandle = func(c *server.HandleContext, st stream.Stream) error {
		if _, err := st.GetHeaders(c.ReadTimeout()); err != nil {
			return err
		}
		res := semantic.NewHeaderSet(semantic.Field{Name: semantic.PseudoStatus, Value: "200"})
		if err := st.WriteHeaders(res, false, time.Second); err != nil {
			return err
		}
		for _, p := range []string{"one ", "two ", "three"} {
			if err := st.WriteChunk([]byte(p), false, time.Second); err != nil {
				return err
			}
		}
		return st.WriteChunk(nil, true, time.Second)
	}

	res := s.get("http://origin/stream")
	s.Equal(200, code(res.headers))
	s.Equal("one two three", res.body)
	s.True(res.headers.IsChunked())
}

func (s *ProxyTestSuite) TestRedirectIsPassedBack() {
	calls := 0
	s.originHandle = func(c *server.HandleContext, st stream.Stream) error {
		if _, err := st.GetHeaders(c.ReadTimeout()); err != nil {
			return err
		}
		calls++
		return st.WriteHeaders(semantic.NewHeaderSet(
			semantic.Field{Name: semantic.PseudoStatus, Value: "302"},
			semantic.Field{Name: semantic.FieldLocation, Value: "/moved"},
		), true, time.Second)
	}

	r, err := s.through("proxy").NewFromURI("http://origin/old")
	s.Require().NoError(err)
	r.SetFollowRedirects(false)

	res := s.do(r)
	s.Equal(302, code(res.headers))
	location, _ := res.headers.Get(semantic.FieldLocation)
	s.Equal("/moved", location)
	s.Equal(1, calls)
}

func (s *ProxyTestSuite) TestHead() {
	s.originHandle = func(c *server.HandleContext, st stream.Stream) error {
		if _, err := st.GetHeaders(c.ReadTimeout()); err != nil {
			return err
		}
		return st.WriteHeaders(semantic.NewHeaderSet(
			semantic.Field{Name: semantic.PseudoStatus, Value: "200"},
			semantic.Field{Name: semantic.FieldContentLength, Value: "42"},
		), true, time.Second)
	}

	r, err := s.through("proxy").NewFromURI("http://origin/")
	s.Require().NoError(err)
	s.Require().NoError(r.SetMethod(semantic.MethodHead))

	res := s.do(r)
	s.Equal(200, code(res.headers))
	length, _ := res.headers.Get(semantic.FieldContentLength)
	s.Equal("42", length)
	s.Empty(res.body)
}

func (s *ProxyTestSuite) TestUpstreamFailures() {
	testcases := []struct {
		desc   string
		url    string
		handle server.HandleFunc
		status int
	}{
		{
			desc:   "origin refuses",
			url:    "http://nowhere/",
			status: 502,
		},
		{
			desc: "origin too slow",
			url:  "http://origin/",
			handle: func(c *server.HandleContext, st stream.Stream) error {
				if _, err := st.GetHeaders(c.ReadTimeout()); err != nil {
					return err
				}
				<-c.Context().Done()
				return nil
			},
			status: 504,
		},
	}

	for _, tc := range testcases {
		s.Run(tc.desc, func() {
			if tc.handle != nil {
				s.originHandle = tc.handle
			}
			res := s.get(tc.url)
			s.Equal(tc.status, code(res.headers))
			s.Equal(1.0, testutil.ToFloat64(s.fwd.requests.WithLabelValues(strconv.Itoa(tc.status))))
		})
	}
}

func (s *ProxyTestSuite) TestConnectIsRejected() {
	r, err := s.through("proxy").NewConnect("http://proxy", "origin:443")
	s.Require().NoError(err)

	res := s.do(r)
	s.Equal(501, code(res.headers))
}

func (s *ProxyTestSuite) TestMetricsEndpoint() {
	s.originHandle = func(c *server.HandleContext, st stream.Stream) error {
		if _, err := st.GetHeaders(c.ReadTimeout()); err != nil {
			return err
		}
		return st.WriteHeaders(semantic.NewHeaderSet(semantic.Field{Name: semantic.PseudoStatus, Value: "204"}), true, time.Second)
	}
	s.Equal(204, code(s.get("http://origin/").headers))

	metrics := s.through("metrics")

	r, err := metrics.NewFromURI("http://metrics" + MetricsPath)
	s.Require().NoError(err)
	res := s.do(r)
	s.Equal(200, code(res.headers))
	s.Contains(res.body, `hx_proxy_requests_total{code="204"} 1`)
	s.Contains(res.body, `hx_client_exchanges_total{outcome="ok"} 1`)
	contentType, _ := res.headers.Get(semantic.FieldContentType)
	s.Contains(contentType, "text/plain")

	r, err = metrics.NewFromURI("http://metrics/other")
	s.Require().NoError(err)
	s.Equal(404, code(s.do(r).headers))

	r, err = metrics.NewFromURI("http://metrics" + MetricsPath)
	s.Require().NoError(err)
	s.Require().NoError(r.SetMethod(semantic.MethodDelete))
	s.Equal(405, code(s.do(r).headers))
}
