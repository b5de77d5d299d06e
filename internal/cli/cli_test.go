package cli

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"context"
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

	"github.com/andybalholm/brotli"
	"github.com/benbjohnson/clock"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/suite"
)

type CLITestSuite struct {
	suite.Suite

	fs        afero.Fs
	out       *bytes.Buffer
	errOut    *bytes.Buffer
	clock     clock.Clock
	transport *pipe.PipeTransport

	app *App

	origin       *server.Server
	originHandle server.HandleFunc
}

func TestCLITestSuite(t *testing.T) {
	suite.Run(t, new(CLITestSuite))
}

func pipeAddr(host string, _ uint16) transport.Addr { return pipe.Addr{Name: host} }

func (s *CLITestSuite) SetupTest() {
	s.fs = afero.NewMemMapFs()
	s.out = new(bytes.Buffer)
	s.errOut = new(bytes.Buffer)
	s.clock = clock.New()
	s.transport = pipe.NewPipeTransport(s.clock)

	s.app = NewApp(s.fs, s.out, s.errOut)
	s.app.clock = s.clock
	s.app.dialer = s.transport
	s.app.addr = pipeAddr
	s.app.listen = func(_ context.Context, address string) (transport.ConnListener, error) {
		return s.transport.Listen(pipe.Addr{Name: address})
	}

	s.originHandle = func(*server.HandleContext, stream.Stream) error { return nil }
	lis, err := s.transport.Listen(pipe.Addr{Name: "origin"})
	s.Require().NoError(err)
	s.origin = server.New(lis, slog.New(slog.DiscardHandler), s.clock, func(c *server.HandleContext, st stream.Stream) error {
		return s.originHandle(c, st)
	}, server.DefaultOptions())
	s.origin.Start()
}

func (s *CLITestSuite) TearDownTest() {
	s.NoError(s.origin.Close())
}

func (s *CLITestSuite) run(args ...string) error {
	cmd := s.app.RootCommand()
	cmd.SetArgs(args)
	return cmd.Execute()
}

// respond makes the origin answer every request with body, encoded as given.
func (s *CLITestSuite) respond(body []byte, encoding string) {
	s.originHandle = func(c *server.HandleContext, st stream.Stream) error {
		if _, err := st.GetHeaders(c.ReadTimeout()); err != nil {
			return err
		}
		if _, err := stream.NewBodyIO(st, s.clock).ReadAll(c.ReadTimeout()); err != nil {
			return err
		}

		res := semantic.NewHeaderSet(
			semantic.Field{Name: semantic.PseudoStatus, Value: "200"},
			semantic.Field{Name: semantic.FieldContentLength, Value: strconv.Itoa(len(body))},
		)
		if encoding != "" {
			res.Append(semantic.FieldContentEncoding, encoding)
		}
		if err := st.WriteHeaders(res, false, time.Second); err != nil {
			return err
		}
		return st.WriteChunk(body, true, time.Second)
	}
}

func (s *CLITestSuite) TestCurl() {
	s.Require().NoError(afero.WriteFile(s.fs, "/body.txt", []byte("x=1"), 0o644))
	s.Require().NoError(afero.WriteFile(s.fs, "/hx.yaml", []byte("client:\n  headers: [\"x-team: core\"]\n"), 0o644))

	testcases := []struct {
		desc string
		args []string
		want string
	}{
		{
			desc: "defaults",
			args: []string{"curl", "http://example.com/"},
			want: "curl http://example.com/ --location --max-redirs 5 -A hx/0.1\n",
		},
		{
			desc: "body and header",
			args: []string{"curl", "http://example.com/", "-d", "a b", "-H", "X-Note: two", "--no-redirects"},
			want: "curl http://example.com/ -A hx/0.1 -H 'x-note: two' --data-binary 'a b'\n",
		},
		{
			desc: "body from file",
			args: []string{"curl", "http://example.com/", "-X", "put", "-d", "@/body.txt", "--max-redirs", "2"},
			want: "curl -X PUT http://example.com/ --location --max-redirs 2 -A hx/0.1 --data-binary 'x=1'\n",
		},
		{
			desc: "user agent",
			args: []string{"curl", "http://example.com/", "-A", "custom/1", "--no-redirects"},
			want: "curl http://example.com/ -A custom/1\n",
		},
		{
			desc: "headers from config",
			args: []string{"--config", "/hx.yaml", "curl", "http://example.com/", "--no-redirects"},
			want: "curl http://example.com/ -A hx/0.1 -H 'x-team: core'\n",
		},
	}

	for _, tc := range testcases {
		s.Run(tc.desc, func() {
			s.out.Reset()
			s.Require().NoError(s.run(tc.args...))
			s.Equal(tc.want, s.out.String())
		})
	}
}

func (s *CLITestSuite) TestCurlErrors() {
	testcases := []struct {
		desc string
		args []string
	}{
		{desc: "no url", args: []string{"curl"}},
		{desc: "unsupported scheme", args: []string{"curl", "ftp://example.com/"}},
		{desc: "header without colon", args: []string{"curl", "http://example.com/", "-H", "nocolon"}},
		{desc: "invalid header name", args: []string{"curl", "http://example.com/", "-H", "bad name: x"}},
		{desc: "missing body file", args: []string{"curl", "http://example.com/", "-d", "@/nowhere"}},
		{desc: "invalid log level", args: []string{"curl", "http://example.com/", "--log-level", "loud"}},
	}

	for _, tc := range testcases {
		s.Run(tc.desc, func() {
			s.Error(s.run(tc.args...))
		})
	}
}

func (s *CLITestSuite) TestFetch() {
	s.respond([]byte("hello"), "")

	s.Require().NoError(s.run("fetch", "http://origin/", "-i"))

	out := s.out.String()
	s.Contains(out, "HTTP/1.1 200 OK\n")
	s.Contains(out, "Content-Length: 5\n")
	s.Contains(out, "\n\nhello")
}

func (s *CLITestSuite) TestFetchDecodesContent() {
	const text = "compressed text compressed text compressed text"

	gz := func(p []byte) []byte {
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		_, _ = w.Write(p)
		_ = w.Close()
		return buf.Bytes()
	}
	br := func(p []byte) []byte {
		var buf bytes.Buffer
		w := brotli.NewWriter(&buf)
		_, _ = w.Write(p)
		_ = w.Close()
		return buf.Bytes()
	}
	deflate := func(p []byte) []byte {
		var buf bytes.Buffer
		w := zlib.NewWriter(&buf)
		_, _ = w.Write(p)
		_ = w.Close()
		return buf.Bytes()
	}

	testcases := []struct {
		desc     string
		body     []byte
		encoding string
	}{
		{desc: "identity", body: []byte(text), encoding: ""},
		{desc: "gzip", body: gz([]byte(text)), encoding: "gzip"},
		{desc: "brotli", body: br([]byte(text)), encoding: "br"},
		{desc: "deflate", body: deflate([]byte(text)), encoding: "deflate"},
		{desc: "gzip then brotli", body: br(gz([]byte(text))), encoding: "gzip, br"},
	}

	for _, tc := range testcases {
		s.Run(tc.desc, func() {
			s.out.Reset()
			s.respond(tc.body, tc.encoding)

			s.Require().NoError(s.run("fetch", "http://origin/", "--compressed"))
			s.Equal(text, s.out.String())
		})
	}
}

func (s *CLITestSuite) TestFetchResolve() {
	s.respond([]byte("resolved"), "")

	s.Require().NoError(s.run("fetch", "http://alias.test/", "--resolve", "alias.test:origin"))
	s.Equal("resolved", s.out.String())

	s.Error(s.run("fetch", "http://alias.test/", "--resolve", "alias.test"))
}

func (s *CLITestSuite) TestFetchUnknownCoding() {
	s.respond([]byte("???"), "zstd")
	s.ErrorIs(s.run("fetch", "http://origin/"), stream.ErrUnsupported)
}

func (s *CLITestSuite) TestFetchSendsFile() {
	s.Require().NoError(afero.WriteFile(s.fs, "/upload.txt", []byte("file content"), 0o644))

	s.originHandle = func(c *server.HandleContext, st stream.Stream) error {
		h, err := st.GetHeaders(c.ReadTimeout())
		if err != nil {
			return err
		}
		bio := stream.NewBodyIO(st, s.clock)
		if h.ExpectsContinue() {
			if err := bio.EmitContinue(time.Second); err != nil {
				return err
			}
		}
		body, err := bio.ReadAll(c.ReadTimeout())
		if err != nil {
			return err
		}
		method, _ := h.Get(semantic.PseudoMethod)
		_, sized := h.Get(semantic.FieldContentLength)

		// A file is streamed, so its length is not announced.
		reply := []byte(method + " sized=" + strconv.FormatBool(sized) + " " + string(body))
		res := semantic.NewHeaderSet(
			semantic.Field{Name: semantic.PseudoStatus, Value: "200"},
			semantic.Field{Name: semantic.FieldContentLength, Value: strconv.Itoa(len(reply))},
		)
		if err := st.WriteHeaders(res, false, time.Second); err != nil {
			return err
		}
		return st.WriteChunk(reply, true, time.Second)
	}

	s.Require().NoError(s.run("fetch", "http://origin/upload", "-d", "@/upload.txt"))
	s.Equal("POST sized=false file content", s.out.String())
}

func (s *CLITestSuite) TestFetchFailure() {
	err := s.run("fetch", "http://nowhere/")
	s.ErrorIs(err, transport.ErrConnRefused)
}

func (s *CLITestSuite) TestProxy() {
	s.respond([]byte("via proxy"), "")

	listening := make(chan struct{})
	listen := s.app.listen
	s.app.listen = func(ctx context.Context, address string) (transport.ConnListener, error) {
		l, err := listen(ctx, address)
		if err == nil && address == "proxy:3128" {
			close(listening)
		}
		return l, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		cmd := s.app.RootCommand()
		cmd.SetArgs([]string{"proxy", "--listen", "proxy:3128", "--metrics-listen", "metrics:9100"})
		done <- cmd.ExecuteContext(ctx)
	}()

	select {
	case <-listening:
	case err := <-done:
		s.FailNow("proxy exited", "%v", err)
	}

	connector := client.NewDialConnector(s.transport, func(string, uint16) transport.Addr {
		return pipe.Addr{Name: "proxy:3128"}
	}, slog.New(slog.DiscardHandler), s.clock, client.DefaultConnectorOptions())
	c := client.New(connector, s.fs, nil, slog.New(slog.DiscardHandler), s.clock, client.DefaultOptions())

	r, err := c.NewFromURI("http://origin/")
	s.Require().NoError(err)
	h, st, err := r.Execute(time.Second)
	s.Require().NoError(err)

	body, err := stream.NewBodyIO(st, s.clock).ReadAll(time.Second)
	s.Require().NoError(err)
	s.NoError(st.Shutdown())

	code, _ := h.Status()
	s.Equal(200, code)
	s.Equal("via proxy", string(body))

	cancel()
	s.NoError(<-done)
	s.Contains(s.errOut.String(), "proxy listening")
}
