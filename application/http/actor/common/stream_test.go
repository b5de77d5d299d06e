package common

import (
	"bufio"
	"io"
	"log/slog"
	"testing"
	"time"

	"http-exchange/application/http"
	"http-exchange/application/http/semantic"
	"http-exchange/application/http/stream"
	"http-exchange/application/http/transfer"
	"http-exchange/lib/deadline"
	"http-exchange/transport"
	"http-exchange/transport/pipe"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func requestHeaders(method, path string, extra ...semantic.Field) *semantic.HeaderSet {
	fields := []semantic.Field{
		{Name: semantic.PseudoMethod, Value: method},
		{Name: semantic.PseudoScheme, Value: semantic.SchemeHTTP},
		{Name: semantic.PseudoAuthority, Value: "example.com"},
		{Name: semantic.PseudoPath, Value: path},
	}
	return semantic.NewHeaderSet(append(fields, extra...)...)
}

type ClientStreamTestSuite struct {
	suite.Suite

	clock  clock.Clock
	conn   transport.Conn
	peer   transport.Conn
	peerR  *bufio.Reader
	stream *Stream

	peerDone chan error
}

func TestClientStreamTestSuite(t *testing.T) {
	suite.Run(t, new(ClientStreamTestSuite))
}

func (s *ClientStreamTestSuite) SetupTest() {
	s.clock = clock.New()
	s.conn, s.peer = pipe.NewPair("client", "server", s.clock)
	s.peerR = bufio.NewReader(s.peer)
	s.stream = NewStream(s.conn, RoleClient, s.clock, slog.New(slog.DiscardHandler), DefaultOptions())
	s.peerDone = make(chan error, 1)
}

func (s *ClientStreamTestSuite) TearDownTest() {
	s.NoError(s.stream.Shutdown())
	s.NoError(s.peer.Close())
}

// respond reads one request head and answers it with raw bytes.
func (s *ClientStreamTestSuite) respond(raw string) {
	go func() {
		if _, err := http.NewDecoder(s.peerR, http.DefaultDecodeOptions).DecodeRequest(); err != nil {
			s.peerDone <- err
			return
		}
		_, err := s.peer.Write([]byte(raw))
		s.peerDone <- err
	}()
}

func (s *ClientStreamTestSuite) TestFixedLengthRequest() {
	type result struct {
		head http.RequestHead
		body []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		head, err := http.NewDecoder(s.peerR, http.DefaultDecodeOptions).DecodeRequest()
		if err != nil {
			done <- result{err: err}
			return
		}
		body := make([]byte, 5)
		_, err = io.ReadFull(s.peerR, body)
		done <- result{head: head, body: body, err: err}
	}()

	h := requestHeaders("POST", "/upload?x=1",
		semantic.Field{Name: "user-agent", Value: "hx"},
		semantic.Field{Name: "content-length", Value: "5"},
	)
	s.Require().NoError(s.stream.WriteHeaders(h, false, time.Second))
	s.Require().NoError(s.stream.WriteChunk([]byte("hel"), false, time.Second))
	s.Require().NoError(s.stream.WriteChunk([]byte("lo"), true, time.Second))

	r := <-done
	s.Require().NoError(r.err)
	s.Equal(http.RequestLine{Method: "POST", Target: "/upload?x=1", Version: http.Version11}, r.head.RequestLine)
	s.Equal([]http.Field{
		{Name: []byte("Host"), Value: []byte("example.com")},
		{Name: []byte("User-Agent"), Value: []byte("hx")},
		{Name: []byte("Content-Length"), Value: []byte("5")},
		{Name: []byte("Connection"), Value: []byte("close")},
	}, r.head.Fields)
	s.Equal("hello", string(r.body))
}

func (s *ClientStreamTestSuite) TestChunkedRequest() {
	type result struct {
		head http.RequestHead
		body []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		head, err := http.NewDecoder(s.peerR, http.DefaultDecodeOptions).DecodeRequest()
		if err != nil {
			done <- result{err: err}
			return
		}
		body, err := io.ReadAll(transfer.NewChunkedReader(s.peerR))
		done <- result{head: head, body: body, err: err}
	}()

	s.Require().NoError(s.stream.WriteHeaders(requestHeaders("PUT", "/"), false, time.Second))
	s.Require().NoError(s.stream.WriteChunk([]byte("abc"), false, time.Second))
	s.Require().NoError(s.stream.WriteChunk([]byte("def"), false, time.Second))
	s.Require().NoError(s.stream.WriteChunk(nil, true, time.Second))

	r := <-done
	s.Require().NoError(r.err)
	s.Contains(r.head.Fields, http.Field{Name: []byte("Transfer-Encoding"), Value: []byte("chunked")})
	s.Equal("abcdef", string(r.body))
}

func (s *ClientStreamTestSuite) TestWriteChunkErrors() {
	go func() {
		_, err := http.NewDecoder(s.peerR, http.DefaultDecodeOptions).DecodeRequest()
		s.peerDone <- err
	}()

	// Nothing to write before a head.
	s.ErrorIs(s.stream.WriteChunk([]byte("x"), false, time.Second), ErrNoBody)

	h := requestHeaders("POST", "/", semantic.Field{Name: "content-length", Value: "2"})
	s.Require().NoError(s.stream.WriteHeaders(h, false, time.Second))
	s.Require().NoError(<-s.peerDone)

	s.ErrorIs(s.stream.WriteChunk([]byte("toolong"), false, time.Second), ErrBodyTooLong)
}

func (s *ClientStreamTestSuite) TestInvalidHeaders() {
	h := semantic.NewHeaderSet(semantic.Field{Name: semantic.PseudoMethod, Value: "GET"})
	s.ErrorIs(s.stream.WriteHeaders(h, true, time.Second), stream.ErrInvalidArgument)
}

func (s *ClientStreamTestSuite) TestInterimAndFinalResponse() {
	s.respond("" +
		"HTTP/1.1 100 Continue\r\n\r\n" +
		"HTTP/1.1 200 OK\r\n" +
		"Content-Length: 5\r\n" +
		"X-Id: 7\r\n" +
		"\r\n" +
		"hello",
	)

	s.Require().NoError(s.stream.WriteHeaders(requestHeaders("GET", "/"), true, time.Second))

	interim, err := s.stream.GetHeaders(time.Second)
	s.Require().NoError(err)
	code, _ := interim.Status()
	s.Equal(100, code)

	final, err := s.stream.GetHeaders(time.Second)
	s.Require().NoError(err)
	code, _ = final.Status()
	s.Equal(200, code)
	id, _ := final.Get("x-id")
	s.Equal("7", id)

	body, err := stream.NewBodyIO(s.stream, s.clock).ReadAll(time.Second)
	s.Require().NoError(err)
	s.Equal("hello", string(body))

	_, err = s.stream.GetNextChunk(time.Second)
	s.ErrorIs(err, stream.ErrEndOfBody)
	s.Require().NoError(<-s.peerDone)
}

func (s *ClientStreamTestSuite) TestChunkedResponseWithTrailers() {
	s.respond("" +
		"HTTP/1.1 200 OK\r\n" +
		"Transfer-Encoding: chunked\r\n" +
		"\r\n" +
		"3\r\nabc\r\n" +
		"0\r\n" +
		"X-Sum: 9\r\n" +
		"\r\n",
	)

	s.Require().NoError(s.stream.WriteHeaders(requestHeaders("GET", "/"), true, time.Second))
	_, err := s.stream.GetHeaders(time.Second)
	s.Require().NoError(err)

	body, err := stream.NewBodyIO(s.stream, s.clock).ReadAll(time.Second)
	s.Require().NoError(err)
	s.Equal("abc", string(body))

	s.Require().NotNil(s.stream.Trailers())
	sum, _ := s.stream.Trailers().Get("x-sum")
	s.Equal("9", sum)
	s.Require().NoError(<-s.peerDone)
}

func (s *ClientStreamTestSuite) TestResponseDelimitedByClose() {
	go func() {
		_, err := http.NewDecoder(s.peerR, http.DefaultDecodeOptions).DecodeRequest()
		if err == nil {
			_, err = s.peer.Write([]byte("HTTP/1.1 200 OK\r\n\r\npartial"))
		}
		s.peer.Close()
		s.peerDone <- err
	}()

	s.Require().NoError(s.stream.WriteHeaders(requestHeaders("GET", "/"), true, time.Second))
	_, err := s.stream.GetHeaders(time.Second)
	s.Require().NoError(err)

	body, err := stream.NewBodyIO(s.stream, s.clock).ReadAll(time.Second)
	s.Require().NoError(err)
	s.Equal("partial", string(body))
	s.Require().NoError(<-s.peerDone)
}

func (s *ClientStreamTestSuite) TestHeadResponseHasNoBody() {
	s.respond("HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\n")

	s.Require().NoError(s.stream.WriteHeaders(requestHeaders("HEAD", "/"), true, time.Second))
	h, err := s.stream.GetHeaders(time.Second)
	s.Require().NoError(err)
	length, _ := h.Get("content-length")
	s.Equal("10", length)

	_, err = s.stream.GetNextChunk(time.Second)
	s.ErrorIs(err, stream.ErrEndOfBody)
	s.Require().NoError(<-s.peerDone)
}

func (s *ClientStreamTestSuite) TestHeadTimeoutKeepsStreamUsable() {
	go func() {
		_, err := http.NewDecoder(s.peerR, http.DefaultDecodeOptions).DecodeRequest()
		s.peerDone <- err
	}()

	s.Require().NoError(s.stream.WriteHeaders(requestHeaders("GET", "/"), true, time.Second))
	s.Require().NoError(<-s.peerDone)

	_, err := s.stream.GetHeaders(30 * time.Millisecond)
	s.Require().ErrorIs(err, stream.ErrTimeout)

	go func() {
		_, err := s.peer.Write([]byte("HTTP/1.1 204 No Content\r\n\r\n"))
		s.peerDone <- err
	}()

	h, err := s.stream.GetHeaders(deadline.Unbounded)
	s.Require().NoError(err)
	code, _ := h.Status()
	s.Equal(204, code)
	s.Require().NoError(<-s.peerDone)
}

func (s *ClientStreamTestSuite) TestZeroTimeout() {
	_, err := s.stream.GetHeaders(0)
	s.ErrorIs(err, stream.ErrTimeout)

	s.ErrorIs(s.stream.WriteHeaders(requestHeaders("GET", "/"), true, 0), stream.ErrTimeout)
}

func (s *ClientStreamTestSuite) TestUngetBytes() {
	s.respond("HTTP/1.1 200 OK\r\nContent-Length: 4\r\n\r\nbody")

	s.Require().NoError(s.stream.WriteHeaders(requestHeaders("GET", "/"), true, time.Second))
	_, err := s.stream.GetHeaders(time.Second)
	s.Require().NoError(err)

	chunk, err := s.stream.GetNextChunk(time.Second)
	s.Require().NoError(err)
	s.Equal("body", string(chunk))

	s.stream.UngetBytes([]byte("dy"))
	s.stream.UngetBytes([]byte("bo"))

	body, err := stream.NewBodyIO(s.stream, s.clock).ReadAll(time.Second)
	s.Require().NoError(err)
	s.Equal("body", string(body))
	s.Require().NoError(<-s.peerDone)
}

func (s *ClientStreamTestSuite) TestFixedLengthBodyEndsWithLastByte() {
	s.respond("HTTP/1.1 200 OK\r\nContent-Length: 6\r\n\r\nkey=v;")

	s.Require().NoError(s.stream.WriteHeaders(requestHeaders("GET", "/"), true, time.Second))
	_, err := s.stream.GetHeaders(time.Second)
	s.Require().NoError(err)

	data, ended, err := stream.NewBodyIO(s.stream, s.clock).ReadUntil([]byte(";"), true, true, time.Second)
	s.Require().NoError(err)
	s.Equal("key=v;", string(data))
	s.True(ended)

	_, err = s.stream.GetNextChunk(0)
	s.ErrorIs(err, stream.ErrEndOfBody)
	s.Require().NoError(<-s.peerDone)
}

func (s *ClientStreamTestSuite) TestShutdown() {
	s.Require().NoError(s.stream.Shutdown())

	_, err := s.stream.GetHeaders(time.Second)
	s.ErrorIs(err, transport.ErrConnClosed)

	_, err = s.peer.Read(make([]byte, 1))
	s.ErrorIs(err, transport.ErrConnClosed)
}

func (s *ClientStreamTestSuite) TestAddrsAndTLS() {
	s.Equal(s.conn.LocalAddr(), s.stream.LocalAddr())
	s.Equal(s.conn.RemoteAddr(), s.stream.PeerAddr())

	_, ok := s.stream.CheckTLS()
	s.False(ok)
}

type ServerStreamTestSuite struct {
	suite.Suite

	clock  clock.Clock
	conn   transport.Conn
	peer   transport.Conn
	peerR  *bufio.Reader
	stream *Stream
	body   *stream.BodyIO
}

func TestServerStreamTestSuite(t *testing.T) {
	suite.Run(t, new(ServerStreamTestSuite))
}

func (s *ServerStreamTestSuite) SetupTest() {
	s.clock = clock.New()
	s.peer, s.conn = pipe.NewPair("client", "server", s.clock)
	s.peerR = bufio.NewReader(s.peer)
	s.stream = NewStream(s.conn, RoleServer, s.clock, slog.New(slog.DiscardHandler), DefaultOptions())
	s.body = stream.NewBodyIO(s.stream, s.clock)
}

func (s *ServerStreamTestSuite) TearDownTest() {
	s.NoError(s.stream.Shutdown())
	s.NoError(s.peer.Close())
}

func (s *ServerStreamTestSuite) TestReadRequest() {
	done := make(chan error, 1)
	go func() {
		_, err := s.peer.Write([]byte("" +
			"POST /p?q=1 HTTP/1.1\r\n" +
			"Host: example.com\r\n" +
			"Content-Length: 3\r\n" +
			"Authorization: secret\r\n" +
			"\r\n" +
			"abc",
		))
		done <- err
	}()

	h, err := s.stream.GetHeaders(time.Second)
	s.Require().NoError(err)

	expected := []semantic.Field{
		{Name: semantic.PseudoMethod, Value: "POST"},
		{Name: semantic.PseudoScheme, Value: "http"},
		{Name: semantic.PseudoPath, Value: "/p?q=1"},
		{Name: semantic.PseudoAuthority, Value: "example.com"},
		{Name: "content-length", Value: "3"},
		{Name: "authorization", Value: "secret", Sensitive: true},
	}
	s.Equal(expected, h.Fields())
	s.Equal(semantic.MethodPost, s.stream.Method())

	body, err := s.body.ReadAll(time.Second)
	s.Require().NoError(err)
	s.Equal("abc", string(body))
	s.Require().NoError(<-done)
}

func (s *ServerStreamTestSuite) TestReadConnectRequest() {
	done := make(chan error, 1)
	go func() {
		_, err := s.peer.Write([]byte("CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\n\r\n"))
		done <- err
	}()

	h, err := s.stream.GetHeaders(time.Second)
	s.Require().NoError(err)
	s.Equal([]semantic.Field{
		{Name: semantic.PseudoMethod, Value: "CONNECT"},
		{Name: semantic.PseudoAuthority, Value: "example.com:443"},
	}, h.Fields())
	s.Require().NoError(<-done)
}

func (s *ServerStreamTestSuite) TestRejectsAmbiguousFraming() {
	done := make(chan error, 1)
	go func() {
		_, err := s.peer.Write([]byte("POST / HTTP/1.1\r\nHost: h\r\nTransfer-Encoding: gzip\r\n\r\n"))
		done <- err
	}()

	_, err := s.stream.GetHeaders(time.Second)
	s.Error(err)
	s.Require().NoError(<-done)

	// The stream is unusable afterwards.
	_, err = s.stream.GetHeaders(time.Second)
	s.Error(err)
}

func (s *ServerStreamTestSuite) TestContinueAndChunkedResponse() {
	type result struct {
		interim, final http.ResponseHead
		body           []byte
		err            error
	}
	done := make(chan result, 1)
	go func() {
		var r result
		defer func() { done <- r }()

		if _, r.err = s.peer.Write([]byte("PUT /x HTTP/1.1\r\nHost: h\r\nExpect: 100-continue\r\nContent-Length: 2\r\n\r\n")); r.err != nil {
			return
		}

		dec := http.NewDecoder(s.peerR, http.DefaultDecodeOptions)
		if r.interim, r.err = dec.DecodeResponse(); r.err != nil {
			return
		}
		if _, r.err = s.peer.Write([]byte("ok")); r.err != nil {
			return
		}
		if r.final, r.err = dec.DecodeResponse(); r.err != nil {
			return
		}
		r.body, r.err = io.ReadAll(transfer.NewChunkedReader(s.peerR))
	}()

	h, err := s.stream.GetHeaders(time.Second)
	s.Require().NoError(err)
	s.True(h.ExpectsContinue())

	s.Require().NoError(s.body.EmitContinue(time.Second))

	body, err := s.body.ReadAll(time.Second)
	s.Require().NoError(err)
	s.Equal("ok", string(body))

	response := semantic.NewHeaderSet(semantic.Field{Name: semantic.PseudoStatus, Value: "200"})
	s.Require().NoError(s.stream.WriteHeaders(response, false, time.Second))
	s.Require().NoError(s.stream.WriteChunk([]byte("done"), true, time.Second))

	r := <-done
	s.Require().NoError(r.err)
	s.Equal(uint(100), r.interim.StatusCode)
	s.Empty(r.interim.Fields)
	s.Equal(uint(200), r.final.StatusCode)
	s.Equal("OK", r.final.ReasonPhrase)
	s.Contains(r.final.Fields, http.Field{Name: []byte("Transfer-Encoding"), Value: []byte("chunked")})
	s.Contains(r.final.Fields, http.Field{Name: []byte("Connection"), Value: []byte("close")})
	s.Equal("done", string(r.body))
}

func (s *ServerStreamTestSuite) TestEmptyResponseGetsContentLength() {
	type result struct {
		head http.ResponseHead
		err  error
	}
	done := make(chan result, 1)
	go func() {
		if _, err := s.peer.Write([]byte("GET / HTTP/1.1\r\nHost: h\r\n\r\n")); err != nil {
			done <- result{err: err}
			return
		}
		head, err := http.NewDecoder(s.peerR, http.DefaultDecodeOptions).DecodeResponse()
		done <- result{head: head, err: err}
	}()

	_, err := s.stream.GetHeaders(time.Second)
	s.Require().NoError(err)

	_, err = s.stream.GetNextChunk(time.Second)
	s.ErrorIs(err, stream.ErrEndOfBody)

	response := semantic.NewHeaderSet(semantic.Field{Name: semantic.PseudoStatus, Value: "404"})
	s.Require().NoError(s.stream.WriteHeaders(response, true, time.Second))

	r := <-done
	s.Require().NoError(r.err)
	s.Equal(uint(404), r.head.StatusCode)
	s.Contains(r.head.Fields, http.Field{Name: []byte("Content-Length"), Value: []byte("0")})
}

func (s *ServerStreamTestSuite) TestResponseWithoutStatus() {
	s.ErrorIs(s.stream.WriteHeaders(semantic.NewHeaderSet(), true, time.Second), stream.ErrInvalidArgument)
}
