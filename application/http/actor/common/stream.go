// Package common implements the HTTP/1.1 stream shared by the client and
// server actors. A stream owns its connection and carries one exchange.
package common

import (
	"bufio"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"http-exchange/application/http"
	"http-exchange/application/http/semantic"
	"http-exchange/application/http/semantic/status"
	"http-exchange/application/http/stream"
	"http-exchange/application/http/transfer"
	"http-exchange/lib/deadline"
	"http-exchange/transport"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

type Role int

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

var sensitiveFields = map[string]bool{
	semantic.FieldAuthorization:      true,
	semantic.FieldProxyAuthorization: true,
	"cookie":                         true,
	"set-cookie":                     true,
}

// Stream is an HTTP/1.1 exchange over a transport connection.
// A client-role stream sends a request and receives a response,
// a server-role stream does the opposite.
type Stream struct {
	conn transport.Conn
	role Role

	br       *bufio.Reader
	bw       *bufio.Writer
	dec      *http.Decoder
	enc      *http.Encoder
	transfer *transfer.CodingPipeliner

	clock  clock.Clock
	logger *slog.Logger
	opts   Options

	method semantic.Method // of the request in this exchange

	headSent bool
	out      io.WriteCloser

	headReceived bool
	in           io.Reader
	inDone       bool
	pushed       []byte
	trailers     *semantic.HeaderSet

	broken error

	// readBroken stops reads after a malformed request. A response can
	// still be written.
	readBroken error
	shutdown   bool
}

var _ stream.Stream = (*Stream)(nil)

func NewStream(conn transport.Conn, role Role, clock clock.Clock, logger *slog.Logger, opts Options) *Stream {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultOptions().ChunkSize
	}

	br := bufio.NewReaderSize(conn, max(opts.ReadBufferSize, 16))
	bw := bufio.NewWriterSize(conn, max(opts.WriteBufferSize, 16))

	return &Stream{
		conn:     conn,
		role:     role,
		br:       br,
		bw:       bw,
		dec:      http.NewDecoder(br, opts.Decode),
		enc:      http.NewEncoder(bw, opts.Encode),
		transfer: transfer.NewCodingPipeliner(opts.ExtraTransferCoders...),
		clock:    clock,
		logger:   logger.With("role", role.String(), "peer", conn.RemoteAddr().String()),
		opts:     opts,
	}
}

func (s *Stream) WriteHeaders(h *semantic.HeaderSet, endOfStream bool, timeout time.Duration) error {
	if s.broken != nil {
		return s.broken
	}
	if err := s.setWriteDeadline(timeout); err != nil {
		return err
	}

	var err error
	if s.role == RoleClient {
		err = s.writeRequestHead(h, endOfStream)
	} else {
		err = s.writeResponseHead(h, endOfStream)
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, stream.ErrInvalidArgument):
		// Nothing was written.
		return err
	default:
		return s.fail(convertErr(err))
	}
}

func (s *Stream) writeRequestHead(h *semantic.HeaderSet, endOfStream bool) error {
	if s.headSent {
		return errors.Wrap(stream.ErrInvalidArgument, "request head already sent")
	}

	method := semantic.MethodGet
	if m, ok := h.Get(semantic.PseudoMethod); ok {
		method = semantic.Method(m)
	}

	authority, ok := h.Get(semantic.PseudoAuthority)
	if !ok {
		authority, _ = h.Get(semantic.FieldHost)
	}
	if authority == "" {
		return errors.Wrap(stream.ErrInvalidArgument, "request has no authority")
	}

	target := authority
	if method != semantic.MethodConnect {
		target, _ = h.Get(semantic.PseudoPath)
		if target == "" {
			target = "/"
		}
	}

	// Host goes first.
	// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-7.2-5
	fields := []http.Field{{Name: []byte("Host"), Value: []byte(authority)}}
	fields = appendWireFields(fields, h)
	if method != semantic.MethodConnect && !h.Has(semantic.FieldConnection) {
		fields = append(fields, http.Field{Name: []byte("Connection"), Value: []byte("close")})
	}

	out, fields, err := s.framing(h, fields, endOfStream, false)
	if err != nil {
		return err
	}

	head := http.RequestHead{
		RequestLine: http.RequestLine{Method: string(method), Target: target, Version: http.Version11},
		Fields:      fields,
	}
	if err := s.enc.EncodeRequest(head); err != nil {
		return errors.Wrap(err, "writing request head")
	}

	s.logger.Debug("request head sent", "method", method, "target", target, "headers", h)

	s.method = method
	s.headSent = true
	s.out = out
	return nil
}

func (s *Stream) writeResponseHead(h *semantic.HeaderSet, endOfStream bool) error {
	code, ok := h.Status()
	if !ok {
		return errors.Wrap(stream.ErrInvalidArgument, "response has no valid :status")
	}
	if s.headSent {
		return errors.Wrap(stream.ErrInvalidArgument, "final response head already sent")
	}

	st, _ := status.FromCode(uint(code))
	fields := appendWireFields(nil, h)

	interim := status.IsInformational(code) && code != int(status.SwitchingProtocols.Code)
	if !interim {
		if !h.Has(semantic.FieldDate) {
			// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-6.6.1-6
			fields = append(fields, http.Field{Name: []byte("Date"), Value: []byte(semantic.FormatDate(s.clock.Now()))})
		}
		if !h.Has(semantic.FieldConnection) {
			fields = append(fields, http.Field{Name: []byte("Connection"), Value: []byte("close")})
		}
	}

	var out io.WriteCloser
	if !interim {
		noContent := status.HasNoContent(code) || s.method == semantic.MethodHead
		var err error
		out, fields, err = s.framing(h, fields, endOfStream, noContent)
		if err != nil {
			return err
		}
	}

	head := http.ResponseHead{
		StatusLine: http.StatusLine{Version: http.Version11, StatusCode: uint(code), ReasonPhrase: st.ReasonPhrase},
		Fields:     fields,
	}
	if err := s.enc.EncodeResponse(head); err != nil {
		return errors.Wrap(err, "writing response head")
	}

	s.logger.Debug("response head sent", "status", code, "headers", h)

	if !interim {
		s.headSent = true
		s.out = out
	}
	return nil
}

// framing decides how the content following a head is delimited.
// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-6
func (s *Stream) framing(h *semantic.HeaderSet, fields []http.Field, endOfStream, noContent bool) (io.WriteCloser, []http.Field, error) {
	n, hasLength, err := h.ContentLength()
	if err != nil {
		return nil, nil, errors.Wrap(stream.ErrInvalidArgument, err.Error())
	}

	switch {
	case noContent:
		if endOfStream {
			return nil, fields, nil
		}
		return discardWriter{}, fields, nil

	case endOfStream:
		if !hasLength && s.role == RoleServer {
			fields = append(fields, http.Field{Name: []byte("Content-Length"), Value: []byte("0")})
		}
		return nil, fields, nil

	case hasLength:
		return &fixedWriter{bw: s.bw, remain: n}, fields, nil

	default:
		fields = append(fields, http.Field{Name: []byte("Transfer-Encoding"), Value: []byte(transfer.CodingChunked)})
		w, err := s.transfer.Encode(s.bw, []transfer.Coding{transfer.CodingChunked}, nil)
		if err != nil {
			return nil, nil, err
		}
		return w, fields, nil
	}
}

// GetHeaders reads the next head from the peer.
// A timeout before its first byte arrives leaves the stream usable.
func (s *Stream) GetHeaders(timeout time.Duration) (*semantic.HeaderSet, error) {
	if s.broken != nil {
		return nil, s.broken
	}
	if s.readBroken != nil {
		return nil, s.readBroken
	}
	if s.headReceived {
		return nil, errors.Wrap(stream.ErrInvalidArgument, "final head already received")
	}
	if err := s.setReadDeadline(timeout); err != nil {
		return nil, err
	}

	if _, err := s.br.Peek(1); err != nil {
		if errors.Is(err, transport.ErrDeadLineExceeded) {
			return nil, convertErr(err)
		}
		return nil, s.fail(err)
	}

	var h *semantic.HeaderSet
	var err error
	if s.role == RoleClient {
		h, err = s.readResponseHead()
	} else {
		h, err = s.readRequestHead()
	}
	if err != nil {
		err = convertErr(err)
		if s.role == RoleServer && !isConnErr(err) {
			// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-2.2-9
			s.readBroken = errors.Wrap(stream.ErrInvalidArgument, err.Error())
			return nil, s.readBroken
		}
		return nil, s.fail(err)
	}

	return h, nil
}

func (s *Stream) readResponseHead() (*semantic.HeaderSet, error) {
	head, err := s.dec.DecodeResponse()
	if err != nil {
		return nil, errors.Wrap(err, "reading response head")
	}

	code := int(head.StatusCode)
	fields := []semantic.Field{{Name: semantic.PseudoStatus, Value: strconv.Itoa(code)}}
	h := semantic.NewHeaderSet(appendSemanticFields(fields, head.Fields)...)

	s.logger.Debug("response head received", "status", code, "headers", h)

	if status.IsInformational(code) && code != int(status.SwitchingProtocols.Code) {
		return h, nil
	}

	if err := s.setResponseBody(h, code); err != nil {
		return nil, err
	}

	s.headReceived = true
	return h, nil
}

// setResponseBody applies the message body length rules for responses.
// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-6.3
func (s *Stream) setResponseBody(h *semantic.HeaderSet, code int) error {
	switch {
	case s.method == semantic.MethodHead || status.HasNoContent(code):
		s.inDone = true
		return nil

	case s.method == semantic.MethodConnect && status.Class(code) == 2:
		// The connection becomes a tunnel.
		s.in = &connClosedReader{r: s.br}
		return nil

	case h.Has(semantic.FieldTransferEncoding):
		if !h.IsChunked() {
			// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-6.3-2.4.2
			s.in = &connClosedReader{r: s.br}
			return nil
		}
		return s.decodeTransfer(h)
	}

	n, ok, err := h.ContentLength()
	switch {
	case err != nil:
		return err
	case ok:
		s.in = io.LimitReader(s.br, n)
		s.inDone = n == 0
	default:
		s.in = &connClosedReader{r: s.br}
	}
	return nil
}

func (s *Stream) readRequestHead() (*semantic.HeaderSet, error) {
	head, err := s.dec.DecodeRequest()
	if err != nil {
		return nil, errors.Wrap(err, "reading request head")
	}

	method := semantic.Method(head.Method)
	target, err := semantic.ParseRequestTarget(method, head.Target, s.opts.MaxTargetLength)
	if err != nil {
		return nil, errors.Wrap(err, "parsing request target")
	}

	fields := []semantic.Field{{Name: semantic.PseudoMethod, Value: string(method)}}
	if method != semantic.MethodConnect {
		scheme := target.Scheme
		if scheme == "" {
			_, tls := s.CheckTLS()
			scheme = semantic.SchemeFor(tls)
		}
		fields = append(fields,
			semantic.Field{Name: semantic.PseudoScheme, Value: scheme},
			semantic.Field{Name: semantic.PseudoPath, Value: target.Path},
		)
	}

	authority := target.Authority
	var hosts []string
	for _, f := range head.Fields {
		if strings.EqualFold(string(f.Name), semantic.FieldHost) {
			hosts = append(hosts, string(f.Value))
		}
	}
	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-3.2-6
	if len(hosts) > 1 {
		return nil, errors.New("multiple host fields")
	}
	if authority == "" && len(hosts) == 1 {
		authority = hosts[0]
	}
	if authority != "" {
		fields = append(fields, semantic.Field{Name: semantic.PseudoAuthority, Value: authority})
	}

	h := semantic.NewHeaderSet(appendSemanticFields(fields, head.Fields)...)
	h.Del(semantic.FieldHost)

	s.logger.Debug("request head received", "method", method, "target", head.Target, "headers", h)

	s.method = method
	if err := s.setRequestBody(h); err != nil {
		return nil, err
	}

	s.headReceived = true
	return h, nil
}

// setRequestBody applies the message body length rules for requests.
// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-6.3
func (s *Stream) setRequestBody(h *semantic.HeaderSet) error {
	if h.Has(semantic.FieldTransferEncoding) {
		if !h.IsChunked() {
			// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-6.3-2.4.3
			return errors.New("transfer encoding without chunked. cannot determine body length")
		}
		return s.decodeTransfer(h)
	}

	n, ok, err := h.ContentLength()
	switch {
	case err != nil:
		return err
	case ok && n > 0:
		s.in = io.LimitReader(s.br, n)
	default:
		s.inDone = true
	}
	return nil
}

func (s *Stream) decodeTransfer(h *semantic.HeaderSet) error {
	codings := transfer.ParseCodings(h.Tokens(semantic.FieldTransferEncoding))

	r, err := s.transfer.Decode(s.br, codings, func(f []http.Field) {
		s.trailers = semantic.NewHeaderSet(appendSemanticFields(nil, f)...)
	})
	if err != nil {
		return errors.Wrap(err, "applying transfer coding to body")
	}

	s.in = r
	return nil
}

func (s *Stream) WriteChunk(p []byte, isLast bool, timeout time.Duration) error {
	if s.broken != nil {
		return s.broken
	}
	if s.out == nil {
		if len(p) == 0 && isLast && s.headSent {
			// Nothing to terminate.
			return nil
		}
		return ErrNoBody
	}
	if err := s.setWriteDeadline(timeout); err != nil {
		return err
	}

	if len(p) > 0 {
		if _, err := s.out.Write(p); err != nil {
			if errors.Is(err, ErrBodyTooLong) {
				return err
			}
			return s.fail(convertErr(errors.Wrap(err, "writing body")))
		}
	}

	if isLast {
		err := s.out.Close()
		s.out = nil
		if err != nil {
			return s.fail(convertErr(errors.Wrap(err, "finishing body")))
		}
	}

	return nil
}

func (s *Stream) GetNextChunk(timeout time.Duration) ([]byte, error) {
	if len(s.pushed) > 0 {
		p := s.pushed
		s.pushed = nil
		return p, nil
	}
	if s.broken != nil {
		return nil, s.broken
	}
	if s.readBroken != nil {
		return nil, s.readBroken
	}
	if !s.headReceived {
		return nil, errors.Wrap(stream.ErrInvalidArgument, "head not received yet")
	}
	if s.in == nil || s.inDone {
		return nil, stream.ErrEndOfBody
	}
	if err := s.setReadDeadline(timeout); err != nil {
		return nil, err
	}

	buf := make([]byte, s.opts.ChunkSize)
	for {
		n, err := s.in.Read(buf)
		if errors.Is(err, io.EOF) {
			s.inDone = true
			if n > 0 {
				return buf[:n], nil
			}
			return nil, stream.ErrEndOfBody
		}
		if err != nil {
			return nil, s.fail(convertErr(errors.Wrap(err, "reading body")))
		}
		if n > 0 {
			if lr, ok := s.in.(*io.LimitedReader); ok && lr.N == 0 {
				s.inDone = true
			}
			return buf[:n], nil
		}
	}
}

func (s *Stream) UngetBytes(p []byte) {
	if len(p) == 0 {
		return
	}
	s.pushed = append(append([]byte{}, p...), s.pushed...)
}

// Trailers returns the trailer section of a chunked inbound body,
// once the body has been read to its end.
func (s *Stream) Trailers() *semantic.HeaderSet { return s.trailers }

// Method returns the method of the request carried by the stream.
func (s *Stream) Method() semantic.Method { return s.method }

// Shutdown closes the underlying connection.
func (s *Stream) Shutdown() error {
	if s.shutdown {
		return nil
	}
	s.shutdown = true
	if s.broken == nil {
		s.broken = errors.Wrap(transport.ErrConnClosed, "stream is shut down")
	}

	return s.conn.Close()
}

func (s *Stream) CheckTLS() (string, bool) {
	if tc, ok := s.conn.(transport.TLSConn); ok {
		return tc.ServerName(), true
	}
	return "", false
}

func (s *Stream) LocalAddr() transport.Addr { return s.conn.LocalAddr() }
func (s *Stream) PeerAddr() transport.Addr  { return s.conn.RemoteAddr() }

func (s *Stream) fail(err error) error {
	s.broken = err
	return err
}

func (s *Stream) setReadDeadline(timeout time.Duration) error {
	if timeout == 0 {
		return stream.ErrTimeout
	}
	s.conn.SetReadDeadLine(deadline.At(s.clock, timeout))
	return nil
}

func (s *Stream) setWriteDeadline(timeout time.Duration) error {
	if timeout == 0 {
		return stream.ErrTimeout
	}
	s.conn.SetWriteDeadLine(deadline.At(s.clock, timeout))
	return nil
}

func isConnErr(err error) bool {
	return errors.Is(err, transport.ErrConnClosed) ||
		errors.Is(err, stream.ErrTimeout) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

func convertErr(err error) error {
	if errors.Is(err, transport.ErrDeadLineExceeded) {
		return errors.Wrap(stream.ErrTimeout, err.Error())
	}
	return err
}

// appendWireFields converts regular fields into their HTTP/1.1 form.
// Fields the stream manages itself are left out.
func appendWireFields(fields []http.Field, h *semantic.HeaderSet) []http.Field {
	h.Each(func(f semantic.Field) bool {
		switch {
		case semantic.IsPseudo(f.Name),
			f.Name == semantic.FieldHost,
			f.Name == semantic.FieldTransferEncoding:
			return true
		}
		fields = append(fields, http.Field{
			Name:  []byte(semantic.CanonicalName(f.Name)),
			Value: []byte(f.Value),
		})
		return true
	})
	return fields
}

func appendSemanticFields(fields []semantic.Field, raw []http.Field) []semantic.Field {
	for _, f := range raw {
		name := strings.ToLower(string(f.Name))
		fields = append(fields, semantic.Field{
			Name:      name,
			Value:     string(f.Value),
			Sensitive: sensitiveFields[name],
		})
	}
	return fields
}
