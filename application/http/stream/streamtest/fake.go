// Package streamtest provides a scripted in-memory [stream.Stream].
package streamtest

import (
	"slices"
	"sync"
	"time"

	"http-exchange/application/http/semantic"
	"http-exchange/application/http/stream"
	"http-exchange/transport"

	"github.com/pkg/errors"
)

var ErrNotScripted = errors.New("streamtest: nothing scripted")

type OpKind int

const (
	OpHeaders OpKind = iota
	OpChunk
)

// Op records one outbound call.
type Op struct {
	Kind    OpKind
	Headers *semantic.HeaderSet
	Chunk   []byte
	// EndOfStream for headers, isLast for chunks.
	Last    bool
	Timeout time.Duration
}

type head struct {
	headers *semantic.HeaderSet
	err     error
}

type Addr string

func (a Addr) Network() transport.Protocol { return transport.Pipe }
func (a Addr) String() string              { return string(a) }

// Fake replays scripted header sections and body chunks, and records
// everything written to it.
type Fake struct {
	mu sync.Mutex

	heads   []head
	chunks  [][]byte
	bodyErr error

	ops            []Op
	headerTimeouts []time.Duration
	shutdown       bool

	tls        bool
	serverName string
	local      transport.Addr
	peer       transport.Addr
}

var _ stream.Stream = (*Fake)(nil)

func NewFake() *Fake {
	return &Fake{
		bodyErr: stream.ErrEndOfBody,
		local:   Addr("local"),
		peer:    Addr("peer"),
	}
}

// PushHeaders scripts the next header section returned by GetHeaders.
func (f *Fake) PushHeaders(fields ...semantic.Field) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heads = append(f.heads, head{headers: semantic.NewHeaderSet(fields...)})
	return f
}

// PushHeadersErr scripts a failing GetHeaders.
func (f *Fake) PushHeadersErr(err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heads = append(f.heads, head{err: err})
	return f
}

// PushStatus scripts a response head with the given status and fields.
func (f *Fake) PushStatus(status string, fields ...semantic.Field) *Fake {
	return f.PushHeaders(append([]semantic.Field{{Name: semantic.PseudoStatus, Value: status}}, fields...)...)
}

func (f *Fake) PushChunks(chunks ...string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range chunks {
		f.chunks = append(f.chunks, []byte(c))
	}
	return f
}

// SetBodyErr replaces [stream.ErrEndOfBody] as the result once chunks run out.
func (f *Fake) SetBodyErr(err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodyErr = err
	return f
}

func (f *Fake) SetTLS(serverName string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tls, f.serverName = true, serverName
	return f
}

func (f *Fake) SetAddrs(local, peer transport.Addr) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.local, f.peer = local, peer
	return f
}

func (f *Fake) Ops() []Op {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.ops)
}

// Body concatenates every written chunk.
func (f *Fake) Body() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var body []byte
	for _, op := range f.ops {
		if op.Kind == OpChunk {
			body = append(body, op.Chunk...)
		}
	}
	return body
}

// HeaderTimeouts lists the timeouts GetHeaders was called with.
func (f *Fake) HeaderTimeouts() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.headerTimeouts)
}

func (f *Fake) IsShutdown() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shutdown
}

func (f *Fake) WriteHeaders(h *semantic.HeaderSet, endOfStream bool, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, Op{Kind: OpHeaders, Headers: h.Clone(), Last: endOfStream, Timeout: timeout})
	return nil
}

func (f *Fake) GetHeaders(timeout time.Duration) (*semantic.HeaderSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headerTimeouts = append(f.headerTimeouts, timeout)

	if len(f.heads) == 0 {
		return nil, ErrNotScripted
	}
	next := f.heads[0]
	f.heads = f.heads[1:]
	return next.headers, next.err
}

func (f *Fake) WriteChunk(p []byte, isLast bool, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, Op{Kind: OpChunk, Chunk: slices.Clone(p), Last: isLast, Timeout: timeout})
	return nil
}

func (f *Fake) GetNextChunk(time.Duration) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.chunks) == 0 {
		return nil, f.bodyErr
	}
	next := f.chunks[0]
	f.chunks = f.chunks[1:]
	return next, nil
}

func (f *Fake) UngetBytes(p []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = slices.Insert(f.chunks, 0, p)
}

func (f *Fake) Shutdown() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdown = true
	return nil
}

func (f *Fake) CheckTLS() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.serverName, f.tls
}

func (f *Fake) LocalAddr() transport.Addr { return f.local }
func (f *Fake) PeerAddr() transport.Addr  { return f.peer }

// Connection hands out a fixed sequence of streams.
type Connection struct {
	mu      sync.Mutex
	streams []*Fake
	closed  bool
}

var _ stream.Connection = (*Connection)(nil)

func NewConnection(streams ...*Fake) *Connection {
	return &Connection{streams: streams}
}

func (c *Connection) NewStream() (stream.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || len(c.streams) == 0 {
		return nil, ErrNotScripted
	}
	next := c.streams[0]
	c.streams = c.streams[1:]
	return next, nil
}

func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Connection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
