package client

import (
	"io"
	"time"

	"github.com/pkg/errors"
)

type BodyKind int

const (
	BodyEmpty BodyKind = iota
	BodyBuffer
	BodySource
	BodyGenerator
)

func (k BodyKind) String() string {
	switch k {
	case BodyBuffer:
		return "buffer"
	case BodySource:
		return "source"
	case BodyGenerator:
		return "generator"
	}
	return "empty"
}

// Generator yields the next segment of a body within the remaining time.
// It reports done once the body is complete; a segment returned together
// with done is still sent.
//
// A request resends its body on redirect, so a generator is called again
// from the start. Generators that cannot restart must not be used with
// redirects enabled.
type Generator func(remaining time.Duration) (segment []byte, done bool, err error)

// Body is the content attached to a request.
// The zero value is an empty body.
type Body struct {
	kind BodyKind
	buf  []byte
	src  io.Reader
	gen  Generator

	// size is the length of a source body whose length was recorded
	// while it was written, negative when unknown.
	size int64
}

func NoBody() Body { return Body{} }

func BufferBody(p []byte) Body { return Body{kind: BodyBuffer, buf: p} }

// SourceBody reads the content from r. Its length is unknown, so it is sent
// chunked after a 100-continue handshake. A source implementing [io.Seeker]
// is rewound before each send so a redirect can resend it.
// The request never closes r.
func SourceBody(r io.Reader) Body { return Body{kind: BodySource, src: r, size: -1} }

// sizedSource is a source whose length n is already known, such as a body
// spilled to a file.
func sizedSource(r io.Reader, n int64) Body { return Body{kind: BodySource, src: r, size: n} }

func GeneratorBody(g Generator) Body { return Body{kind: BodyGenerator, gen: g} }

func (b Body) Kind() BodyKind { return b.kind }

// Bytes returns the content of a buffer body.
func (b Body) Bytes() []byte { return b.buf }

// Length returns the content length when it is known before sending.
func (b Body) Length() (int64, bool) {
	switch b.kind {
	case BodyEmpty:
		return 0, true
	case BodyBuffer:
		return int64(len(b.buf)), true
	case BodySource:
		return max(b.size, 0), b.size >= 0
	}
	return 0, false
}

// rewind puts a seekable source back to its start.
func (b Body) rewind() error {
	seeker, ok := b.src.(io.Seeker)
	if !ok {
		return nil
	}
	_, err := seeker.Seek(0, io.SeekStart)
	return errors.Wrap(err, "rewinding body source")
}
