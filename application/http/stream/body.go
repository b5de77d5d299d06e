package stream

import (
	"bytes"
	"io"
	"iter"
	"regexp"
	"time"

	"http-exchange/application/http/semantic"
	"http-exchange/lib/deadline"
	iolib "http-exchange/lib/io"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

// SegmentSize is the size of pieces read from a source body.
const SegmentSize = 1 << 20

// BodyIO implements body reads and writes on top of a [Stream].
// Each call takes one timeout that bounds the whole call,
// however many chunks it has to move.
type BodyIO struct {
	s     Stream
	clock clock.Clock
}

func NewBodyIO(s Stream, clock clock.Clock) *BodyIO {
	return &BodyIO{s: s, clock: clock}
}

func (b *BodyIO) readChunk(dl deadline.Deadline) ([]byte, error) {
	if dl.Exceeded() {
		return nil, ErrTimeout
	}
	return b.s.GetNextChunk(dl.Remaining())
}

func (b *BodyIO) writeChunk(dl deadline.Deadline, p []byte, isLast bool) error {
	if dl.Exceeded() {
		return ErrTimeout
	}
	return b.s.WriteChunk(p, isLast, dl.Remaining())
}

// Chunks iterates over the remaining body. It ends silently at the end of
// body, and yields a nil chunk with the error of a failed read before
// stopping. The sequence consumes the stream and cannot be restarted.
func (b *BodyIO) Chunks(timeout time.Duration) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		dl := deadline.New(b.clock, timeout)
		for {
			chunk, err := b.readChunk(dl)
			if errors.Is(err, ErrEndOfBody) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

// ReadAll returns the rest of the body.
func (b *BodyIO) ReadAll(timeout time.Duration) ([]byte, error) {
	var buf bytes.Buffer
	for chunk, err := range b.Chunks(timeout) {
		if err != nil {
			return nil, err
		}
		buf.Write(chunk)
	}
	return buf.Bytes(), nil
}

// ReadExactly returns the next n bytes of the body.
// Bytes read past n are pushed back onto the stream.
// A body that ends early yields the short read, or [ErrUnexpectedEnd]
// when nothing at all could be read.
func (b *BodyIO) ReadExactly(n int, timeout time.Duration) ([]byte, error) {
	if n < 0 {
		return nil, errors.Wrapf(ErrInvalidArgument, "negative length %d", n)
	}
	if n == 0 {
		return []byte{}, nil
	}

	dl := deadline.New(b.clock, timeout)
	buf := make([]byte, 0, n)
	for len(buf) < n {
		chunk, err := b.readChunk(dl)
		if errors.Is(err, ErrEndOfBody) {
			if len(buf) == 0 {
				return nil, ErrUnexpectedEnd
			}
			return buf, nil
		}
		if err != nil {
			return nil, err
		}
		buf = append(buf, chunk...)
	}

	if len(buf) > n {
		b.s.UngetBytes(bytes.Clone(buf[n:]))
		buf = buf[:n]
	}

	return buf, nil
}

// ReadUntil reads up to the first match of pattern and pushes back
// whatever follows it. The pattern is a literal when plain is set,
// otherwise a regular expression. includeMatch decides whether the matched
// bytes are part of the result.
//
// ended reports that the body ended before a match was found, data then
// holding everything that was left, or that it ended right after the match.
func (b *BodyIO) ReadUntil(pattern []byte, plain, includeMatch bool, timeout time.Duration) (data []byte, ended bool, err error) {
	if len(pattern) == 0 {
		return nil, false, errors.Wrap(ErrInvalidArgument, "empty pattern")
	}

	find := func(buf []byte) (int, int) {
		idx := bytes.Index(buf, pattern)
		if idx < 0 {
			return -1, -1
		}
		return idx, idx + len(pattern)
	}

	if !plain {
		re, err := regexp.Compile(string(pattern))
		if err != nil {
			return nil, false, errors.Wrapf(ErrInvalidArgument, "pattern: %s", err)
		}
		find = func(buf []byte) (int, int) {
			loc := re.FindIndex(buf)
			if loc == nil {
				return -1, -1
			}
			return loc[0], loc[1]
		}
	}

	dl := deadline.New(b.clock, timeout)
	var buf []byte
	for {
		chunk, err := b.readChunk(dl)
		if errors.Is(err, ErrEndOfBody) {
			return buf, true, nil
		}
		if err != nil {
			return nil, false, err
		}
		buf = append(buf, chunk...)

		start, end := find(buf)
		if start < 0 {
			continue
		}

		ended := false
		if rest := buf[end:]; len(rest) > 0 {
			b.s.UngetBytes(bytes.Clone(rest))
		} else {
			ended, err = b.endsHere()
			if err != nil {
				return nil, false, err
			}
		}
		if includeMatch {
			return buf[:end], ended, nil
		}
		return buf[:start], ended, nil
	}
}

// endsHere reports whether the body is complete, without waiting for more
// of it. Data already available is pushed back.
func (b *BodyIO) endsHere() (bool, error) {
	chunk, err := b.s.GetNextChunk(0)
	switch {
	case errors.Is(err, ErrEndOfBody):
		return true, nil
	case errors.Is(err, ErrTimeout):
		return false, nil
	case err != nil:
		return false, err
	}
	if len(chunk) > 0 {
		b.s.UngetBytes(bytes.Clone(chunk))
	}
	return false, nil
}

// DrainTo writes the rest of the body to w as it arrives.
func (b *BodyIO) DrainTo(w io.Writer, timeout time.Duration) error {
	for chunk, err := range b.Chunks(timeout) {
		if err != nil {
			return err
		}
		if _, err := iolib.WriteFull(w, chunk); err != nil {
			return errors.Wrap(err, "writing to sink")
		}
	}
	return nil
}

// WriteFromBuffer sends p as the whole body.
func (b *BodyIO) WriteFromBuffer(p []byte, timeout time.Duration) error {
	return b.writeChunk(deadline.New(b.clock, timeout), p, true)
}

// WriteFromSource sends r in segments of up to [SegmentSize] bytes,
// then terminates the body with an empty last chunk.
func (b *BodyIO) WriteFromSource(r io.Reader, timeout time.Duration) error {
	dl := deadline.New(b.clock, timeout)
	buf := make([]byte, SegmentSize)

	for {
		if dl.Exceeded() {
			return ErrTimeout
		}

		n, err := r.Read(buf)
		if n > 0 {
			if err := b.writeChunk(dl, buf[:n], false); err != nil {
				return err
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return errors.Wrap(err, "reading source")
		}
	}

	return b.writeChunk(dl, nil, true)
}

// EmitContinue sends a "100 Continue" interim response.
func (b *BodyIO) EmitContinue(timeout time.Duration) error {
	h := semantic.NewHeaderSet(semantic.Field{Name: semantic.PseudoStatus, Value: "100"})
	return b.s.WriteHeaders(h, false, timeout)
}
