package common

import (
	"bufio"
	"io"

	"http-exchange/transport"

	"github.com/pkg/errors"
)

var (
	ErrBodyTooLong  = errors.New("body exceeds declared content-length")
	ErrBodyTooShort = errors.New("body ended before declared content-length")
	ErrNoBody       = errors.New("no body is being sent")
)

// connClosedReader overwrites [transport.ErrConnClosed] as [io.EOF],
// for bodies delimited by the peer closing the connection.
type connClosedReader struct{ r io.Reader }

func (r *connClosedReader) Read(p []byte) (n int, err error) {
	n, err = r.r.Read(p)
	if errors.Is(err, transport.ErrConnClosed) {
		return n, io.EOF
	}
	return n, err
}

// fixedWriter sends exactly the declared number of bytes.
type fixedWriter struct {
	bw     *bufio.Writer
	remain int64
}

func (w *fixedWriter) Write(p []byte) (int, error) {
	if int64(len(p)) > w.remain {
		return 0, errors.Wrapf(ErrBodyTooLong, "%d bytes left, got %d", w.remain, len(p))
	}

	n, err := w.bw.Write(p)
	w.remain -= int64(n)
	if err != nil {
		return n, err
	}

	return n, w.bw.Flush()
}

func (w *fixedWriter) Close() error {
	if w.remain != 0 {
		return errors.Wrapf(ErrBodyTooShort, "%d bytes missing", w.remain)
	}
	return w.bw.Flush()
}

// discardWriter swallows content that must not be sent, e.g. for HEAD.
type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
func (discardWriter) Close() error                { return nil }
