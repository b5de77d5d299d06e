// Package bytesutil has small helpers for delimiter-based reads.
package bytesutil

import (
	"bufio"
	"bytes"
	"io"

	"github.com/pkg/errors"
)

var ErrLimitExceeded = errors.New("read limit exceeded before delimiter")

// ReadUntil reads from r until delim. The output will include delim.
// A positive limit bounds the number of bytes read.
// io.EOF is returned only when r ended before any byte was read,
// io.ErrUnexpectedEOF when it ended in the middle.
func ReadUntil(r *bufio.Reader, delim []byte, limit uint) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	last := delim[len(delim)-1]

	for {
		chunk, err := r.ReadSlice(last)
		buf.Write(chunk)

		if limit > 0 && uint(buf.Len()) > limit {
			return nil, ErrLimitExceeded
		}

		switch {
		case err == nil:
			if bytes.HasSuffix(buf.Bytes(), delim) {
				return buf.Bytes(), nil
			}
		case errors.Is(err, bufio.ErrBufferFull):
			// Keep accumulating.
		case err == io.EOF:
			if buf.Len() == 0 {
				return nil, io.EOF
			}
			return nil, io.ErrUnexpectedEOF
		default:
			return nil, err
		}
	}
}
