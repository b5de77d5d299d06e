// Package transfer implements HTTP/1.1 transfer codings.
package transfer

import (
	"io"
	"strings"

	"http-exchange/application/http"

	"github.com/pkg/errors"
)

type Coding string

const (
	CodingChunked Coding = "chunked"
)

// Coder decodes and encodes a single transfer coding.
type Coder interface {
	Coding() Coding
	NewReader(r io.Reader) io.Reader
	NewWriter(w io.Writer) io.WriteCloser
}

type chunkedCoder struct{}

func NewChunkedCoder() Coder { return chunkedCoder{} }

func (chunkedCoder) Coding() Coding                       { return CodingChunked }
func (chunkedCoder) NewReader(r io.Reader) io.Reader      { return NewChunkedReader(r) }
func (chunkedCoder) NewWriter(w io.Writer) io.WriteCloser { return NewChunkedWriter(w) }

// CodingPipeliner stacks coders in the order given by Transfer-Encoding.
type CodingPipeliner struct{ coders map[Coding]Coder }

func NewCodingPipeliner(customs ...Coder) *CodingPipeliner {
	cp := &CodingPipeliner{
		coders: map[Coding]Coder{CodingChunked: NewChunkedCoder()},
	}

	for _, coder := range customs {
		cp.coders[coder.Coding()] = coder
	}

	return cp
}

var ErrUnsupportedCoding = errors.New("coding is unsupported")

// ParseCodings converts transfer coding tokens, ignoring their parameters.
func ParseCodings(tokens []string) []Coding {
	codings := make([]Coding, 0, len(tokens))
	for _, token := range tokens {
		name, _, _ := strings.Cut(token, ";")
		codings = append(codings, Coding(strings.ToLower(strings.TrimSpace(name))))
	}
	return codings
}

// Decode wraps r so that codings are removed in reverse order of application.
func (cp *CodingPipeliner) Decode(r io.Reader, codings []Coding, onTrailer func(f []http.Field)) (io.Reader, error) {
	for idx := len(codings) - 1; idx >= 0; idx-- {
		coding := codings[idx]
		coder, ok := cp.coders[coding]
		if !ok {
			return nil, errors.Wrapf(ErrUnsupportedCoding, "%q", coding)
		}

		r = coder.NewReader(r)
		if cr, ok := r.(*ChunkedReader); ok && onTrailer != nil {
			cr.SetOnTrailerReceived(func(f []http.Field) {
				if len(f) == 0 {
					return
				}
				onTrailer(f)
			})
		}
	}

	return r, nil
}

// Encode wraps w so that codings are applied in the order given.
// Closing the returned writer finishes every coding but leaves w open.
func (cp *CodingPipeliner) Encode(w io.Writer, codings []Coding, sendTrailers func() []http.Field) (io.WriteCloser, error) {
	if len(codings) == 0 {
		return nil, errors.Wrap(ErrUnsupportedCoding, "no codings")
	}

	writers := make([]io.WriteCloser, 0, len(codings))
	for idx := len(codings) - 1; idx >= 0; idx-- {
		coding := codings[idx]
		coder, ok := cp.coders[coding]
		if !ok {
			return nil, errors.Wrapf(ErrUnsupportedCoding, "%q", coding)
		}

		wc := coder.NewWriter(w)
		if cw, ok := wc.(*ChunkedWriter); ok && sendTrailers != nil {
			cw.SetSendTrailers(sendTrailers)
		}
		writers = append(writers, wc)
		w = wc
	}

	return &pipeline{writers: writers}, nil
}

// pipeline closes writers from the outermost one inward.
type pipeline struct{ writers []io.WriteCloser }

func (p *pipeline) Write(b []byte) (int, error) {
	return p.writers[len(p.writers)-1].Write(b)
}

func (p *pipeline) Close() error {
	for idx := len(p.writers) - 1; idx >= 0; idx-- {
		if err := p.writers[idx].Close(); err != nil {
			return err
		}
	}
	return nil
}
