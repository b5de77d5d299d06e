package transfer

import (
	"bufio"
	"bytes"
	"io"
	"strconv"

	"http-exchange/application/http"
	"http-exchange/application/util/rule"
	bytesutil "http-exchange/util/bytes"

	"github.com/pkg/errors"
)

// maxChunkLineLength bounds chunk-size lines including extensions.
const maxChunkLineLength = 4096

var (
	ErrMalformedChunk    = errors.New("chunk is malformed")
	ErrMissingDelimiter  = errors.New("CRLF delimiter not found after chunk data")
	ErrChunkLineTooLong  = errors.New("chunk line exceeds limit")
	ErrChunkSizeOverflow = errors.New("chunk size larger than 64bit")
)

type Chunk struct {
	Size       uint64
	Extensions [][2]string
}

// ChunkedReader converts a chunked message body into a byte stream.
// It never reads past the end of the chunked body,
// so the underlying reader can be reused for the next message.
type ChunkedReader struct {
	br     *bufio.Reader
	chunk  *Chunk
	remain uint64
	done   bool

	onTrailer func(f []http.Field)
}

var _ io.Reader = (*ChunkedReader)(nil)

// NewChunkedReader reuses r when it is already a [bufio.Reader].
func NewChunkedReader(r io.Reader) *ChunkedReader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &ChunkedReader{br: br}
}

// SetOnTrailerReceived registers fn to be called once the trailer section is read.
func (cr *ChunkedReader) SetOnTrailerReceived(fn func(f []http.Field)) {
	cr.onTrailer = fn
}

// LastChunk returns the chunk currently being read.
func (cr *ChunkedReader) LastChunk() *Chunk { return cr.chunk }

func (cr *ChunkedReader) Read(b []byte) (int, error) {
	if cr.done {
		return 0, io.EOF
	}

	if cr.chunk == nil {
		if err := cr.decodeChunk(); err != nil {
			return 0, errors.Wrap(err, "decoding chunk")
		}

		if cr.chunk.Size == 0 {
			if err := cr.decodeTrailers(); err != nil {
				return 0, errors.Wrap(err, "decoding trailer")
			}
			cr.done = true
			return 0, io.EOF
		}
	}

	if uint64(len(b)) > cr.remain {
		b = b[:cr.remain]
	}

	n, err := cr.br.Read(b)
	cr.remain -= uint64(n)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return n, errors.Wrap(err, "reading chunk data")
	}

	if cr.remain == 0 {
		var crlf [2]byte
		if _, err := io.ReadFull(cr.br, crlf[:]); err != nil {
			return n, errors.Wrap(err, "reading chunk delimiter")
		}
		if !bytes.Equal(crlf[:], rule.CRLF) {
			return n, ErrMissingDelimiter
		}
		cr.chunk = nil
	}

	return n, nil
}

func (cr *ChunkedReader) decodeChunk() error {
	line, err := readLine(cr.br)
	if err != nil {
		return err
	}

	parts := bytes.Split(line, []byte{';'})

	sizeRaw := bytes.TrimFunc(parts[0], rule.IsWhitespace)
	size, err := decodeChunkSize(sizeRaw)
	if err != nil {
		return errors.Wrap(err, "decoding chunk size")
	}

	var extensions [][2]string
	for _, part := range parts[1:] {
		k, v, _ := bytes.Cut(part, []byte{'='})
		// BWS.
		k = bytes.TrimFunc(k, rule.IsWhitespace)
		v = bytes.TrimFunc(v, rule.IsWhitespace)
		if len(k) == 0 {
			return ErrMalformedChunk
		}

		extensions = append(extensions, [2]string{string(k), string(rule.Unquote(v))})
	}

	cr.chunk = &Chunk{Size: size, Extensions: extensions}
	cr.remain = size
	return nil
}

func decodeChunkSize(b []byte) (uint64, error) {
	if len(b) == 0 {
		return 0, ErrMalformedChunk
	}

	size, err := strconv.ParseUint(string(b), 16, 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return 0, ErrChunkSizeOverflow
		}
		return 0, errors.Wrapf(ErrMalformedChunk, "invalid hex %q", b)
	}

	return size, nil
}

func (cr *ChunkedReader) decodeTrailers() error {
	fields, err := http.NewDecoder(cr.br, http.DefaultDecodeOptions).DecodeFields()
	if err != nil {
		return err
	}

	if cr.onTrailer != nil {
		cr.onTrailer(fields)
	}

	return nil
}

// ChunkedWriter frames every Write as one chunk.
// Close writes the last chunk and the trailer section.
// It does not close the underlying writer.
type ChunkedWriter struct {
	bw     *bufio.Writer
	closed bool

	extensions   [][2]string
	sendTrailers func() []http.Field
}

var _ io.WriteCloser = (*ChunkedWriter)(nil)

func NewChunkedWriter(w io.Writer) *ChunkedWriter {
	bw, ok := w.(*bufio.Writer)
	if !ok {
		bw = bufio.NewWriter(w)
	}
	return &ChunkedWriter{bw: bw}
}

// SetExtensions sets extensions of the next chunk.
// They live until the next [ChunkedWriter.Write] or [ChunkedWriter.Close].
func (cw *ChunkedWriter) SetExtensions(extensions [][2]string) {
	cw.extensions = extensions
}

// SetSendTrailers registers fn to supply the trailer section on Close.
func (cw *ChunkedWriter) SetSendTrailers(fn func() []http.Field) {
	cw.sendTrailers = fn
}

func (cw *ChunkedWriter) Write(p []byte) (int, error) {
	if cw.closed {
		return 0, io.ErrClosedPipe
	}
	if len(p) == 0 {
		// A zero sized chunk terminates the body.
		return 0, nil
	}

	chunk := Chunk{Size: uint64(len(p)), Extensions: cw.extensions}
	cw.extensions = nil

	n, err := cw.encodeChunk(chunk, p)
	if err != nil {
		return n, errors.Wrap(err, "encoding chunk")
	}

	if err := cw.bw.Flush(); err != nil {
		return n, errors.Wrap(err, "flushing chunk")
	}

	return n, nil
}

func (cw *ChunkedWriter) Close() error {
	if cw.closed {
		return nil
	}
	cw.closed = true

	if _, err := cw.encodeChunk(Chunk{Extensions: cw.extensions}, nil); err != nil {
		return errors.Wrap(err, "encoding chunk")
	}

	if err := cw.encodeTrailers(); err != nil {
		return errors.Wrap(err, "encoding trailers")
	}

	return nil
}

func (cw *ChunkedWriter) encodeChunk(chunk Chunk, data []byte) (int, error) {
	var head bytes.Buffer
	head.WriteString(strconv.FormatUint(chunk.Size, 16))
	for _, ext := range chunk.Extensions {
		head.WriteByte(';')
		head.WriteString(ext[0])
		if ext[1] != "" {
			head.WriteByte('=')
			head.WriteString(ext[1])
		}
	}

	if err := writeLine(cw.bw, head.Bytes()); err != nil {
		return 0, errors.Wrap(err, "writing chunk header")
	}

	if chunk.Size == 0 {
		return 0, nil
	}

	n, err := cw.bw.Write(data)
	if err != nil {
		return n, errors.Wrap(err, "writing data")
	}

	if _, err := cw.bw.Write(rule.CRLF); err != nil {
		return n, errors.Wrap(err, "writing chunk delimiter")
	}

	return n, nil
}

func (cw *ChunkedWriter) encodeTrailers() error {
	var trailers []http.Field
	if cw.sendTrailers != nil {
		trailers = cw.sendTrailers()
	}

	return http.NewEncoder(cw.bw, http.DefaultEncodeOptions).EncodeFields(trailers)
}

// readLine reads until CRLF and cuts it.
func readLine(br *bufio.Reader) ([]byte, error) {
	line, err := bytesutil.ReadUntil(br, rule.CRLF, maxChunkLineLength)
	if err != nil {
		if errors.Is(err, bytesutil.ErrLimitExceeded) {
			return nil, ErrChunkLineTooLong
		}
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}

	return line[:len(line)-len(rule.CRLF)], nil
}

func writeLine(w io.Writer, line []byte) error {
	if _, err := w.Write(line); err != nil {
		return errors.Wrap(err, "writing line")
	}
	if _, err := w.Write(rule.CRLF); err != nil {
		return errors.Wrap(err, "writing line terminator")
	}
	return nil
}
