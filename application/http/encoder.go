package http

import (
	"bufio"
	"strconv"

	"http-exchange/application/util/rule"

	"github.com/pkg/errors"
	"golang.org/x/net/http/httpguts"
)

type EncodeOptions struct {
	// UseSoleLF specifies wheter a single LF character should be used as a line terminator.
	//
	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-2.2-3
	UseSoleLF bool
}

var DefaultEncodeOptions = EncodeOptions{
	UseSoleLF: false,
}

var ErrInvalidField = errors.New("field is not valid")

// Encoder writes message heads into a buffered writer.
// Heads are flushed once complete so content can follow unbuffered.
type Encoder struct {
	bw   *bufio.Writer
	opts EncodeOptions
}

func NewEncoder(bw *bufio.Writer, opts EncodeOptions) *Encoder {
	return &Encoder{bw: bw, opts: opts}
}

func (e *Encoder) EncodeRequest(head RequestHead) error {
	line := make([]byte, 0, len(head.Method)+len(head.Target)+10)
	line = append(line, head.Method...)
	line = append(line, rule.SP)
	line = append(line, head.Target...)
	line = append(line, rule.SP)
	line = append(line, head.Version.Text()...)

	if err := e.writeLine(line); err != nil {
		return errors.Wrap(err, "writing request line")
	}

	return e.encodeSection(head.Fields)
}

func (e *Encoder) EncodeResponse(head ResponseHead) error {
	line := head.Version.Text()
	line = append(line, rule.SP)
	line = strconv.AppendUint(line, uint64(head.StatusCode), 10)
	line = append(line, rule.SP)
	line = append(line, head.ReasonPhrase...)

	if err := e.writeLine(line); err != nil {
		return errors.Wrap(err, "writing status line")
	}

	return e.encodeSection(head.Fields)
}

// EncodeFields writes a bare field section, as used for trailers.
func (e *Encoder) EncodeFields(fields []Field) error {
	return e.encodeSection(fields)
}

func (e *Encoder) encodeSection(fields []Field) error {
	for _, field := range fields {
		if !httpguts.ValidHeaderFieldName(string(field.Name)) ||
			!httpguts.ValidHeaderFieldValue(string(field.Value)) {
			return errors.Wrapf(ErrInvalidField, "%q", field.Name)
		}
		if err := e.writeLine(field.Text()); err != nil {
			return errors.Wrap(err, "writing field")
		}
	}

	if err := e.writeLine(nil); err != nil {
		return errors.Wrap(err, "writing line terminator")
	}

	if err := e.bw.Flush(); err != nil {
		return errors.Wrap(err, "flushing head")
	}

	return nil
}

func (e *Encoder) writeLine(line []byte) error {
	if _, err := e.bw.Write(line); err != nil {
		return errors.Wrap(err, "writing line")
	}

	term := rule.CRLF
	if e.opts.UseSoleLF {
		term = term[1:]
	}

	if _, err := e.bw.Write(term); err != nil {
		return errors.Wrap(err, "writing line terminator")
	}

	return nil
}
