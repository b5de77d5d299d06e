package http

import (
	"bufio"
	"bytes"
	"io"
	"strconv"

	"http-exchange/application/util/rule"
	bytesutil "http-exchange/util/bytes"

	"github.com/pkg/errors"
)

type DecodeOptions struct {
	// AllowSoleLF specifies wheter a single LF character should be recognized as a valid line terminator.
	//
	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-2.2-3
	AllowSoleLF bool

	// LenientWhitespace replaces all [rule.Whitespaces] into [rule.SP].
	// And also trims preceding and trailinig whitespace.
	//
	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-3-3
	LenientWhitespace bool

	// MaxFieldLineLength sets the limit of field line length on headers.
	MaxFieldLineLength uint

	// MaxStartLineLength sets the limit of request and status line length.
	// Recommended: >= 8000
	//
	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-3-5
	MaxStartLineLength uint

	// MaxFields limits the number of field lines in one section.
	MaxFields uint
}

var DefaultDecodeOptions = DecodeOptions{
	MaxFieldLineLength: 16 << 10,
	MaxStartLineLength: 16 << 10,
	MaxFields:          256,
}

var (
	errLineTooLong       = errors.New("line length exceeeds limit")
	ErrMissingCRBeforeLF = errors.New("missing CR before LF")

	ErrFieldLineTooLong   = errors.New("field line length exceeds limit")
	ErrMalformedFieldLine = errors.New("field line is malformed")
	ErrTooManyFields      = errors.New("too many field lines")

	ErrStartLineTooLong     = errors.New("start line length exceeds limit")
	ErrMalformedRequestLine = errors.New("request line is malformed")
	ErrMalformedStatusLine  = errors.New("status line is malformed")
)

// Decoder reads message heads from a buffered reader.
// Whatever follows a head stays in the reader for the content decoder.
type Decoder struct {
	br   *bufio.Reader
	opts DecodeOptions
}

func NewDecoder(br *bufio.Reader, opts DecodeOptions) *Decoder {
	return &Decoder{br: br, opts: opts}
}

// DecodeRequest reads a request line and its field section.
// It returns io.EOF when the peer closed before sending anything.
func (d *Decoder) DecodeRequest() (RequestHead, error) {
	line, err := d.readStartLine()
	if err != nil {
		return RequestHead{}, err
	}

	reqLine, err := parseRequestLine(line)
	if err != nil {
		return RequestHead{}, errors.Wrap(ErrMalformedRequestLine, err.Error())
	}

	fields, err := d.DecodeFields()
	if err != nil {
		return RequestHead{}, errors.Wrap(err, "decoding fields")
	}

	return RequestHead{RequestLine: reqLine, Fields: fields}, nil
}

// DecodeResponse reads a status line and its field section.
func (d *Decoder) DecodeResponse() (ResponseHead, error) {
	line, err := d.readStartLine()
	if err != nil {
		return ResponseHead{}, err
	}

	statLine, err := parseStatusLine(line)
	if err != nil {
		return ResponseHead{}, errors.Wrap(ErrMalformedStatusLine, err.Error())
	}

	fields, err := d.DecodeFields()
	if err != nil {
		return ResponseHead{}, errors.Wrap(err, "decoding fields")
	}

	return ResponseHead{StatusLine: statLine, Fields: fields}, nil
}

// DecodeFields reads field lines up to the empty line.
// It is used for both headers and trailers.
func (d *Decoder) DecodeFields() ([]Field, error) {
	fields := make([]Field, 0)
	for {
		fieldLine, err := d.readLine(d.opts.MaxFieldLineLength)
		if err != nil {
			if errors.Is(err, errLineTooLong) {
				return nil, ErrFieldLineTooLong
			}
			return nil, errors.Wrap(err, "reading line")
		}

		if len(fieldLine) == 0 {
			return fields, nil
		}

		if d.opts.MaxFields > 0 && uint(len(fields)) >= d.opts.MaxFields {
			return nil, ErrTooManyFields
		}

		field, err := ParseField(fieldLine)
		if err != nil {
			return nil, ErrMalformedFieldLine
		}
		fields = append(fields, field)
	}
}

func (d *Decoder) readStartLine() ([]byte, error) {
	for first := true; ; first = false {
		b, err := d.readLine(d.opts.MaxStartLineLength)
		if err != nil {
			if errors.Is(err, errLineTooLong) {
				return nil, ErrStartLineTooLong
			}
			if first && errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, errors.Wrap(err, "reading line")
		}

		// Empty lines can be received before a message.
		// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-2.2-6
		if len(b) > 0 {
			return b, nil
		}
	}
}

func (d *Decoder) readLine(limit uint) ([]byte, error) {
	b, err := bytesutil.ReadUntil(d.br, []byte{rule.LF}, limit)
	if err != nil {
		if errors.Is(err, bytesutil.ErrLimitExceeded) {
			return nil, errLineTooLong
		}
		return nil, err
	}

	b = b[:len(b)-1] // LF

	if !d.opts.AllowSoleLF {
		if len(b) == 0 || b[len(b)-1] != rule.CR {
			return nil, ErrMissingCRBeforeLF
		}
		b = b[:len(b)-1] // CR
	} else {
		b = bytes.TrimSuffix(b, []byte{rule.CR})
	}

	if d.opts.LenientWhitespace {
		for _, c := range rule.Whitespaces {
			b = bytes.ReplaceAll(b, []byte{c}, []byte{rule.SP})
		}
		return bytes.Trim(b, string([]byte{rule.SP})), nil
	}

	// A bare CR is treated as SP.
	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-2.2-4
	return bytes.ReplaceAll(b, []byte{rule.CR}, []byte{rule.SP}), nil
}

func parseRequestLine(line []byte) (RequestLine, error) {
	parts := bytes.Split(line, []byte{rule.SP})
	if len(parts) != 3 {
		return RequestLine{}, errors.New("request line should have three parts")
	}

	method := string(parts[0])
	if !rule.IsValidToken(method) {
		return RequestLine{}, errors.New("method is not a valid token")
	}

	target := string(parts[1])
	if len(target) == 0 {
		return RequestLine{}, errors.New("request target should not be empty")
	}

	ver, err := ParseVersion(parts[2])
	if err != nil {
		return RequestLine{}, errors.Wrap(err, "parsing version")
	}

	return RequestLine{Method: method, Target: target, Version: ver}, nil
}

func parseStatusLine(line []byte) (StatusLine, error) {
	// A missing SP before an empty reason-phrase is tolerated.
	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-4
	parts := bytes.SplitN(line, []byte{rule.SP}, 3)
	if len(parts) < 2 {
		return StatusLine{}, errors.New("status line should have at least two parts")
	}
	reason := ""
	if len(parts) == 3 {
		reason = string(parts[2])
	}

	ver, err := ParseVersion(parts[0])
	if err != nil {
		return StatusLine{}, errors.Wrap(err, "parsing version")
	}

	codeRaw := string(parts[1])
	code, err := strconv.ParseUint(codeRaw, 10, 64)
	if err != nil || len(codeRaw) != 3 {
		return StatusLine{}, errors.Errorf("status code is malformed: %q", codeRaw)
	}

	return StatusLine{Version: ver, StatusCode: uint(code), ReasonPhrase: reason}, nil
}
