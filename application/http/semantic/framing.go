package semantic

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var ErrInvalidContentLength = errors.New("invalid content-length")

// ContentLength returns the declared content length of a message.
// Repeated fields must agree.
// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-8.6
func (h *HeaderSet) ContentLength() (n int64, ok bool, err error) {
	n = -1
	for _, v := range h.Tokens(FieldContentLength) {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed < 0 {
			return 0, false, errors.Wrapf(ErrInvalidContentLength, "%q", v)
		}
		if n >= 0 && parsed != n {
			return 0, false, errors.Wrap(ErrInvalidContentLength, "conflicting values")
		}
		n = parsed
	}

	if n < 0 {
		return 0, false, nil
	}
	return n, true, nil
}

// SetContentLength upserts the content-length field.
func (h *HeaderSet) SetContentLength(n int64) {
	h.Upsert(FieldContentLength, strconv.FormatInt(n, 10), false)
}

// TransferCodings returns the lowercased transfer-coding list in the order
// they were applied.
// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-6.1
func (h *HeaderSet) TransferCodings() []string {
	codings := h.Tokens(FieldTransferEncoding)
	for i, c := range codings {
		// Parameters are not used by any coding we decode.
		name, _, _ := strings.Cut(c, ";")
		codings[i] = strings.ToLower(strings.TrimSpace(name))
	}
	return codings
}

// IsChunked reports whether chunked is the final transfer-coding.
func (h *HeaderSet) IsChunked() bool {
	codings := h.TransferCodings()
	return len(codings) > 0 && codings[len(codings)-1] == "chunked"
}

// ExpectsContinue reports whether the message asks for a 100 response
// before its content is sent.
// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-10.1.1
func (h *HeaderSet) ExpectsContinue() bool {
	return h.HasToken(FieldExpect, "100-continue")
}
