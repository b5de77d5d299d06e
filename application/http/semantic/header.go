package semantic

import (
	"bytes"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"http-exchange/application/util/rule"

	"github.com/pkg/errors"
	"golang.org/x/net/http/httpguts"
)

// Pseudo-fields carry the control data of a message.
// Reference: https://datatracker.ietf.org/doc/html/rfc9113#section-8.3
const (
	PseudoAuthority = ":authority"
	PseudoMethod    = ":method"
	PseudoPath      = ":path"
	PseudoScheme    = ":scheme"
	PseudoStatus    = ":status"
)

const (
	FieldAuthorization      = "authorization"
	FieldProxyAuthorization = "proxy-authorization"
	FieldConnection         = "connection"
	FieldContentLength      = "content-length"
	FieldContentEncoding    = "content-encoding"
	FieldContentType        = "content-type"
	FieldDate               = "date"
	FieldExpect             = "expect"
	FieldHost               = "host"
	FieldLocation           = "location"
	FieldTransferEncoding   = "transfer-encoding"
	FieldUserAgent          = "user-agent"
	FieldVia                = "via"
)

// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-7.6.1
var hopByHopFields = []string{
	FieldConnection,
	"keep-alive",
	"proxy-connection",
	"proxy-authenticate",
	FieldProxyAuthorization,
	"te",
	"trailer",
	FieldTransferEncoding,
	"upgrade",
}

func IsPseudo(name string) bool { return strings.HasPrefix(name, ":") }

type Field struct {
	Name  string
	Value string
	// Sensitive fields are never indexed by compressing encoders and are
	// redacted when logged.
	Sensitive bool
}

// HeaderSet is an ordered multi-map of fields with lowercase names.
// Pseudo-fields are kept ahead of regular fields and appear at most once.
// The zero value is an empty set.
type HeaderSet struct{ fields []Field }

func NewHeaderSet(fields ...Field) *HeaderSet {
	h := &HeaderSet{fields: make([]Field, 0, len(fields))}
	for _, f := range fields {
		if IsPseudo(f.Name) {
			h.Upsert(f.Name, f.Value, f.Sensitive)
			continue
		}
		h.add(f)
	}
	return h
}

func (h *HeaderSet) Len() int { return len(h.fields) }

// Get returns the first value of name.
func (h *HeaderSet) Get(name string) (string, bool) {
	name = strings.ToLower(name)
	for _, f := range h.fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

func (h *HeaderSet) Has(name string) bool {
	_, ok := h.Get(name)
	return ok
}

// Values returns every value of name in order.
func (h *HeaderSet) Values(name string) []string {
	name = strings.ToLower(name)
	var values []string
	for _, f := range h.fields {
		if f.Name == name {
			values = append(values, f.Value)
		}
	}
	return values
}

// Tokens splits all values of a list-based field into its elements.
// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-5.6.1
func (h *HeaderSet) Tokens(name string) []string {
	var tokens []string
	for _, v := range h.Values(name) {
		tokens = append(tokens, tokenizeFieldValues([]byte(v))...)
	}
	return tokens
}

// HasToken reports whether the list-based field name contains token,
// compared case-insensitively.
func (h *HeaderSet) HasToken(name, token string) bool {
	return httpguts.HeaderValuesContainsToken(h.Values(name), token)
}

// Append adds a regular field after every existing one.
// Pseudo-fields are upserted instead, as they may appear only once.
func (h *HeaderSet) Append(name, value string) {
	if IsPseudo(name) {
		h.Upsert(name, value, false)
		return
	}
	h.add(Field{Name: name, Value: value})
}

func (h *HeaderSet) add(f Field) {
	f.Name = strings.ToLower(f.Name)
	h.fields = append(h.fields, f)
}

// Upsert replaces every occurrence of name with a single field holding
// value. The replacement keeps the position of the first occurrence.
func (h *HeaderSet) Upsert(name, value string, sensitive bool) {
	name = strings.ToLower(name)
	f := Field{Name: name, Value: value, Sensitive: sensitive}

	idx := slices.IndexFunc(h.fields, func(f Field) bool { return f.Name == name })
	if idx >= 0 {
		h.fields[idx] = f
		rest := slices.DeleteFunc(h.fields[idx+1:], func(f Field) bool { return f.Name == name })
		h.fields = h.fields[:idx+1+len(rest)]
		return
	}

	if !IsPseudo(name) {
		h.fields = append(h.fields, f)
		return
	}

	// Insert after the last pseudo-field.
	at := 0
	for at < len(h.fields) && IsPseudo(h.fields[at].Name) {
		at++
	}
	h.fields = slices.Insert(h.fields, at, f)
}

// Del removes every occurrence of name and reports whether any existed.
func (h *HeaderSet) Del(name string) bool {
	name = strings.ToLower(name)
	before := len(h.fields)
	h.fields = slices.DeleteFunc(h.fields, func(f Field) bool { return f.Name == name })
	return len(h.fields) != before
}

// Each calls fn for every field in order until fn returns false.
func (h *HeaderSet) Each(fn func(f Field) bool) {
	for _, f := range h.fields {
		if !fn(f) {
			return
		}
	}
}

// Fields returns a copy of every field in order.
func (h *HeaderSet) Fields() []Field { return slices.Clone(h.fields) }

func (h *HeaderSet) Clone() *HeaderSet {
	return &HeaderSet{fields: slices.Clone(h.fields)}
}

// Status returns the parsed ":status" pseudo-field.
func (h *HeaderSet) Status() (int, bool) {
	v, ok := h.Get(PseudoStatus)
	if !ok {
		return 0, false
	}
	code, err := strconv.Atoi(v)
	if err != nil || code < 100 || code > 999 {
		return 0, false
	}
	return code, true
}

// RemoveHopByHop drops connection-specific fields, including the ones
// nominated by the "connection" field.
// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-7.6.1
func (h *HeaderSet) RemoveHopByHop() {
	nominated := h.Tokens(FieldConnection)
	for _, name := range nominated {
		h.Del(name)
	}
	for _, name := range hopByHopFields {
		h.Del(name)
	}
}

// Validate checks that every regular field is well formed.
func (h *HeaderSet) Validate() error {
	for _, f := range h.fields {
		if IsPseudo(f.Name) {
			continue
		}
		if !httpguts.ValidHeaderFieldName(f.Name) {
			return errors.Errorf("invalid field name: %q", f.Name)
		}
		if !httpguts.ValidHeaderFieldValue(f.Value) {
			return errors.Errorf("invalid value for field %q", f.Name)
		}
	}
	return nil
}

// LogValue renders the fields as a group, hiding sensitive values.
func (h *HeaderSet) LogValue() slog.Value {
	attrs := make([]slog.Attr, 0, len(h.fields))
	for _, f := range h.fields {
		v := f.Value
		if f.Sensitive {
			v = "[REDACTED]"
		}
		attrs = append(attrs, slog.String(f.Name, v))
	}
	return slog.GroupValue(attrs...)
}

// CanonicalName returns the conventional capitalization of a token field
// name, as used on HTTP/1.1 wires. Other names are returned as is.
func CanonicalName(s string) string {
	if !rule.IsValidToken(s) {
		return s
	}

	const capitalDiff = 'a' - 'A'
	b := []byte(s)
	upper := true
	for i, c := range b {
		if upper && 'a' <= c && c <= 'z' {
			c -= capitalDiff
		} else if !upper && 'A' <= c && c <= 'Z' {
			c += capitalDiff
		}
		b[i] = c
		upper = c == '-'
	}
	return string(b)
}

// tokenizeFieldValues splits a field value on commas outside of quotes.
// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-5.6.4-1
func tokenizeFieldValues(fieldValue []byte) []string {
	tokens := make([]string, 0)
	buf := bytes.NewBuffer(nil)

	quoted := false
	for _, part := range bytes.Split(fieldValue, []byte{','}) {
		if quoted {
			// The comma belonged to a quoted string.
			buf.WriteByte(',')
		}

		for _, c := range part {
			if c == '"' {
				quoted = !quoted
			}
			buf.WriteByte(c)
		}

		if !quoted {
			tokens = addToken(tokens, buf.Bytes())
			buf.Reset()
		}
	}

	if buf.Len() > 0 {
		// Unterminated quote, keep the raw token.
		tokens = addToken(tokens, buf.Bytes())
	}

	return tokens
}

func addToken(tokens []string, token []byte) []string {
	token = bytes.TrimFunc(token, rule.IsWhitespace)
	token = rule.Unquote(token)
	if len(token) == 0 {
		return tokens
	}
	return append(tokens, string(token))
}
