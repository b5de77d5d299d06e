package uri

import (
	"strings"

	"github.com/pkg/errors"
)

type encodeMode uint

const (
	encodePath encodeMode = 1 + iota
	encodeHost
	encodeUserInfo
	encodeQuery
	encodeFragment
)

const upperHex = "0123456789ABCDEF"

// EscapePath percent-encodes every byte of p that may not appear in a path.
func EscapePath(p string) string { return escape(p, encodePath) }

// EscapeQuery percent-encodes every byte of q that may not appear in a query.
func EscapeQuery(q string) string { return escape(q, encodeQuery) }

// Unescape decodes percent-encoded octets.
func Unescape(s string) (string, error) { return unescape(s) }

func fromHex(h byte) byte {
	switch {
	case '0' <= h && h <= '9':
		return h - '0'
	case 'a' <= h && h <= 'f':
		return h - 'a' + 10
	case 'A' <= h && h <= 'F':
		return h - 'A' + 10
	}
	return 0
}

func escape(s string, mode encodeMode) string {
	n := 0
	for i := 0; i < len(s); i++ {
		if shouldEscape(s[i], mode) {
			n++
		}
	}
	if n == 0 {
		return s
	}

	b := new(strings.Builder)
	b.Grow(len(s) + 2*n)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !shouldEscape(c, mode) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperHex[c>>4])
		b.WriteByte(upperHex[c&0xF])
	}

	return b.String()
}

func unescape(s string) (string, error) {
	if strings.IndexByte(s, '%') < 0 {
		return s, nil
	}

	b := new(strings.Builder)
	b.Grow(len(s))

	for idx := 0; idx < len(s); idx++ {
		c := s[idx]
		if c != '%' {
			b.WriteByte(c)
			continue
		}

		if idx+2 >= len(s) || !isPercentEncoded(s[idx:idx+3]) {
			bad := s[idx:min(len(s), idx+3)]
			return "", errors.Errorf("percent encoding not properly applied: %q", bad)
		}
		b.WriteByte(fromHex(s[idx+1])<<4 | fromHex(s[idx+2]))
		idx += 2
	}

	return b.String(), nil
}

func shouldEscape(c byte, mode encodeMode) bool {
	if isUnreserved(c) {
		return false
	}
	if !isReserved(c) {
		return true
	}

	switch mode {
	case encodeUserInfo:
		// Reference: https://datatracker.ietf.org/doc/html/rfc3986#section-3.2.1
		return !(isSubDelim(c) || c == ':')
	case encodeHost:
		// Brackets and colons are kept for IP literals.
		// Reference: https://datatracker.ietf.org/doc/html/rfc3986#section-3.2.2
		return !(isSubDelim(c) || c == '[' || c == ']' || c == ':')
	case encodePath:
		// Reference: https://datatracker.ietf.org/doc/html/rfc3986#section-3.3
		return !(isSubDelim(c) || c == ':' || c == '@' || c == '/')
	case encodeFragment, encodeQuery:
		// Reference: https://datatracker.ietf.org/doc/html/rfc3986#section-3.4
		return !(isSubDelim(c) || c == ':' || c == '@' || c == '/' || c == '?')
	}

	return true
}
