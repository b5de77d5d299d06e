package uri

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
	"golang.org/x/net/idna"
)

// URI is a parsed URI reference.
// Manually built values must hold unescaped components.
type URI struct {
	Scheme    string
	Authority *Authority
	Path      string
	Query     *string
	Fragment  *string
}

type Authority struct {
	UserInfo string
	// Host keeps the brackets of an IP literal.
	Host string

	// Port is limited to 16 bits although the grammar allows any digits.
	// Reference: https://datatracker.ietf.org/doc/html/rfc3986#section-3.2.3
	Port *uint16
}

// Hostname returns the host without IP literal brackets.
func (a *Authority) Hostname() string {
	if strings.HasPrefix(a.Host, "[") && strings.HasSuffix(a.Host, "]") {
		return a.Host[1 : len(a.Host)-1]
	}
	return a.Host
}

// Reference: https://datatracker.ietf.org/doc/html/rfc3986#section-4.2
func (u *URI) IsRelativeRef() bool {
	return u.Scheme == ""
}

// Reference: https://datatracker.ietf.org/doc/html/rfc3986#section-4.3
func (u *URI) IsAbsoluteURI() bool {
	return u.Scheme != "" && u.Fragment == nil
}

func (u *URI) IsValid() error {
	if u.Scheme != "" {
		if err := assertValidScheme(u.Scheme); err != nil {
			return errors.Wrap(err, "scheme is not valid")
		}
	}

	if u.Authority != nil {
		if !isValidUserInfo(escape(u.Authority.UserInfo, encodeUserInfo)) {
			return errors.New("userinfo is not valid")
		}
		if err := assertValidHost(escape(u.Authority.Host, encodeHost)); err != nil {
			return errors.Wrap(err, "host is not valid")
		}
	}

	err := assertValidPath(EscapePath(u.Path), u.Authority != nil, u.IsRelativeRef())
	if err != nil {
		return errors.Wrap(err, "path is not valid")
	}

	return nil
}

// RequestTarget returns the escaped origin-form of u: path and query.
// An empty path is rendered as "/".
// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-3.2.1
func (u *URI) RequestTarget() string {
	path := EscapePath(u.Path)
	if path == "" {
		path = "/"
	}
	if u.Query == nil {
		return path
	}
	return path + "?" + EscapeQuery(*u.Query)
}

// Reference: https://datatracker.ietf.org/doc/html/rfc3986#section-5.3
func (u *URI) String() string {
	b := new(strings.Builder)
	if u.Scheme != "" {
		b.WriteString(u.Scheme)
		b.WriteByte(':')
	}

	if a := u.Authority; a != nil {
		b.WriteString("//")
		if a.UserInfo != "" {
			b.WriteString(escape(a.UserInfo, encodeUserInfo))
			b.WriteByte('@')
		}
		b.WriteString(escape(a.Host, encodeHost))
		if a.Port != nil {
			b.WriteByte(':')
			b.WriteString(strconv.FormatUint(uint64(*a.Port), 10))
		}
	}

	b.WriteString(EscapePath(u.Path))

	if u.Query != nil {
		b.WriteByte('?')
		b.WriteString(EscapeQuery(*u.Query))
	}
	if u.Fragment != nil {
		b.WriteByte('#')
		b.WriteString(escape(*u.Fragment, encodeFragment))
	}

	return b.String()
}

// Normalize performs syntax-based normalization on given URI.
// Reference: https://datatracker.ietf.org/doc/html/rfc3986#section-6.2.2
func Normalize(u URI) (URI, error) {
	if err := u.IsValid(); err != nil {
		return URI{}, errors.Wrap(err, "URI is not valid")
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Authority != nil {
		a := *u.Authority
		a.Host = strings.ToLower(a.Host)
		u.Authority = &a
	}

	var err error
	if u.Path, err = unescape(removeDotSegments(u.Path)); err != nil {
		return URI{}, errors.Wrap(err, "unescaping path")
	}

	return u, nil
}

func Parse(raw string) (URI, error) {
	if containsCTL(raw) {
		return URI{}, errors.New("URI should not contain CTL bytes")
	}

	var u URI

	scheme, rest, err := cutScheme(raw)
	if err != nil {
		return URI{}, errors.Wrap(err, "getting scheme")
	}
	u.Scheme = strings.ToLower(scheme)

	if after, ok := strings.CutPrefix(rest, "//"); ok {
		authorityRaw := after
		rest = ""
		if i := strings.IndexAny(authorityRaw, "/?#"); i >= 0 {
			authorityRaw, rest = authorityRaw[:i], authorityRaw[i:]
		}

		authority, err := parseAuthority(authorityRaw)
		if err != nil {
			return URI{}, errors.Wrap(err, "parsing authority")
		}
		u.Authority = &authority
	}

	path, query, frag := splitPathQueryFrag(rest)

	if err := assertValidPath(path, u.Authority != nil, u.IsRelativeRef()); err != nil {
		return URI{}, errors.Wrap(err, "path is not valid")
	}
	if u.Path, err = unescape(path); err != nil {
		return URI{}, errors.Wrap(err, "unescaping path")
	}

	if q, ok := strings.CutPrefix(query, "?"); ok {
		if !isQueryFragValid(q) {
			return URI{}, errors.New("query is not valid")
		}
		if q, err = unescape(q); err != nil {
			return URI{}, errors.Wrap(err, "unescaping query")
		}
		u.Query = &q
	}

	if f, ok := strings.CutPrefix(frag, "#"); ok {
		if !isQueryFragValid(f) {
			return URI{}, errors.New("fragment is not valid")
		}
		if f, err = unescape(f); err != nil {
			return URI{}, errors.Wrap(err, "unescaping fragment")
		}
		u.Fragment = &f
	}

	return u, nil
}

// cutScheme cuts the scheme off raw. A colon only separates a scheme when
// it appears before any of "/?#".
func cutScheme(raw string) (scheme, rest string, err error) {
	end := strings.IndexAny(raw, ":/?#")
	if end < 0 || raw[end] != ':' {
		return "", raw, nil
	}

	scheme, rest = raw[:end], raw[end+1:]
	if err := assertValidScheme(scheme); err != nil {
		return "", "", err
	}

	return scheme, rest, nil
}

func parseAuthority(raw string) (authority Authority, err error) {
	host := raw
	if i := strings.LastIndex(raw, "@"); i >= 0 {
		userInfo := raw[:i]
		host = raw[i+1:]

		if !isValidUserInfo(userInfo) {
			return Authority{}, errors.New("user information is not valid")
		}
		if authority.UserInfo, err = unescape(userInfo); err != nil {
			return Authority{}, errors.Wrap(err, "unescaping user information")
		}
	}

	host, portPart := splitHostPort(host)

	if !isASCII(host) {
		// Internationalized names are carried in their A-label form.
		if host, err = idna.Lookup.ToASCII(host); err != nil {
			return Authority{}, errors.Wrap(err, "converting host to ASCII")
		}
	}
	if err := assertValidHost(host); err != nil {
		return Authority{}, errors.Wrap(err, "host is not valid")
	}

	port, hasPort, err := parsePort(portPart)
	if err != nil {
		return Authority{}, errors.Wrap(err, "parsing port")
	}
	if hasPort {
		authority.Port = &port
	}

	if authority.Host, err = unescape(host); err != nil {
		return Authority{}, errors.Wrap(err, "unescaping host")
	}
	authority.Host = strings.ToLower(authority.Host)

	return authority, nil
}

func splitHostPort(raw string) (host, portPart string) {
	if strings.HasPrefix(raw, "[") {
		idx := strings.LastIndex(raw, "]")
		if idx < 0 {
			// Left for host validation to reject.
			return raw, ""
		}
		return raw[:idx+1], raw[idx+1:]
	}

	if idx := strings.LastIndex(raw, ":"); idx >= 0 {
		return raw[:idx], raw[idx:]
	}
	return raw, ""
}

// parsePort parses ":<digits>". A lone colon means no port.
func parsePort(s string) (port uint16, hasPort bool, err error) {
	if s == "" {
		return 0, false, nil
	}
	if s[0] != ':' {
		return 0, false, errors.New("colon delimiter not found on port")
	}

	s = s[1:]
	if s == "" {
		return 0, false, nil
	}

	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, false, errors.Wrap(err, "failed to parse uint")
	}
	if s[0] == '0' && len(s) > 1 {
		return 0, false, errors.New("port has leading zero")
	}

	return uint16(n), true, nil
}

func splitPathQueryFrag(raw string) (path, query, frag string) {
	if idx := strings.IndexByte(raw, '#'); idx >= 0 {
		raw, frag = raw[:idx], raw[idx:]
	}
	if idx := strings.IndexByte(raw, '?'); idx >= 0 {
		raw, query = raw[:idx], raw[idx:]
	}
	return raw, query, frag
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
