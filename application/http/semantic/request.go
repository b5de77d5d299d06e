package semantic

import (
	"strconv"
	"strings"

	"http-exchange/application/util/uri"

	"github.com/pkg/errors"
)

var ErrURITooLong = errors.New("uri too long")

// RequestTarget is the control data carried by a request line.
type RequestTarget struct {
	Method    Method
	Scheme    string // empty unless the target was in absolute-form
	Authority string // empty when the target does not carry one
	Path      string // escaped path and query, empty for CONNECT
}

// ParseRequestTarget interprets an HTTP/1.1 request-target.
// maxLen limits the raw target length when positive.
// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-3.2
func ParseRequestTarget(method Method, raw string, maxLen int) (RequestTarget, error) {
	if maxLen > 0 && len(raw) > maxLen {
		return RequestTarget{}, ErrURITooLong
	}

	target := RequestTarget{Method: method}

	switch {
	case method == MethodConnect:
		// authority-form.
		// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-3.2.3
		authority, err := parseAuthorityForm(raw)
		if err != nil {
			return RequestTarget{}, errors.Wrap(err, "parsing authority-form")
		}
		target.Authority = authority
		return target, nil

	case method == MethodOptions && raw == "*":
		// asterisk-form.
		// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-3.2.4
		target.Path = "*"
		return target, nil
	}

	u, err := uri.Parse(raw)
	if err != nil {
		return RequestTarget{}, errors.Wrap(err, "parsing target")
	}

	if u.IsAbsoluteURI() {
		// absolute-form.
		// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-3.2.2
		if DefaultPort(u.Scheme) == 0 {
			return RequestTarget{}, errors.New("scheme is invalid. allowed schemes are: http, https")
		}
		if u.Authority == nil || u.Authority.Host == "" {
			return RequestTarget{}, errors.New("absolute-form needs authority")
		}

		target.Scheme = u.Scheme
		target.Authority = authorityOf(u.Scheme, u.Authority)
		target.Path = u.RequestTarget()
		return target, nil
	}

	// origin-form.
	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-3.2.1
	if u.Authority != nil || !strings.HasPrefix(u.Path, "/") {
		return RequestTarget{}, errors.New("origin-form path should start with /")
	}
	target.Path = u.RequestTarget()

	return target, nil
}

func parseAuthorityForm(raw string) (string, error) {
	u, err := uri.Parse("//" + raw)
	if err != nil {
		return "", err
	}
	if u.Authority == nil || u.Authority.Host == "" {
		return "", errors.New("host is required")
	}
	if u.Authority.UserInfo != "" || u.Path != "" || u.Query != nil {
		return "", errors.New("only host and port are allowed")
	}
	if u.Authority.Port == nil {
		return "", errors.New("port in authority form is required")
	}

	return u.Authority.Host + ":" + strconv.Itoa(int(*u.Authority.Port)), nil
}

// authorityOf renders host[:port], omitting the scheme's default port.
// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-4.2.3
func authorityOf(scheme string, a *uri.Authority) string {
	if a.Port == nil || *a.Port == DefaultPort(scheme) {
		return a.Host
	}
	return a.Host + ":" + strconv.Itoa(int(*a.Port))
}
