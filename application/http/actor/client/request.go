package client

import (
	"crypto/tls"
	"strconv"
	"strings"
	"time"

	"http-exchange/application/http/semantic"
	"http-exchange/application/util/uri"

	"github.com/pkg/errors"
)

// Request is an outgoing request and the policy used to execute it.
// Requests are built by the constructors of [Client].
type Request struct {
	client *Client

	host string
	port uint16
	tls  bool

	tlsConfig *tls.Config

	headers *semantic.HeaderSet
	body    Body

	// Fields added by SetBody, removed again when the body changes.
	derivedLength bool
	derivedExpect bool

	// spill holds the body copied off an inbound stream.
	spill *spill

	followRedirects  bool
	maxRedirects     int
	expect100Timeout time.Duration
}

func (c *Client) newRequest(method semantic.Method) *Request {
	r := &Request{
		client:           c,
		headers:          semantic.NewHeaderSet(),
		followRedirects:  c.opts.Redirect.Follow,
		maxRedirects:     c.opts.Redirect.Max,
		expect100Timeout: c.opts.Expect100Timeout,
	}
	r.headers.Upsert(semantic.PseudoMethod, string(method), false)
	return r
}

// setTarget sets where the request goes together with the pseudo-fields
// naming it, so that both always agree.
func (r *Request) setTarget(scheme, host string, port uint16, path string) {
	r.host, r.port, r.tls = host, port, scheme == semantic.SchemeHTTPS

	if r.Method() == semantic.MethodConnect {
		// The authority of a CONNECT names the tunnel, not the proxy.
		return
	}

	if path == "" {
		path = "/"
	}
	r.headers.Upsert(semantic.PseudoScheme, scheme, false)
	r.headers.Upsert(semantic.PseudoAuthority, formatAuthority(host, port, scheme), false)
	r.headers.Upsert(semantic.PseudoPath, path, false)
}

func (r *Request) setCredentials(userInfo string) {
	if userInfo == "" {
		return
	}

	field := semantic.FieldAuthorization
	if r.Method() == semantic.MethodConnect {
		field = semantic.FieldProxyAuthorization
	}
	r.headers.Upsert(field, basicCredentials(userInfo), true)
}

func (r *Request) setDefaultUserAgent() {
	if !r.headers.Has(semantic.FieldUserAgent) {
		r.headers.Append(semantic.FieldUserAgent, r.client.opts.UserAgent)
	}
}

func (r *Request) Host() string   { return r.host }
func (r *Request) Port() uint16   { return r.port }
func (r *Request) TLS() bool      { return r.tls }
func (r *Request) Body() Body     { return r.body }
func (r *Request) Scheme() string { return semantic.SchemeFor(r.tls) }

// Headers returns the header set sent with the request. Changing the
// pseudo-fields through it may make them disagree with the target.
func (r *Request) Headers() *semantic.HeaderSet { return r.headers }

func (r *Request) Method() semantic.Method {
	m, _ := r.headers.Get(semantic.PseudoMethod)
	return semantic.Method(m)
}

// SetMethod changes the method. CONNECT requests are built with
// [Client.NewConnect] instead.
func (r *Request) SetMethod(m semantic.Method) error {
	if m == semantic.MethodConnect || r.Method() == semantic.MethodConnect {
		return errors.New("cannot switch a request to or from CONNECT")
	}
	r.headers.Upsert(semantic.PseudoMethod, string(m), false)
	return nil
}

func (r *Request) FollowRedirects() bool          { return r.followRedirects }
func (r *Request) SetFollowRedirects(follow bool) { r.followRedirects = follow }

func (r *Request) MaxRedirects() int     { return r.maxRedirects }
func (r *Request) SetMaxRedirects(n int) { r.maxRedirects = n }

func (r *Request) Expect100Timeout() time.Duration     { return r.expect100Timeout }
func (r *Request) SetExpect100Timeout(d time.Duration) { r.expect100Timeout = d }

func (r *Request) TLSConfig() *tls.Config { return r.tlsConfig }

// SetTLSConfig replaces the default TLS settings used to reach the host.
func (r *Request) SetTLSConfig(config *tls.Config) { r.tlsConfig = config }

// SetBody attaches b and updates the framing fields it implies:
// "content-length" when the length is known, and "expect: 100-continue"
// when the length is unknown or above 1024 bytes.
// Fields derived for a previous body are dropped first.
func (r *Request) SetBody(b Body) {
	if r.derivedLength {
		r.headers.Del(semantic.FieldContentLength)
		r.derivedLength = false
	}
	if r.derivedExpect {
		r.headers.Del(semantic.FieldExpect)
		r.derivedExpect = false
	}

	r.body = b
	if b.kind == BodyEmpty {
		return
	}

	n, known := b.Length()
	if known {
		r.headers.SetContentLength(n)
		r.derivedLength = true
	}
	if (!known || n > expectContinueThreshold) && !r.headers.ExpectsContinue() {
		r.headers.Append(semantic.FieldExpect, "100-continue")
		r.derivedExpect = true
	}
}

// URL renders the target of the request as an absolute URI.
func (r *Request) URL() string {
	scheme := r.Scheme()
	u := scheme + "://" + formatAuthority(r.host, r.port, scheme)
	if r.Method() == semantic.MethodConnect {
		return u
	}

	path, _ := r.headers.Get(semantic.PseudoPath)
	if path == "" || path == "*" {
		return u + "/"
	}
	return u + path
}

// Close releases storage the request created for a body copied off an
// inbound stream. Bodies attached with SetBody are left alone.
func (r *Request) Close() error {
	if r.spill == nil {
		return nil
	}
	err := r.spill.Close()
	r.spill = nil
	return err
}

func schemeIsTLS(scheme string) (bool, error) {
	switch scheme {
	case semantic.SchemeHTTP:
		return false, nil
	case semantic.SchemeHTTPS:
		return true, nil
	}
	return false, errors.Errorf("scheme %q is not http or https", scheme)
}

func portOf(a *uri.Authority, scheme string) uint16 {
	if a.Port != nil {
		return *a.Port
	}
	return semantic.DefaultPort(scheme)
}

// formatAuthority renders host[:port], leaving out the default port of
// scheme. IPv6 hosts are bracketed.
// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-7.2
func formatAuthority(host string, port uint16, scheme string) string {
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port == semantic.DefaultPort(scheme) {
		return host
	}
	return host + ":" + strconv.FormatUint(uint64(port), 10)
}

// splitAuthority parses host[:port], with the default port of scheme
// when none is given.
func splitAuthority(authority, scheme string) (string, uint16, error) {
	u, err := uri.Parse("//" + authority)
	if err != nil {
		return "", 0, err
	}
	if u.Authority == nil || u.Authority.Host == "" || u.Path != "" || u.Query != nil {
		return "", 0, errors.Errorf("%q is not an authority", authority)
	}
	return u.Authority.Hostname(), portOf(u.Authority, scheme), nil
}
