package client

import (
	"encoding/base64"
	"time"

	"http-exchange/application/http/semantic"
	"http-exchange/application/http/stream"
	"http-exchange/application/util/uri"
	"http-exchange/lib/deadline"

	"github.com/pkg/errors"
)

// NewFromURI returns a GET request for an absolute http or https URI.
// Userinfo in the URI becomes basic credentials.
func (c *Client) NewFromURI(raw string) (*Request, error) {
	u, err := uri.Parse(raw)
	if err != nil {
		return nil, errors.Wrapf(stream.ErrInvalidArgument, "parsing %q: %s", raw, err)
	}

	if u.Scheme == "" {
		return nil, errors.Wrapf(stream.ErrInvalidArgument, "%q has no scheme", raw)
	}
	if _, err := schemeIsTLS(u.Scheme); err != nil {
		return nil, errors.Wrap(stream.ErrInvalidArgument, err.Error())
	}
	if u.Authority == nil || u.Authority.Host == "" {
		return nil, errors.Wrapf(stream.ErrInvalidArgument, "%q has no host", raw)
	}

	r := c.newRequest(semantic.MethodGet)
	r.setTarget(u.Scheme, u.Authority.Hostname(), portOf(u.Authority, u.Scheme), u.RequestTarget())
	r.setCredentials(u.Authority.UserInfo)
	r.setDefaultUserAgent()

	return r, nil
}

// NewConnect returns a CONNECT request sent to the proxy named by raw,
// asking for a tunnel to tunnelAuthority. raw may not carry a path and
// defaults to http.
func (c *Client) NewConnect(raw, tunnelAuthority string) (*Request, error) {
	u, err := uri.Parse(raw)
	if err != nil {
		return nil, errors.Wrapf(stream.ErrInvalidArgument, "parsing %q: %s", raw, err)
	}

	if u.Scheme == "" {
		u.Scheme = semantic.SchemeHTTP
	}
	if _, err := schemeIsTLS(u.Scheme); err != nil {
		return nil, errors.Wrap(stream.ErrInvalidArgument, err.Error())
	}
	if u.Path != "" || u.Query != nil {
		return nil, errors.Wrapf(stream.ErrInvalidArgument, "%q has a path", raw)
	}
	if u.Authority == nil || u.Authority.Host == "" {
		return nil, errors.Wrapf(stream.ErrInvalidArgument, "%q has no host", raw)
	}
	if tunnelAuthority == "" {
		return nil, errors.Wrap(stream.ErrInvalidArgument, "empty tunnel authority")
	}

	r := c.newRequest(semantic.MethodConnect)
	r.headers.Upsert(semantic.PseudoAuthority, tunnelAuthority, false)
	r.setTarget(u.Scheme, u.Authority.Hostname(), portOf(u.Authority, u.Scheme), "")
	r.setCredentials(u.Authority.UserInfo)
	r.setDefaultUserAgent()

	return r, nil
}

// NewFromStream turns a request received on s into one that can be sent
// on, e.g. by a proxy. The target comes from ":authority", or else from
// the local address of s with the TLS server name taking precedence.
// The body is read off s into memory, or into a temporary file once it
// outgrows the spill threshold; Request.Close releases that file.
func (c *Client) NewFromStream(s stream.Stream, timeout time.Duration) (*Request, error) {
	dl := deadline.New(c.clock, timeout)

	h, err := s.GetHeaders(dl.Remaining())
	if err != nil {
		return nil, errors.Wrap(err, "reading request head")
	}
	h = h.Clone()

	method, ok := h.Get(semantic.PseudoMethod)
	if !ok || method == "" {
		return nil, errors.Wrap(stream.ErrInvalidArgument, "request has no method")
	}

	serverName, isTLS := s.CheckTLS()
	scheme, _ := h.Get(semantic.PseudoScheme)
	if scheme == "" {
		scheme = semantic.SchemeFor(isTLS)
	}
	if _, err := schemeIsTLS(scheme); err != nil {
		return nil, errors.Wrap(stream.ErrInvalidArgument, err.Error())
	}

	var host string
	var port uint16
	if authority, _ := h.Get(semantic.PseudoAuthority); authority != "" {
		host, port, err = splitAuthority(authority, scheme)
	} else {
		host, port, err = splitAuthority(s.LocalAddr().String(), scheme)
		if serverName != "" {
			host = serverName
		}
	}
	if err != nil {
		return nil, errors.Wrap(stream.ErrInvalidArgument, err.Error())
	}

	n, known, err := h.ContentLength()
	if err != nil {
		return nil, errors.Wrap(stream.ErrInvalidArgument, err.Error())
	}
	hasBody := h.IsChunked() || (known && n > 0)
	expectsContinue := h.ExpectsContinue()

	h.RemoveHopByHop()
	h.Del(semantic.FieldContentLength)
	h.Del(semantic.FieldExpect)

	r := &Request{
		client:           c,
		headers:          h,
		followRedirects:  c.opts.Redirect.Follow,
		maxRedirects:     c.opts.Redirect.Max,
		expect100Timeout: c.opts.Expect100Timeout,
	}
	path, _ := h.Get(semantic.PseudoPath)
	r.setTarget(scheme, host, port, path)

	if !hasBody {
		return r, nil
	}

	bio := stream.NewBodyIO(s, c.clock)
	if expectsContinue {
		if err := bio.EmitContinue(dl.Remaining()); err != nil {
			return nil, errors.Wrap(err, "sending 100 continue")
		}
	}

	declared := int64(-1)
	if known {
		declared = n
	}
	sp, err := newSpill(c.fs, c.opts.Spill, declared)
	if err != nil {
		return nil, err
	}
	if err := bio.DrainTo(sp, dl.Remaining()); err != nil {
		_ = sp.Close()
		return nil, errors.Wrap(err, "reading request body")
	}

	r.spill = sp
	r.SetBody(sp.body())

	c.logger.Debug("request taken from stream",
		"method", method, "url", r.URL(), "spilled", sp.spilled())

	return r, nil
}

// basicCredentials encodes userinfo for the "Basic" scheme.
// Reference: https://datatracker.ietf.org/doc/html/rfc7617#section-2
func basicCredentials(userInfo string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(userInfo))
}
