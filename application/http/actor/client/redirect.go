package client

import (
	"strings"

	"http-exchange/application/http/semantic"
	"http-exchange/application/http/stream"
	"http-exchange/application/util/uri"

	"github.com/pkg/errors"
)

// ResolveRedirect builds the request that follows response, a redirection
// received for r. The new request keeps the headers, body and policy of r,
// with one redirect less to follow.
//
// The body is reattached as it is: a source or generator body is sent again
// from its start.
func (r *Request) ResolveRedirect(response *semantic.HeaderSet) (*Request, error) {
	if r.maxRedirects == RedirectsDisabled || r.maxRedirects <= 0 {
		return nil, errors.Wrapf(stream.ErrRedirectLimitExceeded, "at %s", r.URL())
	}

	location, ok := response.Get(semantic.FieldLocation)
	if !ok {
		return nil, errors.Wrap(stream.ErrInvalidArgument, "redirect has no location")
	}

	ref, err := uri.Parse(location)
	if err != nil {
		return nil, errors.Wrapf(stream.ErrInvalidArgument, "parsing location %q: %s", location, err)
	}

	scheme := ref.Scheme
	if scheme == "" {
		scheme, _ = r.headers.Get(semantic.PseudoScheme)
	}
	if scheme == "" {
		scheme = r.Scheme()
	}
	if _, err := schemeIsTLS(scheme); err != nil {
		return nil, errors.Wrapf(stream.ErrInvalidArgument, "location %q: %s", location, err)
	}

	var host string
	var port uint16
	var userInfo string
	hasHost := ref.Authority != nil && ref.Authority.Host != ""
	if hasHost {
		host, port, userInfo = ref.Authority.Hostname(), portOf(ref.Authority, scheme), ref.Authority.UserInfo
	} else {
		authority, _ := r.headers.Get(semantic.PseudoAuthority)
		if r.Method() == semantic.MethodConnect || authority == "" {
			authority = formatAuthority(r.host, r.port, scheme)
		}
		if host, port, err = splitAuthority(authority, scheme); err != nil {
			return nil, errors.Wrap(stream.ErrInvalidArgument, err.Error())
		}
	}

	// The original path is already escaped, so the reference path is
	// escaped before both are resolved together.
	origPath, _ := r.headers.Get(semantic.PseudoPath)
	origPath, _, _ = strings.Cut(origPath, "?")
	resolver, err := uri.NewRefResolver(uri.URI{
		Scheme:    scheme,
		Authority: &uri.Authority{Host: host},
		Path:      origPath,
	})
	if err != nil {
		return nil, errors.Wrap(stream.ErrInvalidArgument, err.Error())
	}

	rel := uri.URI{Path: uri.EscapePath(ref.Path), Query: ref.Query}
	if hasHost {
		rel.Authority = ref.Authority
	}
	target := resolver.Resolve(rel)

	path := target.Path
	if target.Query != nil {
		path = ensureSlash(path) + "?" + uri.EscapeQuery(*target.Query)
	}

	next := &Request{
		client:           r.client,
		tlsConfig:        r.tlsConfig,
		headers:          r.headers.Clone(),
		body:             r.body,
		derivedLength:    r.derivedLength,
		derivedExpect:    r.derivedExpect,
		followRedirects:  r.followRedirects,
		maxRedirects:     r.maxRedirects - 1,
		expect100Timeout: r.expect100Timeout,
	}
	next.setTarget(scheme, host, port, path)
	next.setCredentials(userInfo)

	return next, nil
}

func ensureSlash(path string) string {
	if path == "" {
		return "/"
	}
	return path
}
