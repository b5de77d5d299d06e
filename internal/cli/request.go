package cli

import (
	"strings"

	"http-exchange/application/http/actor/client"
	"http-exchange/application/http/semantic"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"golang.org/x/net/http/httpguts"
)

// requestFlags are shared by the commands that build a request.
type requestFlags struct {
	method      string
	headers     []string
	data        string
	noRedirects bool
	compressed  bool
}

func (f *requestFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&f.method, "request", "X", "", "request method")
	fs.StringArrayVarP(&f.headers, "header", "H", nil, `extra header, "name: value"`)
	fs.StringVarP(&f.data, "data", "d", "", "request body, @file reads it from file")
	fs.BoolVar(&f.noRedirects, "no-redirects", false, "do not follow redirects")
	fs.BoolVar(&f.compressed, "compressed", false, "ask for a compressed response")

	// Bound to the configuration, see config.Load.
	fs.Duration("timeout", 0, "time limit for the whole exchange, redirects included")
	fs.Int("max-redirs", 0, "maximum number of redirects to follow")
	fs.StringP("user-agent", "A", "", "user-agent to send")
	fs.Duration("expect-timeout", 0, "time to wait for 100 Continue before sending the body")
	fs.StringArray("resolve", nil, "connect to addr instead of host, \"host:addr\"")
}

// build returns the request described by the flags. With stream set, a
// body read from a file is sent from the open file, which release closes.
func (f *requestFlags) build(c *client.Client, fs afero.Fs, url string, configHeaders []string, stream bool) (r *client.Request, release func() error, err error) {
	release = func() error { return nil }

	r, err = c.NewFromURI(url)
	if err != nil {
		return nil, release, err
	}

	for _, raw := range append(configHeaders[:len(configHeaders):len(configHeaders)], f.headers...) {
		name, value, err := parseHeader(raw)
		if err != nil {
			return nil, release, err
		}
		switch name {
		case semantic.FieldHost:
			r.Headers().Upsert(semantic.PseudoAuthority, value, false)
		case semantic.FieldUserAgent:
			r.Headers().Upsert(name, value, false)
		case semantic.FieldAuthorization, semantic.FieldProxyAuthorization:
			r.Headers().Upsert(name, value, true)
		default:
			r.Headers().Append(name, value)
		}
	}
	if f.compressed && !r.Headers().Has("accept-encoding") {
		r.Headers().Append("accept-encoding", "gzip, deflate, br")
	}

	method := semantic.Method(strings.ToUpper(f.method))
	if f.data != "" {
		if method == "" {
			method = semantic.MethodPost
		}

		path, fromFile := strings.CutPrefix(f.data, "@")
		switch {
		case !fromFile:
			r.SetBody(client.BufferBody([]byte(f.data)))
		case stream:
			file, err := fs.Open(path)
			if err != nil {
				return nil, release, errors.Wrap(err, "opening body")
			}
			release = file.Close
			r.SetBody(client.SourceBody(file))
		default:
			p, err := afero.ReadFile(fs, path)
			if err != nil {
				return nil, release, errors.Wrap(err, "reading body")
			}
			r.SetBody(client.BufferBody(p))
		}
	}
	if method != "" {
		if err := r.SetMethod(method); err != nil {
			return nil, release, err
		}
	}

	if f.noRedirects {
		r.SetFollowRedirects(false)
	}
	return r, release, nil
}

func parseHeader(raw string) (name, value string, err error) {
	name, value, ok := strings.Cut(raw, ":")
	name = strings.ToLower(strings.TrimSpace(name))
	value = strings.TrimSpace(value)

	switch {
	case !ok:
		return "", "", errors.Errorf("header %q has no colon", raw)
	case !httpguts.ValidHeaderFieldName(name):
		return "", "", errors.Errorf("invalid header name %q", name)
	case !httpguts.ValidHeaderFieldValue(value):
		return "", "", errors.Errorf("invalid value for header %q", name)
	}
	return name, value, nil
}
