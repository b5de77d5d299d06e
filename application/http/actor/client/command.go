package client

import (
	"strconv"
	"strings"

	"http-exchange/application/http/semantic"
	"http-exchange/application/http/stream"

	"github.com/pkg/errors"
)

// Command renders the request as a curl command line.
// Requests carrying something curl cannot be told from the command line,
// a body that is not a buffer, a custom TLS configuration or a custom
// 100-continue timeout, yield [stream.ErrUnsupported].
func (r *Request) Command() (string, error) {
	args, err := r.commandArgs()
	if err != nil {
		return "", err
	}

	quoted := make([]string, len(args))
	for i, arg := range args {
		quoted[i] = shellQuote(arg)
	}
	return strings.Join(quoted, " "), nil
}

func (r *Request) commandArgs() ([]string, error) {
	method := r.Method()
	switch {
	case method == semantic.MethodConnect:
		return nil, errors.Wrap(stream.ErrUnsupported, "CONNECT request")
	case r.body.kind != BodyEmpty && r.body.kind != BodyBuffer:
		return nil, errors.Wrapf(stream.ErrUnsupported, "%s body", r.body.kind)
	case r.tlsConfig != nil:
		return nil, errors.Wrap(stream.ErrUnsupported, "custom TLS configuration")
	case r.expect100Timeout != r.client.opts.Expect100Timeout:
		return nil, errors.Wrap(stream.ErrUnsupported, "custom 100-continue timeout")
	}

	args := []string{"curl"}

	hasBody := r.body.kind == BodyBuffer
	switch {
	case method == semantic.MethodHead:
		args = append(args, "--head")
	case method == semantic.MethodGet && !hasBody,
		method == semantic.MethodPost && hasBody:
		// curl picks these by itself.
	default:
		args = append(args, "-X", string(method))
	}

	args = append(args, r.URL())

	if r.followRedirects && r.maxRedirects != RedirectsDisabled {
		args = append(args, "--location", "--max-redirs", strconv.Itoa(max(r.maxRedirects, 0)))
	}

	scheme := r.Scheme()
	if authority, _ := r.headers.Get(semantic.PseudoAuthority); authority != formatAuthority(r.host, r.port, scheme) {
		args = append(args, "-H", "host: "+authority)
	}

	r.headers.Each(func(f semantic.Field) bool {
		switch {
		case semantic.IsPseudo(f.Name):
		case f.Name == semantic.FieldUserAgent:
			args = append(args, "-A", f.Value)
		case f.Name == semantic.FieldContentLength && r.derivedLength,
			f.Name == semantic.FieldExpect && r.derivedExpect:
			// curl derives them from the body.
		default:
			args = append(args, "-H", f.Name+": "+f.Value)
		}
		return true
	})

	if hasBody {
		args = append(args, "--data-binary", string(r.body.buf))
	}

	return args, nil
}

// shellQuote single-quotes s unless it only holds characters that are
// safe in a POSIX shell word.
func shellQuote(s string) string {
	if s != "" && strings.IndexFunc(s, isUnsafeShellRune) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func isUnsafeShellRune(c rune) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return false
	}
	return !strings.ContainsRune("_:/@^.-", c)
}
