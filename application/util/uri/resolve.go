package uri

import (
	"strings"

	"http-exchange/lib/ds/stack"

	"github.com/pkg/errors"
)

type RefResolver struct {
	base URI
}

func NewRefResolver(base URI) (*RefResolver, error) {
	if base.IsRelativeRef() {
		return nil, errors.New("base URI cannot be a relative reference")
	}
	return &RefResolver{base: base}, nil
}

// Resolve returns the target URI of ref relative to the base.
// Reference: https://datatracker.ietf.org/doc/html/rfc3986#section-5.2.2
func (rr *RefResolver) Resolve(ref URI) URI {
	out := ref

	switch {
	case out.Scheme != "":
	case out.Authority != nil:
		out.Scheme = rr.base.Scheme
	default:
		out.Scheme = rr.base.Scheme
		out.Authority = rr.base.Authority

		switch {
		case out.Path == "":
			out.Path = rr.base.Path
			if out.Query == nil {
				out.Query = rr.base.Query
			}
		case !strings.HasPrefix(out.Path, "/"):
			out.Path = mergePath(rr.base.Authority != nil, rr.base.Path, out.Path)
		}
	}

	out.Path = removeDotSegments(out.Path)
	return out
}

// Reference: https://datatracker.ietf.org/doc/html/rfc3986#section-5.2.3
func mergePath(baseHasAuthority bool, base, ref string) string {
	if baseHasAuthority && base == "" {
		return "/" + ref
	}
	if idx := strings.LastIndexByte(base, '/'); idx >= 0 {
		return base[:idx+1] + ref
	}
	return ref
}

// Reference: https://datatracker.ietf.org/doc/html/rfc3986#section-5.2.4
func removeDotSegments(path string) string {
	var out stack.Stack[string]

	for len(path) > 0 {
		var found bool

		// A. Leading "../" or "./" is dropped.
		if path, found = strings.CutPrefix(path, "../"); found {
			continue
		}
		if path, found = strings.CutPrefix(path, "./"); found {
			continue
		}

		// B. "/./" or a trailing "/." becomes "/".
		if path, found = strings.CutPrefix(path, "/./"); found {
			path = "/" + path
			continue
		}
		if path == "/." {
			path = "/"
			continue
		}

		// C. "/../" or a trailing "/.." becomes "/" and pops one output segment.
		if path, found = strings.CutPrefix(path, "/../"); found {
			_, _ = out.Pop()
			path = "/" + path
			continue
		}
		if path == "/.." {
			_, _ = out.Pop()
			path = "/"
			continue
		}

		// D. A lone "." or ".." is dropped.
		if path == "." || path == ".." {
			break
		}

		// E. Move the first segment, with its leading "/", to the output.
		idx := strings.IndexByte(path[1:], '/') + 1
		if idx == 0 {
			idx = len(path)
		}
		out.Push(path[:idx])
		path = path[idx:]
	}

	return strings.Join(out.Items(), "")
}
