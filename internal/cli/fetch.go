package cli

import (
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"http-exchange/application/http/semantic"
	"http-exchange/application/http/semantic/status"
	"http-exchange/application/http/stream"
	"http-exchange/lib/deadline"

	"github.com/andybalholm/brotli"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func (a *App) fetchCommand() *cobra.Command {
	var flags requestFlags
	var include bool

	cmd := &cobra.Command{
		Use:   "fetch URL",
		Short: "Send a request and print the response body",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.newClient(nil)
			if err != nil {
				return err
			}

			r, release, err := flags.build(c, a.fs, args[0], a.cfg.Client.Headers, true)
			defer func() {
				if err := release(); err != nil {
					a.logger.Debug("closing request body", "error", err)
				}
			}()
			if err != nil {
				return err
			}

			dl := deadline.New(a.clock, a.cfg.Client.Timeout)

			h, st, err := r.Execute(dl.Remaining())
			if err != nil {
				return err
			}
			defer func() {
				if err := st.Shutdown(); err != nil {
					a.logger.Debug("shutting down stream", "error", err)
				}
			}()

			if include {
				if err := writeHead(a.out, h); err != nil {
					return err
				}
			}
			return a.writeBody(h, st, dl.Remaining())
		},
	}

	flags.register(cmd.Flags())
	cmd.Flags().BoolVarP(&include, "include", "i", false, "print the response head too")
	return cmd
}

func writeHead(w io.Writer, h *semantic.HeaderSet) error {
	code, _ := h.Status()
	st, _ := status.FromCode(uint(code))
	if _, err := fmt.Fprintf(w, "HTTP/1.1 %d %s\n", code, st.ReasonPhrase); err != nil {
		return err
	}

	var err error
	h.Each(func(f semantic.Field) bool {
		if semantic.IsPseudo(f.Name) {
			return true
		}
		_, err = fmt.Fprintf(w, "%s: %s\n", semantic.CanonicalName(f.Name), f.Value)
		return err == nil
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w)
	return err
}

// writeBody copies the response body to the output, undoing its content codings.
func (a *App) writeBody(h *semantic.HeaderSet, st stream.Stream, timeout time.Duration) error {
	pr, pw := io.Pipe()
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		pw.CloseWithError(stream.NewBodyIO(st, a.clock).DrainTo(pw, timeout))
	}()
	defer func() {
		_ = pr.Close()
		<-drained
	}()

	body, err := decodeContent(h.Tokens(semantic.FieldContentEncoding), pr)
	if err != nil {
		return err
	}
	_, err = io.Copy(a.out, body)
	return errors.Wrap(err, "reading response body")
}

// decodeContent undoes codings, listed in the order they were applied.
// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-8.4
func decodeContent(codings []string, r io.Reader) (io.Reader, error) {
	for _, coding := range slices.Backward(codings) {
		switch strings.ToLower(coding) {
		case "identity":
		case "gzip", "x-gzip":
			zr, err := gzip.NewReader(r)
			if err != nil {
				return nil, errors.Wrap(err, "reading gzip header")
			}
			r = zr
		case "deflate":
			zr, err := zlib.NewReader(r)
			if err != nil {
				return nil, errors.Wrap(err, "reading deflate header")
			}
			r = zr
		case "br":
			r = brotli.NewReader(r)
		default:
			return nil, errors.Wrapf(stream.ErrUnsupported, "content coding %q", coding)
		}
	}
	return r, nil
}
