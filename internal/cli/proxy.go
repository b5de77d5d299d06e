package cli

import (
	"os"
	"os/signal"
	"syscall"

	"http-exchange/application/http/actor/server"
	"http-exchange/internal/proxy"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

func (a *App) proxyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Forward requests to the origin they name",
		Long: `proxy accepts HTTP/1.1 requests and sends each one on to the origin
named by its Host field. Redirects are passed back to the caller and
CONNECT tunnels are refused.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg := a.cfg.Proxy

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			c, err := a.newClient(reg)
			if err != nil {
				return err
			}
			fwd := proxy.NewForwarder(c, reg, a.clock, proxy.Options{
				UpstreamTimeout: cfg.UpstreamTimeout,
				WriteTimeout:    cfg.WriteTimeout,
			})

			l, err := a.listen(ctx, cfg.Listen)
			if err != nil {
				return errors.Wrapf(err, "listening on %s", cfg.Listen)
			}
			srv := server.New(l, a.logger.With("server", "proxy"), a.clock, fwd.Handle, cfg.ServerOptions())
			srv.Start()
			defer closeServer(a, srv)
			a.logger.Info("proxy listening", "addr", l.Addr().String())

			if cfg.MetricsListen != "" {
				ml, err := a.listen(ctx, cfg.MetricsListen)
				if err != nil {
					return errors.Wrapf(err, "listening on %s", cfg.MetricsListen)
				}
				msrv := server.New(ml, a.logger.With("server", "metrics"), a.clock, proxy.MetricsHandler(reg), cfg.ServerOptions())
				msrv.Start()
				defer closeServer(a, msrv)
				a.logger.Info("metrics listening", "addr", ml.Addr().String(), "path", proxy.MetricsPath)
			}

			<-ctx.Done()
			a.logger.Info("shutting down")
			return nil
		},
	}

	cmd.Flags().String("listen", "", "address to accept requests on")
	cmd.Flags().String("metrics-listen", "", "address to serve metrics on, none when empty")
	return cmd
}

func closeServer(a *App, srv *server.Server) {
	if err := srv.Close(); err != nil {
		a.logger.Error("closing server", "error", err)
	}
}
