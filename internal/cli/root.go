// Package cli implements the hx command line.
package cli

import (
	"context"
	"io"
	"log/slog"
	"os"

	"http-exchange/application/http/actor/client"
	"http-exchange/application/util/domain"
	"http-exchange/internal/config"
	"http-exchange/transport"
	"http-exchange/transport/tcp"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// App holds what the commands share. Its zero transports are the TCP ones.
type App struct {
	fs     afero.Fs
	out    io.Writer
	errOut io.Writer
	clock  clock.Clock

	dialer transport.ConnDialer
	addr   client.AddrFunc
	listen func(ctx context.Context, address string) (transport.ConnListener, error)

	cfg    *config.Config
	logger *slog.Logger
}

func NewApp(fs afero.Fs, out, errOut io.Writer) *App {
	return &App{
		fs:     fs,
		out:    out,
		errOut: errOut,
		clock:  clock.New(),
		addr: func(host string, port uint16) transport.Addr {
			return tcp.NewAddr(host, port)
		},
		listen: func(ctx context.Context, address string) (transport.ConnListener, error) {
			return tcp.Listen(ctx, address)
		},
	}
}

// Execute runs hx with the process arguments.
func Execute() error {
	return NewApp(afero.NewOsFs(), os.Stdout, os.Stderr).RootCommand().Execute()
}

func (a *App) RootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "hx",
		Short: "Send HTTP/1.1 requests and forward them",
		Long: `hx sends HTTP/1.1 requests, prints them as curl command lines
and runs a forwarding proxy.

Settings come from flags, HX_* environment variables and an optional
config file, in that order of precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.fs, configPath, cmd.Flags())
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = cfg.Log.Logger(a.errOut)
			return nil
		},
	}
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	pf := root.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "config file (yaml, toml or json)")
	pf.String("log-level", "info", "log level: debug, info, warn or error")
	pf.String("log-format", "text", "log format: text or json")

	root.AddCommand(a.fetchCommand(), a.curlCommand(), a.proxyCommand())
	return root
}

// newClient builds a client from the loaded configuration.
// reg may be nil.
func (a *App) newClient(reg prometheus.Registerer) (*client.Client, error) {
	dialer := a.dialer
	if dialer == nil {
		dialer = tcp.NewDialer(a.cfg.Client.DialKeepAlive)
	}

	lookuper, err := domain.ParseEntries(a.cfg.Client.Resolve)
	if err != nil {
		return nil, errors.Wrap(err, "resolve")
	}
	addr := func(host string, port uint16) transport.Addr {
		if resolved, err := lookuper.Lookup(host); err == nil {
			a.logger.Debug("host resolved", "host", host, "addr", resolved)
			host = resolved
		}
		return a.addr(host, port)
	}

	connector := client.NewDialConnector(dialer, addr, a.logger, a.clock, client.DefaultConnectorOptions())

	var metrics *client.Metrics
	if reg != nil {
		metrics = client.NewMetrics(reg)
	}
	return client.New(connector, a.fs, metrics, a.logger, a.clock, a.cfg.Client.Options()), nil
}
