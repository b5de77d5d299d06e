// Package client builds HTTP requests and drives them through a single
// exchange each, following redirects and negotiating "100-continue".
package client

import (
	"log/slog"

	"github.com/benbjohnson/clock"
	"github.com/spf13/afero"
)

// Client creates requests sharing one connector and one set of defaults.
// Requests copy the options when they are created.
type Client struct {
	connector Connector
	fs        afero.Fs
	metrics   *Metrics

	opts Options

	logger *slog.Logger
	clock  clock.Clock
}

// New returns a client. fs keeps spilled inbound bodies, metrics may be nil.
func New(
	connector Connector,
	fs afero.Fs,
	metrics *Metrics,
	logger *slog.Logger,
	clock clock.Clock,
	opts Options,
) *Client {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}

	return &Client{
		connector: connector,
		fs:        fs,
		metrics:   metrics,
		opts:      opts,
		logger:    logger,
		clock:     clock,
	}
}
