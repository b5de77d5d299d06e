package client

import (
	"time"

	"http-exchange/application/http/actor/common"
)

// RedirectsDisabled as MaxRedirects makes every redirect fail with
// [stream.ErrRedirectLimitExceeded].
const RedirectsDisabled = -1

const DefaultUserAgent = "hx/0.1"

// Bodies longer than this, or of unknown length, are announced with
// "expect: 100-continue".
const expectContinueThreshold = 1024

type Options struct {
	Redirect RedirectOptions

	// Expect100Timeout bounds the wait for a 100 response before the body
	// is sent anyway.
	Expect100Timeout time.Duration

	// UserAgent is added to requests that do not carry one.
	UserAgent string

	Spill SpillOptions
}

type RedirectOptions struct {
	Follow bool
	// Max is the number of redirects a request may follow.
	Max int
}

// SpillOptions controls where bodies of inbound requests are kept.
type SpillOptions struct {
	// Bodies up to Threshold bytes stay in memory.
	Threshold int64
	// Dir is the directory for temporary files. Empty means the default one.
	Dir string
}

func DefaultOptions() Options {
	return Options{
		Redirect: RedirectOptions{
			Follow: true,
			Max:    5,
		},
		Expect100Timeout: time.Second,
		UserAgent:        DefaultUserAgent,
		Spill: SpillOptions{
			Threshold: 1 << 20,
		},
	}
}

// ConnectorOptions configures connections opened by a [DialConnector].
type ConnectorOptions struct {
	Stream common.Options
}

func DefaultConnectorOptions() ConnectorOptions {
	return ConnectorOptions{Stream: common.DefaultOptions()}
}
