package server

import (
	"time"

	"http-exchange/application/http/actor/common"
)

type Options struct {
	Stream  common.Options
	Timeout TimeoutOptions
}

type TimeoutOptions struct {
	// ReadTimeout is handed to handlers for reading a request.
	ReadTimeout time.Duration
	// WriteTimeout bounds error responses written by the server.
	WriteTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		Stream: common.DefaultOptions(),
		Timeout: TimeoutOptions{
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}
