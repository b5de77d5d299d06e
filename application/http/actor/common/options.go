package common

import (
	"http-exchange/application/http"
	"http-exchange/application/http/transfer"
)

type Options struct {
	Encode http.EncodeOptions
	Decode http.DecodeOptions

	// MaxTargetLength limits request-targets received by a server-role stream.
	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-3-5
	MaxTargetLength int

	// ChunkSize bounds the size of a chunk returned by GetNextChunk.
	ChunkSize int

	ReadBufferSize  int
	WriteBufferSize int

	ExtraTransferCoders []transfer.Coder
}

func DefaultOptions() Options {
	return Options{
		Encode:          http.DefaultEncodeOptions,
		Decode:          http.DefaultDecodeOptions,
		MaxTargetLength: 8 << 10,
		ChunkSize:       32 << 10,
		ReadBufferSize:  16 << 10,
		WriteBufferSize: 16 << 10,
	}
}
