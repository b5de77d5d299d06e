package stream

import (
	"github.com/pkg/errors"
)

var (
	ErrInvalidArgument       = errors.New("invalid argument")
	ErrRedirectLimitExceeded = errors.New("redirect limit exceeded")
	ErrTimeout               = errors.New("timed out")
	ErrUnexpectedEnd         = errors.New("body ended unexpectedly")
	// ErrEndOfBody marks normal completion of a body.
	// Consumers treat it as termination, never as a failure.
	ErrEndOfBody = errors.New("end of body")
	// ErrUnsupported is returned for operations a value cannot express.
	ErrUnsupported = errors.New("unsupported")
)

// Code classifies an error. Values follow Linux errno numbering.
type Code int

const (
	CodeOK              Code = 0
	CodeTransport       Code = 5   // EIO
	CodeInvalidArgument Code = 22  // EINVAL
	CodeTooManyLinks    Code = 31  // EMLINK
	CodeEndOfBody       Code = 32  // EPIPE
	CodeUnexpectedEnd   Code = 61  // ENODATA
	CodeUnsupported     Code = 95  // EOPNOTSUPP
	CodeTimeout         Code = 110 // ETIMEDOUT
)

// Coder is implemented by errors carrying their own code.
type Coder interface {
	Code() int
}

var sentinelCodes = []struct {
	err  error
	code Code
}{
	{ErrInvalidArgument, CodeInvalidArgument},
	{ErrRedirectLimitExceeded, CodeTooManyLinks},
	{ErrTimeout, CodeTimeout},
	{ErrUnexpectedEnd, CodeUnexpectedEnd},
	{ErrEndOfBody, CodeEndOfBody},
	{ErrUnsupported, CodeUnsupported},
}

// CodeOf returns the code of err. Errors that are not part of the
// taxonomy keep the code they carry, or get [CodeTransport].
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}

	for _, sc := range sentinelCodes {
		if errors.Is(err, sc.err) {
			return sc.code
		}
	}

	var coder Coder
	if errors.As(err, &coder) {
		return Code(coder.Code())
	}

	return CodeTransport
}
