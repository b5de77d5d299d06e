package status

import (
	"fmt"
)

// Error pairs a failure with the status that should be reported for it.
type Error struct {
	cause  error
	Status Status
}

func NewError(err error, status Status) Error {
	return Error{cause: err, Status: status}
}

func (e Error) Error() string {
	if e.cause == nil {
		return e.Status.String()
	}
	return fmt.Sprintf("%s: %s", e.Status, e.cause)
}

func (e Error) Cause() error  { return e.cause }
func (e Error) Unwrap() error { return e.cause }
