// Package deadline turns relative timeouts into an absolute budget that can
// be shared by several sequential steps.
package deadline

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Unbounded is the timeout value meaning "no deadline".
// Any negative duration is treated the same way.
const Unbounded time.Duration = -1

// Deadline is an absolute point in time derived from a timeout.
// The zero value is unbounded.
type Deadline struct {
	clock   clock.Clock
	at      time.Time
	bounded bool
}

func New(c clock.Clock, timeout time.Duration) Deadline {
	if timeout < 0 {
		return Deadline{clock: c}
	}
	return Deadline{clock: c, at: c.Now().Add(timeout), bounded: true}
}

func (d Deadline) Bounded() bool { return d.bounded }

// Remaining returns the time left until the deadline, clamped at zero.
// It returns Unbounded when there is no deadline.
func (d Deadline) Remaining() time.Duration {
	if !d.bounded {
		return Unbounded
	}

	left := d.at.Sub(d.clock.Now())
	if left < 0 {
		return 0
	}
	return left
}

func (d Deadline) Exceeded() bool {
	return d.bounded && !d.clock.Now().Before(d.at)
}

// Time returns the absolute deadline, or the zero time when unbounded.
// The zero time is what transport deadline setters understand as "none".
func (d Deadline) Time() time.Time {
	if !d.bounded {
		return time.Time{}
	}
	return d.at
}

// Min returns the smaller of two timeouts, where a negative value is larger
// than any bounded one.
func Min(a, b time.Duration) time.Duration {
	switch {
	case a < 0:
		return b
	case b < 0:
		return a
	case a < b:
		return a
	default:
		return b
	}
}

// At converts a relative timeout into an absolute time using c.
// Negative timeouts yield the zero time.
func At(c clock.Clock, timeout time.Duration) time.Time {
	if timeout < 0 {
		return time.Time{}
	}
	return c.Now().Add(timeout)
}
