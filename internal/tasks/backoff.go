package tasks

import (
	"errors"
	"math/rand"
	"time"
)

// Backoff returns the delay before the given attempt is retried. attempt starts at 1.
type Backoff func(attempt int) time.Duration

// Fixed retries after the same delay every time.
func Fixed(d time.Duration) Backoff {
	return func(int) time.Duration { return d }
}

// Exponential doubles from base up to max and adds up to 20% jitter.
func Exponential(base, max time.Duration) Backoff {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		d := base
		for i := 1; i < attempt && d < max; i++ {
			d *= 2
		}
		if d > max {
			d = max
		}
		if jitter := int64(d / 5); jitter > 0 {
			d += time.Duration(rand.Int63n(jitter))
		}
		if d > max {
			d = max
		}
		return d
	}
}

// DefaultBackoff is used for kinds registered without one.
var DefaultBackoff = Exponential(30*time.Second, time.Hour)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks a handler error as not worth retrying; the task dead-letters at once.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
