package forwarder

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnauthorized is returned by Account.Destinations when the account
	// needs to be re-authenticated. It ends the run.
	ErrUnauthorized = errors.New("account not authorized")
	// ErrRejected marks a permanent refusal by one destination (privacy,
	// write forbidden, kicked).
	ErrRejected = errors.New("destination rejected message")
	// ErrTransient marks a delivery failure worth retrying next cycle.
	ErrTransient = errors.New("transient delivery failure")
	// ErrStillStopping is returned by Registry.Start while a loop whose Stop
	// timed out has not exited yet.
	ErrStillStopping = errors.New("previous loop still stopping")
)

// RateLimitError carries the wait reported by the remote service.
type RateLimitError struct {
	Wait time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.Wait)
}

// RetryAfter builds a *RateLimitError from a seconds value.
func RetryAfter(seconds int) error {
	return &RateLimitError{Wait: time.Duration(seconds) * time.Second}
}
