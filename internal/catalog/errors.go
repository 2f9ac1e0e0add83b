package catalog

import (
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/playbridge/internal/shared"
)

// RateLimitedError is returned when a platform throttles a request.
//
// RetryAfter is zero when the platform did not say how long to wait.
type RateLimitedError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitedError) Error() string {
	msg := shared.ErrRateLimited.Error()
	if e.RetryAfter > 0 {
		msg = fmt.Sprintf("%s (retry after %s)", msg, e.RetryAfter)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RateLimitedError) Unwrap() []error {
	if e.Err == nil {
		return []error{shared.ErrRateLimited}
	}
	return []error{shared.ErrRateLimited, e.Err}
}

// RetryAfter extracts the wait hint from a rate limit error.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}

// Retryable reports whether err is transient.
func Retryable(err error) bool {
	return errors.Is(err, shared.ErrRateLimited) || errors.Is(err, shared.ErrUnavailable)
}

// IgnoreNotFound treats [shared.ErrNotFound] as already satisfied.
func IgnoreNotFound(err error) error {
	if errors.Is(err, shared.ErrNotFound) {
		return nil
	}
	return err
}

// classifyStatus maps an HTTP status code to the shared taxonomy.
func classifyStatus(status int, retryAfter time.Duration, cause error) error {
	switch {
	case status == 401:
		return fmt.Errorf("%w: %w", shared.ErrAuthExpired, cause)
	case status == 429:
		return &RateLimitedError{RetryAfter: retryAfter, Err: cause}
	case status == 404:
		return fmt.Errorf("%w: %w", shared.ErrNotFound, cause)
	case status >= 500 || status == 0:
		return fmt.Errorf("%w: %w", shared.ErrUnavailable, cause)
	default:
		return cause
	}
}

// parseRetryAfter reads a Retry-After header given in seconds.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	var secs int
	if _, err := fmt.Sscanf(v, "%d", &secs); err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
