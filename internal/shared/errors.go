package shared

import "fmt"

var (
	// Configuration errors
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// Catalog errors
	ErrAuthExpired   = fmt.Errorf("credential expired, re-authentication required")
	ErrRateLimited   = fmt.Errorf("rate limited by platform")
	ErrUnavailable   = fmt.Errorf("platform unavailable")
	ErrNotFound      = fmt.Errorf("not found on platform")
	ErrQuotaExceeded = fmt.Errorf("daily write quota exceeded")

	// Job errors
	ErrJobNotFound      = fmt.Errorf("migration job not found")
	ErrJobRunning       = fmt.Errorf("migration job already running")
	ErrInvalidState     = fmt.Errorf("invalid job state for operation")
	ErrRegistrationGone = fmt.Errorf("sync registration not found")

	// Input validation errors
	ErrInvalidInput     = fmt.Errorf("invalid input")
	ErrInvalidPlatform  = fmt.Errorf("unsupported platform")
	ErrInvalidFrequency = fmt.Errorf("unsupported sync frequency")
	ErrMissingArgument  = fmt.Errorf("missing required argument")
	ErrInvalidArgument  = fmt.Errorf("invalid argument")
)
