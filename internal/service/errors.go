package service

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDuplicateMedia rejects registration of a media ID the user already
	// tracks, under any of their accounts.
	ErrDuplicateMedia = errors.New("media already registered")

	// ErrMediaNotFound means the media was deleted or made inaccessible
	// upstream. Terminal: the record stays pending and is never retried
	// within an invocation.
	ErrMediaNotFound = errors.New("media not found")

	// ErrUnauthorized means the provider rejected the bearer credential.
	// The executor refreshes the token and retries once.
	ErrUnauthorized = errors.New("credential rejected by provider")

	// ErrCredentialExpired means the long-lived token can no longer be
	// refreshed; only user re-authorization fixes it.
	ErrCredentialExpired = errors.New("credential expired, re-authorization required")

	// ErrTransient covers network failures and 5xx responses; retried with
	// backoff, then left for the next scheduled scan.
	ErrTransient = errors.New("transient provider error")
)

// RateLimitError carries the provider-supplied retry hint, when present.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

// IsRetryable reports whether the error is worth another attempt within the
// same invocation.
func IsRetryable(err error) bool {
	var rl *RateLimitError
	return errors.Is(err, ErrTransient) || errors.As(err, &rl)
}
