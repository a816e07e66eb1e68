// Package service implements the hub's business operations on top of
// the repository, queue and shared-state layers.
package service

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnauthenticated means the caller presented no credential or a
	// bad one.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden means the credential is valid but lacks the scope.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidSignature means the body HMAC did not match.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrExpiredSignature means the timestamp fell outside tolerance.
	ErrExpiredSignature = errors.New("expired signature")
)

// RateLimitedError carries the retry-after hint to the HTTP layer.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}
