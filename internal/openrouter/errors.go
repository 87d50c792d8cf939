package openrouter

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies upstream call failures.
type ErrorKind int

const (
	// KindUnauthorized means the key was rejected (HTTP 401). Not retryable.
	KindUnauthorized ErrorKind = iota
	// KindRateLimited means upstream throttled the call (HTTP 429).
	KindRateLimited
	// KindServerError covers upstream 5xx responses.
	KindServerError
	// KindTimeout means the request exceeded the client timeout.
	KindTimeout
	// KindNetwork covers other transport-level failures.
	KindNetwork
)

// String returns a short name for the error kind.
func (k ErrorKind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindRateLimited:
		return "rate_limited"
	case KindServerError:
		return "server_error"
	case KindTimeout:
		return "timeout"
	case KindNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// StatusError is a classified upstream failure.
type StatusError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	// RetryAfter is the upstream retry hint on 429 responses, zero when absent.
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	switch e.Kind {
	case KindUnauthorized:
		return fmt.Sprintf("API key invalid or expired: %s", e.Message)
	case KindRateLimited:
		if e.RetryAfter > 0 {
			return fmt.Sprintf("rate limit exceeded (retry after %s): %s", e.RetryAfter, e.Message)
		}
		return fmt.Sprintf("rate limit exceeded: %s", e.Message)
	case KindServerError:
		return fmt.Sprintf("OpenRouter server error (status %d): %s", e.StatusCode, e.Message)
	case KindTimeout:
		return "request timed out"
	case KindNetwork:
		return fmt.Sprintf("network error: %s", e.Message)
	default:
		return fmt.Sprintf("request failed (status %d): %s", e.StatusCode, e.Message)
	}
}

// Retryable reports whether a later attempt with the same key can succeed.
func (e *StatusError) Retryable() bool {
	return e.Kind != KindUnauthorized
}

// IsRetryable reports whether err is an upstream failure worth retrying.
// Unknown error types are treated as non-retryable.
func IsRetryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return false
}
