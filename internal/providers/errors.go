package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorKind classifies provider failures for retry and reporting decisions.
type ErrorKind string

const (
	// ErrKindAuth covers invalid or missing credentials (401, 403).
	ErrKindAuth ErrorKind = "auth"
	// ErrKindQuota covers exhausted billing or credit (402).
	ErrKindQuota ErrorKind = "quota"
	// ErrKindModelNotFound covers unknown model ids (404).
	ErrKindModelNotFound ErrorKind = "model_not_found"
	// ErrKindInvalidRequest covers malformed requests (400, 422).
	ErrKindInvalidRequest ErrorKind = "invalid_request"
	// ErrKindRateLimit covers throttling (429).
	ErrKindRateLimit ErrorKind = "rate_limit"
	// ErrKindServer covers upstream failures (5xx, 529 overloaded).
	ErrKindServer ErrorKind = "server"
	// ErrKindTimeout covers network timeouts and deadline expiry.
	ErrKindTimeout ErrorKind = "timeout"
	// ErrKindUnknown is everything else.
	ErrKindUnknown ErrorKind = "unknown"
)

// ProviderError wraps a failure from an LLM service with its classification.
type ProviderError struct {
	Provider string
	Kind     ErrorKind
	Status   int
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Provider, e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is worth retrying with backoff.
// Rate limits, server errors, and timeouts are transient; auth, quota,
// invalid-request, and unknown-model failures are not.
func (e *ProviderError) Retryable() bool {
	switch e.Kind {
	case ErrKindRateLimit, ErrKindServer, ErrKindTimeout:
		return true
	}
	return false
}

// AsProviderError extracts a *ProviderError from an error chain.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	ok := errors.As(err, &pe)
	return pe, ok
}

// ClassifyStatus maps an HTTP status code to an error kind.
func ClassifyStatus(status int) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return ErrKindAuth
	case status == 402:
		return ErrKindQuota
	case status == 404:
		return ErrKindModelNotFound
	case status == 400 || status == 422:
		return ErrKindInvalidRequest
	case status == 429:
		return ErrKindRateLimit
	case status == 529 || (status >= 500 && status < 600):
		return ErrKindServer
	default:
		return ErrKindUnknown
	}
}

// Classify builds a ProviderError from an arbitrary failure. The status is
// zero when the failure never reached HTTP (network error, cancellation).
func Classify(provider string, status int, err error) *ProviderError {
	kind := ErrKindUnknown
	if status > 0 {
		kind = ClassifyStatus(status)
	} else if isTimeout(err) {
		kind = ErrKindTimeout
	} else {
		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "rate limit"):
			kind = ErrKindRateLimit
		case strings.Contains(msg, "overloaded"), strings.Contains(msg, "503"):
			kind = ErrKindServer
		}
	}
	return &ProviderError{
		Provider: provider,
		Kind:     kind,
		Status:   status,
		Message:  err.Error(),
		Err:      err,
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded")
}
