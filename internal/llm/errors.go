package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrorKind is the closed classification every provider failure normalizes to.
type ErrorKind string

const (
	ErrorTransient   ErrorKind = "transient"
	ErrorPermanent   ErrorKind = "permanent"
	ErrorRateLimited ErrorKind = "rate_limited"
	ErrorAuthFailed  ErrorKind = "auth_failed"
	ErrorTimeout     ErrorKind = "timeout"
)

// ProviderError is the uniform error shape adapters return. Provider-specific
// error bodies are flattened into Message; classification lives in Kind.
type ProviderError struct {
	Kind       ErrorKind
	ProviderID string
	StatusCode int
	Message    string
	RetryAfter *time.Duration
}

func (e *ProviderError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = "request failed"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s error (%s, status=%d): %s", e.ProviderID, e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s error (%s): %s", e.ProviderID, e.Kind, msg)
}

// Retryable reports whether the adapter's own backoff loop may retry.
func (e *ProviderError) Retryable() bool {
	switch e.Kind {
	case ErrorTransient, ErrorRateLimited, ErrorTimeout:
		return true
	default:
		return false
	}
}

type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + strings.TrimSpace(e.Message)
}

// ErrorFromHTTPStatus classifies an HTTP failure status into a ProviderError.
func ErrorFromHTTPStatus(provider string, statusCode int, message string, retryAfter *time.Duration) *ProviderError {
	e := &ProviderError{
		ProviderID: strings.TrimSpace(provider),
		StatusCode: statusCode,
		Message:    message,
		RetryAfter: retryAfter,
	}
	switch statusCode {
	case 401, 403:
		e.Kind = ErrorAuthFailed
	case 408:
		e.Kind = ErrorTimeout
	case 429:
		e.Kind = ErrorRateLimited
	case 400, 404, 413, 422:
		e.Kind = ErrorPermanent
	default:
		// Unknown statuses default to retryable.
		e.Kind = ErrorTransient
	}
	return e
}

// WrapTransportError normalizes transport-level failures (DNS, TLS, context
// deadline) from http.Client.Do. Caller cancellation passes through unchanged
// so the scheduler can distinguish it from a per-attempt timeout.
func WrapTransportError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ProviderError{Kind: ErrorTimeout, ProviderID: provider, Message: "request deadline exceeded"}
	}
	return &ProviderError{Kind: ErrorTransient, ProviderID: provider, Message: err.Error()}
}

// ParseRetryAfter parses a Retry-After header value.
// Supported forms:
// - integer seconds
// - HTTP-date (RFC 7231)
func ParseRetryAfter(v string, now time.Time) *time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		d := time.Duration(secs) * time.Second
		return &d
	}
	if t, err := http.ParseTime(v); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return &d
	}
	return nil
}

func IsAuthFailed(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == ErrorAuthFailed
}

func IsPermanent(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == ErrorPermanent
}
