package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"
)

// ErrorKind is the normalized failure class of a provider call.
type ErrorKind string

const (
	KindRateLimited          ErrorKind = "RATE_LIMITED"
	KindAuthFailed           ErrorKind = "AUTH_FAILED"
	KindTimeout              ErrorKind = "TIMEOUT"
	KindNetworkFailure       ErrorKind = "NETWORK_FAILURE"
	KindProviderError        ErrorKind = "PROVIDER_ERROR"
	KindInvalidRequest       ErrorKind = "INVALID_REQUEST"
	KindConfigurationMissing ErrorKind = "CONFIGURATION_MISSING"
)

var ErrProviderNotFound = errors.New("provider not found")

// ProviderError is the only error shape returned by an Adapter.
type ProviderError struct {
	Kind     ErrorKind
	Provider string
	// vendor HTTP status, zero when no response was received
	Status  int
	Message string
	// vendor requested delay before the next call, zero when none
	RetryAfter time.Duration
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Provider, e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the same provider may be tried again.
func (e *ProviderError) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindTimeout, KindNetworkFailure:
		return true
	}
	return false
}

// HTTPStatus mirrors the vendor status when there is one.
func (e *ProviderError) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	switch e.Kind {
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindInvalidRequest:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// KindOf extracts the kind of err, or PROVIDER_ERROR for foreign errors.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindProviderError
}

// IsRetryable reports whether err is a retryable *ProviderError.
func IsRetryable(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Retryable()
}

func kindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return KindAuthFailed
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return KindTimeout
	case status == http.StatusBadRequest, status == http.StatusNotFound,
		status == http.StatusRequestEntityTooLarge, status == http.StatusUnprocessableEntity:
		return KindInvalidRequest
	}
	return KindProviderError
}

// kindForTransport classifies failures where no response was received.
func kindForTransport(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindNetworkFailure
}

// RetryAfterOf returns the delay the vendor asked for, if any.
func RetryAfterOf(err error) time.Duration {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.RetryAfter
	}
	return 0
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}
