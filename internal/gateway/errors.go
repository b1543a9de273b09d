package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/nulzo/prism-router/internal/llm"
	"github.com/nulzo/prism-router/pkg/api"
)

// ErrorCode is the terminal failure class of a routed request.
type ErrorCode string

const (
	CodeInvalidInput         ErrorCode = "INVALID_INPUT"
	CodeConfigurationMissing ErrorCode = "CONFIGURATION_MISSING"
	CodeRateLimited          ErrorCode = "RATE_LIMITED"
	CodeAuthFailed           ErrorCode = "AUTH_FAILED"
	CodeTimeout              ErrorCode = "TIMEOUT"
	CodeNetworkFailure       ErrorCode = "NETWORK_FAILURE"
	CodeProviderError        ErrorCode = "PROVIDER_ERROR"
	CodeInvalidRequest       ErrorCode = "INVALID_REQUEST"
	CodeCancelled            ErrorCode = "CANCELLED"
)

// StatusClientClosedRequest is returned when the caller went away mid-route.
const StatusClientClosedRequest = 499

// RouterError is the only error returned by Route.
type RouterError struct {
	RequestID     string         `json:"requestId"`
	Code          ErrorCode      `json:"code"`
	Message       string         `json:"message"`
	Status        int            `json:"status"`
	FallbacksUsed []string       `json:"fallbacksUsed,omitempty"`
	Timing        api.Timing     `json:"timing"`
	TokenUsage    api.TokenUsage `json:"tokenUsage"`
	Costs         api.Costs      `json:"costs"`
	Err           error          `json:"-"`
}

func (e *RouterError) Error() string {
	return fmt.Sprintf("route %s failed: %s: %s", e.RequestID, e.Code, e.Message)
}

func (e *RouterError) Unwrap() error {
	return e.Err
}

// HTTPStatus is the status the HTTP layer should answer with.
func (e *RouterError) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	return statusForCode(e.Code, 0)
}

func statusForCode(code ErrorCode, vendorStatus int) int {
	switch code {
	case CodeInvalidInput, CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeCancelled:
		return StatusClientClosedRequest
	case CodeProviderError, CodeAuthFailed:
		if vendorStatus != 0 {
			return vendorStatus
		}
		return http.StatusBadGateway
	}
	// configuration, timeout and network failures are our problem
	return http.StatusInternalServerError
}

func codeForKind(kind llm.ErrorKind) ErrorCode {
	switch kind {
	case llm.KindRateLimited:
		return CodeRateLimited
	case llm.KindAuthFailed:
		return CodeAuthFailed
	case llm.KindTimeout:
		return CodeTimeout
	case llm.KindNetworkFailure:
		return CodeNetworkFailure
	case llm.KindInvalidRequest:
		return CodeInvalidRequest
	case llm.KindConfigurationMissing:
		return CodeConfigurationMissing
	}
	return CodeProviderError
}

// fallsBack reports whether a failure of this kind moves on to the next candidate.
func fallsBack(kind llm.ErrorKind) bool {
	return kind != llm.KindInvalidRequest
}

// contextError reports why an execution context ended. Executions never see
// caller deadlines, so DeadlineExceeded can only be the route deadline.
func contextError(id string, err error) *RouterError {
	if errors.Is(err, context.DeadlineExceeded) {
		return newRouterError(id, CodeTimeout, "routing deadline exceeded", err)
	}
	return newRouterError(id, CodeCancelled, "request cancelled", err)
}

func newRouterError(id string, code ErrorCode, msg string, err error) *RouterError {
	vendor := 0
	var pe *llm.ProviderError
	if errors.As(err, &pe) {
		vendor = pe.Status
	}
	return &RouterError{
		RequestID: id,
		Code:      code,
		Message:   msg,
		Status:    statusForCode(code, vendor),
		Costs:     api.NewCosts(0, 0),
		Err:       err,
	}
}
