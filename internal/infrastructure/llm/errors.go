package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/avolkov/document-intel-engine/internal/infrastructure/resilience"
)

type HTTPStatusError struct {
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "fallback status error"
	}
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Sprintf("fallback %s status: %s", e.Operation, e.Status)
	}
	return fmt.Sprintf("fallback %s status: %s: %s", e.Operation, e.Status, strings.TrimSpace(e.Body))
}

// ResponseParseError marks a response the service answered with but
// that cannot be used: broken json, an empty category, or a category
// outside the valid set. These retry the same as transport failures;
// a second attempt at a nondeterministic service can succeed.
type ResponseParseError struct {
	Operation string
	Reason    string
}

func (e *ResponseParseError) Error() string {
	if e == nil {
		return "fallback parse error"
	}
	return fmt.Sprintf("fallback %s response: %s", e.Operation, e.Reason)
}

func classifyFallbackError(ctx context.Context, err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	// http.Client timeouts also unwrap to DeadlineExceeded, so the
	// deadline/cancel sentinels alone cannot distinguish "the caller
	// gave up" from "this one attempt was slow". Only the caller's
	// context decides that the whole call is over; an attempt timeout
	// falls through and retries like any other transport failure.
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return resilience.ErrorClassification{
			Retryable:     false,
			RecordFailure: false,
		}
	}
	if resilience.IsCircuitOpen(err) {
		return resilience.ErrorClassification{
			Retryable:     true,
			RecordFailure: true,
		}
	}

	var parseErr *ResponseParseError
	if errors.As(err, &parseErr) {
		return resilience.ErrorClassification{
			Retryable:     true,
			RecordFailure: false,
		}
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		if isRetryableHTTPStatus(statusErr.StatusCode) {
			return resilience.ErrorClassification{
				Retryable:     true,
				RecordFailure: true,
			}
		}
		return resilience.ErrorClassification{
			Retryable:     false,
			RecordFailure: false,
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.ErrorClassification{
			Retryable:     true,
			RecordFailure: true,
		}
	}

	// url.Error from a refused connection does not always unwrap to a
	// net.Error, so unknown transport failures retry too.
	return resilience.ErrorClassification{
		Retryable:     true,
		RecordFailure: true,
	}
}

func isRetryableHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
