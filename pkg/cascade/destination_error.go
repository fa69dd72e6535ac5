package cascade

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCategory classifies why a destination did not acknowledge a deletion.
type ErrorCategory string

const (
	ErrorTimeout        ErrorCategory = "timeout"
	ErrorBadData        ErrorCategory = "bad_data"
	ErrorAuthentication ErrorCategory = "authentication"
	ErrorOutage         ErrorCategory = "outage"
	ErrorRateLimited    ErrorCategory = "rate_limited"
	ErrorRejected       ErrorCategory = "rejected"
	ErrorCircuitOpen    ErrorCategory = "circuit_open"
)

// DestinationError is a normalized destination failure.
type DestinationError struct {
	Category    ErrorCategory
	Destination string
	Message     string
	Underlying  error
}

func (e *DestinationError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("destination %s [%s]: %s: %v", e.Destination, e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("destination %s [%s]: %s", e.Destination, e.Category, e.Message)
}

func (e *DestinationError) Unwrap() error { return e.Underlying }

// Retryable reports whether a later cascade might succeed without anyone
// fixing the destination.
func (e *DestinationError) Retryable() bool {
	switch e.Category {
	case ErrorTimeout, ErrorOutage, ErrorRateLimited, ErrorCircuitOpen:
		return true
	}
	return false
}

// IsRetryable reports whether err carries a retryable DestinationError.
func IsRetryable(err error) bool {
	var de *DestinationError
	if errors.As(err, &de) {
		return de.Retryable()
	}
	return false
}

func categoryForStatus(status int) ErrorCategory {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrorAuthentication
	case status == http.StatusTooManyRequests:
		return ErrorRateLimited
	case status == http.StatusGatewayTimeout || status == http.StatusRequestTimeout:
		return ErrorTimeout
	case status >= 500:
		return ErrorOutage
	default:
		return ErrorRejected
	}
}
