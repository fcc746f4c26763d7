package llm

import (
	"errors"
	"net/http"
)

// Error code constants for standardized error handling across backends.
// Backends map their native errors to one of these codes.
const (
	ErrCodeAuthentication = "authentication_error"
	ErrCodeRateLimit      = "rate_limit_exceeded"
	ErrCodeModelNotFound  = "model_not_found"
	ErrCodeInvalidRequest = "invalid_request"
	ErrCodeContextLength  = "context_length_exceeded"
	ErrCodeServerError    = "server_error"
	ErrCodeUnreachable    = "unreachable"
	ErrCodeTimeout        = "timeout"
)

// ProviderError represents a typed error from a completion backend.
// Use the IsXxx helpers below to classify errors without inspecting fields.
type ProviderError struct {
	Code       string // One of the ErrCode* constants.
	StatusCode int    // HTTP status, 0 when no response was received.
	Message    string // Human-readable description.
	Err        error  // Underlying error (may be nil).
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError creates a typed provider error.
func NewProviderError(code string, status int, message string, err error) *ProviderError {
	return &ProviderError{Code: code, StatusCode: status, Message: message, Err: err}
}

// IsAuthenticationError reports whether err is an authentication failure.
func IsAuthenticationError(err error) bool {
	return hasCode(err, ErrCodeAuthentication)
}

// IsRateLimitError reports whether err is a rate-limit error.
func IsRateLimitError(err error) bool {
	return hasCode(err, ErrCodeRateLimit)
}

// IsInvalidRequestError reports whether err is a client-side validation error.
func IsInvalidRequestError(err error) bool {
	return hasCode(err, ErrCodeInvalidRequest)
}

// IsServerError reports whether err is a provider-side server error.
func IsServerError(err error) bool {
	return hasCode(err, ErrCodeServerError)
}

// IsTimeoutError reports whether err is a timeout.
func IsTimeoutError(err error) bool {
	return hasCode(err, ErrCodeTimeout)
}

// IsUnreachableError reports whether err is a network fault before any response.
func IsUnreachableError(err error) bool {
	return hasCode(err, ErrCodeUnreachable)
}

// IsRetryable reports whether the error is transient and the call may succeed on retry.
// Client errors other than 429 are terminal: resending the same payload cannot fix them.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if !errors.As(err, &pe) {
		return false
	}
	switch pe.Code {
	case ErrCodeRateLimit, ErrCodeServerError, ErrCodeTimeout, ErrCodeUnreachable:
		return true
	}
	return pe.StatusCode == http.StatusTooManyRequests || pe.StatusCode >= http.StatusInternalServerError
}

// StatusCodeOf returns the HTTP status carried by err, or 0.
func StatusCodeOf(err error) int {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.StatusCode
	}
	return 0
}

func hasCode(err error, code string) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Code == code
}
