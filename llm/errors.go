package llm

import (
	"errors"
	"time"
)

// Error represents a provider-neutral LLM error.
type Error struct {
	Type        ErrorType
	Message     string
	Retryable   bool
	RetryAfter  *time.Duration
	StatusCode  int
	ProviderErr error // Original provider-specific error
}

// ErrorType represents the category of error.
type ErrorType string

const (
	ErrorTypeRateLimit       ErrorType = "rate_limit"
	ErrorTypeRequestTooLarge ErrorType = "request_too_large"
	ErrorTypeInvalidRequest  ErrorType = "invalid_request"
	ErrorTypeProvider        ErrorType = "provider"
	ErrorTypeNetwork         ErrorType = "network"
	ErrorTypeTimeout         ErrorType = "timeout"
	ErrorTypeInvalidResponse ErrorType = "invalid_response"
	ErrorTypeUnknown         ErrorType = "unknown"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.ProviderErr != nil {
		return e.Message + ": " + e.ProviderErr.Error()
	}
	return e.Message
}

// Unwrap returns the underlying provider error.
func (e *Error) Unwrap() error {
	return e.ProviderErr
}

// IsRateLimitError checks if an error is a rate limit error.
func IsRateLimitError(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type == ErrorTypeRateLimit
	}
	return false
}

// IsRequestTooLargeError checks if an error is a request too large error.
func IsRequestTooLargeError(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type == ErrorTypeRequestTooLarge
	}
	return false
}

// IsRetryableError checks if an error is retryable.
func IsRetryableError(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Retryable
	}
	return false
}

// ExtractRetryAfter extracts the retry-after duration from an error.
func ExtractRetryAfter(err error) *time.Duration {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.RetryAfter
	}
	return nil
}

// NewRateLimitError creates a new rate limit error.
func NewRateLimitError(message string, retryAfter *time.Duration, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeRateLimit,
		Message:     message,
		Retryable:   true,
		RetryAfter:  retryAfter,
		ProviderErr: providerErr,
	}
}

// NewRequestTooLargeError creates a new request too large error.
func NewRequestTooLargeError(message string, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeRequestTooLarge,
		Message:     message,
		Retryable:   true,
		ProviderErr: providerErr,
	}
}

// NewProviderError creates a new provider error.
func NewProviderError(message string, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeProvider,
		Message:     message,
		Retryable:   false,
		ProviderErr: providerErr,
	}
}

// NewNetworkError creates a retryable transport error.
func NewNetworkError(message string, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeNetwork,
		Message:     message,
		Retryable:   true,
		ProviderErr: providerErr,
	}
}

// NewTimeoutError creates a retryable error for a call that ran out of time.
func NewTimeoutError(providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeTimeout,
		Message:     "request timed out",
		Retryable:   true,
		ProviderErr: providerErr,
	}
}

// NewInvalidRequestError creates an error for requests the provider rejected as malformed.
func NewInvalidRequestError(message string, statusCode int, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeInvalidRequest,
		Message:     message,
		StatusCode:  statusCode,
		ProviderErr: providerErr,
	}
}

// NewInvalidResponseError creates an error for responses that could not be interpreted.
func NewInvalidResponseError(message string) *Error {
	return &Error{
		Type:    ErrorTypeInvalidResponse,
		Message: message,
	}
}

// FromStatusCode classifies an HTTP status returned by a provider.
func FromStatusCode(statusCode int, message string, providerErr error) *Error {
	switch {
	case statusCode == 429:
		e := NewRateLimitError(message, nil, providerErr)
		e.StatusCode = statusCode
		return e
	case statusCode == 413:
		e := NewRequestTooLargeError(message, providerErr)
		e.StatusCode = statusCode
		return e
	case statusCode == 408 || statusCode == 504:
		return &Error{Type: ErrorTypeTimeout, Message: message, Retryable: true, StatusCode: statusCode, ProviderErr: providerErr}
	case statusCode >= 500:
		e := NewProviderError(message, providerErr)
		e.Retryable = true
		e.StatusCode = statusCode
		return e
	case statusCode >= 400:
		return NewInvalidRequestError(message, statusCode, providerErr)
	default:
		return &Error{Type: ErrorTypeUnknown, Message: message, StatusCode: statusCode, ProviderErr: providerErr}
	}
}
