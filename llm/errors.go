package llm

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/i2y/quill/provider"
)

// Sentinels matched by the typed errors below through errors.Is.
var (
	// ErrConfiguration matches every ConfigurationError.
	ErrConfiguration = errors.New("configuration error")

	// ErrValidation matches every ValidationError.
	ErrValidation = errors.New("validation error")

	// ErrTimeout matches every TimeoutError.
	ErrTimeout = errors.New("request timed out")

	// ErrCancelled matches every CancelledError.
	ErrCancelled = errors.New("generation cancelled")
)

// ConfigurationError reports that no provider or no model could be chosen.
// It wraps provider.ErrNoProvider or provider.ErrNoModel.
type ConfigurationError struct {
	Cause error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %v", e.Cause)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Cause
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// ValidationError reports unusable input, such as an empty prompt.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Category is the user-facing class of a TransportError.
type Category string

const (
	CategoryInvalidRequest Category = "invalid_request"
	CategoryCredentials    Category = "credentials"
	CategoryRateLimited    Category = "rate_limited"
	CategoryUnavailable    Category = "unavailable"
	CategoryNetwork        Category = "network"
	CategoryUnknown        Category = "unknown"
)

// ClassifyStatus maps an HTTP status code to a Category.
func ClassifyStatus(code int) Category {
	switch {
	case code == http.StatusBadRequest, code == http.StatusNotFound,
		code == http.StatusRequestEntityTooLarge, code == http.StatusUnprocessableEntity:
		return CategoryInvalidRequest
	case code == http.StatusUnauthorized, code == http.StatusForbidden, code == http.StatusPaymentRequired:
		return CategoryCredentials
	case code == http.StatusTooManyRequests:
		return CategoryRateLimited
	case code >= 500:
		return CategoryUnavailable
	default:
		return CategoryUnknown
	}
}

// TransportError reports a failed network call or a non-2xx answer.
type TransportError struct {
	Provider   provider.Kind
	Category   Category
	StatusCode int
	Message    string
	Cause      error
	// FellBack is set when the call already went to the alternate provider.
	FellBack bool
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s (status %d): %s", e.Provider, e.Category, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s %s: %s", e.Provider, e.Category, e.Message)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether a different provider might succeed.
func (e *TransportError) Retryable() bool {
	return e.Category == CategoryUnavailable || e.Category == CategoryRateLimited || e.Category == CategoryNetwork
}

// newTransportError classifies a backend error.
func newTransportError(kind provider.Kind, err error) *TransportError {
	var apiErr *provider.APIError
	if errors.As(err, &apiErr) {
		return &TransportError{
			Provider:   kind,
			Category:   ClassifyStatus(apiErr.StatusCode),
			StatusCode: apiErr.StatusCode,
			Message:    apiErr.Message,
			Cause:      err,
		}
	}
	return &TransportError{
		Provider: kind,
		Category: CategoryNetwork,
		Message:  err.Error(),
		Cause:    err,
	}
}

// TimeoutError reports that the client-side watchdog fired.
type TimeoutError struct {
	Provider provider.Kind
	After    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s request timed out after %s", e.Provider, e.After)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// CancelledError reports a caller-initiated cancellation.
type CancelledError struct {
	EntityID string
}

func (e *CancelledError) Error() string {
	if e.EntityID == "" {
		return ErrCancelled.Error()
	}
	return fmt.Sprintf("generation cancelled for %q", e.EntityID)
}

func (e *CancelledError) Is(target error) bool {
	return target == ErrCancelled
}

// ErrorMessage converts err into text that can be shown to a user.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}

	var (
		cfgErr       *ConfigurationError
		validErr     *ValidationError
		transportErr *TransportError
		timeoutErr   *TimeoutError
	)
	switch {
	case errors.As(err, &cfgErr):
		if errors.Is(err, provider.ErrNoModel) {
			return "No model selected. Choose a model or set a default model for the provider in settings."
		}
		return "No AI provider is configured. Add an API key or server address in settings."
	case errors.As(err, &validErr):
		return validErr.Message
	case errors.As(err, &transportErr):
		return transportMessage(transportErr)
	case errors.As(err, &timeoutErr):
		return fmt.Sprintf("The request timed out after %d seconds. Please try again.", int(timeoutErr.After.Seconds()))
	case errors.Is(err, ErrCancelled):
		return "Generation cancelled."
	default:
		return "Something went wrong while generating text."
	}
}

func transportMessage(e *TransportError) string {
	switch e.Category {
	case CategoryInvalidRequest:
		return fmt.Sprintf("The %s provider rejected the request: %s", e.Provider, e.Message)
	case CategoryCredentials:
		return fmt.Sprintf("The %s API key is invalid or lacks permission for this model.", e.Provider)
	case CategoryRateLimited:
		return fmt.Sprintf("Rate limit reached for %s. Please wait a moment and try again.", e.Provider)
	case CategoryUnavailable:
		return fmt.Sprintf("%s is temporarily unavailable. Please try again later.", e.Provider)
	case CategoryNetwork:
		return fmt.Sprintf("Could not reach %s. Check your network connection.", e.Provider)
	default:
		return fmt.Sprintf("Unexpected error from %s: %s", e.Provider, e.Message)
	}
}
