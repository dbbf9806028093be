package ai

import (
	"errors"
	"fmt"
)

// ErrQuotaExceeded indicates the AI provider returned a quota/limit error (HTTP 429 or similar).
var ErrQuotaExceeded = errors.New("ai quota exceeded")

// ErrUnsupportedInput is returned by a classifier asked to handle an input kind it does not accept.
var ErrUnsupportedInput = errors.New("input kind not supported by provider")

// ErrAllProvidersFailed is matched by AllProvidersFailedError.
var ErrAllProvidersFailed = errors.New("all inference providers failed")

// ProviderError is a single adapter failure: network error, non-2xx or malformed payload.
type ProviderError struct {
	Provider string
	Status   int
	Cause    error
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("provider %s: status %d: %v", e.Provider, e.Status, e.Cause)
	}
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Cause)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// AllProvidersFailedError is raised once every adapter in a chain has failed.
type AllProvidersFailedError struct {
	Attempts int
	Last     error
}

func (e *AllProvidersFailedError) Error() string {
	return fmt.Sprintf("%s after %d attempt(s): %v", ErrAllProvidersFailed, e.Attempts, e.Last)
}

func (e *AllProvidersFailedError) Unwrap() []error { return []error{ErrAllProvidersFailed, e.Last} }

// MalformedOutputError is a provider reply that could not be parsed as the requested JSON.
// Adapters recover from it locally with a degraded result.
type MalformedOutputError struct {
	Provider string
	Raw      string
	Cause    error
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("provider %s returned malformed output: %v", e.Provider, e.Cause)
}

func (e *MalformedOutputError) Unwrap() error { return e.Cause }

// Fail wraps cause as a ProviderError, marking 429s as quota errors.
func Fail(provider string, status int, cause error) error {
	if status == 429 && !errors.Is(cause, ErrQuotaExceeded) {
		cause = fmt.Errorf("%w: %v", ErrQuotaExceeded, cause)
	}
	return &ProviderError{Provider: provider, Status: status, Cause: cause}
}
