package billing

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration reports a missing credential or secret. Never retried.
	ErrConfiguration = errors.New("billing configuration error")
	// ErrValidation reports caller input rejected before or by the provider.
	ErrValidation = errors.New("validation error")
	// ErrInvalidSignature reports a webhook payload whose signature did not verify.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrMalformedEvent reports an event missing a field its type requires.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrTransientProvider marks auth/connectivity failures of a provider call.
	ErrTransientProvider = errors.New("transient provider error")
	// ErrPermanentProvider marks provider failures that are not retried.
	ErrPermanentProvider = errors.New("permanent provider error")
	// ErrRetryExhausted is returned once every attempt failed transiently.
	ErrRetryExhausted = errors.New("retry budget exhausted")
	// ErrPersistence marks a failed read, write or commit of local state.
	ErrPersistence = errors.New("persistence error")
)

// ProviderError is a provider call failure surfaced without (further) retry.
type ProviderError struct {
	Op        string
	Attempts  int
	Transient bool
	// Invalid is set when the provider rejected the request itself (4xx
	// invalid_request_error); it makes the error match ErrValidation.
	Invalid   bool
	Err       error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *ProviderError) Unwrap() []error {
	kind := ErrPermanentProvider
	if e.Transient {
		kind = ErrTransientProvider
	}
	if e.Invalid {
		return []error{kind, ErrValidation, e.Err}
	}
	return []error{kind, e.Err}
}

// RetryExhaustedError is terminal: MaxRetries transient failures in a row.
// Last keeps the final cause for diagnostics but errors.Is only matches
// ErrRetryExhausted and ErrTransientProvider.
type RetryExhaustedError struct {
	Op       string
	Attempts int
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("failed to %s after %d attempts: %v", e.Op, e.Attempts, e.Last)
}

func (e *RetryExhaustedError) Is(target error) bool {
	return target == ErrRetryExhausted || target == ErrTransientProvider
}

// PersistenceError wraps a storage failure unchanged.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}
