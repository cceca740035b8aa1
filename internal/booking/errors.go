package booking

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"ms-rentals/internal/availability"
	"ms-rentals/internal/models"
)

// ValidationError reports malformed input. Fields maps a request field to
// what is wrong with it.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func invalid(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// ConflictError means the request is well-formed but the current state of the
// booking or calendar does not allow it.
type ConflictError struct {
	Message   string
	Conflicts []availability.Range
}

func (e *ConflictError) Error() string {
	return e.Message
}

type AuthorizationError struct {
	Message string
}

func (e *AuthorizationError) Error() string {
	return e.Message
}

// ProviderError wraps a failed call to the payment provider.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("payment provider %s failed: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// ErrNotFound is returned, wrapped, when a booking, property or blocked date
// does not exist.
var ErrNotFound = models.ErrNotFound

// ErrPaymentNotSettled is returned when a refund arrives for a booking whose
// payment has not been recorded yet. Callers should retry later.
var ErrPaymentNotSettled = errors.New("payment not settled yet")
