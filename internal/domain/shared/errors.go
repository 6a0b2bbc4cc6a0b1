// Package shared contains the error kinds and domain events used across the
// gamification domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base error kinds, checked with errors.Is().
var (
	// Entity errors
	ErrNotFound     = errors.New("entity not found")
	ErrInvalidInput = errors.New("invalid input")

	// Remote store errors
	ErrStoreUnavailable = errors.New("store unavailable")

	// Expected, user-facing outcomes
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNotOwned          = errors.New("item not owned")
	ErrAlreadyOwned      = errors.New("item already owned")
	ErrItemLocked        = errors.New("item locked")

	// Consistency errors
	ErrPartialFailure     = errors.New("partial failure")
	ErrInvariantViolation = errors.New("invariant violation")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "wallet", "inventory", "streak"
	Op      string // Operation that failed, e.g., "Debit", "Equip"
	Kind    error  // Base error kind for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching against both the kind and the cause.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// StoreError wraps a failed remote call as ErrStoreUnavailable unless err
// already carries a domain kind (not found, insufficient funds, ...).
func StoreError(domain, op string, err error) error {
	if err == nil {
		return nil
	}
	var de *DomainError
	if errors.As(err, &de) {
		return err
	}
	return WrapError(domain, op, ErrStoreUnavailable, "remote store call failed", err)
}

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsStoreUnavailable checks if a remote call failed for connectivity reasons.
func IsStoreUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// IsExpected reports outcomes that are normal answers rather than failures.
func IsExpected(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrNotOwned) ||
		errors.Is(err, ErrAlreadyOwned) ||
		errors.Is(err, ErrItemLocked) ||
		errors.Is(err, ErrInvalidInput)
}

// IsRetryable checks if the operation can be retried. Only reads should be.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
