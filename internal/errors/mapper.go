package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// MapError maps raw errors from stores, providers, and the OS into the Aoi
// error taxonomy. Context errors propagate as-is so cancellation is never
// reclassified.
func MapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("request timeout: %w", ErrInferenceFailure)
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "no such file"), strings.Contains(errStr, "permission denied"), strings.Contains(errStr, "read-only file system"):
		return fmt.Errorf("state persistence failed: %w", ErrStoreUnavailable)

	case strings.Contains(errStr, "rate limit"), strings.Contains(errStr, "quota"), strings.Contains(errStr, "too many requests"):
		return fmt.Errorf("rate limited: %w", ErrTransient)

	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "deadline exceeded"):
		return fmt.Errorf("request timeout: %w", ErrTransient)

	case strings.Contains(errStr, "network"), strings.Contains(errStr, "connection"), strings.Contains(errStr, "unreachable"):
		return fmt.Errorf("network error: %w", ErrTransient)

	case strings.Contains(errStr, "not found"), strings.Contains(errStr, "does not exist"):
		return fmt.Errorf("resource not found: %w", ErrNotFound)

	case strings.Contains(errStr, "duplicate"):
		return fmt.Errorf("duplicate submission: %w", ErrDuplicateRejected)

	default:
		return fmt.Errorf("internal error: %w", ErrInternal)
	}
}

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrTransient)
}

// IsGuardRejection reports whether an error is an expected guard outcome
// rather than a failure.
func IsGuardRejection(err error) bool {
	return errors.Is(err, ErrCooldownRejected) || errors.Is(err, ErrDuplicateRejected)
}

// Wrap wraps an error with context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// WrapAs wraps an error with context and tags it with a taxonomy sentinel,
// so callers can match either the sentinel or the original cause.
func WrapAs(err error, sentinel error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", message, sentinel, err)
}

// IsCategory checks if error belongs to specific category.
func IsCategory(err error, category error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, category)
}

// StoreUnavailable wraps a message as a store availability error.
func StoreUnavailable(message string) error {
	return fmt.Errorf("%s: %w", message, ErrStoreUnavailable)
}

// InferenceFailure wraps a message as an inference failure.
func InferenceFailure(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInferenceFailure)
}

// WorkflowInvariant wraps a message as a workflow invariant violation.
func WorkflowInvariant(message string) error {
	return fmt.Errorf("%s: %w", message, ErrWorkflowInvariant)
}

// InvalidInput wraps a message as invalid input.
func InvalidInput(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInvalidInput)
}

// NotFound wraps a message as not found.
func NotFound(message string) error {
	return fmt.Errorf("%s: %w", message, ErrNotFound)
}

// Transient wraps a message as transient.
func Transient(message string) error {
	return fmt.Errorf("%s: %w", message, ErrTransient)
}

// Internal wraps a message as internal.
func Internal(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInternal)
}
