package errors

import (
	"errors"
)

// Sentinel errors for different categories
var (
	// ErrStoreUnavailable - shared state store unreachable (degrade to stateless behavior, log, continue conversation)
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrInferenceFailure - model call timed out, failed, or returned unusable output (fall back to the component's safe branch)
	ErrInferenceFailure = errors.New("inference failure")

	// ErrCooldownRejected - submission blocked by the minimum inter-post interval (expected guard outcome, not a failure)
	ErrCooldownRejected = errors.New("cooldown rejected")

	// ErrDuplicateRejected - submission matched an active content fingerprint (expected guard outcome, not a failure)
	ErrDuplicateRejected = errors.New("duplicate rejected")

	// ErrWorkflowInvariant - workflow continued with no active state or in a terminal stage (treat as no workflow, never crash)
	ErrWorkflowInvariant = errors.New("workflow invariant violation")

	// ErrInvalidInput - invalid input (show validation error to caller)
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound - resource not found
	ErrNotFound = errors.New("not found")

	// ErrTransient - transient error (retry with backoff)
	ErrTransient = errors.New("transient error")

	// ErrInternal - internal error (generic message, never terminates the process)
	ErrInternal = errors.New("internal error")
)
