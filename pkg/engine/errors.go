// Package engine implements the generic provisioning engine: ordered
// idempotent steps with probe/apply/rollback semantics, an idempotency guard
// for non-repeatable applies, and a read-only verification pass.
package engine

import (
	"errors"
	"fmt"
)

// ErrorClass classifies a workflow error for abort and reporting decisions.
type ErrorClass string

const (
	// ErrorClassValidation indicates bad input, caught before any side effect.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassPrereqMissing indicates a required backend or service is
	// absent. Fatal; the operator must run an earlier provisioning stage.
	ErrorClassPrereqMissing ErrorClass = "prereq_missing"

	// ErrorClassUnrecoverableState indicates a credential/resource conflict
	// that is never auto-resolved. The error carries the literal remediation.
	ErrorClassUnrecoverableState ErrorClass = "unrecoverable_state"

	// ErrorClassApplyFailed indicates a step's mutation failed. Triggers the
	// rollback path when the step registered one, else aborts the run.
	ErrorClassApplyFailed ErrorClass = "apply_failed"

	// ErrorClassLockTimeout indicates the reload lock could not be acquired
	// within its bound. Always aborts.
	ErrorClassLockTimeout ErrorClass = "lock_timeout"

	// ErrorClassVerification indicates a post-hoc verification check failed.
	// Non-fatal; reported and aggregated without stopping other checks.
	ErrorClassVerification ErrorClass = "verification"
)

// WorkflowError is a classified error with resource and step context.
type WorkflowError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Resource is the resource key that caused the error, if applicable.
	Resource string `json:"resource,omitempty"`

	// Step is the step being executed when the error occurred.
	Step string `json:"step,omitempty"`

	// Remediation is the literal command(s) an operator must run to resolve
	// an unrecoverable state. Only set for that class.
	Remediation string `json:"remediation,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *WorkflowError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Resource != "" {
		msg += fmt.Sprintf(" (resource=%s)", e.Resource)
	}
	if e.Step != "" {
		msg += fmt.Sprintf(" (step=%s)", e.Step)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// Is matches on class so errors.Is works against class sentinels.
func (e *WorkflowError) Is(target error) bool {
	t, ok := target.(*WorkflowError)
	if !ok {
		return false
	}
	return e.Class == t.Class
}

// WithResource adds resource context to an error.
func (e *WorkflowError) WithResource(key string) *WorkflowError {
	e.Resource = key
	return e
}

// WithStep adds step context to an error.
func (e *WorkflowError) WithStep(step string) *WorkflowError {
	e.Step = step
	return e
}

// NewValidationError creates a validation error.
func NewValidationError(message string, err error) *WorkflowError {
	return &WorkflowError{Class: ErrorClassValidation, Message: message, Err: err}
}

// NewPrereqMissingError creates a missing-prerequisite error.
func NewPrereqMissingError(message string, err error) *WorkflowError {
	return &WorkflowError{Class: ErrorClassPrereqMissing, Message: message, Err: err}
}

// NewUnrecoverableStateError creates a conflict error with the exact manual
// remediation the operator must perform.
func NewUnrecoverableStateError(message, remediation string) *WorkflowError {
	return &WorkflowError{
		Class:       ErrorClassUnrecoverableState,
		Message:     message,
		Remediation: remediation,
	}
}

// NewApplyFailedError creates an apply-failure error.
func NewApplyFailedError(message string, err error) *WorkflowError {
	return &WorkflowError{Class: ErrorClassApplyFailed, Message: message, Err: err}
}

// NewLockTimeoutError creates a lock-timeout error.
func NewLockTimeoutError(message string, err error) *WorkflowError {
	return &WorkflowError{Class: ErrorClassLockTimeout, Message: message, Err: err}
}

// NewVerificationError creates a non-fatal verification error.
func NewVerificationError(message string, err error) *WorkflowError {
	return &WorkflowError{Class: ErrorClassVerification, Message: message, Err: err}
}

// classOf extracts the class of a WorkflowError in an error chain.
func classOf(err error) (ErrorClass, bool) {
	var e *WorkflowError
	if errors.As(err, &e) {
		return e.Class, true
	}
	return "", false
}

// IsValidation reports whether the error is a validation error.
func IsValidation(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassValidation
}

// IsPrereqMissing reports whether the error is a missing-prerequisite error.
func IsPrereqMissing(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassPrereqMissing
}

// IsUnrecoverableState reports whether the error is an unrecoverable conflict.
func IsUnrecoverableState(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassUnrecoverableState
}

// IsApplyFailed reports whether the error is an apply failure.
func IsApplyFailed(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassApplyFailed
}

// IsLockTimeout reports whether the error is a lock timeout.
func IsLockTimeout(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassLockTimeout
}

// IsVerification reports whether the error is a verification failure.
func IsVerification(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassVerification
}

// Remediation returns the remediation text carried by an unrecoverable-state
// error, or "" when the error carries none.
func Remediation(err error) string {
	var e *WorkflowError
	if errors.As(err, &e) {
		return e.Remediation
	}
	return ""
}
