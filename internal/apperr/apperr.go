// Package apperr defines the error taxonomy shared across Switchboard services.
// Callers inspect errors with errors.As (or the Is* helpers) to decide how to
// surface them: validation and not-found map to 4xx, conflict to 409 with the
// current state attached, security to 401/403, external-service to 502-style
// reporting or message-level failure capture.
package apperr

import (
	"errors"
	"fmt"
)

// ValidationError indicates malformed or contradictory input.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return "validation: " + e.Msg }

// NotFoundError indicates a referenced entity is absent.
type NotFoundError struct {
	Entity string
	Ref    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.Ref)
}

// ConflictError indicates an invalid state transition or a duplicate that the
// caller may resolve by retrying against the current state.
type ConflictError struct {
	Msg          string
	CurrentState string
}

func (e *ConflictError) Error() string {
	if e.CurrentState == "" {
		return "conflict: " + e.Msg
	}
	return fmt.Sprintf("conflict: %s (current state: %s)", e.Msg, e.CurrentState)
}

// ExternalServiceError indicates a call to an external collaborator failed.
// Detail carries the provider's own error description when available.
type ExternalServiceError struct {
	Service    string
	StatusCode int
	Detail     string
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Service, e.StatusCode, e.Detail)
}

// SecurityError indicates a signature or token validation failure.
type SecurityError struct {
	Msg string
}

func (e *SecurityError) Error() string { return "security: " + e.Msg }

// Validation builds a ValidationError.
func Validation(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// NotFound builds a NotFoundError.
func NotFound(entity, ref string) error {
	return &NotFoundError{Entity: entity, Ref: ref}
}

// Conflict builds a ConflictError with the entity's current state.
func Conflict(currentState, format string, args ...interface{}) error {
	return &ConflictError{Msg: fmt.Sprintf(format, args...), CurrentState: currentState}
}

// External builds an ExternalServiceError.
func External(service string, statusCode int, detail string) error {
	return &ExternalServiceError{Service: service, StatusCode: statusCode, Detail: detail}
}

// Security builds a SecurityError.
func Security(format string, args ...interface{}) error {
	return &SecurityError{Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var e *ConflictError
	return errors.As(err, &e)
}

// IsExternal reports whether err is an ExternalServiceError.
func IsExternal(err error) bool {
	var e *ExternalServiceError
	return errors.As(err, &e)
}

// IsSecurity reports whether err is a SecurityError.
func IsSecurity(err error) bool {
	var e *SecurityError
	return errors.As(err, &e)
}
