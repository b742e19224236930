// Package errors is the service-wide error taxonomy. Every error that crosses a
// package boundary carries a Code so transports can map it to a status without
// string matching.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Code classifies an error.
type Code string

const (
	ErrCodeInvalidTransition   Code = "INVALID_TRANSITION"
	ErrCodeForbidden           Code = "FORBIDDEN"
	ErrCodeStaleState          Code = "STALE_STATE"
	ErrCodeBlocked             Code = "BLOCKED"
	ErrCodeInvalidReassignment Code = "INVALID_REASSIGNMENT"
	ErrCodeValidation          Code = "VALIDATION_ERROR"
	ErrCodeNotFound            Code = "NOT_FOUND"
	ErrCodeConflict            Code = "CONFLICT"
	ErrCodeUnauthorized        Code = "UNAUTHORIZED"
	ErrCodeInternal            Code = "INTERNAL"
)

// Error is the concrete error type returned by services and repositories.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// WithDetail attaches a key/value pair and returns the same error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates an error with the given code.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Wrap annotates err with a code and message. A nil err yields nil.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *Error {
	return New(ErrCodeNotFound, fmt.Sprintf("%s %s not found", resource, id)).
		WithDetail("resource", resource).
		WithDetail("id", id)
}

// InvalidInput reports a rejected request field.
func InvalidInput(field, msg string) *Error {
	return New(ErrCodeValidation, msg).WithDetail("field", field)
}

// InvalidTransition reports a move outside the status adjacency map.
func InvalidTransition(current, action string) *Error {
	return New(ErrCodeInvalidTransition,
		fmt.Sprintf("cannot %s from status %s", action, current)).
		WithDetail("current_status", current).
		WithDetail("action", action)
}

// Forbidden reports an actor that may not perform the action.
func Forbidden(msg string) *Error {
	return New(ErrCodeForbidden, msg)
}

// StaleState reports that the purchase request moved since the caller read it.
func StaleState(current, action string) *Error {
	return New(ErrCodeStaleState,
		fmt.Sprintf("purchase request changed before %s could be applied (now %s)", action, current)).
		WithDetail("current_status", current).
		WithDetail("action", action)
}

// Blocked reports an action refused while a budget exception is pending.
func Blocked(current, action string) *Error {
	return New(ErrCodeBlocked,
		fmt.Sprintf("%s is blocked while a budget exception is pending", action)).
		WithDetail("current_status", current).
		WithDetail("action", action)
}

// InvalidReassignment reports a reassignment precondition failure.
func InvalidReassignment(msg string) *Error {
	return New(ErrCodeInvalidReassignment, msg)
}

// CodeOf returns the code carried by err, or ErrCodeInternal for foreign errors.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether err carries code.
func HasCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// As is errors.As re-exported so callers need a single import.
func As(err error, target any) bool { return stderrors.As(err, target) }

// Is is errors.Is re-exported so callers need a single import.
func Is(err, target error) bool { return stderrors.Is(err, target) }
