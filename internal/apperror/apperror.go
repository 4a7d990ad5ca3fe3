// Package apperror defines the error taxonomy shared by the game core.
//
// Every error that crosses a component boundary is either an *Error carrying
// one of the codes below or an unclassified error, which callers treat as
// CodeInternal. Classification uses errors.As, so wrapping with %w is safe.
package apperror

import (
	"errors"
	"fmt"
)

// Code categorizes an Error.
type Code string

const (
	// CodeNotFound indicates a missing node, spell, or user reference.
	CodeNotFound Code = "NOT_FOUND"

	// CodeValidation indicates malformed input (bad ingredient list, negative amount).
	CodeValidation Code = "VALIDATION"

	// CodeConflict indicates a lost uniqueness race. It is recovered inside
	// the crafting resolver and never reaches callers of the game service.
	CodeConflict Code = "CONFLICT"

	// CodeInternal indicates a store, provider, or serialization failure.
	CodeInternal Code = "INTERNAL"
)

// Error is a classified error.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NotFound creates a CodeNotFound error.
func NotFound(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Validation creates a CodeValidation error.
func Validation(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// Conflict wraps err as a CodeConflict error.
func Conflict(message string, err error) *Error {
	return &Error{Code: CodeConflict, Message: message, Err: err}
}

// Internal wraps err as a CodeInternal error.
func Internal(message string, err error) *Error {
	return &Error{Code: CodeInternal, Message: message, Err: err}
}

// CodeOf returns the code of the outermost *Error in err's chain.
// Unclassified non-nil errors report CodeInternal; nil reports "".
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsNotFound reports whether err is classified as CodeNotFound.
func IsNotFound(err error) bool { return is(err, CodeNotFound) }

// IsValidation reports whether err is classified as CodeValidation.
func IsValidation(err error) bool { return is(err, CodeValidation) }

// IsConflict reports whether err is classified as CodeConflict.
func IsConflict(err error) bool { return is(err, CodeConflict) }

// IsInternal reports whether err is classified as CodeInternal.
// Unclassified errors count as internal.
func IsInternal(err error) bool { return err != nil && CodeOf(err) == CodeInternal }

func is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
