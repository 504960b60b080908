// Package domainerrors carries coded errors across the service boundary.
//
// Services return *Error values (optionally wrapping infrastructure causes); the
// transport layer maps the Code to a status without inspecting messages.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error. Values are stable and appear in API responses.
type Code string

const (
	// Infrastructure and generic request codes.
	CodeBadRequest         Code = "bad_request"
	CodeValidation         Code = "validation_error"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeTimeout            Code = "timeout"
	CodeInternal           Code = "internal_error"
	CodeInvariantViolation Code = "invariant_violation"

	// Configuration errors: the questionnaire itself is malformed.
	CodeGraphTooLarge Code = "graph_too_large"
	CodeCycleDetected Code = "cycle_detected"

	// Client input errors: the answer is rejected, nothing is written.
	CodeSchemaMismatch             Code = "schema_mismatch"
	CodeNotAPredefinedAnswer       Code = "not_a_predefined_answer"
	CodeQuestionNotInQuestionnaire Code = "question_not_in_questionnaire"

	// Lifecycle outcomes.
	CodeSessionExpired     Code = "session_expired"
	CodeSessionFrozen      Code = "session_frozen"
	CodeSessionInvalidated Code = "session_invalidated"
	CodeCannotFreeze       Code = "cannot_freeze"
)

// Error is a coded domain error. Field names the offending input when known.
type Error struct {
	Code    Code
	Message string
	Field   string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a coded error.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// NewField creates a coded error attributed to a named input field.
func NewField(code Code, field, msg string) error {
	return &Error{Code: code, Message: msg, Field: field}
}

// Wrap attaches a code and message to an underlying cause.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// As returns the outermost *Error in the chain.
func As(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// HasCode reports whether the outermost domain error in err's chain has the given code.
func HasCode(err error, code Code) bool {
	de, ok := As(err)
	return ok && de.Code == code
}

// Is is an alias of HasCode kept for call sites that read better with it.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// CodeOf returns the code of the outermost domain error, or CodeInternal.
func CodeOf(err error) Code {
	if de, ok := As(err); ok {
		return de.Code
	}
	return CodeInternal
}
