// Package errs defines the typed error taxonomy surfaced by every giveq
// operation. Each error carries a stable machine-readable code; callers
// branch on codes, never on message text.
package errs

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Code is a stable error classification.
type Code string

// Error codes.
const (
	CodeNotFound                 Code = "not_found"
	CodeForbidden                Code = "forbidden"
	CodeInvalidInput             Code = "invalid_input"
	CodeInvalidStateTransition   Code = "invalid_state_transition"
	CodeDuplicateClaim           Code = "duplicate_claim"
	CodeSelfClaimForbidden       Code = "self_claim_forbidden"
	CodeConflictWithActiveClaims Code = "conflict_with_active_claims"
	CodeConflict                 Code = "conflict"
	CodeTimeout                  Code = "timeout"
	CodeInternal                 Code = "internal"
)

// FieldViolation names one offending input field.
type FieldViolation struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// Error is a classified operation error.
type Error struct {
	Code    Code             `json:"code"`
	Message string           `json:"message"`
	Fields  []FieldViolation `json:"fields,omitempty"`
	cause   error
}

func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Reason
	}
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, strings.Join(parts, "; "))
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.cause }

// Is matches on code so callers can compare against the code sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

// CodeOf extracts the classification from err, or CodeInternal when err
// carries none. A nil err has no code and returns the empty string.
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

// HasCode reports whether err is classified with the given code.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}

func newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports an absent entity, e.g. NotFound("item", id).
func NotFound(kind, id string) *Error {
	return newf(CodeNotFound, "%s %q not found", kind, id)
}

// Forbidden reports an authorization failure.
func Forbidden(format string, args ...any) *Error {
	return newf(CodeForbidden, format, args...)
}

// InvalidInput reports field-level validation failure.
func InvalidInput(msg string, fields ...FieldViolation) *Error {
	return &Error{Code: CodeInvalidInput, Message: msg, Fields: fields}
}

// InvalidTransition reports an operation disallowed by current entity state.
func InvalidTransition(format string, args ...any) *Error {
	return newf(CodeInvalidStateTransition, format, args...)
}

// DuplicateClaim reports that the user already holds an active claim on the item.
func DuplicateClaim(itemID string) *Error {
	return newf(CodeDuplicateClaim, "an active claim already exists on item %q", itemID)
}

// SelfClaimForbidden reports an owner trying to claim their own item.
func SelfClaimForbidden(itemID string) *Error {
	return newf(CodeSelfClaimForbidden, "owners cannot claim their own item %q", itemID)
}

// ConflictWithActiveClaims reports a mutation blocked by existing active claims.
func ConflictWithActiveClaims(format string, args ...any) *Error {
	return newf(CodeConflictWithActiveClaims, format, args...)
}

// Conflict reports an optimistic-concurrency collision that survived the
// retry budget. Retryable by the caller.
func Conflict(format string, args ...any) *Error {
	return newf(CodeConflict, format, args...)
}

// Timeout reports caller deadline expiry. The in-flight transaction has
// been rolled back.
func Timeout(op string) *Error {
	return newf(CodeTimeout, "%s: deadline exceeded", op)
}

// Internal wraps an unexpected error. Never used to hide an already
// classified error: if err carries a code it is returned unchanged.
func Internal(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout(op)
	}
	return &Error{Code: CodeInternal, Message: op, cause: err}
}
