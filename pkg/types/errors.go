package types

import (
	"errors"
	"fmt"
	"strings"
)

// Code classifies engine failures for callers.
type Code string

const (
	CodeNotFound    Code = "not_found"
	CodeValidation  Code = "validation"
	CodeContention  Code = "contention"
	CodeNotJoinable Code = "not_joinable"
	CodeConflict    Code = "conflict"
	CodeInternal    Code = "internal"
)

// Sentinels matched by errors.Is against any *Error carrying the same code.
var (
	ErrNotFound    = errors.New("not found")
	ErrValidation  = errors.New("validation failed")
	ErrContention  = errors.New("transaction retries exhausted")
	ErrNotJoinable = errors.New("lobby is not joinable")
	ErrConflict    = errors.New("concurrent modification")
	ErrInternal    = errors.New("internal error")
)

// Store lifecycle errors.
var (
	ErrStoreDetached   = errors.New("store is detached")
	ErrAlreadyAttached = errors.New("store is already attached")
	ErrInvalidRef      = errors.New("invalid document reference")
)

var codeSentinels = map[Code]error{
	CodeNotFound:    ErrNotFound,
	CodeValidation:  ErrValidation,
	CodeContention:  ErrContention,
	CodeNotJoinable: ErrNotJoinable,
	CodeConflict:    ErrConflict,
	CodeInternal:    ErrInternal,
}

// Error is the canonical engine error: a code, the operation that failed,
// a human-readable message and an optional cause.
type Error struct {
	Code    Code
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	op := strings.TrimSpace(e.Op)
	msg := strings.TrimSpace(e.Message)
	switch {
	case op != "" && msg != "":
		return fmt.Sprintf("%s: %s (%s)", op, msg, e.Code)
	case op != "":
		return fmt.Sprintf("%s (%s)", op, e.Code)
	case msg != "":
		return fmt.Sprintf("%s (%s)", msg, e.Code)
	default:
		return string(e.Code)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is the sentinel for e's code.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	s, ok := codeSentinels[e.Code]
	return ok && s == target
}

// NewError builds an *Error with an explicit code and operation.
func NewError(code Code, op, message string, cause error) error {
	return &Error{
		Code:    code,
		Op:      strings.TrimSpace(op),
		Message: strings.TrimSpace(message),
		Cause:   cause,
	}
}

// NotFound reports that the referenced user, lobby or chapter does not exist.
func NotFound(op, format string, args ...any) error {
	return NewError(CodeNotFound, op, fmt.Sprintf(format, args...), nil)
}

// Validation reports malformed caller input, rejected before any transaction.
func Validation(op, format string, args ...any) error {
	return NewError(CodeValidation, op, fmt.Sprintf(format, args...), nil)
}

// Conflict reports that a document in the read set changed before commit.
// Stores return it; the retry runner consumes it.
func Conflict(op string, ref DocRef) error {
	return NewError(CodeConflict, op, "document "+ref.String()+" changed since read", nil)
}

// CodeOf extracts the code from err, or "" when err carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err (or anything it wraps) carries code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
