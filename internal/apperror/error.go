package apperror

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Kind classifies failures surfaced by the core services.
type Kind string

const (
	KindNotFound      Kind = "not_found"
	KindConflict      Kind = "conflict"
	KindValidation    Kind = "validation"
	KindAuthorization Kind = "authorization"
	KindTransient     Kind = "external_service_transient"
	KindInternal      Kind = "internal"
)

// Sentinels allow callers to use errors.Is against a kind.
var (
	ErrNotFound      = &Error{Kind: KindNotFound, Message: "not found"}
	ErrConflict      = &Error{Kind: KindConflict, Message: "conflict"}
	ErrValidation    = &Error{Kind: KindValidation, Message: "validation failed"}
	ErrAuthorization = &Error{Kind: KindAuthorization, Message: "not authorized"}
	ErrTransient     = &Error{Kind: KindTransient, Message: "external service unavailable"}
)

// Detail names a single offending field or target.
type Detail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is the typed error returned by services.
type Error struct {
	Kind    Kind
	Message string
	Details []Detail
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports a missing submission, user or event.
func NotFound(format string, args ...interface{}) *Error {
	return newError(KindNotFound, format, args...)
}

// Conflict reports a state mismatch or duplicate.
func Conflict(format string, args ...interface{}) *Error {
	return newError(KindConflict, format, args...)
}

// Validation reports malformed input or a policy violation.
func Validation(format string, args ...interface{}) *Error {
	return newError(KindValidation, format, args...)
}

// Authorization reports a failed role, cohort or school check.
func Authorization(format string, args ...interface{}) *Error {
	return newError(KindAuthorization, format, args...)
}

// Transient wraps a failure of an external dependency the caller may retry.
func Transient(message string, err error) *Error {
	return &Error{Kind: KindTransient, Message: message, Err: err}
}

// WithDetails attaches per-field details and returns the same error.
func (e *Error) WithDetails(details ...Detail) *Error {
	e.Details = append(e.Details, details...)
	return e
}

// KindOf reports the kind of err, or KindInternal for untyped errors.
func KindOf(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		return KindValidation
	}
	return KindInternal
}

// FromValidator converts validator failures into a Validation error.
func FromValidator(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}

	details := make([]Detail, 0, len(validationErrors))
	fields := make([]string, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		field := strings.ToLower(fieldErr.Field())
		fields = append(fields, field)
		details = append(details, Detail{Field: field, Message: fieldErr.Tag()})
	}

	return &Error{
		Kind:    KindValidation,
		Message: "invalid fields: " + strings.Join(fields, ", "),
		Details: details,
		Err:     err,
	}
}
