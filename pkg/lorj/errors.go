package lorj

import (
	"errors"
	"fmt"
)

// ErrorClass classifies an error for retry decisions.
type ErrorClass string

const (
	// ErrorClassTransient marks a provider failure that may succeed on retry.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassPermanent marks a failure that must not be retried.
	ErrorClassPermanent ErrorClass = "permanent"
)

// Error codes.
const (
	ErrCodeUnknownType         = "UNKNOWN_TYPE"
	ErrCodeDependencyLoop      = "DEPENDENCY_LOOP"
	ErrCodeDeclaration         = "DECLARATION"
	ErrCodeAttributeMapping    = "ATTRIBUTE_MAPPING"
	ErrCodeNotImplemented      = "NOT_IMPLEMENTED"
	ErrCodeMissingData         = "MISSING_DATA"
	ErrCodeInternalServerError = "INTERNAL_SERVER_ERROR"
	ErrCodeRetryExhausted      = "RETRY_EXHAUSTED"
	ErrCodeValidation          = "VALIDATION"
	ErrCodeNotFound            = "NOT_FOUND"
)

// Error is a classified error carrying the object type and operation it
// relates to.
type Error struct {
	Class      ErrorClass
	Code       string
	Message    string
	ObjectType ObjectType
	Operation  string
	Err        error
	Details    map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	switch {
	case e.ObjectType != "" && e.Operation != "":
		msg += fmt.Sprintf(" (object=%s, operation=%s)", e.ObjectType, e.Operation)
	case e.ObjectType != "":
		msg += fmt.Sprintf(" (object=%s)", e.ObjectType)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// Is matches on class and code so callers can compare against sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != "" && t.Code != e.Code {
		return false
	}
	return t.Class == "" || t.Class == e.Class
}

// NewTransientError creates a transient error.
func NewTransientError(message string, err error) *Error {
	return &Error{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewPermanentError creates a permanent error.
func NewPermanentError(message string, err error) *Error {
	return &Error{Class: ErrorClassPermanent, Message: message, Err: err}
}

// WithObject sets the object type.
func (e *Error) WithObject(t ObjectType) *Error {
	e.ObjectType = t
	return e
}

// WithOperation sets the operation name.
func (e *Error) WithOperation(op string) *Error {
	e.Operation = op
	return e
}

// WithCode sets the error code.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithDetail adds a detail field.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Sentinels usable with errors.Is.
var (
	ErrUnknownType      = &Error{Code: ErrCodeUnknownType}
	ErrDependencyLoop   = &Error{Code: ErrCodeDependencyLoop}
	ErrDeclaration      = &Error{Code: ErrCodeDeclaration}
	ErrAttributeMapping = &Error{Code: ErrCodeAttributeMapping}
	ErrNotImplemented   = &Error{Code: ErrCodeNotImplemented}
	ErrMissingData      = &Error{Code: ErrCodeMissingData}
	ErrRetryExhausted   = &Error{Code: ErrCodeRetryExhausted}
	ErrNotFound         = &Error{Code: ErrCodeNotFound}
)

func declarationError(format string, args ...any) *Error {
	return NewPermanentError(fmt.Sprintf(format, args...), nil).WithCode(ErrCodeDeclaration)
}

func unknownTypeError(t ObjectType, op string) *Error {
	return NewPermanentError(fmt.Sprintf("object type '%s' is not declared", t), nil).
		WithCode(ErrCodeUnknownType).WithObject(t).WithOperation(op)
}

// DependencyLoopError builds the error raised when a required dependency is
// still missing after an attempt to create it.
func DependencyLoopError(dependency, t ObjectType) *Error {
	return NewPermanentError(
		fmt.Sprintf("loop detection: '%s' is required but was not loaded by its creation while building '%s'", dependency, t), nil).
		WithCode(ErrCodeDependencyLoop).WithObject(t).WithDetail("dependency", string(dependency))
}

// NotImplementedError labels a controller operation the provider does not
// support.
func NotImplementedError(op string) *Error {
	return NewPermanentError(fmt.Sprintf("%s has not been redefined by the provider", op), nil).
		WithCode(ErrCodeNotImplemented).WithOperation(op)
}

// IsTransient reports whether err is classified transient.
func IsTransient(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsPermanent reports whether err is classified permanent.
func IsPermanent(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
