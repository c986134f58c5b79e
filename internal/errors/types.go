// Package errors defines the assistant's error taxonomy. Every error here is
// recoverable at session level: none of them ends an assistance session.
package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType categorizes failures raised while preparing or transferring form data.
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	ErrorTypeMissingDataDefault
	ErrorTypeClipboardUnavailable
	ErrorTypeClipboardDenied
	ErrorTypeFallbackFailed
	ErrorTypeCrossOriginRestricted
	ErrorTypeInvalidRecord
	ErrorTypeUnknownField
	ErrorTypeInvalidSchema
)

// ErrorSeverity indicates how an error should be surfaced.
type ErrorSeverity int

const (
	// SeverityInfo is recovered locally and only logged.
	SeverityInfo ErrorSeverity = iota
	// SeverityWarning is recovered locally through a fallback path.
	SeverityWarning
	// SeverityError must be shown to the operator.
	SeverityError
)

// AssistError carries a typed failure with optional context and cause.
type AssistError struct {
	Type      ErrorType `json:"type"`
	Message   string    `json:"message"`
	Context   string    `json:"context,omitempty"`
	Cause     error     `json:"-"`
	Timestamp time.Time `json:"timestamp"`
}

// Error implements the error interface
func (e *AssistError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Type.String(), e.Message)
	if e.Context != "" {
		msg += ": " + e.Context
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes the underlying cause to errors.Is / errors.As.
func (e *AssistError) Unwrap() error {
	return e.Cause
}

// Severity returns the severity of this specific error
func (e *AssistError) Severity() ErrorSeverity {
	return e.Type.Severity()
}

// WithContext adds context to an existing AssistError
func (e *AssistError) WithContext(context string) *AssistError {
	e.Context = context
	return e
}

// String returns a string representation of the ErrorType
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeMissingDataDefault:
		return "MISSING_DATA_DEFAULT"
	case ErrorTypeClipboardUnavailable:
		return "CLIPBOARD_UNAVAILABLE"
	case ErrorTypeClipboardDenied:
		return "CLIPBOARD_DENIED"
	case ErrorTypeFallbackFailed:
		return "FALLBACK_FAILED"
	case ErrorTypeCrossOriginRestricted:
		return "CROSS_ORIGIN_RESTRICTED"
	case ErrorTypeInvalidRecord:
		return "INVALID_RECORD"
	case ErrorTypeUnknownField:
		return "UNKNOWN_FIELD"
	case ErrorTypeInvalidSchema:
		return "INVALID_SCHEMA"
	default:
		return "UNKNOWN"
	}
}

// Severity returns the severity level for a given error type
func (et ErrorType) Severity() ErrorSeverity {
	switch et {
	case ErrorTypeMissingDataDefault, ErrorTypeCrossOriginRestricted:
		return SeverityInfo
	case ErrorTypeClipboardUnavailable, ErrorTypeClipboardDenied:
		return SeverityWarning
	default:
		return SeverityError
	}
}

// IsRecoverable reports whether the failure is recovered without operator action.
func (et ErrorType) IsRecoverable() bool {
	return et.Severity() != SeverityError
}

// New creates a new AssistError
func New(errorType ErrorType, message string) *AssistError {
	return &AssistError{
		Type:      errorType,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Wrap attaches a type and message to an underlying error.
func Wrap(errorType ErrorType, message string, cause error) *AssistError {
	return &AssistError{
		Type:      errorType,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
	}
}

// Is reports whether any error in err's chain is an AssistError of the given type.
func Is(err error, errorType ErrorType) bool {
	for err != nil {
		var ae *AssistError
		if !stderrors.As(err, &ae) {
			return false
		}
		if ae.Type == errorType {
			return true
		}
		err = ae.Cause
	}
	return false
}

// TypeOf returns the type of the outermost AssistError in err's chain.
func TypeOf(err error) ErrorType {
	var ae *AssistError
	if stderrors.As(err, &ae) {
		return ae.Type
	}
	return ErrorTypeUnknown
}
