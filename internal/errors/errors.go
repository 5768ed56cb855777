package errors

import (
	"fmt"
	"strings"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

// Error categories
const (
	// Config errors (CONFIG-001 to CONFIG-099)
	ErrCodeConfigNotFound   ErrorCode = "CONFIG-001"
	ErrCodeConfigInvalid    ErrorCode = "CONFIG-002"
	ErrCodeConfigUnmarshal  ErrorCode = "CONFIG-003"
	ErrCodeUnknownJob       ErrorCode = "CONFIG-004"
	ErrCodeUnknownProfile   ErrorCode = "CONFIG-005"
	ErrCodeUnknownStep      ErrorCode = "CONFIG-006"

	// Engine errors (ENGINE-001 to ENGINE-099)
	ErrCodeEngineNotFound ErrorCode = "ENGINE-001"
	ErrCodeEngineTimeout  ErrorCode = "ENGINE-002"

	// Image errors (IMAGE-001 to IMAGE-099)
	ErrCodeImageRefInvalid ErrorCode = "IMAGE-001"
	ErrCodeImageBuild      ErrorCode = "IMAGE-002"

	// Template errors (TEMPLATE-001 to TEMPLATE-099)
	ErrCodeTemplateUnknown ErrorCode = "TEMPLATE-001"
	ErrCodeTemplateUnsafe  ErrorCode = "TEMPLATE-002"

	// Run errors (RUN-001 to RUN-099)
	ErrCodeWorkdirInvalid ErrorCode = "RUN-001"
	ErrCodeStepFailed     ErrorCode = "RUN-002"

	// File I/O errors (IO-001 to IO-099)
	ErrCodeFileReadFailed  ErrorCode = "IO-001"
	ErrCodeFileWriteFailed ErrorCode = "IO-002"
	ErrCodeDirectoryFailed ErrorCode = "IO-003"
)

// Error is a coded error with optional suggestions and a wrapped cause.
type Error struct {
	Code        ErrorCode
	Message     string
	Suggestions []string
	Cause       error
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf(": %v", e.Cause))
	}

	if len(e.Suggestions) > 0 {
		b.WriteString("\n\nSuggestions:")
		for _, suggestion := range e.Suggestions {
			b.WriteString(fmt.Sprintf("\n  - %s", suggestion))
		}
	}

	return b.String()
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new coded Error
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new coded Error with a formatted message
func Newf(code ErrorCode, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new coded Error wrapping an existing error
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WithSuggestion adds a suggestion to the error
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}
