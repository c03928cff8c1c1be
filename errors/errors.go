package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// Caller misuse
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeInvalid    ErrorType = "invalid"

	// Subscriber side
	ErrorTypeHandler ErrorType = "handler"
	ErrorTypePanic   ErrorType = "panic"
	ErrorTypeTimeout ErrorType = "timeout"

	// Infrastructure
	ErrorTypeBackend  ErrorType = "backend"
	ErrorTypeInternal ErrorType = "internal"
	ErrorTypeUnknown  ErrorType = "unknown"
)

// Error codes for specific scenarios
const (
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeEventNameEmpty   = "EVENT_NAME_EMPTY"
	CodeHandlerFailed    = "HANDLER_FAILED"
	CodeHandlerPanicked  = "HANDLER_PANICKED"
	CodeBackendClosed    = "BACKEND_CLOSED"
	CodeInternalError    = "INTERNAL_ERROR"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType      `json:"type"`
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	InnerError error          `json:"-"`
	HTTPStatus int            `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Message != "" {
		if e.InnerError != nil {
			return e.Message + ": " + e.InnerError.Error()
		}
		return e.Message
	}
	if e.InnerError != nil {
		return e.InnerError.Error()
	}
	return string(e.Type)
}

// Unwrap returns the inner error
func (e *AppError) Unwrap() error {
	return e.InnerError
}

// Is reports whether target is an *AppError of the same type and, when the
// target carries a code, the same code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	if e.Type != t.Type {
		return false
	}
	return t.Code == "" || t.Code == string(t.Type) || e.Code == t.Code
}

// WithMessage adds a message to the error
func (e *AppError) WithMessage(msg string) *AppError {
	e.Message = msg
	return e
}

// WithCode adds a code to the error
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// WithDetail adds a detail to the error
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithHTTPStatus sets the HTTP status code
func (e *AppError) WithHTTPStatus(status int) *AppError {
	e.HTTPStatus = status
	return e
}

// WithInnerError sets the inner error
func (e *AppError) WithInnerError(err error) *AppError {
	e.InnerError = err
	return e
}

// New creates a new AppError
func New(errType ErrorType, message string) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Code:    string(errType),
	}
}

// FromError converts a standard error to AppError
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	return &AppError{
		Type:       ErrorTypeUnknown,
		Code:       string(ErrorTypeUnknown),
		InnerError: err,
	}
}

// WrapWithType wraps an error with a specific type
func WrapWithType(err error, errType ErrorType, message string) *AppError {
	return &AppError{
		Type:       errType,
		Message:    message,
		InnerError: err,
		Code:       string(errType),
	}
}

func NewValidation(message string) *AppError {
	return New(ErrorTypeValidation, message).
		WithCode(CodeValidationFailed).
		WithHTTPStatus(http.StatusBadRequest)
}

func NewInvalid(field string, value any, reason string) *AppError {
	return New(ErrorTypeInvalid, fmt.Sprintf("invalid value for %s: %q", field, fmt.Sprint(value))).
		WithDetail("field", field).
		WithDetail("value", value).
		WithDetail("reason", reason).
		WithHTTPStatus(http.StatusBadRequest)
}

func NewInternal(message string) *AppError {
	return New(ErrorTypeInternal, message).
		WithCode(CodeInternalError).
		WithHTTPStatus(http.StatusInternalServerError)
}

func NewBackend(message string) *AppError {
	return New(ErrorTypeBackend, message).WithHTTPStatus(http.StatusServiceUnavailable)
}

// ErrorChain collects several AppErrors into one error value.
type ErrorChain struct {
	errors []*AppError
}

// NewErrorChain creates a new error chain
func NewErrorChain() *ErrorChain {
	return &ErrorChain{
		errors: make([]*AppError, 0),
	}
}

// Add adds an error to the chain
func (c *ErrorChain) Add(err *AppError) *ErrorChain {
	if err != nil {
		c.errors = append(c.errors, err)
	}
	return c
}

// HasErrors checks if the chain has errors
func (c *ErrorChain) HasErrors() bool {
	return len(c.errors) > 0
}

// Error returns the combined error message
func (c *ErrorChain) Error() string {
	if !c.HasErrors() {
		return ""
	}

	messages := make([]string, 0, len(c.errors))
	for _, err := range c.errors {
		messages = append(messages, err.Error())
	}
	return strings.Join(messages, " | ")
}

// Unwrap exposes the chained errors to errors.Is and errors.As.
func (c *ErrorChain) Unwrap() []error {
	out := make([]error, len(c.errors))
	for i, err := range c.errors {
		out[i] = err
	}
	return out
}

// Errors returns all errors in the chain
func (c *ErrorChain) Errors() []*AppError {
	return c.errors
}

// First returns the first error in the chain
func (c *ErrorChain) First() *AppError {
	if len(c.errors) == 0 {
		return nil
	}
	return c.errors[0]
}

// Filter filters errors by type
func (c *ErrorChain) Filter(errType ErrorType) *ErrorChain {
	filtered := NewErrorChain()
	for _, err := range c.errors {
		if err.Type == errType {
			filtered.Add(err)
		}
	}
	return filtered
}

// HasType checks if the chain has an error of the specified type
func (c *ErrorChain) HasType(errType ErrorType) bool {
	for _, err := range c.errors {
		if err.Type == errType {
			return true
		}
	}
	return false
}

// ErrOrNil returns the chain as an error, or nil when it is empty.
func (c *ErrorChain) ErrOrNil() error {
	if c == nil || !c.HasErrors() {
		return nil
	}
	return c
}
