package responder

import (
	"net/http"

	"github.com/leeforge/workforce/errors"
)

const (
	// 4xxx client errors
	ErrCodeBadRequest       = 4000
	ErrCodeInvalidParameter = 4001
	ErrCodeValidationFailed = 4002
	ErrCodeNotFound         = 4003
	ErrCodeRouteNotFound    = 4004
	ErrCodeMethodNotAllowed = 4005

	// 5xxx server errors
	ErrCodeInternalServer     = 5000
	ErrCodeHandlerFailed      = 5002
	ErrCodeTimeout            = 5006
	ErrCodeServiceUnavailable = 5007
)

var errorMessages = map[int]string{
	ErrCodeBadRequest:         "Bad Request",
	ErrCodeInvalidParameter:   "Invalid Parameter",
	ErrCodeValidationFailed:   "Validation Failed",
	ErrCodeNotFound:           "Resource Not Found",
	ErrCodeRouteNotFound:      "Route Not Found",
	ErrCodeMethodNotAllowed:   "Method Not Allowed",
	ErrCodeInternalServer:     "Internal Server Error",
	ErrCodeHandlerFailed:      "Event Handler Failed",
	ErrCodeTimeout:            "Request Timeout",
	ErrCodeServiceUnavailable: "Service Unavailable",
}

// GetErrorMessage returns the default message for an error code
func GetErrorMessage(code int) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}
	return "Unknown Error"
}

func NewError(code int, message string) Error {
	return NewErrorWithDetails(code, message, nil)
}

func NewErrorWithDetails(code int, message string, details any) Error {
	if message == "" {
		message = GetErrorMessage(code)
	}
	return Error{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// FromAppError maps an error to an HTTP status and response error. Internal
// messages are not exposed.
func FromAppError(err error) (int, Error) {
	appErr := errors.FromError(err)
	if appErr == nil {
		return http.StatusInternalServerError, NewError(ErrCodeInternalServer, "")
	}

	var status, code int
	switch appErr.Type {
	case errors.ErrorTypeValidation:
		status, code = http.StatusBadRequest, ErrCodeValidationFailed
	case errors.ErrorTypeInvalid:
		status, code = http.StatusBadRequest, ErrCodeInvalidParameter
	case errors.ErrorTypeHandler, errors.ErrorTypePanic:
		status, code = http.StatusInternalServerError, ErrCodeHandlerFailed
	case errors.ErrorTypeTimeout:
		status, code = http.StatusGatewayTimeout, ErrCodeTimeout
	case errors.ErrorTypeBackend:
		status, code = http.StatusServiceUnavailable, ErrCodeServiceUnavailable
	default:
		return http.StatusInternalServerError, NewError(ErrCodeInternalServer, "")
	}
	if appErr.HTTPStatus != 0 {
		status = appErr.HTTPStatus
	}
	return status, NewErrorWithDetails(code, appErr.Message, appErr.Details)
}
