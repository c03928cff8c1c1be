// Package responder writes JSON responses in the {data, error, meta}
// envelope.
package responder

import (
	"net/http"

	"github.com/leeforge/workforce/json"
)

const contentTypeJSON = "application/json"

var encodeFailed = []byte(`{"error":{"code":5000,"message":"encode failed"},"meta":{}}`)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	raw, err := json.Marshal(payload)
	w.Header().Set("Content-Type", contentTypeJSON)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write(encodeFailed)
		return
	}
	w.WriteHeader(status)
	_, _ = w.Write(raw)
}

// Write sends a success response with data
func Write(w http.ResponseWriter, r *http.Request, status int, data any, opts ...Option) {
	writeJSON(w, status, &Response{
		Data: data,
		Meta: *NewMeta(opts...),
	})
}

// WriteError sends an error response
func WriteError(w http.ResponseWriter, r *http.Request, status int, err Error, opts ...Option) {
	writeJSON(w, status, &Response{
		Error: &err,
		Meta:  *NewMeta(opts...),
	})
}

// OK responds with 200 OK and data
func OK(w http.ResponseWriter, r *http.Request, data any, opts ...Option) {
	Write(w, r, http.StatusOK, data, opts...)
}

func BadRequest(w http.ResponseWriter, r *http.Request, message string, opts ...Option) {
	WriteError(w, r, http.StatusBadRequest, NewError(ErrCodeBadRequest, message), opts...)
}

// InvalidParameter responds with 400 and names the offending parameter.
func InvalidParameter(w http.ResponseWriter, r *http.Request, name, reason string, opts ...Option) {
	err := NewErrorWithDetails(ErrCodeInvalidParameter, "", map[string]string{
		"parameter": name,
		"reason":    reason,
	})
	WriteError(w, r, http.StatusBadRequest, err, opts...)
}

func NotFound(w http.ResponseWriter, r *http.Request, message string, opts ...Option) {
	WriteError(w, r, http.StatusNotFound, NewError(ErrCodeNotFound, message), opts...)
}

// RouteNotFound is suitable as a chi NotFound handler.
func RouteNotFound(w http.ResponseWriter, r *http.Request) {
	WriteError(w, r, http.StatusNotFound, NewError(ErrCodeRouteNotFound, ""), FromRequest(r))
}

// MethodNotAllowed is suitable as a chi MethodNotAllowed handler.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	WriteError(w, r, http.StatusMethodNotAllowed, NewError(ErrCodeMethodNotAllowed, ""), FromRequest(r))
}

func InternalServerError(w http.ResponseWriter, r *http.Request, message string, opts ...Option) {
	WriteError(w, r, http.StatusInternalServerError, NewError(ErrCodeInternalServer, message), opts...)
}

func ServiceUnavailable(w http.ResponseWriter, r *http.Request, message string, opts ...Option) {
	WriteError(w, r, http.StatusServiceUnavailable, NewError(ErrCodeServiceUnavailable, message), opts...)
}

// AppError responds with the status and code derived from err.
func AppError(w http.ResponseWriter, r *http.Request, err error, opts ...Option) {
	status, body := FromAppError(err)
	WriteError(w, r, status, body, opts...)
}
