package eventbus

import (
	"github.com/leeforge/workforce/errors"
)

// HandlerFailure describes one handler invocation that returned an error or
// panicked.
type HandlerFailure struct {
	EventName string
	EventID   string
	Handler   string
	Token     Token
	Err       error
	Panicked  bool
}

// Report summarises one dispatch. Failures are ordered by registration.
type Report struct {
	EventID   string
	EventName string
	Invoked   int
	Failures  []HandlerFailure
}

// Succeeded is the number of handlers that returned nil.
func (r Report) Succeeded() int {
	return r.Invoked - len(r.Failures)
}

// Err folds the failures into an *errors.ErrorChain, or returns nil.
func (r Report) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	chain := errors.NewErrorChain()
	for _, f := range r.Failures {
		chain.Add(f.appError())
	}
	return chain
}

func (f HandlerFailure) appError() *errors.AppError {
	errType, code := errors.ErrorTypeHandler, errors.CodeHandlerFailed
	if f.Panicked {
		errType, code = errors.ErrorTypePanic, errors.CodeHandlerPanicked
	}
	return errors.WrapWithType(f.Err, errType, "handler "+f.Handler+" failed on "+f.EventName).
		WithCode(code).
		WithDetail("event", f.EventName).
		WithDetail("eventId", f.EventID).
		WithDetail("handler", f.Handler)
}
