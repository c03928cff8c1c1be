package responder

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

type Option func(*Meta)

func WithTraceID(id string) Option {
	return func(m *Meta) {
		m.TraceId = id
	}
}

func WithTook(ms int64) Option {
	return func(m *Meta) {
		m.Took = ms
	}
}

// WithSince sets Took to the milliseconds elapsed since start.
func WithSince(start time.Time) Option {
	return WithTook(time.Since(start).Milliseconds())
}

func WithCount(n int) Option {
	return func(m *Meta) {
		m.Count = &n
	}
}

// FromRequest copies the chi request id into the trace id.
func FromRequest(r *http.Request) Option {
	return WithTraceID(middleware.GetReqID(r.Context()))
}

func NewMeta(opts ...Option) *Meta {
	meta := Meta{}
	for _, opt := range opts {
		opt(&meta)
	}
	return &meta
}
