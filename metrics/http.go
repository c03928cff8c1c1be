package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	httpRequestsTotal   = "http_requests_total"
	httpRequestDuration = "http_request_duration_seconds"
)

// Middleware records request counts and latency per method, route pattern
// and status. Routes are labelled by their chi pattern so path parameters do
// not explode cardinality.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	c.Describe(httpRequestsTotal, "HTTP requests served.")
	c.Describe(httpRequestDuration, "HTTP request latency in seconds.")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		labels := map[string]string{
			"method": r.Method,
			"route":  routePattern(r),
			"status": strconv.Itoa(status),
		}
		c.IncCounter(httpRequestsTotal, labels)
		c.ObserveHistogram(httpRequestDuration, time.Since(start).Seconds(), labels)
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
