// Package diagnostics serves read-only views of an event bus over HTTP:
// recent history, live statistics and metrics.
package diagnostics

import (
	"context"
	"net/http"
	"slices"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/leeforge/workforce/errors"
	"github.com/leeforge/workforce/eventbus"
	"github.com/leeforge/workforce/http/binding"
	"github.com/leeforge/workforce/http/middleware"
	"github.com/leeforge/workforce/http/responder"
	"github.com/leeforge/workforce/logging"
	"github.com/leeforge/workforce/metrics"
)

const (
	DefaultAddr            = ":8081"
	DefaultMaxHistoryLimit = 1000
	shutdownTimeout        = 5 * time.Second
)

type Server struct {
	inspector eventbus.Inspector
	collector *metrics.Collector
	logger    logging.Logger
	maxLimit  atomic.Int64
	router    chi.Router
}

type Option func(*Server)

// WithCollector enables GET /metrics and request metrics.
func WithCollector(c *metrics.Collector) Option {
	return func(s *Server) { s.collector = c }
}

func WithLogger(logger logging.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMaxHistoryLimit caps the history endpoint's limit parameter.
func WithMaxHistoryLimit(n int) Option {
	return func(s *Server) {
		s.SetMaxHistoryLimit(n)
	}
}

// SetMaxHistoryLimit changes the history endpoint's cap while serving.
// Non-positive values are ignored.
func (s *Server) SetMaxHistoryLimit(n int) {
	if n > 0 {
		s.maxLimit.Store(int64(n))
	}
}

// MaxHistoryLimit returns the current cap of the history endpoint.
func (s *Server) MaxHistoryLimit() int {
	return int(s.maxLimit.Load())
}

func New(inspector eventbus.Inspector, opts ...Option) *Server {
	s := &Server{
		inspector: inspector,
		logger:    logging.Nop(),
	}
	s.maxLimit.Store(DefaultMaxHistoryLimit)
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.CorrelationIDMiddleware())
	r.Use(middleware.TimingMiddleware())
	r.Use(logging.HTTPMiddleware(s.logger))
	r.Use(logging.RecoveryMiddleware(s.logger))
	if s.collector != nil {
		r.Use(s.collector.Middleware)
	}
	r.NotFound(responder.RouteNotFound)
	r.MethodNotAllowed(responder.MethodNotAllowed)

	r.Get("/healthz", s.health)
	r.Route("/events", func(r chi.Router) {
		r.Get("/history", s.history)
		r.Get("/stats", s.stats)
	})
	if s.collector != nil {
		r.Method(http.MethodGet, "/metrics", s.collector.Handler())
	}
	return r
}

// Handler returns the router, for mounting under another router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router lets plugins add routes next to the diagnostics endpoints. Routes
// added here inherit its middleware.
func (s *Server) Router() chi.Router {
	return s.router
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("diagnostics server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.WrapWithType(err, errors.ErrorTypeInternal, "diagnostics server")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.WrapWithType(err, errors.ErrorTypeInternal, "diagnostics server shutdown")
	}
	if err := <-errCh; err != nil && err != http.ErrServerClosed {
		return errors.WrapWithType(err, errors.ErrorTypeInternal, "diagnostics server")
	}
	return nil
}

func meta(r *http.Request) []responder.Option {
	return []responder.Option{
		responder.FromRequest(r),
		responder.WithTook(middleware.GetRequestDuration(r.Context())),
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	responder.OK(w, r, map[string]string{"status": "ok"}, meta(r)...)
}

type historyQuery struct {
	Limit *int   `query:"limit" validate:"omitempty,gte=1"`
	Event string `query:"event"`
}

// history serves GET /events/history?limit=N&event=name. Without limit the
// cap is used; limits above the cap are clamped.
func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	var q historyQuery
	if err := binding.Query(r, &q); err != nil {
		field, reason := binding.Problem(err)
		responder.InvalidParameter(w, r, field, reason, meta(r)...)
		return
	}
	maxLimit := s.MaxHistoryLimit()
	limit := maxLimit
	if q.Limit != nil {
		limit = min(*q.Limit, maxLimit)
	}

	var entries []eventbus.HistoryEntry
	if q.Event != "" {
		entries = filterByName(s.inspector.RecentHistory(0), q.Event, limit)
	} else {
		entries = s.inspector.RecentHistory(limit)
	}
	if entries == nil {
		entries = []eventbus.HistoryEntry{}
	}
	responder.OK(w, r, entries, append(meta(r), responder.WithCount(len(entries)))...)
}

// filterByName keeps the newest limit entries named name, oldest first.
func filterByName(entries []eventbus.HistoryEntry, name string, limit int) []eventbus.HistoryEntry {
	out := make([]eventbus.HistoryEntry, 0, limit)
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		if entries[i].Name == name {
			out = append(out, entries[i])
		}
	}
	slices.Reverse(out)
	return out
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	responder.OK(w, r, s.inspector.Stats(), meta(r)...)
}
