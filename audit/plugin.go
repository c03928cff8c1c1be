package audit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/leeforge/workforce/config"
	"github.com/leeforge/workforce/errors"
	"github.com/leeforge/workforce/eventbus"
	"github.com/leeforge/workforce/events"
	"github.com/leeforge/workforce/http/binding"
	"github.com/leeforge/workforce/http/responder"
	"github.com/leeforge/workforce/logging"
	"github.com/leeforge/workforce/plugin"
)

const (
	PluginName = "audit"
	// ServiceKey resolves the Store from plugin.ServiceRegistry.
	ServiceKey = "audit.store"
	// HandlerName labels the audit subscription in logs and metrics.
	HandlerName = "audit.record"
)

// Plugin records domain events to a Store.
//
// Implements: Plugin, Installable, Disableable, RouteProvider, EventSubscriber, HealthReporter, Configurable
type Plugin struct {
	store    Store
	settings config.AuditConfig
	logger   logging.Logger
	now      func() time.Time

	mu     sync.Mutex
	bus    eventbus.Bus
	tokens []eventbus.Token
}

type Option func(*Plugin)

// WithStore bypasses store selection from settings.
func WithStore(s Store) Option {
	return func(p *Plugin) { p.store = s }
}

// WithClock replaces time.Now for RecordedAt.
func WithClock(now func() time.Time) Option {
	return func(p *Plugin) { p.now = now }
}

func NewPlugin(opts ...Option) *Plugin {
	p := &Plugin{logger: logging.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// --- Core Interface (mandatory) ---

func (p *Plugin) Name() string           { return PluginName }
func (p *Plugin) Version() string        { return "1.0.0" }
func (p *Plugin) Dependencies() []string { return nil }

// Install binds the settings and prepares the store.
func (p *Plugin) Install(ctx context.Context, app *plugin.AppContext) error {
	if app.Logger != nil {
		p.logger = app.Logger
	}
	settings := config.AuditConfig{Store: config.BackendMemory, Retention: DefaultRetention, Key: DefaultKey}
	if err := app.Config.Bind(&settings); err != nil {
		return err
	}
	p.settings = settings

	if p.store == nil {
		store, err := p.openStore(app)
		if err != nil {
			return err
		}
		p.store = store
	}
	if rs, ok := p.store.(*RedisStore); ok {
		return rs.Verify(ctx)
	}
	return nil
}

func (p *Plugin) openStore(app *plugin.AppContext) (Store, error) {
	switch p.settings.Store {
	case "", config.BackendMemory:
		return NewMemoryStore(p.settings.Retention), nil
	case config.BackendRedis:
		if app.Redis == nil {
			return nil, errors.NewInvalid("audit.store", p.settings.Store, "redis store needs a redis client")
		}
		return NewRedisStore(app.Redis, p.settings.Key, p.settings.Retention), nil
	default:
		return nil, errors.NewInvalid("audit.store", p.settings.Store, "must be memory or redis")
	}
}

func (p *Plugin) Enable(ctx context.Context, app *plugin.AppContext) error {
	if p.store == nil {
		return errors.NewInternal("audit store not installed")
	}
	if err := p.store.Ping(ctx); err != nil {
		return err
	}
	p.logger.Info("audit enabled",
		zap.String("store", p.settings.Store),
		zap.Int("retention", p.settings.Retention),
		zap.Strings("events", p.eventNames()),
	)
	return app.Services.Register(ServiceKey, p.store)
}

// --- Disableable ---

func (p *Plugin) Disable(ctx context.Context, app *plugin.AppContext) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bus != nil {
		for _, token := range p.tokens {
			p.bus.Unsubscribe(token)
		}
	}
	p.tokens = nil
	return nil
}

// --- RouteProvider ---

func (p *Plugin) RegisterRoutes(router chi.Router) {
	router.Route("/audit", func(r chi.Router) {
		r.Get("/records", p.handleRecords)
	})
}

// --- EventSubscriber ---

func (p *Plugin) SubscribeEvents(bus eventbus.Bus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bus = bus
	for _, name := range p.eventNames() {
		p.tokens = append(p.tokens, bus.Subscribe(name, p.recorder(name), eventbus.WithHandlerName(HandlerName)))
	}
}

// --- HealthReporter ---

func (p *Plugin) HealthCheck(ctx context.Context) error {
	if p.store == nil {
		return errors.NewInternal("audit store not initialized")
	}
	return p.store.Ping(ctx)
}

// --- Configurable ---

func (p *Plugin) PluginOptions() plugin.PluginOptions {
	return plugin.PluginOptions{
		Optional:    true,
		Description: "Durable audit trail of workforce domain events",
	}
}

// --- Compile-time interface checks ---

var (
	_ plugin.Plugin          = (*Plugin)(nil)
	_ plugin.Installable     = (*Plugin)(nil)
	_ plugin.Disableable     = (*Plugin)(nil)
	_ plugin.RouteProvider   = (*Plugin)(nil)
	_ plugin.EventSubscriber = (*Plugin)(nil)
	_ plugin.HealthReporter  = (*Plugin)(nil)
	_ plugin.Configurable    = (*Plugin)(nil)
)

// --- Internal ---

func (p *Plugin) eventNames() []string {
	if len(p.settings.Events) > 0 {
		return p.settings.Events
	}
	return events.All()
}

// recorder returns the handler auditing events named name.
func (p *Plugin) recorder(name string) eventbus.Handler {
	return func(ctx context.Context, payload any, meta eventbus.Metadata) error {
		rec, err := NewRecord(name, payload, meta, p.now())
		if err != nil {
			return err
		}
		return p.store.Append(ctx, rec)
	}
}

type recordsQuery struct {
	Limit int `query:"limit" default:"100" validate:"gte=1"`
}

func (p *Plugin) handleRecords(w http.ResponseWriter, r *http.Request) {
	var q recordsQuery
	if err := binding.Query(r, &q); err != nil {
		field, reason := binding.Problem(err)
		responder.InvalidParameter(w, r, field, reason, responder.FromRequest(r))
		return
	}
	limit := q.Limit
	if p.settings.Retention > 0 {
		limit = min(limit, p.settings.Retention)
	}
	records, err := p.store.Recent(r.Context(), limit)
	if err != nil {
		logging.WithContext(p.logger, r.Context()).Error("audit read failed", zap.Error(err))
		responder.AppError(w, r, err, responder.FromRequest(r))
		return
	}
	responder.OK(w, r, records, responder.FromRequest(r), responder.WithCount(len(records)))
}
