package plugin

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"

	"github.com/leeforge/workforce/eventbus"
	"github.com/leeforge/workforce/logging"
	"github.com/leeforge/workforce/metrics"
)

// AppContext is the typed dependency injection context passed to all plugin
// lifecycle methods. Each plugin receives its own copy carrying its Config;
// everything else is shared.
type AppContext struct {
	Router   chi.Router
	Redis    redis.UniversalClient
	Logger   logging.Logger
	Services *ServiceRegistry
	Config   ConfigProvider
	// Events is the bus every plugin publishes to and subscribes on.
	Events eventbus.Bus
	// Inspector reads the history and statistics of Events.
	Inspector eventbus.Inspector
	// Metrics may be nil when metrics are disabled.
	Metrics *metrics.Collector
}

// ForPlugin returns a copy of app scoped to one plugin.
func (app *AppContext) ForPlugin(name string, cfg ConfigProvider) *AppContext {
	scoped := *app
	if cfg == nil {
		cfg = EmptyConfig()
	}
	scoped.Config = cfg
	if app.Logger != nil {
		scoped.Logger = app.Logger.Named(name)
	}
	return &scoped
}
