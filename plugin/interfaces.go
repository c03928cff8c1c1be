package plugin

import (
	"context"

	"github.com/go-chi/chi/v5"

	"github.com/leeforge/workforce/eventbus"
)

// Plugin is the minimal interface every plugin must implement.
type Plugin interface {
	Name() string
	Version() string
	Dependencies() []string
	Enable(ctx context.Context, app *AppContext) error
}

// --- Optional Capability Interfaces ---
// Runtime detects these via type assertion: if p, ok := plugin.(RouteProvider); ok { ... }

// Installable -- one-time preparation before Enable (verify or seed a store).
type Installable interface {
	Install(ctx context.Context, app *AppContext) error
}

// Disableable -- cleanup on shutdown (release resources, flush buffers).
type Disableable interface {
	Disable(ctx context.Context, app *AppContext) error
}

// RouteProvider -- register HTTP routes. Plugins needing middleware wrap
// their own routes with router.With or router.Group.
type RouteProvider interface {
	RegisterRoutes(router chi.Router)
}

// EventSubscriber -- subscribe to domain events. Called after every plugin
// is enabled, so handlers may rely on services of their dependencies.
type EventSubscriber interface {
	SubscribeEvents(bus eventbus.Bus)
}

// HealthReporter -- provide custom health checks.
type HealthReporter interface {
	HealthCheck(ctx context.Context) error
}

// Configurable -- declare plugin options (optional flag, description).
type Configurable interface {
	PluginOptions() PluginOptions
}

// PluginOptions holds declarative metadata about a plugin.
type PluginOptions struct {
	Optional    bool   // If true, failure does not abort bootstrap.
	Description string // Human-readable description.
}
