// Package runtime wires the event bus, its backend and the plugins of a
// workforce process, and runs their lifecycle in dependency order.
package runtime

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/leeforge/workforce/errors"
	"github.com/leeforge/workforce/eventbus"
	"github.com/leeforge/workforce/logging"
	"github.com/leeforge/workforce/metrics"
	"github.com/leeforge/workforce/plugin"
)

const defaultShutdownTimeout = 30 * time.Second

// Backend is a bus that can also be inspected. Both the in-process bus and
// the Redis bus satisfy it.
type Backend interface {
	eventbus.Bus
	eventbus.Inspector
}

// Config holds configuration for creating a new Runtime.
type Config struct {
	// Router receives plugin routes. Nil skips the route phase.
	Router chi.Router
	Redis  redis.UniversalClient
	Logger logging.Logger
	// Bus is the bus handed to plugins. Nil builds an in-process bus from
	// BusOptions.
	Bus        Backend
	BusOptions []eventbus.Option
	Metrics    *metrics.Collector
	// ShutdownTimeout bounds plugin Disable calls. Default 30s.
	ShutdownTimeout time.Duration
}

// Runtime manages plugin lifecycle with correct dependency ordering.
type Runtime struct {
	router chi.Router
	logger logging.Logger
	bus    Backend

	plugins       map[string]plugin.Plugin
	pluginState   map[string]plugin.PluginState
	pluginErrors  map[string]error
	pluginConfigs map[string]plugin.ConfigProvider
	pluginApps    map[string]*plugin.AppContext
	mu            sync.RWMutex

	bootOrder       []string
	appContext      *plugin.AppContext
	healthChecks    map[string]func(context.Context) error
	closers         []func() error
	shutdownTimeout time.Duration
	shutdownOnce    sync.Once
}

// NewRuntime creates a new runtime instance.
func NewRuntime(cfg Config) *Runtime {
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	bus := cfg.Bus
	if bus == nil {
		opts := append([]eventbus.Option{eventbus.WithLogger(cfg.Logger)}, cfg.BusOptions...)
		bus = eventbus.New(opts...)
	}

	rt := &Runtime{
		router:          cfg.Router,
		logger:          cfg.Logger,
		bus:             bus,
		plugins:         make(map[string]plugin.Plugin),
		pluginState:     make(map[string]plugin.PluginState),
		pluginErrors:    make(map[string]error),
		pluginConfigs:   make(map[string]plugin.ConfigProvider),
		pluginApps:      make(map[string]*plugin.AppContext),
		healthChecks:    make(map[string]func(context.Context) error),
		shutdownTimeout: cfg.ShutdownTimeout,
	}

	rt.appContext = &plugin.AppContext{
		Router:    cfg.Router,
		Redis:     cfg.Redis,
		Logger:    cfg.Logger,
		Services:  plugin.NewServiceRegistry(),
		Config:    plugin.EmptyConfig(),
		Events:    bus,
		Inspector: bus,
		Metrics:   cfg.Metrics,
	}

	return rt
}

// Bus returns the bus shared with plugins.
func (r *Runtime) Bus() Backend {
	return r.bus
}

// Services returns the plugin service registry for pre-registering core services.
// Must be called before Bootstrap.
func (r *Runtime) Services() *plugin.ServiceRegistry {
	return r.appContext.Services
}

// OnShutdown registers fn to run after every plugin is disabled. Closers run
// in registration order.
func (r *Runtime) OnShutdown(fn func() error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closers = append(r.closers, fn)
}

// Register adds a plugin with an optional scoped config. Must be called
// before Bootstrap.
func (r *Runtime) Register(p plugin.Plugin, cfg ...plugin.ConfigProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	if _, exists := r.plugins[name]; exists {
		return errors.NewValidation(fmt.Sprintf("plugin %q already registered", name)).WithDetail("plugin", name)
	}

	r.plugins[name] = p
	r.pluginState[name] = plugin.StateRegistered
	if len(cfg) > 0 && cfg[0] != nil {
		r.pluginConfigs[name] = cfg[0]
	}
	r.logger.Info("plugin registered", zap.String("name", name), zap.String("version", p.Version()))
	return nil
}

// Bootstrap initializes all plugins in dependency order.
func (r *Runtime) Bootstrap(ctx context.Context) error {
	startTime := time.Now()
	if ctx == nil {
		ctx = context.Background()
	}

	// Phase 1: Resolve dependencies
	order, err := r.resolveDependencies()
	if err != nil {
		return errors.WrapWithType(err, errors.ErrorTypeValidation, "dependency resolution failed")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.bootOrder = order
	r.logger.Info("dependency resolution completed", zap.Strings("order", order))
	for _, name := range order {
		r.pluginApps[name] = r.appContext.ForPlugin(name, r.pluginConfigs[name])
	}

	// Phase 2: Install (only Installable plugins)
	for _, name := range order {
		if err := ctx.Err(); err != nil {
			return errors.WrapWithType(err, errors.ErrorTypeInternal, "bootstrap canceled")
		}
		if p, ok := r.plugins[name].(plugin.Installable); ok {
			if err := p.Install(ctx, r.pluginApps[name]); err != nil {
				if abortErr := r.handlePluginError(name, fmt.Errorf("install failed: %w", err)); abortErr != nil {
					return abortErr
				}
				continue
			}
		}
		r.pluginState[name] = plugin.StateInstalled
	}

	// Phase 3: Enable (in dependency order)
	for _, name := range order {
		if err := ctx.Err(); err != nil {
			return errors.WrapWithType(err, errors.ErrorTypeInternal, "bootstrap canceled")
		}
		if r.pluginState[name] == plugin.StateFailed {
			continue
		}

		if depErr := r.checkDependenciesHealthy(name); depErr != nil {
			if abortErr := r.handlePluginError(name, depErr); abortErr != nil {
				return abortErr
			}
			continue
		}

		if err := r.plugins[name].Enable(ctx, r.pluginApps[name]); err != nil {
			if abortErr := r.handlePluginError(name, fmt.Errorf("enable failed: %w", err)); abortErr != nil {
				return abortErr
			}
			continue
		}
		r.pluginState[name] = plugin.StateEnabled
	}

	// Phase 4: Subscribe events. Every plugin is enabled by now, so handlers
	// may use services registered by any dependency.
	for _, name := range order {
		if r.pluginState[name] != plugin.StateEnabled {
			continue
		}
		if p, ok := r.plugins[name].(plugin.EventSubscriber); ok {
			p.SubscribeEvents(r.bus)
		}
	}

	// Phase 5: Register routes
	if r.router != nil {
		for _, name := range order {
			if r.pluginState[name] != plugin.StateEnabled {
				continue
			}
			if p, ok := r.plugins[name].(plugin.RouteProvider); ok {
				p.RegisterRoutes(r.router)
			}
		}
	}

	// Phase 6: Register health checks
	for _, name := range order {
		if r.pluginState[name] != plugin.StateEnabled {
			continue
		}
		if p, ok := r.plugins[name].(plugin.HealthReporter); ok {
			r.healthChecks[name] = p.HealthCheck
		}
	}

	r.logger.Info("bootstrap completed",
		zap.Duration("duration", time.Since(startTime)),
		zap.Int("plugins", len(r.plugins)),
	)
	return nil
}

// Shutdown disables plugins in reverse topological order, then runs the
// registered closers. Only the first call has an effect.
func (r *Runtime) Shutdown(ctx context.Context) error {
	var chain *errors.ErrorChain
	r.shutdownOnce.Do(func() {
		chain = r.shutdown(ctx)
	})
	return chain.ErrOrNil()
}

func (r *Runtime) shutdown(ctx context.Context) *errors.ErrorChain {
	chain := errors.NewErrorChain()
	if ctx == nil {
		ctx = context.Background()
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, r.shutdownTimeout)
	defer cancel()

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range reverseSlice(r.bootOrder) {
		if r.pluginState[name] != plugin.StateEnabled {
			continue
		}
		if p, ok := r.plugins[name].(plugin.Disableable); ok {
			if err := p.Disable(shutdownCtx, r.pluginApps[name]); err != nil {
				r.logger.Error("plugin disable failed", zap.String("plugin", name), zap.Error(err))
				chain.Add(errors.WrapWithType(err, errors.ErrorTypeInternal, "disable plugin "+name))
			}
		}
		r.pluginState[name] = plugin.StateDisabled
	}

	for _, closer := range r.closers {
		if err := closer(); err != nil {
			r.logger.Error("shutdown step failed", zap.Error(err))
			chain.Add(errors.WrapWithType(err, errors.ErrorTypeInternal, "shutdown"))
		}
	}

	r.logger.Info("shutdown completed")
	return chain
}

// Publish sends an event through the bus.
func (r *Runtime) Publish(ctx context.Context, name string, payload any, opts ...eventbus.PublishOption) error {
	return r.bus.Publish(ctx, name, payload, opts...)
}

// Health runs every registered health check. The result maps plugin name to
// its error, nil meaning healthy.
func (r *Runtime) Health(ctx context.Context) map[string]error {
	r.mu.RLock()
	checks := make(map[string]func(context.Context) error, len(r.healthChecks))
	for name, check := range r.healthChecks {
		checks[name] = check
	}
	r.mu.RUnlock()

	result := make(map[string]error, len(checks))
	for name, check := range checks {
		result[name] = check(ctx)
	}
	return result
}

// GetPluginState returns the state of a plugin by name.
func (r *Runtime) GetPluginState(name string) (plugin.PluginState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.pluginState[name]
	return state, ok
}

// GetPluginError returns why a plugin failed, if it did.
func (r *Runtime) GetPluginError(name string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pluginErrors[name]
}

// ListPlugins returns a snapshot of all plugin states.
func (r *Runtime) ListPlugins() map[string]plugin.PluginState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make(map[string]plugin.PluginState, len(r.pluginState))
	for k, v := range r.pluginState {
		result[k] = v
	}
	return result
}

// BootOrder returns the topological order used during bootstrap.
func (r *Runtime) BootOrder() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string{}, r.bootOrder...)
}

// --- Internal ---

// resolveDependencies orders plugins with Kahn's algorithm, breaking ties by
// name so boot order is deterministic.
func (r *Runtime) resolveDependencies() ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inDegree := make(map[string]int, len(r.plugins))
	dependents := make(map[string][]string) // dep -> list of plugins that depend on it

	for name := range r.plugins {
		inDegree[name] = 0
	}

	for name, p := range r.plugins {
		for _, dep := range p.Dependencies() {
			if _, exists := r.plugins[dep]; !exists {
				return nil, fmt.Errorf("plugin %q depends on %q which is not registered", name, dep)
			}
			inDegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var queue []string
	for name, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, name)
		}
	}
	sort.Strings(queue)

	var order []string
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		order = append(order, current)

		for _, dep := range dependents[current] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
				sort.Strings(queue)
			}
		}
	}

	if len(order) != len(r.plugins) {
		var stuck []string
		for name, degree := range inDegree {
			if degree > 0 {
				stuck = append(stuck, name)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("circular dependency detected among %v", stuck)
	}

	return order, nil
}

// must hold r.mu
func (r *Runtime) handlePluginError(name string, err error) error {
	r.pluginState[name] = plugin.StateFailed
	r.pluginErrors[name] = err

	if r.getPluginOptions(name).Optional {
		r.logger.Warn("optional plugin failed, continuing",
			zap.String("plugin", name), zap.Error(err))
		return nil
	}

	return errors.WrapWithType(err, errors.ErrorTypeInternal, fmt.Sprintf("required plugin %q failed", name)).
		WithDetail("plugin", name)
}

func (r *Runtime) getPluginOptions(name string) plugin.PluginOptions {
	if p, ok := r.plugins[name].(plugin.Configurable); ok {
		return p.PluginOptions()
	}
	return plugin.PluginOptions{Optional: false}
}

func (r *Runtime) checkDependenciesHealthy(name string) error {
	for _, dep := range r.plugins[name].Dependencies() {
		if r.pluginState[dep] == plugin.StateFailed {
			return fmt.Errorf("dependency %q is in Failed state", dep)
		}
	}
	return nil
}

func reverseSlice(s []string) []string {
	n := len(s)
	reversed := make([]string, n)
	for i, v := range s {
		reversed[n-1-i] = v
	}
	return reversed
}
