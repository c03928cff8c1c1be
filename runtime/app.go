package runtime

import (
	"context"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/leeforge/workforce/audit"
	"github.com/leeforge/workforce/config"
	"github.com/leeforge/workforce/diagnostics"
	"github.com/leeforge/workforce/errors"
	"github.com/leeforge/workforce/eventbus"
	"github.com/leeforge/workforce/eventbus/redisbus"
	"github.com/leeforge/workforce/events"
	"github.com/leeforge/workforce/logging"
	"github.com/leeforge/workforce/metrics"
	"github.com/leeforge/workforce/plugin"
	"github.com/leeforge/workforce/redis_client"
)

// NewBus builds the backend selected by cfg. The returned close function
// stops the backend; it never closes client.
func NewBus(ctx context.Context, cfg config.BusConfig, client redis.UniversalClient, logger logging.Logger, opts ...eventbus.Option) (Backend, func() error, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	opts = append([]eventbus.Option{eventbus.WithHistoryCapacity(cfg.HistoryCapacity)}, opts...)

	switch cfg.Backend {
	case "", config.BackendMemory:
		opts = append([]eventbus.Option{eventbus.WithLogger(logger)}, opts...)
		return eventbus.New(opts...), func() error { return nil }, nil
	case config.BackendRedis:
		if client == nil {
			return nil, nil, errors.NewInvalid("bus.backend", cfg.Backend, "redis backend needs a redis client")
		}
		bus := redisbus.New(client,
			redisbus.WithPrefix(cfg.ChannelPrefix),
			redisbus.WithLogger(logger),
			redisbus.WithBusOptions(opts...),
		)
		// The receive loop outlives construction; Close stops it.
		if err := bus.Start(context.WithoutCancel(ctx)); err != nil {
			return nil, nil, err
		}
		return bus, bus.Close, nil
	default:
		return nil, nil, errors.NewInvalid("bus.backend", cfg.Backend, "must be memory or redis")
	}
}

// App is a runtime assembled from configuration, together with the servers
// it owns.
type App struct {
	*Runtime
	Config      *config.App
	Logger      logging.Logger
	Metrics     *metrics.Collector
	Diagnostics *diagnostics.Server

	loader *config.Loader
}

// Load reads the configuration selected by opts and assembles an App from
// it. Run then reloads the configuration whenever one of its files changes.
func Load(ctx context.Context, opts config.Options) (*App, error) {
	loader, err := config.NewLoader(opts)
	if err != nil {
		return nil, err
	}
	var cfg config.App
	if err := loader.Bind(&cfg); err != nil {
		return nil, err
	}
	app, err := FromApp(ctx, &cfg)
	if err != nil {
		return nil, err
	}
	app.loader = loader
	return app, nil
}

// FromApp assembles logging, Redis, the bus, metrics, diagnostics and the
// built-in plugins described by cfg. Plugins registered on the result before
// Run join the same lifecycle.
func FromApp(ctx context.Context, cfg *config.App) (*App, error) {
	if cfg == nil {
		return nil, errors.NewValidation("runtime needs a configuration")
	}
	logger := logging.NewLogger(cfg.Logging)
	collectorOpts := []metrics.CollectorOption{metrics.WithLogger(logger.Named("metrics"))}
	if cfg.Metrics.Namespace != "" {
		collectorOpts = append(collectorOpts, metrics.WithNamespace(cfg.Metrics.Namespace))
	}
	if cfg.Metrics.ProcessMetrics {
		collectorOpts = append(collectorOpts, metrics.WithProcessMetrics())
	}
	collector := metrics.NewCollector(collectorOpts...)

	var (
		client  *redis.Client
		closers []func() error
	)
	cleanup := func() {
		for _, closer := range closers {
			_ = closer()
		}
	}

	if cfg.NeedsRedis() {
		var err error
		client, err = redis_client.NewRedis(ctx, cfg.Redis, logger.Named("redis"))
		if err != nil {
			return nil, errors.WrapWithType(err, errors.ErrorTypeBackend, "connect redis")
		}
		closers = append(closers, client.Close)
	}

	var universal redis.UniversalClient
	if client != nil {
		universal = client
	}
	bus, closeBus, err := NewBus(ctx, cfg.Bus, universal, logger.Named("eventbus"),
		eventbus.WithObserver(metrics.NewBusObserver(collector, metrics.WithKnownEvents(events.All()...))),
	)
	if err != nil {
		cleanup()
		return nil, err
	}
	// The bus closes before the client it reads from.
	closers = append([]func() error{closeBus}, closers...)

	app := &App{Config: cfg, Logger: logger, Metrics: collector}
	rtCfg := Config{
		Redis:   universal,
		Logger:  logger,
		Bus:     bus,
		Metrics: collector,
	}
	if cfg.Diagnostics.Enabled {
		app.Diagnostics = diagnostics.New(bus,
			diagnostics.WithCollector(collector),
			diagnostics.WithLogger(logger.Named("diagnostics")),
			diagnostics.WithMaxHistoryLimit(cfg.Diagnostics.MaxHistoryLimit),
		)
		rtCfg.Router = app.Diagnostics.Router()
	}

	app.Runtime = NewRuntime(rtCfg)
	for _, closer := range closers {
		app.OnShutdown(closer)
	}
	app.OnShutdown(func() error {
		_ = logger.Sync()
		return logging.CloseAllWriters()
	})

	if cfg.Audit.Enabled {
		auditCfg, err := plugin.NewStructConfigProvider(audit.PluginName, true, cfg.Audit)
		if err != nil {
			cleanup()
			return nil, err
		}
		if err := app.Register(audit.NewPlugin(), auditCfg); err != nil {
			cleanup()
			return nil, err
		}
	}

	return app, nil
}

// Run bootstraps the plugins, serves diagnostics when enabled and blocks
// until ctx is done. Apps built by Load also watch their configuration
// files. Shutdown always runs before Run returns.
func (a *App) Run(ctx context.Context) (err error) {
	defer func() {
		if shutdownErr := a.Shutdown(context.WithoutCancel(ctx)); shutdownErr != nil && err == nil {
			err = shutdownErr
		}
	}()

	if err := a.Bootstrap(ctx); err != nil {
		return err
	}

	if a.loader != nil {
		watchCtx, stopWatch := context.WithCancel(ctx)
		watched := make(chan struct{})
		go func() {
			defer close(watched)
			if err := a.loader.Watch(watchCtx, a.Logger.Named("config"), a.reload); err != nil {
				a.Logger.Warn("config watch stopped", zap.Error(err))
			}
		}()
		defer func() {
			stopWatch()
			<-watched
		}()
	}
	a.Logger.Info("workforce running",
		zap.String("bus", a.Config.Bus.Backend),
		zap.Bool("diagnostics", a.Diagnostics != nil),
		zap.Strings("plugins", a.BootOrder()),
	)

	if a.Diagnostics != nil {
		return a.Diagnostics.ListenAndServe(ctx, a.Config.Diagnostics.Addr)
	}
	<-ctx.Done()
	return nil
}

// reload applies the settings that can change while running. Everything
// else takes effect on the next start.
func (a *App) reload(loader *config.Loader) {
	var next config.App
	if err := loader.Bind(&next); err != nil {
		a.Logger.Warn("ignore invalid config reload", zap.Error(err))
		return
	}
	if a.Diagnostics != nil && next.Diagnostics.MaxHistoryLimit != a.Diagnostics.MaxHistoryLimit() {
		a.Diagnostics.SetMaxHistoryLimit(next.Diagnostics.MaxHistoryLimit)
		a.Logger.Info("diagnostics history limit changed", zap.Int("max_history_limit", next.Diagnostics.MaxHistoryLimit))
	}
}
