package runtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leeforge/workforce/audit"
	"github.com/leeforge/workforce/config"
	"github.com/leeforge/workforce/errors"
	"github.com/leeforge/workforce/eventbus"
	"github.com/leeforge/workforce/eventbus/redisbus"
	"github.com/leeforge/workforce/events"
	"github.com/leeforge/workforce/logging"
	"github.com/leeforge/workforce/plugin"
	"github.com/leeforge/workforce/redis_client"
)

func quietLogging() logging.Config {
	return logging.Config{Level: "error", DisableFiles: true}
}

func memoryConfig() *config.App {
	return &config.App{
		Bus:     config.BusConfig{Backend: config.BackendMemory, HistoryCapacity: 5},
		Logging: quietLogging(),
	}
}

func redisConfig(mr *miniredis.Miniredis) redis_client.Config {
	return redis_client.Config{Host: mr.Host(), Port: mr.Port()}
}

func TestNewBusMemory(t *testing.T) {
	bus, closeBus, err := NewBus(context.Background(), config.BusConfig{Backend: config.BackendMemory, HistoryCapacity: 2}, nil, nil)
	require.NoError(t, err)
	defer closeBus()

	_, ok := bus.(*eventbus.EventBus)
	require.True(t, ok, "memory backend should be the in-process bus")

	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, bus.Publish(context.Background(), name, nil))
	}
	assert.Equal(t, 2, bus.Stats().HistoryCapacity)
	assert.Len(t, bus.RecentHistory(0), 2)
}

func TestNewBusRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := redis_client.NewRedis(context.Background(), redisConfig(mr), logging.Nop())
	require.NoError(t, err)
	defer client.Close()

	bus, closeBus, err := NewBus(context.Background(),
		config.BusConfig{Backend: config.BackendRedis, HistoryCapacity: 10, ChannelPrefix: "test:"},
		client, logging.Nop())
	require.NoError(t, err)

	_, ok := bus.(*redisbus.Bus)
	require.True(t, ok, "redis backend should be the redis bus")
	require.NoError(t, closeBus())
	require.NoError(t, closeBus(), "close is idempotent")
}

func TestNewBusRedisOutlivesConstructionContext(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := redis_client.NewRedis(context.Background(), redisConfig(mr), logging.Nop())
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	bus, closeBus, err := NewBus(ctx,
		config.BusConfig{Backend: config.BackendRedis, HistoryCapacity: 10, ChannelPrefix: "test:"},
		client, logging.Nop())
	require.NoError(t, err)
	defer closeBus()
	cancel()

	received := make(chan string, 1)
	bus.Subscribe(events.KitCheckedOutEvent, func(_ context.Context, payload any, _ eventbus.Metadata) error {
		received <- payload.(string)
		return nil
	})

	peerClient, err := redis_client.NewRedis(context.Background(), redisConfig(mr), logging.Nop())
	require.NoError(t, err)
	defer peerClient.Close()
	peer := redisbus.New(peerClient, redisbus.WithPrefix("test:"))
	require.NoError(t, peer.Start(context.Background()))
	defer peer.Close()

	require.Eventually(t, func() bool { return peer.HasSubscribers(events.KitCheckedOutEvent) }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, peer.Publish(context.Background(), events.KitCheckedOutEvent, "kit-7"))

	select {
	case got := <-received:
		assert.Equal(t, "kit-7", got)
	case <-time.After(2 * time.Second):
		t.Fatal("bus stopped receiving once the construction context was canceled")
	}
}

func TestNewBusErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.BusConfig
	}{
		{name: "redis without client", cfg: config.BusConfig{Backend: config.BackendRedis}},
		{name: "unknown backend", cfg: config.BusConfig{Backend: "kafka"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := NewBus(context.Background(), tt.cfg, nil, nil)
			require.Error(t, err)
			assert.Equal(t, errors.ErrorTypeInvalid, errors.FromError(err).Type)
		})
	}
}

func TestFromAppMemory(t *testing.T) {
	cfg := memoryConfig()
	cfg.Diagnostics = config.DiagnosticsConfig{Enabled: true, Addr: "127.0.0.1:0", MaxHistoryLimit: 10}
	cfg.Audit = config.AuditConfig{Enabled: true, Store: config.BackendMemory, Retention: 10}

	app, err := FromApp(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, app.Diagnostics)
	require.NoError(t, app.Bootstrap(context.Background()))
	defer app.Shutdown(context.Background())

	state, ok := app.GetPluginState(audit.PluginName)
	require.True(t, ok)
	assert.Equal(t, plugin.StateEnabled, state)

	err = events.Emit(context.Background(), app.Bus(), events.BookingCreated{
		BookingID:      uuid.New(),
		OrganizationID: uuid.New(),
	})
	require.NoError(t, err)

	store, err := plugin.Resolve[audit.Store](app.Services(), audit.ServiceKey)
	require.NoError(t, err)
	n, err := store.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	handler := app.Diagnostics.Handler()
	for _, path := range []string{"/events/history", "/events/stats", "/metrics", "/audit/records"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "workforce_eventbus_events_published_total")
}

func TestFromAppRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &config.App{
		Bus:     config.BusConfig{Backend: config.BackendRedis, HistoryCapacity: 10, ChannelPrefix: "wf:"},
		Logging: quietLogging(),
		Redis:   redisConfig(mr),
		Audit:   config.AuditConfig{Enabled: true, Store: config.BackendRedis, Retention: 10, Key: "wf:audit"},
	}

	app, err := FromApp(context.Background(), cfg)
	require.NoError(t, err)
	require.Nil(t, app.Diagnostics)
	require.NoError(t, app.Bootstrap(context.Background()))

	require.NoError(t, app.Publish(context.Background(), events.ShiftPublishedEvent, events.ShiftPublished{ShiftID: uuid.New()}))

	// The audit record is written by the local delivery inside Publish.
	entries, err := mr.List("wf:audit")
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.NoError(t, app.Shutdown(context.Background()))
}

func TestFromAppRedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	redisCfg := redisConfig(mr)
	mr.Close()

	cfg := memoryConfig()
	cfg.Bus.Backend = config.BackendRedis
	cfg.Redis = redisCfg
	cfg.Redis.DialTimeout = 200 * time.Millisecond

	_, err := FromApp(context.Background(), cfg)
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeBackend, errors.FromError(err).Type)
}

func TestFromAppNilConfig(t *testing.T) {
	_, err := FromApp(context.Background(), nil)
	require.Error(t, err)
}

func TestRunUntilCanceled(t *testing.T) {
	tests := []struct {
		name        string
		diagnostics bool
	}{
		{name: "without diagnostics"},
		{name: "with diagnostics", diagnostics: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := memoryConfig()
			cfg.Diagnostics = config.DiagnosticsConfig{Enabled: tt.diagnostics, Addr: "127.0.0.1:0", MaxHistoryLimit: 10}

			app, err := FromApp(context.Background(), cfg)
			require.NoError(t, err)

			enabled := make(chan struct{})
			require.NoError(t, app.Register(&testPlugin{name: "ready", enableFn: func(context.Context, *plugin.AppContext) error {
				close(enabled)
				return nil
			}}))

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- app.Run(ctx) }()

			select {
			case <-enabled:
			case <-time.After(5 * time.Second):
				t.Fatal("plugins were not enabled")
			}
			cancel()

			select {
			case err := <-done:
				assert.NoError(t, err)
			case <-time.After(5 * time.Second):
				t.Fatal("Run did not return after cancel")
			}
		})
	}
}

func TestFromAppMetricsConfig(t *testing.T) {
	cfg := memoryConfig()
	cfg.Diagnostics = config.DiagnosticsConfig{Enabled: true, Addr: "127.0.0.1:0", MaxHistoryLimit: 10}
	cfg.Metrics = config.MetricsConfig{Namespace: "staffing", ProcessMetrics: true}

	app, err := FromApp(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, app.Bootstrap(context.Background()))
	defer app.Shutdown(context.Background())

	require.NoError(t, app.Publish(context.Background(), events.BookingCreatedEvent, nil))
	require.NoError(t, app.Publish(context.Background(), "tenant-9.import_finished", nil))

	rec := httptest.NewRecorder()
	app.Diagnostics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, "go_goroutines")
	assert.Contains(t, body, `staffing_eventbus_events_published_total{event="booking.created"} 1`)
	assert.Contains(t, body, `staffing_eventbus_events_published_total{event="other"} 1`)
	assert.NotContains(t, body, "tenant-9.import_finished")
}

func writeConfig(t *testing.T, dir string, maxHistoryLimit int) {
	t.Helper()
	content := "logging:\n  level: error\n  disable-files: true\n  log-in-terminal: false\n" +
		"diagnostics:\n  enabled: true\n  addr: 127.0.0.1:0\n  max-history-limit: " + strconv.Itoa(maxHistoryLimit) + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644))
}

func TestLoadReloadsWhileRunning(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, 5)

	app, err := Load(context.Background(), config.Options{BasePath: dir, Mode: config.TestMode})
	require.NoError(t, err)
	require.NotNil(t, app.Diagnostics)
	assert.Equal(t, 5, app.Diagnostics.MaxHistoryLimit())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	// The watcher registers asynchronously; rewrite until it notices.
	require.Eventually(t, func() bool {
		writeConfig(t, dir, 2)
		return app.Diagnostics.MaxHistoryLimit() == 2
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestLoadMissingConfig(t *testing.T) {
	_, err := Load(context.Background(), config.Options{BasePath: t.TempDir(), Mode: config.TestMode})
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeValidation, errors.FromError(err).Type)
}
