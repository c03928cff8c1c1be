package metrics

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leeforge/workforce/eventbus"
)

func counterValue(t *testing.T, c *Collector, name string, labels map[string]string) float64 {
	t.Helper()
	c.mu.Lock()
	vec, ok := c.counters[name]
	c.mu.Unlock()
	require.True(t, ok, "counter %s not registered", name)
	return testutil.ToFloat64(vec.With(prometheus.Labels(labels)))
}

func gaugeValue(t *testing.T, c *Collector, name string, labels map[string]string) float64 {
	t.Helper()
	c.mu.Lock()
	vec, ok := c.gauges[name]
	c.mu.Unlock()
	require.True(t, ok, "gauge %s not registered", name)
	return testutil.ToFloat64(vec.With(prometheus.Labels(labels)))
}

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestCollectorCountersAndGauges(t *testing.T) {
	c := NewCollector()
	labels := map[string]string{"event": "booking.created"}

	c.IncCounter("things_total", labels)
	c.AddCounter("things_total", 2.5, labels)
	c.AddCounter("things_total", -10, labels)
	assert.Equal(t, 3.5, counterValue(t, c, "things_total", labels))

	c.SetGauge("depth", 7, nil)
	c.AddGauge("depth", -2, nil)
	assert.Equal(t, 5.0, gaugeValue(t, c, "depth", nil))
}

func TestCollectorDropsMismatchedLabels(t *testing.T) {
	c := NewCollector()
	c.IncCounter("mixed_total", map[string]string{"a": "1"})
	c.IncCounter("mixed_total", map[string]string{"b": "1"})

	assert.Equal(t, 1.0, counterValue(t, c, "mixed_total", map[string]string{"a": "1"}))
	assert.Equal(t, 1, testutil.CollectAndCount(c.Registry()))
}

func TestHandlerExposition(t *testing.T) {
	c := NewCollector(WithNamespace("wf"))
	c.Describe("jobs_total", "Jobs seen.")
	c.IncCounter("jobs_total", map[string]string{"kind": "shift"})
	c.ObserveHistogram("job_seconds", 0.2, nil)

	body := scrape(t, c.Handler())
	assert.Contains(t, body, "# HELP wf_jobs_total Jobs seen.")
	assert.Contains(t, body, "# TYPE wf_jobs_total counter")
	assert.Contains(t, body, `wf_jobs_total{kind="shift"} 1`)
	assert.Contains(t, body, "wf_job_seconds_count 1")
}

func TestReset(t *testing.T) {
	c := NewCollector()
	c.IncCounter("gone_total", nil)
	c.Reset()

	assert.Equal(t, 0, testutil.CollectAndCount(c.Registry()))
	c.IncCounter("gone_total", nil)
	assert.Equal(t, 1.0, counterValue(t, c, "gone_total", nil))
}

func TestMiddlewareLabelsRoutePattern(t *testing.T) {
	c := NewCollector()
	r := chi.NewRouter()
	r.Use(c.Middleware)
	r.Get("/bookings/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	for _, id := range []string{"1", "2"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bookings/"+id, nil))
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	assert.Equal(t, 2.0, counterValue(t, c, httpRequestsTotal, map[string]string{
		"method": http.MethodGet,
		"route":  "/bookings/{id}",
		"status": "202",
	}))
}

func TestBusObserver(t *testing.T) {
	c := NewCollector()
	bus := eventbus.New(eventbus.WithObserver(NewBusObserver(c)))

	bus.Subscribe("shift.published", func(context.Context, any, eventbus.Metadata) error { return nil })
	bus.Subscribe("shift.published", func(context.Context, any, eventbus.Metadata) error {
		return stderrors.New("calendar sync failed")
	})
	bus.Subscribe("shift.published", func(context.Context, any, eventbus.Metadata) error {
		panic("boom")
	})
	bus.Subscribe("shift.published", eventbus.WithTimeout(func(ctx context.Context, _ any, _ eventbus.Metadata) error {
		<-ctx.Done()
		return ctx.Err()
	}, 10*time.Millisecond))

	require.NoError(t, bus.Publish(context.Background(), "shift.published", nil))
	require.NoError(t, bus.Publish(context.Background(), "kit.checked_out", nil))

	shift := map[string]string{"event": "shift.published"}
	assert.Equal(t, 1.0, counterValue(t, c, eventsPublishedTotal, shift))
	assert.Equal(t, 1.0, counterValue(t, c, eventsPublishedTotal, map[string]string{"event": "kit.checked_out"}))
	assert.Equal(t, 4.0, gaugeValue(t, c, eventSubscribers, shift))
	assert.Equal(t, 0.0, gaugeValue(t, c, eventSubscribers, map[string]string{"event": "kit.checked_out"}))
	assert.Equal(t, 4.0, counterValue(t, c, handlerInvocationsTotal, shift))
	assert.Equal(t, 0.0, gaugeValue(t, c, handlersInFlight, nil))

	for reason, want := range map[string]float64{ReasonError: 1, ReasonPanic: 1, ReasonTimeout: 1} {
		got := counterValue(t, c, handlerFailuresTotal, map[string]string{"event": "shift.published", "reason": reason})
		assert.Equal(t, want, got, reason)
	}

	body := scrape(t, c.Handler())
	assert.True(t, strings.Contains(body, `workforce_eventbus_handler_duration_seconds_count{event="shift.published"} 4`), body)
}

func TestBusObserverCollapsesUnknownEvents(t *testing.T) {
	c := NewCollector()
	bus := eventbus.New(eventbus.WithObserver(NewBusObserver(c, WithKnownEvents("booking.created"))))
	bus.Subscribe("booking.created", func(context.Context, any, eventbus.Metadata) error { return nil })
	bus.Subscribe("tenant-42.custom", func(context.Context, any, eventbus.Metadata) error {
		return stderrors.New("rejected")
	})

	require.NoError(t, bus.Publish(context.Background(), "booking.created", nil))
	for _, name := range []string{"tenant-42.custom", "tenant-43.custom", "tenant-44.custom"} {
		require.NoError(t, bus.Publish(context.Background(), name, nil))
	}

	assert.Equal(t, 1.0, counterValue(t, c, eventsPublishedTotal, map[string]string{"event": "booking.created"}))
	assert.Equal(t, 3.0, counterValue(t, c, eventsPublishedTotal, map[string]string{"event": OtherEvent}))
	assert.Equal(t, 1.0, counterValue(t, c, handlerFailuresTotal, map[string]string{"event": OtherEvent, "reason": ReasonError}))

	body := scrape(t, c.Handler())
	assert.NotContains(t, body, "tenant-42.custom")
	assert.Equal(t, 2, testutil.CollectAndCount(c.Registry(), "workforce_"+eventsPublishedTotal))
}

func TestProcessMetrics(t *testing.T) {
	c := NewCollector(WithNamespace("staffing"), WithProcessMetrics())
	c.IncCounter("jobs_total", nil)

	body := scrape(t, c.Handler())
	assert.Contains(t, body, "go_goroutines")
	assert.Contains(t, body, "staffing_jobs_total 1")
}
