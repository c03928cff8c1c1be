// Package metrics collects counters, gauges and histograms into a private
// Prometheus registry and serves them in the text exposition format.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/leeforge/workforce/logging"
)

// Collector creates metric vectors lazily on first use. The label names of a
// metric are fixed by its first observation; later observations with a
// different label set are dropped and logged.
type Collector struct {
	namespace string
	registry  *prometheus.Registry
	logger    logging.Logger

	mu         sync.Mutex
	help       map[string]string
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

type CollectorOption func(*Collector)

func WithNamespace(ns string) CollectorOption {
	return func(c *Collector) { c.namespace = ns }
}

func WithLogger(logger logging.Logger) CollectorOption {
	return func(c *Collector) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithProcessMetrics adds the Go runtime and process collectors.
func WithProcessMetrics() CollectorOption {
	return func(c *Collector) {
		c.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
}

func NewCollector(opts ...CollectorOption) *Collector {
	c := &Collector{
		namespace:  "workforce",
		registry:   prometheus.NewRegistry(),
		logger:     logging.Nop(),
		help:       make(map[string]string),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Describe sets the HELP text of name. It only takes effect before the
// metric's first observation.
func (c *Collector) Describe(name, help string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.help[name] = help
}

// IncCounter adds one to a counter.
func (c *Collector) IncCounter(name string, labels map[string]string) {
	c.AddCounter(name, 1, labels)
}

// AddCounter adds value to a counter. Negative values are ignored.
func (c *Collector) AddCounter(name string, value float64, labels map[string]string) {
	if value < 0 {
		return
	}
	c.mu.Lock()
	vec, ok := c.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: c.namespace,
			Name:      name,
			Help:      c.helpFor(name),
		}, labelNames(labels))
		if !c.register(name, vec) {
			c.mu.Unlock()
			return
		}
		c.counters[name] = vec
	}
	c.mu.Unlock()

	if m, err := vec.GetMetricWith(labels); err == nil {
		m.Add(value)
	} else {
		c.dropped(name, err)
	}
}

// SetGauge sets a gauge.
func (c *Collector) SetGauge(name string, value float64, labels map[string]string) {
	if g := c.gauge(name, labels); g != nil {
		g.Set(value)
	}
}

// AddGauge moves a gauge by delta, which may be negative.
func (c *Collector) AddGauge(name string, delta float64, labels map[string]string) {
	if g := c.gauge(name, labels); g != nil {
		g.Add(delta)
	}
}

func (c *Collector) gauge(name string, labels map[string]string) prometheus.Gauge {
	c.mu.Lock()
	vec, ok := c.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: c.namespace,
			Name:      name,
			Help:      c.helpFor(name),
		}, labelNames(labels))
		if !c.register(name, vec) {
			c.mu.Unlock()
			return nil
		}
		c.gauges[name] = vec
	}
	c.mu.Unlock()

	g, err := vec.GetMetricWith(labels)
	if err != nil {
		c.dropped(name, err)
		return nil
	}
	return g
}

// ObserveHistogram records value in a histogram with the default buckets.
func (c *Collector) ObserveHistogram(name string, value float64, labels map[string]string) {
	c.mu.Lock()
	vec, ok := c.histograms[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: c.namespace,
			Name:      name,
			Help:      c.helpFor(name),
			Buckets:   prometheus.DefBuckets,
		}, labelNames(labels))
		if !c.register(name, vec) {
			c.mu.Unlock()
			return
		}
		c.histograms[name] = vec
	}
	c.mu.Unlock()

	if m, err := vec.GetMetricWith(labels); err == nil {
		m.Observe(value)
	} else {
		c.dropped(name, err)
	}
}

// Registry exposes the underlying registry, e.g. for additional collectors.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the text exposition of every registered metric.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		ErrorLog: promLogger{c.logger},
	})
}

// Reset drops every metric.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, vec := range c.counters {
		c.registry.Unregister(vec)
	}
	for _, vec := range c.gauges {
		c.registry.Unregister(vec)
	}
	for _, vec := range c.histograms {
		c.registry.Unregister(vec)
	}
	c.counters = make(map[string]*prometheus.CounterVec)
	c.gauges = make(map[string]*prometheus.GaugeVec)
	c.histograms = make(map[string]*prometheus.HistogramVec)
}

// must hold c.mu
func (c *Collector) helpFor(name string) string {
	if h, ok := c.help[name]; ok {
		return h
	}
	return strings.ReplaceAll(name, "_", " ")
}

// must hold c.mu
func (c *Collector) register(name string, col prometheus.Collector) bool {
	if err := c.registry.Register(col); err != nil {
		c.dropped(name, err)
		return false
	}
	return true
}

func (c *Collector) dropped(name string, err error) {
	c.logger.Warn("metric observation dropped", zap.String("metric", name), zap.Error(err))
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

type promLogger struct {
	logger logging.Logger
}

func (l promLogger) Println(v ...interface{}) {
	l.logger.Error("metrics exposition failed", zap.String("error", fmt.Sprint(v...)))
}
