package config

import (
	"github.com/leeforge/workforce/logging"
	"github.com/leeforge/workforce/redis_client"
)

// Bus backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// App is the complete configuration of a workforce process.
type App struct {
	Bus         BusConfig           `mapstructure:"bus" json:"bus"`
	Logging     logging.Config      `mapstructure:"logging" json:"logging"`
	Redis       redis_client.Config `mapstructure:"redis" json:"redis"`
	Diagnostics DiagnosticsConfig   `mapstructure:"diagnostics" json:"diagnostics"`
	Audit       AuditConfig         `mapstructure:"audit" json:"audit"`
	Metrics     MetricsConfig       `mapstructure:"metrics" json:"metrics"`
}

type BusConfig struct {
	// Backend is memory for a single process or redis to fan out across
	// processes.
	Backend         string `mapstructure:"backend" json:"backend" default:"memory" validate:"oneof=memory redis"`
	HistoryCapacity int    `mapstructure:"history-capacity" json:"historyCapacity" default:"1000" validate:"gte=1"`
	ChannelPrefix   string `mapstructure:"channel-prefix" json:"channelPrefix" default:"workforce:events:"`
}

type DiagnosticsConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
	Addr    string `mapstructure:"addr" json:"addr" default:":8081" validate:"required_if=Enabled true"`
	// MaxHistoryLimit caps ?limit= on the history endpoint.
	MaxHistoryLimit int `mapstructure:"max-history-limit" json:"maxHistoryLimit" default:"1000" validate:"gte=1"`
}

type MetricsConfig struct {
	// Namespace prefixes every series name.
	Namespace string `mapstructure:"namespace" json:"namespace" default:"workforce"`
	// ProcessMetrics adds the Go runtime and process collectors.
	ProcessMetrics bool `mapstructure:"process-metrics" json:"processMetrics" default:"true"`
}

type AuditConfig struct {
	Enabled   bool   `mapstructure:"enabled" json:"enabled"`
	Store     string `mapstructure:"store" json:"store" default:"memory" validate:"oneof=memory redis"`
	Retention int    `mapstructure:"retention" json:"retention" default:"10000" validate:"gte=1"`
	Key       string `mapstructure:"key" json:"key" default:"workforce:audit"`
	// Events limits auditing to these names; empty audits every domain event.
	Events []string `mapstructure:"events" json:"events"`
}

// NeedsRedis reports whether any component is configured to use Redis.
func (a *App) NeedsRedis() bool {
	return a.Bus.Backend == BackendRedis || (a.Audit.Enabled && a.Audit.Store == BackendRedis)
}

// Load reads App with DefaultOptions.
func Load() (*App, error) {
	return LoadWith(DefaultOptions())
}

// LoadWith reads App from the files and environment selected by opts.
func LoadWith(opts Options) (*App, error) {
	loader, err := NewLoader(opts)
	if err != nil {
		return nil, err
	}
	var app App
	if err := loader.Bind(&app); err != nil {
		return nil, err
	}
	return &app, nil
}
