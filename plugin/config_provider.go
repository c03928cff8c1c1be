package plugin

import (
	"github.com/leeforge/workforce/errors"
	"github.com/leeforge/workforce/json"
)

// ConfigProvider gives plugins type-safe access to their scoped configuration.
type ConfigProvider interface {
	Get(key string) (any, bool)
	GetString(key string, defaultVal string) string
	GetInt(key string, defaultVal int) int
	GetBool(key string, defaultVal bool) bool
	Bind(target any) error
	IsEnabled() bool
}

// PluginConfigEntry represents a single plugin's configuration entry.
type PluginConfigEntry struct {
	name     string
	enabled  bool
	settings map[string]any
}

// NewPluginConfigEntry creates a plugin config entry.
func NewPluginConfigEntry(name string, enabled bool, settings map[string]any) *PluginConfigEntry {
	if settings == nil {
		settings = make(map[string]any)
	}
	return &PluginConfigEntry{name: name, enabled: enabled, settings: settings}
}

func (c *PluginConfigEntry) Get(key string) (any, bool) {
	v, ok := c.settings[key]
	return v, ok
}

func (c *PluginConfigEntry) GetString(key string, defaultVal string) string {
	v, ok := c.settings[key]
	if !ok {
		return defaultVal
	}
	s, ok := v.(string)
	if !ok {
		return defaultVal
	}
	return s
}

func (c *PluginConfigEntry) GetInt(key string, defaultVal int) int {
	v, ok := c.settings[key]
	if !ok {
		return defaultVal
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	case int64:
		return int(n)
	default:
		return defaultVal
	}
}

func (c *PluginConfigEntry) GetBool(key string, defaultVal bool) bool {
	v, ok := c.settings[key]
	if !ok {
		return defaultVal
	}
	b, ok := v.(bool)
	if !ok {
		return defaultVal
	}
	return b
}

// Bind decodes the settings into target through their JSON form, so target
// fields are matched by json tag.
func (c *PluginConfigEntry) Bind(target any) error {
	if err := json.Convert(c.settings, target); err != nil {
		return errors.WrapWithType(err, errors.ErrorTypeInvalid, "bind config of plugin "+c.name)
	}
	return nil
}

// Name returns the plugin this entry belongs to.
func (c *PluginConfigEntry) Name() string {
	return c.name
}

func (c *PluginConfigEntry) IsEnabled() bool {
	return c.enabled
}

// NewStructConfigProvider builds an entry from a config struct such as
// config.AuditConfig, keyed by its json tags.
func NewStructConfigProvider(name string, enabled bool, settings any) (*PluginConfigEntry, error) {
	m := make(map[string]any)
	if err := json.Convert(settings, &m); err != nil {
		return nil, errors.WrapWithType(err, errors.ErrorTypeInvalid, "encode config of plugin "+name)
	}
	return NewPluginConfigEntry(name, enabled, m), nil
}

// NewMapConfigProvider creates a ConfigProvider from a settings map (always enabled).
func NewMapConfigProvider(settings map[string]any) *PluginConfigEntry {
	return NewPluginConfigEntry("", true, settings)
}

// emptyConfig is a ConfigProvider that returns defaults for everything.
type emptyConfig struct{}

func (e *emptyConfig) Get(string) (any, bool)             { return nil, false }
func (e *emptyConfig) GetString(_ string, d string) string { return d }
func (e *emptyConfig) GetInt(_ string, d int) int          { return d }
func (e *emptyConfig) GetBool(_ string, d bool) bool       { return d }
func (e *emptyConfig) Bind(any) error                      { return nil }
func (e *emptyConfig) IsEnabled() bool                     { return false }

// EmptyConfig returns a ConfigProvider that always returns defaults.
func EmptyConfig() ConfigProvider { return &emptyConfig{} }
