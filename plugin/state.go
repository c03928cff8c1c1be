package plugin

// PluginState represents the lifecycle state of a plugin.
type PluginState int

const (
	StateRegistered PluginState = iota // registered, not yet processed
	StateInstalled                     // Install succeeded or not needed
	StateEnabled                       // Enable succeeded, subscriptions live
	StateDisabled                      // Disable ran during shutdown
	StateFailed                        // Install or Enable failed, or a dependency did
)

var stateNames = map[PluginState]string{
	StateRegistered: "registered",
	StateInstalled:  "installed",
	StateEnabled:    "enabled",
	StateDisabled:   "disabled",
	StateFailed:     "failed",
}

// String returns a human-readable state name.
func (s PluginState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText renders the state by name in JSON and logs.
func (s PluginState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// IsTerminal returns true if the state cannot transition further in normal flow.
func (s PluginState) IsTerminal() bool {
	return s == StateFailed || s == StateDisabled
}
