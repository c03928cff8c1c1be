package config

import (
	"os"
	"strings"
)

// ModeEnvKey selects which environment specific files are loaded.
const ModeEnvKey = "GO_ENV_MODE"

type Mode string

const (
	DevMode  Mode = "development"
	ProMode  Mode = "production"
	TestMode Mode = "test"
)

// ParseMode accepts the usual short forms. Unknown values mean development.
func ParseMode(env string) Mode {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "production", "prod", "pro":
		return ProMode
	case "test", "testing":
		return TestMode
	default:
		return DevMode
	}
}

// CurrentMode reads GO_ENV_MODE.
func CurrentMode() Mode {
	return ParseMode(os.Getenv(ModeEnvKey))
}

// aliases lists the file suffixes each mode loads, in merge order.
func (m Mode) aliases() []string {
	switch m {
	case ProMode:
		return []string{"production", "prod", "pro"}
	case TestMode:
		return []string{"test"}
	default:
		return []string{"development", "dev"}
	}
}
