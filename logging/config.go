package logging

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

// Config represents the logger configuration.
type Config struct {
	// Director is the directory where per-level log files are written.
	Director string `mapstructure:"director" json:"director" yaml:"director" default:"logs"`

	// Level is the minimum log level (debug, info, warn, error).
	Level string `mapstructure:"level" json:"level" yaml:"level" default:"info" validate:"omitempty,oneof=debug info warn error dpanic panic fatal"`

	// Format is the log format (json or console).
	Format string `mapstructure:"format" json:"format" yaml:"format" default:"json" validate:"omitempty,oneof=json console"`

	// Prefix is prepended to every timestamp.
	Prefix string `mapstructure:"prefix" json:"prefix" yaml:"prefix"`

	// TimeFormat is a Go time layout.
	TimeFormat string `mapstructure:"time-format" json:"timeFormat" yaml:"time-format" default:"2006/01/02 - 15:04:05"`

	// LogInTerminal tees every entry to stdout as well as the level file.
	LogInTerminal bool `mapstructure:"log-in-terminal" json:"logInTerminal" yaml:"log-in-terminal" default:"true"`

	// DisableFiles skips the lumberjack writers entirely.
	DisableFiles bool `mapstructure:"disable-files" json:"disableFiles" yaml:"disable-files"`

	MaxAge     int  `mapstructure:"max-age" json:"maxAge" yaml:"max-age" default:"7"`
	MaxSize    int  `mapstructure:"max-size" json:"maxSize" yaml:"max-size" default:"100"`
	MaxBackups int  `mapstructure:"max-backups" json:"maxBackups" yaml:"max-backups" default:"10"`
	Compress   bool `mapstructure:"compress" json:"compress" yaml:"compress" default:"true"`

	// ShowLineNumber enables adding caller information to log entries.
	ShowLineNumber bool `mapstructure:"show-line-number" json:"showLineNumber" yaml:"show-line-number" default:"true"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Director:       "logs",
		Level:          "info",
		Format:         "json",
		TimeFormat:     "2006/01/02 - 15:04:05",
		LogInTerminal:  true,
		MaxAge:         7,
		MaxSize:        100,
		MaxBackups:     10,
		Compress:       true,
		ShowLineNumber: true,
	}
}

// TransportLevel converts the string level to zapcore.Level.
func (c Config) TransportLevel() zapcore.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "dpanic":
		return zapcore.DPanicLevel
	case "panic":
		return zapcore.PanicLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.DebugLevel
	}
}

func (c *Config) applyDefaults() {
	defaults := DefaultConfig()

	if c.TimeFormat == "" {
		c.TimeFormat = defaults.TimeFormat
	}
	if c.MaxBackups == 0 {
		c.MaxBackups = defaults.MaxBackups
	}
	if c.MaxSize == 0 {
		c.MaxSize = defaults.MaxSize
	}
	if c.MaxAge == 0 {
		c.MaxAge = defaults.MaxAge
	}
	if c.Format == "" {
		c.Format = defaults.Format
	}
	if c.Director == "" {
		c.Director = defaults.Director
	}
}
