package logging

import (
	"sync"
)

var (
	globalLogger Logger
	globalMu     sync.RWMutex
)

// Global returns the process-wide logger. It discards output until SetGlobal
// or Init is called.
func Global() Logger {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l != nil {
		return l
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = Nop()
	}
	return globalLogger
}

// SetGlobal replaces the global logger with the given logger.
func SetGlobal(logger Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = logger
}

// Init builds a logger from config and installs it as the global logger.
func Init(config Config) Logger {
	logger := NewLogger(config)
	SetGlobal(logger)
	return logger
}
