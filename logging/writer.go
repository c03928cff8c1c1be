package logging

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// levelWriter writes one level's entries to Director/<date>/<level>.log,
// rotated by lumberjack. A new file set is opened when the date changes.
type levelWriter struct {
	config Config
	level  string

	mu      sync.Mutex
	date    string
	current *lumberjack.Logger
}

func newLevelWriter(config Config, level string) *levelWriter {
	return &levelWriter{
		config: config,
		level:  level,
	}
}

// Write implements io.Writer.
func (w *levelWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writerFor(time.Now().Format("2006-01-02")).Write(p)
}

// Sync implements zapcore.WriteSyncer. lumberjack flushes on every write.
func (w *levelWriter) Sync() error {
	return nil
}

// writerFor must be called with w.mu held.
func (w *levelWriter) writerFor(date string) *lumberjack.Logger {
	if w.current != nil && w.date == date {
		return w.current
	}
	if w.current != nil {
		_ = w.current.Close()
	}

	dirPath := filepath.Join(w.config.Director, date)
	if err := os.MkdirAll(dirPath, 0o755); err != nil {
		dirPath = w.config.Director
		_ = os.MkdirAll(dirPath, 0o755)
	}

	w.date = date
	w.current = &lumberjack.Logger{
		Filename:   filepath.Join(dirPath, w.level+".log"),
		MaxSize:    w.config.MaxSize,
		MaxBackups: w.config.MaxBackups,
		MaxAge:     w.config.MaxAge,
		Compress:   w.config.Compress,
		LocalTime:  true,
	}
	return w.current
}

// Close closes the open file, if any.
func (w *levelWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return nil
	}
	err := w.current.Close()
	w.current = nil
	w.date = ""
	return err
}

var (
	writerRegistry   []*levelWriter
	writerRegistryMu sync.Mutex
)

// CloseAllWriters closes every file writer opened by NewLogger.
func CloseAllWriters() error {
	writerRegistryMu.Lock()
	defer writerRegistryMu.Unlock()

	var lastErr error
	for _, w := range writerRegistry {
		if err := w.Close(); err != nil {
			lastErr = err
		}
	}
	writerRegistry = nil
	return lastErr
}

// getWriteSyncer builds the sink for one level: the rotated file, stdout, both
// or neither, depending on the config.
func getWriteSyncer(config Config, level string) zapcore.WriteSyncer {
	syncers := make([]zapcore.WriteSyncer, 0, 2)
	if config.LogInTerminal {
		syncers = append(syncers, zapcore.AddSync(os.Stdout))
	}
	if !config.DisableFiles {
		fileWriter := newLevelWriter(config, level)
		writerRegistryMu.Lock()
		writerRegistry = append(writerRegistry, fileWriter)
		writerRegistryMu.Unlock()
		syncers = append(syncers, fileWriter)
	}
	if len(syncers) == 0 {
		return zapcore.AddSync(io.Discard)
	}
	return zapcore.NewMultiWriteSyncer(syncers...)
}

var _ io.WriteCloser = (*levelWriter)(nil)
