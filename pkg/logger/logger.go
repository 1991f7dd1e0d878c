// Package logger provides the process-wide structured logger used by every
// other package in this module. It wraps a zap.SugaredLogger behind
// package-level functions so call sites never need to thread a logger
// through constructors or pass nil checks around.
package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu    sync.RWMutex
	sugar = newDefault()
)

func newDefault() *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// Fall back to a minimal logger rather than panicking; logging must
		// never be the reason a process fails to start.
		l = zap.NewNop()
	}
	return l.Sugar()
}

// SetLevel adjusts the minimum level logged. Accepts "debug", "info",
// "warn", "error"; unrecognized values are treated as "info".
func SetLevel(level string) {
	var zl zapcore.Level
	if err := zl.UnmarshalText([]byte(level)); err != nil {
		zl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return
	}
	mu.Lock()
	sugar = l.Sugar()
	mu.Unlock()
}

// SetForTesting installs a logger that writes nowhere, so test output stays
// quiet; call from TestMain if a package's tests are noisy.
func SetForTesting() {
	mu.Lock()
	sugar = zap.NewNop().Sugar()
	mu.Unlock()
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

// With returns a component-scoped logger carrying the given key/value pairs
// on every subsequent call, e.g. logger.With("source", "auth:service").
func With(args ...any) *zap.SugaredLogger {
	return current().With(args...)
}

// Debug logs at debug level.
func Debug(args ...any) { current().Debug(args...) }

// Debugf logs a formatted message at debug level.
func Debugf(template string, args ...any) { current().Debugf(template, args...) }

// Info logs at info level.
func Info(args ...any) { current().Info(args...) }

// Infof logs a formatted message at info level.
func Infof(template string, args ...any) { current().Infof(template, args...) }

// Warn logs at warn level.
func Warn(args ...any) { current().Warn(args...) }

// Warnf logs a formatted message at warn level.
func Warnf(template string, args ...any) { current().Warnf(template, args...) }

// Error logs at error level.
func Error(args ...any) { current().Error(args...) }

// Errorf logs a formatted message at error level.
func Errorf(template string, args ...any) { current().Errorf(template, args...) }

// Sync flushes any buffered log entries. Call during graceful shutdown.
func Sync() error {
	err := current().Sync()
	// Syncing stderr/stdout reliably returns ENOTTY-style errors on some
	// platforms; that's not a real failure.
	if err != nil && isIgnorableSyncErr(err) {
		return nil
	}
	return err
}

func isIgnorableSyncErr(err error) bool {
	return err.Error() == "sync /dev/stderr: invalid argument" ||
		err.Error() == "sync /dev/stdout: invalid argument"
}

func init() {
	if os.Getenv("OBO_CORE_LOG_LEVEL") != "" {
		SetLevel(os.Getenv("OBO_CORE_LOG_LEVEL"))
	}
}
