// Package logging builds zap loggers and adapts them to the service Logger.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level enumerates supported logging granularities.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Format enumerates supported output encodings.
type Format string

const (
	FormatStructured Format = "structured"
	FormatConsole    Format = "console"
)

var levels = map[Level]zapcore.Level{
	LevelDebug: zapcore.DebugLevel,
	LevelInfo:  zapcore.InfoLevel,
	LevelWarn:  zapcore.WarnLevel,
	LevelError: zapcore.ErrorLevel,
}

var encodings = map[Format]string{
	FormatStructured: "json",
	FormatConsole:    "console",
}

// Config selects level and format.
type Config struct {
	Level  Level  `mapstructure:"level"`
	Format Format `mapstructure:"format"`
}

// New produces a zap.Logger honoring the requested level and format.
// Empty values default to info and structured.
func New(cfg Config) (*zap.Logger, error) {
	if cfg.Level == "" {
		cfg.Level = LevelInfo
	}
	if cfg.Format == "" {
		cfg.Format = FormatStructured
	}
	level, ok := levels[cfg.Level]
	if !ok {
		return nil, fmt.Errorf("unsupported log level: %s", cfg.Level)
	}
	encoding, ok := encodings[cfg.Format]
	if !ok {
		return nil, fmt.Errorf("unsupported log format: %s", cfg.Format)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.Encoding = encoding
	if cfg.Format == FormatConsole {
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	return zc.Build()
}

// ServiceLogger adapts a zap logger to the key/value Logger used by the
// audit service.
type ServiceLogger struct {
	sugar *zap.SugaredLogger
}

// NewServiceLogger wraps logger. A nil logger discards everything.
func NewServiceLogger(logger *zap.Logger) *ServiceLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ServiceLogger{sugar: logger.Sugar()}
}

func (l *ServiceLogger) Debug(msg string, keyvals ...any) { l.sugar.Debugw(msg, keyvals...) }
func (l *ServiceLogger) Info(msg string, keyvals ...any)  { l.sugar.Infow(msg, keyvals...) }
func (l *ServiceLogger) Warn(msg string, keyvals ...any)  { l.sugar.Warnw(msg, keyvals...) }
func (l *ServiceLogger) Error(msg string, keyvals ...any) { l.sugar.Errorw(msg, keyvals...) }

// Sync flushes buffered entries.
func (l *ServiceLogger) Sync() error { return l.sugar.Sync() }
