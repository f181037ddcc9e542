// Package log wraps zap with context-aware logging functions.
//
// All logging goes through the package-level functions (Debug, Info, Warn,
// Error) which accept a context.Context so that registered hooks can attach
// request-scoped fields (trace id, operation name) to every entry.
package log

import (
	"context"
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	// Name is the logger name, attached to every entry.
	Name string `conf:"name" yaml:"name" json:"name"`
	// Level is one of debug, info, warn, error.
	Level string `conf:"level" yaml:"level" json:"level"`
	// Format is json or console.
	Format string `conf:"format" yaml:"format" json:"format"`
	// Output is stdout, stderr or a file path.
	Output string `conf:"output" yaml:"output" json:"output"`

	// File rotation, effective only when Output is a file path.
	MaxSizeMB  int  `conf:"max_size_mb" yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int  `conf:"max_backups" yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int  `conf:"max_age_days" yaml:"max_age_days" json:"max_age_days"`
	Compress   bool `conf:"compress" yaml:"compress" json:"compress"`
}

type Logger struct {
	zl    *zap.Logger
	level zap.AtomicLevel
	hooks []Hook
}

var global atomic.Pointer[Logger]

// loadGlobal returns the current logger, constructing the default one on first
// use. RegisterHook runs from package init, before any Setup call, so the
// global must never be assumed populated.
func loadGlobal() *Logger {
	if logger := global.Load(); logger != nil {
		return logger
	}

	logger := newLogger(Config{Name: "campushub", Level: "info", Format: "console", Output: "stderr"})
	if global.CompareAndSwap(nil, logger) {
		return logger
	}

	return global.Load()
}

// Setup replaces the global logger with one built from cfg.
// Registered hooks are preserved.
func Setup(cfg Config) {
	prev := loadGlobal()
	logger := newLogger(cfg)
	logger.hooks = prev.hooks
	global.Store(logger)
}

// RegisterHook appends a hook applied to every subsequent log entry.
func RegisterHook(hook Hook) {
	logger := loadGlobal()
	next := &Logger{
		zl:    logger.zl,
		level: logger.level,
		hooks: append(append([]Hook{}, logger.hooks...), hook),
	}
	global.Store(next)
}

func newLogger(cfg Config) *Logger {
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	if cfg.Level != "" {
		if parsed, err := zapcore.ParseLevel(cfg.Level); err == nil {
			level.SetLevel(parsed)
		}
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	var encoder zapcore.Encoder
	if cfg.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	var writer zapcore.WriteSyncer

	switch cfg.Output {
	case "", "stdout":
		writer = zapcore.AddSync(os.Stdout)
	case "stderr":
		writer = zapcore.AddSync(os.Stderr)
	default:
		writer = zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.Output,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		})
	}

	zl := zap.New(zapcore.NewCore(encoder, writer, level), zap.AddCaller(), zap.AddCallerSkip(2))
	if cfg.Name != "" {
		zl = zl.Named(cfg.Name)
	}

	return &Logger{zl: zl, level: level}
}

// DebugEnabled reports whether debug entries are emitted.
func DebugEnabled() bool {
	return loadGlobal().level.Enabled(zap.DebugLevel)
}

func Debug(ctx context.Context, msg string, fields ...Field) {
	loadGlobal().log(ctx, zap.DebugLevel, msg, fields)
}

func Info(ctx context.Context, msg string, fields ...Field) {
	loadGlobal().log(ctx, zap.InfoLevel, msg, fields)
}

func Warn(ctx context.Context, msg string, fields ...Field) {
	loadGlobal().log(ctx, zap.WarnLevel, msg, fields)
}

func Error(ctx context.Context, msg string, fields ...Field) {
	loadGlobal().log(ctx, zap.ErrorLevel, msg, fields)
}

func (l *Logger) log(ctx context.Context, level zapcore.Level, msg string, fields []Field) {
	if !l.level.Enabled(level) {
		return
	}

	for _, hook := range l.hooks {
		fields = append(fields, hook.Apply(ctx, msg)...)
	}

	if ce := l.zl.Check(level, msg); ce != nil {
		ce.Write(fields...)
	}
}
