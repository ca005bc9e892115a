package utils

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a thin key/value logger over zap.
type Logger struct {
	l *zap.SugaredLogger
}

// NewLogger builds a production JSON logger at the given level ("debug",
// "info", "warn", "error"). Unknown levels fall back to info.
func NewLogger(level ...string) *Logger {
	cfg := zap.NewProductionConfig()
	if len(level) > 0 {
		if lvl, err := zapcore.ParseLevel(level[0]); err == nil {
			cfg.Level = zap.NewAtomicLevelAt(lvl)
		}
	}
	z, err := cfg.Build()
	if err != nil {
		z = zap.NewNop()
	}
	return &Logger{l: z.Sugar()}
}

// NewLoggerFromCore wraps an existing core (used by tests to observe output).
func NewLoggerFromCore(core zapcore.Core) *Logger {
	return &Logger{l: zap.New(core).Sugar()}
}

func NopLogger() *Logger { return &Logger{l: zap.NewNop().Sugar()} }

func (lg *Logger) Debug(msg string, kv ...any) { lg.l.Debugw(msg, kv...) }
func (lg *Logger) Info(msg string, kv ...any)  { lg.l.Infow(msg, kv...) }
func (lg *Logger) Warn(msg string, kv ...any)  { lg.l.Warnw(msg, kv...) }
func (lg *Logger) Error(msg string, kv ...any) { lg.l.Errorw(msg, kv...) }

// With returns a logger that adds kv to every entry.
func (lg *Logger) With(kv ...any) *Logger { return &Logger{l: lg.l.With(kv...)} }

func (lg *Logger) Sync() { _ = lg.l.Sync() }
