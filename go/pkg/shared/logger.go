package shared

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a thin wrapper to allow DI/testing.
type Logger interface {
	Printf(string, ...any)
	Warnf(string, ...any)
	Fatalf(string, ...any)
	With(keysAndValues ...any) Logger
	Sync() error
}

type zapLogger struct{ *zap.SugaredLogger }

func (l zapLogger) Printf(format string, args ...any) { l.Infof(format, args...) }

func (l zapLogger) With(keysAndValues ...any) Logger {
	return zapLogger{l.SugaredLogger.With(keysAndValues...)}
}

// NewLogger returns a zap-backed logger named after the component.
func NewLogger(prefix string) Logger {
	return NewLoggerWith(prefix, LogConfig{Level: "info", Format: "json"})
}

// NewLoggerWith honours LOG_LEVEL and LOG_FORMAT.
func NewLoggerWith(prefix string, cfg LogConfig) Logger {
	level := zapcore.InfoLevel
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}
	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zl, err := zc.Build()
	if err != nil {
		zl = zap.NewExample()
	}
	return zapLogger{zl.Named(prefix).Sugar()}
}

// NopLogger discards everything; used by tests.
func NopLogger() Logger {
	return zapLogger{zap.NewNop().Sugar()}
}
