// Package logging builds the zap structured logger shared across the
// relay, grounded on odin-ws-server-3's internal/logging/logging.go.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jonmccon/pocket-parrot-relay/internal/config"
)

// New builds a JSON zap logger at the configured level.
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	level := zap.InfoLevel
	if err := level.Set(cfg.Level); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	zapCfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(level),
		Development: cfg.Development,
		Encoding:    "json",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stack",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	return zapCfg.Build()
}

// Scoped returns a child logger tagged with component, the per-subsystem
// scoping SPEC_FULL.md §4.10 calls for (component=arbiter, component=fanout,
// component=batcher, component=dispatcher, component=lifecycle). Built on
// zap.Logger.With rather than Named so the tag lands as a structured JSON
// field ("component":"arbiter") instead of being concatenated into the
// logger name.
func Scoped(log *zap.Logger, component string) *zap.Logger {
	return log.With(zap.String("component", component))
}
