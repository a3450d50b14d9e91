// Package logger holds the process-wide zap logger.
package logger

import (
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	current     atomic.Pointer[zap.Logger]
	defaultOnce sync.Once
)

// Init builds the global logger. "production" logs JSON to stdout, anything
// else logs colored console output.
func Init(env string) {
	current.Store(build(env))
}

func build(env string) *zap.Logger {
	var cfg zap.Config

	if env == "production" {
		cfg = zap.NewProductionConfig()
		cfg.Encoding = "json"
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.MessageKey = "message"
		cfg.EncoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.OutputPaths = []string{"stdout"}
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	l, err := cfg.Build(zap.AddCaller())
	if err != nil {
		panic(err)
	}
	return l
}

// L returns the global logger, initializing it from APP_ENV on first use.
// Safe for concurrent use.
func L() *zap.Logger {
	if l := current.Load(); l != nil {
		return l
	}
	defaultOnce.Do(func() {
		current.CompareAndSwap(nil, build(os.Getenv("APP_ENV")))
	})
	return current.Load()
}

// Sync flushes buffered entries
func Sync() {
	if l := current.Load(); l != nil {
		_ = l.Sync()
	}
}
