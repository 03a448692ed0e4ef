// Package xlog provides the gateway's structured logger: a thin wrapper
// around zap that mirrors the per-component named-logger pattern used
// throughout the reference corpus (e.g. plugin/evm's chain-scoped
// loggers), with a JSON encoder in production and a human-readable
// console encoder in development.
package xlog

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu   sync.RWMutex
	base *zap.SugaredLogger
)

func init() {
	base = newLogger(false)
}

func newLogger(development bool) *zap.SugaredLogger {
	var encoder zapcore.Encoder
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	if development {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(cfg)
		level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	}
	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), level)
	return zap.New(core, zap.AddCaller()).Sugar()
}

// SetDevelopment switches the base logger between JSON (production) and
// console (development) encoding. Safe to call concurrently with Named.
func SetDevelopment(development bool) {
	mu.Lock()
	defer mu.Unlock()
	base = newLogger(development)
}

// Named returns a logger scoped to the given component name, e.g.
// xlog.Named("scanner").
func Named(name string) *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return base.Named(name)
}
