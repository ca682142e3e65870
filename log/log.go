// Package log provides a context-carried structured logger.
package log

import (
	"context"
	"log/slog"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
)

func zapConfig() zap.Config {
	if os.Getenv("RINGHUB_ENV") == "production" {
		cfg := zap.NewProductionConfig()
		cfg.DisableStacktrace = true
		return cfg
	}
	return zap.NewDevelopmentConfig()
}

func NewHandler(name string) slog.Handler {
	logger, err := zapConfig().Build(zap.AddCallerSkip(1))
	if err != nil {
		logger = zap.NewNop()
	}
	if name != "" {
		logger = logger.Named(name)
	}
	return zapslog.NewHandler(logger.Core(), zapslog.WithCaller(true))
}

func New(name string) *slog.Logger {
	return slog.New(NewHandler(name))
}

func NewContext(ctx context.Context, name string) context.Context {
	return IntoContext(ctx, New(name))
}

type ctxKey struct{}

// IntoContext adds a logger to a context. Use FromContext to
// pull the logger out.
func IntoContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns a logger from a context.Context; if the passed
// context is nil, we return the default slog logger.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		v := ctx.Value(ctxKey{})
		if v == nil {
			return slog.Default()
		}
		return v.(*slog.Logger)
	}

	return slog.Default()
}

// SubLogger derives a new logger from an existing one by naming it as a
// child component of base.
func SubLogger(base *slog.Logger, suffix string) *slog.Logger {
	return base.With("component", suffix)
}
