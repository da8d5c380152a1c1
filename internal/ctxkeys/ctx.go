package ctxkeys

import (
	"context"

	"github.com/stitchdesk/stitchdesk/internal/config"
	"github.com/stitchdesk/stitchdesk/internal/model"
)

// contextKey is a type for context keys to avoid collisions
type contextKey string

const (
	CallerKey contextKey = "caller"
	ConfigKey contextKey = "config"
)

// Caller returns the request's caller, or the guest identity when the
// session middleware attached none.
func Caller(ctx context.Context) *model.Caller {
	caller, _ := ctx.Value(CallerKey).(*model.Caller)
	if caller == nil {
		return model.Guest()
	}
	return caller
}

func WithCaller(ctx context.Context, caller *model.Caller) context.Context {
	return context.WithValue(ctx, CallerKey, caller)
}

func Config(ctx context.Context) *config.Config {
	cfg, _ := ctx.Value(ConfigKey).(*config.Config)
	return cfg
}

func WithConfig(ctx context.Context, cfg *config.Config) context.Context {
	return context.WithValue(ctx, ConfigKey, cfg)
}
