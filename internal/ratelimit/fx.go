package ratelimit

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/ziswaf/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("rate.limit",
	fx.Provide(provideImportLimiter),
)

func provideImportLimiter(lc fx.Lifecycle, cfg config.Config) *ImportLimiter {
	if !cfg.Redis.Enabled() || cfg.RateLimit.ImportRate <= 0 {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return NewImportLimiter(cfg, client)
}
