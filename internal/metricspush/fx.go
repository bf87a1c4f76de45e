package metricspush

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/ziswaf/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("metrics.push",
	fx.Provide(NewPusher),
	fx.Invoke(startLoop),
)

func startLoop(lc fx.Lifecycle, cfg config.Config, pusher Pusher, db *gorm.DB, log *zap.Logger) error {
	if pusher == nil {
		return nil
	}
	log = log.Named("metrics.push")

	backlog, err := NewBacklog(db, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}

	interval := cfg.MetricsPush.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Info("metrics push started", zap.String("exporter", cfg.MetricsPush.Exporter), zap.Duration("interval", interval))
			go func() {
				defer close(done)
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					pushOnce(ctx, pusher, backlog, log)
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
					}
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			// Flush the final counters.
			flushCtx, flushCancel := context.WithTimeout(stopCtx, defaultPushTimeout)
			defer flushCancel()
			if err := pusher.Push(flushCtx, prometheus.DefaultGatherer); err != nil {
				log.Warn("final metrics push failed", zap.Error(err))
			}
			return nil
		},
	})
	return nil
}

func pushOnce(ctx context.Context, pusher Pusher, backlog *Backlog, log *zap.Logger) {
	pushCtx, cancel := context.WithTimeout(ctx, defaultPushTimeout)
	defer cancel()

	if err := backlog.Refresh(pushCtx); err != nil {
		log.Warn("recompute backlog refresh failed", zap.Error(err))
	}
	if err := pusher.Push(pushCtx, prometheus.DefaultGatherer); err != nil {
		log.Warn("metrics push failed", zap.Error(err))
	}
}
