package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/ziswaf/internal/config"
)

const keyImportUnit = "import:unit:%s"

// ImportLimiter throttles spreadsheet imports per unit. A nil limiter
// allows everything.
type ImportLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewImportLimiter(cfg config.Config, client redis.Scripter) *ImportLimiter {
	if client == nil || cfg.RateLimit.ImportRate <= 0 {
		return nil
	}
	burst := cfg.RateLimit.ImportBurst
	if burst <= 0 {
		burst = 1
	}
	return &ImportLimiter{
		bucket: NewTokenBucket(client),
		rate:   cfg.RateLimit.ImportRate,
		burst:  burst,
	}
}

func (l *ImportLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *ImportLimiter) AllowUnit(ctx context.Context, unitID string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyImportUnit, strings.TrimSpace(unitID)), l.rate, l.burst)
}
