package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	WithTrx(tx *gorm.DB) Repository
	Create(ctx context.Context, rule *AllocationRule) error
	Update(ctx context.Context, rule *AllocationRule) error
	Delete(ctx context.Context, id snowflake.ID) error
	FindByID(ctx context.Context, id snowflake.ID) (*AllocationRule, error)
	// FindLatest returns the rule with the greatest effective year not after
	// year, or nil when none exists.
	FindLatest(ctx context.Context, fundType string, year int) (*AllocationRule, error)
	List(ctx context.Context, filter ListRequest) ([]AllocationRule, error)
	// BumpVersion increments the shared rule version. Call it inside the
	// transaction that writes the rule.
	BumpVersion(ctx context.Context, at time.Time) error
	// Version returns the shared rule version, 0 before the first write.
	Version(ctx context.Context) (int64, error)
}
