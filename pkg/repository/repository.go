package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ziswaf/pkg/db/option"
	"gorm.io/gorm"
)

// Repository is a generic gorm store for soft-deletable source records.
type Repository[T any] interface {
	WithTrx(tx *gorm.DB) Repository[T]
	Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
	// FindByID returns nil, nil when the row does not exist. Soft-deleted
	// rows are only returned when withDeleted is set.
	FindByID(ctx context.Context, id snowflake.ID, withDeleted bool) (*T, error)
	Create(ctx context.Context, resource *T) error
	Save(ctx context.Context, resource *T) error
	SoftDelete(ctx context.Context, id snowflake.ID) error
	Restore(ctx context.Context, id snowflake.ID) error
	ForceDelete(ctx context.Context, id snowflake.ID) error
	Count(ctx context.Context, query *T) (int64, error)
	BatchCreate(ctx context.Context, resources []*T) error
}
