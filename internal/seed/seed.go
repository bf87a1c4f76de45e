package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	unitdomain "github.com/smallbiznis/ziswaf/internal/unit/domain"
	"gorm.io/gorm"
)

const (
	defaultUnitCode      = "pusat"
	defaultUnitName      = "UPZ Pusat"
	defaultUnitRicePrice = 15000
)

// EnsureDefaultUnit seeds one collection unit for local environments. It is
// a no-op once any unit exists.
func EnsureDefaultUnit(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := ensureDefaultUnitTx(ctx, tx, node)
		return err
	})
}

func ensureDefaultUnitTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node) (unitdomain.Unit, error) {
	var unit unitdomain.Unit
	err := tx.WithContext(ctx).Order("id ASC").Take(&unit).Error
	if err == nil {
		return unit, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return unitdomain.Unit{}, err
	}

	now := time.Now().UTC()
	unit = unitdomain.Unit{
		ID:        node.Generate(),
		Code:      defaultUnitCode,
		Name:      defaultUnitName,
		RicePrice: decimal.NewFromInt(defaultUnitRicePrice),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.WithContext(ctx).Create(&unit).Error; err != nil {
		return unitdomain.Unit{}, err
	}
	return unit, nil
}
