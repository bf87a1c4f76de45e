package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	unitdomain "github.com/smallbiznis/ziswaf/internal/unit/domain"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) unitdomain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTrx(tx *gorm.DB) unitdomain.Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, unit *unitdomain.Unit) error {
	return r.db.WithContext(ctx).Create(unit).Error
}

func (r *repository) Update(ctx context.Context, unit *unitdomain.Unit) error {
	return r.db.WithContext(ctx).Model(&unitdomain.Unit{}).
		Where("id = ?", unit.ID).
		Updates(map[string]any{
			"name":       unit.Name,
			"rice_price": unit.RicePrice,
			"updated_at": unit.UpdatedAt,
		}).Error
}

func (r *repository) FindByID(ctx context.Context, id snowflake.ID) (*unitdomain.Unit, error) {
	var unit unitdomain.Unit
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&unit).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &unit, nil
}

func (r *repository) List(ctx context.Context) ([]unitdomain.Unit, error) {
	var units []unitdomain.Unit
	if err := r.db.WithContext(ctx).Order("code ASC").Find(&units).Error; err != nil {
		return nil, err
	}
	return units, nil
}
