package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrInvalidID        = errors.New("invalid_id")
	ErrInvalidName      = errors.New("invalid_name")
	ErrInvalidCode      = errors.New("invalid_code")
	ErrInvalidRicePrice = errors.New("invalid_rice_price")
	ErrDuplicateCode    = errors.New("duplicate_code")
	ErrNotFound         = errors.New("not_found")
)

// Unit is a collection unit (UPZ). Every transaction and recap belongs to one.
type Unit struct {
	ID        snowflake.ID    `gorm:"primaryKey"`
	Code      string          `gorm:"type:varchar(64);not null;uniqueIndex:ux_units_code"`
	Name      string          `gorm:"type:text;not null"`
	RicePrice decimal.Decimal `gorm:"column:rice_price;type:numeric(20,2);not null;default:0"`
	CreatedAt time.Time       `gorm:"not null"`
	UpdatedAt time.Time       `gorm:"not null"`
}

func (Unit) TableName() string { return "units" }

type Repository interface {
	WithTrx(tx *gorm.DB) Repository
	Create(ctx context.Context, unit *Unit) error
	Update(ctx context.Context, unit *Unit) error
	FindByID(ctx context.Context, id snowflake.ID) (*Unit, error)
	List(ctx context.Context) ([]Unit, error)
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Response, error)
	Update(ctx context.Context, req UpdateRequest) (*Response, error)
	Get(ctx context.Context, id string) (*Response, error)
	List(ctx context.Context) ([]Response, error)
}

type CreateRequest struct {
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	RicePrice decimal.Decimal `json:"rice_price"`
}

type UpdateRequest struct {
	ID        string           `json:"id"`
	Name      *string          `json:"name,omitempty"`
	RicePrice *decimal.Decimal `json:"rice_price,omitempty"`
}

type Response struct {
	ID        string          `json:"id"`
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	RicePrice decimal.Decimal `json:"rice_price"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}
