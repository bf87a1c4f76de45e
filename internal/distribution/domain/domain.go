package domain

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/ziswaf/internal/events"
	"github.com/smallbiznis/ziswaf/internal/fund"
	"gorm.io/gorm"
)

var (
	ErrInvalidID      = errors.New("invalid_id")
	ErrInvalidUnit    = errors.New("invalid_unit")
	ErrUnitNotFound   = errors.New("unit_not_found")
	ErrInvalidDate    = errors.New("invalid_date")
	ErrInvalidProgram = errors.New("invalid_program")
	ErrInvalidAmount  = errors.New("invalid_amount")
	ErrInvalidRice    = errors.New("invalid_rice_quantity")
	ErrInvalidCount   = errors.New("invalid_beneficiary_count")
	ErrEmptyEvent     = errors.New("empty_distribution")
	ErrNotFound       = errors.New("not_found")
)

// DistributionEvent is a payout to beneficiaries of one asnaf under a program.
type DistributionEvent struct {
	ID               snowflake.ID    `gorm:"primaryKey"`
	UnitID           snowflake.ID    `gorm:"column:unit_id;not null;index:ix_distributions_unit_date,priority:1"`
	TrxDate          time.Time       `gorm:"column:trx_date;type:date;not null;index:ix_distributions_unit_date,priority:2"`
	Asnaf            fund.Asnaf      `gorm:"type:varchar(32);not null"`
	Program          string          `gorm:"type:varchar(128);not null"`
	FundType         fund.Type       `gorm:"column:fund_type;type:varchar(8);not null"`
	Amount           decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0"`
	RiceKg           decimal.Decimal `gorm:"column:rice_kg;type:numeric(20,3);not null;default:0"`
	BeneficiaryCount int             `gorm:"column:beneficiary_count;not null;default:0"`
	Description      *string         `gorm:"type:text"`
	CreatedAt        time.Time       `gorm:"not null"`
	UpdatedAt        time.Time       `gorm:"not null"`
	DeletedAt        gorm.DeletedAt  `gorm:"index"`
}

func (DistributionEvent) TableName() string { return "distributions" }

func (d *DistributionEvent) GetID() snowflake.ID { return d.ID }

func (d *DistributionEvent) IsDeleted() bool { return d.DeletedAt.Valid }

func (d *DistributionEvent) Snapshot() *events.Snapshot {
	return &events.Snapshot{
		UnitID: d.UnitID,
		Date:   d.TrxDate,
		Values: map[string]string{
			"asnaf":             string(d.Asnaf),
			"program":           d.Program,
			"fund_type":         string(d.FundType),
			"amount":            d.Amount.StringFixed(2),
			"rice_kg":           d.RiceKg.StringFixed(3),
			"beneficiary_count": strconv.Itoa(d.BeneficiaryCount),
		},
	}
}

func (d *DistributionEvent) Validate() error {
	if d.UnitID == 0 {
		return ErrInvalidUnit
	}
	if d.TrxDate.IsZero() {
		return ErrInvalidDate
	}
	if _, err := fund.ParseAsnaf(string(d.Asnaf)); err != nil {
		return err
	}
	if _, err := fund.ParseType(string(d.FundType)); err != nil {
		return err
	}
	if strings.TrimSpace(d.Program) == "" {
		return ErrInvalidProgram
	}
	if d.Amount.IsNegative() {
		return ErrInvalidAmount
	}
	if d.RiceKg.IsNegative() || (!d.RiceKg.IsZero() && d.FundType != fund.TypeZF) {
		return ErrInvalidRice
	}
	if d.BeneficiaryCount < 0 {
		return ErrInvalidCount
	}
	if d.Amount.IsZero() && d.RiceKg.IsZero() {
		return ErrEmptyEvent
	}
	return nil
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Response, error)
	Update(ctx context.Context, req UpdateRequest) (*Response, error)
	Delete(ctx context.Context, id string) error
	Restore(ctx context.Context, id string) (*Response, error)
	ForceDelete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*Response, error)
}

type CreateRequest struct {
	UnitID           string          `json:"unit_id"`
	TrxDate          string          `json:"trx_date"`
	Asnaf            string          `json:"asnaf"`
	Program          string          `json:"program"`
	FundType         string          `json:"fund_type"`
	Amount           decimal.Decimal `json:"amount"`
	RiceKg           decimal.Decimal `json:"rice_kg"`
	BeneficiaryCount int             `json:"beneficiary_count"`
	Description      *string         `json:"description,omitempty"`
}

type UpdateRequest struct {
	ID               string           `json:"id"`
	UnitID           *string          `json:"unit_id,omitempty"`
	TrxDate          *string          `json:"trx_date,omitempty"`
	Asnaf            *string          `json:"asnaf,omitempty"`
	Program          *string          `json:"program,omitempty"`
	FundType         *string          `json:"fund_type,omitempty"`
	Amount           *decimal.Decimal `json:"amount,omitempty"`
	RiceKg           *decimal.Decimal `json:"rice_kg,omitempty"`
	BeneficiaryCount *int             `json:"beneficiary_count,omitempty"`
	Description      *string          `json:"description,omitempty"`
}

type Response struct {
	ID               string          `json:"id"`
	UnitID           string          `json:"unit_id"`
	TrxDate          string          `json:"trx_date"`
	Asnaf            string          `json:"asnaf"`
	Program          string          `json:"program"`
	FundType         string          `json:"fund_type"`
	Amount           decimal.Decimal `json:"amount"`
	RiceKg           decimal.Decimal `json:"rice_kg"`
	BeneficiaryCount int             `json:"beneficiary_count"`
	Description      *string         `json:"description,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}
