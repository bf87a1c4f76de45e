package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/ziswaf/internal/fund"
)

// Resolver picks the rule in force for a fund type on a date.
type Resolver interface {
	// Resolve returns the full split. With no rule it falls back to the
	// default split and the configured default amil percentage, and fails
	// with ErrConfigurationMissing when that percentage is not configured.
	Resolve(ctx context.Context, fundType fund.Type, date time.Time) (Resolution, error)
	// ResolveSplit is Resolve without the amil requirement.
	ResolveSplit(ctx context.Context, fundType fund.Type, date time.Time) (Resolution, error)
	Invalidate()
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Response, error)
	Update(ctx context.Context, req UpdateRequest) (*Response, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*Response, error)
	List(ctx context.Context, req ListRequest) ([]Response, error)
}

type ListRequest struct {
	FundType string `form:"fund_type"`
	Year     int    `form:"year"`
}

type CreateRequest struct {
	FundType      string          `json:"fund_type"`
	EffectiveYear int             `json:"effective_year"`
	RemitPct      decimal.Decimal `json:"remit_pct"`
	RetainPct     decimal.Decimal `json:"retain_pct"`
	AmilPct       decimal.Decimal `json:"amil_pct"`
}

type UpdateRequest struct {
	ID            string           `json:"id"`
	EffectiveYear *int             `json:"effective_year,omitempty"`
	RemitPct      *decimal.Decimal `json:"remit_pct,omitempty"`
	RetainPct     *decimal.Decimal `json:"retain_pct,omitempty"`
	AmilPct       *decimal.Decimal `json:"amil_pct,omitempty"`
}

type Response struct {
	ID            string          `json:"id"`
	FundType      string          `json:"fund_type"`
	EffectiveYear int             `json:"effective_year"`
	RemitPct      decimal.Decimal `json:"remit_pct"`
	RetainPct     decimal.Decimal `json:"retain_pct"`
	AmilPct       decimal.Decimal `json:"amil_pct"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type ResolveResponse struct {
	FundType      string          `json:"fund_type"`
	Date          string          `json:"date"`
	RemitPct      decimal.Decimal `json:"remit_pct"`
	RetainPct     decimal.Decimal `json:"retain_pct"`
	AmilPct       decimal.Decimal `json:"amil_pct"`
	Source        string          `json:"source"`
	EffectiveYear int             `json:"effective_year,omitempty"`
}
