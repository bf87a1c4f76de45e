package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/ziswaf/internal/allocation"
	"github.com/smallbiznis/ziswaf/internal/fund"
)

const (
	MinEffectiveYear = 2000
	MaxEffectiveYear = 2100
)

var hundred = decimal.NewFromInt(100)

// AllocationRule is the remit/retain/amil split for a fund type, effective
// from the first day of EffectiveYear until a later rule replaces it.
type AllocationRule struct {
	ID            snowflake.ID    `gorm:"primaryKey"`
	FundType      fund.Type       `gorm:"column:fund_type;type:varchar(8);not null;uniqueIndex:ux_allocation_rules_fund_year"`
	EffectiveYear int             `gorm:"column:effective_year;not null;uniqueIndex:ux_allocation_rules_fund_year"`
	RemitPct      decimal.Decimal `gorm:"column:remit_pct;type:numeric(5,2);not null"`
	RetainPct     decimal.Decimal `gorm:"column:retain_pct;type:numeric(5,2);not null"`
	AmilPct       decimal.Decimal `gorm:"column:amil_pct;type:numeric(5,2);not null"`
	CreatedAt     time.Time       `gorm:"not null"`
	UpdatedAt     time.Time       `gorm:"not null"`
}

func (AllocationRule) TableName() string { return "allocation_rules" }

// RuleVersion is a single-row counter bumped in every rule write transaction.
// Resolvers in any process compare it before trusting a cached lookup.
type RuleVersion struct {
	ID        int       `gorm:"primaryKey;autoIncrement:false"`
	Version   int64     `gorm:"not null;default:0"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (RuleVersion) TableName() string { return "allocation_rule_versions" }

func (r *AllocationRule) Validate() error {
	if _, err := fund.ParseType(string(r.FundType)); err != nil {
		return err
	}
	if r.EffectiveYear < MinEffectiveYear || r.EffectiveYear > MaxEffectiveYear {
		return ErrInvalidEffectiveYear
	}
	for _, pct := range []decimal.Decimal{r.RemitPct, r.RetainPct, r.AmilPct} {
		if allocation.ValidatePercentage(pct) != nil {
			return ErrInvalidPercentage
		}
	}
	if !r.RemitPct.Add(r.RetainPct).Equal(hundred) {
		return ErrInvalidSplit
	}
	return nil
}

type ResolutionSource string

const (
	SourceRule    ResolutionSource = "rule"
	SourceDefault ResolutionSource = "default"
)

// Resolution is the split that applies to one fund type on one date.
type Resolution struct {
	FundType      fund.Type
	RemitPct      decimal.Decimal
	RetainPct     decimal.Decimal
	AmilPct       decimal.Decimal
	Source        ResolutionSource
	EffectiveYear int
	RuleID        snowflake.ID
}
