package domain

import (
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/ziswaf/internal/events"
	"github.com/smallbiznis/ziswaf/internal/fund"
	"gorm.io/gorm"
)

const (
	MoneyScale int32 = 2
	RiceScale  int32 = 3
)

// FundTransaction is one collected payment. Kind decides which quantity
// fields are meaningful: rice for zf and fidyah, animals for kurban.
type FundTransaction struct {
	ID              snowflake.ID    `gorm:"primaryKey"`
	UnitID          snowflake.ID    `gorm:"column:unit_id;not null;index:ix_fund_transactions_unit_date,priority:1"`
	Kind            fund.Kind       `gorm:"type:varchar(16);not null"`
	TrxDate         time.Time       `gorm:"column:trx_date;type:date;not null;index:ix_fund_transactions_unit_date,priority:2"`
	Amount          decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0"`
	RiceKg          decimal.Decimal `gorm:"column:rice_kg;type:numeric(20,3);not null;default:0"`
	SoulCount       int             `gorm:"column:soul_count;not null;default:0"`
	AnimalCount     int             `gorm:"column:animal_count;not null;default:0"`
	ContributorName string          `gorm:"column:contributor_name;type:text"`
	Description     *string         `gorm:"type:text"`
	ImportBatchID   *string         `gorm:"column:import_batch_id;type:varchar(26);index"`
	CreatedAt       time.Time       `gorm:"not null"`
	UpdatedAt       time.Time       `gorm:"not null"`
	DeletedAt       gorm.DeletedAt  `gorm:"index"`
}

func (FundTransaction) TableName() string { return "fund_transactions" }

func (t *FundTransaction) GetID() snowflake.ID { return t.ID }

func (t *FundTransaction) IsDeleted() bool { return t.DeletedAt.Valid }

// Snapshot leaves out the contributor name, description and batch id.
func (t *FundTransaction) Snapshot() *events.Snapshot {
	return &events.Snapshot{
		UnitID: t.UnitID,
		Date:   t.TrxDate,
		Values: map[string]string{
			"kind":         string(t.Kind),
			"amount":       t.Amount.StringFixed(MoneyScale),
			"rice_kg":      t.RiceKg.StringFixed(RiceScale),
			"soul_count":   strconv.Itoa(t.SoulCount),
			"animal_count": strconv.Itoa(t.AnimalCount),
		},
	}
}

func (t *FundTransaction) Validate() error {
	if t.UnitID == 0 {
		return ErrInvalidUnit
	}
	if _, err := fund.ParseKind(string(t.Kind)); err != nil {
		return err
	}
	if t.TrxDate.IsZero() {
		return ErrInvalidDate
	}
	if t.Amount.IsNegative() {
		return ErrInvalidAmount
	}
	if t.RiceKg.IsNegative() || (!t.RiceKg.IsZero() && !t.Kind.AcceptsRice()) {
		return ErrInvalidRice
	}
	if t.SoulCount < 0 || t.AnimalCount < 0 || (t.AnimalCount > 0 && t.Kind != fund.KindKurban) {
		return ErrInvalidCount
	}
	if t.Amount.IsZero() && t.RiceKg.IsZero() && t.AnimalCount == 0 {
		return ErrEmptyTransaction
	}
	return nil
}

// Deposit is a remittance ("setor") a unit made to the parent body.
type Deposit struct {
	ID          snowflake.ID    `gorm:"primaryKey"`
	UnitID      snowflake.ID    `gorm:"column:unit_id;not null;index:ix_deposits_unit_date,priority:1"`
	DepositDate time.Time       `gorm:"column:deposit_date;type:date;not null;index:ix_deposits_unit_date,priority:2"`
	FundType    fund.Type       `gorm:"column:fund_type;type:varchar(8);not null"`
	Amount      decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0"`
	RiceKg      decimal.Decimal `gorm:"column:rice_kg;type:numeric(20,3);not null;default:0"`
	Reference   *string         `gorm:"type:text"`
	CreatedAt   time.Time       `gorm:"not null"`
	UpdatedAt   time.Time       `gorm:"not null"`
	DeletedAt   gorm.DeletedAt  `gorm:"index"`
}

func (Deposit) TableName() string { return "deposits" }

func (d *Deposit) GetID() snowflake.ID { return d.ID }

func (d *Deposit) IsDeleted() bool { return d.DeletedAt.Valid }

func (d *Deposit) Snapshot() *events.Snapshot {
	return &events.Snapshot{
		UnitID: d.UnitID,
		Date:   d.DepositDate,
		Values: map[string]string{
			"fund_type": string(d.FundType),
			"amount":    d.Amount.StringFixed(MoneyScale),
			"rice_kg":   d.RiceKg.StringFixed(RiceScale),
		},
	}
}

func (d *Deposit) Validate() error {
	if d.UnitID == 0 {
		return ErrInvalidUnit
	}
	if _, err := fund.ParseType(string(d.FundType)); err != nil {
		return err
	}
	if d.DepositDate.IsZero() {
		return ErrInvalidDate
	}
	if d.Amount.IsNegative() {
		return ErrInvalidAmount
	}
	if d.RiceKg.IsNegative() || (!d.RiceKg.IsZero() && d.FundType != fund.TypeZF) {
		return ErrInvalidRice
	}
	if d.Amount.IsZero() && d.RiceKg.IsZero() {
		return ErrEmptyTransaction
	}
	return nil
}
