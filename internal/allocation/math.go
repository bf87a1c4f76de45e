// Package allocation splits collected amounts into remit, retain, amil,
// distribute and operator shares using fixed-point decimals.
//
// Every share is rounded half-up at the caller's scale. Retain and
// distribute are always derived by subtraction so that
// remit+retain == total and amil+distribute == retain hold exactly.
package allocation

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of decimal places kept for currency.
const MoneyScale int32 = 2

var (
	ErrInvalidPercentage    = errors.New("invalid_percentage")
	ErrNegativeAmount       = errors.New("negative_amount")
	ErrConsistencyViolation = errors.New("allocation_consistency_violation")
)

var (
	hundred = decimal.NewFromInt(100)

	// OperatorSharePct is the operator's fixed share of the remitted amount.
	OperatorSharePct = decimal.NewFromInt(5)
)

// ValidatePercentage rejects values outside [0,100].
func ValidatePercentage(pct decimal.Decimal) error {
	if pct.IsNegative() || pct.GreaterThan(hundred) {
		return fmt.Errorf("%w: %s", ErrInvalidPercentage, pct.String())
	}
	return nil
}

func validateAmount(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: %s", ErrNegativeAmount, amount.String())
	}
	return nil
}

// Percent returns round(amount * pct / 100) at scale.
func Percent(amount, pct decimal.Decimal, scale int32) decimal.Decimal {
	return amount.Mul(pct).Div(hundred).Round(scale)
}

// SplitRemitRetain splits total into the remitted and retained parts.
func SplitRemitRetain(total, remitPct decimal.Decimal, scale int32) (remit, retain decimal.Decimal, err error) {
	if err := validateAmount(total); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if err := ValidatePercentage(remitPct); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	total = total.Round(scale)
	remit = Percent(total, remitPct, scale)
	retain = total.Sub(remit)
	return remit, retain, nil
}

// AmilShare returns the amil's part of the retained amount.
func AmilShare(retain, amilPct decimal.Decimal, scale int32) (decimal.Decimal, error) {
	if err := validateAmount(retain); err != nil {
		return decimal.Zero, err
	}
	if err := ValidatePercentage(amilPct); err != nil {
		return decimal.Zero, err
	}
	// Nothing retained means nothing owed, whatever the percentage.
	if retain.IsZero() {
		return decimal.Zero, nil
	}
	return Percent(retain, amilPct, scale), nil
}

// DistributeShare is what remains of retain after the amil's share.
func DistributeShare(retain, amil decimal.Decimal) decimal.Decimal {
	return retain.Sub(amil)
}

// OperatorShare returns the fixed operator right on a remitted amount.
func OperatorShare(remit decimal.Decimal, scale int32) decimal.Decimal {
	if remit.IsZero() {
		return decimal.Zero
	}
	return Percent(remit, OperatorSharePct, scale)
}

// Breakdown is the full split of one fund line.
type Breakdown struct {
	Total      decimal.Decimal
	Remit      decimal.Decimal
	Retain     decimal.Decimal
	Amil       decimal.Decimal
	Distribute decimal.Decimal
	Operator   decimal.Decimal
}

// Allocate composes the individual splits for one amount.
func Allocate(total, remitPct, amilPct decimal.Decimal, scale int32) (Breakdown, error) {
	remit, retain, err := SplitRemitRetain(total, remitPct, scale)
	if err != nil {
		return Breakdown{}, err
	}
	amil, err := AmilShare(retain, amilPct, scale)
	if err != nil {
		return Breakdown{}, err
	}
	return Breakdown{
		Total:      total.Round(scale),
		Remit:      remit,
		Retain:     retain,
		Amil:       amil,
		Distribute: DistributeShare(retain, amil),
		Operator:   OperatorShare(remit, scale),
	}, nil
}

// Add sums two breakdowns field by field.
func (b Breakdown) Add(other Breakdown) Breakdown {
	return Breakdown{
		Total:      b.Total.Add(other.Total),
		Remit:      b.Remit.Add(other.Remit),
		Retain:     b.Retain.Add(other.Retain),
		Amil:       b.Amil.Add(other.Amil),
		Distribute: b.Distribute.Add(other.Distribute),
		Operator:   b.Operator.Add(other.Operator),
	}
}

// Verify checks both sum invariants.
func (b Breakdown) Verify() error {
	if !b.Remit.Add(b.Retain).Equal(b.Total) {
		return fmt.Errorf("%w: remit %s + retain %s != total %s",
			ErrConsistencyViolation, b.Remit, b.Retain, b.Total)
	}
	if !b.Amil.Add(b.Distribute).Equal(b.Retain) {
		return fmt.Errorf("%w: amil %s + distribute %s != retain %s",
			ErrConsistencyViolation, b.Amil, b.Distribute, b.Retain)
	}
	return nil
}
