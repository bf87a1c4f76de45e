package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/ziswaf/internal/allocation"
	ruledomain "github.com/smallbiznis/ziswaf/internal/allocationrule/domain"
	"github.com/smallbiznis/ziswaf/internal/config"
	"github.com/smallbiznis/ziswaf/internal/fund"
	"github.com/smallbiznis/ziswaf/internal/period"
	recapdomain "github.com/smallbiznis/ziswaf/internal/recap/domain"
	unitdomain "github.com/smallbiznis/ziswaf/internal/unit/domain"
	"go.uber.org/zap"
)

// AllocationBuilder turns one TransactionRecap row into its remit, retain,
// amil, distribute and operator split per fund line.
type AllocationBuilder struct {
	base
	resolver ruledomain.Resolver
	units    unitdomain.Repository
	policy   *config.AllocationPolicyHolder
}

func NewAllocationBuilder(p Params) *AllocationBuilder {
	return &AllocationBuilder{
		base:     newBase(p, "recap.allocation"),
		resolver: p.Resolver,
		units:    p.Units,
		policy:   p.Policy,
	}
}

func (b *AllocationBuilder) Rebuild(ctx context.Context, unitID snowflake.ID, ref period.Ref) (bool, error) {
	row, err := b.Preview(ctx, unitID, ref)
	if err != nil {
		b.record(ctx, "allocation", ref, false, err)
		return false, err
	}
	empty := row.TotalCollection.IsZero() && row.ZFRice.Total.IsZero()
	changed, err := upsertRow(ctx, b.db, b.genID, b.clock, row, empty)
	b.record(ctx, "allocation", ref, changed, err)
	return changed, err
}

// Preview computes the allocation for a key without persisting it. It fails
// with ErrConfigurationMissing when a fund line with a nonzero total has no
// applicable rule and no configured default.
func (b *AllocationBuilder) Preview(ctx context.Context, unitID snowflake.ID, ref period.Ref) (*recapdomain.AllocationRecap, error) {
	unit, err := b.units.FindByID(ctx, unitID)
	if err != nil {
		return nil, err
	}
	if unit == nil {
		return nil, fmt.Errorf("%w: %s", recapdomain.ErrInvalidUnit, unitID)
	}

	src, err := findRow[recapdomain.TransactionRecap](ctx, b.db, unitID, ref)
	if err != nil {
		return nil, err
	}
	if src == nil {
		src = &recapdomain.TransactionRecap{Header: recapdomain.NewHeader(unitID, ref)}
	}

	row, err := b.compute(ctx, src, unit.RicePrice)
	if err != nil {
		if errors.Is(err, ruledomain.ErrConfigurationMissing) {
			b.metrics.RecordConfigurationMissing(ctx, fundTypeOf(err))
			b.log.Warn("allocation.configuration_missing",
				zap.String("unit_id", unitID.String()),
				zap.String("period", ref.String()),
				zap.Error(err),
			)
		}
		if errors.Is(err, allocation.ErrConsistencyViolation) {
			b.metrics.RecordConsistencyViolation(ctx, "allocation")
			b.log.DPanic("allocation.consistency_violation",
				zap.String("unit_id", unitID.String()),
				zap.String("period", ref.String()),
				zap.Error(err),
			)
		}
		return nil, err
	}
	return row, nil
}

type fundTypeError struct {
	fundType fund.Type
	err      error
}

func (e *fundTypeError) Error() string { return e.err.Error() }
func (e *fundTypeError) Unwrap() error { return e.err }

func fundTypeOf(err error) string {
	var fe *fundTypeError
	if errors.As(err, &fe) {
		return string(fe.fundType)
	}
	return ""
}

func (b *AllocationBuilder) compute(ctx context.Context, src *recapdomain.TransactionRecap, ricePrice decimal.Decimal) (*recapdomain.AllocationRecap, error) {
	policy := b.policy.Get()
	date := src.PeriodDate
	row := &recapdomain.AllocationRecap{
		Header:    recapdomain.NewHeader(src.UnitID, src.Ref()),
		RicePrice: ricePrice.Round(allocation.MoneyScale),
	}

	riceKg := src.ZFRiceKg.Round(policy.RiceScale)
	riceValue := riceKg.Mul(row.RicePrice).Round(allocation.MoneyScale)

	zf, err := b.resolve(ctx, fund.TypeZF, date, src.ZFAmount, riceKg, riceValue)
	if err != nil {
		return nil, err
	}
	zm, err := b.resolve(ctx, fund.TypeZM, date, src.ZMAmount)
	if err != nil {
		return nil, err
	}
	ifsTotal := src.IFSTotal()
	ifs, err := b.resolve(ctx, fund.TypeIFS, date, ifsTotal)
	if err != nil {
		return nil, err
	}

	var total allocation.Breakdown
	lines := []struct {
		dst    *recapdomain.Line
		amount decimal.Decimal
		res    ruledomain.Resolution
	}{
		{&row.ZFMoney, src.ZFAmount, zf},
		{&row.ZFRiceValue, riceValue, zf},
		{&row.ZM, src.ZMAmount, zm},
		{&row.IFS, ifsTotal, ifs},
	}
	for _, l := range lines {
		bd, err := allocateLine(l.amount, l.res, allocation.MoneyScale)
		if err != nil {
			return nil, err
		}
		*l.dst = toLine(bd, l.res)
		total = total.Add(bd)
	}

	rice, err := allocateLine(riceKg, zf, policy.RiceScale)
	if err != nil {
		return nil, err
	}
	row.ZFRice = recapdomain.RiceLine{
		Total:      rice.Total,
		Remit:      rice.Remit,
		Retain:     rice.Retain,
		Amil:       rice.Amil,
		Distribute: rice.Distribute,
		Operator:   rice.Operator,
	}

	if err := total.Verify(); err != nil {
		return nil, fmt.Errorf("totals: %w", err)
	}
	row.TotalCollection = total.Total
	row.TotalRemit = total.Remit
	row.TotalRetain = total.Retain
	row.TotalAmil = total.Amil
	row.TotalDistribute = total.Distribute
	row.TotalOperator = total.Operator

	row.Checksum = allocationChecksum(row)
	return row, nil
}

// resolve returns the full rule for a fund type with any nonzero amount and
// the split with no amil share otherwise.
func (b *AllocationBuilder) resolve(ctx context.Context, ft fund.Type, date time.Time, amounts ...decimal.Decimal) (ruledomain.Resolution, error) {
	for _, amount := range amounts {
		if amount.IsZero() {
			continue
		}
		res, err := b.resolver.Resolve(ctx, ft, date)
		if err != nil {
			return ruledomain.Resolution{}, &fundTypeError{fundType: ft, err: err}
		}
		return res, nil
	}
	res, err := b.resolver.ResolveSplit(ctx, ft, date)
	if err != nil {
		return ruledomain.Resolution{}, &fundTypeError{fundType: ft, err: err}
	}
	if res.Source == ruledomain.SourceDefault {
		res.AmilPct = decimal.Zero
	}
	return res, nil
}

func allocateLine(amount decimal.Decimal, res ruledomain.Resolution, scale int32) (allocation.Breakdown, error) {
	bd, err := allocation.Allocate(amount, res.RemitPct, res.AmilPct, scale)
	if err != nil {
		return allocation.Breakdown{}, err
	}
	if err := bd.Verify(); err != nil {
		return allocation.Breakdown{}, fmt.Errorf("%s: %w", res.FundType, err)
	}
	return bd, nil
}

func toLine(bd allocation.Breakdown, res ruledomain.Resolution) recapdomain.Line {
	return recapdomain.Line{
		Total:      bd.Total,
		Remit:      bd.Remit,
		Retain:     bd.Retain,
		Amil:       bd.Amil,
		Distribute: bd.Distribute,
		Operator:   bd.Operator,
		RemitPct:   res.RemitPct,
		AmilPct:    res.AmilPct,
		RuleYear:   res.EffectiveYear,
	}
}

func allocationChecksum(row *recapdomain.AllocationRecap) string {
	f := newFingerprint(&row.Header)
	for _, l := range []recapdomain.Line{row.ZFMoney, row.ZFRiceValue, row.ZM, row.IFS} {
		f.dec(l.Total, 2).dec(l.Remit, 2).dec(l.Retain, 2).dec(l.Amil, 2).
			dec(l.Distribute, 2).dec(l.Operator, 2).dec(l.RemitPct, 2).dec(l.AmilPct, 2).int(l.RuleYear)
	}
	r := row.ZFRice
	f.dec(r.Total, 3).dec(r.Remit, 3).dec(r.Retain, 3).dec(r.Amil, 3).dec(r.Distribute, 3).dec(r.Operator, 3)
	f.dec(row.RicePrice, 2)
	f.dec(row.TotalCollection, 2).dec(row.TotalRemit, 2).dec(row.TotalRetain, 2).
		dec(row.TotalAmil, 2).dec(row.TotalDistribute, 2).dec(row.TotalOperator, 2)
	return f.sum()
}
