package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	collectiondomain "github.com/smallbiznis/ziswaf/internal/collection/domain"
	"github.com/smallbiznis/ziswaf/internal/period"
	recapdomain "github.com/smallbiznis/ziswaf/internal/recap/domain"
)

// UnitRollup combines the allocation, distribution and amil rights rows of
// a key with the deposits recorded in the period.
type UnitRollup struct {
	base
}

func NewUnitRollup(p Params) *UnitRollup {
	return &UnitRollup{base: newBase(p, "recap.unit")}
}

func (u *UnitRollup) Rebuild(ctx context.Context, unitID snowflake.ID, ref period.Ref) (bool, error) {
	row, empty, err := u.Compute(ctx, unitID, ref)
	if err != nil {
		u.record(ctx, "unit", ref, false, err)
		return false, err
	}
	changed, err := upsertRow(ctx, u.db, u.genID, u.clock, row, empty)
	u.record(ctx, "unit", ref, changed, err)
	return changed, err
}

func (u *UnitRollup) Compute(ctx context.Context, unitID snowflake.ID, ref period.Ref) (*recapdomain.UnitPeriodSummary, bool, error) {
	row := &recapdomain.UnitPeriodSummary{Header: recapdomain.NewHeader(unitID, ref)}
	empty := true

	alloc, err := findRow[recapdomain.AllocationRecap](ctx, u.db, unitID, ref)
	if err != nil {
		return nil, false, err
	}
	if alloc != nil {
		empty = false
		row.CollectionTotal = alloc.TotalCollection
		row.RemitExpected = alloc.TotalRemit
		row.DistributeAllocation = alloc.TotalDistribute
		row.CollectionAmil = alloc.TotalAmil
		row.OperatorRight = alloc.TotalOperator
		row.RiceCollectedKg = alloc.ZFRice.Total
		row.RiceRemitKg = alloc.ZFRice.Remit
	}

	dist, err := findRow[recapdomain.DistributionRecap](ctx, u.db, unitID, ref)
	if err != nil {
		return nil, false, err
	}
	if dist != nil {
		empty = false
		row.Distributed = dist.TotalAmount
		row.RiceDistributedKg = dist.TotalRiceKg
		row.Beneficiaries = dist.TotalBeneficiaries
	}

	amil, err := findRow[recapdomain.AmilRightsRecap](ctx, u.db, unitID, ref)
	if err != nil {
		return nil, false, err
	}
	if amil != nil {
		empty = false
		row.DistributionAmil = amil.TotalAmil
	}

	var deposits []collectiondomain.Deposit
	err = u.db.WithContext(ctx).
		Where("unit_id = ? AND deposit_date >= ? AND deposit_date < ?", unitID, ref.Start, ref.End()).
		Order("id ASC").
		Find(&deposits).Error
	if err != nil {
		return nil, false, err
	}
	for i := range deposits {
		empty = false
		row.Deposited = row.Deposited.Add(deposits[i].Amount)
		row.RiceDepositedKg = row.RiceDepositedKg.Add(deposits[i].RiceKg)
	}

	row.DepositOutstanding = row.RemitExpected.Sub(row.Deposited)
	row.DistributionRemaining = row.DistributeAllocation.Sub(row.Distributed)
	row.Checksum = unitSummaryChecksum(row)
	return row, empty, nil
}

func unitSummaryChecksum(row *recapdomain.UnitPeriodSummary) string {
	f := newFingerprint(&row.Header)
	f.dec(row.CollectionTotal, 2).dec(row.RemitExpected, 2).dec(row.Deposited, 2).dec(row.DepositOutstanding, 2)
	f.dec(row.RiceCollectedKg, 3).dec(row.RiceRemitKg, 3).dec(row.RiceDepositedKg, 3)
	f.dec(row.DistributeAllocation, 2).dec(row.Distributed, 2).dec(row.DistributionRemaining, 2)
	f.dec(row.RiceDistributedKg, 3).dec(row.CollectionAmil, 2).dec(row.DistributionAmil, 2)
	f.dec(row.OperatorRight, 2).int(row.Beneficiaries)
	return f.sum()
}
