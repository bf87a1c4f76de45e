package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ziswaf/internal/allocation"
	"github.com/smallbiznis/ziswaf/internal/config"
	distributiondomain "github.com/smallbiznis/ziswaf/internal/distribution/domain"
	"github.com/smallbiznis/ziswaf/internal/fund"
	"github.com/smallbiznis/ziswaf/internal/period"
	recapdomain "github.com/smallbiznis/ziswaf/internal/recap/domain"
)

// AmilRightsAggregator computes the amil's right on distributed funds. It
// reads distribution events directly, independent of DistributionRecap.
type AmilRightsAggregator struct {
	base
	policy *config.AllocationPolicyHolder
}

func NewAmilRightsAggregator(p Params) *AmilRightsAggregator {
	return &AmilRightsAggregator{
		base:   newBase(p, "recap.amil_rights"),
		policy: p.Policy,
	}
}

func (a *AmilRightsAggregator) Rebuild(ctx context.Context, unitID snowflake.ID, ref period.Ref) (bool, error) {
	row, err := a.Compute(ctx, unitID, ref)
	if err != nil {
		a.record(ctx, "amil_rights", ref, false, err)
		return false, err
	}
	empty := row.TotalDistributed.IsZero() && row.ZFRiceDistributedKg.IsZero() && row.TotalBeneficiaries == 0
	changed, err := upsertRow(ctx, a.db, a.genID, a.clock, row, empty)
	a.record(ctx, "amil_rights", ref, changed, err)
	return changed, err
}

func (a *AmilRightsAggregator) Compute(ctx context.Context, unitID snowflake.ID, ref period.Ref) (*recapdomain.AmilRightsRecap, error) {
	policy := a.policy.Get()
	row := &recapdomain.AmilRightsRecap{
		Header:     recapdomain.NewHeader(unitID, ref),
		ZFAmilPct:  policy.AmilRights(string(fund.TypeZF)),
		ZMAmilPct:  policy.AmilRights(string(fund.TypeZM)),
		IFSAmilPct: policy.AmilRights(string(fund.TypeIFS)),
	}

	if ref.Granularity == period.Daily {
		var evts []distributiondomain.DistributionEvent
		err := a.db.WithContext(ctx).
			Where("unit_id = ? AND trx_date >= ? AND trx_date < ?", unitID, ref.Start, ref.End()).
			Order("id ASC").
			Find(&evts).Error
		if err != nil {
			return nil, err
		}
		for i := range evts {
			evt := &evts[i]
			switch evt.FundType {
			case fund.TypeZF:
				row.ZFDistributed = row.ZFDistributed.Add(evt.Amount)
				row.ZFRiceDistributedKg = row.ZFRiceDistributedKg.Add(evt.RiceKg)
			case fund.TypeZM:
				row.ZMDistributed = row.ZMDistributed.Add(evt.Amount)
			case fund.TypeIFS:
				row.IFSDistributed = row.IFSDistributed.Add(evt.Amount)
			}
			row.TotalBeneficiaries += evt.BeneficiaryCount
		}
		row.ZFAmil = allocation.Percent(row.ZFDistributed, row.ZFAmilPct, allocation.MoneyScale)
		row.ZFRiceAmilKg = allocation.Percent(row.ZFRiceDistributedKg, row.ZFAmilPct, policy.RiceScale)
		row.ZMAmil = allocation.Percent(row.ZMDistributed, row.ZMAmilPct, allocation.MoneyScale)
		row.IFSAmil = allocation.Percent(row.IFSDistributed, row.IFSAmilPct, allocation.MoneyScale)
	} else {
		children, err := findChildren[recapdomain.AmilRightsRecap](ctx, a.db, unitID, ref)
		if err != nil {
			return nil, err
		}
		// Coarser rows sum the amil values below them so a month always
		// equals the sum of its days.
		for i := range children {
			c := &children[i]
			row.ZFDistributed = row.ZFDistributed.Add(c.ZFDistributed)
			row.ZFAmil = row.ZFAmil.Add(c.ZFAmil)
			row.ZFRiceDistributedKg = row.ZFRiceDistributedKg.Add(c.ZFRiceDistributedKg)
			row.ZFRiceAmilKg = row.ZFRiceAmilKg.Add(c.ZFRiceAmilKg)
			row.ZMDistributed = row.ZMDistributed.Add(c.ZMDistributed)
			row.ZMAmil = row.ZMAmil.Add(c.ZMAmil)
			row.IFSDistributed = row.IFSDistributed.Add(c.IFSDistributed)
			row.IFSAmil = row.IFSAmil.Add(c.IFSAmil)
			row.TotalBeneficiaries += c.TotalBeneficiaries
		}
	}

	row.TotalDistributed = row.ZFDistributed.Add(row.ZMDistributed).Add(row.IFSDistributed)
	row.TotalAmil = row.ZFAmil.Add(row.ZMAmil).Add(row.IFSAmil)
	row.Checksum = amilRightsChecksum(row)
	return row, nil
}

func amilRightsChecksum(row *recapdomain.AmilRightsRecap) string {
	f := newFingerprint(&row.Header)
	f.dec(row.ZFDistributed, 2).dec(row.ZFAmilPct, 2).dec(row.ZFAmil, 2)
	f.dec(row.ZFRiceDistributedKg, 3).dec(row.ZFRiceAmilKg, 3)
	f.dec(row.ZMDistributed, 2).dec(row.ZMAmilPct, 2).dec(row.ZMAmil, 2)
	f.dec(row.IFSDistributed, 2).dec(row.IFSAmilPct, 2).dec(row.IFSAmil, 2)
	f.dec(row.TotalDistributed, 2).dec(row.TotalAmil, 2).int(row.TotalBeneficiaries)
	return f.sum()
}
