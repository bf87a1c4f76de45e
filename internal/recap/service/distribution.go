package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/ziswaf/internal/allocation"
	distributiondomain "github.com/smallbiznis/ziswaf/internal/distribution/domain"
	"github.com/smallbiznis/ziswaf/internal/fund"
	"github.com/smallbiznis/ziswaf/internal/period"
	recapdomain "github.com/smallbiznis/ziswaf/internal/recap/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type DistributionAggregator struct {
	base
}

func NewDistributionAggregator(p Params) *DistributionAggregator {
	return &DistributionAggregator{base: newBase(p, "recap.distribution")}
}

func (a *DistributionAggregator) Rebuild(ctx context.Context, unitID snowflake.ID, ref period.Ref) (bool, error) {
	row, err := a.Compute(ctx, unitID, ref)
	if err != nil {
		a.record(ctx, "distribution", ref, false, err)
		return false, err
	}
	changed, err := upsertRow(ctx, a.db, a.genID, a.clock, row, row.EventCount == 0)
	a.record(ctx, "distribution", ref, changed, err)
	return changed, err
}

func (a *DistributionAggregator) Compute(ctx context.Context, unitID snowflake.ID, ref period.Ref) (*recapdomain.DistributionRecap, error) {
	row := &recapdomain.DistributionRecap{Header: recapdomain.NewHeader(unitID, ref)}
	byAsnaf := bucketSet{}
	byProgram := bucketSet{}

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
			addDistribution(row, evt)
			b := recapdomain.Bucket{
				Amount:        evt.Amount,
				RiceKg:        evt.RiceKg,
				Beneficiaries: evt.BeneficiaryCount,
				Count:         1,
			}
			byAsnaf.add(string(evt.Asnaf), b)
			byProgram.add(evt.Program, b)
		}
	} else {
		children, err := findChildren[recapdomain.DistributionRecap](ctx, a.db, unitID, ref)
		if err != nil {
			return nil, err
		}
		for i := range children {
			child := &children[i]
			addDistributionRecap(row, child)
			if err := byAsnaf.merge(child.ByAsnaf); err != nil {
				return nil, fmt.Errorf("decode by_asnaf of %s: %w", child.PeriodKey, err)
			}
			if err := byProgram.merge(child.ByProgram); err != nil {
				return nil, fmt.Errorf("decode by_program of %s: %w", child.PeriodKey, err)
			}
		}
	}

	asnaf := byAsnaf.sorted()
	program := byProgram.sorted()
	for name, buckets := range map[string][]recapdomain.Bucket{"by_asnaf": asnaf, "by_program": program} {
		if err := verifyBuckets(row, buckets); err != nil {
			a.metrics.RecordConsistencyViolation(ctx, "distribution")
			a.log.DPanic("distribution.consistency_violation",
				zap.String("unit_id", unitID.String()),
				zap.String("period", ref.String()),
				zap.String("breakdown", name),
				zap.Error(err),
			)
			return nil, err
		}
	}

	var err error
	if row.ByAsnaf, err = encodeBuckets(asnaf); err != nil {
		return nil, err
	}
	if row.ByProgram, err = encodeBuckets(program); err != nil {
		return nil, err
	}
	row.Checksum = distributionChecksum(row)
	return row, nil
}

func addDistribution(row *recapdomain.DistributionRecap, evt *distributiondomain.DistributionEvent) {
	row.TotalAmount = row.TotalAmount.Add(evt.Amount)
	row.TotalRiceKg = row.TotalRiceKg.Add(evt.RiceKg)
	row.TotalBeneficiaries += evt.BeneficiaryCount
	row.EventCount++
	switch evt.FundType {
	case fund.TypeZF:
		row.ZFAmount = row.ZFAmount.Add(evt.Amount)
		row.ZFRiceKg = row.ZFRiceKg.Add(evt.RiceKg)
	case fund.TypeZM:
		row.ZMAmount = row.ZMAmount.Add(evt.Amount)
	case fund.TypeIFS:
		row.IFSAmount = row.IFSAmount.Add(evt.Amount)
	}
}

func addDistributionRecap(row, child *recapdomain.DistributionRecap) {
	row.TotalAmount = row.TotalAmount.Add(child.TotalAmount)
	row.TotalRiceKg = row.TotalRiceKg.Add(child.TotalRiceKg)
	row.TotalBeneficiaries += child.TotalBeneficiaries
	row.EventCount += child.EventCount
	row.ZFAmount = row.ZFAmount.Add(child.ZFAmount)
	row.ZFRiceKg = row.ZFRiceKg.Add(child.ZFRiceKg)
	row.ZMAmount = row.ZMAmount.Add(child.ZMAmount)
	row.IFSAmount = row.IFSAmount.Add(child.IFSAmount)
}

type bucketSet map[string]recapdomain.Bucket

func (s bucketSet) add(key string, b recapdomain.Bucket) {
	cur := s[key]
	cur.Key = key
	cur.Amount = cur.Amount.Add(b.Amount)
	cur.RiceKg = cur.RiceKg.Add(b.RiceKg)
	cur.Beneficiaries += b.Beneficiaries
	cur.Count += b.Count
	s[key] = cur
}

func (s bucketSet) merge(raw datatypes.JSON) error {
	if len(raw) == 0 {
		return nil
	}
	var buckets []recapdomain.Bucket
	if err := json.Unmarshal(raw, &buckets); err != nil {
		return err
	}
	for _, b := range buckets {
		s.add(b.Key, b)
	}
	return nil
}

func (s bucketSet) sorted() []recapdomain.Bucket {
	out := make([]recapdomain.Bucket, 0, len(s))
	for _, b := range s {
		b.Amount = b.Amount.Round(allocation.MoneyScale)
		b.RiceKg = b.RiceKg.Round(3)
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func encodeBuckets(buckets []recapdomain.Bucket) (datatypes.JSON, error) {
	raw, err := json.Marshal(buckets)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func verifyBuckets(row *recapdomain.DistributionRecap, buckets []recapdomain.Bucket) error {
	amount, rice := decimal.Zero, decimal.Zero
	beneficiaries := 0
	for _, b := range buckets {
		amount = amount.Add(b.Amount)
		rice = rice.Add(b.RiceKg)
		beneficiaries += b.Beneficiaries
	}
	if !amount.Equal(row.TotalAmount.Round(allocation.MoneyScale)) ||
		!rice.Equal(row.TotalRiceKg.Round(3)) ||
		beneficiaries != row.TotalBeneficiaries {
		return fmt.Errorf("%w: breakdown %s/%s/%d != totals %s/%s/%d",
			recapdomain.ErrConsistencyViolation,
			amount, rice, beneficiaries,
			row.TotalAmount, row.TotalRiceKg, row.TotalBeneficiaries)
	}
	return nil
}

func distributionChecksum(row *recapdomain.DistributionRecap) string {
	f := newFingerprint(&row.Header)
	f.dec(row.TotalAmount, 2).dec(row.TotalRiceKg, 3).int(row.TotalBeneficiaries).int(row.EventCount)
	f.dec(row.ZFAmount, 2).dec(row.ZFRiceKg, 3).dec(row.ZMAmount, 2).dec(row.IFSAmount, 2)
	f.str(string(row.ByAsnaf)).str(string(row.ByProgram))
	return f.sum()
}
