package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	collectiondomain "github.com/smallbiznis/ziswaf/internal/collection/domain"
	"github.com/smallbiznis/ziswaf/internal/fund"
	"github.com/smallbiznis/ziswaf/internal/period"
	recapdomain "github.com/smallbiznis/ziswaf/internal/recap/domain"
)

// TransactionAggregator builds transaction_recaps. Daily rows come from raw
// transactions, coarser rows from the rows one level down.
type TransactionAggregator struct {
	base
}

func NewTransactionAggregator(p Params) *TransactionAggregator {
	return &TransactionAggregator{base: newBase(p, "recap.transaction")}
}

func (a *TransactionAggregator) Rebuild(ctx context.Context, unitID snowflake.ID, ref period.Ref) (bool, error) {
	row, err := a.Compute(ctx, unitID, ref)
	if err != nil {
		a.record(ctx, "transaction", ref, false, err)
		return false, err
	}
	changed, err := upsertRow(ctx, a.db, a.genID, a.clock, row, row.TransactionCount == 0)
	a.record(ctx, "transaction", ref, changed, err)
	return changed, err
}

// Compute builds the row without persisting it.
func (a *TransactionAggregator) Compute(ctx context.Context, unitID snowflake.ID, ref period.Ref) (*recapdomain.TransactionRecap, error) {
	row := &recapdomain.TransactionRecap{Header: recapdomain.NewHeader(unitID, ref)}

	if ref.Granularity == period.Daily {
		var trxs []collectiondomain.FundTransaction
		err := a.db.WithContext(ctx).
			Where("unit_id = ? AND trx_date >= ? AND trx_date < ?", unitID, ref.Start, ref.End()).
			Order("id ASC").
			Find(&trxs).Error
		if err != nil {
			return nil, err
		}
		for i := range trxs {
			addTransaction(row, &trxs[i])
		}
	} else {
		children, err := findChildren[recapdomain.TransactionRecap](ctx, a.db, unitID, ref)
		if err != nil {
			return nil, err
		}
		for i := range children {
			addTransactionRecap(row, &children[i])
		}
	}

	row.Checksum = transactionChecksum(row)
	return row, nil
}

func addTransaction(row *recapdomain.TransactionRecap, trx *collectiondomain.FundTransaction) {
	switch trx.Kind {
	case fund.KindZF:
		row.ZFAmount = row.ZFAmount.Add(trx.Amount)
		row.ZFRiceKg = row.ZFRiceKg.Add(trx.RiceKg)
		row.ZFSouls += trx.SoulCount
		row.ZFCount++
	case fund.KindZM:
		row.ZMAmount = row.ZMAmount.Add(trx.Amount)
		row.ZMCount++
	case fund.KindIFS:
		row.IFSAmount = row.IFSAmount.Add(trx.Amount)
		row.IFSCount++
	case fund.KindDonationBox:
		row.DonationBoxAmount = row.DonationBoxAmount.Add(trx.Amount)
		row.DonationBoxCount++
	case fund.KindFidyah:
		row.FidyahAmount = row.FidyahAmount.Add(trx.Amount)
		row.FidyahRiceKg = row.FidyahRiceKg.Add(trx.RiceKg)
		row.FidyahSouls += trx.SoulCount
		row.FidyahCount++
	case fund.KindKurban:
		row.KurbanAmount = row.KurbanAmount.Add(trx.Amount)
		row.KurbanAnimals += trx.AnimalCount
		row.KurbanCount++
	default:
		return
	}
	row.TotalAmount = row.TotalAmount.Add(trx.Amount)
	row.TransactionCount++
}

func addTransactionRecap(row, child *recapdomain.TransactionRecap) {
	row.ZFAmount = row.ZFAmount.Add(child.ZFAmount)
	row.ZFRiceKg = row.ZFRiceKg.Add(child.ZFRiceKg)
	row.ZFSouls += child.ZFSouls
	row.ZFCount += child.ZFCount
	row.ZMAmount = row.ZMAmount.Add(child.ZMAmount)
	row.ZMCount += child.ZMCount
	row.IFSAmount = row.IFSAmount.Add(child.IFSAmount)
	row.IFSCount += child.IFSCount
	row.DonationBoxAmount = row.DonationBoxAmount.Add(child.DonationBoxAmount)
	row.DonationBoxCount += child.DonationBoxCount
	row.FidyahAmount = row.FidyahAmount.Add(child.FidyahAmount)
	row.FidyahRiceKg = row.FidyahRiceKg.Add(child.FidyahRiceKg)
	row.FidyahSouls += child.FidyahSouls
	row.FidyahCount += child.FidyahCount
	row.KurbanAmount = row.KurbanAmount.Add(child.KurbanAmount)
	row.KurbanAnimals += child.KurbanAnimals
	row.KurbanCount += child.KurbanCount
	row.TotalAmount = row.TotalAmount.Add(child.TotalAmount)
	row.TransactionCount += child.TransactionCount
}

func transactionChecksum(row *recapdomain.TransactionRecap) string {
	f := newFingerprint(&row.Header)
	for _, d := range []decimal.Decimal{row.ZFAmount, row.ZMAmount, row.IFSAmount, row.DonationBoxAmount, row.FidyahAmount, row.KurbanAmount, row.TotalAmount} {
		f.dec(d, 2)
	}
	f.dec(row.ZFRiceKg, 3).dec(row.FidyahRiceKg, 3)
	for _, n := range []int{row.ZFSouls, row.ZFCount, row.ZMCount, row.IFSCount, row.DonationBoxCount, row.FidyahSouls, row.FidyahCount, row.KurbanAnimals, row.KurbanCount, row.TransactionCount} {
		f.int(n)
	}
	return f.sum()
}
