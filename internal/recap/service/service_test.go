package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	ruledomain "github.com/smallbiznis/ziswaf/internal/allocationrule/domain"
	"github.com/smallbiznis/ziswaf/internal/clock"
	collectiondomain "github.com/smallbiznis/ziswaf/internal/collection/domain"
	"github.com/smallbiznis/ziswaf/internal/config"
	distributiondomain "github.com/smallbiznis/ziswaf/internal/distribution/domain"
	"github.com/smallbiznis/ziswaf/internal/fund"
	"github.com/smallbiznis/ziswaf/internal/period"
	recapdomain "github.com/smallbiznis/ziswaf/internal/recap/domain"
	unitdomain "github.com/smallbiznis/ziswaf/internal/unit/domain"
	unitrepository "github.com/smallbiznis/ziswaf/internal/unit/repository"
	"github.com/smallbiznis/ziswaf/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// staticResolver serves fixed rules per fund type and the 30/70 default
// split without any amil default.
type staticResolver struct {
	rules map[fund.Type]ruledomain.Resolution
}

func (r *staticResolver) Resolve(ctx context.Context, ft fund.Type, date time.Time) (ruledomain.Resolution, error) {
	res, err := r.ResolveSplit(ctx, ft, date)
	if err != nil {
		return res, err
	}
	if res.Source == ruledomain.SourceDefault {
		return ruledomain.Resolution{}, fmt.Errorf("%w: fund_type=%s", ruledomain.ErrConfigurationMissing, ft)
	}
	return res, nil
}

func (r *staticResolver) ResolveSplit(_ context.Context, ft fund.Type, date time.Time) (ruledomain.Resolution, error) {
	if res, ok := r.rules[ft]; ok {
		return res, nil
	}
	return ruledomain.Resolution{
		FundType:  ft,
		RemitPct:  dec("30"),
		RetainPct: dec("70"),
		Source:    ruledomain.SourceDefault,
	}, nil
}

func (r *staticResolver) Invalidate() {}

func (r *staticResolver) set(ft fund.Type, remit, amil string) {
	r.rules[ft] = ruledomain.Resolution{
		FundType:      ft,
		RemitPct:      dec(remit),
		RetainPct:     decimal.NewFromInt(100).Sub(dec(remit)),
		AmilPct:       dec(amil),
		Source:        ruledomain.SourceRule,
		EffectiveYear: 2024,
	}
}

type harness struct {
	db       *gorm.DB
	node     *snowflake.Node
	clock    *clock.FakeClock
	resolver *staticResolver
	builders Builders
	query    recapdomain.Service
	unit     *unitdomain.Unit
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	conn, err := db.NewTest()
	require.NoError(t, err)
	models := []any{
		&unitdomain.Unit{},
		&collectiondomain.FundTransaction{},
		&collectiondomain.Deposit{},
		&distributiondomain.DistributionEvent{},
	}
	require.NoError(t, conn.AutoMigrate(append(models, recapdomain.Models()...)...))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	policy, err := config.ParseAllocationConfig(config.DefaultAllocationConfig())
	require.NoError(t, err)

	h := &harness{
		db:       conn,
		node:     node,
		clock:    clock.NewFakeClock(time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC)),
		resolver: &staticResolver{rules: map[fund.Type]ruledomain.Resolution{}},
	}
	units := unitrepository.NewRepository(conn)
	h.unit = &unitdomain.Unit{
		ID:        node.Generate(),
		Code:      "upz-masjid-raya",
		Name:      "UPZ Masjid Raya",
		RicePrice: dec("15000"),
		CreatedAt: h.clock.Now(),
		UpdatedAt: h.clock.Now(),
	}
	require.NoError(t, units.Create(context.Background(), h.unit))

	p := Params{
		DB:       conn,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    h.clock,
		Resolver: h.resolver,
		Units:    units,
		Policy:   config.NewStaticAllocationPolicyHolder(policy),
	}
	h.builders = NewBuilders(p)
	h.query = NewService(p, h.builders)
	return h
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func assertDec(t *testing.T, want string, got decimal.Decimal, field string) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "%s: want %s, got %s", field, want, got)
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (h *harness) addTransaction(t *testing.T, kind fund.Kind, date time.Time, amount, rice string, souls int) *collectiondomain.FundTransaction {
	t.Helper()
	trx := &collectiondomain.FundTransaction{
		ID:        h.node.Generate(),
		UnitID:    h.unit.ID,
		Kind:      kind,
		TrxDate:   date,
		Amount:    dec(amount),
		RiceKg:    dec(rice),
		SoulCount: souls,
		CreatedAt: h.clock.Now(),
		UpdatedAt: h.clock.Now(),
	}
	require.NoError(t, h.db.Create(trx).Error)
	return trx
}

func (h *harness) addDistribution(t *testing.T, date time.Time, asnaf fund.Asnaf, program string, ft fund.Type, amount, rice string, beneficiaries int) {
	t.Helper()
	evt := &distributiondomain.DistributionEvent{
		ID:               h.node.Generate(),
		UnitID:           h.unit.ID,
		TrxDate:          date,
		Asnaf:            asnaf,
		Program:          program,
		FundType:         ft,
		Amount:           dec(amount),
		RiceKg:           dec(rice),
		BeneficiaryCount: beneficiaries,
		CreatedAt:        h.clock.Now(),
		UpdatedAt:        h.clock.Now(),
	}
	require.NoError(t, h.db.Create(evt).Error)
}

func (h *harness) rebuild(t *testing.T, r Rebuilder, g period.Granularity, date time.Time) bool {
	t.Helper()
	changed, err := r.Rebuild(context.Background(), h.unit.ID, period.NewRef(g, date))
	require.NoError(t, err)
	return changed
}

func loadRow[T any, P recapRow[T]](t *testing.T, h *harness, g period.Granularity, date time.Time) P {
	t.Helper()
	row, err := findRow[T, P](context.Background(), h.db, h.unit.ID, period.NewRef(g, date))
	require.NoError(t, err)
	return row
}

func TestTransactionRebuildIsIdempotent(t *testing.T) {
	h := newHarness(t)
	date := day(2024, 3, 15)
	h.addTransaction(t, fund.KindZF, date, "100000", "2.5", 4)
	h.addTransaction(t, fund.KindZM, date, "50000", "0", 0)
	h.addTransaction(t, fund.KindDonationBox, date, "10000", "0", 0)
	deleted := h.addTransaction(t, fund.KindIFS, date, "99999", "0", 0)
	require.NoError(t, h.db.Delete(deleted).Error)
	h.addTransaction(t, fund.KindZM, day(2024, 3, 16), "1", "0", 0)

	assert.True(t, h.rebuild(t, h.builders.Transaction, period.Daily, date))
	first := loadRow[recapdomain.TransactionRecap](t, h, period.Daily, date)
	require.NotNil(t, first)

	assertDec(t, "100000", first.ZFAmount, "zf_amount")
	assertDec(t, "2.5", first.ZFRiceKg, "zf_rice_kg")
	assert.Equal(t, 4, first.ZFSouls)
	assertDec(t, "50000", first.ZMAmount, "zm_amount")
	assertDec(t, "0", first.IFSAmount, "ifs_amount")
	assertDec(t, "10000", first.IFSTotal(), "ifs_total")
	assertDec(t, "160000", first.TotalAmount, "total_amount")
	assert.Equal(t, 3, first.TransactionCount)

	h.clock.Advance(time.Hour)
	assert.False(t, h.rebuild(t, h.builders.Transaction, period.Daily, date))
	second := loadRow[recapdomain.TransactionRecap](t, h, period.Daily, date)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Checksum, second.Checksum)
	assert.True(t, first.UpdatedAt.Equal(second.UpdatedAt))
}

func TestTransactionRebuildSkipsEmptyPeriod(t *testing.T) {
	h := newHarness(t)
	date := day(2024, 3, 15)

	assert.False(t, h.rebuild(t, h.builders.Transaction, period.Daily, date))
	assert.Nil(t, loadRow[recapdomain.TransactionRecap](t, h, period.Daily, date))
}

func TestTransactionRebuildZeroesRowWhenSourcesDeleted(t *testing.T) {
	h := newHarness(t)
	date := day(2024, 3, 15)
	trx := h.addTransaction(t, fund.KindZM, date, "50000", "0", 0)
	require.True(t, h.rebuild(t, h.builders.Transaction, period.Daily, date))

	require.NoError(t, h.db.Delete(trx).Error)
	assert.True(t, h.rebuild(t, h.builders.Transaction, period.Daily, date))

	row := loadRow[recapdomain.TransactionRecap](t, h, period.Daily, date)
	require.NotNil(t, row)
	assertDec(t, "0", row.ZMAmount, "zm_amount")
	assert.Equal(t, 0, row.TransactionCount)
}

func TestTransactionMonthlyAndYearlyFromLowerRows(t *testing.T) {
	h := newHarness(t)
	h.addTransaction(t, fund.KindZF, day(2024, 3, 1), "25000", "2.5", 1)
	h.addTransaction(t, fund.KindZF, day(2024, 3, 31), "50000", "5", 2)
	h.addTransaction(t, fund.KindKurban, day(2024, 4, 2), "3000000", "0", 0)

	for _, d := range []time.Time{day(2024, 3, 1), day(2024, 3, 31), day(2024, 4, 2)} {
		h.rebuild(t, h.builders.Transaction, period.Daily, d)
	}
	h.rebuild(t, h.builders.Transaction, period.Monthly, day(2024, 3, 1))

	march := loadRow[recapdomain.TransactionRecap](t, h, period.Monthly, day(2024, 3, 1))
	require.NotNil(t, march)
	assert.Equal(t, "2024-03", march.PeriodKey)
	assertDec(t, "75000", march.ZFAmount, "zf_amount")
	assertDec(t, "7.5", march.ZFRiceKg, "zf_rice_kg")
	assert.Equal(t, 3, march.ZFSouls)
	assert.Equal(t, 2, march.TransactionCount)

	// The yearly row only sees months that were rebuilt.
	h.rebuild(t, h.builders.Transaction, period.Yearly, day(2024, 1, 1))
	year := loadRow[recapdomain.TransactionRecap](t, h, period.Yearly, day(2024, 1, 1))
	require.NotNil(t, year)
	assertDec(t, "75000", year.TotalAmount, "total_amount")

	h.rebuild(t, h.builders.Transaction, period.Monthly, day(2024, 4, 1))
	assert.True(t, h.rebuild(t, h.builders.Transaction, period.Yearly, day(2024, 1, 1)))
	year = loadRow[recapdomain.TransactionRecap](t, h, period.Yearly, day(2024, 1, 1))
	assertDec(t, "3075000", year.TotalAmount, "total_amount")
	assert.Equal(t, 3, year.TransactionCount)
}

func TestAllocationRebuildSplitsEachFundLine(t *testing.T) {
	h := newHarness(t)
	h.resolver.set(fund.TypeZF, "30", "12.5")
	h.resolver.set(fund.TypeIFS, "30", "20")

	date := day(2024, 3, 15)
	h.addTransaction(t, fund.KindZF, date, "100000", "2.5", 4)
	h.addTransaction(t, fund.KindIFS, date, "70000", "0", 0)
	h.addTransaction(t, fund.KindDonationBox, date, "30000", "0", 0)
	h.rebuild(t, h.builders.Transaction, period.Daily, date)

	assert.True(t, h.rebuild(t, h.builders.Allocation, period.Daily, date))
	row := loadRow[recapdomain.AllocationRecap](t, h, period.Daily, date)
	require.NotNil(t, row)

	assertDec(t, "30000", row.ZFMoney.Remit, "zf.remit")
	assertDec(t, "70000", row.ZFMoney.Retain, "zf.retain")
	assertDec(t, "8750", row.ZFMoney.Amil, "zf.amil")
	assertDec(t, "61250", row.ZFMoney.Distribute, "zf.distribute")
	assertDec(t, "1500", row.ZFMoney.Operator, "zf.operator")
	assert.Equal(t, 2024, row.ZFMoney.RuleYear)

	// Same retain, different amil percentage per fund type.
	assertDec(t, "100000", row.IFS.Total, "ifs.total")
	assertDec(t, "70000", row.IFS.Retain, "ifs.retain")
	assertDec(t, "14000", row.IFS.Amil, "ifs.amil")

	assertDec(t, "2.5", row.ZFRice.Total, "rice.total")
	assertDec(t, "0.75", row.ZFRice.Remit, "rice.remit")
	assertDec(t, "1.75", row.ZFRice.Retain, "rice.retain")
	assertDec(t, "0.219", row.ZFRice.Amil, "rice.amil")
	assertDec(t, "1.531", row.ZFRice.Distribute, "rice.distribute")
	assertDec(t, "0.038", row.ZFRice.Operator, "rice.operator")

	assertDec(t, "37500", row.ZFRiceValue.Total, "rice_value.total")
	assertDec(t, "3281.25", row.ZFRiceValue.Amil, "rice_value.amil")

	// ZM has no rule and no default amil but nothing was collected.
	assertDec(t, "0", row.ZM.Total, "zm.total")
	assertDec(t, "0", row.ZM.AmilPct, "zm.amil_pct")

	assertDec(t, "237500", row.TotalCollection, "total_collection")
	assertDec(t, "71250", row.TotalRemit, "total_remit")
	assertDec(t, "166250", row.TotalRetain, "total_retain")
	assert.True(t, row.TotalAmil.Add(row.TotalDistribute).Equal(row.TotalRetain))

	assert.False(t, h.rebuild(t, h.builders.Allocation, period.Daily, date))
}

func TestAllocationRemitAllLeavesNothingRetained(t *testing.T) {
	h := newHarness(t)
	h.resolver.set(fund.TypeZM, "100", "12.5")
	date := day(2024, 3, 15)
	h.addTransaction(t, fund.KindZM, date, "100000", "0", 0)
	h.rebuild(t, h.builders.Transaction, period.Daily, date)

	h.rebuild(t, h.builders.Allocation, period.Daily, date)
	row := loadRow[recapdomain.AllocationRecap](t, h, period.Daily, date)
	require.NotNil(t, row)
	assertDec(t, "100000", row.ZM.Remit, "zm.remit")
	assertDec(t, "0", row.ZM.Retain, "zm.retain")
	assertDec(t, "0", row.ZM.Amil, "zm.amil")
	assertDec(t, "0", row.ZM.Distribute, "zm.distribute")
}

func TestAllocationConfigurationMissingKeepsPriorRow(t *testing.T) {
	h := newHarness(t)
	h.resolver.set(fund.TypeZF, "30", "12.5")
	date := day(2024, 3, 15)
	h.addTransaction(t, fund.KindZF, date, "100000", "0", 1)
	h.rebuild(t, h.builders.Transaction, period.Daily, date)
	h.rebuild(t, h.builders.Allocation, period.Daily, date)
	prior := loadRow[recapdomain.AllocationRecap](t, h, period.Daily, date)
	require.NotNil(t, prior)

	h.addTransaction(t, fund.KindZM, date, "50000", "0", 0)
	h.rebuild(t, h.builders.Transaction, period.Daily, date)

	_, err := h.builders.Allocation.Rebuild(context.Background(), h.unit.ID, period.NewRef(period.Daily, date))
	require.ErrorIs(t, err, recapdomain.ErrConfigurationMissing)

	after := loadRow[recapdomain.AllocationRecap](t, h, period.Daily, date)
	assert.Equal(t, prior.Checksum, after.Checksum)
	assertDec(t, "100000", after.TotalCollection, "total_collection")

	_, err = h.query.Preview(context.Background(), recapdomain.ListRequest{
		UnitID:      h.unit.ID.String(),
		Granularity: "daily",
		Period:      "2024-03-15",
	})
	assert.ErrorIs(t, err, ruledomain.ErrConfigurationMissing)
}

func TestDistributionAndAmilRights(t *testing.T) {
	h := newHarness(t)
	date := day(2024, 4, 12)
	h.addDistribution(t, date, fund.AsnafFakir, "sembako", fund.TypeZF, "10000", "5", 4)
	h.addDistribution(t, date, fund.AsnafMiskin, "sembako", fund.TypeZF, "0", "2.5", 2)
	h.addDistribution(t, date, fund.AsnafFisabilillah, "beasiswa", fund.TypeIFS, "50000", "0", 1)

	assert.True(t, h.rebuild(t, h.builders.Distribution, period.Daily, date))
	dist := loadRow[recapdomain.DistributionRecap](t, h, period.Daily, date)
	require.NotNil(t, dist)
	assertDec(t, "60000", dist.TotalAmount, "total_amount")
	assertDec(t, "7.5", dist.TotalRiceKg, "total_rice_kg")
	assert.Equal(t, 7, dist.TotalBeneficiaries)
	assert.Equal(t, 3, dist.EventCount)

	var programs []recapdomain.Bucket
	require.NoError(t, json.Unmarshal(dist.ByProgram, &programs))
	require.Len(t, programs, 2)
	assert.Equal(t, "beasiswa", programs[0].Key)
	assert.Equal(t, "sembako", programs[1].Key)
	assertDec(t, "10000", programs[1].Amount, "sembako.amount")
	assert.Equal(t, 6, programs[1].Beneficiaries)

	assert.True(t, h.rebuild(t, h.builders.AmilRights, period.Daily, date))
	amil := loadRow[recapdomain.AmilRightsRecap](t, h, period.Daily, date)
	require.NotNil(t, amil)
	assertDec(t, "1250", amil.ZFAmil, "zf_amil")
	assertDec(t, "0.938", amil.ZFRiceAmilKg, "zf_rice_amil_kg")
	assertDec(t, "10000", amil.IFSAmil, "ifs_amil")
	assertDec(t, "11250", amil.TotalAmil, "total_amil")

	h.rebuild(t, h.builders.Distribution, period.Monthly, date)
	month := loadRow[recapdomain.DistributionRecap](t, h, period.Monthly, date)
	require.NotNil(t, month)
	assert.JSONEq(t, string(dist.ByAsnaf), string(month.ByAsnaf))
	assertDec(t, "60000", month.TotalAmount, "month.total_amount")

	h.rebuild(t, h.builders.AmilRights, period.Monthly, date)
	amilMonth := loadRow[recapdomain.AmilRightsRecap](t, h, period.Monthly, date)
	require.NotNil(t, amilMonth)
	assertDec(t, "11250", amilMonth.TotalAmil, "month.total_amil")
}

func TestUnitRollupCombinesRecapsAndDeposits(t *testing.T) {
	h := newHarness(t)
	h.resolver.set(fund.TypeZF, "30", "12.5")
	date := day(2024, 3, 15)
	h.addTransaction(t, fund.KindZF, date, "100000", "2", 1)
	h.addDistribution(t, date, fund.AsnafFakir, "sembako", fund.TypeZF, "40000", "1", 3)
	require.NoError(t, h.db.Create(&collectiondomain.Deposit{
		ID:          h.node.Generate(),
		UnitID:      h.unit.ID,
		DepositDate: date,
		FundType:    fund.TypeZF,
		Amount:      dec("20000"),
		RiceKg:      dec("0.5"),
		CreatedAt:   h.clock.Now(),
		UpdatedAt:   h.clock.Now(),
	}).Error)

	h.rebuild(t, h.builders.Transaction, period.Daily, date)
	h.rebuild(t, h.builders.Allocation, period.Daily, date)
	h.rebuild(t, h.builders.Distribution, period.Daily, date)
	h.rebuild(t, h.builders.AmilRights, period.Daily, date)
	assert.True(t, h.rebuild(t, h.builders.Unit, period.Daily, date))

	row := loadRow[recapdomain.UnitPeriodSummary](t, h, period.Daily, date)
	require.NotNil(t, row)
	// rice value 2kg * 15000 = 30000 on top of the money.
	assertDec(t, "130000", row.CollectionTotal, "collection_total")
	assertDec(t, "39000", row.RemitExpected, "remit_expected")
	assertDec(t, "20000", row.Deposited, "deposited")
	assertDec(t, "19000", row.DepositOutstanding, "deposit_outstanding")
	assertDec(t, "40000", row.Distributed, "distributed")
	assertDec(t, "5000", row.DistributionAmil, "distribution_amil")
	assertDec(t, "1950", row.OperatorRight, "operator_right")
	assertDec(t, "0.6", row.RiceRemitKg, "rice_remit_kg")
	assert.True(t, row.DistributionRemaining.Equal(row.DistributeAllocation.Sub(row.Distributed)))
	assert.Equal(t, 3, row.Beneficiaries)

	rows, err := h.query.List(context.Background(), recapdomain.KindUnit, recapdomain.ListRequest{
		UnitID:      h.unit.ID.String(),
		Granularity: "daily",
		From:        "2024-03-01",
		To:          "2024-03-31",
	})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestDistributionAmilAndUnitRebuildsAreIdempotent(t *testing.T) {
	h := newHarness(t)
	h.resolver.set(fund.TypeZF, "30", "12.5")
	date := day(2024, 3, 15)
	h.addTransaction(t, fund.KindZF, date, "100000", "2", 1)
	h.addDistribution(t, date, fund.AsnafFakir, "sembako", fund.TypeZF, "40000", "1", 3)
	h.addDistribution(t, day(2024, 3, 20), fund.AsnafMiskin, "sembako", fund.TypeZF, "0", "0.5", 1)

	granularities := []period.Granularity{period.Daily, period.Monthly, period.Yearly}
	for _, g := range granularities {
		h.rebuild(t, h.builders.Transaction, g, date)
		h.rebuild(t, h.builders.Allocation, g, date)
		assert.True(t, h.rebuild(t, h.builders.Distribution, g, date), "distribution %s", g)
		assert.True(t, h.rebuild(t, h.builders.AmilRights, g, date), "amil rights %s", g)
		assert.True(t, h.rebuild(t, h.builders.Unit, g, date), "unit %s", g)
	}

	for _, g := range granularities {
		assert.False(t, h.rebuild(t, h.builders.Distribution, g, date), "distribution %s", g)
		assert.False(t, h.rebuild(t, h.builders.AmilRights, g, date), "amil rights %s", g)
		assert.False(t, h.rebuild(t, h.builders.Unit, g, date), "unit %s", g)
	}
}
