package cascade

import (
	"context"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	ruledomain "github.com/smallbiznis/ziswaf/internal/allocationrule/domain"
	"github.com/smallbiznis/ziswaf/internal/cascade/domain"
	"github.com/smallbiznis/ziswaf/internal/clock"
	collectiondomain "github.com/smallbiznis/ziswaf/internal/collection/domain"
	"github.com/smallbiznis/ziswaf/internal/config"
	distributiondomain "github.com/smallbiznis/ziswaf/internal/distribution/domain"
	"github.com/smallbiznis/ziswaf/internal/events"
	"github.com/smallbiznis/ziswaf/internal/fund"
	"github.com/smallbiznis/ziswaf/internal/lock"
	"github.com/smallbiznis/ziswaf/internal/period"
	recapdomain "github.com/smallbiznis/ziswaf/internal/recap/domain"
	recapservice "github.com/smallbiznis/ziswaf/internal/recap/service"
	unitdomain "github.com/smallbiznis/ziswaf/internal/unit/domain"
	unitrepository "github.com/smallbiznis/ziswaf/internal/unit/repository"
	"github.com/smallbiznis/ziswaf/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubResolver struct {
	rules map[fund.Type]ruledomain.Resolution
}

func (r *stubResolver) Resolve(ctx context.Context, ft fund.Type, date time.Time) (ruledomain.Resolution, error) {
	res, err := r.ResolveSplit(ctx, ft, date)
	if err != nil {
		return res, err
	}
	if res.Source == ruledomain.SourceDefault {
		return ruledomain.Resolution{}, fmt.Errorf("%w: fund_type=%s", ruledomain.ErrConfigurationMissing, ft)
	}
	return res, nil
}

func (r *stubResolver) ResolveSplit(_ context.Context, ft fund.Type, _ time.Time) (ruledomain.Resolution, error) {
	if res, ok := r.rules[ft]; ok {
		return res, nil
	}
	return ruledomain.Resolution{
		FundType:  ft,
		RemitPct:  decimal.NewFromInt(30),
		RetainPct: decimal.NewFromInt(70),
		Source:    ruledomain.SourceDefault,
	}, nil
}

func (r *stubResolver) Invalidate() {}

type harness struct {
	db         *gorm.DB
	node       *snowflake.Node
	clock      *clock.FakeClock
	unit       *unitdomain.Unit
	queue      *Queue
	dispatcher *Dispatcher
	locker     *lock.LocalLocker
	resolver   *stubResolver
	trxStore   *events.RecordStore[collectiondomain.FundTransaction, *collectiondomain.FundTransaction]
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
		&domain.Task{},
	}
	require.NoError(t, conn.AutoMigrate(append(models, recapdomain.Models()...)...))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	policy, err := config.ParseAllocationConfig(config.DefaultAllocationConfig())
	require.NoError(t, err)

	h := &harness{
		db:     conn,
		node:   node,
		clock:  clock.NewFakeClock(time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC)),
		locker: lock.NewLocalLocker(),
		resolver: &stubResolver{rules: map[fund.Type]ruledomain.Resolution{
			fund.TypeZF: {
				FundType:      fund.TypeZF,
				RemitPct:      decimal.NewFromInt(30),
				RetainPct:     decimal.NewFromInt(70),
				AmilPct:       decimal.RequireFromString("12.5"),
				Source:        ruledomain.SourceRule,
				EffectiveYear: 2024,
			},
		}},
	}

	units := unitrepository.NewRepository(conn)
	h.unit = &unitdomain.Unit{
		ID:        node.Generate(),
		Code:      "upz-01",
		Name:      "UPZ 01",
		RicePrice: decimal.NewFromInt(15000),
		CreatedAt: h.clock.Now(),
		UpdatedAt: h.clock.Now(),
	}
	require.NoError(t, units.Create(context.Background(), h.unit))

	cfg := config.Config{Worker: config.WorkerConfig{
		Concurrency:    2,
		BatchSize:      10,
		TaskTimeout:    5 * time.Second,
		MaxAttempts:    3,
		RetryBaseDelay: 10 * time.Second,
		RetryMaxDelay:  time.Minute,
	}}
	h.queue = NewQueue(QueueParams{
		DB:     conn,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  h.clock,
		Config: cfg,
		Units:  units,
	})
	builders := recapservice.NewBuilders(recapservice.Params{
		DB:       conn,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    h.clock,
		Resolver: h.resolver,
		Units:    units,
		Policy:   config.NewStaticAllocationPolicyHolder(policy),
	})
	h.dispatcher = NewDispatcher(DispatcherParams{
		Queue:    h.queue,
		Locker:   h.locker,
		Builders: builders,
		Config:   cfg,
		Clock:    h.clock,
		Log:      zap.NewNop(),
	})
	router := NewRouter(RouterParams{Queue: h.queue, Log: zap.NewNop()})
	h.trxStore = events.NewRecordStore[collectiondomain.FundTransaction](
		conn, router, events.RecordFundTransaction, collectiondomain.ErrNotFound, h.clock.Now,
	)
	return h
}

func (h *harness) newTransaction(kind fund.Kind, date time.Time, amount string) *collectiondomain.FundTransaction {
	return &collectiondomain.FundTransaction{
		ID:        h.node.Generate(),
		UnitID:    h.unit.ID,
		Kind:      kind,
		TrxDate:   date,
		Amount:    decimal.RequireFromString(amount),
		CreatedAt: h.clock.Now(),
		UpdatedAt: h.clock.Now(),
	}
}

func (h *harness) drain(t *testing.T) int {
	t.Helper()
	n, err := h.dispatcher.Drain(context.Background())
	require.NoError(t, err)
	return n
}

func (h *harness) tasks(t *testing.T, status domain.Status) []domain.Task {
	t.Helper()
	var tasks []domain.Task
	require.NoError(t, h.db.Where("status = ?", status).Order("id ASC").Find(&tasks).Error)
	return tasks
}

func transactionRecap(t *testing.T, h *harness, g period.Granularity, date time.Time) *recapdomain.TransactionRecap {
	t.Helper()
	var row recapdomain.TransactionRecap
	err := h.db.Where("unit_id = ? AND granularity = ? AND period_key = ?", h.unit.ID, g, period.Key(g, date)).Take(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil
	}
	require.NoError(t, err)
	return &row
}

func allocationRecap(t *testing.T, h *harness, g period.Granularity, date time.Time) *recapdomain.AllocationRecap {
	t.Helper()
	var row recapdomain.AllocationRecap
	err := h.db.Where("unit_id = ? AND granularity = ? AND period_key = ?", h.unit.ID, g, period.Key(g, date)).Take(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil
	}
	require.NoError(t, err)
	return &row
}

func TestCascadeFollowsTransactionLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	date := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	trx := h.newTransaction(fund.KindZF, date, "100000")
	require.NoError(t, h.trxStore.Create(ctx, trx))

	pending := h.tasks(t, domain.StatusPending)
	require.Len(t, pending, 1)
	assert.Equal(t, domain.TaskTransactionRecap, pending[0].TaskType)
	assert.Equal(t, "fund_transaction:created", pending[0].Source)

	h.drain(t)
	assert.Empty(t, h.tasks(t, domain.StatusPending))
	assert.Empty(t, h.tasks(t, domain.StatusDead))

	for _, g := range period.All() {
		recap := transactionRecap(t, h, g, date)
		require.NotNil(t, recap, g)
		assert.True(t, recap.ZFAmount.Equal(decimal.NewFromInt(100000)), g)

		alloc := allocationRecap(t, h, g, date)
		require.NotNil(t, alloc, g)
		assert.True(t, alloc.ZFMoney.Amil.Equal(decimal.NewFromInt(8750)), g)

		var summary recapdomain.UnitPeriodSummary
		require.NoError(t, h.db.Where("unit_id = ? AND granularity = ?", h.unit.ID, g).Take(&summary).Error)
		assert.True(t, summary.RemitExpected.Equal(decimal.NewFromInt(30000)), g)
	}

	_, err := h.trxStore.Update(ctx, trx.ID, func(rec *collectiondomain.FundTransaction) error {
		rec.Amount = decimal.NewFromInt(200000)
		return nil
	})
	require.NoError(t, err)
	h.drain(t)
	yearly := allocationRecap(t, h, period.Yearly, date)
	require.NotNil(t, yearly)
	assert.True(t, yearly.ZFMoney.Total.Equal(decimal.NewFromInt(200000)))

	require.NoError(t, h.trxStore.Delete(ctx, trx.ID))
	h.drain(t)
	monthly := transactionRecap(t, h, period.Monthly, date)
	require.NotNil(t, monthly)
	assert.True(t, monthly.TotalAmount.IsZero())
	assert.Equal(t, 0, monthly.TransactionCount)
	assert.True(t, allocationRecap(t, h, period.Monthly, date).TotalCollection.IsZero())
}

func TestMovingTransactionRecomputesBothDays(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	from := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC)

	trx := h.newTransaction(fund.KindZF, from, "50000")
	require.NoError(t, h.trxStore.Create(ctx, trx))
	h.drain(t)

	_, err := h.trxStore.Update(ctx, trx.ID, func(rec *collectiondomain.FundTransaction) error {
		rec.TrxDate = to
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, h.tasks(t, domain.StatusPending), 2)
	h.drain(t)

	assert.True(t, transactionRecap(t, h, period.Daily, from).ZFAmount.IsZero())
	assert.True(t, transactionRecap(t, h, period.Daily, to).ZFAmount.Equal(decimal.NewFromInt(50000)))
	assert.True(t, transactionRecap(t, h, period.Monthly, from).ZFAmount.Equal(decimal.NewFromInt(50000)))
}

func TestUnchangedUpdateDoesNotEnqueue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	trx := h.newTransaction(fund.KindZF, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), "50000")
	require.NoError(t, h.trxStore.Create(ctx, trx))
	h.drain(t)

	desc := "catatan"
	_, err := h.trxStore.Update(ctx, trx.ID, func(rec *collectiondomain.FundTransaction) error {
		rec.Description = &desc
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, h.tasks(t, domain.StatusPending))
}

func TestConfigurationMissingGoesStraightToDead(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	date := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	require.NoError(t, h.trxStore.Create(ctx, h.newTransaction(fund.KindZM, date, "100000")))
	h.drain(t)

	dead := h.tasks(t, domain.StatusDead)
	require.Len(t, dead, 3)
	for _, task := range dead {
		assert.Equal(t, domain.TaskAllocationRecap, task.TaskType)
		assert.Equal(t, 1, task.Attempts)
		require.NotNil(t, task.DeadReason)
		assert.Equal(t, reasonConfigurationMissing, *task.DeadReason)
	}
	assert.Nil(t, allocationRecap(t, h, period.Daily, date))
	require.NotNil(t, transactionRecap(t, h, period.Daily, date))

	// Once the rule exists the operator requeues and the row appears.
	h.resolver.rules[fund.TypeZM] = ruledomain.Resolution{
		FundType:  fund.TypeZM,
		RemitPct:  decimal.NewFromInt(30),
		RetainPct: decimal.NewFromInt(70),
		AmilPct:   decimal.NewFromInt(10),
		Source:    ruledomain.SourceRule,
	}
	listed, err := h.queue.ListDead(ctx, 0)
	require.NoError(t, err)
	for _, task := range listed {
		requeued, err := h.queue.Requeue(ctx, task.ID.String())
		require.NoError(t, err)
		assert.Equal(t, 0, requeued.Attempts)
	}
	h.drain(t)
	alloc := allocationRecap(t, h, period.Daily, date)
	require.NotNil(t, alloc)
	assert.True(t, alloc.ZM.Amil.Equal(decimal.NewFromInt(7000)))
}

func TestTransientFailureRetriesThenDies(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ref := period.NewRef(period.Daily, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, h.queue.Enqueue(ctx, nil, "test", domain.Spec{Type: domain.TaskTransactionRecap, UnitID: h.unit.ID, Ref: ref}))

	// Dropping the source table makes every attempt fail with a storage error.
	require.NoError(t, h.db.Migrator().DropTable(&collectiondomain.FundTransaction{}))

	for attempt := 1; attempt <= 3; attempt++ {
		assert.Equal(t, 1, h.drain(t), "attempt %d", attempt)
		h.clock.Advance(time.Minute)
	}
	assert.Equal(t, 0, h.drain(t))

	dead := h.tasks(t, domain.StatusDead)
	require.Len(t, dead, 1)
	assert.Equal(t, 3, dead[0].Attempts)
	assert.Equal(t, reasonMaxAttempts, *dead[0].DeadReason)
	require.NotNil(t, dead[0].LastError)
}

func TestLockedKeyIsDeferred(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	spec := domain.Spec{
		Type:   domain.TaskTransactionRecap,
		UnitID: h.unit.ID,
		Ref:    period.NewRef(period.Daily, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)),
	}
	require.NoError(t, h.queue.Enqueue(ctx, nil, "test", spec))

	held, err := h.locker.Obtain(ctx, spec.DedupeKey(), time.Minute)
	require.NoError(t, err)

	assert.Equal(t, 1, h.drain(t))
	pending := h.tasks(t, domain.StatusPending)
	require.Len(t, pending, 1)
	assert.Equal(t, 0, pending[0].Attempts)

	require.NoError(t, held.Release(ctx))
	h.clock.Advance(2 * time.Second)
	assert.Equal(t, 1, h.drain(t))
	assert.Len(t, h.tasks(t, domain.StatusCompleted), 1)
}

func TestEnqueueCoalescesPendingTasks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	spec := domain.Spec{
		Type:   domain.TaskDistributionRecap,
		UnitID: h.unit.ID,
		Ref:    period.NewRef(period.Monthly, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)),
	}
	require.NoError(t, h.queue.Enqueue(ctx, nil, "test", spec, spec))
	require.NoError(t, h.queue.Enqueue(ctx, nil, "test", spec))

	pending := h.tasks(t, domain.StatusPending)
	require.Len(t, pending, 1)
	assert.Equal(t, fmt.Sprintf("distribution_recap:%d:monthly:2024-03", h.unit.ID), pending[0].DedupeKey)

	claimed, err := h.queue.Claim(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	// A write while the task runs needs a fresh pass.
	require.NoError(t, h.queue.Enqueue(ctx, nil, "test", spec))
	assert.Len(t, h.tasks(t, domain.StatusPending), 1)
	assert.Len(t, h.tasks(t, domain.StatusProcessing), 1)
}

func TestRecoverStuckAndPurge(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	spec := domain.Spec{
		Type:   domain.TaskUnitRollup,
		UnitID: h.unit.ID,
		Ref:    period.NewRef(period.Yearly, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)),
	}
	require.NoError(t, h.queue.Enqueue(ctx, nil, "test", spec))
	_, err := h.queue.Claim(ctx, 1)
	require.NoError(t, err)

	n, err := h.queue.RecoverStuck(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	h.clock.Advance(16 * time.Minute)
	n, err = h.queue.RecoverStuck(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	h.drain(t)
	require.Len(t, h.tasks(t, domain.StatusCompleted), 1)
	h.clock.Advance(48 * time.Hour)
	n, err = h.queue.PurgeCompleted(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRecoverStuckKillsTasksOutOfAttempts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	spec := domain.Spec{
		Type:   domain.TaskUnitRollup,
		UnitID: h.unit.ID,
		Ref:    period.NewRef(period.Monthly, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)),
	}
	require.NoError(t, h.queue.Enqueue(ctx, nil, "test", spec))

	for attempt := 1; attempt <= 3; attempt++ {
		claimed, err := h.queue.Claim(ctx, 1)
		require.NoError(t, err)
		require.Len(t, claimed, 1, "attempt %d", attempt)
		assert.Equal(t, attempt, claimed[0].Attempts)

		h.clock.Advance(16 * time.Minute)
		n, err := h.queue.RecoverStuck(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	}

	assert.Empty(t, h.tasks(t, domain.StatusPending))
	assert.Empty(t, h.tasks(t, domain.StatusProcessing))
	dead := h.tasks(t, domain.StatusDead)
	require.Len(t, dead, 1)
	require.NotNil(t, dead[0].DeadReason)
	assert.Equal(t, reasonMaxAttempts, *dead[0].DeadReason)
	require.NotNil(t, dead[0].LastError)
	assert.Contains(t, *dead[0].LastError, "after 3 attempts")
}

func TestProcessRecordsOutcomeAfterCancellation(t *testing.T) {
	h := newHarness(t)
	spec := domain.Spec{
		Type:   domain.TaskDistributionRecap,
		UnitID: h.unit.ID,
		Ref:    period.NewRef(period.Daily, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)),
	}
	require.NoError(t, h.queue.Enqueue(context.Background(), nil, "test", spec))
	claimed, err := h.queue.Claim(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, h.dispatcher.Process(ctx, &claimed[0]))

	assert.Empty(t, h.tasks(t, domain.StatusProcessing), "a cancelled run must not strand the task")
	assert.Len(t, append(h.tasks(t, domain.StatusPending), h.tasks(t, domain.StatusCompleted)...), 1)
}

func TestRequestRebuild(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	resp, err := h.queue.RequestRebuild(ctx, domain.RebuildRequest{
		UnitID: h.unit.ID.String(),
		From:   "2024-03-30",
		To:     "2024-04-01",
	})
	require.NoError(t, err)
	// 3 days, 2 months, 1 year, five recaps each.
	assert.Equal(t, 30, resp.Enqueued)

	_, err = h.queue.RequestRebuild(ctx, domain.RebuildRequest{UnitID: h.unit.ID.String(), From: "2023-01-01", To: "2024-03-01"})
	assert.ErrorIs(t, err, domain.ErrRangeTooWide)

	_, err = h.queue.RequestRebuild(ctx, domain.RebuildRequest{UnitID: h.unit.ID.String(), From: "2024-03-02", To: "2024-03-01"})
	assert.ErrorIs(t, err, domain.ErrInvalidRange)

	_, err = h.queue.RequestRebuild(ctx, domain.RebuildRequest{UnitID: "42", From: "2024-03-01", To: "2024-03-01"})
	assert.ErrorIs(t, err, domain.ErrInvalidUnit)
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, 10*time.Second, h.queue.Backoff(1))
	assert.Equal(t, 20*time.Second, h.queue.Backoff(2))
	assert.Equal(t, 40*time.Second, h.queue.Backoff(3))
	assert.Equal(t, time.Minute, h.queue.Backoff(4))
	assert.Equal(t, time.Minute, h.queue.Backoff(10))
}

func TestFanOut(t *testing.T) {
	unitID := snowflake.ID(7)
	day := period.NewRef(period.Daily, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC))
	year := period.NewRef(period.Yearly, day.Start)

	cases := []struct {
		name string
		task domain.Task
		want []string
	}{
		{
			name: "daily transaction",
			task: domain.Task{TaskType: domain.TaskTransactionRecap, UnitID: unitID, Granularity: day.Granularity, PeriodDate: day.Start},
			want: []string{"transaction_recap:7:monthly:2024-03", "allocation_recap:7:daily:2024-03-15"},
		},
		{
			name: "yearly transaction",
			task: domain.Task{TaskType: domain.TaskTransactionRecap, UnitID: unitID, Granularity: year.Granularity, PeriodDate: year.Start},
			want: []string{"allocation_recap:7:yearly:2024"},
		},
		{
			name: "allocation",
			task: domain.Task{TaskType: domain.TaskAllocationRecap, UnitID: unitID, Granularity: day.Granularity, PeriodDate: day.Start},
			want: []string{"unit_rollup:7:daily:2024-03-15"},
		},
		{
			name: "amil rights",
			task: domain.Task{TaskType: domain.TaskAmilRightsRecap, UnitID: unitID, Granularity: day.Granularity, PeriodDate: day.Start},
			want: []string{"amil_rights_recap:7:monthly:2024-03", "unit_rollup:7:daily:2024-03-15"},
		},
		{
			name: "rollup",
			task: domain.Task{TaskType: domain.TaskUnitRollup, UnitID: unitID, Granularity: day.Granularity, PeriodDate: day.Start},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got []string
			for _, spec := range FanOut(&tc.task) {
				got = append(got, spec.DedupeKey())
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRuleAndRicePriceChangesReallocateExistingRecaps(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	date := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	require.NoError(t, h.trxStore.Create(ctx, h.newTransaction(fund.KindZF, date, "100000")))
	h.drain(t)
	require.Empty(t, h.tasks(t, domain.StatusPending))

	router := NewRouter(RouterParams{Queue: h.queue, Log: zap.NewNop()})
	publish := func(evt events.Event) {
		t.Helper()
		require.NoError(t, h.db.Transaction(func(tx *gorm.DB) error {
			return router.Publish(ctx, tx, evt)
		}))
	}
	ruleSnapshot := func(year string) *events.Snapshot {
		y, err := strconv.Atoi(year)
		require.NoError(t, err)
		return &events.Snapshot{
			Date:   time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC),
			Values: map[string]string{"fund_type": "ZF", "effective_year": year},
		}
	}

	publish(events.New(events.KindCreated, events.RecordAllocationRule, h.node.Generate(), nil, ruleSnapshot("2025"), h.clock.Now()))
	assert.Empty(t, h.tasks(t, domain.StatusPending), "no recap falls in a later effective year")

	publish(events.New(events.KindCreated, events.RecordAllocationRule, h.node.Generate(), nil, ruleSnapshot("2024"), h.clock.Now()))
	pending := h.tasks(t, domain.StatusPending)
	require.Len(t, pending, len(period.All()))
	for _, task := range pending {
		assert.Equal(t, domain.TaskAllocationRecap, task.TaskType)
		assert.Equal(t, "allocation_rule:created", task.Source)
	}

	unitEvent := events.New(events.KindUpdated, events.RecordUnit, h.unit.ID,
		&events.Snapshot{UnitID: h.unit.ID, Values: map[string]string{"rice_price": "15000.00"}},
		&events.Snapshot{UnitID: h.unit.ID, Values: map[string]string{"rice_price": "16000.00"}},
		h.clock.Now(),
	)
	publish(unitEvent)
	assert.Len(t, h.tasks(t, domain.StatusPending), len(period.All()), "pending keys are coalesced")

	h.drain(t)
	assert.Empty(t, h.tasks(t, domain.StatusPending))
	assert.Empty(t, h.tasks(t, domain.StatusDead))
}
