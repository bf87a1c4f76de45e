package service

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/ziswaf/internal/clock"
	collectiondomain "github.com/smallbiznis/ziswaf/internal/collection/domain"
	"github.com/smallbiznis/ziswaf/internal/events"
	"github.com/smallbiznis/ziswaf/internal/fund"
	unitdomain "github.com/smallbiznis/ziswaf/internal/unit/domain"
	unitrepository "github.com/smallbiznis/ziswaf/internal/unit/repository"
	"github.com/smallbiznis/ziswaf/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recordingPublisher struct {
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, _ *gorm.DB, evt events.Event) error {
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) kinds() []events.Kind {
	out := make([]events.Kind, 0, len(p.events))
	for _, evt := range p.events {
		out = append(out, evt.Kind)
	}
	return out
}

type fixture struct {
	db        *gorm.DB
	params    serviceParams
	publisher *recordingPublisher
	unitID    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&unitdomain.Unit{},
		&collectiondomain.FundTransaction{},
		&collectiondomain.Deposit{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2024, 3, 20, 9, 0, 0, 0, time.UTC))

	units := unitrepository.NewRepository(conn)
	unit := &unitdomain.Unit{
		ID:        node.Generate(),
		Code:      "upz-masjid-raya",
		Name:      "UPZ Masjid Raya",
		RicePrice: decimal.NewFromInt(15000),
		CreatedAt: clk.Now(),
		UpdatedAt: clk.Now(),
	}
	require.NoError(t, units.Create(context.Background(), unit))

	pub := &recordingPublisher{}
	return &fixture{
		db:        conn,
		publisher: pub,
		unitID:    unit.ID.String(),
		params: serviceParams{
			DB:        conn,
			Log:       zap.NewNop(),
			GenID:     node,
			Clock:     clk,
			Units:     units,
			Publisher: pub,
		},
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestTransactionLifecyclePublishesEvents(t *testing.T) {
	f := newFixture(t)
	svc := NewTransactionService(f.params)
	ctx := context.Background()

	created, err := svc.Create(ctx, collectiondomain.CreateTransactionRequest{
		UnitID:    f.unitID,
		Kind:      "ZF",
		TrxDate:   "2024-03-15",
		Amount:    dec("100000.005"),
		RiceKg:    dec("2.5"),
		SoulCount: 4,
	})
	require.NoError(t, err)
	assert.Equal(t, "zf", created.Kind)
	assert.Equal(t, "2024-03-15", created.TrxDate)
	assert.True(t, dec("100000.01").Equal(created.Amount))

	note := "paid at the mosque"
	_, err = svc.Update(ctx, collectiondomain.UpdateTransactionRequest{ID: created.ID, Description: &note})
	require.NoError(t, err)
	require.Len(t, f.publisher.events, 1, "description edits do not reach the cascade")

	amount := dec("150000")
	updated, err := svc.Update(ctx, collectiondomain.UpdateTransactionRequest{ID: created.ID, Amount: &amount})
	require.NoError(t, err)
	assert.True(t, amount.Equal(updated.Amount))
	require.Len(t, f.publisher.events, 2)
	changes := f.publisher.events[1].Changes
	require.Len(t, changes, 1)
	assert.Equal(t, "amount", changes[0].Field)
	assert.Equal(t, "100000.01", changes[0].Old)
	assert.Equal(t, "150000.00", changes[0].New)

	require.NoError(t, svc.Delete(ctx, created.ID))
	_, err = svc.Get(ctx, created.ID)
	assert.ErrorIs(t, err, collectiondomain.ErrNotFound)

	restored, err := svc.Restore(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, restored.ID)
	_, err = svc.Restore(ctx, created.ID)
	assert.ErrorIs(t, err, events.ErrNotDeleted)

	require.NoError(t, svc.ForceDelete(ctx, created.ID))
	_, err = svc.Get(ctx, created.ID)
	assert.ErrorIs(t, err, collectiondomain.ErrNotFound)
	assert.ErrorIs(t, svc.ForceDelete(ctx, created.ID), collectiondomain.ErrNotFound)

	assert.Equal(t, []events.Kind{
		events.KindCreated,
		events.KindUpdated,
		events.KindDeleted,
		events.KindRestored,
		events.KindForceDeleted,
	}, f.publisher.kinds())
	for _, evt := range f.publisher.events {
		assert.Equal(t, events.RecordFundTransaction, evt.RecordType)
	}
}

func TestMovingTransactionReportsOldAndNewKey(t *testing.T) {
	f := newFixture(t)
	svc := NewTransactionService(f.params)
	ctx := context.Background()

	created, err := svc.Create(ctx, collectiondomain.CreateTransactionRequest{
		UnitID: f.unitID, Kind: "zm", TrxDate: "2024-03-15", Amount: dec("2500000"),
	})
	require.NoError(t, err)

	date := "2024-03-16"
	_, err = svc.Update(ctx, collectiondomain.UpdateTransactionRequest{ID: created.ID, TrxDate: &date})
	require.NoError(t, err)

	evt := f.publisher.events[len(f.publisher.events)-1]
	require.NotNil(t, evt.Previous)
	require.NotNil(t, evt.Current)
	assert.Equal(t, "2024-03-15", evt.Previous.Date.Format("2006-01-02"))
	assert.Equal(t, "2024-03-16", evt.Current.Date.Format("2006-01-02"))
	assert.True(t, evt.Changed(events.FieldDate))
}

func TestCreateTransactionValidation(t *testing.T) {
	f := newFixture(t)
	svc := NewTransactionService(f.params)

	valid := func() collectiondomain.CreateTransactionRequest {
		return collectiondomain.CreateTransactionRequest{
			UnitID:  f.unitID,
			Kind:    "zm",
			TrxDate: "2024-03-15",
			Amount:  dec("50000"),
		}
	}

	cases := []struct {
		name   string
		mutate func(*collectiondomain.CreateTransactionRequest)
		want   error
	}{
		{"malformed unit", func(r *collectiondomain.CreateTransactionRequest) { r.UnitID = "upz" }, collectiondomain.ErrInvalidUnit},
		{"unknown unit", func(r *collectiondomain.CreateTransactionRequest) { r.UnitID = "42" }, collectiondomain.ErrUnitNotFound},
		{"unknown kind", func(r *collectiondomain.CreateTransactionRequest) { r.Kind = "wakaf" }, fund.ErrInvalidKind},
		{"bad date", func(r *collectiondomain.CreateTransactionRequest) { r.TrxDate = "15/03/2024" }, collectiondomain.ErrInvalidDate},
		{"negative amount", func(r *collectiondomain.CreateTransactionRequest) { r.Amount = dec("-1") }, collectiondomain.ErrInvalidAmount},
		{"rice on zakat mal", func(r *collectiondomain.CreateTransactionRequest) { r.RiceKg = dec("2.5") }, collectiondomain.ErrInvalidRice},
		{"animals outside kurban", func(r *collectiondomain.CreateTransactionRequest) { r.AnimalCount = 1 }, collectiondomain.ErrInvalidCount},
		{"nothing collected", func(r *collectiondomain.CreateTransactionRequest) { r.Amount = decimal.Zero }, collectiondomain.ErrEmptyTransaction},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := valid()
			tc.mutate(&req)
			_, err := svc.Create(context.Background(), req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Empty(t, f.publisher.events)
}

func TestListTransactionsFiltersAndPages(t *testing.T) {
	f := newFixture(t)
	svc := NewTransactionService(f.params)
	ctx := context.Background()

	for _, req := range []collectiondomain.CreateTransactionRequest{
		{UnitID: f.unitID, Kind: "zm", TrxDate: "2024-03-01", Amount: dec("100")},
		{UnitID: f.unitID, Kind: "zm", TrxDate: "2024-03-02", Amount: dec("200")},
		{UnitID: f.unitID, Kind: "zm", TrxDate: "2024-03-03", Amount: dec("300")},
		{UnitID: f.unitID, Kind: "ifs", TrxDate: "2024-03-02", Amount: dec("400")},
	} {
		_, err := svc.Create(ctx, req)
		require.NoError(t, err)
	}

	first, err := svc.List(ctx, collectiondomain.ListTransactionRequest{UnitID: f.unitID, Kind: "zm", PageSize: 2})
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	require.True(t, first.PageInfo.HasMore)
	assert.Equal(t, "2024-03-01", first.Items[0].TrxDate)

	second, err := svc.List(ctx, collectiondomain.ListTransactionRequest{
		UnitID:    f.unitID,
		Kind:      "zm",
		PageSize:  2,
		PageToken: first.PageInfo.NextPageToken,
	})
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	assert.False(t, second.PageInfo.HasMore)
	assert.Equal(t, "2024-03-03", second.Items[0].TrxDate)

	_, err = svc.List(ctx, collectiondomain.ListTransactionRequest{Kind: "wakaf"})
	assert.ErrorIs(t, err, fund.ErrInvalidKind)
	_, err = svc.List(ctx, collectiondomain.ListTransactionRequest{DateFrom: "March"})
	assert.ErrorIs(t, err, collectiondomain.ErrInvalidDate)
}

func TestDepositLifecycle(t *testing.T) {
	f := newFixture(t)
	svc := NewDepositService(f.params)
	ctx := context.Background()

	_, err := svc.Create(ctx, collectiondomain.CreateDepositRequest{
		UnitID: f.unitID, DepositDate: "2024-03-31", FundType: "ZM", RiceKg: dec("10"),
	})
	assert.ErrorIs(t, err, collectiondomain.ErrInvalidRice)

	created, err := svc.Create(ctx, collectiondomain.CreateDepositRequest{
		UnitID: f.unitID, DepositDate: "2024-03-31", FundType: "zf", Amount: dec("300000"), RiceKg: dec("25"),
	})
	require.NoError(t, err)
	assert.Equal(t, "ZF", created.FundType)

	ref := "TRF-0331"
	_, err = svc.Update(ctx, collectiondomain.UpdateDepositRequest{ID: created.ID, Reference: &ref})
	require.NoError(t, err)
	amount := dec("350000")
	_, err = svc.Update(ctx, collectiondomain.UpdateDepositRequest{ID: created.ID, Amount: &amount})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, created.ID))
	_, err = svc.Get(ctx, created.ID)
	assert.ErrorIs(t, err, collectiondomain.ErrNotFound)

	assert.Equal(t, []events.Kind{events.KindCreated, events.KindUpdated, events.KindDeleted}, f.publisher.kinds())
	assert.Equal(t, events.RecordDeposit, f.publisher.events[0].RecordType)
}

func workbook(t *testing.T, rows ...[]any) *bytes.Reader {
	t.Helper()
	book := excelize.NewFile()
	defer book.Close()
	sheet := book.GetSheetName(0)
	for idx, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, idx+1)
		require.NoError(t, err)
		values := row
		require.NoError(t, book.SetSheetRow(sheet, cell, &values))
	}
	buf, err := book.WriteToBuffer()
	require.NoError(t, err)
	return bytes.NewReader(buf.Bytes())
}

func TestImportTransactionsReportsRejectedRows(t *testing.T) {
	f := newFixture(t)
	imp := NewImporter(importerParams{DB: f.db, Log: zap.NewNop(), Service: f.params})

	file := workbook(t,
		[]any{"Trx_Date", "Kind", "Amount", "Rice_Kg", "Soul_Count", "Contributor_Name"},
		[]any{"2024-03-15", "zf", "0", "7.5", "3", "Keluarga Ahmad"},
		[]any{"2024-03-15", "wakaf", "10000", "", "", ""},
		[]any{"2024-03-16", "ifs", "1,250,000", "", "", "Hamba Allah"},
	)

	result, err := imp.ImportTransactions(context.Background(), f.unitID, file)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Imported)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, 3, result.Errors[0].Row)
	assert.NotEmpty(t, result.BatchID)

	var stored []collectiondomain.FundTransaction
	require.NoError(t, f.db.Order("trx_date").Find(&stored).Error)
	require.Len(t, stored, 2)
	for _, trx := range stored {
		require.NotNil(t, trx.ImportBatchID)
		assert.Equal(t, result.BatchID, *trx.ImportBatchID)
	}
	assert.True(t, dec("7.5").Equal(stored[0].RiceKg))
	assert.True(t, dec("1250000").Equal(stored[1].Amount))

	assert.Equal(t, []events.Kind{events.KindCreated, events.KindCreated}, f.publisher.kinds())
}

func TestImportTransactionsRejectsBadWorkbook(t *testing.T) {
	f := newFixture(t)
	imp := NewImporter(importerParams{DB: f.db, Log: zap.NewNop(), Service: f.params})
	ctx := context.Background()

	_, err := imp.ImportTransactions(ctx, f.unitID, bytes.NewReader([]byte("not a workbook")))
	assert.ErrorIs(t, err, collectiondomain.ErrInvalidImport)

	_, err = imp.ImportTransactions(ctx, f.unitID, workbook(t,
		[]any{"amount"},
		[]any{"1000"},
	))
	assert.ErrorIs(t, err, collectiondomain.ErrInvalidImport)

	_, err = imp.ImportTransactions(ctx, f.unitID, workbook(t,
		[]any{"trx_date", "kind", "amount"},
	))
	assert.ErrorIs(t, err, collectiondomain.ErrInvalidImport)
	assert.Empty(t, f.publisher.events)
}
