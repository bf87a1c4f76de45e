package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/ziswaf/internal/audit/domain"
	"github.com/smallbiznis/ziswaf/internal/audit/repository"
	"github.com/smallbiznis/ziswaf/internal/events"
	obscontext "github.com/smallbiznis/ziswaf/internal/observability/context"
	"github.com/smallbiznis/ziswaf/pkg/db"
	"github.com/smallbiznis/ziswaf/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (auditdomain.Service, *gorm.DB) {
	t.Helper()
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&auditdomain.AuditLog{}))
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
	}), conn
}

func trx(unit snowflake.ID, amount string) *events.Snapshot {
	return &events.Snapshot{
		UnitID: unit,
		Date:   time.Date(2024, time.April, 2, 0, 0, 0, 0, time.UTC),
		Values: map[string]string{"kind": "zm", "amount": amount},
	}
}

func TestPublishRecordsChangesAndActor(t *testing.T) {
	svc, _ := newTestService(t)

	ctx := obscontext.WithRequestID(context.Background(), "req-1")
	ctx = obscontext.WithActor(ctx, "user", "amil-7")
	at := time.Date(2024, time.April, 3, 8, 0, 0, 0, time.UTC)

	evt := events.New(events.KindUpdated, events.RecordFundTransaction, 42, trx(10, "100.00"), trx(10, "250.00"), at)
	require.NoError(t, svc.Publish(ctx, nil, evt))

	resp, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{RecordID: "42"})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)

	entry := resp.AuditLogs[0]
	assert.Equal(t, "updated", entry.Action)
	assert.Equal(t, "fund_transaction", entry.RecordType)
	assert.Equal(t, "user", entry.ActorType)
	require.NotNil(t, entry.ActorID)
	assert.Equal(t, "amil-7", *entry.ActorID)
	require.NotNil(t, entry.UnitID)
	assert.Equal(t, snowflake.ID(10), *entry.UnitID)
	assert.Equal(t, "req-1", entry.Metadata["request_id"])

	changes, ok := entry.Metadata["changes"].([]any)
	require.True(t, ok)
	require.Len(t, changes, 1)
	assert.Equal(t, map[string]any{"field": "amount", "old": "100.00", "new": "250.00"}, changes[0])
	assert.Equal(t, auditdomain.ChangedFields{"amount"}, entry.ChangedFields)
}

func TestPublishSkipsUpdatesWithoutValueChanges(t *testing.T) {
	svc, conn := newTestService(t)

	evt := events.New(events.KindUpdated, events.RecordDeposit, 5, trx(10, "1.00"), trx(10, "1.00"), time.Now())
	require.NoError(t, svc.Publish(context.Background(), conn, evt))

	var count int64
	require.NoError(t, conn.Model(&auditdomain.AuditLog{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestPublishRollsBackWithWriter(t *testing.T) {
	svc, conn := newTestService(t)

	err := conn.Transaction(func(tx *gorm.DB) error {
		evt := events.New(events.KindCreated, events.RecordAllocationRule, 9, nil, &events.Snapshot{
			Values: map[string]string{"fund_type": "zf", "remit_pct": "60.00"},
		}, time.Now())
		if err := svc.Publish(context.Background(), tx, evt); err != nil {
			return err
		}
		return gorm.ErrInvalidData
	})
	require.ErrorIs(t, err, gorm.ErrInvalidData)

	var count int64
	require.NoError(t, conn.Model(&auditdomain.AuditLog{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestUnitChangesAreIndexedByUnit(t *testing.T) {
	svc, _ := newTestService(t)

	evt := events.New(events.KindUpdated, events.RecordUnit, 77,
		&events.Snapshot{Values: map[string]string{"rice_price": "14000.00"}},
		&events.Snapshot{Values: map[string]string{"rice_price": "15000.00"}},
		time.Now(),
	)
	require.NoError(t, svc.Publish(context.Background(), nil, evt))

	resp, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{UnitID: "77"})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)
	assert.Equal(t, "system", resp.AuditLogs[0].ActorType)
	assert.Nil(t, resp.AuditLogs[0].ActorID)
}

func TestListPagesNewestFirst(t *testing.T) {
	svc, _ := newTestService(t)

	base := time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		evt := events.New(events.KindCreated, events.RecordDistribution, snowflake.ID(100+i), nil, trx(10, "5.00"), base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, svc.Publish(context.Background(), nil, evt))
	}

	first, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageSize: 2},
		RecordType: "distribution",
	})
	require.NoError(t, err)
	require.Len(t, first.AuditLogs, 2)
	assert.True(t, first.HasMore)
	assert.Equal(t, snowflake.ID(102), first.AuditLogs[0].RecordID)
	assert.Equal(t, snowflake.ID(101), first.AuditLogs[1].RecordID)
	require.NotEmpty(t, first.NextPageToken)

	second, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageSize: 2, PageToken: first.NextPageToken},
		RecordType: "distribution",
	})
	require.NoError(t, err)
	require.Len(t, second.AuditLogs, 1)
	assert.Equal(t, snowflake.ID(100), second.AuditLogs[0].RecordID)
	assert.False(t, second.HasMore)
	assert.Empty(t, second.NextPageToken)
}

func TestListValidatesFilters(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.List(ctx, auditdomain.ListAuditLogRequest{RecordType: "invoice"})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidRecordType)

	_, err = svc.List(ctx, auditdomain.ListAuditLogRequest{Action: "voided"})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)

	_, err = svc.List(ctx, auditdomain.ListAuditLogRequest{RecordID: "abc"})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidRecordID)

	_, err = svc.List(ctx, auditdomain.ListAuditLogRequest{UnitID: "0"})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidUnitID)

	_, err = svc.List(ctx, auditdomain.ListAuditLogRequest{Pagination: pagination.Pagination{PageToken: "%%%"}})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidPageToken)

	start := time.Date(2024, time.June, 2, 0, 0, 0, 0, time.UTC)
	end := start.Add(-time.Hour)
	_, err = svc.List(ctx, auditdomain.ListAuditLogRequest{StartAt: &start, EndAt: &end})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidTimeRange)
}
