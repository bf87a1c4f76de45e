package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/ziswaf/internal/clock"
	"github.com/smallbiznis/ziswaf/internal/events"
	unitdomain "github.com/smallbiznis/ziswaf/internal/unit/domain"
	"github.com/smallbiznis/ziswaf/internal/unit/repository"
	"github.com/smallbiznis/ziswaf/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type capturePublisher struct {
	events []events.Event
}

func (p *capturePublisher) Publish(_ context.Context, _ *gorm.DB, evt events.Event) error {
	p.events = append(p.events, evt)
	return nil
}

func newTestService(t *testing.T) (unitdomain.Service, *capturePublisher) {
	t.Helper()
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&unitdomain.Unit{}))

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	pub := &capturePublisher{}
	return NewService(serviceParams{
		DB:        conn,
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     clock.NewFakeClock(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)),
		Repo:      repository.NewRepository(conn),
		Publisher: pub,
	}), pub
}

func TestCreateUnitSlugsCode(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	unit, err := svc.Create(ctx, unitdomain.CreateRequest{
		Name:      "UPZ Masjid Al Ikhlas",
		RicePrice: decimal.RequireFromString("14999.995"),
	})
	require.NoError(t, err)
	assert.Equal(t, "upz-masjid-al-ikhlas", unit.Code)
	assert.True(t, decimal.NewFromInt(15000).Equal(unit.RicePrice))

	_, err = svc.Create(ctx, unitdomain.CreateRequest{Code: "UPZ Masjid Al-Ikhlas", Name: "Duplicate"})
	assert.ErrorIs(t, err, unitdomain.ErrDuplicateCode)

	_, err = svc.Create(ctx, unitdomain.CreateRequest{Name: "  "})
	assert.ErrorIs(t, err, unitdomain.ErrInvalidName)
	_, err = svc.Create(ctx, unitdomain.CreateRequest{Name: "UPZ", RicePrice: decimal.NewFromInt(-1)})
	assert.ErrorIs(t, err, unitdomain.ErrInvalidRicePrice)

	got, err := svc.Get(ctx, unit.ID)
	require.NoError(t, err)
	assert.Equal(t, unit.Name, got.Name)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestUpdateUnitPublishesOnlyRicePriceChanges(t *testing.T) {
	svc, pub := newTestService(t)
	ctx := context.Background()

	unit, err := svc.Create(ctx, unitdomain.CreateRequest{Name: "UPZ Desa", RicePrice: decimal.NewFromInt(14000)})
	require.NoError(t, err)

	name := "UPZ Desa Sukamaju"
	renamed, err := svc.Update(ctx, unitdomain.UpdateRequest{ID: unit.ID, Name: &name})
	require.NoError(t, err)
	assert.Equal(t, name, renamed.Name)
	assert.Equal(t, unit.Code, renamed.Code)
	assert.Empty(t, pub.events)

	price := decimal.NewFromInt(16000)
	_, err = svc.Update(ctx, unitdomain.UpdateRequest{ID: unit.ID, RicePrice: &price})
	require.NoError(t, err)
	require.Len(t, pub.events, 1)
	evt := pub.events[0]
	assert.Equal(t, events.RecordUnit, evt.RecordType)
	assert.Equal(t, unit.ID, evt.RecordID.String())
	require.Len(t, evt.Changes, 1)
	assert.Equal(t, "14000.00", evt.Changes[0].Old)
	assert.Equal(t, "16000.00", evt.Changes[0].New)

	_, err = svc.Update(ctx, unitdomain.UpdateRequest{ID: "12345", RicePrice: &price})
	assert.ErrorIs(t, err, unitdomain.ErrNotFound)
	_, err = svc.Update(ctx, unitdomain.UpdateRequest{ID: "unit"})
	assert.ErrorIs(t, err, unitdomain.ErrInvalidID)
}
