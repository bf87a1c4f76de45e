package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/ziswaf/internal/clock"
	distributiondomain "github.com/smallbiznis/ziswaf/internal/distribution/domain"
	"github.com/smallbiznis/ziswaf/internal/events"
	"github.com/smallbiznis/ziswaf/internal/fund"
	unitdomain "github.com/smallbiznis/ziswaf/internal/unit/domain"
	unitrepository "github.com/smallbiznis/ziswaf/internal/unit/repository"
	"github.com/smallbiznis/ziswaf/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type capturePublisher struct {
	events []events.Event
}

func (p *capturePublisher) Publish(_ context.Context, _ *gorm.DB, evt events.Event) error {
	p.events = append(p.events, evt)
	return nil
}

func newTestService(t *testing.T) (distributiondomain.Service, *capturePublisher, string) {
	t.Helper()
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&unitdomain.Unit{}, &distributiondomain.DistributionEvent{}))

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2024, 4, 12, 7, 30, 0, 0, time.UTC))

	units := unitrepository.NewRepository(conn)
	unit := &unitdomain.Unit{
		ID:        node.Generate(),
		Code:      "upz-kecamatan",
		Name:      "UPZ Kecamatan",
		CreatedAt: clk.Now(),
		UpdatedAt: clk.Now(),
	}
	require.NoError(t, units.Create(context.Background(), unit))

	pub := &capturePublisher{}
	svc := NewService(serviceParams{
		DB:        conn,
		GenID:     node,
		Clock:     clk,
		Units:     units,
		Publisher: pub,
	})
	return svc, pub, unit.ID.String()
}

func TestDistributionLifecycle(t *testing.T) {
	svc, pub, unitID := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, distributiondomain.CreateRequest{
		UnitID:           unitID,
		TrxDate:          "2024-04-10",
		Asnaf:            "Fakir",
		Program:          "  Paket   Sembako ",
		FundType:         "zf",
		RiceKg:           decimal.RequireFromString("250"),
		BeneficiaryCount: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, "fakir", created.Asnaf)
	assert.Equal(t, "paket sembako", created.Program)
	assert.Equal(t, "ZF", created.FundType)

	program := "PAKET SEMBAKO"
	_, err = svc.Update(ctx, distributiondomain.UpdateRequest{ID: created.ID, Program: &program})
	require.NoError(t, err)
	require.Len(t, pub.events, 1, "program casing normalizes to the same bucket")

	count := 120
	_, err = svc.Update(ctx, distributiondomain.UpdateRequest{ID: created.ID, BeneficiaryCount: &count})
	require.NoError(t, err)
	require.Len(t, pub.events, 2)
	assert.True(t, pub.events[1].Changed("beneficiary_count"))

	require.NoError(t, svc.Delete(ctx, created.ID))
	_, err = svc.Get(ctx, created.ID)
	assert.ErrorIs(t, err, distributiondomain.ErrNotFound)

	restored, err := svc.Restore(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 120, restored.BeneficiaryCount)

	require.NoError(t, svc.ForceDelete(ctx, created.ID))
	assert.ErrorIs(t, svc.Delete(ctx, created.ID), distributiondomain.ErrNotFound)

	kinds := make([]events.Kind, 0, len(pub.events))
	for _, evt := range pub.events {
		assert.Equal(t, events.RecordDistribution, evt.RecordType)
		kinds = append(kinds, evt.Kind)
	}
	assert.Equal(t, []events.Kind{
		events.KindCreated,
		events.KindUpdated,
		events.KindDeleted,
		events.KindRestored,
		events.KindForceDeleted,
	}, kinds)
}

func TestCreateDistributionValidation(t *testing.T) {
	svc, pub, unitID := newTestService(t)

	valid := func() distributiondomain.CreateRequest {
		return distributiondomain.CreateRequest{
			UnitID:   unitID,
			TrxDate:  "2024-04-10",
			Asnaf:    "miskin",
			Program:  "beasiswa",
			FundType: "ZM",
			Amount:   decimal.NewFromInt(500000),
		}
	}
	cases := []struct {
		name   string
		mutate func(*distributiondomain.CreateRequest)
		want   error
	}{
		{"unknown unit", func(r *distributiondomain.CreateRequest) { r.UnitID = "7" }, distributiondomain.ErrUnitNotFound},
		{"bad date", func(r *distributiondomain.CreateRequest) { r.TrxDate = "2024-13-01" }, distributiondomain.ErrInvalidDate},
		{"unknown asnaf", func(r *distributiondomain.CreateRequest) { r.Asnaf = "donatur" }, fund.ErrInvalidAsnaf},
		{"unknown fund", func(r *distributiondomain.CreateRequest) { r.FundType = "WAKAF" }, fund.ErrInvalidFundType},
		{"blank program", func(r *distributiondomain.CreateRequest) { r.Program = "   " }, distributiondomain.ErrInvalidProgram},
		{"rice outside zakat fitrah", func(r *distributiondomain.CreateRequest) { r.RiceKg = decimal.NewFromInt(5) }, distributiondomain.ErrInvalidRice},
		{"negative beneficiaries", func(r *distributiondomain.CreateRequest) { r.BeneficiaryCount = -1 }, distributiondomain.ErrInvalidCount},
		{"nothing paid out", func(r *distributiondomain.CreateRequest) { r.Amount = decimal.Zero }, distributiondomain.ErrEmptyEvent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := valid()
			tc.mutate(&req)
			_, err := svc.Create(context.Background(), req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Empty(t, pub.events)
}
