package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ziswaf/internal/clock"
	distributiondomain "github.com/smallbiznis/ziswaf/internal/distribution/domain"
	"github.com/smallbiznis/ziswaf/internal/events"
	"github.com/smallbiznis/ziswaf/internal/fund"
	unitdomain "github.com/smallbiznis/ziswaf/internal/unit/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

const dateLayout = "2006-01-02"

type serviceParams struct {
	fx.In

	DB        *gorm.DB
	GenID     *snowflake.Node
	Clock     clock.Clock
	Units     unitdomain.Repository
	Publisher events.Publisher `optional:"true"`
}

type service struct {
	genID *snowflake.Node
	clock clock.Clock
	units unitdomain.Repository
	store *events.RecordStore[distributiondomain.DistributionEvent, *distributiondomain.DistributionEvent]
}

func NewService(p serviceParams) distributiondomain.Service {
	return &service{
		genID: p.GenID,
		clock: p.Clock,
		units: p.Units,
		store: events.NewRecordStore[distributiondomain.DistributionEvent, *distributiondomain.DistributionEvent](
			p.DB, p.Publisher, events.RecordDistribution, distributiondomain.ErrNotFound,
			func() time.Time { return p.Clock.Now() },
		),
	}
}

func (s *service) Create(ctx context.Context, req distributiondomain.CreateRequest) (*distributiondomain.Response, error) {
	unitID, err := s.resolveUnit(ctx, req.UnitID)
	if err != nil {
		return nil, err
	}
	trxDate, err := parseDate(req.TrxDate)
	if err != nil {
		return nil, err
	}
	asnaf, err := fund.ParseAsnaf(req.Asnaf)
	if err != nil {
		return nil, err
	}
	fundType, err := fund.ParseType(req.FundType)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	evt := &distributiondomain.DistributionEvent{
		ID:               s.genID.Generate(),
		UnitID:           unitID,
		TrxDate:          trxDate,
		Asnaf:            asnaf,
		Program:          normalizeProgram(req.Program),
		FundType:         fundType,
		Amount:           req.Amount.Round(2),
		RiceKg:           req.RiceKg.Round(3),
		BeneficiaryCount: req.BeneficiaryCount,
		Description:      req.Description,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := evt.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, evt); err != nil {
		return nil, err
	}
	return toResponse(evt), nil
}

func (s *service) Update(ctx context.Context, req distributiondomain.UpdateRequest) (*distributiondomain.Response, error) {
	id, err := parseID(req.ID)
	if err != nil {
		return nil, err
	}
	var unitID snowflake.ID
	if req.UnitID != nil {
		if unitID, err = s.resolveUnit(ctx, *req.UnitID); err != nil {
			return nil, err
		}
	}

	updated, err := s.store.Update(ctx, id, func(d *distributiondomain.DistributionEvent) error {
		if unitID != 0 {
			d.UnitID = unitID
		}
		if req.TrxDate != nil {
			t, err := parseDate(*req.TrxDate)
			if err != nil {
				return err
			}
			d.TrxDate = t
		}
		if req.Asnaf != nil {
			a, err := fund.ParseAsnaf(*req.Asnaf)
			if err != nil {
				return err
			}
			d.Asnaf = a
		}
		if req.FundType != nil {
			ft, err := fund.ParseType(*req.FundType)
			if err != nil {
				return err
			}
			d.FundType = ft
		}
		if req.Program != nil {
			d.Program = normalizeProgram(*req.Program)
		}
		if req.Amount != nil {
			d.Amount = req.Amount.Round(2)
		}
		if req.RiceKg != nil {
			d.RiceKg = req.RiceKg.Round(3)
		}
		if req.BeneficiaryCount != nil {
			d.BeneficiaryCount = *req.BeneficiaryCount
		}
		if req.Description != nil {
			d.Description = req.Description
		}
		d.UpdatedAt = s.clock.Now().UTC()
		return d.Validate()
	})
	if err != nil {
		return nil, err
	}
	return toResponse(updated), nil
}

func (s *service) Delete(ctx context.Context, rawID string) error {
	id, err := parseID(rawID)
	if err != nil {
		return err
	}
	return s.store.Delete(ctx, id)
}

func (s *service) Restore(ctx context.Context, rawID string) (*distributiondomain.Response, error) {
	id, err := parseID(rawID)
	if err != nil {
		return nil, err
	}
	restored, err := s.store.Restore(ctx, id)
	if err != nil {
		return nil, err
	}
	return toResponse(restored), nil
}

func (s *service) ForceDelete(ctx context.Context, rawID string) error {
	id, err := parseID(rawID)
	if err != nil {
		return err
	}
	return s.store.ForceDelete(ctx, id)
}

func (s *service) Get(ctx context.Context, rawID string) (*distributiondomain.Response, error) {
	id, err := parseID(rawID)
	if err != nil {
		return nil, err
	}
	evt, err := s.store.Get(ctx, id, false)
	if err != nil {
		return nil, err
	}
	return toResponse(evt), nil
}

func (s *service) resolveUnit(ctx context.Context, raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return 0, distributiondomain.ErrInvalidUnit
	}
	unit, err := s.units.FindByID(ctx, id)
	if err != nil {
		return 0, err
	}
	if unit == nil {
		return 0, distributiondomain.ErrUnitNotFound
	}
	return id, nil
}

// normalizeProgram collapses whitespace so "Beasiswa  Santri" and
// "beasiswa santri" land in the same recap bucket.
func normalizeProgram(raw string) string {
	return strings.ToLower(strings.Join(strings.Fields(raw), " "))
}

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return 0, distributiondomain.ErrInvalidID
	}
	return id, nil
}

func parseDate(raw string) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, strings.TrimSpace(raw), time.UTC)
	if err != nil {
		return time.Time{}, distributiondomain.ErrInvalidDate
	}
	return t, nil
}

func toResponse(d *distributiondomain.DistributionEvent) *distributiondomain.Response {
	return &distributiondomain.Response{
		ID:               d.ID.String(),
		UnitID:           d.UnitID.String(),
		TrxDate:          d.TrxDate.UTC().Format(dateLayout),
		Asnaf:            string(d.Asnaf),
		Program:          d.Program,
		FundType:         string(d.FundType),
		Amount:           d.Amount,
		RiceKg:           d.RiceKg,
		BeneficiaryCount: d.BeneficiaryCount,
		Description:      d.Description,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
}
