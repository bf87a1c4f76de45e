package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ziswaf/internal/clock"
	collectiondomain "github.com/smallbiznis/ziswaf/internal/collection/domain"
	"github.com/smallbiznis/ziswaf/internal/events"
	"github.com/smallbiznis/ziswaf/internal/fund"
	unitdomain "github.com/smallbiznis/ziswaf/internal/unit/domain"
)

type depositStore = events.RecordStore[collectiondomain.Deposit, *collectiondomain.Deposit]

type depositService struct {
	genID *snowflake.Node
	clock clock.Clock
	units unitdomain.Repository
	store *depositStore
}

func NewDepositService(p serviceParams) collectiondomain.DepositService {
	return &depositService{
		genID: p.GenID,
		clock: p.Clock,
		units: p.Units,
		store: events.NewRecordStore[collectiondomain.Deposit, *collectiondomain.Deposit](
			p.DB, p.Publisher, events.RecordDeposit, collectiondomain.ErrNotFound,
			func() time.Time { return p.Clock.Now() },
		),
	}
}

func (s *depositService) Create(ctx context.Context, req collectiondomain.CreateDepositRequest) (*collectiondomain.DepositResponse, error) {
	unitID, err := resolveUnit(ctx, s.units, req.UnitID)
	if err != nil {
		return nil, err
	}
	fundType, err := fund.ParseType(req.FundType)
	if err != nil {
		return nil, err
	}
	depositDate, err := parseDate(req.DepositDate)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	deposit := &collectiondomain.Deposit{
		ID:          s.genID.Generate(),
		UnitID:      unitID,
		DepositDate: depositDate,
		FundType:    fundType,
		Amount:      req.Amount.Round(collectiondomain.MoneyScale),
		RiceKg:      req.RiceKg.Round(collectiondomain.RiceScale),
		Reference:   req.Reference,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := deposit.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, deposit); err != nil {
		return nil, err
	}
	return toDepositResponse(deposit), nil
}

func (s *depositService) Update(ctx context.Context, req collectiondomain.UpdateDepositRequest) (*collectiondomain.DepositResponse, error) {
	id, err := parseID(req.ID)
	if err != nil {
		return nil, err
	}
	deposit, err := s.store.Update(ctx, id, func(d *collectiondomain.Deposit) error {
		if req.DepositDate != nil {
			t, err := parseDate(*req.DepositDate)
			if err != nil {
				return err
			}
			d.DepositDate = t
		}
		if req.FundType != nil {
			ft, err := fund.ParseType(*req.FundType)
			if err != nil {
				return err
			}
			d.FundType = ft
		}
		if req.Amount != nil {
			d.Amount = req.Amount.Round(collectiondomain.MoneyScale)
		}
		if req.RiceKg != nil {
			d.RiceKg = req.RiceKg.Round(collectiondomain.RiceScale)
		}
		if req.Reference != nil {
			d.Reference = req.Reference
		}
		d.UpdatedAt = s.clock.Now().UTC()
		return d.Validate()
	})
	if err != nil {
		return nil, err
	}
	return toDepositResponse(deposit), nil
}

func (s *depositService) Delete(ctx context.Context, rawID string) error {
	id, err := parseID(rawID)
	if err != nil {
		return err
	}
	return s.store.Delete(ctx, id)
}

func (s *depositService) Restore(ctx context.Context, rawID string) (*collectiondomain.DepositResponse, error) {
	id, err := parseID(rawID)
	if err != nil {
		return nil, err
	}
	deposit, err := s.store.Restore(ctx, id)
	if err != nil {
		return nil, err
	}
	return toDepositResponse(deposit), nil
}

func (s *depositService) ForceDelete(ctx context.Context, rawID string) error {
	id, err := parseID(rawID)
	if err != nil {
		return err
	}
	return s.store.ForceDelete(ctx, id)
}

func (s *depositService) Get(ctx context.Context, rawID string) (*collectiondomain.DepositResponse, error) {
	id, err := parseID(rawID)
	if err != nil {
		return nil, err
	}
	deposit, err := s.store.Get(ctx, id, false)
	if err != nil {
		return nil, err
	}
	return toDepositResponse(deposit), nil
}

func toDepositResponse(d *collectiondomain.Deposit) *collectiondomain.DepositResponse {
	return &collectiondomain.DepositResponse{
		ID:          d.ID.String(),
		UnitID:      d.UnitID.String(),
		DepositDate: d.DepositDate.UTC().Format(dateLayout),
		FundType:    string(d.FundType),
		Amount:      d.Amount,
		RiceKg:      d.RiceKg,
		Reference:   d.Reference,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}
