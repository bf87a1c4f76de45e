package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/ziswaf/internal/clock"
	"github.com/smallbiznis/ziswaf/internal/events"
	unitdomain "github.com/smallbiznis/ziswaf/internal/unit/domain"
	"github.com/smallbiznis/ziswaf/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type serviceParams struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      unitdomain.Repository
	Publisher events.Publisher `optional:"true"`
}

type service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      unitdomain.Repository
	publisher events.Publisher
}

func NewService(p serviceParams) unitdomain.Service {
	publisher := p.Publisher
	if publisher == nil {
		publisher = events.NopPublisher
	}
	return &service{
		db:        p.DB,
		log:       p.Log.Named("unit.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		publisher: publisher,
	}
}

func (s *service) Create(ctx context.Context, req unitdomain.CreateRequest) (*unitdomain.Response, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, unitdomain.ErrInvalidName
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		code = name
	}
	code = slug.Make(code)
	if code == "" {
		return nil, unitdomain.ErrInvalidCode
	}
	if req.RicePrice.IsNegative() {
		return nil, unitdomain.ErrInvalidRicePrice
	}

	now := s.clock.Now().UTC()
	unit := &unitdomain.Unit{
		ID:        s.genID.Generate(),
		Code:      code,
		Name:      name,
		RicePrice: req.RicePrice.Round(2),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, unit); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, unitdomain.ErrDuplicateCode
		}
		return nil, err
	}
	return toResponse(unit), nil
}

// Update edits a unit. A rice price change re-prices ZF rice in every
// allocation recap of the unit, so it is published like a source write.
func (s *service) Update(ctx context.Context, req unitdomain.UpdateRequest) (*unitdomain.Response, error) {
	id, err := parseID(req.ID)
	if err != nil {
		return nil, err
	}

	var updated *unitdomain.Unit
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTrx(tx)
		unit, err := repo.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if unit == nil {
			return unitdomain.ErrNotFound
		}
		before := snapshot(unit)

		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return unitdomain.ErrInvalidName
			}
			unit.Name = name
		}
		if req.RicePrice != nil {
			if req.RicePrice.IsNegative() {
				return unitdomain.ErrInvalidRicePrice
			}
			unit.RicePrice = req.RicePrice.Round(2)
		}
		unit.UpdatedAt = s.clock.Now().UTC()
		if err := repo.Update(ctx, unit); err != nil {
			return err
		}
		updated = unit

		evt := events.New(events.KindUpdated, events.RecordUnit, unit.ID, before, snapshot(unit), unit.UpdatedAt)
		if !evt.ShouldDispatch() {
			return nil
		}
		s.log.Info("unit rice price changed",
			zap.String("unit_id", unit.ID.String()),
			zap.String("rice_price", unit.RicePrice.StringFixed(2)),
		)
		return s.publisher.Publish(ctx, tx, evt)
	})
	if err != nil {
		return nil, err
	}
	return toResponse(updated), nil
}

func (s *service) Get(ctx context.Context, rawID string) (*unitdomain.Response, error) {
	id, err := parseID(rawID)
	if err != nil {
		return nil, err
	}
	unit, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if unit == nil {
		return nil, unitdomain.ErrNotFound
	}
	return toResponse(unit), nil
}

func (s *service) List(ctx context.Context) ([]unitdomain.Response, error) {
	units, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	resp := make([]unitdomain.Response, 0, len(units))
	for i := range units {
		resp = append(resp, *toResponse(&units[i]))
	}
	return resp, nil
}

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return 0, unitdomain.ErrInvalidID
	}
	return id, nil
}

func snapshot(unit *unitdomain.Unit) *events.Snapshot {
	return &events.Snapshot{
		UnitID: unit.ID,
		Values: map[string]string{"rice_price": unit.RicePrice.StringFixed(2)},
	}
}

func toResponse(unit *unitdomain.Unit) *unitdomain.Response {
	return &unitdomain.Response{
		ID:        unit.ID.String(),
		Code:      unit.Code,
		Name:      unit.Name,
		RicePrice: unit.RicePrice,
		CreatedAt: unit.CreatedAt,
		UpdatedAt: unit.UpdatedAt,
	}
}
