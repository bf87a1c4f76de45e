package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	ruledomain "github.com/smallbiznis/ziswaf/internal/allocationrule/domain"
	"github.com/smallbiznis/ziswaf/internal/clock"
	"github.com/smallbiznis/ziswaf/internal/events"
	"github.com/smallbiznis/ziswaf/internal/fund"
	"github.com/smallbiznis/ziswaf/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var hundred = decimal.NewFromInt(100)

type serviceParams struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      ruledomain.Repository
	Resolver  ruledomain.Resolver
	Publisher events.Publisher `optional:"true"`
}

type service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      ruledomain.Repository
	resolver  ruledomain.Resolver
	publisher events.Publisher
}

func NewService(p serviceParams) ruledomain.Service {
	publisher := p.Publisher
	if publisher == nil {
		publisher = events.NopPublisher
	}
	return &service{
		db:        p.DB,
		log:       p.Log.Named("allocationrule.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		resolver:  p.Resolver,
		publisher: publisher,
	}
}

func (s *service) Create(ctx context.Context, req ruledomain.CreateRequest) (*ruledomain.Response, error) {
	fundType, err := fund.ParseType(req.FundType)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	rule := &ruledomain.AllocationRule{
		ID:            s.genID.Generate(),
		FundType:      fundType,
		EffectiveYear: req.EffectiveYear,
		RemitPct:      req.RemitPct,
		RetainPct:     req.RetainPct,
		AmilPct:       req.AmilPct,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTrx(tx)
		if err := repo.Create(ctx, rule); err != nil {
			return mapWriteErr(err)
		}
		if err := repo.BumpVersion(ctx, now); err != nil {
			return err
		}
		return s.publisher.Publish(ctx, tx, events.New(events.KindCreated, events.RecordAllocationRule, rule.ID, nil, snapshot(rule), now))
	})
	if err != nil {
		return nil, err
	}
	s.resolver.Invalidate()

	s.log.Info("allocation rule created",
		zap.String("rule_id", rule.ID.String()),
		zap.String("fund_type", string(rule.FundType)),
		zap.Int("effective_year", rule.EffectiveYear),
	)
	return toResponse(rule), nil
}

func (s *service) Update(ctx context.Context, req ruledomain.UpdateRequest) (*ruledomain.Response, error) {
	id, err := parseID(req.ID)
	if err != nil {
		return nil, err
	}

	var updated *ruledomain.AllocationRule
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTrx(tx)
		existing, err := repo.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return ruledomain.ErrNotFound
		}
		before := *existing

		if req.EffectiveYear != nil {
			existing.EffectiveYear = *req.EffectiveYear
		}
		if req.RemitPct != nil {
			existing.RemitPct = *req.RemitPct
		}
		if req.RetainPct != nil {
			existing.RetainPct = *req.RetainPct
		}
		if req.AmilPct != nil {
			existing.AmilPct = *req.AmilPct
		}
		if err := existing.Validate(); err != nil {
			return err
		}
		existing.UpdatedAt = s.clock.Now().UTC()

		if err := repo.Update(ctx, existing); err != nil {
			return mapWriteErr(err)
		}
		if err := repo.BumpVersion(ctx, existing.UpdatedAt); err != nil {
			return err
		}
		updated = existing
		evt := events.New(events.KindUpdated, events.RecordAllocationRule, existing.ID, snapshot(&before), snapshot(existing), existing.UpdatedAt)
		return s.publisher.Publish(ctx, tx, evt)
	})
	if err != nil {
		return nil, err
	}
	s.resolver.Invalidate()
	return toResponse(updated), nil
}

func (s *service) Delete(ctx context.Context, rawID string) error {
	id, err := parseID(rawID)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTrx(tx)
		existing, err := repo.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return ruledomain.ErrNotFound
		}
		if err := repo.Delete(ctx, id); err != nil {
			return err
		}
		if err := repo.BumpVersion(ctx, s.clock.Now().UTC()); err != nil {
			return err
		}
		return s.publisher.Publish(ctx, tx, events.New(events.KindForceDeleted, events.RecordAllocationRule, id, snapshot(existing), nil, s.clock.Now()))
	})
	if err != nil {
		return err
	}
	s.resolver.Invalidate()
	s.log.Info("allocation rule deleted", zap.String("rule_id", id.String()))
	return nil
}

func (s *service) Get(ctx context.Context, rawID string) (*ruledomain.Response, error) {
	id, err := parseID(rawID)
	if err != nil {
		return nil, err
	}
	rule, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, ruledomain.ErrNotFound
	}
	return toResponse(rule), nil
}

func (s *service) List(ctx context.Context, req ruledomain.ListRequest) ([]ruledomain.Response, error) {
	if strings.TrimSpace(req.FundType) != "" {
		if _, err := fund.ParseType(req.FundType); err != nil {
			return nil, err
		}
	}
	items, err := s.repo.List(ctx, req)
	if err != nil {
		return nil, err
	}
	resp := make([]ruledomain.Response, 0, len(items))
	for i := range items {
		resp = append(resp, *toResponse(&items[i]))
	}
	return resp, nil
}

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return 0, ruledomain.ErrInvalidID
	}
	return id, nil
}

func mapWriteErr(err error) error {
	switch {
	case db.IsDuplicateKeyErr(err):
		return ruledomain.ErrDuplicateRule
	case db.IsCheckViolationErr(err):
		return ruledomain.ErrInvalidSplit
	default:
		return err
	}
}

// snapshot places a rule on the first day of its effective year so the
// cascade can find every recap period it governs.
func snapshot(rule *ruledomain.AllocationRule) *events.Snapshot {
	return &events.Snapshot{
		Date: time.Date(rule.EffectiveYear, time.January, 1, 0, 0, 0, 0, time.UTC),
		Values: map[string]string{
			"fund_type":      string(rule.FundType),
			"effective_year": strconv.Itoa(rule.EffectiveYear),
			"remit_pct":      rule.RemitPct.StringFixed(2),
			"retain_pct":     rule.RetainPct.StringFixed(2),
			"amil_pct":       rule.AmilPct.StringFixed(2),
		},
	}
}

func toResponse(rule *ruledomain.AllocationRule) *ruledomain.Response {
	return &ruledomain.Response{
		ID:            rule.ID.String(),
		FundType:      string(rule.FundType),
		EffectiveYear: rule.EffectiveYear,
		RemitPct:      rule.RemitPct,
		RetainPct:     rule.RetainPct,
		AmilPct:       rule.AmilPct,
		CreatedAt:     rule.CreatedAt,
		UpdatedAt:     rule.UpdatedAt,
	}
}
