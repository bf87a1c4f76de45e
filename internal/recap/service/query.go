package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ziswaf/internal/period"
	recapdomain "github.com/smallbiznis/ziswaf/internal/recap/domain"
	"gorm.io/gorm"
)

const maxListRows = 1000

type queryService struct {
	db         *gorm.DB
	allocation *AllocationBuilder
}

func NewService(p Params, builders Builders) recapdomain.Service {
	return &queryService{db: p.DB, allocation: builders.Allocation}
}

func (s *queryService) List(ctx context.Context, kind recapdomain.Kind, req recapdomain.ListRequest) (any, error) {
	q, err := s.scope(ctx, req)
	if err != nil {
		return nil, err
	}
	switch kind {
	case recapdomain.KindTransaction:
		return listRows[recapdomain.TransactionRecap](q)
	case recapdomain.KindAllocation:
		return listRows[recapdomain.AllocationRecap](q)
	case recapdomain.KindDistribution:
		return listRows[recapdomain.DistributionRecap](q)
	case recapdomain.KindAmilRights:
		return listRows[recapdomain.AmilRightsRecap](q)
	case recapdomain.KindUnit:
		return listRows[recapdomain.UnitPeriodSummary](q)
	}
	return nil, recapdomain.ErrInvalidKind
}

func (s *queryService) Summaries(ctx context.Context, req recapdomain.ListRequest) ([]recapdomain.UnitPeriodSummary, error) {
	q, err := s.scope(ctx, req)
	if err != nil {
		return nil, err
	}
	return listRows[recapdomain.UnitPeriodSummary](q)
}

func (s *queryService) Preview(ctx context.Context, req recapdomain.ListRequest) (*recapdomain.AllocationRecap, error) {
	unitID, err := parseUnitID(req.UnitID)
	if err != nil {
		return nil, err
	}
	if unitID == 0 {
		return nil, recapdomain.ErrInvalidUnit
	}
	g, err := period.ParseGranularity(req.Granularity)
	if err != nil {
		return nil, err
	}
	start, err := period.Parse(g, req.Period)
	if err != nil {
		return nil, err
	}
	return s.allocation.Preview(ctx, unitID, period.NewRef(g, start))
}

func (s *queryService) scope(ctx context.Context, req recapdomain.ListRequest) (*gorm.DB, error) {
	g, err := period.ParseGranularity(strings.TrimSpace(req.Granularity))
	if err != nil {
		return nil, err
	}
	q := s.db.WithContext(ctx).Where("granularity = ?", g)

	unitID, err := parseUnitID(req.UnitID)
	if err != nil {
		return nil, err
	}
	if unitID != 0 {
		q = q.Where("unit_id = ?", unitID)
	}

	if p := strings.TrimSpace(req.Period); p != "" {
		if _, err := period.Parse(g, p); err != nil {
			return nil, err
		}
		return q.Where("period_key = ?", p), nil
	}
	// Period keys of one granularity sort lexically in date order.
	for _, bound := range []struct {
		raw string
		op  string
	}{{req.From, ">="}, {req.To, "<="}} {
		raw := strings.TrimSpace(bound.raw)
		if raw == "" {
			continue
		}
		if _, err := period.Parse(g, raw); err != nil {
			return nil, err
		}
		q = q.Where(fmt.Sprintf("period_key %s ?", bound.op), raw)
	}
	return q, nil
}

func listRows[T any](q *gorm.DB) ([]T, error) {
	rows := []T{}
	err := q.Order("unit_id ASC").Order("period_key ASC").Limit(maxListRows).Find(&rows).Error
	return rows, err
}

func parseUnitID(raw string) (snowflake.ID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, recapdomain.ErrInvalidUnit
	}
	return snowflake.ID(id), nil
}
