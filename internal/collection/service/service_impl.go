package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ziswaf/internal/clock"
	collectiondomain "github.com/smallbiznis/ziswaf/internal/collection/domain"
	"github.com/smallbiznis/ziswaf/internal/events"
	"github.com/smallbiznis/ziswaf/internal/fund"
	unitdomain "github.com/smallbiznis/ziswaf/internal/unit/domain"
	"github.com/smallbiznis/ziswaf/pkg/db/option"
	"github.com/smallbiznis/ziswaf/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const dateLayout = "2006-01-02"

type transactionStore = events.RecordStore[collectiondomain.FundTransaction, *collectiondomain.FundTransaction]

type serviceParams struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Units     unitdomain.Repository
	Publisher events.Publisher `optional:"true"`
}

type transactionService struct {
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	units unitdomain.Repository
	store *transactionStore
}

func NewTransactionService(p serviceParams) collectiondomain.TransactionService {
	return newTransactionService(p)
}

func newTransactionService(p serviceParams) *transactionService {
	return &transactionService{
		log:   p.Log.Named("collection.transaction"),
		genID: p.GenID,
		clock: p.Clock,
		units: p.Units,
		store: events.NewRecordStore[collectiondomain.FundTransaction, *collectiondomain.FundTransaction](
			p.DB, p.Publisher, events.RecordFundTransaction, collectiondomain.ErrNotFound,
			func() time.Time { return p.Clock.Now() },
		),
	}
}

func (s *transactionService) Create(ctx context.Context, req collectiondomain.CreateTransactionRequest) (*collectiondomain.TransactionResponse, error) {
	trx, err := s.build(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, trx); err != nil {
		return nil, err
	}
	return toTransactionResponse(trx), nil
}

// build validates a create request into a new, unsaved transaction.
func (s *transactionService) build(ctx context.Context, req collectiondomain.CreateTransactionRequest) (*collectiondomain.FundTransaction, error) {
	unitID, err := s.resolveUnit(ctx, req.UnitID)
	if err != nil {
		return nil, err
	}
	kind, err := fund.ParseKind(req.Kind)
	if err != nil {
		return nil, err
	}
	trxDate, err := parseDate(req.TrxDate)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	trx := &collectiondomain.FundTransaction{
		ID:              s.genID.Generate(),
		UnitID:          unitID,
		Kind:            kind,
		TrxDate:         trxDate,
		Amount:          req.Amount.Round(collectiondomain.MoneyScale),
		RiceKg:          req.RiceKg.Round(collectiondomain.RiceScale),
		SoulCount:       req.SoulCount,
		AnimalCount:     req.AnimalCount,
		ContributorName: strings.TrimSpace(req.ContributorName),
		Description:     req.Description,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := trx.Validate(); err != nil {
		return nil, err
	}
	return trx, nil
}

func (s *transactionService) Update(ctx context.Context, req collectiondomain.UpdateTransactionRequest) (*collectiondomain.TransactionResponse, error) {
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

	trx, err := s.store.Update(ctx, id, func(trx *collectiondomain.FundTransaction) error {
		if unitID != 0 {
			trx.UnitID = unitID
		}
		if req.Kind != nil {
			kind, err := fund.ParseKind(*req.Kind)
			if err != nil {
				return err
			}
			trx.Kind = kind
		}
		if req.TrxDate != nil {
			d, err := parseDate(*req.TrxDate)
			if err != nil {
				return err
			}
			trx.TrxDate = d
		}
		if req.Amount != nil {
			trx.Amount = req.Amount.Round(collectiondomain.MoneyScale)
		}
		if req.RiceKg != nil {
			trx.RiceKg = req.RiceKg.Round(collectiondomain.RiceScale)
		}
		if req.SoulCount != nil {
			trx.SoulCount = *req.SoulCount
		}
		if req.AnimalCount != nil {
			trx.AnimalCount = *req.AnimalCount
		}
		if req.ContributorName != nil {
			trx.ContributorName = strings.TrimSpace(*req.ContributorName)
		}
		if req.Description != nil {
			trx.Description = req.Description
		}
		trx.UpdatedAt = s.clock.Now().UTC()
		return trx.Validate()
	})
	if err != nil {
		return nil, err
	}
	return toTransactionResponse(trx), nil
}

func (s *transactionService) Delete(ctx context.Context, rawID string) error {
	id, err := parseID(rawID)
	if err != nil {
		return err
	}
	return s.store.Delete(ctx, id)
}

func (s *transactionService) Restore(ctx context.Context, rawID string) (*collectiondomain.TransactionResponse, error) {
	id, err := parseID(rawID)
	if err != nil {
		return nil, err
	}
	trx, err := s.store.Restore(ctx, id)
	if err != nil {
		return nil, err
	}
	return toTransactionResponse(trx), nil
}

func (s *transactionService) ForceDelete(ctx context.Context, rawID string) error {
	id, err := parseID(rawID)
	if err != nil {
		return err
	}
	if err := s.store.ForceDelete(ctx, id); err != nil {
		return err
	}
	s.log.Info("transaction force deleted", zap.String("transaction_id", id.String()))
	return nil
}

func (s *transactionService) Get(ctx context.Context, rawID string) (*collectiondomain.TransactionResponse, error) {
	id, err := parseID(rawID)
	if err != nil {
		return nil, err
	}
	trx, err := s.store.Get(ctx, id, false)
	if err != nil {
		return nil, err
	}
	return toTransactionResponse(trx), nil
}

func (s *transactionService) List(ctx context.Context, req collectiondomain.ListTransactionRequest) (*collectiondomain.ListTransactionResponse, error) {
	filter := &collectiondomain.FundTransaction{}
	if strings.TrimSpace(req.UnitID) != "" {
		unitID, err := snowflake.ParseString(strings.TrimSpace(req.UnitID))
		if err != nil {
			return nil, collectiondomain.ErrInvalidUnit
		}
		filter.UnitID = unitID
	}
	if strings.TrimSpace(req.Kind) != "" {
		kind, err := fund.ParseKind(req.Kind)
		if err != nil {
			return nil, err
		}
		filter.Kind = kind
	}

	var opts []option.QueryOption
	if req.DateFrom != "" {
		from, err := parseDate(req.DateFrom)
		if err != nil {
			return nil, err
		}
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "trx_date", Operator: option.GTE, Value: from}))
	}
	if req.DateTo != "" {
		to, err := parseDate(req.DateTo)
		if err != nil {
			return nil, err
		}
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "trx_date", Operator: option.LTE, Value: to}))
	}
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	opts = append(opts, option.ApplyPagination(pagination.Pagination{PageToken: req.PageToken, PageSize: pageSize}))

	items, err := s.store.Repository().Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	pageInfo := pagination.BuildCursorPageInfo(items, int32(pageSize), func(t *collectiondomain.FundTransaction) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{ID: t.ID.String()})
		return token
	})
	if len(items) > pageSize {
		items = items[:pageSize]
	}

	resp := &collectiondomain.ListTransactionResponse{
		Items:    make([]collectiondomain.TransactionResponse, 0, len(items)),
		PageInfo: pageInfo,
	}
	for _, item := range items {
		resp.Items = append(resp.Items, *toTransactionResponse(item))
	}
	return resp, nil
}

func (s *transactionService) resolveUnit(ctx context.Context, raw string) (snowflake.ID, error) {
	return resolveUnit(ctx, s.units, raw)
}

func resolveUnit(ctx context.Context, units unitdomain.Repository, raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return 0, collectiondomain.ErrInvalidUnit
	}
	unit, err := units.FindByID(ctx, id)
	if err != nil {
		return 0, err
	}
	if unit == nil {
		return 0, collectiondomain.ErrUnitNotFound
	}
	return id, nil
}

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return 0, collectiondomain.ErrInvalidID
	}
	return id, nil
}

func parseDate(raw string) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, strings.TrimSpace(raw), time.UTC)
	if err != nil {
		return time.Time{}, collectiondomain.ErrInvalidDate
	}
	return t, nil
}

func toTransactionResponse(t *collectiondomain.FundTransaction) *collectiondomain.TransactionResponse {
	return &collectiondomain.TransactionResponse{
		ID:              t.ID.String(),
		UnitID:          t.UnitID.String(),
		Kind:            string(t.Kind),
		TrxDate:         t.TrxDate.UTC().Format(dateLayout),
		Amount:          t.Amount,
		RiceKg:          t.RiceKg,
		SoulCount:       t.SoulCount,
		AnimalCount:     t.AnimalCount,
		ContributorName: t.ContributorName,
		Description:     t.Description,
		ImportBatchID:   t.ImportBatchID,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}
