package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	ruledomain "github.com/smallbiznis/ziswaf/internal/allocationrule/domain"
	"github.com/smallbiznis/ziswaf/pkg/db/option"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const versionRowID = 1

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) ruledomain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTrx(tx *gorm.DB) ruledomain.Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, rule *ruledomain.AllocationRule) error {
	return r.db.WithContext(ctx).Create(rule).Error
}

func (r *repository) Update(ctx context.Context, rule *ruledomain.AllocationRule) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE allocation_rules
		 SET effective_year = ?, remit_pct = ?, retain_pct = ?, amil_pct = ?, updated_at = ?
		 WHERE id = ?`,
		rule.EffectiveYear,
		rule.RemitPct,
		rule.RetainPct,
		rule.AmilPct,
		rule.UpdatedAt,
		rule.ID,
	).Error
}

func (r *repository) Delete(ctx context.Context, id snowflake.ID) error {
	return r.db.WithContext(ctx).Exec(`DELETE FROM allocation_rules WHERE id = ?`, id).Error
}

func (r *repository) FindByID(ctx context.Context, id snowflake.ID) (*ruledomain.AllocationRule, error) {
	var rule ruledomain.AllocationRule
	err := r.db.WithContext(ctx).Raw(
		`SELECT id, fund_type, effective_year, remit_pct, retain_pct, amil_pct, created_at, updated_at
		 FROM allocation_rules
		 WHERE id = ?`,
		id,
	).Scan(&rule).Error
	if err != nil {
		return nil, err
	}
	if rule.ID == 0 {
		return nil, nil
	}
	return &rule, nil
}

func (r *repository) FindLatest(ctx context.Context, fundType string, year int) (*ruledomain.AllocationRule, error) {
	var rule ruledomain.AllocationRule
	err := r.db.WithContext(ctx).Raw(
		`SELECT id, fund_type, effective_year, remit_pct, retain_pct, amil_pct, created_at, updated_at
		 FROM allocation_rules
		 WHERE fund_type = ? AND effective_year <= ?
		 ORDER BY effective_year DESC
		 LIMIT 1`,
		fundType,
		year,
	).Scan(&rule).Error
	if err != nil {
		return nil, err
	}
	if rule.ID == 0 {
		return nil, nil
	}
	return &rule, nil
}

func (r *repository) List(ctx context.Context, filter ruledomain.ListRequest) ([]ruledomain.AllocationRule, error) {
	var items []ruledomain.AllocationRule
	stmt := r.db.WithContext(ctx).Model(&ruledomain.AllocationRule{})

	if ft := strings.ToUpper(strings.TrimSpace(filter.FundType)); ft != "" {
		stmt = option.ApplyOperator(option.Condition{Field: "fund_type", Operator: option.EQ, Value: ft}).Apply(stmt)
	}
	if filter.Year > 0 {
		stmt = option.ApplyOperator(option.Condition{Field: "effective_year", Operator: option.LTE, Value: filter.Year}).Apply(stmt)
	}

	if err := stmt.Order("fund_type ASC, effective_year ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repository) BumpVersion(ctx context.Context, at time.Time) error {
	row := ruledomain.RuleVersion{ID: versionRowID, Version: 1, UpdatedAt: at}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"version":    gorm.Expr("allocation_rule_versions.version + 1"),
			"updated_at": at,
		}),
	}).Create(&row).Error
}

func (r *repository) Version(ctx context.Context) (int64, error) {
	var version int64
	err := r.db.WithContext(ctx).Raw(
		`SELECT version FROM allocation_rule_versions WHERE id = ?`,
		versionRowID,
	).Scan(&version).Error
	if err != nil {
		return 0, err
	}
	return version, nil
}
