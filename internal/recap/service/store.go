package service

import (
	"context"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/ziswaf/internal/clock"
	recapdomain "github.com/smallbiznis/ziswaf/internal/recap/domain"
	"github.com/smallbiznis/ziswaf/internal/period"
	"golang.org/x/crypto/blake2b"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type recapRow[T any] interface {
	*T
	RecapHeader() *recapdomain.Header
}

var keyColumns = []clause.Column{{Name: "unit_id"}, {Name: "granularity"}, {Name: "period_key"}}

// findRow loads the recap row for a key, or nil.
func findRow[T any, P recapRow[T]](ctx context.Context, db *gorm.DB, unitID snowflake.ID, ref period.Ref) (P, error) {
	row := new(T)
	err := db.WithContext(ctx).
		Where("unit_id = ? AND granularity = ? AND period_key = ?", unitID, ref.Granularity, ref.Key()).
		Take(row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return P(row), nil
}

// findChildren loads the rows of the next finer granularity inside ref.
func findChildren[T any](ctx context.Context, db *gorm.DB, unitID snowflake.ID, ref period.Ref) ([]T, error) {
	child, ok := ref.Granularity.Child()
	if !ok {
		return nil, nil
	}
	var rows []T
	err := db.WithContext(ctx).
		Where("unit_id = ? AND granularity = ? AND period_date >= ? AND period_date < ?",
			unitID, child, ref.Start, ref.End()).
		Order("period_date ASC").
		Find(&rows).Error
	return rows, err
}

// upsertRow replaces the stored row for the key with row. When the stored
// checksum already matches, nothing is written and changed is false. An
// empty row with no stored counterpart is not created.
func upsertRow[T any, P recapRow[T]](
	ctx context.Context,
	db *gorm.DB,
	genID *snowflake.Node,
	clk clock.Clock,
	row P,
	empty bool,
) (changed bool, err error) {
	h := row.RecapHeader()
	existing, err := findRow[T, P](ctx, db, h.UnitID, h.Ref())
	if err != nil {
		return false, err
	}

	now := clk.Now().UTC()
	if existing == nil {
		if empty {
			return false, nil
		}
		h.ID = genID.Generate()
		h.CreatedAt = now
		h.UpdatedAt = now
		err = db.WithContext(ctx).
			Clauses(clause.OnConflict{Columns: keyColumns, UpdateAll: true}).
			Create((*T)(row)).Error
		return err == nil, err
	}

	prev := existing.RecapHeader()
	if prev.Checksum == h.Checksum {
		*h = *prev
		return false, nil
	}
	h.ID = prev.ID
	h.CreatedAt = prev.CreatedAt
	h.UpdatedAt = now
	if err := db.WithContext(ctx).Save((*T)(row)).Error; err != nil {
		return false, err
	}
	return true, nil
}

// fingerprint hashes the canonical form of a row. Callers pass values in a
// fixed order with fixed scales so equal data always hashes equally.
type fingerprint struct {
	parts []string
}

func (f *fingerprint) dec(d decimal.Decimal, scale int32) *fingerprint {
	f.parts = append(f.parts, d.StringFixed(scale))
	return f
}

func (f *fingerprint) int(v int) *fingerprint {
	f.parts = append(f.parts, strconv.Itoa(v))
	return f
}

func (f *fingerprint) str(v string) *fingerprint {
	f.parts = append(f.parts, v)
	return f
}

func (f *fingerprint) sum() string {
	digest := blake2b.Sum256([]byte(strings.Join(f.parts, "|")))
	return hex.EncodeToString(digest[:])
}

func newFingerprint(h *recapdomain.Header) *fingerprint {
	f := &fingerprint{}
	return f.str(h.UnitID.String()).str(string(h.Granularity)).str(h.PeriodKey)
}
