package service

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	collectiondomain "github.com/smallbiznis/ziswaf/internal/collection/domain"
	obsmetrics "github.com/smallbiznis/ziswaf/internal/observability/metrics"
	"github.com/xuri/excelize/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Header names accepted in the first sheet row, case-insensitive.
const (
	colDate        = "trx_date"
	colKind        = "kind"
	colAmount      = "amount"
	colRice        = "rice_kg"
	colSouls       = "soul_count"
	colAnimals     = "animal_count"
	colContributor = "contributor_name"
	colDescription = "description"
)

const maxImportRows = 5000

type importerParams struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Service serviceParams
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type importer struct {
	db      *gorm.DB
	log     *zap.Logger
	trx     *transactionService
	metrics *obsmetrics.Metrics
}

func NewImporter(p importerParams) collectiondomain.Importer {
	return &importer{
		db:      p.DB,
		log:     p.Log.Named("collection.importer"),
		trx:     newTransactionService(p.Service),
		metrics: p.Metrics,
	}
}

// ImportTransactions inserts every valid row in one transaction and reports
// the rows it rejected. Each inserted row publishes a created event.
func (i *importer) ImportTransactions(ctx context.Context, unitID string, r io.Reader) (*collectiondomain.ImportResult, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", collectiondomain.ErrInvalidImport, err)
	}
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", collectiondomain.ErrInvalidImport, err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("%w: no data rows", collectiondomain.ErrInvalidImport)
	}
	if len(rows)-1 > maxImportRows {
		return nil, fmt.Errorf("%w: more than %d rows", collectiondomain.ErrInvalidImport, maxImportRows)
	}

	columns := indexHeader(rows[0])
	for _, required := range []string{colDate, colKind} {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("%w: missing column %s", collectiondomain.ErrInvalidImport, required)
		}
	}

	batchID := ulid.Make().String()
	result := &collectiondomain.ImportResult{BatchID: batchID}
	log := i.log.With(zap.String("import_batch_id", batchID), zap.String("unit_id", unitID))

	var valid []*collectiondomain.FundTransaction
	for idx, row := range rows[1:] {
		rowNum := idx + 2
		if isBlank(row) {
			continue
		}
		req, err := parseRow(unitID, columns, row)
		if err == nil {
			var trx *collectiondomain.FundTransaction
			trx, err = i.trx.build(ctx, req)
			if err == nil {
				trx.ImportBatchID = &batchID
				valid = append(valid, trx)
				continue
			}
		}
		result.Errors = append(result.Errors, collectiondomain.ImportRowError{Row: rowNum, Error: err.Error()})
	}

	if len(valid) > 0 {
		err = i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			for _, trx := range valid {
				if err := i.trx.store.CreateInTx(ctx, tx, trx); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			log.Error("import failed", zap.Error(err))
			return nil, err
		}
	}

	result.Imported = len(valid)
	result.Failed = len(result.Errors)
	i.metrics.RecordImportRows(ctx, "imported", result.Imported)
	i.metrics.RecordImportRows(ctx, "rejected", result.Failed)

	log.Info("transactions imported",
		zap.Int("imported", result.Imported),
		zap.Int("rejected", result.Failed),
	)
	return result, nil
}

func indexHeader(header []string) map[string]int {
	columns := make(map[string]int, len(header))
	for idx, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		if key != "" {
			columns[key] = idx
		}
	}
	return columns
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func parseRow(unitID string, columns map[string]int, row []string) (collectiondomain.CreateTransactionRequest, error) {
	cell := func(name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	req := collectiondomain.CreateTransactionRequest{
		UnitID:          unitID,
		Kind:            cell(colKind),
		TrxDate:         cell(colDate),
		ContributorName: cell(colContributor),
	}
	var err error
	if req.Amount, err = parseDecimalCell(cell(colAmount)); err != nil {
		return req, collectiondomain.ErrInvalidAmount
	}
	if req.RiceKg, err = parseDecimalCell(cell(colRice)); err != nil {
		return req, collectiondomain.ErrInvalidRice
	}
	if req.SoulCount, err = parseIntCell(cell(colSouls)); err != nil {
		return req, collectiondomain.ErrInvalidCount
	}
	if req.AnimalCount, err = parseIntCell(cell(colAnimals)); err != nil {
		return req, collectiondomain.ErrInvalidCount
	}
	if desc := cell(colDescription); desc != "" {
		req.Description = &desc
	}
	return req, nil
}

func parseDecimalCell(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(strings.ReplaceAll(raw, ",", ""))
}

func parseIntCell(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
