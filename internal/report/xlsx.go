package report

import (
	"bytes"
	"context"

	"github.com/shopspring/decimal"
	recapdomain "github.com/smallbiznis/ziswaf/internal/recap/domain"
	"github.com/xuri/excelize/v2"
)

const summarySheet = "Rekap Unit"

func (s *service) UnitSummaryXLSX(ctx context.Context, req recapdomain.ListRequest) ([]byte, error) {
	rows, err := s.load(ctx, req)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName(f.GetSheetName(0), summarySheet); err != nil {
		return nil, err
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	for i, c := range summaryColumns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(summarySheet, cell, c.title); err != nil {
			return nil, err
		}
		if err := f.SetCellStyle(summarySheet, cell, cell, bold); err != nil {
			return nil, err
		}
	}

	for r := range rows {
		for i, c := range summaryColumns {
			cell, err := excelize.CoordinatesToCellName(i+1, r+2)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(summarySheet, cell, cellValue(c.value(&rows[r]))); err != nil {
				return nil, err
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	s.log.Debug("report.unit_summary.xlsx", zapRows(len(rows)))
	return buf.Bytes(), nil
}

// Decimals are written as numbers; exact digits are kept in the recap
// tables, the sheet is for reading.
func cellValue(v any) any {
	if d, ok := v.(decimal.Decimal); ok {
		f, _ := d.Float64()
		return f
	}
	return v
}
