// Package report renders unit summaries for download.
package report

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	recapdomain "github.com/smallbiznis/ziswaf/internal/recap/domain"
	unitdomain "github.com/smallbiznis/ziswaf/internal/unit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	ContentTypePDF  = "application/pdf"
)

var ErrNoRows = errors.New("report_has_no_rows")

type Service interface {
	UnitSummaryXLSX(ctx context.Context, req recapdomain.ListRequest) ([]byte, error)
	UnitSummaryPDF(ctx context.Context, req recapdomain.ListRequest) ([]byte, error)
}

type Params struct {
	fx.In

	Recaps recapdomain.Service
	Units  unitdomain.Repository
	Log    *zap.Logger
}

type service struct {
	recaps recapdomain.Service
	units  unitdomain.Repository
	log    *zap.Logger
}

func NewService(p Params) Service {
	return &service{
		recaps: p.Recaps,
		units:  p.Units,
		log:    p.Log.Named("report"),
	}
}

// summaryRow is one rendered line: a summary with its unit labels.
type summaryRow struct {
	UnitCode string
	UnitName string
	recapdomain.UnitPeriodSummary
}

func (s *service) load(ctx context.Context, req recapdomain.ListRequest) ([]summaryRow, error) {
	summaries, err := s.recaps.Summaries(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(summaries) == 0 {
		return nil, ErrNoRows
	}
	units, err := s.units.List(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[snowflake.ID]unitdomain.Unit, len(units))
	for _, u := range units {
		byID[u.ID] = u
	}

	rows := make([]summaryRow, 0, len(summaries))
	for _, sum := range summaries {
		u := byID[sum.UnitID]
		rows = append(rows, summaryRow{UnitCode: u.Code, UnitName: u.Name, UnitPeriodSummary: sum})
	}
	return rows, nil
}

type column struct {
	title string
	value func(r *summaryRow) any
}

var summaryColumns = []column{
	{"Unit", func(r *summaryRow) any { return r.UnitCode }},
	{"Nama Unit", func(r *summaryRow) any { return r.UnitName }},
	{"Periode", func(r *summaryRow) any { return r.PeriodKey }},
	{"Penghimpunan", func(r *summaryRow) any { return r.CollectionTotal }},
	{"Wajib Setor", func(r *summaryRow) any { return r.RemitExpected }},
	{"Disetor", func(r *summaryRow) any { return r.Deposited }},
	{"Kurang Setor", func(r *summaryRow) any { return r.DepositOutstanding }},
	{"Beras (kg)", func(r *summaryRow) any { return r.RiceCollectedKg }},
	{"Beras Setor (kg)", func(r *summaryRow) any { return r.RiceRemitKg }},
	{"Alokasi Penyaluran", func(r *summaryRow) any { return r.DistributeAllocation }},
	{"Disalurkan", func(r *summaryRow) any { return r.Distributed }},
	{"Sisa Penyaluran", func(r *summaryRow) any { return r.DistributionRemaining }},
	{"Hak Amil", func(r *summaryRow) any { return r.CollectionAmil }},
	{"Hak Amil Penyaluran", func(r *summaryRow) any { return r.DistributionAmil }},
	{"Hak Operasional", func(r *summaryRow) any { return r.OperatorRight }},
	{"Penerima Manfaat", func(r *summaryRow) any { return r.Beneficiaries }},
}

func formatValue(v any) string {
	switch x := v.(type) {
	case decimal.Decimal:
		return x.String()
	case string:
		return x
	case int:
		return decimal.NewFromInt(int64(x)).String()
	}
	return ""
}
