package report

import (
	"context"
	"fmt"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/consts/orientation"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
	recapdomain "github.com/smallbiznis/ziswaf/internal/recap/domain"
	"go.uber.org/zap"
)

// PDF rows show the columns that fit a landscape page.
var pdfColumns = []int{0, 2, 3, 4, 6, 10}

func (s *service) UnitSummaryPDF(ctx context.Context, req recapdomain.ListRequest) ([]byte, error) {
	rows, err := s.load(ctx, req)
	if err != nil {
		return nil, err
	}

	cfg := config.NewBuilder().
		WithOrientation(orientation.Horizontal).
		WithPageNumber(props.PageNumber{
			Pattern: "Halaman {current} dari {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(15,
		text.NewCol(12, "Rekapitulasi Unit", props.Text{
			Size:  16,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
	)
	m.AddRow(8,
		text.NewCol(12, fmt.Sprintf("Granularitas: %s", req.Granularity), props.Text{Size: 9}),
	)

	header := make([]any, 0, len(pdfColumns))
	for _, idx := range pdfColumns {
		header = append(header, summaryColumns[idx].title)
	}
	m.AddRow(10, pdfCols(header, fontstyle.Bold)...)

	for r := range rows {
		values := make([]any, 0, len(pdfColumns))
		for _, idx := range pdfColumns {
			values = append(values, summaryColumns[idx].value(&rows[r]))
		}
		m.AddRow(8, pdfCols(values, fontstyle.Normal)...)
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	s.log.Debug("report.unit_summary.pdf", zapRows(len(rows)))
	return doc.GetBytes(), nil
}

func pdfCols(values []any, style fontstyle.Type) []core.Col {
	size := 12 / len(values)
	if size < 1 {
		size = 1
	}
	cols := make([]core.Col, 0, len(values))
	for i, v := range values {
		a := align.Right
		if i < 2 {
			a = align.Left
		}
		cols = append(cols, text.NewCol(size, formatValue(v), props.Text{Size: 8, Style: style, Align: a}))
	}
	return cols
}

func zapRows(n int) zap.Field {
	return zap.Int("rows", n)
}
