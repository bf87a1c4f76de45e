package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	recapdomain "github.com/smallbiznis/ziswaf/internal/recap/domain"
	"github.com/smallbiznis/ziswaf/internal/report"
)

func (s *Server) UnitSummaryXLSX(c *gin.Context) {
	s.renderReport(c, "xlsx", report.ContentTypeXLSX, s.reportSvc.UnitSummaryXLSX)
}

func (s *Server) UnitSummaryPDF(c *gin.Context) {
	s.renderReport(c, "pdf", report.ContentTypePDF, s.reportSvc.UnitSummaryPDF)
}

type reportRenderer func(ctx context.Context, req recapdomain.ListRequest) ([]byte, error)

func (s *Server) renderReport(c *gin.Context, ext, contentType string, render reportRenderer) {
	query, ok := bindRecapQuery(c)
	if !ok {
		return
	}

	body, err := render(c.Request.Context(), query)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	name := fmt.Sprintf("rekap-unit-%s.%s", time.Now().UTC().Format("20060102"), ext)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, contentType, body)
}
