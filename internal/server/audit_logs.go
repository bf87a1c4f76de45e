package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/ziswaf/internal/audit/domain"
	"github.com/smallbiznis/ziswaf/pkg/db/pagination"
)

type listAuditLogsQuery struct {
	pagination.Pagination
	RecordType string `form:"record_type"`
	RecordID   string `form:"record_id"`
	UnitID     string `form:"unit_id"`
	Action     string `form:"action"`
	StartDate  string `form:"start_date"`
	EndDate    string `form:"end_date"`
}

// ListAuditLogs returns the change trail newest first. end_date is
// inclusive of the whole day.
func (s *Server) ListAuditLogs(c *gin.Context) {
	var query listAuditLogsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	req := auditdomain.ListAuditLogRequest{
		Pagination: query.Pagination,
		RecordType: strings.TrimSpace(query.RecordType),
		RecordID:   strings.TrimSpace(query.RecordID),
		UnitID:     strings.TrimSpace(query.UnitID),
		Action:     strings.TrimSpace(query.Action),
	}
	if raw := strings.TrimSpace(query.StartDate); raw != "" {
		start, err := time.Parse(dateOnlyLayout, raw)
		if err != nil {
			AbortWithError(c, newValidationError("start_date", "invalid_start_date", "start_date must be YYYY-MM-DD"))
			return
		}
		req.StartAt = &start
	}
	if raw := strings.TrimSpace(query.EndDate); raw != "" {
		end, err := time.Parse(dateOnlyLayout, raw)
		if err != nil {
			AbortWithError(c, newValidationError("end_date", "invalid_end_date", "end_date must be YYYY-MM-DD"))
			return
		}
		end = end.Add(24*time.Hour - time.Nanosecond)
		req.EndAt = &end
	}

	resp, err := s.auditSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}
