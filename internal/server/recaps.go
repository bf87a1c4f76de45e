package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	recapdomain "github.com/smallbiznis/ziswaf/internal/recap/domain"
)

func bindRecapQuery(c *gin.Context) (recapdomain.ListRequest, bool) {
	var query recapdomain.ListRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return query, false
	}
	query.UnitID = strings.TrimSpace(query.UnitID)
	query.Granularity = strings.TrimSpace(query.Granularity)
	query.Period = strings.TrimSpace(query.Period)
	query.From = strings.TrimSpace(query.From)
	query.To = strings.TrimSpace(query.To)
	return query, true
}

// ListRecaps serves stored recap rows. Reads never trigger a rebuild.
func (s *Server) ListRecaps(c *gin.Context) {
	kind, err := recapdomain.ParseKind(strings.TrimSpace(c.Param("kind")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	query, ok := bindRecapQuery(c)
	if !ok {
		return
	}

	resp, err := s.recapSvc.List(c.Request.Context(), kind, query)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// PreviewAllocation computes one allocation recap on demand without
// storing it. Missing configuration surfaces as 422.
func (s *Server) PreviewAllocation(c *gin.Context) {
	query, ok := bindRecapQuery(c)
	if !ok {
		return
	}

	resp, err := s.recapSvc.Preview(c.Request.Context(), query)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}
