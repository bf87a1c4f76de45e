package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	ruledomain "github.com/smallbiznis/ziswaf/internal/allocationrule/domain"
	"github.com/smallbiznis/ziswaf/internal/fund"
)

type allocationRuleRequest struct {
	FundType      string           `json:"fund_type"`
	EffectiveYear *int             `json:"effective_year"`
	RemitPct      *decimal.Decimal `json:"remit_pct"`
	RetainPct     *decimal.Decimal `json:"retain_pct"`
	AmilPct       *decimal.Decimal `json:"amil_pct"`
}

func (s *Server) CreateAllocationRule(c *gin.Context) {
	var req allocationRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.EffectiveYear == nil || req.RemitPct == nil || req.RetainPct == nil || req.AmilPct == nil {
		AbortWithError(c, newValidationError("request", "required", "effective_year, remit_pct, retain_pct and amil_pct are required"))
		return
	}

	resp, err := s.ruleSvc.Create(c.Request.Context(), ruledomain.CreateRequest{
		FundType:      strings.TrimSpace(req.FundType),
		EffectiveYear: *req.EffectiveYear,
		RemitPct:      *req.RemitPct,
		RetainPct:     *req.RetainPct,
		AmilPct:       *req.AmilPct,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UpdateAllocationRule(c *gin.Context) {
	var req allocationRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.ruleSvc.Update(c.Request.Context(), ruledomain.UpdateRequest{
		ID:            strings.TrimSpace(c.Param("id")),
		EffectiveYear: req.EffectiveYear,
		RemitPct:      req.RemitPct,
		RetainPct:     req.RetainPct,
		AmilPct:       req.AmilPct,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeleteAllocationRule(c *gin.Context) {
	if err := s.ruleSvc.Delete(c.Request.Context(), strings.TrimSpace(c.Param("id"))); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) GetAllocationRule(c *gin.Context) {
	resp, err := s.ruleSvc.Get(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListAllocationRules(c *gin.Context) {
	var query ruledomain.ListRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	query.FundType = strings.TrimSpace(query.FundType)

	resp, err := s.ruleSvc.List(c.Request.Context(), query)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// ResolveAllocationRule reports the split that applies to a fund type on a
// date, including whether it came from a rule or the configured default.
func (s *Server) ResolveAllocationRule(c *gin.Context) {
	fundType, err := fund.ParseType(c.Query("fund_type"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	date := time.Now().UTC()
	if raw := strings.TrimSpace(c.Query("date")); raw != "" {
		parsed, err := time.Parse(dateOnlyLayout, raw)
		if err != nil {
			AbortWithError(c, newValidationError("date", "invalid_date", "date must be YYYY-MM-DD"))
			return
		}
		date = parsed
	}

	res, err := s.resolver.Resolve(c.Request.Context(), fundType, date)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": ruledomain.ResolveResponse{
		FundType:      string(res.FundType),
		Date:          date.Format(dateOnlyLayout),
		RemitPct:      res.RemitPct,
		RetainPct:     res.RetainPct,
		AmilPct:       res.AmilPct,
		Source:        string(res.Source),
		EffectiveYear: res.EffectiveYear,
	}})
}
