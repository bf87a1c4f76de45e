package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	unitdomain "github.com/smallbiznis/ziswaf/internal/unit/domain"
)

type createUnitRequest struct {
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	RicePrice decimal.Decimal `json:"rice_price"`
}

type updateUnitRequest struct {
	Name      *string          `json:"name"`
	RicePrice *decimal.Decimal `json:"rice_price"`
}

func (s *Server) CreateUnit(c *gin.Context) {
	var req createUnitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.unitSvc.Create(c.Request.Context(), unitdomain.CreateRequest{
		Code:      strings.TrimSpace(req.Code),
		Name:      strings.TrimSpace(req.Name),
		RicePrice: req.RicePrice,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// UpdateUnit changes a unit's name or rice price. A rice price change
// rebuilds the unit's allocation recaps in the background.
func (s *Server) UpdateUnit(c *gin.Context) {
	var req updateUnitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.unitSvc.Update(c.Request.Context(), unitdomain.UpdateRequest{
		ID:        strings.TrimSpace(c.Param("id")),
		Name:      req.Name,
		RicePrice: req.RicePrice,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetUnit(c *gin.Context) {
	resp, err := s.unitSvc.Get(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListUnits(c *gin.Context) {
	resp, err := s.unitSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}
