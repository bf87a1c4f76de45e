package server

import (
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	collectiondomain "github.com/smallbiznis/ziswaf/internal/collection/domain"
	"go.uber.org/zap"
)

// maxImportSize bounds the uploaded spreadsheet.
const maxImportSize = 10 << 20

func (s *Server) CreateTransaction(c *gin.Context) {
	var req collectiondomain.CreateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.transactionSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UpdateTransaction(c *gin.Context) {
	var req collectiondomain.UpdateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.ID = strings.TrimSpace(c.Param("id"))

	resp, err := s.transactionSvc.Update(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeleteTransaction(c *gin.Context) {
	if err := s.transactionSvc.Delete(c.Request.Context(), strings.TrimSpace(c.Param("id"))); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) RestoreTransaction(c *gin.Context) {
	resp, err := s.transactionSvc.Restore(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ForceDeleteTransaction(c *gin.Context) {
	if err := s.transactionSvc.ForceDelete(c.Request.Context(), strings.TrimSpace(c.Param("id"))); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) GetTransaction(c *gin.Context) {
	resp, err := s.transactionSvc.Get(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListTransactions(c *gin.Context) {
	var query collectiondomain.ListTransactionRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.transactionSvc.List(c.Request.Context(), collectiondomain.ListTransactionRequest{
		UnitID:    strings.TrimSpace(query.UnitID),
		Kind:      strings.TrimSpace(query.Kind),
		DateFrom:  strings.TrimSpace(query.DateFrom),
		DateTo:    strings.TrimSpace(query.DateTo),
		PageToken: strings.TrimSpace(query.PageToken),
		PageSize:  query.PageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// ImportTransactions loads a multipart xlsx upload ("file") into the unit
// given by the unit_id form field. Row failures are reported, not fatal.
func (s *Server) ImportTransactions(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxImportSize)

	unitID := strings.TrimSpace(c.PostForm("unit_id"))
	if unitID == "" {
		AbortWithError(c, newValidationError("unit_id", "required", "unit_id is required"))
		return
	}

	if !s.allowImport(c, unitID) {
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		AbortWithError(c, newValidationError("file", "required", "xlsx file is required"))
		return
	}
	file, err := header.Open()
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	defer file.Close()

	resp, err := s.importer.ImportTransactions(c.Request.Context(), unitID, file)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if resp != nil {
		c.Set("import_batch_id", resp.BatchID)
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) allowImport(c *gin.Context, unitID string) bool {
	res, err := s.importLimiter.AllowUnit(c.Request.Context(), unitID)
	if err != nil {
		// Imports proceed while Redis is unreachable.
		s.log.Warn("import rate limiter unavailable", zap.Error(err))
		return true
	}
	if res.Allowed {
		return true
	}
	if res.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
	}
	AbortWithError(c, ErrTooManyRequests)
	return false
}
