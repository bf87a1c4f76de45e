package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	cascadedomain "github.com/smallbiznis/ziswaf/internal/cascade/domain"
	"go.uber.org/zap"
)

func (s *Server) ListDeadTasks(c *gin.Context) {
	limit, err := parseOptionalInt(c.Query("limit"))
	if err != nil || (limit != nil && *limit < 0) {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
		return
	}
	n := 0
	if limit != nil {
		n = *limit
	}

	resp, err := s.tasks.ListDead(c.Request.Context(), n)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) RequeueTask(c *gin.Context) {
	resp, err := s.tasks.Requeue(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.log.Info("recompute task requeued",
		zap.String("task_id", resp.ID.String()),
		zap.String("task_type", string(resp.TaskType)),
	)
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// RebuildRecaps enqueues every recap of a unit over a date range.
func (s *Server) RebuildRecaps(c *gin.Context) {
	var req cascadedomain.RebuildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.tasks.RequestRebuild(c.Request.Context(), cascadedomain.RebuildRequest{
		UnitID: strings.TrimSpace(req.UnitID),
		From:   strings.TrimSpace(req.From),
		To:     strings.TrimSpace(req.To),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"data": resp})
}
