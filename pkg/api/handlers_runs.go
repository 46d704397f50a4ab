package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"detox/pkg/storage"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 200
)

// listRuns handles GET /api/v1/runs?limit=N
func (s *Server) listRuns(c *gin.Context) {
	limit := defaultRunLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxRunLimit)
	}

	runs, err := s.runs.ListRecent(c.Request.Context(), limit)
	if err != nil {
		s.log.Error("Failed to list runs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":  runs,
		"count": len(runs),
	})
}

// lastRun handles GET /api/v1/runs/last
func (s *Server) lastRun(c *gin.Context) {
	run, err := s.runs.Last(c.Request.Context())
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no runs recorded yet"})
		return
	}
	if err != nil {
		s.log.Error("Failed to get last run", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get last run"})
		return
	}

	c.JSON(http.StatusOK, run)
}
