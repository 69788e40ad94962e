package handler

import (
	"errors"
	"net/http"

	"deepquant/internal/model"
	"deepquant/internal/parser"
	"deepquant/internal/repository"
	"deepquant/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// BacktestHandler handles backtest job HTTP requests.
type BacktestHandler struct {
	backtestService *service.BacktestService
	logger          *zap.Logger
}

// NewBacktestHandler creates a new backtest handler.
func NewBacktestHandler(backtestService *service.BacktestService, logger *zap.Logger) *BacktestHandler {
	return &BacktestHandler{
		backtestService: backtestService,
		logger:          logger,
	}
}

// SubmitBacktest handles queuing a new backtest job. It responds as soon
// as the job record exists; the simulation runs on the worker pool.
func (h *BacktestHandler) SubmitBacktest(c *gin.Context) {
	var request model.BacktestRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	jobID, err := h.backtestService.Submit(c.Request.Context(), &request)
	if err != nil {
		var parseErr *parser.ParseError
		switch {
		case errors.As(err, &parseErr):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":  parseErr.Message,
				"reason": parseErr.Reason,
			})
		case errors.Is(err, service.ErrNoStrategy):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, repository.ErrNotFound):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Referenced policy not found"})
		case errors.Is(err, service.ErrQueueFull):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		default:
			h.logger.Error("Failed to submit backtest", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to submit backtest"})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID})
}

// GetBacktest handles polling a job by ID.
func (h *BacktestHandler) GetBacktest(c *gin.Context) {
	job, err := h.backtestService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
			return
		}
		h.logger.Error("Failed to get backtest job",
			zap.Error(err),
			zap.String("jobID", c.Param("id")))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve job"})
		return
	}

	c.JSON(http.StatusOK, job)
}

// ListBacktests handles listing all jobs.
func (h *BacktestHandler) ListBacktests(c *gin.Context) {
	jobs, err := h.backtestService.List(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list backtest jobs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve jobs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}
