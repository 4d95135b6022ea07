package delivery

import (
	"errors"
	"net/http"
	"strconv"

	"jobtrail-backend/internal/thread/repository"
	threadusecase "jobtrail-backend/internal/thread/usecase"

	"github.com/gin-gonic/gin"
)

type ThreadHandler struct {
	correlator threadusecase.ThreadCorrelator
}

func NewThreadHandler(correlator threadusecase.ThreadCorrelator) *ThreadHandler {
	return &ThreadHandler{
		correlator: correlator,
	}
}

// ListThreads returns the conversation projection, newest activity first.
func (h *ThreadHandler) ListThreads(c *gin.Context) {
	userID := c.GetString("userID")

	limit := 20
	offset := 0

	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		if parsed, err := strconv.Atoi(offsetStr); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	filters := repository.ListFilters{
		JobID:   c.Query("job_id"),
		Company: c.Query("company"),
		Stage:   c.Query("stage"),
	}
	if v := c.Query("requires_response"); v != "" {
		requires := v == "true"
		filters.RequiresResponse = &requires
	}

	threads, total, err := h.correlator.ListThreads(userID, filters, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"threads": threads,
		"limit":   limit,
		"offset":  offset,
		"total":   total,
	})
}

// GetThread recomputes and returns one conversation.
func (h *ThreadHandler) GetThread(c *gin.Context) {
	userID := c.GetString("userID")
	threadID := c.Param("id")

	conv, err := h.correlator.Refresh(userID, threadID)
	if err != nil {
		if errors.Is(err, threadusecase.ErrThreadNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "thread not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, conv)
}

// Analyze runs the AI thread analysis, spending shared classifier quota.
func (h *ThreadHandler) Analyze(c *gin.Context) {
	userID := c.GetString("userID")
	threadID := c.Param("id")

	conv, err := h.correlator.AnalyzeConversation(c.Request.Context(), userID, threadID)
	if err != nil {
		var rateLimited *threadusecase.RateLimitedError
		switch {
		case errors.Is(err, threadusecase.ErrThreadNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "thread not found"})
		case errors.As(err, &rateLimited):
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":    "classifier quota exhausted",
				"reset_at": rateLimited.ResetAt,
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, conv)
}

// MarkResponded records that the user replied outside the mirror, clearing
// the requires-response flag until new inbound mail arrives.
func (h *ThreadHandler) MarkResponded(c *gin.Context) {
	userID := c.GetString("userID")
	threadID := c.Param("id")

	conv, err := h.correlator.MarkResponseSent(userID, threadID)
	if err != nil {
		if errors.Is(err, threadusecase.ErrThreadNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "thread not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, conv)
}

type linkJobRequest struct {
	JobID string `json:"job_id" binding:"required"`
}

// LinkJob manually binds a thread to a job application.
func (h *ThreadHandler) LinkJob(c *gin.Context) {
	userID := c.GetString("userID")
	threadID := c.Param("id")

	var req linkJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conv, err := h.correlator.LinkJob(userID, threadID, req.JobID)
	if err != nil {
		switch {
		case errors.Is(err, threadusecase.ErrThreadNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "thread not found"})
		case errors.Is(err, threadusecase.ErrJobNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "job application not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, conv)
}
