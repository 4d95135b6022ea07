package delivery

import (
	"net/http"

	classifyusecase "jobtrail-backend/internal/classify/usecase"

	"github.com/gin-gonic/gin"
)

type ClassifyHandler struct {
	queue classifyusecase.ClassificationQueue
}

func NewClassifyHandler(queue classifyusecase.ClassificationQueue) *ClassifyHandler {
	return &ClassifyHandler{
		queue: queue,
	}
}

type classifyRequest struct {
	ProviderIDs []string `json:"provider_ids"`
	// Reprocess overwrites existing results instead of skipping them.
	Reprocess bool `json:"reprocess"`
	// Limit caps a drain pass when no explicit IDs are given.
	Limit int `json:"limit"`
}

// Classify runs the classifier over the given message IDs, or drains the
// unprocessed backlog when none are given. Per-item failures are reported
// inside the batch result, not as a request error.
func (h *ClassifyHandler) Classify(c *gin.Context) {
	userID := c.GetString("userID")

	var req classifyRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	var (
		result *classifyusecase.BatchResult
		err    error
	)
	if len(req.ProviderIDs) > 0 {
		result, err = h.queue.ClassifyMessages(c.Request.Context(), userID, req.ProviderIDs, req.Reprocess)
	} else {
		limit := req.Limit
		if limit <= 0 {
			limit = 50
		}
		result, err = h.queue.DrainUnprocessed(c.Request.Context(), userID, limit)
	}

	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

type statusRequest struct {
	ProviderIDs []string `json:"provider_ids" binding:"required"`
}

// Status reports processing state for the given message IDs.
func (h *ClassifyHandler) Status(c *gin.Context) {
	userID := c.GetString("userID")

	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	statuses, err := h.queue.Status(userID, req.ProviderIDs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"statuses": statuses})
}

// RateLimit reports current usage of the shared classifier quota.
func (h *ClassifyHandler) RateLimit(c *gin.Context) {
	status, err := h.queue.RateLimitStatus(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, status)
}
