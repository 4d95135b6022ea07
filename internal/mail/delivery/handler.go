package delivery

import (
	"net/http"
	"strconv"

	mailusecase "jobtrail-backend/internal/mail/usecase"

	"github.com/gin-gonic/gin"
)

type MailHandler struct {
	mirror mailusecase.MirrorReader
}

func NewMailHandler(mirror mailusecase.MirrorReader) *MailHandler {
	return &MailHandler{
		mirror: mirror,
	}
}

// ListMessages pages the mirrored mailbox, newest first.
func (h *MailHandler) ListMessages(c *gin.Context) {
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

	messages, total, err := h.mirror.List(userID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"messages": messages,
		"limit":    limit,
		"offset":   offset,
		"total":    total,
	})
}

// Search fuzzy-searches the mirror by subject, sender, and company.
func (h *MailHandler) Search(c *gin.Context) {
	userID := c.GetString("userID")

	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q query parameter is required"})
		return
	}

	limit := 20
	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	messages, err := h.mirror.Search(userID, query, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": messages, "total": len(messages)})
}
