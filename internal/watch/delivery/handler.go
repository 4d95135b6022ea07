package delivery

import (
	"errors"
	"net/http"

	vaultdomain "jobtrail-backend/internal/vault/domain"
	watchusecase "jobtrail-backend/internal/watch/usecase"

	"github.com/gin-gonic/gin"
)

type WatchHandler struct {
	manager watchusecase.WatchManager
}

func NewWatchHandler(manager watchusecase.WatchManager) *WatchHandler {
	return &WatchHandler{
		manager: manager,
	}
}

// GetStatus reports the calling user's subscription state and expiry.
func (h *WatchHandler) GetStatus(c *gin.Context) {
	userID := c.GetString("userID")

	report, err := h.manager.Status(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, report)
}

// Setup registers a new mailbox watch for the calling user.
func (h *WatchHandler) Setup(c *gin.Context) {
	userID := c.GetString("userID")

	report, err := h.manager.SetupWatch(c.Request.Context(), userID)
	if err != nil {
		switch {
		case errors.Is(err, vaultdomain.ErrNotConnected):
			c.JSON(http.StatusPreconditionFailed, gin.H{"error": "mailbox not connected"})
		case errors.Is(err, vaultdomain.ErrReauthorizationRequired):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "reauthorization required", "reauthorize": true})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, report)
}

// Renew re-registers the subscription when it is near expiry.
func (h *WatchHandler) Renew(c *gin.Context) {
	userID := c.GetString("userID")

	report, err := h.manager.RenewWatch(c.Request.Context(), userID)
	if err != nil {
		switch {
		case errors.Is(err, vaultdomain.ErrNotConnected):
			c.JSON(http.StatusPreconditionFailed, gin.H{"error": "mailbox not connected"})
		case errors.Is(err, vaultdomain.ErrReauthorizationRequired):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "reauthorization required", "reauthorize": true})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, report)
}

// Stop deactivates the subscription. Idempotent.
func (h *WatchHandler) Stop(c *gin.Context) {
	userID := c.GetString("userID")

	if err := h.manager.StopWatch(c.Request.Context(), userID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "watch stopped"})
}
