package delivery

import (
	"errors"
	"net/http"

	syncusecase "jobtrail-backend/internal/sync/usecase"
	vaultdomain "jobtrail-backend/internal/vault/domain"

	"github.com/gin-gonic/gin"
)

type SyncHandler struct {
	syncer syncusecase.HistorySyncer
}

func NewSyncHandler(syncer syncusecase.HistorySyncer) *SyncHandler {
	return &SyncHandler{
		syncer: syncer,
	}
}

type syncRequest struct {
	// ProviderIDs, when set, re-fetches just these messages instead of
	// advancing the incremental cursor.
	ProviderIDs []string `json:"provider_ids"`
}

// TriggerSync runs an incremental sync for the calling user, or a targeted
// re-fetch when specific message IDs are given.
func (h *SyncHandler) TriggerSync(c *gin.Context) {
	userID := c.GetString("userID")

	var req syncRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	var (
		result *syncusecase.SyncResult
		err    error
	)
	if len(req.ProviderIDs) > 0 {
		result, err = h.syncer.SyncMessages(c.Request.Context(), userID, req.ProviderIDs)
	} else {
		result, err = h.syncer.Sync(c.Request.Context(), userID)
	}

	if err != nil {
		switch {
		case errors.Is(err, syncusecase.ErrSyncInProgress):
			c.JSON(http.StatusConflict, gin.H{"error": "sync already in progress"})
		case errors.Is(err, vaultdomain.ErrNotConnected):
			c.JSON(http.StatusPreconditionFailed, gin.H{"error": "mailbox not connected"})
		case errors.Is(err, vaultdomain.ErrReauthorizationRequired):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "reauthorization required", "reauthorize": true})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, result)
}
