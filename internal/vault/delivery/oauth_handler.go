package delivery

import (
	"errors"
	"net/http"
	"sync"
	"time"

	vaultdomain "jobtrail-backend/internal/vault/domain"
	"jobtrail-backend/internal/vault/usecase"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// stateTTL bounds how long an issued OAuth state stays redeemable.
const stateTTL = 10 * time.Minute

type stateEntry struct {
	userID    string
	expiresAt time.Time
}

type OAuthHandler struct {
	vault usecase.TokenVault

	mu     sync.Mutex
	states map[string]stateEntry
}

func NewOAuthHandler(vault usecase.TokenVault) *OAuthHandler {
	return &OAuthHandler{
		vault:  vault,
		states: make(map[string]stateEntry),
	}
}

// GetAuthURL issues a consent URL for the calling user. The state token
// binds the later callback to this user without trusting query params.
func (h *OAuthHandler) GetAuthURL(c *gin.Context) {
	userID := c.GetString("userID")

	state := uuid.New().String()
	h.mu.Lock()
	for key, entry := range h.states {
		if time.Now().After(entry.expiresAt) {
			delete(h.states, key)
		}
	}
	h.states[state] = stateEntry{userID: userID, expiresAt: time.Now().Add(stateTTL)}
	h.mu.Unlock()

	url := h.vault.OAuthConfig().AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"))

	c.JSON(http.StatusOK, gin.H{"url": url})
}

// Callback exchanges the authorization code and stores the tokens.
func (h *OAuthHandler) Callback(c *gin.Context) {
	code := c.Query("code")
	state := c.Query("state")
	if code == "" || state == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code and state are required"})
		return
	}

	h.mu.Lock()
	entry, ok := h.states[state]
	delete(h.states, state)
	h.mu.Unlock()

	if !ok || time.Now().After(entry.expiresAt) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or expired state"})
		return
	}

	cfg := h.vault.OAuthConfig()
	token, err := cfg.Exchange(c.Request.Context(), code)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "token exchange failed: " + err.Error()})
		return
	}

	if err := h.vault.Store(entry.userID, token, cfg.Scopes); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "mailbox connected"})
}

// Status reports whether the calling user has a stored credential.
func (h *OAuthHandler) Status(c *gin.Context) {
	userID := c.GetString("userID")

	tokens, err := h.vault.Get(userID)
	if err != nil {
		if errors.Is(err, vaultdomain.ErrNotConnected) {
			c.JSON(http.StatusOK, gin.H{"connected": false})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"connected":  true,
		"scopes":     tokens.Scopes,
		"expires_at": tokens.ExpiresAt,
	})
}

// Disconnect revokes the credential and deletes it from the vault.
func (h *OAuthHandler) Disconnect(c *gin.Context) {
	userID := c.GetString("userID")

	if err := h.vault.Revoke(c.Request.Context(), userID); err != nil {
		if errors.Is(err, vaultdomain.ErrNotConnected) {
			c.JSON(http.StatusNotFound, gin.H{"error": "mailbox not connected"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "mailbox disconnected"})
}
