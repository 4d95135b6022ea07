package domain

import (
	"errors"
	"time"
)

// Credential holds a user's OAuth tokens at rest. Token columns store
// ciphertext only; plaintext never leaves the vault usecase.
type Credential struct {
	UserID                 string    `json:"user_id" gorm:"primaryKey"`
	AccessTokenCiphertext  string    `json:"-" gorm:"column:access_token_ciphertext"`
	RefreshTokenCiphertext string    `json:"-" gorm:"column:refresh_token_ciphertext"`
	Scopes                 string    `json:"scopes"` // space-joined scope set
	ExpiresAt              time.Time `json:"expires_at"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// TokenSet is a decrypted credential handed to provider clients.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	Scopes       []string
	ExpiresAt    time.Time
}

var (
	// ErrNotConnected means no credential is stored for the user.
	ErrNotConnected = errors.New("mailbox not connected")
	// ErrReauthorizationRequired means the refresh token was rejected and
	// the user must go through the OAuth flow again.
	ErrReauthorizationRequired = errors.New("reauthorization required")
)
