package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	vaultdomain "jobtrail-backend/internal/vault/domain"
	"jobtrail-backend/internal/vault/repository"
	"jobtrail-backend/pkg/config"
	"jobtrail-backend/pkg/crypto"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/sync/singleflight"
)

const revokeEndpoint = "https://oauth2.googleapis.com/revoke"

// TokenVault owns the OAuth credential lifecycle for connected mailboxes.
type TokenVault interface {
	Store(userID string, token *oauth2.Token, scopes []string) error
	Get(userID string) (*vaultdomain.TokenSet, error)
	// EnsureFresh returns a token set whose access token is valid for at
	// least the configured refresh threshold, refreshing it if needed.
	// Concurrent callers for the same user share one in-flight refresh.
	EnsureFresh(ctx context.Context, userID string) (*vaultdomain.TokenSet, error)
	// Revoke calls the provider revoke endpoint best-effort and deletes
	// the stored ciphertext either way.
	Revoke(ctx context.Context, userID string) error
	OAuthConfig() *oauth2.Config
}

type tokenVault struct {
	credRepo repository.CredentialRepository
	cipher   *crypto.Cipher
	config   *config.Config
	endpoint oauth2.Endpoint
	refresh  singleflight.Group
}

func NewTokenVault(credRepo repository.CredentialRepository, cipher *crypto.Cipher, cfg *config.Config) TokenVault {
	return &tokenVault{
		credRepo: credRepo,
		cipher:   cipher,
		config:   cfg,
		endpoint: google.Endpoint,
	}
}

func (v *tokenVault) OAuthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     v.config.GoogleClientID,
		ClientSecret: v.config.GoogleClientSecret,
		RedirectURL:  v.config.GoogleRedirectURI,
		Endpoint:     v.endpoint,
		Scopes: []string{
			"https://www.googleapis.com/auth/gmail.readonly",
			"https://www.googleapis.com/auth/gmail.modify",
		},
	}
}

func (v *tokenVault) Store(userID string, token *oauth2.Token, scopes []string) error {
	accessCiphertext, err := v.cipher.Encrypt(token.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}

	refreshCiphertext := ""
	if token.RefreshToken != "" {
		refreshCiphertext, err = v.cipher.Encrypt(token.RefreshToken)
		if err != nil {
			return fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
	} else {
		// Google only returns the refresh token on first consent. Keep
		// the previously stored one on reauthorization.
		existing, err := v.credRepo.FindByUserID(userID)
		if err != nil {
			return err
		}
		if existing != nil {
			refreshCiphertext = existing.RefreshTokenCiphertext
		}
	}

	cred := &vaultdomain.Credential{
		UserID:                 userID,
		AccessTokenCiphertext:  accessCiphertext,
		RefreshTokenCiphertext: refreshCiphertext,
		Scopes:                 strings.Join(scopes, " "),
		ExpiresAt:              token.Expiry,
	}
	return v.credRepo.Save(cred)
}

func (v *tokenVault) Get(userID string) (*vaultdomain.TokenSet, error) {
	cred, err := v.credRepo.FindByUserID(userID)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, vaultdomain.ErrNotConnected
	}
	return v.decrypt(cred)
}

func (v *tokenVault) decrypt(cred *vaultdomain.Credential) (*vaultdomain.TokenSet, error) {
	accessToken, err := v.cipher.Decrypt(cred.AccessTokenCiphertext)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}

	refreshToken := ""
	if cred.RefreshTokenCiphertext != "" {
		refreshToken, err = v.cipher.Decrypt(cred.RefreshTokenCiphertext)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
		}
	}

	var scopes []string
	if cred.Scopes != "" {
		scopes = strings.Split(cred.Scopes, " ")
	}

	return &vaultdomain.TokenSet{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		Scopes:       scopes,
		ExpiresAt:    cred.ExpiresAt,
	}, nil
}

func (v *tokenVault) EnsureFresh(ctx context.Context, userID string) (*vaultdomain.TokenSet, error) {
	tokens, err := v.Get(userID)
	if err != nil {
		return nil, err
	}

	if time.Until(tokens.ExpiresAt) > v.config.TokenRefreshThreshold {
		return tokens, nil
	}

	if tokens.RefreshToken == "" {
		return nil, vaultdomain.ErrReauthorizationRequired
	}

	// Single-flight per user: Google may rotate refresh tokens on use, so
	// two concurrent refreshes could invalidate each other.
	result, err, _ := v.refresh.Do(userID, func() (interface{}, error) {
		return v.refreshTokens(ctx, userID, tokens)
	})
	if err != nil {
		return nil, err
	}
	return result.(*vaultdomain.TokenSet), nil
}

func (v *tokenVault) refreshTokens(ctx context.Context, userID string, tokens *vaultdomain.TokenSet) (*vaultdomain.TokenSet, error) {
	// Re-read under the flight: another caller may have refreshed while
	// we waited for the lock.
	current, err := v.Get(userID)
	if err != nil {
		return nil, err
	}
	if time.Until(current.ExpiresAt) > v.config.TokenRefreshThreshold {
		return current, nil
	}

	src := v.OAuthConfig().TokenSource(ctx, &oauth2.Token{
		RefreshToken: current.RefreshToken,
	})

	fresh, err := src.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.ErrorCode == "invalid_grant" {
			log.Printf("[Vault] Refresh token rejected for user %s, reauthorization required", userID)
			return nil, vaultdomain.ErrReauthorizationRequired
		}
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	if fresh.RefreshToken == "" {
		fresh.RefreshToken = current.RefreshToken
	}

	if err := v.Store(userID, fresh, current.Scopes); err != nil {
		return nil, err
	}

	return &vaultdomain.TokenSet{
		AccessToken:  fresh.AccessToken,
		RefreshToken: fresh.RefreshToken,
		Scopes:       current.Scopes,
		ExpiresAt:    fresh.Expiry,
	}, nil
}

func (v *tokenVault) Revoke(ctx context.Context, userID string) error {
	tokens, err := v.Get(userID)
	if err != nil && !errors.Is(err, vaultdomain.ErrNotConnected) {
		return err
	}

	if tokens != nil {
		revokeTarget := tokens.RefreshToken
		if revokeTarget == "" {
			revokeTarget = tokens.AccessToken
		}
		if err := v.callRevokeEndpoint(ctx, revokeTarget); err != nil {
			// Best-effort: a failed provider revoke must not block local
			// deletion.
			log.Printf("[WARN] [Vault] Provider revoke failed for user %s: %v", userID, err)
		}
	}

	return v.credRepo.Delete(userID)
}

func (v *tokenVault) callRevokeEndpoint(ctx context.Context, token string) error {
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, revokeEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("revoke endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
