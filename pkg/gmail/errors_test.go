package gmail

import (
	"context"
	"errors"
	"net/http"
	"testing"

	maildomain "jobtrail-backend/internal/mail/domain"
	vaultdomain "jobtrail-backend/internal/vault/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

func apiError(code int) error {
	return &googleapi.Error{Code: code, Message: http.StatusText(code)}
}

func TestClassifyError(t *testing.T) {
	assert.ErrorIs(t, classifyError(apiError(http.StatusUnauthorized)), vaultdomain.ErrReauthorizationRequired)
	assert.ErrorIs(t, classifyError(apiError(http.StatusNotFound)), maildomain.ErrStaleCursor)

	// 5xx and other 4xx pass through unchanged for the caller to decide.
	serverErr := apiError(http.StatusServiceUnavailable)
	assert.Equal(t, serverErr, classifyError(serverErr))
	plain := errors.New("connection reset")
	assert.Equal(t, plain, classifyError(plain))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(apiError(http.StatusServiceUnavailable)))
	assert.True(t, IsTransient(apiError(http.StatusTooManyRequests)))
	assert.False(t, IsTransient(apiError(http.StatusBadRequest)))
	assert.False(t, IsTransient(apiError(http.StatusNotFound)))

	// No status code means a network-level failure, worth retrying.
	assert.True(t, IsTransient(errors.New("connection reset")))

	// Already-mapped taxonomy errors are never retried.
	assert.False(t, IsTransient(maildomain.ErrStaleCursor))
	assert.False(t, IsTransient(vaultdomain.ErrReauthorizationRequired))
}

func TestDoWithRetryRecoversFromTransientFailure(t *testing.T) {
	calls := 0
	out, err := doWithRetry(context.Background(), func() (string, error) {
		calls++
		if calls == 1 {
			return "", apiError(http.StatusServiceUnavailable)
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 2, calls)
}

func TestDoWithRetryStopsOnPermanentFailure(t *testing.T) {
	calls := 0
	_, err := doWithRetry(context.Background(), func() (string, error) {
		calls++
		return "", apiError(http.StatusBadRequest)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	var apiErr *googleapi.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Code)
}

func TestDoWithRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	_, err := doWithRetry(ctx, func() (string, error) {
		calls++
		cancel()
		return "", apiError(http.StatusServiceUnavailable)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
