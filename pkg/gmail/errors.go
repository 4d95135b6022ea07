package gmail

import (
	"context"
	"errors"
	"net/http"

	maildomain "jobtrail-backend/internal/mail/domain"
	vaultdomain "jobtrail-backend/internal/vault/domain"

	"github.com/cenkalti/backoff/v4"
	"google.golang.org/api/googleapi"
)

// maxAPIRetries bounds transient-failure retries per API call.
const maxAPIRetries = 3

// classifyError maps Gmail API failures onto the local error taxonomy:
// 401 means invalidated credentials, 404 means the history cursor is gone,
// anything else is surfaced as-is (transient 5xx stay retryable for the
// caller, other 4xx are permanent).
func classifyError(err error) error {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}

	switch apiErr.Code {
	case http.StatusUnauthorized:
		return vaultdomain.ErrReauthorizationRequired
	case http.StatusNotFound:
		return maildomain.ErrStaleCursor
	}
	return err
}

// IsTransient reports whether a provider error is worth retrying.
func IsTransient(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code >= 500 || apiErr.Code == http.StatusTooManyRequests
	}
	// Network-level failures come through without a status code.
	return !errors.Is(err, maildomain.ErrStaleCursor) &&
		!errors.Is(err, vaultdomain.ErrReauthorizationRequired)
}

// doWithRetry runs one API call, retrying transient failures with
// exponential backoff. Permanent failures return immediately.
func doWithRetry[T any](ctx context.Context, call func() (T, error)) (T, error) {
	var out T
	operation := func() error {
		v, err := call()
		if err != nil {
			if IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		out = v
		return nil
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxAPIRetries),
		ctx,
	)
	err := backoff.Retry(operation, policy)
	return out, err
}
