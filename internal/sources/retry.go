package sources

import (
	"context"

	"github.com/rs/zerolog/log"

	recerr "github.com/subwatch/subwatch/internal/errors"
)

// WithAuthRetry runs call with the given credentials and, on an auth-expired
// error, refreshes exactly once and retries. A second failure is terminal for
// the item in this pass; it is not retried again.
func WithAuthRetry[T any](ctx context.Context, userID string, creds Credentials, refresher CredentialRefresher, call func(Credentials) (T, error)) (T, error) {
	result, err := call(creds)
	if err == nil || !recerr.IsAuthExpired(err) {
		return result, err
	}
	if refresher == nil {
		return result, err
	}

	log.Debug().Str("userID", userID).Msg("Credential expired, refreshing once")
	fresh, refreshErr := refresher.Refresh(ctx, userID, creds)
	if refreshErr != nil {
		var zero T
		return zero, recerr.New(recerr.ErrorTypeAuth, "refresh_credentials", refreshErr).WithUser(userID)
	}
	return call(fresh)
}
