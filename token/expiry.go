package token

import (
	"context"
	"time"

	"github.com/jrsteele09/school-dashboard/internal/errors"
	"github.com/rs/zerolog/log"
)

// ExpiryResolver derives a session's ExpiresAt for a freshly issued access token.
// Precedence: a server supplied expiresIn, then the token's exp claim, then the
// configured Lifetime. SafetyMargin is subtracted from whichever applies.
type ExpiryResolver struct {
	Inspector    *Inspector
	Lifetime     time.Duration
	SafetyMargin time.Duration
}

// Resolve returns the expiry of accessToken as seen at now. expiresIn is in
// seconds; zero or negative means the server did not supply one. An error is
// returned only when signature verification is configured and fails.
func (r ExpiryResolver) Resolve(ctx context.Context, accessToken string, expiresIn int, now time.Time) (time.Time, error) {
	var expiresAt time.Time

	switch {
	case expiresIn > 0:
		expiresAt = now.Add(time.Duration(expiresIn) * time.Second)
		if r.Inspector.Verifying() {
			if _, err := r.Inspector.Inspect(ctx, accessToken); err != nil {
				return time.Time{}, err
			}
		}
	default:
		claims, err := r.Inspector.Inspect(ctx, accessToken)
		switch {
		case err != nil && r.Inspector.Verifying():
			return time.Time{}, err
		case err == nil && !claims.ExpiresAt.IsZero():
			expiresAt = claims.ExpiresAt
		default:
			if err != nil && !errors.Is(err, errors.ErrInvalidToken) {
				return time.Time{}, err
			}
			log.Debug().Err(err).Dur("lifetime", r.Lifetime).Msg("token: no exp claim, using configured lifetime")
			expiresAt = now.Add(r.Lifetime)
		}
	}

	return expiresAt.Add(-r.SafetyMargin), nil
}
