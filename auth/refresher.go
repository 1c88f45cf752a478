package auth

import (
	"context"
	"net/http"

	"github.com/jrsteele09/school-dashboard/client"
	"github.com/jrsteele09/school-dashboard/internal/errors"
	"github.com/jrsteele09/school-dashboard/token/refresh"
)

// NewRefresher adapts the backend refresh endpoint to the scheduler. A 400 or
// 401 from the endpoint means the refresh token is dead.
func NewRefresher(api *client.API) refresh.Refresher {
	return refresh.RefresherFunc(func(ctx context.Context, refreshToken string) (*refresh.Grant, error) {
		resp, err := api.Refresh(ctx, refreshToken)
		if err != nil {
			if client.IsStatus(err, http.StatusUnauthorized) || client.IsStatus(err, http.StatusBadRequest) {
				return nil, errors.Join(errors.ErrRefreshRejected, err)
			}
			return nil, err
		}
		return &refresh.Grant{
			AccessToken:  resp.Access,
			RefreshToken: resp.Refresh,
			ExpiresIn:    resp.ExpiresIn(),
		}, nil
	})
}
