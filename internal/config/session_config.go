package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	apiBaseURLKey  = "api_base_url"
	apiPrefixKey   = "api_prefix"
	httpTimeoutKey = "http_timeout"

	tokenLifetimeKey        = "token_lifetime"
	refreshMarginKey        = "refresh_margin"
	expirySafetyMarginKey   = "expiry_safety_margin"
	refreshWaitKey          = "refresh_wait"
	refreshTokenLifetimeKey = "refresh_token_lifetime"
	tokenVerifyKeyFileKey   = "token_verify_key_file"
	tokenIssuerKey          = "token_issuer"
	tokenAudienceKey        = "token_audience"
)

// APIConfig describes the backend the dashboard talks to.
type APIConfig interface {
	GetAPIBaseURL() string
	GetAPIPrefix() string
	GetHTTPTimeout() time.Duration
}

// SessionConfig holds every timing the session core depends on. None of them is
// dictated by the backend; a server supplied expiry overrides TokenLifetime only.
type SessionConfig interface {
	GetTokenLifetime() time.Duration
	GetRefreshMargin() time.Duration
	GetExpirySafetyMargin() time.Duration
	GetRefreshWait() time.Duration
	GetRefreshTokenLifetime() time.Duration
	GetTokenVerifyKeyFile() string
	GetTokenIssuer() string
	GetTokenAudience() string
}

type API struct {
	v *viper.Viper
}

var _ APIConfig = API{}

func (a API) GetAPIBaseURL() string {
	return strings.TrimRight(a.v.GetString(apiBaseURLKey), "/")
}

func (a API) GetAPIPrefix() string {
	prefix := strings.TrimRight(a.v.GetString(apiPrefixKey), "/")
	if prefix != "" && !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return prefix
}

func (a API) GetHTTPTimeout() time.Duration {
	return a.v.GetDuration(httpTimeoutKey)
}

type Session struct {
	v *viper.Viper
}

var _ SessionConfig = Session{}

func (s Session) GetTokenLifetime() time.Duration {
	return s.v.GetDuration(tokenLifetimeKey)
}

func (s Session) GetRefreshMargin() time.Duration {
	return s.v.GetDuration(refreshMarginKey)
}

func (s Session) GetExpirySafetyMargin() time.Duration {
	return s.v.GetDuration(expirySafetyMarginKey)
}

func (s Session) GetRefreshWait() time.Duration {
	return s.v.GetDuration(refreshWaitKey)
}

func (s Session) GetRefreshTokenLifetime() time.Duration {
	return s.v.GetDuration(refreshTokenLifetimeKey)
}

// GetTokenVerifyKeyFile is a PEM public key used to verify access tokens. Empty
// disables verification and expiry is read from unverified claims.
func (s Session) GetTokenVerifyKeyFile() string {
	return s.v.GetString(tokenVerifyKeyFileKey)
}

func (s Session) GetTokenIssuer() string {
	return s.v.GetString(tokenIssuerKey)
}

func (s Session) GetTokenAudience() string {
	return s.v.GetString(tokenAudienceKey)
}

// ValidateSession rejects timings that would have the refresh scheduler fire
// as soon as a token arrives.
func ValidateSession(c SessionConfig) error {
	lifetime := c.GetTokenLifetime()
	margin := c.GetRefreshMargin()
	safety := c.GetExpirySafetyMargin()

	switch {
	case lifetime <= 0:
		return fmt.Errorf("TOKEN_LIFETIME must be positive, got %s", lifetime)
	case margin < 0 || safety < 0 || c.GetRefreshWait() < 0:
		return fmt.Errorf("REFRESH_MARGIN, EXPIRY_SAFETY_MARGIN and REFRESH_WAIT cannot be negative")
	case margin+safety >= lifetime:
		return fmt.Errorf("REFRESH_MARGIN (%s) plus EXPIRY_SAFETY_MARGIN (%s) must be less than TOKEN_LIFETIME (%s)", margin, safety, lifetime)
	}
	return nil
}
