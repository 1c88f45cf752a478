package main

import (
	"context"
	"fmt"
	"net/url"
	"os"

	"github.com/jrsteele09/school-dashboard/auth"
	"github.com/jrsteele09/school-dashboard/client"
	"github.com/jrsteele09/school-dashboard/internal/config"
	"github.com/jrsteele09/school-dashboard/server"
	"github.com/jrsteele09/school-dashboard/sessions"
	"github.com/jrsteele09/school-dashboard/sessions/filestore"
	"github.com/jrsteele09/school-dashboard/sessions/redisstore"
	"github.com/jrsteele09/school-dashboard/token"
	"github.com/jrsteele09/school-dashboard/token/refresh"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// app is the process wide object graph, built once at start
type app struct {
	sessions  *sessions.Service
	pipeline  *client.Pipeline
	api       *client.API
	scheduler *refresh.Scheduler
	manager   *auth.Manager
	server    *server.Server
	closers   []func() error
}

func newApp(c config.Config) (*app, error) {
	a := &app{}

	store, err := a.newStore(c)
	if err != nil {
		return nil, err
	}
	a.sessions = sessions.NewService(store)

	a.pipeline, err = client.NewPipeline(c.GetAPIBaseURL(), a.sessions, client.WithTimeout(c.GetHTTPTimeout()))
	if err != nil {
		return nil, err
	}
	a.api = client.NewAPI(a.pipeline, client.DefaultEndpoints(c.GetAPIPrefix()))

	inspector, err := newInspector(c)
	if err != nil {
		return nil, err
	}
	expiry := token.ExpiryResolver{
		Inspector:    inspector,
		Lifetime:     c.GetTokenLifetime(),
		SafetyMargin: c.GetExpirySafetyMargin(),
	}

	a.scheduler = refresh.NewScheduler(a.sessions, auth.NewRefresher(a.api), expiry, c.GetRefreshMargin(),
		refresh.WithRequestTimeout(c.GetHTTPTimeout()))
	a.pipeline.SetRefreshWaiter(a.scheduler, c.GetRefreshWait())

	a.manager = auth.NewManager(a.sessions, a.api, a.scheduler, expiry, auth.WithRefreshWait(c.GetRefreshWait()))

	a.server, err = server.New(c, a.manager, a.api)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) newStore(c config.Config) (sessions.Store, error) {
	origin, err := originOf(c.GetAPIBaseURL())
	if err != nil {
		return nil, err
	}

	switch c.GetStoreBackend() {
	case config.StoreBackendMemory:
		log.Warn().Msg("Session store is in memory, sign-ins will not survive a restart")
		return sessions.NewInMemoryStore(), nil

	case config.StoreBackendRedis:
		rdb := redis.NewClient(&redis.Options{Addr: c.GetRedisAddr()})
		a.closers = append(a.closers, rdb.Close)
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Warn().Err(err).Str("addr", c.GetRedisAddr()).Msg("Redis not reachable, sessions will read as signed out until it is")
		}
		return redisstore.New(rdb, c.GetRedisPrefix(), origin, c.GetRefreshTokenLifetime()), nil

	case config.StoreBackendFile:
		if c.GetStoreSecret() == "" {
			log.Warn().Msg("STORE_SECRET is empty, the session file is sealed with a key derived from the origin only")
		}
		fileStore, err := filestore.New(c.GetStoreDir(), origin, c.GetStoreSecret())
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", fileStore.Path()).Msg("Session file")
		return fileStore, nil
	}
	return nil, fmt.Errorf("unknown STORE_BACKEND %q", c.GetStoreBackend())
}

// newInspector verifies token signatures when a public key is configured
func newInspector(c config.SessionConfig) (*token.Inspector, error) {
	keyFile := c.GetTokenVerifyKeyFile()
	if keyFile == "" {
		return token.NewInspector(nil), nil
	}

	pemData, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("read TOKEN_VERIFY_KEY_FILE: %w", err)
	}
	publicKey, err := token.LoadPublicKeyFromPEM(pemData)
	if err != nil {
		return nil, err
	}
	verifier, err := token.NewVerifier(publicKey, c.GetTokenIssuer(), c.GetTokenAudience())
	if err != nil {
		return nil, err
	}
	log.Info().Str("keyFile", keyFile).Msg("Access token signatures are verified")
	return token.NewInspector(verifier), nil
}

func (a *app) Close() {
	a.scheduler.Cancel()
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			log.Warn().Err(err).Msg("close")
		}
	}
}

// originOf reduces the backend base URL to scheme://host[:port]
func originOf(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse API_BASE_URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("API_BASE_URL %q must be absolute", baseURL)
	}
	return u.Scheme + "://" + u.Host, nil
}
