package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config interface {
	EnvConfig
	APIConfig
	SessionConfig
	StoreConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
}

type mainConfig struct {
	EnvVars
	API
	Session
	Store
}

// New loads config/.env.<env> (when present) into the process environment and
// returns a Config that reads the environment with the documented defaults.
func New() (Config, error) {
	env := strings.ToUpper(os.Getenv("ENV"))
	if env == "" {
		env = "DEV"
	}
	dotEnvPath := filepath.Join("config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			return nil, fmt.Errorf("config.godotenv(%s): %w", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("config.os.Stat(%s): %w", dotEnvPath, err)
	}

	v := viper.New()
	v.AutomaticEnv()
	cfg := FromViper(v)
	if err := ValidateSession(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// FromViper builds a Config over an existing viper instance. Defaults are applied
// to v, so explicit values set before the call win.
func FromViper(v *viper.Viper) Config {
	setDefaults(v)
	return mainConfig{
		EnvVars: EnvVars{v: v},
		API:     API{v: v},
		Session: Session{v: v},
		Store:   Store{v: v},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetTypeByDefaultValue(true)

	v.SetDefault(envKey, "DEV")
	v.SetDefault(portKey, "8090")
	v.SetDefault(appNameKey, "School Dashboard")
	v.SetDefault(logLevelKey, "info")

	v.SetDefault(apiBaseURLKey, "http://127.0.0.1:8000")
	v.SetDefault(apiPrefixKey, "/api/users")
	v.SetDefault(httpTimeoutKey, 30*time.Second)

	v.SetDefault(tokenLifetimeKey, 5*time.Minute)
	v.SetDefault(refreshMarginKey, time.Minute)
	v.SetDefault(expirySafetyMarginKey, time.Duration(0))
	v.SetDefault(refreshWaitKey, 5*time.Second)
	v.SetDefault(refreshTokenLifetimeKey, 24*time.Hour)
	v.SetDefault(tokenVerifyKeyFileKey, "")
	v.SetDefault(tokenIssuerKey, "")
	v.SetDefault(tokenAudienceKey, "")

	v.SetDefault(storeBackendKey, StoreBackendFile)
	v.SetDefault(storeDirKey, defaultStoreDir())
	v.SetDefault(storeSecretKey, "")
	v.SetDefault(redisAddrKey, "127.0.0.1:6379")
	v.SetDefault(redisPrefixKey, "dashboard:session:")
}

func defaultStoreDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(dir, "school-dashboard")
}
