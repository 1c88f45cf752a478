package config

import (
	"strings"

	"github.com/spf13/viper"
)

const (
	StoreBackendFile   = "file"
	StoreBackendMemory = "memory"
	StoreBackendRedis  = "redis"
)

const (
	storeBackendKey = "store_backend"
	storeDirKey     = "store_dir"
	storeSecretKey  = "store_secret"
	redisAddrKey    = "redis_addr"
	redisPrefixKey  = "redis_prefix"
)

type StoreConfig interface {
	GetStoreBackend() string
	GetStoreDir() string
	GetStoreSecret() string
	GetRedisAddr() string
	GetRedisPrefix() string
}

type Store struct {
	v *viper.Viper
}

var _ StoreConfig = Store{}

func (s Store) GetStoreBackend() string {
	return strings.ToLower(s.v.GetString(storeBackendKey))
}

func (s Store) GetStoreDir() string {
	return s.v.GetString(storeDirKey)
}

// GetStoreSecret seeds the key that seals the session file. An empty secret
// still seals the file, but only against accidental reads.
func (s Store) GetStoreSecret() string {
	return s.v.GetString(storeSecretKey)
}

func (s Store) GetRedisAddr() string {
	return s.v.GetString(redisAddrKey)
}

func (s Store) GetRedisPrefix() string {
	return s.v.GetString(redisPrefixKey)
}
