package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envKey      = "env"
	portKey     = "port"
	appNameKey  = "app_name"
	logLevelKey = "log_level"
)

type EnvVars struct {
	v *viper.Viper
}

var _ EnvConfig = EnvVars{}

// defaultHost is used when PORT is a bare port number. Listening on every
// interface needs an explicit ":<port>" or "0.0.0.0:<port>".
const defaultHost = "127.0.0.1"

// GetPort returns the listen address
func (e EnvVars) GetPort() string {
	port := e.v.GetString(portKey)
	if !strings.Contains(port, ":") {
		port = fmt.Sprintf("%s:%s", defaultHost, port)
	}
	return port
}

func (e EnvVars) GetAppName() string {
	return e.v.GetString(appNameKey)
}

// GetEnv returns DEV, TEST, QA or PROD
func (e EnvVars) GetEnv() string {
	return strings.ToUpper(e.v.GetString(envKey))
}

func (e EnvVars) GetLogLevel() string {
	return e.v.GetString(logLevelKey)
}
