package config

import (
	"errors"
	"strconv"
	"strings"

	"github.com/andrew-solarstorm/go-packages/common"
	"github.com/rs/zerolog"
)

type ServerEnv = string

var (
	DevEnv     ServerEnv = "dev"
	StagingEnv ServerEnv = "staging"
	ProdEnv    ServerEnv = "prod"
)

const (
	GENERAL_CONFIG_KEY    = "general-config"
	INDEXER_CONFIG_KEY    = "indexer-config"
	AGGREGATOR_CONFIG_KEY = "aggregator-config"
	RATE_LIMIT_CONFIG_KEY = "rate-limit-config"
)

type GeneralConfig struct {
	HTTPPort string
	HTTPHost string
	Env      string
	LogLevel string
}

func (gc *GeneralConfig) Key() string {
	return GENERAL_CONFIG_KEY
}

func (gc *GeneralConfig) Load() error {
	gc.HTTPPort = common.GetEnvOrDefault("HTTP_PORT", "8080")
	gc.HTTPHost = common.GetEnvOrDefault("HTTP_HOST", "localhost")
	gc.Env = common.GetEnvOrDefault("ENV", "dev")
	gc.LogLevel = common.GetEnvOrDefault("LOG_LEVEL", "INFO")
	return gc.Validate()
}

func (gc *GeneralConfig) Validate() error {
	if gc.HTTPPort == "" || gc.HTTPHost == "" || gc.Env == "" {
		return errors.New("invalid server config")
	}
	return nil
}

// Level is LOG_LEVEL as a zerolog level. An unrecognized value yields
// INFO along with the parse error.
func (gc *GeneralConfig) Level() (zerolog.Level, error) {
	level, err := ParseLogLevel(gc.LogLevel)
	if err != nil {
		return zerolog.InfoLevel, err
	}
	return level, nil
}

// ParseLogLevel maps DEBUG, INFO, WARN and ERROR (any case) to zerolog levels.
func ParseLogLevel(level string) (zerolog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return zerolog.DebugLevel, nil
	case "INFO", "":
		return zerolog.InfoLevel, nil
	case "WARN", "WARNING":
		return zerolog.WarnLevel, nil
	case "ERROR":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.NoLevel, errors.New("invalid LOG_LEVEL " + strconv.Quote(level))
	}
}

func getEnvOrDefaultFloat(key string, def float64) (float64, error) {
	raw := common.GetEnvOrDefault(key, "")
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, errors.New("invalid " + key + ": " + err.Error())
	}
	return v, nil
}
