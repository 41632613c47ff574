package config

import (
	"errors"

	"github.com/andrew-solarstorm/go-packages/common"
)

type RateLimitConfig struct {
	// RequestsPerSecond is the sustained per-client rate.
	RequestsPerSecond int
	Burst             int
}

func (c *RateLimitConfig) Key() string {
	return RATE_LIMIT_CONFIG_KEY
}

func (c *RateLimitConfig) Load() error {
	c.RequestsPerSecond = common.GetEnvOrDefaultInt("RATE_LIMIT_RPS", 10)
	c.Burst = common.GetEnvOrDefaultInt("RATE_LIMIT_BURST", 20)
	return c.Validate()
}

func (c *RateLimitConfig) Validate() error {
	if c.RequestsPerSecond <= 0 || c.Burst <= 0 {
		return errors.New("invalid rate limit config")
	}
	return nil
}
