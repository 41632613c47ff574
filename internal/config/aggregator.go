package config

import (
	"errors"

	"github.com/andrew-solarstorm/go-packages/common"
)

type AggregatorConfig struct {
	// DBPath is the BoltDB file holding the override table.
	// Default: "./data/aggregator.db"
	DBPath string

	// OverridesFile optionally seeds the override table at boot.
	OverridesFile string

	// BloomExpectedItems sizes the bloom filter of a fresh cursor.
	// Default: 10000
	BloomExpectedItems int

	// BloomFalsePositiveRate is the target rate at BloomExpectedItems.
	// Default: 0.01
	BloomFalsePositiveRate float64

	// LogoBaseURL prefixes "{chainId}/{address}/logo.png".
	LogoBaseURL string

	// PriceTolerance is the maximal relative price gap within a group.
	// Default: 0.20
	PriceTolerance float64
}

func (c *AggregatorConfig) Key() string {
	return AGGREGATOR_CONFIG_KEY
}

func (c *AggregatorConfig) Load() error {
	var err error
	c.DBPath = common.GetEnvOrDefault("AGGREGATOR_DB_PATH", "./data/aggregator.db")
	c.OverridesFile = common.GetEnvOrDefault("OVERRIDES_FILE", "")
	c.BloomExpectedItems = common.GetEnvOrDefaultInt("BLOOM_EXPECTED_ITEMS", 10000)
	if c.BloomFalsePositiveRate, err = getEnvOrDefaultFloat("BLOOM_FALSE_POSITIVE_RATE", 0.01); err != nil {
		return err
	}
	c.LogoBaseURL = common.GetEnvOrDefault("LOGO_BASE_URL", "https://assets.smold.app/api/token")
	if c.PriceTolerance, err = getEnvOrDefaultFloat("PRICE_TOLERANCE", 0.20); err != nil {
		return err
	}
	return c.Validate()
}

func (c *AggregatorConfig) Validate() error {
	if c.DBPath == "" {
		return errors.New("AGGREGATOR_DB_PATH is required")
	}
	if c.BloomExpectedItems <= 0 {
		return errors.New("BLOOM_EXPECTED_ITEMS must be positive")
	}
	if c.BloomFalsePositiveRate <= 0 || c.BloomFalsePositiveRate >= 1 {
		return errors.New("BLOOM_FALSE_POSITIVE_RATE must be in (0, 1)")
	}
	if c.PriceTolerance <= 0 {
		return errors.New("PRICE_TOLERANCE must be positive")
	}
	return nil
}
