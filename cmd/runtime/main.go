package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	container "github.com/thehyperflames/dicontainer-go"

	aggregator "github.com/hxuan190/token-aggregator/internal/aggregator"
	"github.com/hxuan190/token-aggregator/internal/config"
	"github.com/hxuan190/token-aggregator/internal/http"
)

// @title Multichain Token API
// @version 1.0
// @description Aggregates single-chain tokens reported by chain indexers into multichain tokens.
// @description
// @description ## - Features
// @description - **Grouping**: tokens sharing a normalized symbol and a price within 20% form one multichain token
// @description - **Overrides**: a curated table forces, isolates or discards tokens
// @description - **Streaming pagination**: an opaque cursor guarantees a token never appears twice in one walk
// @description - **Pools**: V2, V3, V4, Algebra and Slipstream pools normalized into one shape
// @description
// @description ## - Usage Tips
// @description - Pass nextCursor back as cursor until it is null
// @description - Rate Limit: 10 requests/second per IP (burst: 20)
// @BasePath /
// @schemes https http
// @tag.name tokens
// @tag.description Page through multichain tokens
// @tag.name pools
// @tag.description List normalized pools
// @tag.name overrides
// @tag.description Maintain the grouping override table

func main() {
	// load env
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Error().Err(err).Msg("failed to load env")
		return
	}

	general := &config.GeneralConfig{}
	if err := general.Load(); err != nil {
		log.Error().Err(err).Msg("invalid general config")
		return
	}
	level, err := general.Level()
	if err != nil {
		log.Warn().Err(err).Msg("unrecognized LOG_LEVEL, logging at INFO")
	}
	zerolog.SetGlobalLevel(level)

	// di container config
	conf := container.NewConf(
		general,
		&config.IndexerConfig{},
		&config.AggregatorConfig{},
		&config.RateLimitConfig{},
	)

	// di container
	dic, err := container.New(
		// config
		conf,

		// services
		&aggregator.Service{},
		&http.HTTPService{},
	)
	if err != nil {
		log.Error().Err(err).Msg("failed to create di container")
		return
	}

	// Run waits for SIGINT/SIGTERM
	if err := dic.Run(); err != nil {
		log.Error().Err(err).Msg("failed to run di container")
		return
	}

	log.Info().Msg("Shutting down services...")
	if err := dic.Stop(); err != nil {
		log.Error().Err(err).Msg("error during shutdown")
	}
	log.Info().Msg("Shutdown complete")
}
