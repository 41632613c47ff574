package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/andrew-solarstorm/go-packages/common"
)

type IndexerEndpoint struct {
	ChainID int
	URL     string
}

type IndexerConfig struct {
	// Endpoints lists one GraphQL indexer per chain, parsed from
	// INDEXER_ENDPOINTS="1=https://...,8453=https://...".
	Endpoints []IndexerEndpoint

	Timeout        time.Duration
	CacheTTL       time.Duration
	CacheSize      int
	SymbolPageSize int
}

func (c *IndexerConfig) Key() string {
	return INDEXER_CONFIG_KEY
}

func (c *IndexerConfig) Load() error {
	endpoints, err := ParseEndpoints(os.Getenv("INDEXER_ENDPOINTS"))
	if err != nil {
		return err
	}
	c.Endpoints = endpoints
	c.Timeout = time.Duration(common.GetEnvOrDefaultInt("INDEXER_TIMEOUT_MS", 10000)) * time.Millisecond
	c.CacheTTL = time.Duration(common.GetEnvOrDefaultInt("INDEXER_CACHE_TTL_MS", 15000)) * time.Millisecond
	c.CacheSize = common.GetEnvOrDefaultInt("INDEXER_CACHE_SIZE", 1024)
	c.SymbolPageSize = common.GetEnvOrDefaultInt("INDEXER_SYMBOL_PAGE_SIZE", 1000)
	return c.Validate()
}

func (c *IndexerConfig) Validate() error {
	if len(c.Endpoints) == 0 {
		return errors.New("INDEXER_ENDPOINTS is required")
	}
	if c.Timeout <= 0 || c.CacheSize <= 0 || c.SymbolPageSize <= 0 {
		return errors.New("invalid indexer config")
	}
	return nil
}

// ParseEndpoints parses "chainId=url" pairs separated by commas.
func ParseEndpoints(raw string) ([]IndexerEndpoint, error) {
	var out []IndexerEndpoint
	seen := make(map[int]bool)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		chain, url, ok := strings.Cut(part, "=")
		if !ok || strings.TrimSpace(url) == "" {
			return nil, fmt.Errorf("invalid indexer endpoint %q", part)
		}
		chainID, err := strconv.Atoi(strings.TrimSpace(chain))
		if err != nil || chainID <= 0 {
			return nil, fmt.Errorf("invalid chain id in indexer endpoint %q", part)
		}
		if seen[chainID] {
			return nil, fmt.Errorf("duplicate indexer endpoint for chain %d", chainID)
		}
		seen[chainID] = true
		out = append(out, IndexerEndpoint{ChainID: chainID, URL: strings.TrimSpace(url)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChainID < out[j].ChainID })
	return out, nil
}
