package aggregator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	container "github.com/thehyperflames/dicontainer-go"

	"github.com/hxuan190/token-aggregator/internal/adapters/persistence"
	"github.com/hxuan190/token-aggregator/internal/aggregator/adapters/indexer"
	"github.com/hxuan190/token-aggregator/internal/aggregator/services/grouping"
	"github.com/hxuan190/token-aggregator/internal/aggregator/services/pagination"
	"github.com/hxuan190/token-aggregator/internal/aggregator/services/pools"
	"github.com/hxuan190/token-aggregator/internal/config"
	"github.com/hxuan190/token-aggregator/internal/domain"
	"github.com/hxuan190/token-aggregator/internal/metrics"
	"github.com/hxuan190/token-aggregator/internal/services"
)

const AGGREGATOR_SERVICE = "aggregator-service"

const (
	DefaultPoolLimit = 100
	MaxPoolLimit     = 1000
)

var (
	ErrInvalidOverride = errors.New("invalid override")
	ErrInvalidPoolList = errors.New("invalid pool list request")

	// Error aliases
	ErrInvalidCursor     = pagination.ErrInvalidCursor
	ErrInvalidLimit      = pagination.ErrInvalidLimit
	ErrSourceUnavailable = pagination.ErrSourceUnavailable
	ErrUnknownPoolType   = pools.ErrUnknownPoolType
)

// OverrideStore persists the override table.
type OverrideStore interface {
	LoadOverrides() (domain.OverrideTable, error)
	SeedOverrides(seed domain.OverrideTable) (domain.OverrideTable, error)
	SaveOverride(tokenID string, o domain.Override) error
	Close() error
}

// Source is the chain indexer fan-in the service reads from.
type Source interface {
	pagination.TokenSource
	indexer.PoolFetcher
}

type Service struct {
	container.BaseDIInstance
	logger *services.ServiceLogger

	driver *pagination.Driver
	pools  indexer.PoolFetcher
	chains []int
	store  OverrideStore

	// writeMu serializes override writers; readers load the pointer.
	writeMu   sync.Mutex
	overrides atomic.Pointer[domain.OverrideTable]

	stats *servedStats
}

func (svc *Service) ID() string {
	return AGGREGATOR_SERVICE
}

func (svc *Service) Configure(c container.IContainer) error {
	svc.logger = services.NewServiceLogger(svc)
	aggConfig := c.GetConfig(config.AGGREGATOR_CONFIG_KEY).(*config.AggregatorConfig)
	idxConfig := c.GetConfig(config.INDEXER_CONFIG_KEY).(*config.IndexerConfig)

	clients := make([]indexer.ChainSource, 0, len(idxConfig.Endpoints))
	for _, ep := range idxConfig.Endpoints {
		clients = append(clients, indexer.NewClient(ep.ChainID, ep.URL, idxConfig.Timeout))
		svc.logger.Info().Int("chainId", ep.ChainID).Str("endpoint", ep.URL).Msg("registered indexer")
	}
	multi := indexer.NewMultiSource(clients...)

	store, err := persistence.NewStorage(aggConfig.DBPath)
	if err != nil {
		return err
	}

	var seed domain.OverrideTable
	if aggConfig.OverridesFile != "" {
		if seed, err = persistence.ReadOverridesFile(aggConfig.OverridesFile); err != nil {
			_ = store.Close()
			return err
		}
	}

	src := &cachedMultiSource{
		CachedSource: indexer.NewCachedSource(multi, idxConfig.CacheSize, idxConfig.CacheTTL, idxConfig.Timeout),
		MultiSource:  multi,
	}
	opts := pagination.Options{
		BloomExpectedItems:     aggConfig.BloomExpectedItems,
		BloomFalsePositiveRate: aggConfig.BloomFalsePositiveRate,
		PriceTolerance:         aggConfig.PriceTolerance,
		Identity:               grouping.SymbolIdentity{},
		Logo:                   grouping.LogoFromBase(aggConfig.LogoBaseURL),
		SymbolPageSize:         idxConfig.SymbolPageSize,
	}
	if err := svc.setup(src, multi.ChainIDs(), store, seed, opts); err != nil {
		_ = store.Close()
		return err
	}
	return nil
}

// cachedMultiSource caches token fetches and passes pool fetches through.
type cachedMultiSource struct {
	*indexer.CachedSource
	*indexer.MultiSource
}

func (s *cachedMultiSource) FetchTopTokens(ctx context.Context, params domain.FetchParams) ([]domain.TokenRecord, error) {
	return s.CachedSource.FetchTopTokens(ctx, params)
}

// NewService builds a service outside the container.
func NewService(source Source, chains []int, store OverrideStore, seed domain.OverrideTable, opts pagination.Options) (*Service, error) {
	svc := &Service{}
	svc.logger = services.NewServiceLogger(svc)
	if err := svc.setup(source, chains, store, seed, opts); err != nil {
		return nil, err
	}
	return svc, nil
}

func (svc *Service) setup(source Source, chains []int, store OverrideStore, seed domain.OverrideTable, opts pagination.Options) error {
	table, err := store.SeedOverrides(seed)
	if err != nil {
		return fmt.Errorf("failed to load overrides: %w", err)
	}

	svc.driver = pagination.NewDriver(source, opts)
	svc.pools = source
	svc.chains = chains
	svc.store = store
	svc.stats = newServedStats()
	svc.overrides.Store(&table)
	metrics.OverrideCount.Set(float64(len(table)))

	svc.logger.Info().Int("overrides", len(table)).Ints("chains", chains).Msg("aggregator configured")
	return nil
}

func (svc *Service) Start() error {
	return nil
}

func (svc *Service) Stop() error {
	if svc.store == nil {
		return nil
	}
	return svc.store.Close()
}

// GetMultichainTokenPage pages multichain tokens against the current
// override snapshot. req.Overrides is ignored.
func (svc *Service) GetMultichainTokenPage(ctx context.Context, req pagination.Request) (*pagination.Page, error) {
	start := time.Now()
	req.Overrides = *svc.overrides.Load()

	page, err := svc.driver.Page(ctx, req)
	metrics.PageDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.PageRequests.WithLabelValues(pageStatus(err)).Inc()
		if errors.Is(err, ErrSourceUnavailable) {
			svc.logger.Ctx(ctx).Error().Err(err).Int("limit", req.Limit).Msg("page request failed")
		}
		return nil, err
	}
	metrics.PageRequests.WithLabelValues("ok").Inc()
	svc.stats.record(page.Tokens)

	svc.logger.Ctx(ctx).Info().
		Int("groups", len(page.Tokens)).
		Int("discarded", len(page.Discarded)).
		Int("batches", page.Batches).
		Bool("has_next", page.NextCursor != nil).
		Dur("took", time.Since(start)).
		Msg("page served")
	return page, nil
}

func pageStatus(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCursor), errors.Is(err, ErrInvalidLimit):
		return "invalid"
	case errors.Is(err, ErrSourceUnavailable):
		return "source_error"
	default:
		return "error"
	}
}

// ListPools returns normalized pools ranked by pooled USD. A pool the
// normalizer does not recognize fails the whole request.
func (svc *Service) ListPools(ctx context.Context, params domain.PoolFetchParams) ([]pools.View, error) {
	if params.Limit == 0 {
		params.Limit = DefaultPoolLimit
	}
	if params.Limit < 0 || params.Limit > MaxPoolLimit || params.Skip < 0 {
		return nil, fmt.Errorf("%w: limit %d, skip %d", ErrInvalidPoolList, params.Limit, params.Skip)
	}

	raws, err := svc.pools.FetchPools(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}

	normalized, failed, err := pools.NormalizeAll(raws)
	if err != nil {
		metrics.PoolNormalizeErrors.WithLabelValues(strconv.Itoa(failed.ChainID)).Inc()
		svc.logger.Ctx(ctx).Error().Err(err).Str("pool", failed.ID).Int("chainId", failed.ChainID).Msg("failed to normalize pool")
		return nil, err
	}

	out := make([]pools.View, 0, len(normalized))
	for _, p := range normalized {
		out = append(out, pools.ToView(p))
	}
	return out, nil
}

// GetOverrides returns a copy of the current override table.
func (svc *Service) GetOverrides() domain.OverrideTable {
	return svc.overrides.Load().Clone()
}

// PutOverride persists o under the canonical tokenID and swaps in a new
// snapshot. Pages in flight keep the snapshot they started with.
func (svc *Service) PutOverride(tokenID string, o domain.Override) (string, domain.Override, error) {
	tokenID, o, err := canonicalOverride(tokenID, o)
	if err != nil {
		return "", domain.Override{}, err
	}

	svc.writeMu.Lock()
	defer svc.writeMu.Unlock()

	if err := svc.store.SaveOverride(tokenID, o); err != nil {
		return "", domain.Override{}, err
	}

	next := svc.overrides.Load().Clone()
	next[tokenID] = o
	svc.overrides.Store(&next)

	metrics.OverrideUpdates.Inc()
	metrics.OverrideCount.Set(float64(len(next)))
	svc.logger.Info().Str("tokenId", tokenID).Bool("discard", o.IsDiscard()).Strs("partOf", o.PartOf).Msg("override updated")
	return tokenID, o, nil
}

func canonicalOverride(tokenID string, o domain.Override) (string, domain.Override, error) {
	tokenID = strings.ToLower(strings.TrimSpace(tokenID))
	if !validTokenID(tokenID) {
		return "", domain.Override{}, fmt.Errorf("%w: token id %q", ErrInvalidOverride, tokenID)
	}
	if o.PartOf == nil {
		return tokenID, domain.Override{}, nil
	}
	if len(o.PartOf) == 0 {
		return "", domain.Override{}, fmt.Errorf("%w: empty partOf for %q", ErrInvalidOverride, tokenID)
	}

	partOf := make([]string, 0, len(o.PartOf))
	for _, target := range o.PartOf {
		target = strings.ToLower(strings.TrimSpace(target))
		if !validTokenID(target) {
			return "", domain.Override{}, fmt.Errorf("%w: partOf id %q", ErrInvalidOverride, target)
		}
		partOf = append(partOf, target)
	}
	return tokenID, domain.Override{PartOf: partOf}, nil
}

// validTokenID accepts "{chainId}-{address}".
func validTokenID(id string) bool {
	chain, address, ok := strings.Cut(id, "-")
	if !ok || address == "" {
		return false
	}
	n, err := strconv.Atoi(chain)
	return err == nil && n > 0
}

func (svc *Service) Stats() Stats {
	pages, tokens, groups := svc.stats.snapshot()
	return Stats{
		PagesServed:    pages,
		DistinctTokens: tokens,
		DistinctGroups: groups,
		Overrides:      len(*svc.overrides.Load()),
		Chains:         svc.chains,
	}
}
