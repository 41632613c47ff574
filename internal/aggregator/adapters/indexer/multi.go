package indexer

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/hxuan190/token-aggregator/internal/domain"
)

type TokenFetcher interface {
	FetchTopTokens(ctx context.Context, params domain.FetchParams) ([]domain.TokenRecord, error)
}

type PoolFetcher interface {
	FetchPools(ctx context.Context, params domain.PoolFetchParams) ([]domain.RawPool, error)
}

// ChainSource is a token and pool source scoped to one chain.
type ChainSource interface {
	TokenFetcher
	PoolFetcher
	ChainID() int
}

// MultiSource merges several chain sources into one ranked stream. A window
// [skip, skip+limit) of the merged stream needs the top skip+limit records of
// every chain, so each chain is queried from offset zero.
type MultiSource struct {
	sources []ChainSource
}

func NewMultiSource(sources ...ChainSource) *MultiSource {
	sorted := append([]ChainSource(nil), sources...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ChainID() < sorted[j].ChainID() })
	return &MultiSource{sources: sorted}
}

func (m *MultiSource) ChainIDs() []int {
	out := make([]int, 0, len(m.sources))
	for _, s := range m.sources {
		out = append(out, s.ChainID())
	}
	return out
}

func (m *MultiSource) FetchTopTokens(ctx context.Context, params domain.FetchParams) ([]domain.TokenRecord, error) {
	selected := m.selectTokenSources(params)
	if len(selected) == 0 {
		return []domain.TokenRecord{}, nil
	}

	perChain := params
	perChain.Skip = 0
	if params.Limit > 0 {
		perChain.Limit = max(params.Skip, 0) + params.Limit
	}

	results := make([][]domain.TokenRecord, len(selected))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range selected {
		g.Go(func() error {
			records, err := src.FetchTopTokens(gctx, perChain)
			if err != nil {
				return err
			}
			results[i] = records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []domain.TokenRecord
	for _, r := range results {
		merged = append(merged, r...)
	}
	SortRecords(merged, params.Order)
	return Window(merged, params.Skip, params.Limit), nil
}

func (m *MultiSource) FetchPools(ctx context.Context, params domain.PoolFetchParams) ([]domain.RawPool, error) {
	var selected []ChainSource
	for _, s := range m.sources {
		if len(params.ChainIDs) == 0 || containsInt(params.ChainIDs, s.ChainID()) {
			selected = append(selected, s)
		}
	}

	perChain := params
	perChain.Skip = 0
	if params.Limit > 0 {
		perChain.Limit = max(params.Skip, 0) + params.Limit
	}

	results := make([][]domain.RawPool, len(selected))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range selected {
		g.Go(func() error {
			pools, err := src.FetchPools(gctx, perChain)
			if err != nil {
				return err
			}
			results[i] = pools
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []domain.RawPool
	for _, p := range results {
		merged = append(merged, p...)
	}
	SortPools(merged)
	return Window(merged, params.Skip, params.Limit), nil
}

// SortPools ranks pools by locked USD, descending, then by chain and id.
func SortPools(pools []domain.RawPool) {
	sort.SliceStable(pools, func(i, j int) bool {
		if pools[i].TotalValueLockedUSD != pools[j].TotalValueLockedUSD {
			return pools[i].TotalValueLockedUSD > pools[j].TotalValueLockedUSD
		}
		if pools[i].ChainID != pools[j].ChainID {
			return pools[i].ChainID < pools[j].ChainID
		}
		return pools[i].ID < pools[j].ID
	})
}

// selectTokenSources prunes chains excluded by the filter, and chains no
// requested id belongs to.
func (m *MultiSource) selectTokenSources(params domain.FetchParams) []ChainSource {
	var idChains map[int]struct{}
	if len(params.IDs) > 0 {
		idChains = make(map[int]struct{})
		for _, id := range params.IDs {
			prefix, _, ok := strings.Cut(id, "-")
			if !ok {
				continue
			}
			if chainID, err := strconv.Atoi(prefix); err == nil {
				idChains[chainID] = struct{}{}
			}
		}
	}

	var out []ChainSource
	for _, s := range m.sources {
		if !params.Filter.AllowsChain(s.ChainID()) {
			continue
		}
		if idChains != nil {
			if _, ok := idChains[s.ChainID()]; !ok {
				continue
			}
		}
		out = append(out, s)
	}
	return out
}
