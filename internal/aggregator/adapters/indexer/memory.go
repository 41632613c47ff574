package indexer

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/hxuan190/token-aggregator/internal/domain"
)

// MemorySource serves token records from memory with the same filter, order
// and skip/limit semantics as the GraphQL indexers. Used by tests and the
// walk command.
type MemorySource struct {
	mu      sync.RWMutex
	records []domain.TokenRecord
	pools   []domain.RawPool
}

func NewMemorySource(records []domain.TokenRecord) *MemorySource {
	s := &MemorySource{}
	s.SetRecords(records)
	return s
}

func (s *MemorySource) SetRecords(records []domain.TokenRecord) {
	canonical := make([]domain.TokenRecord, 0, len(records))
	for _, r := range records {
		canonical = append(canonical, r.Canonical())
	}
	s.mu.Lock()
	s.records = canonical
	s.mu.Unlock()
}

func (s *MemorySource) SetPools(pools []domain.RawPool) {
	s.mu.Lock()
	s.pools = append([]domain.RawPool(nil), pools...)
	s.mu.Unlock()
}

func (s *MemorySource) FetchTopTokens(ctx context.Context, params domain.FetchParams) ([]domain.TokenRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	matched := make([]domain.TokenRecord, 0, len(s.records))
	for _, r := range s.records {
		if Matches(&r, params) {
			matched = append(matched, r)
		}
	}
	s.mu.RUnlock()

	SortRecords(matched, params.Order)
	return Window(matched, params.Skip, params.Limit), nil
}

func (s *MemorySource) FetchPools(ctx context.Context, params domain.PoolFetchParams) ([]domain.RawPool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	var matched []domain.RawPool
	for _, p := range s.pools {
		if len(params.ChainIDs) == 0 || containsInt(params.ChainIDs, p.ChainID) {
			matched = append(matched, p)
		}
	}
	s.mu.RUnlock()

	SortPools(matched)
	return Window(matched, params.Skip, params.Limit), nil
}

// Matches reports whether r satisfies every restriction of params.
func Matches(r *domain.TokenRecord, params domain.FetchParams) bool {
	f := params.Filter
	if !f.AllowsChain(r.ChainID) {
		return false
	}
	if r.TrackedTotalValuePooledUSD < f.MinTotalValuePooledUSD || r.TrackedVolumeUSD < f.MinVolumeUSD {
		return false
	}
	if len(f.Symbols) > 0 && !containsString(f.Symbols, r.NormalizedSymbol) {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(r.Symbol), q) && !strings.Contains(strings.ToLower(r.Name), q) {
			return false
		}
	}
	if len(params.Symbols) > 0 && !containsString(params.Symbols, r.NormalizedSymbol) {
		return false
	}
	if len(params.IDs) > 0 && !containsString(params.IDs, r.ID) {
		return false
	}
	return true
}

// SortRecords orders records by order, breaking ties by id so that skip
// offsets are stable between calls.
func SortRecords(records []domain.TokenRecord, order domain.TokenOrder) {
	if order.Field == "" {
		order = domain.DefaultTokenOrder
	}
	sort.SliceStable(records, func(i, j int) bool {
		vi, vj := order.Value(&records[i]), order.Value(&records[j])
		if vi != vj {
			return order.Before(vi, vj)
		}
		return records[i].ID < records[j].ID
	})
}

// Window applies skip and limit. A non-positive limit means no limit.
func Window[T any](items []T, skip, limit int) []T {
	if skip < 0 {
		skip = 0
	}
	if skip >= len(items) {
		return []T{}
	}
	items = items[skip:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
