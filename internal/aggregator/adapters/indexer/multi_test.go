package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hxuan190/token-aggregator/internal/domain"
)

type chainStub struct {
	*MemorySource
	chainID int
	calls   atomic.Int32
	err     error
}

func newChainStub(chainID int, records ...domain.TokenRecord) *chainStub {
	return &chainStub{MemorySource: NewMemorySource(records), chainID: chainID}
}

func (c *chainStub) ChainID() int { return c.chainID }

func (c *chainStub) FetchTopTokens(ctx context.Context, params domain.FetchParams) ([]domain.TokenRecord, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.MemorySource.FetchTopTokens(ctx, params)
}

func tok(chainID int, address, symbol string, tvl float64) domain.TokenRecord {
	return domain.TokenRecord{
		ChainID:                    chainID,
		Address:                    address,
		Symbol:                     symbol,
		NormalizedSymbol:           symbol,
		TrackedUSDPrice:            1,
		TrackedTotalValuePooledUSD: tvl,
	}
}

func ids(records []domain.TokenRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}

func TestMultiSource_MergesByOrder(t *testing.T) {
	eth := newChainStub(1, tok(1, "0xa", "A", 100), tok(1, "0xb", "B", 40), tok(1, "0xc", "C", 10))
	base := newChainStub(8453, tok(8453, "0xd", "D", 70), tok(8453, "0xe", "E", 40))
	m := NewMultiSource(base, eth)

	assert.Equal(t, []int{1, 8453}, m.ChainIDs())

	all, err := m.FetchTopTokens(context.Background(), domain.FetchParams{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"1-0xa", "8453-0xd", "1-0xb", "8453-0xe", "1-0xc"}, ids(all))

	window, err := m.FetchTopTokens(context.Background(), domain.FetchParams{Limit: 2, Skip: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"1-0xb", "8453-0xe"}, ids(window))

	asc, err := m.FetchTopTokens(context.Background(), domain.FetchParams{
		Order: domain.TokenOrder{Field: domain.OrderFieldTVL, Direction: domain.OrderAsc},
		Limit: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"1-0xc", "1-0xb"}, ids(asc))
}

func TestMultiSource_PrunesChains(t *testing.T) {
	eth := newChainStub(1, tok(1, "0xa", "A", 100))
	base := newChainStub(8453, tok(8453, "0xd", "D", 70))
	m := NewMultiSource(eth, base)

	records, err := m.FetchTopTokens(context.Background(), domain.FetchParams{
		Filter: domain.TokenFilter{ChainIDs: []int{8453}},
		Limit:  10,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"8453-0xd"}, ids(records))
	assert.EqualValues(t, 0, eth.calls.Load())

	records, err = m.FetchTopTokens(context.Background(), domain.FetchParams{IDs: []string{"1-0xa"}, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"1-0xa"}, ids(records))
	assert.EqualValues(t, 1, base.calls.Load(), "id lookups only reach the chains the ids name")
}

func TestMultiSource_FailsWholeFetch(t *testing.T) {
	eth := newChainStub(1, tok(1, "0xa", "A", 100))
	broken := newChainStub(10)
	broken.err = errors.New("connection refused")

	_, err := NewMultiSource(eth, broken).FetchTopTokens(context.Background(), domain.FetchParams{Limit: 10})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestMultiSource_FetchPools(t *testing.T) {
	eth := newChainStub(1)
	eth.SetPools([]domain.RawPool{{ID: "p1", ChainID: 1, TotalValueLockedUSD: 5}, {ID: "p2", ChainID: 1, TotalValueLockedUSD: 50}})
	base := newChainStub(8453)
	base.SetPools([]domain.RawPool{{ID: "p3", ChainID: 8453, TotalValueLockedUSD: 20}})

	pools, err := NewMultiSource(eth, base).FetchPools(context.Background(), domain.PoolFetchParams{Limit: 2})
	require.NoError(t, err)
	require.Len(t, pools, 2)
	assert.Equal(t, "p2", pools[0].ID)
	assert.Equal(t, "p3", pools[1].ID)
}

func TestCachedSource_ServesRepeatsFromCache(t *testing.T) {
	inner := newChainStub(1, tok(1, "0xa", "A", 100), tok(1, "0xb", "B", 50))
	cached := NewCachedSource(inner, 16, time.Minute, 0)
	params := domain.FetchParams{Order: domain.DefaultTokenOrder, Limit: 5}

	first, err := cached.FetchTopTokens(context.Background(), params)
	require.NoError(t, err)
	second, err := cached.FetchTopTokens(context.Background(), params)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, inner.calls.Load())

	second[0].Symbol = "MUTATED"
	third, err := cached.FetchTopTokens(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, "A", third[0].Symbol, "callers get their own copy")

	_, err = cached.FetchTopTokens(context.Background(), domain.FetchParams{Order: domain.DefaultTokenOrder, Limit: 5, Skip: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 2, inner.calls.Load())
}

func TestCachedSource_DoesNotCacheErrors(t *testing.T) {
	inner := newChainStub(1)
	inner.err = errors.New("boom")
	cached := NewCachedSource(inner, 16, time.Minute, 0)

	for i := 0; i < 2; i++ {
		_, err := cached.FetchTopTokens(context.Background(), domain.FetchParams{Limit: 1})
		require.Error(t, err)
	}
	assert.EqualValues(t, 2, inner.calls.Load())
}

// gatedFetcher blocks every fetch until release is closed.
type gatedFetcher struct {
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (g *gatedFetcher) FetchTopTokens(ctx context.Context, _ domain.FetchParams) ([]domain.TokenRecord, error) {
	if g.calls.Add(1) == 1 {
		close(g.started)
	}
	<-g.release
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []domain.TokenRecord{tok(1, "0xa", "A", 100)}, nil
}

func TestCachedSource_CancelledCallerDoesNotFailOthers(t *testing.T) {
	inner := &gatedFetcher{started: make(chan struct{}), release: make(chan struct{})}
	cached := NewCachedSource(inner, 16, time.Minute, time.Second)
	params := domain.FetchParams{Order: domain.DefaultTokenOrder, Limit: 1}

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := cached.FetchTopTokens(ctx, params)
		first <- err
	}()
	<-inner.started

	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)

	second := make(chan error, 1)
	var records []domain.TokenRecord
	go func() {
		var err error
		records, err = cached.FetchTopTokens(context.Background(), params)
		second <- err
	}()
	close(inner.release)

	require.NoError(t, <-second)
	require.Len(t, records, 1)
	assert.Equal(t, "A", records[0].Symbol)
	assert.EqualValues(t, 1, inner.calls.Load())
}

func TestTTLCache_ExpiryAndEviction(t *testing.T) {
	c := newTTLCache[string, int](2, time.Second)
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }

	c.Set("a", 1)
	c.Set("b", 2)
	_, _ = c.Get("a")
	c.Set("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok, "least recently used entry is evicted")
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	now = now.Add(time.Second)
	_, ok = c.Get("a")
	assert.False(t, ok, "entry expires after ttl")
	assert.Equal(t, 1, c.Len())
}

func TestMemorySource_FilterAndWindow(t *testing.T) {
	var records []domain.TokenRecord
	for i := 0; i < 10; i++ {
		r := tok(1+i%2, fmt.Sprintf("0x%d", i), fmt.Sprintf("S%d", i%3), float64(i*10))
		r.Name = fmt.Sprintf("token %d", i)
		r.TrackedVolumeUSD = float64(100 - i)
		records = append(records, r)
	}
	src := NewMemorySource(records)

	got, err := src.FetchTopTokens(context.Background(), domain.FetchParams{
		Filter: domain.TokenFilter{ChainIDs: []int{1}, MinTotalValuePooledUSD: 20},
		Limit:  2,
		Skip:   1,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"1-0x6", "1-0x4"}, ids(got))

	got, err = src.FetchTopTokens(context.Background(), domain.FetchParams{Symbols: []string{"S0"}, Filter: domain.TokenFilter{Search: "TOKEN 9"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"2-0x9"}, ids(got))

	got, err = src.FetchTopTokens(context.Background(), domain.FetchParams{Skip: 50})
	require.NoError(t, err)
	assert.Empty(t, got)
}
