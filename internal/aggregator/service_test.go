package aggregator

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hxuan190/token-aggregator/internal/adapters/persistence"
	"github.com/hxuan190/token-aggregator/internal/aggregator/adapters/indexer"
	"github.com/hxuan190/token-aggregator/internal/aggregator/services/pagination"
	"github.com/hxuan190/token-aggregator/internal/domain"
)

func usdc(chainID int, address string, tvl float64) domain.TokenRecord {
	return domain.TokenRecord{
		ChainID:                    chainID,
		Address:                    address,
		Symbol:                     "USDC",
		NormalizedSymbol:           "USDC",
		Name:                       "USD Coin",
		TrackedUSDPrice:            1,
		TrackedTotalValuePooledUSD: tvl,
	}
}

func newTestService(t *testing.T, seed domain.OverrideTable) (*Service, *indexer.MemorySource, string) {
	t.Helper()
	source := indexer.NewMemorySource([]domain.TokenRecord{
		usdc(1, "0xA", 1_000_000),
		usdc(8453, "0xB", 500_000),
	})
	dbPath := filepath.Join(t.TempDir(), "aggregator.db")
	store, err := persistence.NewStorage(dbPath)
	require.NoError(t, err)

	svc, err := NewService(source, []int{1, 8453}, store, seed, pagination.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Stop() })
	return svc, source, dbPath
}

func TestService_PageUsesOverrideSnapshot(t *testing.T) {
	svc, _, _ := newTestService(t, nil)

	page, err := svc.GetMultichainTokenPage(context.Background(), pagination.Request{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Tokens, 1)
	assert.Len(t, page.Tokens[0].Addresses, 2)
	assert.Nil(t, page.NextCursor)

	_, _, err = svc.PutOverride("8453-0xB", domain.Override{})
	require.NoError(t, err)

	page, err = svc.GetMultichainTokenPage(context.Background(), pagination.Request{
		Limit:     10,
		Overrides: domain.OverrideTable{"1-0xa": {}},
	})
	require.NoError(t, err)
	require.Len(t, page.Tokens, 1)
	assert.Equal(t, []domain.ChainAddress{{ChainID: 1, Address: "0xa"}}, page.Tokens[0].Addresses,
		"the request table is replaced by the service snapshot")
	require.Len(t, page.Discarded, 1)
	assert.Equal(t, "8453-0xb", page.Discarded[0].ID)
}

func TestService_PageErrors(t *testing.T) {
	svc, _, _ := newTestService(t, nil)

	_, err := svc.GetMultichainTokenPage(context.Background(), pagination.Request{Limit: 0})
	assert.ErrorIs(t, err, ErrInvalidLimit)

	_, err = svc.GetMultichainTokenPage(context.Background(), pagination.Request{Limit: 5, Cursor: "%%%"})
	assert.ErrorIs(t, err, ErrInvalidCursor)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = svc.GetMultichainTokenPage(ctx, pagination.Request{Limit: 5})
	assert.ErrorIs(t, err, ErrSourceUnavailable)
	assert.ErrorIs(t, err, context.Canceled)

	assert.EqualValues(t, 0, svc.Stats().PagesServed)
}

func TestService_OverridesPersistAcrossRestarts(t *testing.T) {
	svc, source, dbPath := newTestService(t, domain.OverrideTable{"10-0xc": {PartOf: []string{"1-0xa"}}})

	id, stored, err := svc.PutOverride(" 8453-0xB ", domain.Override{PartOf: []string{"8453-0XB"}})
	require.NoError(t, err)
	assert.Equal(t, "8453-0xb", id)
	assert.Equal(t, []string{"8453-0xb"}, stored.PartOf)

	table := svc.GetOverrides()
	assert.Len(t, table, 2)
	table["mutated"] = domain.Override{}
	assert.Len(t, svc.GetOverrides(), 2, "callers get a copy")

	require.NoError(t, svc.Stop())

	store, err := persistence.NewStorage(dbPath)
	require.NoError(t, err)
	restarted, err := NewService(source, nil, store, domain.OverrideTable{"8453-0xb": {}}, pagination.Options{})
	require.NoError(t, err)
	defer restarted.Stop()

	got := restarted.GetOverrides()
	assert.Equal(t, []string{"8453-0xb"}, got["8453-0xb"].PartOf, "runtime edits win over the seed")
	assert.Equal(t, []string{"1-0xa"}, got["10-0xc"].PartOf)
}

func TestService_PutOverrideRejectsMalformedIDs(t *testing.T) {
	svc, _, _ := newTestService(t, nil)

	for _, id := range []string{"", "0xabc", "x-0xabc", "0-0xabc", "1-"} {
		_, _, err := svc.PutOverride(id, domain.Override{})
		assert.ErrorIs(t, err, ErrInvalidOverride, id)
	}
	_, _, err := svc.PutOverride("1-0xa", domain.Override{PartOf: []string{"nope"}})
	assert.ErrorIs(t, err, ErrInvalidOverride)
	_, _, err = svc.PutOverride("1-0xa", domain.Override{PartOf: []string{}})
	assert.ErrorIs(t, err, ErrInvalidOverride, "partOf is null or non-empty")
	assert.Empty(t, svc.GetOverrides())
}

func TestService_ListPools(t *testing.T) {
	svc, source, _ := newTestService(t, nil)
	tick, spacing := int32(12), int32(60)
	source.SetPools([]domain.RawPool{
		{ID: "pair", ChainID: 1, Address: "0xPAIR", Type: "V2", Reserve0: "10", Reserve1: "20", TotalValueLockedUSD: 10},
		{ID: "clmm", ChainID: 1, Address: "0xCL", Type: "V3", Fee: "500", Tick: &tick, TickSpacing: &spacing,
			Liquidity: "1000", SqrtPrice: "79228162514264337593543950336", TotalValueLockedUSD: 90},
	})

	views, err := svc.ListPools(context.Background(), domain.PoolFetchParams{})
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, "clmm", views[0].ID)
	assert.Equal(t, "V3", views[0].Type)
	assert.Equal(t, "20", views[1].Reserve1)

	_, err = svc.ListPools(context.Background(), domain.PoolFetchParams{Limit: MaxPoolLimit + 1})
	assert.ErrorIs(t, err, ErrInvalidPoolList)

	source.SetPools([]domain.RawPool{{ID: "weird", ChainID: 1, Type: "CURVE"}})
	_, err = svc.ListPools(context.Background(), domain.PoolFetchParams{})
	assert.ErrorIs(t, err, ErrUnknownPoolType)
}

func TestService_Stats(t *testing.T) {
	svc, _, _ := newTestService(t, nil)

	for i := 0; i < 3; i++ {
		_, err := svc.GetMultichainTokenPage(context.Background(), pagination.Request{Limit: 10})
		require.NoError(t, err)
	}

	stats := svc.Stats()
	assert.EqualValues(t, 3, stats.PagesServed)
	assert.EqualValues(t, 2, stats.DistinctTokens)
	assert.EqualValues(t, 1, stats.DistinctGroups)
	assert.Equal(t, []int{1, 8453}, stats.Chains)
}
