package grouping

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hxuan190/token-aggregator/internal/domain"
)

func token(chainID int, address, symbol string, price, tvl float64) domain.TokenRecord {
	return domain.TokenRecord{
		ID:                         domain.TokenID(chainID, address),
		ChainID:                    chainID,
		Address:                    address,
		Symbol:                     symbol,
		NormalizedSymbol:           symbol,
		Name:                       symbol + " token",
		TrackedUSDPrice:            price,
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

func TestGroup_CrossChainUSDC(t *testing.T) {
	records := []domain.TokenRecord{
		token(8453, "0xB", "USDC", 1.00, 500_000),
		token(1, "0xA", "USDC", 1.00, 1_000_000),
	}

	res := Group(records, Options{Logo: LogoFromBase("https://logos.test/")})
	require.Len(t, res.Clusters, 1)
	assert.Empty(t, res.Discarded)

	tok := Materialize(res.Clusters[0].Members, LogoFromBase("https://logos.test/"))
	assert.Equal(t, []domain.ChainAddress{{ChainID: 1, Address: "0xa"}, {ChainID: 8453, Address: "0xb"}}, tok.Addresses)
	assert.Equal(t, []int{1, 8453}, tok.ChainIDs)
	assert.Equal(t, "USDC", tok.Symbol)
	assert.Equal(t, "https://logos.test/1/0xa/logo.png", tok.LogoURL)
	assert.InDelta(t, 1_500_000, tok.TotalValuePooledUSD, 1e-9)
	assert.Equal(t, "1-0xa", tok.AnchorID())
}

func TestGroup_PriceToleranceBoundary(t *testing.T) {
	anchor := token(1, "0xA", "WETH", 1.0, 1000)

	within := token(10, "0xB", "WETH", 1.2, 10)
	res := Group([]domain.TokenRecord{anchor, within}, Options{})
	require.Len(t, res.Clusters, 1)
	assert.Len(t, res.Clusters[0].Members, 2, "a 20 percent price gap is still the same asset")
	assert.Empty(t, res.Discarded)

	outside := token(10, "0xB", "WETH", 1.2000001, 10)
	res = Group([]domain.TokenRecord{anchor, outside}, Options{})
	require.Len(t, res.Clusters, 1)
	assert.Len(t, res.Clusters[0].Members, 1)
	assert.Equal(t, []string{outside.ID}, ids(res.Discarded))
}

func TestGroup_OnePerChainByDefault(t *testing.T) {
	records := []domain.TokenRecord{
		token(1, "0xLow", "USDT", 1.0, 100),
		token(1, "0xHigh", "USDT", 1.0, 900),
	}

	res := Group(records, Options{})
	require.Len(t, res.Clusters, 1)
	assert.Equal(t, []string{"1-0xhigh"}, ids(res.Clusters[0].Members))
	assert.Equal(t, []string{"1-0xlow"}, ids(res.Discarded))

	res = Group(records, Options{MatchAllSymbols: true})
	require.Len(t, res.Clusters, 1)
	assert.Equal(t, []string{"1-0xhigh", "1-0xlow"}, ids(res.Clusters[0].Members))
	assert.Empty(t, res.Discarded)
}

func TestGroup_ZeroPriceAnchorMatchesAnyPrice(t *testing.T) {
	records := []domain.TokenRecord{
		token(1, "0xA", "NEW", 0, 50),
		token(56, "0xB", "NEW", 123.4, 10),
	}
	res := Group(records, Options{})
	require.Len(t, res.Clusters, 1)
	assert.Len(t, res.Clusters[0].Members, 2)
}

func TestGroup_StableTieBreak(t *testing.T) {
	first := token(1, "0x1", "DAI", 1.0, 100)
	second := token(1, "0x2", "DAI", 1.0, 100)

	res := Group([]domain.TokenRecord{first, second}, Options{})
	require.Len(t, res.Clusters, 1)
	assert.Equal(t, first.ID, res.Clusters[0].Members[0].ID, "input order wins on equal pooled USD")

	res = Group([]domain.TokenRecord{second, first}, Options{})
	assert.Equal(t, second.ID, res.Clusters[0].Members[0].ID)
}

type rejectAll struct{}

func (rejectAll) SameAsset(a, b *domain.TokenRecord) bool { return false }

func TestGroup_IdentityIsInjected(t *testing.T) {
	records := []domain.TokenRecord{
		token(1, "0xA", "USDC", 1, 10),
		token(2, "0xB", "USDC", 1, 5),
	}
	res := Group(records, Options{Identity: rejectAll{}})
	require.Len(t, res.Clusters, 1)
	assert.Len(t, res.Clusters[0].Members, 1)
	assert.Len(t, res.Discarded, 1)
}

func TestGroup_SingletonBucket(t *testing.T) {
	res := Group([]domain.TokenRecord{token(1, "0xA", "ONLY", 3, 1)}, Options{})
	require.Len(t, res.Clusters, 1)
	assert.Len(t, res.Clusters[0].Members, 1)
	assert.Empty(t, res.Discarded)
}

func TestGroup_Totality(t *testing.T) {
	symbols := []string{"USDC", "USDT", "WETH", "WBTC", "DAI"}
	var records []domain.TokenRecord
	for i := 0; i < 400; i++ {
		chain := []int{1, 10, 56, 137, 8453, 42161}[i%6]
		price := 1.0 + float64(i%9)*0.07
		records = append(records, token(chain, fmt.Sprintf("0x%04x", i), symbols[i%len(symbols)], price, float64((i*7919)%1000)))
	}

	for _, matchAll := range []bool{false, true} {
		res := Group(records, Options{MatchAllSymbols: matchAll})

		seen := make(map[string]int)
		for _, c := range res.Clusters {
			require.NotEmpty(t, c.Members)
			chains := make(map[int]bool)
			for _, m := range c.Members {
				seen[m.ID]++
				if !matchAll {
					assert.False(t, chains[m.ChainID], "chain %d appears twice in a group", m.ChainID)
				}
				chains[m.ChainID] = true
			}
		}
		for _, d := range res.Discarded {
			seen[d.ID]++
		}

		require.Len(t, seen, len(records))
		for id, n := range seen {
			assert.Equal(t, 1, n, "record %s classified %d times", id, n)
		}
	}
}

func TestMaterialize_DedupesAddresses(t *testing.T) {
	a := token(1, "0xAA", "X", 1, 10)
	dup := a
	dup.Address = "0xaa"
	tok := Materialize([]domain.TokenRecord{a, dup}, nil)
	assert.Len(t, tok.Addresses, 1)
	assert.Empty(t, tok.LogoURL)
}

func BenchmarkGroup(b *testing.B) {
	var records []domain.TokenRecord
	for i := 0; i < 1500; i++ {
		records = append(records, token(i%12, fmt.Sprintf("0x%04x", i), fmt.Sprintf("SYM%d", i%200), 1, float64(i)))
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_ = Group(records, Options{})
	}
}
