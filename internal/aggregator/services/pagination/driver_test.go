package pagination

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hxuan190/token-aggregator/internal/aggregator/adapters/indexer"
	"github.com/hxuan190/token-aggregator/internal/aggregator/services/grouping"
	"github.com/hxuan190/token-aggregator/internal/aggregator/services/overrides"
	"github.com/hxuan190/token-aggregator/internal/domain"
)

func record(chainID int, address, symbol string, price, tvl float64) domain.TokenRecord {
	return domain.TokenRecord{
		ID:                         domain.TokenID(chainID, address),
		ChainID:                    chainID,
		Address:                    address,
		Symbol:                     symbol,
		NormalizedSymbol:           symbol,
		Name:                       symbol,
		TrackedUSDPrice:            price,
		TrackedTotalValuePooledUSD: tvl,
	}
}

type recordingSource struct {
	inner  TokenSource
	calls  []domain.FetchParams
	failAt int
}

func (s *recordingSource) FetchTopTokens(ctx context.Context, params domain.FetchParams) ([]domain.TokenRecord, error) {
	s.calls = append(s.calls, params)
	if s.failAt > 0 && len(s.calls) >= s.failAt {
		return nil, errors.New("indexer timed out")
	}
	return s.inner.FetchTopTokens(ctx, params)
}

// walk pages until the cursor runs out and returns every page.
func walk(t *testing.T, d *Driver, req Request) []*Page {
	t.Helper()
	var pages []*Page
	for i := 0; ; i++ {
		require.Less(t, i, 10_000, "pagination did not terminate")
		page, err := d.Page(context.Background(), req)
		require.NoError(t, err)
		pages = append(pages, page)
		if page.NextCursor == nil {
			return pages
		}
		req.Cursor = *page.NextCursor
	}
}

func groupKey(tok domain.MultichainToken) string {
	ids := append([]string(nil), tok.TokenIDs...)
	sort.Strings(ids)
	return strings.Join(ids, ",")
}

func TestPage_CrossChainExample(t *testing.T) {
	source := indexer.NewMemorySource([]domain.TokenRecord{
		record(1, "0xA", "USDC", 1.00, 1_000_000),
		record(8453, "0xB", "USDC", 1.00, 500_000),
	})
	d := NewDriver(source, Options{})

	page, err := d.Page(context.Background(), Request{Limit: 10})
	require.NoError(t, err)

	require.Len(t, page.Tokens, 1)
	assert.Equal(t, []domain.ChainAddress{{ChainID: 1, Address: "0xa"}, {ChainID: 8453, Address: "0xb"}}, page.Tokens[0].Addresses)
	assert.Equal(t, "USDC", page.Tokens[0].Symbol)
	assert.Nil(t, page.NextCursor)
	assert.Empty(t, page.Discarded)
}

func TestPage_NullOverrideExample(t *testing.T) {
	source := indexer.NewMemorySource([]domain.TokenRecord{
		record(1, "0xA", "USDC", 1.00, 1_000_000),
		record(8453, "0xB", "USDC", 1.00, 500_000),
	})
	d := NewDriver(source, Options{})

	page, err := d.Page(context.Background(), Request{
		Limit:     10,
		Overrides: domain.OverrideTable{"8453-0xb": {PartOf: nil}},
	})
	require.NoError(t, err)

	require.Len(t, page.Tokens, 1)
	assert.Equal(t, []domain.ChainAddress{{ChainID: 1, Address: "0xa"}}, page.Tokens[0].Addresses)
	require.Len(t, page.Discarded, 1)
	assert.Equal(t, "8453-0xb", page.Discarded[0].ID)
	assert.Nil(t, page.NextCursor)
}

func TestPage_BatchSizing(t *testing.T) {
	assert.Equal(t, 2, BatchSize(1))
	assert.Equal(t, 15, BatchSize(10))
	assert.Equal(t, 150, BatchSize(100))
	assert.Equal(t, 750, BatchSize(500))

	source := &recordingSource{inner: indexer.NewMemorySource(nil)}
	_, err := NewDriver(source, Options{}).Page(context.Background(), Request{Limit: 10})
	require.NoError(t, err)
	require.Len(t, source.calls, 1)
	assert.Equal(t, 15, source.calls[0].Limit)
	assert.Equal(t, 0, source.calls[0].Skip)
	assert.Equal(t, domain.DefaultTokenOrder, source.calls[0].Order)
}

func TestPage_RejectsLimit(t *testing.T) {
	d := NewDriver(indexer.NewMemorySource(nil), Options{})
	for _, limit := range []int{-1, 0, 501} {
		_, err := d.Page(context.Background(), Request{Limit: limit})
		assert.ErrorIs(t, err, ErrInvalidLimit, "limit %d", limit)
	}
}

func TestPage_RejectsInvalidCursorBeforeFetching(t *testing.T) {
	source := &recordingSource{inner: indexer.NewMemorySource(nil)}
	_, err := NewDriver(source, Options{}).Page(context.Background(), Request{Limit: 10, Cursor: rawCursor(`{"offset":3}`)})
	assert.ErrorIs(t, err, ErrInvalidCursor)
	assert.Empty(t, source.calls)
}

func TestPage_SourceFailureDropsPage(t *testing.T) {
	var records []domain.TokenRecord
	for i := 0; i < 50; i++ {
		records = append(records, record(1, fmt.Sprintf("0x%02d", i), fmt.Sprintf("T%d", i), 1, float64(1000-i)))
	}
	// the batch succeeds, the symbol-complete refetch fails
	source := &recordingSource{inner: indexer.NewMemorySource(records), failAt: 2}

	page, err := NewDriver(source, Options{}).Page(context.Background(), Request{Limit: 10})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSourceUnavailable)
	assert.Contains(t, err.Error(), "indexer timed out")
	assert.Nil(t, page)
}

func TestPage_CursorResumesWithoutRepeats(t *testing.T) {
	var records []domain.TokenRecord
	for s := 0; s < 5; s++ {
		symbol := fmt.Sprintf("S%d", s)
		tvl := float64(100 - 10*s)
		records = append(records,
			record(1, "0x1"+symbol, symbol, 1, tvl),
			record(10, "0xa"+symbol, symbol, 1, tvl-1),
		)
	}
	d := NewDriver(indexer.NewMemorySource(records), Options{})

	pages := walk(t, d, Request{Limit: 2})
	require.Len(t, pages, 3)

	symbols := func(p *Page) []string {
		var out []string
		for _, tok := range p.Tokens {
			out = append(out, tok.Symbol)
		}
		return out
	}
	assert.Equal(t, []string{"S0", "S1"}, symbols(pages[0]))
	assert.Equal(t, []string{"S2", "S3"}, symbols(pages[1]))
	assert.Equal(t, []string{"S4"}, symbols(pages[2]))
	for _, p := range pages {
		for _, tok := range p.Tokens {
			assert.Len(t, tok.ChainIDs, 2, "%s split across pages", tok.Symbol)
		}
	}

	cursor, err := DecodeCursor(*pages[1].NextCursor)
	require.NoError(t, err)
	assert.Equal(t, 8, cursor.Offset, "offset stops before the deferred S4 record")
}

func TestPage_EmptySourceEndsPagination(t *testing.T) {
	page, err := NewDriver(indexer.NewMemorySource(nil), Options{}).Page(context.Background(), Request{Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, page.Tokens)
	assert.Nil(t, page.NextCursor)
}

func TestPage_SymbolSpreadAcrossBatches(t *testing.T) {
	// USDC on chain 56 ranks far below the batch window but still joins the
	// group on the first page
	records := []domain.TokenRecord{
		record(1, "0xA", "USDC", 1, 1000),
		record(2, "0xB", "AAA", 1, 900),
		record(3, "0xC", "BBB", 1, 800),
		record(4, "0xD", "CCC", 1, 700),
		record(56, "0xE", "USDC", 1, 1),
	}
	d := NewDriver(indexer.NewMemorySource(records), Options{})

	page, err := d.Page(context.Background(), Request{Limit: 1})
	require.NoError(t, err)
	require.Len(t, page.Tokens, 1)
	assert.Equal(t, []int{1, 56}, page.Tokens[0].ChainIDs)

	rest := walk(t, d, Request{Limit: 1, Cursor: *page.NextCursor})
	var later []string
	for _, p := range rest {
		for _, tok := range p.Tokens {
			later = append(later, tok.Symbol)
		}
	}
	assert.Equal(t, []string{"AAA", "BBB", "CCC"}, later)
}

func TestPage_OverrideAcrossSymbols(t *testing.T) {
	records := []domain.TokenRecord{
		record(1, "0xA", "AAA", 1, 100),
		record(1, "0xX", "XXX", 1, 50),
		record(1, "0xY", "YYY", 1, 40),
		record(10, "0xB", "BBB", 1, 1),
	}
	table := domain.OverrideTable{"10-0xb": {PartOf: []string{"1-0xa"}}}
	d := NewDriver(indexer.NewMemorySource(records), Options{})

	pages := walk(t, d, Request{Limit: 1, Overrides: table})
	require.NotEmpty(t, pages[0].Tokens)
	assert.Equal(t, []string{"1-0xa", "10-0xb"}, pages[0].Tokens[0].TokenIDs)

	seen := map[string]int{}
	for _, p := range pages {
		for _, tok := range p.Tokens {
			for _, id := range tok.TokenIDs {
				seen[id]++
			}
		}
	}
	assert.Equal(t, map[string]int{"1-0xa": 1, "10-0xb": 1, "1-0xx": 1, "1-0xy": 1}, seen)
}

func TestPage_DiscardsReportedOnce(t *testing.T) {
	records := []domain.TokenRecord{
		record(1, "0xA", "USDT", 1, 1000),
		record(1, "0xB", "USDT", 1, 10),
		record(1, "0xC", "DAI", 1, 500),
		record(1, "0xD", "DAI", 1, 5),
	}
	d := NewDriver(indexer.NewMemorySource(records), Options{})

	var discarded []string
	for _, p := range walk(t, d, Request{Limit: 1}) {
		for _, r := range p.Discarded {
			discarded = append(discarded, r.ID)
		}
	}
	sort.Strings(discarded)
	assert.Equal(t, []string{"1-0xb", "1-0xd"}, discarded)
}

func syntheticRecords(n int) []domain.TokenRecord {
	chains := []int{1, 10, 56, 137, 8453, 42161}
	records := make([]domain.TokenRecord, 0, n)
	for i := 0; i < n; i++ {
		symbol := fmt.Sprintf("SYM%d", (i*31)%(n/4+1))
		price := 1 + float64(i%5)*0.15
		r := record(chains[(i*7)%len(chains)], fmt.Sprintf("0x%06x", i), symbol, price, float64(n-i)+0.5)
		r.TrackedVolumeUSD = float64((i * 7919) % 10007)
		records = append(records, r)
	}
	return records
}

func singleShot(records []domain.TokenRecord, order domain.TokenOrder, table domain.OverrideTable) map[string]bool {
	sorted := append([]domain.TokenRecord(nil), records...)
	indexer.SortRecords(sorted, order)
	heuristic := grouping.Group(sorted, grouping.Options{})
	res := overrides.Apply(overrides.Input{
		Clusters:  heuristic.Clusters,
		Discarded: heuristic.Discarded,
		Records:   sorted,
		Order:     order,
		Table:     table,
	})
	out := make(map[string]bool, len(res.Tokens))
	for _, tok := range res.Tokens {
		out[groupKey(tok)] = true
	}
	return out
}

func TestPage_Exhaustive(t *testing.T) {
	// limit 1 walks one page per group, so it gets the small corpus
	corpora := map[int][]domain.TokenRecord{
		200:  syntheticRecords(200),
		2000: syntheticRecords(2000),
	}
	drivers := make(map[int]*Driver, len(corpora))
	for n, records := range corpora {
		drivers[n] = NewDriver(indexer.NewMemorySource(records), Options{
			BloomExpectedItems:     20_000,
			BloomFalsePositiveRate: 1e-9,
		})
	}

	for _, order := range []domain.TokenOrder{
		domain.DefaultTokenOrder,
		{Field: domain.OrderFieldVolume, Direction: domain.OrderDesc},
		{Field: domain.OrderFieldTVL, Direction: domain.OrderAsc},
	} {
		for _, limit := range []int{1, 7, 50, 500} {
			t.Run(fmt.Sprintf("%s_%s_%d", order.Field, order.Direction, limit), func(t *testing.T) {
				if limit == 1 && order != domain.DefaultTokenOrder {
					t.Skip("covered by the default order")
				}
				if limit == 7 && testing.Short() {
					t.Skip("many pages")
				}

				n := 2000
				if limit == 1 {
					n = 200
				}
				records, d := corpora[n], drivers[n]

				got := map[string]bool{}
				pages := walk(t, d, Request{Limit: limit, Order: order})
				for i, p := range pages {
					if i < len(pages)-1 {
						assert.Len(t, p.Tokens, limit, "only the last page may be short")
					}
					for _, tok := range p.Tokens {
						key := groupKey(tok)
						require.False(t, got[key], "group %s emitted twice", key)
						got[key] = true
					}
				}
				assert.Equal(t, singleShot(records, order, nil), got)
			})
		}
	}
}

func TestPage_ExhaustiveWithOverrides(t *testing.T) {
	records := syntheticRecords(600)
	table := domain.OverrideTable{}
	for i := 0; i < len(records); i += 13 {
		table[records[i].ID] = domain.Override{PartOf: []string{records[(i*17+5)%len(records)].ID}}
	}
	for i := 3; i < len(records); i += 29 {
		table[records[i].ID] = domain.Override{}
	}
	for i := 7; i < len(records); i += 41 {
		table[records[i].ID] = domain.Override{PartOf: []string{records[i].ID}}
	}

	d := NewDriver(indexer.NewMemorySource(records), Options{BloomExpectedItems: 10_000, BloomFalsePositiveRate: 1e-9})
	emitted := map[string]int{}
	for _, p := range walk(t, d, Request{Limit: 25, Overrides: table}) {
		for _, tok := range p.Tokens {
			for _, id := range tok.TokenIDs {
				emitted[id]++
			}
		}
	}
	for id, n := range emitted {
		assert.Equal(t, 1, n, "token %s emitted %d times", id, n)
		if o, ok := table[id]; ok {
			assert.False(t, o.IsDiscard(), "null override %s emitted", id)
		}
	}
}

func TestPage_LargeScaleFalsePositiveBudget(t *testing.T) {
	if testing.Short() {
		t.Skip("large scale")
	}

	records := syntheticRecords(5000)
	d := NewDriver(indexer.NewMemorySource(records), Options{})
	expected := singleShot(records, domain.DefaultTokenOrder, nil)

	got := map[string]bool{}
	for _, p := range walk(t, d, Request{Limit: 100}) {
		for _, tok := range p.Tokens {
			key := groupKey(tok)
			require.False(t, got[key], "group %s emitted twice", key)
			got[key] = true
		}
	}

	missing := 0
	for key := range expected {
		if !got[key] {
			missing++
		}
	}
	assert.Less(t, float64(missing)/float64(len(expected)), 0.01, "%d of %d groups lost to false positives", missing, len(expected))
}
