// Package pagination pages multichain tokens out of a ranked single-chain
// token source. All resumable state travels in the cursor.
package pagination

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/hxuan190/token-aggregator/internal/aggregator/services/grouping"
	"github.com/hxuan190/token-aggregator/internal/aggregator/services/overrides"
	"github.com/hxuan190/token-aggregator/internal/bloom"
	"github.com/hxuan190/token-aggregator/internal/domain"
	"github.com/hxuan190/token-aggregator/internal/metrics"
)

const (
	MinLimit = 1
	MaxLimit = 500

	// oversample compensates for records collapsing into fewer groups.
	oversample = 1.5

	DefaultSymbolPageSize = 1000
)

// TokenSource returns single-chain token records ranked by params.Order.
type TokenSource interface {
	FetchTopTokens(ctx context.Context, params domain.FetchParams) ([]domain.TokenRecord, error)
}

type Options struct {
	BloomExpectedItems     int
	BloomFalsePositiveRate float64
	PriceTolerance         float64
	Identity               grouping.TokenIdentity
	Logo                   grouping.LogoFunc
	// SymbolPageSize is the page size used when fetching every record of a
	// set of symbols or ids.
	SymbolPageSize int
}

type Request struct {
	Limit           int
	Order           domain.TokenOrder
	Cursor          string
	MatchAllSymbols bool
	Filter          domain.TokenFilter
	// Overrides must not be mutated while the request runs.
	Overrides domain.OverrideTable
}

type Page struct {
	Tokens []domain.MultichainToken
	// NextCursor is nil once the source is exhausted.
	NextCursor *string
	// Discarded holds the records classified as discarded on this page.
	Discarded []domain.TokenRecord
	Batches   int
}

type Driver struct {
	source TokenSource
	opts   Options
}

func NewDriver(source TokenSource, opts Options) *Driver {
	if opts.SymbolPageSize <= 0 {
		opts.SymbolPageSize = DefaultSymbolPageSize
	}
	return &Driver{source: source, opts: opts}
}

// BatchSize is the number of records requested per source batch for limit.
func BatchSize(limit int) int {
	return int(math.Ceil(float64(limit) * oversample))
}

// ValidateLimit checks that limit lies in [MinLimit, MaxLimit].
func ValidateLimit(limit int) error {
	if limit < MinLimit || limit > MaxLimit {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidLimit, limit, MinLimit, MaxLimit)
	}
	return nil
}

// Page builds the next page for req.
//
// Records are fetched in batches of BatchSize(req.Limit) starting at the
// cursor offset. Records already in the cursor's filter are skipped. For the
// rest, every unseen record sharing their symbols (and every record linked to
// them by an override) is fetched so a multichain token is never split
// between pages. Emitted group members, null-overridden records and discards
// whose symbol is fully emitted are added to the filter. The offset advances
// over the longest batch prefix present in the filter.
//
// A source failure fails the whole request without a cursor.
func (d *Driver) Page(ctx context.Context, req Request) (*Page, error) {
	if err := ValidateLimit(req.Limit); err != nil {
		return nil, err
	}
	if req.Order.Field == "" {
		req.Order = domain.DefaultTokenOrder
	}

	seen, skip, err := d.start(req.Cursor)
	if err != nil {
		return nil, err
	}

	batchSize := BatchSize(req.Limit)
	page := &Page{Tokens: make([]domain.MultichainToken, 0, req.Limit)}
	hasMore, consumedAll := true, true

	for len(page.Tokens) < req.Limit && hasMore {
		batch, err := d.source.FetchTopTokens(ctx, domain.FetchParams{
			Filter: req.Filter,
			Order:  req.Order,
			Limit:  batchSize,
			Skip:   skip,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
		}
		page.Batches++

		if len(batch) == 0 {
			hasMore, consumedAll = false, true
			break
		}
		if len(batch) < batchSize {
			hasMore = false
		}

		fresh := unseen(batch, seen)
		log.Debug().
			Int("skip", skip).
			Int("batch", len(batch)).
			Int("fresh", len(fresh)).
			Msg("[pagination] fetched batch")

		if len(fresh) == 0 {
			skip += len(batch)
			consumedAll = true
			continue
		}

		complete, err := d.symbolComplete(ctx, req, fresh, seen)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
		}

		d.classify(req, complete, seen, page)

		consumed := consumedPrefix(batch, seen)
		skip += consumed
		consumedAll = consumed == len(batch)
	}

	metrics.PageBatches.Observe(float64(page.Batches))
	metrics.PageGroups.Observe(float64(len(page.Tokens)))
	metrics.DiscardedTokens.Add(float64(len(page.Discarded)))

	if hasMore || !consumedAll {
		cursor, err := NewCursor(seen, skip)
		if err != nil {
			return nil, err
		}
		encoded, err := cursor.Encode()
		if err != nil {
			return nil, err
		}
		metrics.BloomFillRatio.Observe(seen.FillRatio())
		metrics.CursorBytes.Observe(float64(len(encoded)))
		page.NextCursor = &encoded
	}

	log.Debug().
		Int("groups", len(page.Tokens)).
		Int("batches", page.Batches).
		Int("offset", skip).
		Bool("nextCursor", page.NextCursor != nil).
		Msg("[pagination] page built")

	return page, nil
}

func (d *Driver) start(cursor string) (*bloom.Filter, int, error) {
	if cursor == "" {
		return bloom.New(d.opts.BloomExpectedItems, d.opts.BloomFalsePositiveRate), 0, nil
	}
	return ParseCursor(cursor)
}

// classify groups complete, appends what fits on the page and marks the
// classified records in seen.
func (d *Driver) classify(req Request, complete []domain.TokenRecord, seen *bloom.Filter, page *Page) {
	heuristic := grouping.Group(complete, grouping.Options{
		MatchAllSymbols: req.MatchAllSymbols,
		PriceTolerance:  d.opts.PriceTolerance,
		Identity:        d.opts.Identity,
		Logo:            d.opts.Logo,
	})
	resolved := overrides.Apply(overrides.Input{
		Clusters:  heuristic.Clusters,
		Discarded: heuristic.Discarded,
		Records:   complete,
		Order:     req.Order,
		Table:     req.Overrides,
		Logo:      d.opts.Logo,
	})

	emitted := resolved.Tokens
	var deferred []domain.MultichainToken
	if room := req.Limit - len(page.Tokens); len(emitted) > room {
		emitted, deferred = emitted[:room], emitted[room:]
	}

	for i := range emitted {
		for _, id := range emitted[i].TokenIDs {
			seen.Add(id)
		}
	}
	page.Tokens = append(page.Tokens, emitted...)

	bySymbol := make(map[string]string, len(complete))
	for i := range complete {
		bySymbol[complete[i].ID] = complete[i].NormalizedSymbol
	}
	unsettled := make(map[string]struct{})
	for i := range deferred {
		for _, id := range deferred[i].TokenIDs {
			unsettled[bySymbol[id]] = struct{}{}
		}
	}

	for _, r := range resolved.Discarded {
		o, hasOverride := req.Overrides[r.ID]
		if _, open := unsettled[r.NormalizedSymbol]; open && !(hasOverride && o.IsDiscard()) {
			continue
		}
		seen.Add(r.ID)
		page.Discarded = append(page.Discarded, r)
	}
}

// symbolComplete returns fresh plus every unseen record sharing a symbol
// with it, closed over override links.
func (d *Driver) symbolComplete(ctx context.Context, req Request, fresh []domain.TokenRecord, seen *bloom.Filter) ([]domain.TokenRecord, error) {
	var out []domain.TokenRecord
	index := make(map[string]struct{}, len(fresh))
	add := func(r domain.TokenRecord) {
		if _, ok := index[r.ID]; ok || seen.Has(r.ID) {
			return
		}
		index[r.ID] = struct{}{}
		out = append(out, r)
	}

	doneSymbols := make(map[string]struct{})
	requestedIDs := make(map[string]struct{})
	var pending []string
	queueSymbol := func(symbol string) {
		if _, ok := doneSymbols[symbol]; ok {
			return
		}
		doneSymbols[symbol] = struct{}{}
		pending = append(pending, symbol)
	}

	for _, r := range fresh {
		add(r)
		queueSymbol(r.NormalizedSymbol)
	}

	for len(pending) > 0 {
		symbols := pending
		pending = nil

		records, err := d.fetchAll(ctx, req, domain.FetchParams{Symbols: symbols})
		if err != nil {
			return nil, err
		}
		wanted := toSet(symbols)
		for _, r := range records {
			if _, ok := wanted[r.NormalizedSymbol]; ok {
				add(r)
			}
		}

		if len(req.Overrides) == 0 {
			break
		}

		ids := make([]string, 0, len(out))
		for i := range out {
			ids = append(ids, out[i].ID)
		}
		var want []string
		for _, id := range req.Overrides.LinkedIDs(ids) {
			if _, ok := requestedIDs[id]; ok || seen.Has(id) {
				continue
			}
			requestedIDs[id] = struct{}{}
			want = append(want, id)
		}
		if len(want) == 0 {
			break
		}

		linked, err := d.fetchIDs(ctx, req, want)
		if err != nil {
			return nil, err
		}
		for _, r := range linked {
			add(r)
			queueSymbol(r.NormalizedSymbol)
		}
	}

	return out, nil
}

func (d *Driver) fetchIDs(ctx context.Context, req Request, ids []string) ([]domain.TokenRecord, error) {
	var out []domain.TokenRecord
	for start := 0; start < len(ids); start += d.opts.SymbolPageSize {
		end := min(start+d.opts.SymbolPageSize, len(ids))
		chunk := ids[start:end]
		records, err := d.source.FetchTopTokens(ctx, domain.FetchParams{
			Filter: req.Filter,
			Order:  req.Order,
			Limit:  len(chunk),
			IDs:    chunk,
		})
		if err != nil {
			return nil, err
		}
		wanted := toSet(chunk)
		for _, r := range records {
			if _, ok := wanted[r.ID]; ok {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

// fetchAll pages through restricted until the source runs dry.
func (d *Driver) fetchAll(ctx context.Context, req Request, restricted domain.FetchParams) ([]domain.TokenRecord, error) {
	restricted.Filter = req.Filter
	restricted.Order = req.Order
	restricted.Limit = d.opts.SymbolPageSize

	var out []domain.TokenRecord
	for {
		records, err := d.source.FetchTopTokens(ctx, restricted)
		if err != nil {
			return nil, err
		}
		out = append(out, records...)
		if len(records) < restricted.Limit {
			return out, nil
		}
		restricted.Skip += len(records)
	}
}

func unseen(batch []domain.TokenRecord, seen *bloom.Filter) []domain.TokenRecord {
	out := make([]domain.TokenRecord, 0, len(batch))
	for _, r := range batch {
		if !seen.Has(r.ID) {
			out = append(out, r)
		}
	}
	return out
}

// consumedPrefix is the length of the longest batch prefix already in seen.
func consumedPrefix(batch []domain.TokenRecord, seen *bloom.Filter) int {
	for i := range batch {
		if !seen.Has(batch[i].ID) {
			return i
		}
	}
	return len(batch)
}

func toSet(list []string) map[string]struct{} {
	set := make(map[string]struct{}, len(list))
	for _, v := range list {
		set[v] = struct{}{}
	}
	return set
}
