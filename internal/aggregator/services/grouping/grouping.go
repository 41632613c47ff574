// Package grouping partitions single-chain token records into multichain
// tokens by normalized symbol and price similarity.
package grouping

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/hxuan190/token-aggregator/internal/domain"
)

const DefaultPriceTolerance = 0.20

// TokenIdentity decides whether two records denote the same asset on
// different chains.
type TokenIdentity interface {
	SameAsset(a, b *domain.TokenRecord) bool
}

// SymbolIdentity treats records with equal normalized symbols as one asset.
type SymbolIdentity struct{}

func (SymbolIdentity) SameAsset(a, b *domain.TokenRecord) bool {
	return a.NormalizedSymbol == b.NormalizedSymbol
}

// LogoFunc derives a logo url from a token's chain and address.
type LogoFunc func(chainID int, address string) string

// LogoFromBase returns a LogoFunc producing "{base}/{chainId}/{address}/logo.png".
func LogoFromBase(base string) LogoFunc {
	base = strings.TrimRight(base, "/")
	return func(chainID int, address string) string {
		return fmt.Sprintf("%s/%d/%s/logo.png", base, chainID, strings.ToLower(address))
	}
}

type Options struct {
	// MatchAllSymbols admits several members from the same chain.
	MatchAllSymbols bool
	// PriceTolerance is the maximal relative price difference to the anchor.
	PriceTolerance float64
	Identity       TokenIdentity
	Logo           LogoFunc
}

func (o Options) withDefaults() Options {
	if o.PriceTolerance <= 0 {
		o.PriceTolerance = DefaultPriceTolerance
	}
	if o.Identity == nil {
		o.Identity = SymbolIdentity{}
	}
	return o
}

// Cluster is a heuristic group. Members[0] is the anchor; the rest follow in
// descending pooled USD order.
type Cluster struct {
	Members []domain.TokenRecord
}

type Result struct {
	Clusters  []Cluster
	Discarded []domain.TokenRecord
}

// RelativePriceDiff is |candidate-anchor|/anchor, or 0 when the anchor has no price.
func RelativePriceDiff(anchor, candidate float64) float64 {
	if anchor == 0 {
		return 0
	}
	return math.Abs(candidate-anchor) / anchor
}

// Group runs the symbol/price heuristic. Record ids must be unique. Every
// record ends up either in exactly one cluster or in Discarded.
func Group(records []domain.TokenRecord, opts Options) Result {
	opts = opts.withDefaults()

	buckets := make(map[string][]domain.TokenRecord)
	var symbols []string
	for _, r := range records {
		if _, ok := buckets[r.NormalizedSymbol]; !ok {
			symbols = append(symbols, r.NormalizedSymbol)
		}
		buckets[r.NormalizedSymbol] = append(buckets[r.NormalizedSymbol], r)
	}

	var result Result
	for _, symbol := range symbols {
		bucket := buckets[symbol]
		sort.SliceStable(bucket, func(i, j int) bool {
			return bucket[i].TrackedTotalValuePooledUSD > bucket[j].TrackedTotalValuePooledUSD
		})
		groupBucket(bucket, opts, &result)
	}
	return result
}

func groupBucket(bucket []domain.TokenRecord, opts Options, result *Result) {
	processed := make([]bool, len(bucket))

	for i := range bucket {
		if processed[i] {
			continue
		}
		processed[i] = true
		anchor := &bucket[i]

		cluster := Cluster{Members: []domain.TokenRecord{*anchor}}
		chains := map[int]struct{}{anchor.ChainID: {}}

		for j := i + 1; j < len(bucket); j++ {
			if processed[j] {
				continue
			}
			processed[j] = true
			candidate := &bucket[j]

			matches := RelativePriceDiff(anchor.TrackedUSDPrice, candidate.TrackedUSDPrice) <= opts.PriceTolerance &&
				opts.Identity.SameAsset(anchor, candidate)
			_, chainTaken := chains[candidate.ChainID]

			if matches && (opts.MatchAllSymbols || !chainTaken) {
				cluster.Members = append(cluster.Members, *candidate)
				chains[candidate.ChainID] = struct{}{}
				continue
			}
			result.Discarded = append(result.Discarded, *candidate)
		}

		result.Clusters = append(result.Clusters, cluster)
	}
}

// Materialize builds the multichain view of members, which must be ordered
// anchor first. Duplicate (chain, address) pairs collapse into one entry.
func Materialize(members []domain.TokenRecord, logo LogoFunc) domain.MultichainToken {
	var token domain.MultichainToken
	if len(members) == 0 {
		return token
	}

	anchor := members[0]
	token.Symbol = anchor.Symbol
	token.Name = anchor.Name
	token.PriceUSD = anchor.TrackedUSDPrice
	if logo != nil {
		token.LogoURL = logo(anchor.ChainID, anchor.Address)
	}

	token.Addresses = make([]domain.ChainAddress, 0, len(members))
	token.ChainIDs = make([]int, 0, len(members))
	token.TokenIDs = make([]string, 0, len(members))
	seen := make(map[domain.ChainAddress]struct{}, len(members))
	for _, m := range members {
		ca := domain.ChainAddress{ChainID: m.ChainID, Address: strings.ToLower(m.Address)}
		if _, ok := seen[ca]; ok {
			continue
		}
		seen[ca] = struct{}{}
		token.Addresses = append(token.Addresses, ca)
		token.ChainIDs = append(token.ChainIDs, m.ChainID)
		token.TokenIDs = append(token.TokenIDs, m.ID)
		token.TotalValuePooledUSD += m.TrackedTotalValuePooledUSD
		token.TotalVolumeUSD += m.TrackedVolumeUSD
	}
	return token
}
