package domain

import (
	"fmt"
	"strings"
)

// TokenRecord is a single-chain token as reported by a chain indexer.
type TokenRecord struct {
	ID                         string  `json:"id"`
	ChainID                    int     `json:"chainId"`
	Address                    string  `json:"address"`
	Symbol                     string  `json:"symbol"`
	NormalizedSymbol           string  `json:"normalizedSymbol"`
	Name                       string  `json:"name"`
	NormalizedName             string  `json:"normalizedName"`
	Decimals                   int     `json:"decimals"`
	TrackedUSDPrice            float64 `json:"trackedUsdPrice"`
	TrackedTotalValuePooledUSD float64 `json:"trackedTotalValuePooledUsd"`
	TrackedVolumeUSD           float64 `json:"trackedVolumeUsd"`
}

// TokenID builds the canonical "{chainId}-{lowercased address}" identifier.
func TokenID(chainID int, address string) string {
	return fmt.Sprintf("%d-%s", chainID, strings.ToLower(address))
}

// Canonical returns a copy with the address lowercased and the id rebuilt from it.
func (t TokenRecord) Canonical() TokenRecord {
	t.Address = strings.ToLower(t.Address)
	t.ID = TokenID(t.ChainID, t.Address)
	return t
}

type ChainAddress struct {
	ChainID int    `json:"chainId" example:"8453"`
	Address string `json:"address" example:"0x833589fcd6edb6e08f4c7c32d4f71b54bda02913"`
}

// MultichainToken is one asset represented on one or more chains.
type MultichainToken struct {
	Addresses []ChainAddress `json:"addresses"`
	ChainIDs  []int          `json:"chainIds"`
	Symbol    string         `json:"symbol" example:"USDC"`
	Name      string         `json:"name" example:"USD Coin"`
	LogoURL   string         `json:"logoUrl"`

	PriceUSD            float64 `json:"priceUsd"`
	TotalValuePooledUSD float64 `json:"totalValuePooledUsd"`
	TotalVolumeUSD      float64 `json:"totalVolumeUsd"`

	// TokenIDs lists every member token id, anchor first.
	TokenIDs []string `json:"-"`
}

// AnchorID is the id of the member whose metadata represents the group.
func (m *MultichainToken) AnchorID() string {
	if len(m.TokenIDs) == 0 {
		return ""
	}
	return m.TokenIDs[0]
}

type OrderField string

const (
	OrderFieldTVL    OrderField = "TVL"
	OrderFieldVolume OrderField = "VOLUME"
	OrderFieldPrice  OrderField = "PRICE"
)

func ParseOrderField(s string) (OrderField, error) {
	switch OrderField(strings.ToUpper(s)) {
	case OrderFieldTVL, "":
		return OrderFieldTVL, nil
	case OrderFieldVolume:
		return OrderFieldVolume, nil
	case OrderFieldPrice:
		return OrderFieldPrice, nil
	default:
		return "", fmt.Errorf("unsupported order field %q", s)
	}
}

type OrderDirection string

const (
	OrderAsc  OrderDirection = "ASC"
	OrderDesc OrderDirection = "DESC"
)

func ParseOrderDirection(s string) (OrderDirection, error) {
	switch OrderDirection(strings.ToUpper(s)) {
	case OrderDesc, "":
		return OrderDesc, nil
	case OrderAsc:
		return OrderAsc, nil
	default:
		return "", fmt.Errorf("unsupported order direction %q", s)
	}
}

type TokenOrder struct {
	Field     OrderField     `json:"field"`
	Direction OrderDirection `json:"direction"`
}

var DefaultTokenOrder = TokenOrder{Field: OrderFieldTVL, Direction: OrderDesc}

// Value extracts the single-chain metric the order is defined on.
func (o TokenOrder) Value(t *TokenRecord) float64 {
	switch o.Field {
	case OrderFieldVolume:
		return t.TrackedVolumeUSD
	case OrderFieldPrice:
		return t.TrackedUSDPrice
	default:
		return t.TrackedTotalValuePooledUSD
	}
}

// GroupValue extracts the aggregate metric of a multichain token.
func (o TokenOrder) GroupValue(m *MultichainToken) float64 {
	switch o.Field {
	case OrderFieldVolume:
		return m.TotalVolumeUSD
	case OrderFieldPrice:
		return m.PriceUSD
	default:
		return m.TotalValuePooledUSD
	}
}

// Before reports whether value a sorts ahead of value b.
func (o TokenOrder) Before(a, b float64) bool {
	if o.Direction == OrderAsc {
		return a < b
	}
	return a > b
}

// TokenFilter restricts which single-chain records an indexer returns.
type TokenFilter struct {
	ChainIDs               []int    `json:"chainIds,omitempty"`
	MinTotalValuePooledUSD float64  `json:"minTvlUsd,omitempty"`
	MinVolumeUSD           float64  `json:"minVolumeUsd,omitempty"`
	Symbols                []string `json:"symbols,omitempty"`
	Search                 string   `json:"search,omitempty"`
}

// AllowsChain reports whether chainID passes the chain allowlist.
func (f TokenFilter) AllowsChain(chainID int) bool {
	if len(f.ChainIDs) == 0 {
		return true
	}
	for _, id := range f.ChainIDs {
		if id == chainID {
			return true
		}
	}
	return false
}

// FetchParams is the argument of a top-tokens query against a Token Record Source.
type FetchParams struct {
	Filter TokenFilter
	Order  TokenOrder
	Limit  int
	Skip   int

	// Symbols restricts the result to exact normalized symbols when non-empty.
	Symbols []string
	// IDs restricts the result to exact token ids when non-empty.
	IDs []string
}
