package domain

import (
	"strings"

	"github.com/holiman/uint256"
)

type PoolType uint8

const (
	PoolTypeV2 PoolType = iota
	PoolTypeV3
	PoolTypeV4
	PoolTypeAlgebra
	PoolTypeSlipstream
)

type PoolFlags uint64

const (
	FlagConcentrated PoolFlags = 1 << 0
	FlagHooks        PoolFlags = 1 << 1
	FlagDynamicFee   PoolFlags = 1 << 2
	FlagTickSpacing  PoolFlags = 1 << 3
)

func (p PoolType) String() string {
	switch p {
	case PoolTypeV2:
		return "V2"
	case PoolTypeV3:
		return "V3"
	case PoolTypeV4:
		return "V4"
	case PoolTypeAlgebra:
		return "ALGEBRA"
	case PoolTypeSlipstream:
		return "SLIPSTREAM"
	default:
		return "UNKNOWN"
	}
}

// ParsePoolType maps an indexer pool type label to a PoolType.
func ParsePoolType(s string) (PoolType, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "V2":
		return PoolTypeV2, true
	case "V3":
		return PoolTypeV3, true
	case "V4":
		return PoolTypeV4, true
	case "ALGEBRA":
		return PoolTypeAlgebra, true
	case "SLIPSTREAM":
		return PoolTypeSlipstream, true
	default:
		return 0, false
	}
}

// RawPool is a pool exactly as an indexer reports it. Integer quantities are
// decimal strings; which fields are populated depends on Type.
type RawPool struct {
	ID                  string  `json:"id"`
	ChainID             int     `json:"chainId"`
	Address             string  `json:"address"`
	Type                string  `json:"type"`
	Token0              string  `json:"token0"`
	Token1              string  `json:"token1"`
	Token0Symbol        string  `json:"token0Symbol"`
	Token1Symbol        string  `json:"token1Symbol"`
	Fee                 string  `json:"fee"`
	TickSpacing         *int32  `json:"tickSpacing"`
	Tick                *int32  `json:"tick"`
	Hooks               string  `json:"hooks"`
	Reserve0            string  `json:"reserve0"`
	Reserve1            string  `json:"reserve1"`
	Liquidity           string  `json:"liquidity"`
	SqrtPrice           string  `json:"sqrtPrice"`
	TotalValueLockedUSD float64 `json:"totalValueLockedUsd"`
	VolumeUSD           float64 `json:"volumeUsd"`
}

type PoolToken struct {
	ID      string `json:"id"`
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
}

// Pool is the chain-agnostic shape every pool variant is normalized into.
type Pool struct {
	ID                  string       `json:"id"`
	ChainID             int          `json:"chainId"`
	Address             string       `json:"address"`
	Type                PoolType     `json:"-"`
	Token0              PoolToken    `json:"token0"`
	Token1              PoolToken    `json:"token1"`
	FeeTier             uint32       `json:"feeTier"`
	TickSpacing         int32        `json:"tickSpacing,omitempty"`
	Tick                int32        `json:"tick,omitempty"`
	Hooks               string       `json:"hooks,omitempty"`
	Reserve0            *uint256.Int `json:"-"`
	Reserve1            *uint256.Int `json:"-"`
	Liquidity           *uint256.Int `json:"-"`
	SqrtPriceX96        *uint256.Int `json:"-"`
	TotalValueLockedUSD float64      `json:"totalValueLockedUsd"`
	VolumeUSD           float64      `json:"volumeUsd"`
	Flags               PoolFlags    `json:"-"`
}

func (p *Pool) HasFlags(mask PoolFlags) bool {
	return p.Flags&mask == mask
}

func (p *Pool) IsConcentrated() bool {
	return p.HasFlags(FlagConcentrated)
}

// PoolFetchParams is the argument of a top-pools query.
type PoolFetchParams struct {
	ChainIDs []int
	Limit    int
	Skip     int
}
