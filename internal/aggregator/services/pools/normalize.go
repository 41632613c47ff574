// Package pools normalizes the pool variants reported by chain indexers
// into domain.Pool.
package pools

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/holiman/uint256"

	"github.com/hxuan190/token-aggregator/internal/domain"
)

var (
	ErrUnknownPoolType = errors.New("unknown pool type")
	ErrInvalidPool     = errors.New("invalid pool")
)

const (
	// DefaultV2Fee is the constant-product fee in hundredths of a bip.
	DefaultV2Fee = 3000

	// dynamicFeeFlag marks a V4 pool whose hook sets the fee per swap.
	dynamicFeeFlag = 0x800000

	zeroAddress = "0x0000000000000000000000000000000000000000"
)

// Normalize converts raw into a Pool. An unrecognized type is an error
// rather than a best guess.
func Normalize(raw domain.RawPool) (domain.Pool, error) {
	poolType, ok := domain.ParsePoolType(raw.Type)
	if !ok {
		return domain.Pool{}, fmt.Errorf("%w: %q (pool %s on chain %d)", ErrUnknownPoolType, raw.Type, raw.ID, raw.ChainID)
	}

	p := domain.Pool{
		ID:                  raw.ID,
		ChainID:             raw.ChainID,
		Address:             strings.ToLower(raw.Address),
		Type:                poolType,
		Token0:              poolToken(raw.ChainID, raw.Token0, raw.Token0Symbol),
		Token1:              poolToken(raw.ChainID, raw.Token1, raw.Token1Symbol),
		TotalValueLockedUSD: raw.TotalValueLockedUSD,
		VolumeUSD:           raw.VolumeUSD,
	}

	var err error
	switch poolType {
	case domain.PoolTypeV2:
		err = normalizeV2(raw, &p)
	case domain.PoolTypeV3, domain.PoolTypeSlipstream:
		err = normalizeConcentrated(raw, &p)
	case domain.PoolTypeAlgebra:
		err = normalizeConcentrated(raw, &p)
		p.Flags |= domain.FlagDynamicFee
	case domain.PoolTypeV4:
		err = normalizeV4(raw, &p)
	}
	if err != nil {
		return domain.Pool{}, fmt.Errorf("pool %s on chain %d: %w", raw.ID, raw.ChainID, err)
	}
	return p, nil
}

// NormalizeAll stops at the first pool that fails to normalize and returns
// it along with the error.
func NormalizeAll(raws []domain.RawPool) ([]domain.Pool, domain.RawPool, error) {
	out := make([]domain.Pool, 0, len(raws))
	for _, raw := range raws {
		p, err := Normalize(raw)
		if err != nil {
			return nil, raw, err
		}
		out = append(out, p)
	}
	return out, domain.RawPool{}, nil
}

func normalizeV2(raw domain.RawPool, p *domain.Pool) error {
	var err error
	if p.Reserve0, err = requiredUint("reserve0", raw.Reserve0); err != nil {
		return err
	}
	if p.Reserve1, err = requiredUint("reserve1", raw.Reserve1); err != nil {
		return err
	}
	if raw.Fee == "" {
		p.FeeTier = DefaultV2Fee
		return nil
	}
	p.FeeTier, err = parseFee(raw.Fee)
	return err
}

func normalizeConcentrated(raw domain.RawPool, p *domain.Pool) error {
	var err error
	if p.Liquidity, err = requiredUint("liquidity", raw.Liquidity); err != nil {
		return err
	}
	if p.SqrtPriceX96, err = requiredUint("sqrtPrice", raw.SqrtPrice); err != nil {
		return err
	}
	if raw.TickSpacing == nil || *raw.TickSpacing <= 0 {
		return fmt.Errorf("%w: missing tick spacing", ErrInvalidPool)
	}
	if raw.Tick == nil {
		return fmt.Errorf("%w: missing tick", ErrInvalidPool)
	}
	p.TickSpacing = *raw.TickSpacing
	p.Tick = *raw.Tick
	p.Flags |= domain.FlagConcentrated | domain.FlagTickSpacing

	if raw.Fee != "" {
		if p.FeeTier, err = parseFee(raw.Fee); err != nil {
			return err
		}
	}
	return nil
}

func normalizeV4(raw domain.RawPool, p *domain.Pool) error {
	if err := normalizeConcentrated(raw, p); err != nil {
		return err
	}
	if hooks := strings.ToLower(raw.Hooks); hooks != "" && hooks != zeroAddress {
		p.Hooks = hooks
		p.Flags |= domain.FlagHooks
	}
	if p.FeeTier == dynamicFeeFlag {
		p.FeeTier = 0
		p.Flags |= domain.FlagDynamicFee
	}
	return nil
}

func requiredUint(field, value string) (*uint256.Int, error) {
	if value == "" {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidPool, field)
	}
	v, err := uint256.FromDecimal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q: %v", ErrInvalidPool, field, value, err)
	}
	return v, nil
}

func parseFee(value string) (uint32, error) {
	fee, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: fee %q: %v", ErrInvalidPool, value, err)
	}
	return uint32(fee), nil
}

func poolToken(chainID int, address, symbol string) domain.PoolToken {
	address = strings.ToLower(address)
	return domain.PoolToken{
		ID:      domain.TokenID(chainID, address),
		Address: address,
		Symbol:  symbol,
	}
}

// View is the JSON shape of a pool with integer quantities as decimal strings.
type View struct {
	domain.Pool
	Type         string `json:"type"`
	Concentrated bool   `json:"concentrated"`
	DynamicFee   bool   `json:"dynamicFee"`
	Reserve0     string `json:"reserve0,omitempty"`
	Reserve1     string `json:"reserve1,omitempty"`
	Liquidity    string `json:"liquidity,omitempty"`
	SqrtPriceX96 string `json:"sqrtPriceX96,omitempty"`
}

func ToView(p domain.Pool) View {
	return View{
		Pool:         p,
		Type:         p.Type.String(),
		Concentrated: p.IsConcentrated(),
		DynamicFee:   p.HasFlags(domain.FlagDynamicFee),
		Reserve0:     decimal(p.Reserve0),
		Reserve1:     decimal(p.Reserve1),
		Liquidity:    decimal(p.Liquidity),
		SqrtPriceX96: decimal(p.SqrtPriceX96),
	}
}

func decimal(v *uint256.Int) string {
	if v == nil {
		return ""
	}
	return v.Dec()
}
