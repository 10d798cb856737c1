package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/venue-registry/pkg/ident"
)

type PoolType uint8

const (
	ConstantProduct PoolType = iota + 1 // Uniswap V2 style
	ConcentratedLiquidity               // Uniswap V3 style
	StableSwap
	WeightedPool
	CustomPool
)

func (t PoolType) String() string {
	switch t {
	case ConstantProduct:
		return "constant_product"
	case ConcentratedLiquidity:
		return "concentrated_liquidity"
	case StableSwap:
		return "stable_swap"
	case WeightedPool:
		return "weighted"
	case CustomPool:
		return "custom"
	default:
		return fmt.Sprintf("pool_type(%d)", uint8(t))
	}
}

// LiquiditySnapshot is the mutable live state of a pool.
type LiquiditySnapshot struct {
	Reserve0  decimal.Decimal `json:"reserve0"`
	Reserve1  decimal.Decimal `json:"reserve1"`
	TVLUSD    decimal.Decimal `json:"tvl_usd"`
	Block     uint64          `json:"block"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Equal compares reserves, TVL, block and update time by value.
func (s LiquiditySnapshot) Equal(o LiquiditySnapshot) bool {
	return s.Reserve0.Equal(o.Reserve0) &&
		s.Reserve1.Equal(o.Reserve1) &&
		s.TVLUSD.Equal(o.TVLUSD) &&
		s.Block == o.Block &&
		s.UpdatedAt.Equal(o.UpdatedAt)
}

// Pool is an AMM liquidity pool between two registered instruments.
// Token0 < Token1 always holds once the pool is canonical.
type Pool struct {
	ID         PoolID             `json:"id"`
	Token0     InstrumentID       `json:"token0"`
	Token1     InstrumentID       `json:"token1"`
	DEX        string             `json:"dex"`
	Address    string             `json:"address"`
	FeeTierBps *uint32            `json:"fee_tier_bps,omitempty"`
	Type       PoolType           `json:"pool_type"`
	Blockchain string             `json:"blockchain"`
	Liquidity  *LiquiditySnapshot `json:"liquidity,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
}

var ErrInvalidPool = errors.New("invalid pool")

func (p Pool) Validate() error {
	switch {
	case p.DEX == "":
		return fmt.Errorf("%w: missing dex", ErrInvalidPool)
	case p.Address == "":
		return fmt.Errorf("%w: missing address", ErrInvalidPool)
	case p.Blockchain == "":
		return fmt.Errorf("%w: missing blockchain", ErrInvalidPool)
	case p.Token0.IsZero() || p.Token1.IsZero():
		return fmt.Errorf("%w: %s missing leg", ErrInvalidPool, p.Address)
	case p.Token0 == p.Token1:
		return fmt.Errorf("%w: %s legs are identical", ErrInvalidPool, p.Address)
	}
	return nil
}

// Canonical returns p with its legs ordered by ID.
func (p Pool) Canonical() Pool {
	if p.Token1.Less(p.Token0) {
		p.Token0, p.Token1 = p.Token1, p.Token0
	}
	return p
}

// DeriveID computes the pool ID from dex, chain and address.
func (p Pool) DeriveID(d ident.Deriver) PoolID {
	return PoolID(d.DeriveStrings(ident.NamespacePool,
		strings.ToLower(p.DEX),
		strings.ToLower(p.Blockchain),
		NormalizeAddress(p.Address),
	))
}

// SameKey reports whether two pools derive from the same dex, chain and
// address.
func (p Pool) SameKey(other Pool) bool {
	return strings.EqualFold(p.DEX, other.DEX) &&
		strings.EqualFold(p.Blockchain, other.Blockchain) &&
		NormalizeAddress(p.Address) == NormalizeAddress(other.Address)
}

// SameContent compares the identity and leg fields of two pools.
func (p Pool) SameContent(other Pool) bool {
	a, b := p.Canonical(), other.Canonical()
	return a.SameKey(b) && a.Token0 == b.Token0 && a.Token1 == b.Token1
}

// PairKey is order-sensitive; pools are indexed under both orderings.
func PairKey(a, b InstrumentID) string {
	return a.String() + "/" + b.String()
}
