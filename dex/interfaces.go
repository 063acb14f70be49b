package dex

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/backrunner/types"
)

// PoolSource reads the current state of a pool.
type PoolSource interface {
	GetPoolState(ctx context.Context, pool common.Address) (*types.PoolData, error)
}

// Exchange represents a decentralized exchange reachable through one router.
type Exchange interface {
	PoolSource

	// Name returns the exchange name
	Name() string

	// Router returns the router contract swaps are sent to
	Router() common.Address

	// PoolAddress returns the pool holding tokenA and tokenB
	PoolAddress(tokenA, tokenB common.Address) common.Address

	// FeeBps is the fee each pool charges on its input
	FeeBps() uint64

	// Quote returns the curve output of swapping amountIn along path,
	// before pool fees
	Quote(ctx context.Context, path []common.Address, amountIn *big.Int) (*big.Int, error)
}
