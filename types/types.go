package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

// PendingTransaction is an immutable snapshot of a mempool entry.
type PendingTransaction struct {
	Hash     common.Hash
	From     common.Address
	To       *common.Address
	Value    *big.Int
	Data     []byte
	GasPrice *big.Int
	Gas      uint64
	Nonce    uint64
	SeenAt   time.Time
}

// NewPendingTransaction snapshots tx as observed from sender at seenAt.
func NewPendingTransaction(tx *ethtypes.Transaction, from common.Address, seenAt time.Time) *PendingTransaction {
	var to *common.Address
	if tx.To() != nil {
		addr := *tx.To()
		to = &addr
	}
	return &PendingTransaction{
		Hash:     tx.Hash(),
		From:     from,
		To:       to,
		Value:    new(big.Int).Set(tx.Value()),
		Data:     common.CopyBytes(tx.Data()),
		GasPrice: new(big.Int).Set(tx.GasPrice()),
		Gas:      tx.Gas(),
		Nonce:    tx.Nonce(),
		SeenAt:   seenAt,
	}
}

// PoolData is a point-in-time view of one exchange pool. Values are only
// meaningful within the simulation that fetched them.
type PoolData struct {
	Address      common.Address
	Token0       common.Address
	Token1       common.Address
	Fee          uint32
	Liquidity    *big.Int
	SqrtPriceX96 *big.Int
	Reserve0     *big.Int
	Reserve1     *big.Int
}

// ReservesFor returns the reserves ordered as (tokenIn, tokenOut).
func (p *PoolData) ReservesFor(tokenIn common.Address) (*big.Int, *big.Int) {
	if tokenIn == p.Token0 {
		return p.Reserve0, p.Reserve1
	}
	return p.Reserve1, p.Reserve0
}

// SimulationResult is the scored outcome of simulating one transaction.
// It must not be modified once returned from the simulator.
type SimulationResult struct {
	PriceImpactBps     uint64
	ExpectedProfit     *big.Int
	GasEstimate        uint64
	SuccessProbability float64
	OptimalPath        []common.Address
	Routers            []common.Address
	HopAmounts         []*big.Int
	// Fallback is set when impact came from the closed-form estimate
	// instead of the execution sandbox.
	Fallback bool
}

// Hops returns the number of swaps in the optimal path.
func (r *SimulationResult) Hops() int {
	if len(r.OptimalPath) < 2 {
		return 0
	}
	return len(r.OptimalPath) - 1
}

// ArbitrageOpportunity is a scored opportunity awaiting execution.
type ArbitrageOpportunity struct {
	ID             uint64
	OriginTx       common.Hash
	TokenIn        common.Address
	// TokenOut is the token the route ends in. It pairs with the last
	// entry of HopAmounts; for a closed cycle it equals TokenIn.
	TokenOut       common.Address
	AmountIn       *big.Int
	ExpectedProfit *big.Int
	Path           []common.Address
	Routers        []common.Address
	HopAmounts     []*big.Int
	Fee            uint32
	Pool           common.Address
	Simulation     *SimulationResult
	CreatedAt      time.Time
}
