package gas

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// Client is the node surface the estimator reads fees from.
type Client interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// Estimator tracks base fee plus priority fee of the chain head.
type Estimator struct {
	client   Client
	logger   *zap.Logger
	interval time.Duration

	// ceiling, when set, is the highest price bundles may be priced at
	ceiling *big.Int

	mu           sync.RWMutex
	baseGasPrice *big.Int
	priorityFee  *big.Int
	updatedAt    time.Time
}

// NewEstimator creates a gas estimator refreshed every interval once Start
// is running.
func NewEstimator(client Client, interval time.Duration, logger *zap.Logger) *Estimator {
	return &Estimator{
		client:   client,
		logger:   logger.Named("gas"),
		interval: interval,
	}
}

// ErrAboveCeiling is returned while the chain price exceeds the ceiling.
var ErrAboveCeiling = errors.New("gas price above ceiling")

// SetCeiling caps the price CurrentGasPrice will report. It must be called
// before Start.
func (e *Estimator) SetCeiling(ceiling *big.Int) {
	e.ceiling = ceiling
}

// Start refreshes gas prices until ctx is done.
func (e *Estimator) Start(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		if err := e.update(ctx); err != nil && ctx.Err() == nil {
			e.logger.Error("Failed to update gas prices", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// update fetches latest gas prices
func (e *Estimator) update(ctx context.Context) error {
	head, err := e.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to get latest header: %w", err)
	}

	var baseFee, priorityFee *big.Int
	if head.BaseFee != nil {
		baseFee = new(big.Int).Set(head.BaseFee)
		priorityFee, err = e.client.SuggestGasTipCap(ctx)
		if err != nil {
			return fmt.Errorf("failed to get priority fee: %w", err)
		}
	} else {
		// pre-London chains only quote a single price
		baseFee, err = e.client.SuggestGasPrice(ctx)
		if err != nil {
			return fmt.Errorf("failed to get gas price: %w", err)
		}
		priorityFee = new(big.Int)
	}

	e.mu.Lock()
	e.baseGasPrice = baseFee
	e.priorityFee = priorityFee
	e.updatedAt = time.Now()
	e.mu.Unlock()

	return nil
}

// CurrentGasPrice returns base fee plus priority fee. A missing or stale
// sample is refreshed before returning.
func (e *Estimator) CurrentGasPrice(ctx context.Context) (*big.Int, error) {
	e.mu.RLock()
	fresh := e.baseGasPrice != nil && time.Since(e.updatedAt) < 2*e.interval
	e.mu.RUnlock()

	if !fresh {
		if err := e.update(ctx); err != nil {
			return nil, err
		}
	}

	e.mu.RLock()
	price := new(big.Int).Add(e.baseGasPrice, e.priorityFee)
	e.mu.RUnlock()

	if e.ceiling != nil && price.Cmp(e.ceiling) > 0 {
		return nil, fmt.Errorf("%w: %s > %s wei", ErrAboveCeiling, price, e.ceiling)
	}
	return price, nil
}

// EstimateGasCost estimates the gas cost for a transaction
func (e *Estimator) EstimateGasCost(ctx context.Context, gasLimit uint64) (*big.Int, error) {
	price, err := e.CurrentGasPrice(ctx)
	if err != nil {
		return nil, err
	}
	return price.Mul(price, new(big.Int).SetUint64(gasLimit)), nil
}

// EstimateArbitrageGas estimates gas for a typical arbitrage transaction
func EstimateArbitrageGas(numHops int) uint64 {
	// Base cost for transaction
	baseCost := uint64(21000)

	// Cost per DEX hop (approximate)
	// This includes:
	// - Storage reads (~2000)
	// - Token transfers (~50000)
	// - Swap execution (~100000)
	costPerHop := uint64(152000)

	return baseCost + (costPerHop * uint64(numHops))
}
