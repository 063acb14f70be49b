package arbitrage

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/backrunner/decoder"
	"github.com/michaelpento.lv/backrunner/dex"
	"github.com/michaelpento.lv/backrunner/types"
	"github.com/michaelpento.lv/backrunner/utils"
	"github.com/michaelpento.lv/backrunner/utils/metrics"
)

// Rejection reasons reported on the analyzer metrics.
const (
	ReasonUnavailable = "unavailable"
	ReasonNoPath      = "no_path"
	ReasonLowProfit   = "low_profit"
	ReasonLowImpact   = "low_impact"
)

// ActionDecoder turns a pending transaction into a swap, or nil.
type ActionDecoder interface {
	Decode(tx *types.PendingTransaction) (*decoder.SwapAction, error)
}

// Simulator scores the arbitrage a swap leaves behind.
type Simulator interface {
	Simulate(ctx context.Context, tx *types.PendingTransaction, action *decoder.SwapAction) (*types.SimulationResult, error)
}

// Sink receives opportunities that passed the thresholds. Add reports
// whether the opportunity was new.
type Sink interface {
	Add(opp *types.ArbitrageOpportunity) bool
}

type Thresholds struct {
	MinProfit         *big.Int
	MinPriceImpactBps uint64
}

// Analyzer decodes pending transactions, simulates the swaps among them and
// hands the profitable ones to a Sink.
type Analyzer struct {
	decoder    ActionDecoder
	simulator  Simulator
	sink       Sink
	exchanges  map[common.Address]dex.Exchange
	thresholds Thresholds
	nextID     atomic.Uint64
	logger     *zap.Logger
	metrics    *metrics.AnalyzerMetrics
}

func NewAnalyzer(dec ActionDecoder, sim Simulator, sink Sink, exchanges []dex.Exchange, thresholds Thresholds, logger *zap.Logger, m *metrics.AnalyzerMetrics) (*Analyzer, error) {
	if dec == nil || sim == nil || sink == nil {
		return nil, fmt.Errorf("decoder, simulator and sink are required")
	}
	if thresholds.MinProfit == nil {
		thresholds.MinProfit = new(big.Int)
	}
	a := &Analyzer{
		decoder:    dec,
		simulator:  sim,
		sink:       sink,
		exchanges:  make(map[common.Address]dex.Exchange, len(exchanges)),
		thresholds: thresholds,
		logger:     logger.Named("analyzer"),
		metrics:    m,
	}
	for _, ex := range exchanges {
		a.exchanges[ex.Router()] = ex
	}
	return a, nil
}

// HandleTransaction runs one pending transaction through the pipeline.
// Errors are contained here so one bad transaction never stalls ingestion.
func (a *Analyzer) HandleTransaction(ctx context.Context, tx *types.PendingTransaction) {
	if _, err := a.Analyze(ctx, tx); err != nil {
		a.logger.Debug("Transaction not analyzed", zap.String("tx_hash", tx.Hash.Hex()), zap.Error(err))
	}
}

// Analyze returns the opportunity created by tx, or nil when tx is not a
// swap or does not clear the thresholds.
func (a *Analyzer) Analyze(ctx context.Context, tx *types.PendingTransaction) (*types.ArbitrageOpportunity, error) {
	action, err := a.decoder.Decode(tx)
	if err != nil {
		switch {
		case errors.Is(err, types.ErrSchemaInconsistency):
			a.metrics.SchemaErrors.Inc()
		case errors.Is(err, types.ErrDecodeMismatch):
			a.metrics.Mismatches.Inc()
		}
		return nil, err
	}
	if action == nil {
		return nil, nil
	}
	a.metrics.Decoded.WithLabelValues(action.Kind.String()).Inc()

	result, err := a.simulator.Simulate(ctx, tx, action)
	if err != nil {
		a.metrics.Rejected.WithLabelValues(ReasonUnavailable).Inc()
		a.logger.Warn("Simulation failed",
			zap.String("tx_hash", tx.Hash.Hex()),
			zap.String("kind", action.Kind.String()),
			zap.Error(err),
		)
		return nil, err
	}

	if reason := a.reject(result); reason != "" {
		a.metrics.Rejected.WithLabelValues(reason).Inc()
		a.logger.Debug("Simulation below thresholds",
			zap.String("tx_hash", tx.Hash.Hex()),
			zap.String("reason", reason),
			zap.String("expected_profit", utils.FormatEther(result.ExpectedProfit)),
			zap.Uint64("impact_bps", result.PriceImpactBps),
		)
		return nil, nil
	}

	opp := a.opportunity(tx, action, result)
	if !a.sink.Add(opp) {
		return nil, nil
	}
	a.metrics.Opportunities.Inc()
	a.logger.Info("Arbitrage opportunity found",
		zap.Uint64("id", opp.ID),
		zap.String("origin_tx", tx.Hash.Hex()),
		zap.String("expected_profit", utils.FormatEther(opp.ExpectedProfit)),
		zap.Int("hops", result.Hops()),
		zap.Uint64("impact_bps", result.PriceImpactBps),
	)
	return opp, nil
}

func (a *Analyzer) reject(result *types.SimulationResult) string {
	switch {
	case len(result.OptimalPath) < 2:
		return ReasonNoPath
	case result.ExpectedProfit.Cmp(a.thresholds.MinProfit) <= 0:
		return ReasonLowProfit
	case result.PriceImpactBps < a.thresholds.MinPriceImpactBps:
		return ReasonLowImpact
	}
	return ""
}

func (a *Analyzer) opportunity(tx *types.PendingTransaction, action *decoder.SwapAction, result *types.SimulationResult) *types.ArbitrageOpportunity {
	path := result.OptimalPath
	opp := &types.ArbitrageOpportunity{
		ID:             a.nextID.Add(1),
		OriginTx:       tx.Hash,
		TokenIn:        path[0],
		TokenOut:       path[len(path)-1],
		AmountIn:       result.HopAmounts[0],
		ExpectedProfit: result.ExpectedProfit,
		Path:           path,
		Routers:        result.Routers,
		HopAmounts:     result.HopAmounts,
		Fee:            action.Fee,
		Simulation:     result,
		CreatedAt:      time.Now(),
	}
	if ex, ok := a.exchanges[result.Routers[0]]; ok {
		opp.Pool = ex.PoolAddress(path[0], path[1])
		opp.Fee = uint32(ex.FeeBps() * 100)
	}
	return opp
}
