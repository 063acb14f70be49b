package scheduler

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/michaelpento.lv/backrunner/config"
	"github.com/michaelpento.lv/backrunner/types"
	"github.com/michaelpento.lv/backrunner/utils"
	"github.com/michaelpento.lv/backrunner/utils/metrics"
)

// GasOracle reports the gas price bundles are currently priced at.
type GasOracle interface {
	CurrentGasPrice(ctx context.Context) (*big.Int, error)
}

// Executor turns an opportunity into a submitted bundle.
type Executor interface {
	Execute(ctx context.Context, opp *types.ArbitrageOpportunity, gasPrice *big.Int) error
}

type Config struct {
	Interval        time.Duration
	AssumedGasUnits uint64
	MaxConcurrent   int
}

// Scheduler periodically drains the Store, re-prices every opportunity
// against the current gas price and executes the ones still profitable.
type Scheduler struct {
	cfg      Config
	store    *Store
	oracle   GasOracle
	executor Executor
	breaker  *CircuitBreaker
	sem      chan struct{}
	wg       sync.WaitGroup
	logger   *zap.Logger
	metrics  *metrics.SchedulerMetrics
}

func New(cfg Config, store *Store, oracle GasOracle, executor Executor, breaker config.CircuitBreakerConfig, logger *zap.Logger, m *metrics.SchedulerMetrics) (*Scheduler, error) {
	if store == nil || oracle == nil || executor == nil {
		return nil, fmt.Errorf("store, gas oracle and executor are required")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("scheduler interval must be positive")
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	logger = logger.Named("scheduler")
	return &Scheduler{
		cfg:      cfg,
		store:    store,
		oracle:   oracle,
		executor: executor,
		breaker:  NewCircuitBreaker(breaker, logger, m),
		sem:      make(chan struct{}, cfg.MaxConcurrent),
		logger:   logger,
		metrics:  m,
	}, nil
}

// Run ticks until ctx is done. Executions already started are left to
// finish; use Wait to block on them.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

// RunCycle drains the store and evaluates each opportunity on its own
// goroutine.
func (s *Scheduler) RunCycle(ctx context.Context) {
	s.metrics.Cycles.Inc()
	opps := s.store.Drain()
	if len(opps) == 0 {
		return
	}

	if !s.breaker.IsHealthy() {
		s.logger.Warn("Circuit breaker open, dropping opportunities", zap.Int("count", len(opps)))
		s.metrics.Discarded.Add(float64(len(opps)))
		return
	}

	// bundles in flight outlive the cycle that started them
	execCtx := context.WithoutCancel(ctx)
	for _, opp := range opps {
		s.wg.Add(1)
		go func(opp *types.ArbitrageOpportunity) {
			defer s.wg.Done()
			s.sem <- struct{}{}
			defer func() { <-s.sem }()
			s.evaluate(execCtx, opp)
		}(opp)
	}
}

// Wait blocks until every started evaluation has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) evaluate(ctx context.Context, opp *types.ArbitrageOpportunity) {
	s.metrics.Evaluated.Inc()

	gasPrice, err := s.oracle.CurrentGasPrice(ctx)
	if err != nil {
		s.logger.Error("Failed to get gas price", zap.Uint64("opportunity", opp.ID), zap.Error(err))
		s.metrics.Failures.Inc()
		return
	}

	net := NetProfit(opp.ExpectedProfit, gasPrice, s.cfg.AssumedGasUnits)
	if net.Sign() <= 0 {
		s.metrics.Discarded.Inc()
		s.logger.Debug("Opportunity unprofitable after gas",
			zap.Uint64("opportunity", opp.ID),
			zap.String("expected_profit", opp.ExpectedProfit.String()),
			zap.String("gas_price", gasPrice.String()),
			zap.String("net", net.String()),
		)
		return
	}

	s.metrics.Dispatched.Inc()
	if err := s.executor.Execute(ctx, opp, gasPrice); err != nil {
		s.metrics.Failures.Inc()
		s.breaker.RecordError(err)
		s.logger.Error("Failed to execute opportunity",
			zap.Uint64("opportunity", opp.ID),
			zap.String("origin_tx", opp.OriginTx.Hex()),
			zap.Error(err),
		)
		return
	}
	s.breaker.RecordSuccess()
	s.logger.Info("Opportunity executed",
		zap.Uint64("opportunity", opp.ID),
		zap.String("net_profit", utils.FormatEther(net)),
		zap.String("gas_price_gwei", utils.FormatGwei(gasPrice)),
	)
}

// NetProfit is profit less gasPrice * gasUnits.
func NetProfit(profit, gasPrice *big.Int, gasUnits uint64) *big.Int {
	cost := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gasUnits))
	return cost.Sub(profit, cost)
}
