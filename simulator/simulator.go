package simulator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/backrunner/decoder"
	"github.com/michaelpento.lv/backrunner/dex"
	"github.com/michaelpento.lv/backrunner/gas"
	"github.com/michaelpento.lv/backrunner/types"
	"github.com/michaelpento.lv/backrunner/utils/metrics"
)

const DefaultMaxDepth = 3

type Config struct {
	MaxDepth            int
	CacheSize           int
	MaxCandidates       int
	FlashLoanPremiumBps uint64
	DefaultTradeAmount  *big.Int
	BridgeTokens        []common.Address
	SuccessProbability  float64
}

type Option func(*Simulator)

func WithPathFinder(p PathFinder) Option { return func(s *Simulator) { s.paths = p } }

func WithFeeModel(m FeeModel) Option { return func(s *Simulator) { s.fees = m } }

func WithSlippageModel(m SlippageModel) Option { return func(s *Simulator) { s.slippage = m } }

func WithSuccessEstimator(e SuccessEstimator) Option { return func(s *Simulator) { s.success = e } }

// Simulator scores the arbitrage a pending swap leaves behind. Results are
// cached per transaction hash and never change once cached.
type Simulator struct {
	cfg       Config
	exchanges map[common.Address]dex.Exchange
	sandbox   Sandbox

	paths    PathFinder
	fees     FeeModel
	slippage SlippageModel
	success  SuccessEstimator

	cache   *lru.Cache
	logger  *zap.Logger
	metrics *metrics.SimulatorMetrics
}

// New creates a simulator over exchanges. sandbox may be nil, in which case
// price impact always comes from pool reserves.
func New(cfg Config, exchanges []dex.Exchange, sandbox Sandbox, logger *zap.Logger, m *metrics.SimulatorMetrics, opts ...Option) (*Simulator, error) {
	if cfg.MaxDepth < 2 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if cfg.DefaultTradeAmount == nil || cfg.DefaultTradeAmount.Sign() <= 0 {
		return nil, fmt.Errorf("default trade amount must be positive")
	}
	cache, err := lru.New(cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create simulation cache: %w", err)
	}

	s := &Simulator{
		cfg:       cfg,
		exchanges: make(map[common.Address]dex.Exchange, len(exchanges)),
		sandbox:   sandbox,
		fees:      NewExchangeFeeModel(exchanges),
		slippage:  LiquiditySlippage{PerHopBps: 5, MaxBps: 300},
		success:   StaticEstimator(cfg.SuccessProbability),
		cache:     cache,
		logger:    logger.Named("simulator"),
		metrics:   m,
	}
	routers := make([]common.Address, 0, len(exchanges))
	for _, ex := range exchanges {
		s.exchanges[ex.Router()] = ex
		routers = append(routers, ex.Router())
	}
	s.paths = NewCyclicPathFinder(routers, cfg.BridgeTokens, cfg.MaxCandidates)

	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Simulate returns the scored result for tx. A second call with the same
// hash returns the cached result unchanged.
//
// Errors wrapping ErrSimulationUnavailable mean chain state could not be
// read; nothing is cached and the call may be retried.
func (s *Simulator) Simulate(ctx context.Context, tx *types.PendingTransaction, action *decoder.SwapAction) (*types.SimulationResult, error) {
	if cached, ok := s.cache.Get(tx.Hash); ok {
		s.metrics.CacheHits.Inc()
		return cached.(*types.SimulationResult), nil
	}
	s.metrics.CacheMisses.Inc()

	start := time.Now()
	result, err := s.simulate(ctx, tx, action)
	s.metrics.Duration.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, types.ErrSimulationUnavailable) {
			s.metrics.Unavailable.Inc()
		}
		return nil, err
	}

	// a concurrent simulation of the same hash may have landed first
	if prev, found, _ := s.cache.PeekOrAdd(tx.Hash, result); found {
		return prev.(*types.SimulationResult), nil
	}
	return result, nil
}

func (s *Simulator) simulate(ctx context.Context, tx *types.PendingTransaction, action *decoder.SwapAction) (*types.SimulationResult, error) {
	snap := newPoolSnapshot()

	impact, fallback, err := s.priceImpact(ctx, snap, tx, action)
	if err != nil {
		return nil, err
	}

	amountIn := action.InputBound()
	if amountIn == nil || amountIn.Sign() <= 0 {
		amountIn = s.cfg.DefaultTradeAmount
	}

	candidates := s.paths.Candidates(action, s.cfg.MaxDepth)
	s.metrics.Candidates.Observe(float64(len(candidates)))

	var (
		best     *scored
		failures int
		lastErr  error
	)
	for _, c := range candidates {
		sc, err := s.evaluate(ctx, snap, c, amountIn)
		if err != nil {
			failures++
			lastErr = err
			s.logger.Debug("Candidate quote failed", zap.Int("hops", c.Hops()), zap.Error(err))
			continue
		}
		if best == nil || sc.better(best) {
			best = sc
		}
	}
	if best == nil && failures > 0 {
		return nil, fmt.Errorf("%w: all %d candidates failed to quote: %v", types.ErrSimulationUnavailable, failures, lastErr)
	}

	result := &types.SimulationResult{
		PriceImpactBps: impact,
		ExpectedProfit: new(big.Int),
		Fallback:       fallback,
	}
	if best != nil {
		result.ExpectedProfit = best.profit
		result.OptimalPath = best.candidate.Tokens
		result.Routers = best.candidate.Routers
		result.HopAmounts = best.amounts
		result.GasEstimate = gas.EstimateArbitrageGas(best.candidate.Hops())
		result.SuccessProbability = s.success.Estimate(best.candidate, impact)
	}

	s.logger.Debug("Simulated transaction",
		zap.String("tx_hash", tx.Hash.Hex()),
		zap.Uint64("impact_bps", impact),
		zap.Bool("fallback", fallback),
		zap.Int("candidates", len(candidates)),
		zap.String("expected_profit", result.ExpectedProfit.String()),
	)
	return result, nil
}

type scored struct {
	candidate Candidate
	amounts   []*big.Int
	profit    *big.Int
}

// better prefers higher profit, then fewer hops.
func (a *scored) better(b *scored) bool {
	if cmp := a.profit.Cmp(b.profit); cmp != 0 {
		return cmp > 0
	}
	return a.candidate.Hops() < b.candidate.Hops()
}

// evaluate quotes c hop by hop and nets out fees, slippage and the cost of
// borrowing amountIn.
func (s *Simulator) evaluate(ctx context.Context, snap *poolSnapshot, c Candidate, amountIn *big.Int) (*scored, error) {
	amounts := make([]*big.Int, 0, c.Hops()+1)
	amounts = append(amounts, amountIn)

	var liquidity *big.Int
	amount := amountIn
	for i := 0; i < c.Hops(); i++ {
		ex, ok := s.exchanges[c.Routers[i]]
		if !ok {
			return nil, fmt.Errorf("no exchange for router %s", c.Routers[i].Hex())
		}
		out, err := ex.Quote(ctx, c.Tokens[i:i+2], amount)
		if err != nil {
			return nil, fmt.Errorf("quote %s hop %d: %w", ex.Name(), i, err)
		}
		amounts = append(amounts, out)
		amount = out

		// liquidity only sharpens slippage, a missing pool is not fatal
		if pool, err := snap.pool(ctx, ex, c.Tokens[i], c.Tokens[i+1]); err == nil && pool.Liquidity != nil {
			if liquidity == nil || pool.Liquidity.Cmp(liquidity) < 0 {
				liquidity = pool.Liquidity
			}
		}
	}

	gross := amount
	cost := new(big.Int).Add(amountIn, dex.ApplyBps(amountIn, s.cfg.FlashLoanPremiumBps))
	profit := new(big.Int).Sub(gross, s.fees.Fees(c, gross))
	profit.Sub(profit, s.slippage.Slippage(c, amountIn, gross, liquidity))
	profit.Sub(profit, cost)

	return &scored{candidate: c, amounts: amounts, profit: profit}, nil
}

// priceImpact measures how far the victim's execution falls short of the
// fee-adjusted spot value of its input, in basis points.
func (s *Simulator) priceImpact(ctx context.Context, snap *poolSnapshot, tx *types.PendingTransaction, action *decoder.SwapAction) (uint64, bool, error) {
	ex, ok := s.exchanges[action.Router]
	if !ok {
		// no curve for this router; impact is unknown rather than zero risk
		return 0, false, nil
	}
	amountIn := action.InputBound()
	if amountIn == nil || amountIn.Sign() <= 0 {
		return 0, false, nil
	}

	pools := make([]*types.PoolData, 0, len(action.Path)-1)
	for i := 0; i < len(action.Path)-1; i++ {
		pool, err := snap.pool(ctx, ex, action.Path[i], action.Path[i+1])
		if err != nil {
			return 0, false, fmt.Errorf("%w: pool state: %v", types.ErrSimulationUnavailable, err)
		}
		pools = append(pools, pool)
	}

	var (
		executed *big.Int
		fallback bool
	)
	if s.sandbox != nil {
		amounts, _, err := s.sandbox.Execute(ctx, tx, action)
		if err == nil {
			executed = amounts[len(amounts)-1]
			amountIn = amounts[0]
		} else {
			s.logger.Debug("Sandbox unavailable, using reserves", zap.String("tx_hash", tx.Hash.Hex()), zap.Error(err))
		}
	}
	if executed == nil {
		fallback = true
		s.metrics.Fallbacks.Inc()
		executed = amountIn
		for i, pool := range pools {
			reserveIn, reserveOut := pool.ReservesFor(action.Path[i])
			executed = dex.GetAmountOut(executed, reserveIn, reserveOut, ex.FeeBps())
		}
	}

	spot := amountIn
	for i, pool := range pools {
		reserveIn, reserveOut := pool.ReservesFor(action.Path[i])
		spot = dex.SpotAmountOut(dex.ApplyBps(spot, 10_000-ex.FeeBps()), reserveIn, reserveOut)
	}
	if spot.Sign() <= 0 || executed.Cmp(spot) >= 0 {
		return 0, fallback, nil
	}

	shortfall := new(big.Int).Sub(spot, executed)
	shortfall.Mul(shortfall, big.NewInt(10_000))
	return shortfall.Div(shortfall, spot).Uint64(), fallback, nil
}

// poolSnapshot memoizes pool reads for one simulation. It is discarded when
// the simulation returns, so no pool state outlives a single cycle.
type poolSnapshot struct {
	pools map[common.Address]*types.PoolData
}

func newPoolSnapshot() *poolSnapshot {
	return &poolSnapshot{pools: make(map[common.Address]*types.PoolData)}
}

func (p *poolSnapshot) pool(ctx context.Context, ex dex.Exchange, tokenA, tokenB common.Address) (*types.PoolData, error) {
	addr := ex.PoolAddress(tokenA, tokenB)
	if pool, ok := p.pools[addr]; ok {
		return pool, nil
	}
	pool, err := ex.GetPoolState(ctx, addr)
	if err != nil {
		return nil, err
	}
	p.pools[addr] = pool
	return pool, nil
}
