package arbitrage

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/backrunner/decoder"
	"github.com/michaelpento.lv/backrunner/types"
	"github.com/michaelpento.lv/backrunner/utils/metrics"
)

var (
	tokenA = common.HexToAddress("0x000000000000000000000000000000000000000a")
	tokenB = common.HexToAddress("0x000000000000000000000000000000000000000b")
	router = common.HexToAddress("0x0000000000000000000000000000000000000001")
	other  = common.HexToAddress("0x0000000000000000000000000000000000000002")
)

type stubDecoder struct {
	action *decoder.SwapAction
	err    error
}

func (d stubDecoder) Decode(*types.PendingTransaction) (*decoder.SwapAction, error) {
	return d.action, d.err
}

type stubSimulator struct {
	result *types.SimulationResult
	err    error
	calls  int
}

func (s *stubSimulator) Simulate(context.Context, *types.PendingTransaction, *decoder.SwapAction) (*types.SimulationResult, error) {
	s.calls++
	return s.result, s.err
}

type recordingSink struct {
	added []*types.ArbitrageOpportunity
	seen  map[common.Hash]bool
}

func (s *recordingSink) Add(opp *types.ArbitrageOpportunity) bool {
	if s.seen == nil {
		s.seen = make(map[common.Hash]bool)
	}
	if s.seen[opp.OriginTx] {
		return false
	}
	s.seen[opp.OriginTx] = true
	s.added = append(s.added, opp)
	return true
}

func swap() *decoder.SwapAction {
	return &decoder.SwapAction{
		Kind:     decoder.KindExactTokensForTokens,
		Router:   router,
		AmountIn: big.NewInt(1e18),
		Path:     []common.Address{tokenA, tokenB},
	}
}

func profitable(profit int64) *types.SimulationResult {
	return &types.SimulationResult{
		PriceImpactBps:     40,
		ExpectedProfit:     big.NewInt(profit),
		GasEstimate:        325_000,
		SuccessProbability: 0.85,
		OptimalPath:        []common.Address{tokenA, tokenB, tokenA},
		Routers:            []common.Address{other, router},
		HopAmounts:         []*big.Int{big.NewInt(1e18), big.NewInt(2e18), big.NewInt(1_002_000_000_000_000_000)},
	}
}

func newTestAnalyzer(t *testing.T, dec ActionDecoder, sim Simulator, sink Sink, thresholds Thresholds) (*Analyzer, *metrics.AnalyzerMetrics) {
	t.Helper()
	m := metrics.NewAnalyzerMetrics(prometheus.NewRegistry(), "test")
	a, err := NewAnalyzer(dec, sim, sink, nil, thresholds, zaptest.NewLogger(t), m)
	require.NoError(t, err)
	return a, m
}

func pendingTx(n int64) *types.PendingTransaction {
	return &types.PendingTransaction{Hash: common.BigToHash(big.NewInt(n)), To: &router}
}

func TestAnalyzeStoresProfitableOpportunity(t *testing.T) {
	sink := &recordingSink{}
	sim := &stubSimulator{result: profitable(2e15)}
	a, m := newTestAnalyzer(t, stubDecoder{action: swap()}, sim, sink, Thresholds{MinProfit: big.NewInt(1e15)})

	opp, err := a.Analyze(context.Background(), pendingTx(1))
	require.NoError(t, err)
	require.NotNil(t, opp)

	assert.Equal(t, uint64(1), opp.ID)
	assert.Equal(t, tokenA, opp.TokenIn)
	// the cycle closes back into the borrowed token
	assert.Equal(t, tokenA, opp.TokenOut)
	assert.Equal(t, big.NewInt(1e18), opp.AmountIn)
	assert.Equal(t, big.NewInt(2e15), opp.ExpectedProfit)
	assert.Same(t, sim.result, opp.Simulation)
	assert.Len(t, sink.added, 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Opportunities))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Decoded.WithLabelValues("SwapExactTokensForTokens")))
}

func TestAnalyzeThresholds(t *testing.T) {
	tests := []struct {
		name       string
		result     *types.SimulationResult
		thresholds Thresholds
		reason     string
	}{
		{
			name:       "profit equal to minimum",
			result:     profitable(1e15),
			thresholds: Thresholds{MinProfit: big.NewInt(1e15)},
			reason:     ReasonLowProfit,
		},
		{
			name:       "negative profit",
			result:     profitable(-5),
			thresholds: Thresholds{MinProfit: big.NewInt(0)},
			reason:     ReasonLowProfit,
		},
		{
			name:       "impact below minimum",
			result:     profitable(2e15),
			thresholds: Thresholds{MinProfit: big.NewInt(1e15), MinPriceImpactBps: 50},
			reason:     ReasonLowImpact,
		},
		{
			name:       "no path",
			result:     &types.SimulationResult{ExpectedProfit: new(big.Int)},
			thresholds: Thresholds{},
			reason:     ReasonNoPath,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			a, m := newTestAnalyzer(t, stubDecoder{action: swap()}, &stubSimulator{result: tt.result}, sink, tt.thresholds)

			opp, err := a.Analyze(context.Background(), pendingTx(1))
			require.NoError(t, err)
			assert.Nil(t, opp)
			assert.Empty(t, sink.added)
			assert.Equal(t, float64(1), testutil.ToFloat64(m.Rejected.WithLabelValues(tt.reason)))
		})
	}
}

func TestAnalyzeSkipsNonSwaps(t *testing.T) {
	sim := &stubSimulator{}
	a, _ := newTestAnalyzer(t, stubDecoder{}, sim, &recordingSink{}, Thresholds{})

	opp, err := a.Analyze(context.Background(), pendingTx(1))
	require.NoError(t, err)
	assert.Nil(t, opp)
	assert.Zero(t, sim.calls)
}

func TestAnalyzeCountsDecodeErrors(t *testing.T) {
	schemaErr := fmt.Errorf("failed to build: %w", types.ErrSchemaInconsistency)
	sim := &stubSimulator{}
	a, m := newTestAnalyzer(t, stubDecoder{err: schemaErr}, sim, &recordingSink{}, Thresholds{})

	_, err := a.Analyze(context.Background(), pendingTx(1))
	require.ErrorIs(t, err, types.ErrSchemaInconsistency)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SchemaErrors))

	a.decoder = stubDecoder{err: types.ErrDecodeMismatch}
	_, err = a.Analyze(context.Background(), pendingTx(2))
	require.ErrorIs(t, err, types.ErrDecodeMismatch)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Mismatches))
	assert.Zero(t, sim.calls)
}

func TestAnalyzeSimulationUnavailable(t *testing.T) {
	sim := &stubSimulator{err: fmt.Errorf("%w: pool state", types.ErrSimulationUnavailable)}
	a, m := newTestAnalyzer(t, stubDecoder{action: swap()}, sim, &recordingSink{}, Thresholds{})

	_, err := a.Analyze(context.Background(), pendingTx(1))
	require.ErrorIs(t, err, types.ErrSimulationUnavailable)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Rejected.WithLabelValues(ReasonUnavailable)))

	// HandleTransaction swallows the error
	assert.NotPanics(t, func() { a.HandleTransaction(context.Background(), pendingTx(2)) })
}

func TestAnalyzeDuplicateNotCounted(t *testing.T) {
	sink := &recordingSink{}
	a, m := newTestAnalyzer(t, stubDecoder{action: swap()}, &stubSimulator{result: profitable(2e15)}, sink, Thresholds{MinProfit: big.NewInt(1e15)})

	first, err := a.Analyze(context.Background(), pendingTx(7))
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := a.Analyze(context.Background(), pendingTx(7))
	require.NoError(t, err)
	assert.Nil(t, second)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Opportunities))
}

func TestNewAnalyzerRequiresCollaborators(t *testing.T) {
	_, err := NewAnalyzer(nil, nil, nil, nil, Thresholds{}, zaptest.NewLogger(t), nil)
	assert.Error(t, err)
}
