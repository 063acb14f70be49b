package bundle

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/backrunner/config"
	"github.com/michaelpento.lv/backrunner/flashloan"
	"github.com/michaelpento.lv/backrunner/flashloan/aave"
	"github.com/michaelpento.lv/backrunner/types"
	"github.com/michaelpento.lv/backrunner/utils/metrics"
)

var (
	tokenA      = common.HexToAddress("0x000000000000000000000000000000000000000a")
	tokenB      = common.HexToAddress("0x000000000000000000000000000000000000000b")
	routerA     = common.HexToAddress("0x0000000000000000000000000000000000000001")
	routerB     = common.HexToAddress("0x0000000000000000000000000000000000000002")
	lendingPool = common.HexToAddress("0x8dFf5E27EA6b7AC08EbFdf9eB090F32ee9a30fcf")
	executor    = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	combined    = common.HexToAddress("0x00000000000000000000000000000000000000e2")
	chainID     = big.NewInt(137)
)

type fakeChain struct {
	head     uint64
	nonce    uint64
	headErr  error
	headCall int
}

func (c *fakeChain) BlockNumber(context.Context) (uint64, error) {
	c.headCall++
	return c.head, c.headErr
}

func (c *fakeChain) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return c.nonce, nil
}

func testSigner(t *testing.T) *KeySigner {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return NewKeySigner(key, chainID)
}

func testManager(t *testing.T) *flashloan.Manager {
	t.Helper()
	provider, err := aave.NewAaveProvider(&flashloan.ProviderConfig{ContractAddress: lendingPool, PremiumBps: aave.DefaultPremiumBps})
	require.NoError(t, err)
	return flashloan.NewManager(zaptest.NewLogger(t), provider)
}

func opportunity() *types.ArbitrageOpportunity {
	return &types.ArbitrageOpportunity{
		ID:             3,
		OriginTx:       common.HexToHash("0xabc"),
		TokenIn:        tokenA,
		TokenOut:       tokenA,
		AmountIn:       big.NewInt(1e18),
		ExpectedProfit: big.NewInt(2e15),
		Path:           []common.Address{tokenA, tokenB, tokenA},
		Routers:        []common.Address{routerA, routerB},
		HopAmounts:     []*big.Int{big.NewInt(1e18), big.NewInt(2e18), big.NewInt(1_002_000_000_000_000_000)},
		Fee:            3000,
	}
}

func newTestBuilder(t *testing.T, kind Kind, chain *fakeChain) (*Builder, *KeySigner, *metrics.BundleMetrics) {
	t.Helper()
	signer := testSigner(t)
	m := metrics.NewBundleMetrics(prometheus.NewRegistry(), "test")
	b, err := NewBuilder(BuilderConfig{
		Kind:         kind,
		ChainID:      chainID,
		Executor:     executor,
		Combined:     combined,
		TargetOffset: 1,
		Legs:         config.LegPolicy{ArbitrageRevertAllowed: true},
	}, chain, testManager(t), signer, zaptest.NewLogger(t), m)
	require.NoError(t, err)
	return b, signer, m
}

func TestBuildMultiTxBundle(t *testing.T) {
	chain := &fakeChain{head: 100, nonce: 7}
	builder, signer, m := newTestBuilder(t, KindMultiTx, chain)
	gasPrice := big.NewInt(30_000_000_000)

	b, err := builder.Build(context.Background(), opportunity(), gasPrice)
	require.NoError(t, err)

	assert.Equal(t, uint64(101), b.TargetBlock)
	assert.Equal(t, uint64(100), b.ObservedBlock)
	assert.Zero(t, b.MinTimestamp)
	assert.Zero(t, b.MaxTimestamp)
	require.Len(t, b.Legs, 3)

	wantTo := []common.Address{lendingPool, executor, lendingPool}
	wantGas := []uint64{DrawGasLimit, ArbitrageGasLimit, RepayGasLimit}
	wantRevert := []bool{false, true, false}
	ethSigner := ethtypes.LatestSignerForChainID(chainID)
	for i, leg := range b.Legs {
		assert.Equal(t, wantTo[i], *leg.Tx.To(), "leg %d", i)
		assert.Equal(t, wantGas[i], leg.Tx.Gas(), "leg %d", i)
		assert.Equal(t, wantRevert[i], leg.RevertAllowed, "leg %d", i)
		assert.Equal(t, uint64(7+i), leg.Tx.Nonce(), "leg %d", i)
		assert.Equal(t, gasPrice, leg.Tx.GasTipCap())
		assert.Equal(t, gasPrice, leg.Tx.GasFeeCap())

		from, err := ethtypes.Sender(ethSigner, leg.Tx)
		require.NoError(t, err)
		assert.Equal(t, signer.Address(), from)
	}

	// the arbitrage leg carries the full path and the loan premium as floor
	args, err := executorABI.Methods["executeArbitrage"].Inputs.Unpack(b.Legs[1].Tx.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, []common.Address{tokenA, tokenB, tokenA}, args[0])
	assert.Equal(t, []common.Address{routerA, routerB}, args[1])
	assert.Equal(t, big.NewInt(1e18), args[2])
	assert.Equal(t, flashloan.Premium(big.NewInt(1e18), aave.DefaultPremiumBps), args[3])

	assert.Equal(t, float64(1), testutil.ToFloat64(m.Built.WithLabelValues("multi_tx")))
}

func TestBuildCombinedCallBundle(t *testing.T) {
	builder, _, m := newTestBuilder(t, KindCombinedCall, &fakeChain{head: 50, nonce: 1})
	builder.cfg.Validity = time.Minute
	fixed := time.Unix(1_700_000_000, 0)
	builder.now = func() time.Time { return fixed }

	b, err := builder.Build(context.Background(), opportunity(), big.NewInt(1))
	require.NoError(t, err)
	require.Len(t, b.Legs, 1)

	leg := b.Legs[0]
	assert.False(t, leg.RevertAllowed)
	assert.Equal(t, combined, *leg.Tx.To())
	assert.Equal(t, CombinedGasLimit, leg.Tx.Gas())
	assert.Equal(t, uint64(1_700_000_000), b.MinTimestamp)
	assert.Equal(t, uint64(1_700_000_060), b.MaxTimestamp)

	args, err := combinedABI.Methods["executeArbitrage"].Inputs.Unpack(leg.Tx.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, tokenA, args[0])
	assert.Equal(t, tokenA, args[1])
	assert.Equal(t, big.NewInt(1e18), args[2])
	assert.Equal(t, big.NewInt(1_002_000_000_000_000_000), args[3])
	assert.Equal(t, big.NewInt(3000), args[4])

	assert.Equal(t, float64(1), testutil.ToFloat64(m.Built.WithLabelValues("combined_call")))
}

func TestBuildRejectsIncompletePath(t *testing.T) {
	builder, _, _ := newTestBuilder(t, KindMultiTx, &fakeChain{head: 1})
	opp := opportunity()
	opp.Routers = opp.Routers[:1]

	_, err := builder.Build(context.Background(), opp, big.NewInt(1))
	assert.Error(t, err)
}

func TestBuildPropagatesHeadError(t *testing.T) {
	builder, _, _ := newTestBuilder(t, KindMultiTx, &fakeChain{headErr: errors.New("node down")})

	_, err := builder.Build(context.Background(), opportunity(), big.NewInt(1))
	assert.ErrorContains(t, err, "node down")
}

func TestNewBuilderRequiresLoansForMultiTx(t *testing.T) {
	_, err := NewBuilder(BuilderConfig{Kind: KindMultiTx, ChainID: chainID}, &fakeChain{}, nil, testSigner(t), zaptest.NewLogger(t), nil)
	assert.Error(t, err)

	_, err = NewBuilder(BuilderConfig{Kind: KindCombinedCall, ChainID: chainID}, &fakeChain{}, nil, testSigner(t), zaptest.NewLogger(t), nil)
	assert.NoError(t, err)
}

func TestBuildLeavesLegsUnsignedWithoutSigner(t *testing.T) {
	sender := common.HexToAddress("0x00000000000000000000000000000000000000f0")
	b, err := NewBuilder(BuilderConfig{Kind: KindCombinedCall, ChainID: chainID, Combined: combined, Sender: sender},
		&fakeChain{head: 5, nonce: 2}, nil, nil, zaptest.NewLogger(t), metrics.NewBundleMetrics(prometheus.NewRegistry(), "test"))
	require.NoError(t, err)

	bundle, err := b.Build(context.Background(), opportunity(), big.NewInt(1))
	require.NoError(t, err)

	v, r, s := bundle.Legs[0].Tx.RawSignatureValues()
	assert.Zero(t, v.Sign())
	assert.Zero(t, r.Sign())
	assert.Zero(t, s.Sign())
	assert.Equal(t, uint64(2), bundle.Legs[0].Tx.Nonce())
}
