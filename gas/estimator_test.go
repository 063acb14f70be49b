package gas

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeClient struct {
	baseFee *big.Int
	tip     *big.Int
	price   *big.Int
	err     error
	heads   atomic.Int32
}

func (f *fakeClient) HeaderByNumber(context.Context, *big.Int) (*ethtypes.Header, error) {
	f.heads.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &ethtypes.Header{Number: big.NewInt(100), BaseFee: f.baseFee}, nil
}

func (f *fakeClient) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return f.tip, nil
}

func (f *fakeClient) SuggestGasPrice(context.Context) (*big.Int, error) {
	return f.price, nil
}

func TestCurrentGasPrice(t *testing.T) {
	client := &fakeClient{baseFee: big.NewInt(30), tip: big.NewInt(2)}
	est := NewEstimator(client, time.Minute, zaptest.NewLogger(t))

	price, err := est.CurrentGasPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(32), price.Int64())

	// a fresh sample is served without another head lookup
	_, err = est.CurrentGasPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), client.heads.Load())

	cost, err := est.EstimateGasCost(context.Background(), 300_000)
	require.NoError(t, err)
	assert.Equal(t, int64(9_600_000), cost.Int64())
}

func TestCurrentGasPriceLegacyChain(t *testing.T) {
	client := &fakeClient{price: big.NewInt(77)}
	est := NewEstimator(client, time.Minute, zaptest.NewLogger(t))

	price, err := est.CurrentGasPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(77), price.Int64())
}

func TestCurrentGasPriceError(t *testing.T) {
	client := &fakeClient{err: errors.New("node down")}
	est := NewEstimator(client, time.Minute, zaptest.NewLogger(t))

	_, err := est.CurrentGasPrice(context.Background())
	assert.Error(t, err)
}

func TestCurrentGasPriceCeiling(t *testing.T) {
	client := &fakeClient{baseFee: big.NewInt(30), tip: big.NewInt(2)}
	est := NewEstimator(client, time.Minute, zaptest.NewLogger(t))

	est.SetCeiling(big.NewInt(31))
	_, err := est.CurrentGasPrice(context.Background())
	assert.ErrorIs(t, err, ErrAboveCeiling)

	est.SetCeiling(big.NewInt(32))
	price, err := est.CurrentGasPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(32), price.Int64())
}

func TestStartStopsWithContext(t *testing.T) {
	client := &fakeClient{baseFee: big.NewInt(1), tip: big.NewInt(1)}
	est := NewEstimator(client, time.Millisecond, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		est.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return client.heads.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("estimator did not stop")
	}
}

func TestEstimateArbitrageGas(t *testing.T) {
	assert.Equal(t, uint64(21000+2*152000), EstimateArbitrageGas(2))
	assert.Equal(t, uint64(21000), EstimateArbitrageGas(0))
}
