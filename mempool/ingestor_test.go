package mempool

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/backrunner/types"
	"github.com/michaelpento.lv/backrunner/utils/metrics"
	"github.com/michaelpento.lv/backrunner/utils/testutils"
)

var chainID = big.NewInt(137)

// sliceFeed replays txs and then holds the subscription open until it is
// unsubscribed or failWith is set.
type sliceFeed struct {
	txs       []*ethtypes.Transaction
	failWith  error
	subscribe error
}

func (f *sliceFeed) SubscribePending(_ context.Context, ch chan<- *ethtypes.Transaction) (ethereum.Subscription, error) {
	if f.subscribe != nil {
		return nil, f.subscribe
	}
	return event.NewSubscription(func(quit <-chan struct{}) error {
		for _, tx := range f.txs {
			select {
			case ch <- tx:
			case <-quit:
				return nil
			}
		}
		if f.failWith != nil {
			return f.failWith
		}
		<-quit
		return nil
	}), nil
}

type recordingHandler struct {
	mu   sync.Mutex
	seen []*types.PendingTransaction
}

func (h *recordingHandler) HandleTransaction(_ context.Context, tx *types.PendingTransaction) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, tx)
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.seen)
}

func signedTx(t *testing.T, nonce uint64) (*ethtypes.Transaction, common.Address) {
	t.Helper()
	key := testutils.NewKey(t)
	router := common.HexToAddress("0xa5E0829CaCEd8fFDD4De3c43696c57F7D7A678ff")
	tx := testutils.SignedTx(t, key, chainID, nonce, router, nil, []byte{0x38, 0xed, 0x17, 0x39})
	return tx, crypto.PubkeyToAddress(key.PublicKey)
}

func newTestIngestor(t *testing.T, feed Feed, handler Handler) (*Ingestor, *metrics.IngestionMetrics) {
	t.Helper()
	dedup, err := NewDeduper(16)
	require.NoError(t, err)
	m := metrics.NewIngestionMetrics(prometheus.NewRegistry(), "test")
	return NewIngestor(feed, dedup, handler, chainID, 4, nil, zaptest.NewLogger(t), m), m
}

func TestIngestorForwardsEachHashOnce(t *testing.T) {
	txA, fromA := signedTx(t, 1)
	txB, _ := signedTx(t, 2)
	to := common.HexToAddress("0x01")
	unsigned := ethtypes.NewTx(&ethtypes.DynamicFeeTx{ChainID: chainID, To: &to, Gas: 21_000})

	feed := &sliceFeed{txs: []*ethtypes.Transaction{txA, txA, nil, unsigned, txB, txA}}
	handler := &recordingHandler{}
	ingestor, m := newTestIngestor(t, feed, handler)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ingestor.Run(ctx) }()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.Received) == 6
	}, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	ingestor.Stop()

	require.Equal(t, 2, handler.count())
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Duplicates))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Malformed))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Forwarded))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.InFlight))

	var gotA *types.PendingTransaction
	for _, p := range handler.seen {
		if p.Hash == txA.Hash() {
			gotA = p
		}
	}
	require.NotNil(t, gotA)
	assert.Equal(t, fromA, gotA.From)
	assert.Equal(t, txA.Nonce(), gotA.Nonce)
	assert.Equal(t, txA.Data(), gotA.Data)
}

func TestIngestorSubscriptionErrors(t *testing.T) {
	boom := errors.New("connection reset")

	t.Run("subscribe fails", func(t *testing.T) {
		ingestor, _ := newTestIngestor(t, &sliceFeed{subscribe: boom}, &recordingHandler{})
		err := ingestor.Run(context.Background())
		assert.ErrorIs(t, err, boom)
		ingestor.Stop()
	})

	t.Run("subscription drops", func(t *testing.T) {
		ingestor, _ := newTestIngestor(t, &sliceFeed{failWith: boom}, &recordingHandler{})
		err := ingestor.Run(context.Background())
		assert.ErrorIs(t, err, boom)
		ingestor.Stop()
	})
}

func TestDeduperEvictsOldest(t *testing.T) {
	d, err := NewDeduper(2)
	require.NoError(t, err)

	h := func(n int64) common.Hash { return common.BigToHash(big.NewInt(n)) }
	assert.True(t, d.Add(h(1)))
	assert.False(t, d.Add(h(1)))
	assert.True(t, d.Add(h(2)))
	assert.True(t, d.Add(h(3)))
	assert.Equal(t, 2, d.Len())

	// 1 was evicted and may be forwarded again
	assert.True(t, d.Add(h(1)))
}

func TestAffinityWorkerPoolRunsEveryTask(t *testing.T) {
	pool := NewAffinityWorkerPool(3, []int{0}, zaptest.NewLogger(t))
	pool.Start()

	var (
		mu  sync.Mutex
		ran int
	)
	for i := 0; i < 20; i++ {
		pool.Submit(func() {
			mu.Lock()
			ran++
			mu.Unlock()
		})
	}
	pool.Stop()
	assert.Equal(t, 20, ran)
}
