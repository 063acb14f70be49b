package mempool

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/backrunner/types"
	"github.com/michaelpento.lv/backrunner/utils/metrics"
)

// Handler consumes deduplicated pending transactions.
type Handler interface {
	HandleTransaction(ctx context.Context, tx *types.PendingTransaction)
}

// Ingestor reads a Feed, drops hashes it has already seen and hands the
// rest to a Handler through a fixed window of workers.
type Ingestor struct {
	feed    Feed
	dedup   *Deduper
	handler Handler
	signer  ethtypes.Signer
	pool    *AffinityWorkerPool
	logger  *zap.Logger
	metrics *metrics.IngestionMetrics
	now     func() time.Time

	startOnce sync.Once
}

// NewIngestor creates an ingestor. window bounds how many transactions are
// analyzed at once; cpus optionally pins the workers.
func NewIngestor(feed Feed, dedup *Deduper, handler Handler, chainID *big.Int, window int, cpus []int, logger *zap.Logger, m *metrics.IngestionMetrics) *Ingestor {
	logger = logger.Named("ingestor")
	return &Ingestor{
		feed:    feed,
		dedup:   dedup,
		handler: handler,
		signer:  ethtypes.LatestSignerForChainID(chainID),
		pool:    NewAffinityWorkerPool(window, cpus, logger),
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// Run consumes the feed until ctx is cancelled or the subscription fails.
// In-flight transactions finish before Run returns.
func (i *Ingestor) Run(ctx context.Context) error {
	i.startOnce.Do(i.pool.Start)

	txs := make(chan *ethtypes.Transaction, 1024)
	sub, err := i.feed.SubscribePending(ctx, txs)
	if err != nil {
		return fmt.Errorf("failed to subscribe to pending transactions: %w", err)
	}
	defer sub.Unsubscribe()

	i.logger.Info("Ingesting pending transactions")
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sub.Err():
			if err == nil {
				return nil
			}
			return fmt.Errorf("subscription error: %w", err)
		case tx := <-txs:
			i.ingest(ctx, tx)
		}
	}
}

// Stop drains the worker window. Run must have returned.
func (i *Ingestor) Stop() {
	i.startOnce.Do(i.pool.Start)
	i.pool.Stop()
}

func (i *Ingestor) ingest(ctx context.Context, tx *ethtypes.Transaction) {
	i.metrics.Received.Inc()
	if tx == nil {
		i.metrics.Malformed.Inc()
		return
	}
	if !i.dedup.Add(tx.Hash()) {
		i.metrics.Duplicates.Inc()
		return
	}

	from, err := ethtypes.Sender(i.signer, tx)
	if err != nil {
		i.metrics.Malformed.Inc()
		i.logger.Debug("Unrecoverable sender", zap.String("tx_hash", tx.Hash().Hex()), zap.Error(err))
		return
	}
	pending := types.NewPendingTransaction(tx, from, i.now())

	i.metrics.Forwarded.Inc()
	i.pool.Submit(func() {
		i.metrics.InFlight.Inc()
		defer i.metrics.InFlight.Dec()
		i.handler.HandleTransaction(ctx, pending)
	})
}
