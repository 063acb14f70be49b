package mempool

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient/gethclient"
	"github.com/ethereum/go-ethereum/event"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/michaelpento.lv/backrunner/config"
)

// Feed streams pending transactions into ch until the subscription ends.
type Feed interface {
	SubscribePending(ctx context.Context, ch chan<- *ethtypes.Transaction) (ethereum.Subscription, error)
}

// FullTxFeed receives whole transactions from a geth-compatible node.
type FullTxFeed struct {
	client *gethclient.Client
}

func NewFullTxFeed(client *gethclient.Client) *FullTxFeed {
	return &FullTxFeed{client: client}
}

func (f *FullTxFeed) SubscribePending(ctx context.Context, ch chan<- *ethtypes.Transaction) (ethereum.Subscription, error) {
	sub, err := f.client.SubscribeFullPendingTransactions(ctx, ch)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// TxFetcher looks up a transaction by hash. *ethclient.Client satisfies it.
type TxFetcher interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (*ethtypes.Transaction, bool, error)
}

// HashFeed subscribes to pending hashes and fetches each transaction. It
// serves nodes that do not stream full transactions.
type HashFeed struct {
	subscribe   func(ctx context.Context, ch chan<- common.Hash) (ethereum.Subscription, error)
	fetcher     TxFetcher
	limiter     *rate.Limiter
	waitTimeout time.Duration
	logger      *zap.Logger
}

func NewHashFeed(client *gethclient.Client, fetcher TxFetcher, limits config.RateLimitConfig, logger *zap.Logger) *HashFeed {
	return &HashFeed{
		subscribe: func(ctx context.Context, ch chan<- common.Hash) (ethereum.Subscription, error) {
			sub, err := client.SubscribePendingTransactions(ctx, ch)
			if err != nil {
				return nil, err
			}
			return sub, nil
		},
		fetcher:     fetcher,
		limiter:     rate.NewLimiter(rate.Limit(limits.RequestsPerSecond), limits.BurstSize),
		waitTimeout: limits.WaitTimeout,
		logger:      logger.Named("hashfeed"),
	}
}

// SubscribePending forwards fetched transactions to ch. Fetches that fail or
// exceed the rate limit are skipped.
func (f *HashFeed) SubscribePending(ctx context.Context, ch chan<- *ethtypes.Transaction) (ethereum.Subscription, error) {
	hashes := make(chan common.Hash, 1024)
	upstream, err := f.subscribe(ctx, hashes)
	if err != nil {
		return nil, err
	}

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer upstream.Unsubscribe()
		for {
			select {
			case <-quit:
				return nil
			case err := <-upstream.Err():
				return err
			case hash := <-hashes:
				tx := f.fetch(ctx, hash)
				if tx == nil {
					continue
				}
				select {
				case ch <- tx:
				case <-quit:
					return nil
				}
			}
		}
	}), nil
}

func (f *HashFeed) fetch(ctx context.Context, hash common.Hash) *ethtypes.Transaction {
	waitCtx, cancel := context.WithTimeout(ctx, f.waitTimeout)
	err := f.limiter.Wait(waitCtx)
	cancel()
	if err != nil {
		f.logger.Debug("Fetch rate limited", zap.String("tx_hash", hash.Hex()))
		return nil
	}

	tx, _, err := f.fetcher.TransactionByHash(ctx, hash)
	if err != nil {
		// mined or dropped before we asked
		f.logger.Debug("Failed to get transaction", zap.String("tx_hash", hash.Hex()), zap.Error(err))
		return nil
	}
	return tx
}
