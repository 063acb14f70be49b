package bundle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/backrunner/types"
	"github.com/michaelpento.lv/backrunner/utils"
	"github.com/michaelpento.lv/backrunner/utils/metrics"
)

// HeadReader reports the current block number.
type HeadReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// Submitter builds, validates and relays bundles, then tracks each one in
// the background. It satisfies the scheduler's executor contract.
type Submitter struct {
	builder *Builder
	head    HeadReader
	relay   Relay
	tracker *Tracker
	horizon uint64
	logger  *zap.Logger
	metrics *metrics.BundleMetrics
	wg      sync.WaitGroup
}

func NewSubmitter(builder *Builder, head HeadReader, relay Relay, tracker *Tracker, horizon uint64, logger *zap.Logger, m *metrics.BundleMetrics) *Submitter {
	return &Submitter{
		builder: builder,
		head:    head,
		relay:   relay,
		tracker: tracker,
		horizon: horizon,
		logger:  logger.Named("submitter"),
		metrics: m,
	}
}

// Execute submits one bundle for opp. A target that is no longer ahead of
// the chain is rejected with ErrStaleBundleTarget before the relay is
// contacted.
func (s *Submitter) Execute(ctx context.Context, opp *types.ArbitrageOpportunity, gasPrice *big.Int) error {
	b, err := s.builder.Build(ctx, opp, gasPrice)
	if err != nil {
		return fmt.Errorf("failed to build bundle: %w", err)
	}

	current, err := s.head.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh head: %w", err)
	}
	if err := b.Validate(current, s.horizon); err != nil {
		if errors.Is(err, types.ErrStaleBundleTarget) {
			s.metrics.Stale.Inc()
		}
		return err
	}

	start := time.Now()
	bundleHash, err := s.relay.SubmitBundle(ctx, b)
	s.metrics.SubmitLatency.Observe(time.Since(start).Seconds())
	if err == nil && bundleHash == (common.Hash{}) {
		err = errors.New("relay returned no bundle hash")
	}
	if err != nil {
		s.metrics.SubmitFailures.Inc()
		return fmt.Errorf("%w: %v", types.ErrBundleSubmissionFailed, err)
	}
	s.metrics.Submitted.Inc()

	s.logger.Info("Bundle submitted",
		zap.String("bundle_hash", bundleHash.Hex()),
		zap.Uint64("opportunity", opp.ID),
		zap.String("origin_tx", opp.OriginTx.Hex()),
		zap.String("kind", b.Kind.String()),
		zap.Uint64("target_block", b.TargetBlock),
		zap.String("gas_price_gwei", utils.FormatGwei(gasPrice)),
		zap.String("expected_profit_eth", utils.FormatEther(opp.ExpectedProfit)),
	)

	if s.tracker != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			_, _ = s.tracker.Track(ctx, bundleHash, b, opp.ExpectedProfit)
		}()
	}
	return nil
}

// Wait blocks until every tracked bundle has resolved.
func (s *Submitter) Wait() {
	s.wg.Wait()
}
