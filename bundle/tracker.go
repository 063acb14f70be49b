package bundle

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/backrunner/types"
	"github.com/michaelpento.lv/backrunner/utils"
	"github.com/michaelpento.lv/backrunner/utils/metrics"
)

// Outcome is the resolved state of one submitted bundle.
type Outcome struct {
	BundleHash     common.Hash
	OriginTx       common.Hash
	OpportunityID  uint64
	Kind           Kind
	TargetBlock    uint64
	Status         Status
	ExpectedProfit *big.Int
	SubmittedAt    time.Time
	ResolvedAt     time.Time
}

// Journal persists outcomes.
type Journal interface {
	Record(ctx context.Context, o Outcome) error
}

// Tracker polls the relay until a bundle resolves or its deadline passes.
type Tracker struct {
	relay    Relay
	journal  Journal
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
	metrics  *metrics.BundleMetrics
	now      func() time.Time
}

// NewTracker creates a tracker. journal may be nil.
func NewTracker(relay Relay, journal Journal, interval, timeout time.Duration, logger *zap.Logger, m *metrics.BundleMetrics) *Tracker {
	return &Tracker{
		relay:    relay,
		journal:  journal,
		interval: interval,
		timeout:  timeout,
		logger:   logger.Named("tracker"),
		metrics:  m,
		now:      time.Now,
	}
}

// Track blocks until the bundle reaches a terminal status. The deadline is
// the configured timeout, shortened to the bundle's MaxTimestamp when set.
// A bundle that never resolved is reported as StatusTimeout together with an
// error wrapping ErrBundleTimeout, and the relay is told to forget it.
func (t *Tracker) Track(ctx context.Context, bundleHash common.Hash, b *Bundle, profit *big.Int) (Status, error) {
	t.metrics.Tracking.Inc()
	defer t.metrics.Tracking.Dec()

	submitted := t.now()
	deadline := submitted.Add(t.timeout)
	if b.MaxTimestamp > 0 {
		if maxTs := time.Unix(int64(b.MaxTimestamp), 0); maxTs.Before(deadline) {
			deadline = maxTs
		}
	}

	status := t.poll(ctx, bundleHash, deadline)
	t.metrics.Outcomes.WithLabelValues(status.String()).Inc()

	var err error
	if status == StatusTimeout {
		t.relay.Forget(bundleHash)
		err = fmt.Errorf("%w: %s unresolved after %s", types.ErrBundleTimeout, bundleHash.Hex(), t.now().Sub(submitted).Round(time.Millisecond))
	}

	logFn := t.logger.Info
	if status != StatusIncluded {
		logFn = t.logger.Warn
	}
	logFn("Bundle resolved",
		zap.String("bundle_hash", bundleHash.Hex()),
		zap.Uint64("opportunity", b.OpportunityID),
		zap.Uint64("target_block", b.TargetBlock),
		zap.String("status", status.String()),
		zap.String("expected_profit_eth", utils.FormatEther(profit)),
		zap.Error(err),
	)

	if t.journal != nil {
		outcome := Outcome{
			BundleHash:     bundleHash,
			OriginTx:       b.OriginTx,
			OpportunityID:  b.OpportunityID,
			Kind:           b.Kind,
			TargetBlock:    b.TargetBlock,
			Status:         status,
			ExpectedProfit: profit,
			SubmittedAt:    submitted,
			ResolvedAt:     t.now(),
		}
		// the journal outlives a cancelled tracking context
		if err := t.journal.Record(context.WithoutCancel(ctx), outcome); err != nil {
			t.logger.Error("Failed to journal outcome", zap.String("bundle_hash", bundleHash.Hex()), zap.Error(err))
		}
	}
	return status, err
}

func (t *Tracker) poll(ctx context.Context, bundleHash common.Hash, deadline time.Time) Status {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		status, err := t.relay.BundleStatus(ctx, bundleHash)
		switch {
		case err != nil:
			t.logger.Debug("Bundle status query failed", zap.String("bundle_hash", bundleHash.Hex()), zap.Error(err))
		case status.Terminal():
			return status
		}
		if !t.now().Before(deadline) {
			return StatusTimeout
		}

		select {
		case <-ctx.Done():
			return StatusTimeout
		case <-ticker.C:
		}
	}
}
