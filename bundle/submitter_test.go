package bundle

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/backrunner/types"
)

type fakeRelay struct {
	mu        sync.Mutex
	hash      common.Hash
	submitErr error
	statuses  []Status
	submitted []*Bundle
	polls     int
	forgotten []common.Hash
}

func (r *fakeRelay) SubmitBundle(_ context.Context, b *Bundle) (common.Hash, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submitted = append(r.submitted, b)
	return r.hash, r.submitErr
}

func (r *fakeRelay) BundleStatus(context.Context, common.Hash) (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.polls++
	if len(r.statuses) == 0 {
		return StatusPending, nil
	}
	s := r.statuses[0]
	if len(r.statuses) > 1 {
		r.statuses = r.statuses[1:]
	}
	return s, nil
}

func (r *fakeRelay) Forget(h common.Hash) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forgotten = append(r.forgotten, h)
}

type memoryJournal struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (j *memoryJournal) Record(_ context.Context, o Outcome) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.outcomes = append(j.outcomes, o)
	return nil
}

func TestSubmitterTracksUntilIncluded(t *testing.T) {
	chain := &fakeChain{head: 100, nonce: 0}
	builder, _, m := newTestBuilder(t, KindMultiTx, chain)
	relay := &fakeRelay{
		hash:     common.HexToHash("0xb0b"),
		statuses: []Status{StatusPending, StatusPending, StatusIncluded},
	}
	journal := &memoryJournal{}
	tracker := NewTracker(relay, journal, time.Millisecond, time.Second, zaptest.NewLogger(t), m)
	submitter := NewSubmitter(builder, chain, relay, tracker, 5, zaptest.NewLogger(t), m)

	err := submitter.Execute(context.Background(), opportunity(), big.NewInt(1))
	require.NoError(t, err)
	submitter.Wait()

	require.Len(t, relay.submitted, 1)
	assert.Equal(t, 3, relay.polls)
	require.Len(t, journal.outcomes, 1)
	outcome := journal.outcomes[0]
	assert.Equal(t, StatusIncluded, outcome.Status)
	assert.Equal(t, relay.hash, outcome.BundleHash)
	assert.Equal(t, uint64(3), outcome.OpportunityID)
	assert.Equal(t, uint64(101), outcome.TargetBlock)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.Submitted))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Outcomes.WithLabelValues("included")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.Tracking))
	assert.Empty(t, relay.forgotten)
}

// advancingChain moves the head forward between build and validation.
type advancingChain struct {
	fakeChain
}

func (c *advancingChain) BlockNumber(ctx context.Context) (uint64, error) {
	head, err := c.fakeChain.BlockNumber(ctx)
	c.head += 2
	return head, err
}

func TestSubmitterRejectsStaleTarget(t *testing.T) {
	chain := &advancingChain{fakeChain{head: 100}}
	builder, _, m := newTestBuilder(t, KindMultiTx, &chain.fakeChain)
	builder.chain = chain
	relay := &fakeRelay{hash: common.HexToHash("0x1")}
	submitter := NewSubmitter(builder, chain, relay, nil, 5, zaptest.NewLogger(t), m)

	err := submitter.Execute(context.Background(), opportunity(), big.NewInt(1))
	require.ErrorIs(t, err, types.ErrStaleBundleTarget)
	assert.Empty(t, relay.submitted)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Stale))
}

func TestSubmitterRelayFailures(t *testing.T) {
	tests := []struct {
		name  string
		relay *fakeRelay
	}{
		{name: "relay error", relay: &fakeRelay{submitErr: errors.New("403 forbidden")}},
		{name: "empty hash", relay: &fakeRelay{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := &fakeChain{head: 10}
			builder, _, m := newTestBuilder(t, KindCombinedCall, chain)
			submitter := NewSubmitter(builder, chain, tt.relay, nil, 5, zaptest.NewLogger(t), m)

			err := submitter.Execute(context.Background(), opportunity(), big.NewInt(1))
			require.ErrorIs(t, err, types.ErrBundleSubmissionFailed)
			assert.Equal(t, float64(1), testutil.ToFloat64(m.SubmitFailures))
			assert.Equal(t, float64(0), testutil.ToFloat64(m.Submitted))
		})
	}
}

func TestTrackerTimesOut(t *testing.T) {
	_, _, m := newTestBuilder(t, KindCombinedCall, &fakeChain{})
	relay := &fakeRelay{}
	journal := &memoryJournal{}
	tracker := NewTracker(relay, journal, time.Millisecond, 20*time.Millisecond, zaptest.NewLogger(t), m)

	status, err := tracker.Track(context.Background(), common.HexToHash("0x2"), &Bundle{TargetBlock: 9}, big.NewInt(5))
	assert.Equal(t, StatusTimeout, status)
	assert.ErrorIs(t, err, types.ErrBundleTimeout)
	assert.Positive(t, relay.polls)
	assert.Equal(t, []common.Hash{common.HexToHash("0x2")}, relay.forgotten)
	require.Len(t, journal.outcomes, 1)
	assert.Equal(t, StatusTimeout, journal.outcomes[0].Status)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Outcomes.WithLabelValues("timeout")))
}

func TestTrackerHonoursMaxTimestamp(t *testing.T) {
	_, _, m := newTestBuilder(t, KindCombinedCall, &fakeChain{})
	tracker := NewTracker(&fakeRelay{}, nil, time.Millisecond, time.Hour, zaptest.NewLogger(t), m)

	// a window that already closed resolves on the first poll
	past := uint64(time.Now().Add(-time.Minute).Unix())
	status, err := tracker.Track(context.Background(), common.HexToHash("0x3"), &Bundle{MaxTimestamp: past}, nil)
	assert.Equal(t, StatusTimeout, status)
	assert.ErrorIs(t, err, types.ErrBundleTimeout)
}
