package bundle

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/michaelpento.lv/backrunner/types"
)

// Kind tags the submission shape of a Bundle.
type Kind int

const (
	// KindMultiTx is a flash-loan draw, the arbitrage and the repayment as
	// three ordered transactions.
	KindMultiTx Kind = iota
	// KindCombinedCall is a single call into a contract that borrows,
	// trades and repays internally.
	KindCombinedCall
)

func (k Kind) String() string {
	switch k {
	case KindMultiTx:
		return "multi_tx"
	case KindCombinedCall:
		return "combined_call"
	default:
		return "unknown"
	}
}

// Leg is one transaction of a bundle.
type Leg struct {
	Tx            *ethtypes.Transaction
	RevertAllowed bool
}

// Bundle is an ordered set of legs that must land in TargetBlock.
type Bundle struct {
	Kind          Kind
	Legs          []Leg
	TargetBlock   uint64
	ObservedBlock uint64
	// MinTimestamp and MaxTimestamp are unix seconds; zero means unset
	MinTimestamp  uint64
	MaxTimestamp  uint64
	OriginTx      common.Hash
	OpportunityID uint64
}

// Validate rejects a bundle whose target is not in (current, current+horizon].
func (b *Bundle) Validate(current, horizon uint64) error {
	if b.TargetBlock <= current {
		return fmt.Errorf("%w: target %d is not after current block %d", types.ErrStaleBundleTarget, b.TargetBlock, current)
	}
	if b.TargetBlock > current+horizon {
		return fmt.Errorf("%w: target %d is more than %d blocks ahead of %d", types.ErrStaleBundleTarget, b.TargetBlock, horizon, current)
	}
	if len(b.Legs) == 0 {
		return fmt.Errorf("bundle has no legs")
	}
	return nil
}

// KeyLeg is the index of the leg that carries the trade.
func (b *Bundle) KeyLeg() int {
	if b.Kind == KindMultiTx && len(b.Legs) > 1 {
		return 1
	}
	return 0
}

// TxHashes returns the leg hashes in order.
func (b *Bundle) TxHashes() []common.Hash {
	out := make([]common.Hash, len(b.Legs))
	for i, leg := range b.Legs {
		out[i] = leg.Tx.Hash()
	}
	return out
}

// RevertingTxHashes returns the hashes of legs allowed to revert.
func (b *Bundle) RevertingTxHashes() []common.Hash {
	var out []common.Hash
	for _, leg := range b.Legs {
		if leg.RevertAllowed {
			out = append(out, leg.Tx.Hash())
		}
	}
	return out
}

// Status is the relay-side state of a submitted bundle.
type Status int

const (
	StatusPending Status = iota
	StatusIncluded
	StatusFailed
	StatusTimeout
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusIncluded:
		return "included"
	case StatusFailed:
		return "failed"
	case StatusTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

func (s Status) Terminal() bool {
	return s != StatusPending
}

// Relay delivers bundles to block builders and reports on them.
type Relay interface {
	SubmitBundle(ctx context.Context, b *Bundle) (common.Hash, error)
	BundleStatus(ctx context.Context, bundleHash common.Hash) (Status, error)
	// Forget drops any state kept for a bundle that is no longer tracked.
	Forget(bundleHash common.Hash)
}
