package bundle

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/backrunner/config"
	"github.com/michaelpento.lv/backrunner/flashloan"
	"github.com/michaelpento.lv/backrunner/types"
	"github.com/michaelpento.lv/backrunner/utils/metrics"
)

// Gas limits per leg.
const (
	DrawGasLimit      uint64 = 300_000
	ArbitrageGasLimit uint64 = 500_000
	RepayGasLimit     uint64 = 200_000
	CombinedGasLimit         = DrawGasLimit + ArbitrageGasLimit + RepayGasLimit
)

// ChainState is the node surface the builder reads. *ethclient.Client
// satisfies it.
type ChainState interface {
	BlockNumber(ctx context.Context) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

type BuilderConfig struct {
	// Kind selects between the multi-transaction and combined-call shapes
	Kind     Kind
	ChainID  *big.Int
	Executor common.Address
	Combined common.Address
	// TargetOffset is added to the current head to pick the target block
	TargetOffset uint64
	// Validity bounds the bundle timestamps when positive
	Validity time.Duration
	Legs     config.LegPolicy
	// Sender owns the nonces when no signer is configured
	Sender common.Address
}

// Builder turns opportunities into signed bundles.
type Builder struct {
	cfg     BuilderConfig
	chain   ChainState
	loans   *flashloan.Manager
	signer  TxSigner
	logger  *zap.Logger
	metrics *metrics.BundleMetrics
	now     func() time.Time
}

// NewBuilder creates a builder. loans is only required for KindMultiTx.
// Without a signer legs are left unsigned.
func NewBuilder(cfg BuilderConfig, chain ChainState, loans *flashloan.Manager, signer TxSigner, logger *zap.Logger, m *metrics.BundleMetrics) (*Builder, error) {
	if chain == nil {
		return nil, fmt.Errorf("builder needs a chain client")
	}
	if cfg.Kind == KindMultiTx && loans == nil {
		return nil, fmt.Errorf("multi transaction bundles need a flash loan manager")
	}
	if cfg.ChainID == nil {
		return nil, fmt.Errorf("chain id not set")
	}
	if cfg.TargetOffset == 0 {
		cfg.TargetOffset = 1
	}
	if signer != nil {
		cfg.Sender = signer.Address()
	}
	return &Builder{
		cfg:     cfg,
		chain:   chain,
		loans:   loans,
		signer:  signer,
		logger:  logger.Named("builder"),
		metrics: m,
		now:     time.Now,
	}, nil
}

// Build assembles a bundle for opp priced at gasPrice, targeting the block
// after the current head plus the configured offset.
func (b *Builder) Build(ctx context.Context, opp *types.ArbitrageOpportunity, gasPrice *big.Int) (*Bundle, error) {
	if len(opp.Path) < 2 || len(opp.Routers) != len(opp.Path)-1 {
		return nil, fmt.Errorf("opportunity %d has an incomplete path", opp.ID)
	}

	head, err := b.chain.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get block number: %w", err)
	}
	nonce, err := b.chain.PendingNonceAt(ctx, b.cfg.Sender)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	bundle := &Bundle{
		Kind:          b.cfg.Kind,
		TargetBlock:   head + b.cfg.TargetOffset,
		ObservedBlock: head,
		OriginTx:      opp.OriginTx,
		OpportunityID: opp.ID,
	}
	if b.cfg.Validity > 0 {
		now := b.now()
		bundle.MinTimestamp = uint64(now.Unix())
		bundle.MaxTimestamp = uint64(now.Add(b.cfg.Validity).Unix())
	}

	switch b.cfg.Kind {
	case KindMultiTx:
		bundle.Legs, err = b.multiTxLegs(opp, gasPrice, nonce)
	case KindCombinedCall:
		bundle.Legs, err = b.combinedLegs(opp, gasPrice, nonce)
	default:
		err = fmt.Errorf("unknown bundle kind %d", b.cfg.Kind)
	}
	if err != nil {
		return nil, err
	}

	b.metrics.Built.WithLabelValues(bundle.Kind.String()).Inc()
	b.logger.Debug("Built bundle",
		zap.Uint64("opportunity", opp.ID),
		zap.String("kind", bundle.Kind.String()),
		zap.Int("legs", len(bundle.Legs)),
		zap.Uint64("target_block", bundle.TargetBlock),
	)
	return bundle, nil
}

// multiTxLegs orders draw, arbitrage and repay on consecutive nonces.
func (b *Builder) multiTxLegs(opp *types.ArbitrageOpportunity, gasPrice *big.Int, nonce uint64) ([]Leg, error) {
	loan, err := b.loans.Plan(b.cfg.Executor, opp.TokenIn, opp.AmountIn, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to plan flash loan: %w", err)
	}

	arbData, err := executorABI.Pack("executeArbitrage", opp.Path, opp.Routers, opp.AmountIn, loan.Premium)
	if err != nil {
		return nil, fmt.Errorf("failed to pack executeArbitrage: %w", err)
	}

	specs := []struct {
		to            common.Address
		data          []byte
		gas           uint64
		revertAllowed bool
	}{
		{loan.Contract, loan.DrawData, DrawGasLimit, b.cfg.Legs.FlashLoanRevertAllowed},
		{b.cfg.Executor, arbData, ArbitrageGasLimit, b.cfg.Legs.ArbitrageRevertAllowed},
		{loan.Contract, loan.RepayData, RepayGasLimit, b.cfg.Legs.RepayRevertAllowed},
	}
	legs := make([]Leg, 0, len(specs))
	for i, s := range specs {
		tx, err := b.sign(nonce+uint64(i), s.to, s.data, s.gas, gasPrice)
		if err != nil {
			return nil, err
		}
		legs = append(legs, Leg{Tx: tx, RevertAllowed: s.revertAllowed})
	}
	return legs, nil
}

// combinedLegs packs the whole trade into one non-revertible call.
func (b *Builder) combinedLegs(opp *types.ArbitrageOpportunity, gasPrice *big.Int, nonce uint64) ([]Leg, error) {
	amounts := opp.HopAmounts
	if len(amounts) == 0 {
		amounts = []*big.Int{opp.AmountIn}
	}
	expectedOut := amounts[len(amounts)-1]

	data, err := combinedABI.Pack("executeArbitrage",
		opp.TokenIn,
		opp.TokenOut,
		opp.AmountIn,
		expectedOut,
		new(big.Int).SetUint64(uint64(opp.Fee)),
		opp.Path,
		amounts,
		opp.Routers,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to pack combined executeArbitrage: %w", err)
	}

	tx, err := b.sign(nonce, b.cfg.Combined, data, CombinedGasLimit, gasPrice)
	if err != nil {
		return nil, err
	}
	return []Leg{{Tx: tx}}, nil
}

func (b *Builder) sign(nonce uint64, to common.Address, data []byte, gasLimit uint64, gasPrice *big.Int) (*ethtypes.Transaction, error) {
	tx := ethtypes.NewTx(&ethtypes.DynamicFeeTx{
		ChainID:   b.cfg.ChainID,
		Nonce:     nonce,
		GasTipCap: new(big.Int).Set(gasPrice),
		GasFeeCap: new(big.Int).Set(gasPrice),
		Gas:       gasLimit,
		To:        &to,
		Value:     new(big.Int),
		Data:      data,
	})
	if b.signer == nil {
		return tx, nil
	}
	signed, err := b.signer.SignTx(tx)
	if err != nil {
		return nil, fmt.Errorf("failed to sign leg: %w", err)
	}
	return signed, nil
}
