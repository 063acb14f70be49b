package flashloan

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Manager plans flash loans on the cheapest registered provider.
type Manager struct {
	mu        sync.RWMutex
	providers []Provider
	logger    *zap.Logger
}

func NewManager(logger *zap.Logger, providers ...Provider) *Manager {
	return &Manager{
		providers: providers,
		logger:    logger.Named("flashloan"),
	}
}

func (m *Manager) AddProvider(provider Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers = append(m.providers, provider)
}

// Cheapest returns the provider with the lowest premium. Registration order
// breaks ties.
func (m *Manager) Cheapest() (Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.providers) == 0 {
		return nil, fmt.Errorf("no providers available")
	}
	best := m.providers[0]
	for _, p := range m.providers[1:] {
		if p.PremiumBps() < best.PremiumBps() {
			best = p
		}
	}
	return best, nil
}

// Plan encodes a loan of amount token to receiver on the cheapest provider.
func (m *Manager) Plan(receiver, token common.Address, amount *big.Int, params []byte) (*Loan, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("invalid loan amount")
	}
	provider, err := m.Cheapest()
	if err != nil {
		return nil, fmt.Errorf("failed to select provider: %w", err)
	}

	loan := &Loan{
		Provider: provider.Name(),
		Contract: provider.Contract(),
		Token:    token,
		Amount:   new(big.Int).Set(amount),
		Premium:  Premium(amount, provider.PremiumBps()),
	}
	if loan.DrawData, err = provider.EncodeDraw(receiver, token, amount, params); err != nil {
		return nil, fmt.Errorf("%s draw: %w", provider.Name(), err)
	}
	if loan.RepayData, err = provider.EncodeRepay(token, loan.Owed()); err != nil {
		return nil, fmt.Errorf("%s repay: %w", provider.Name(), err)
	}

	m.logger.Debug("Planned flash loan",
		zap.String("provider", loan.Provider),
		zap.String("token", token.Hex()),
		zap.String("amount", amount.String()),
		zap.String("premium", loan.Premium.String()),
	)
	return loan, nil
}
