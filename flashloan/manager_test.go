package flashloan

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type mockProvider struct {
	name     string
	contract common.Address
	bps      uint64
	drawErr  error
}

func (m *mockProvider) Name() string              { return m.name }
func (m *mockProvider) Contract() common.Address { return m.contract }
func (m *mockProvider) PremiumBps() uint64       { return m.bps }

func (m *mockProvider) EncodeDraw(_, _ common.Address, _ *big.Int, params []byte) ([]byte, error) {
	if m.drawErr != nil {
		return nil, m.drawErr
	}
	return append([]byte("draw:"), params...), nil
}

func (m *mockProvider) EncodeRepay(token common.Address, amount *big.Int) ([]byte, error) {
	return EncodeRepay(token, amount)
}

var (
	token    = common.HexToAddress("0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270")
	receiver = common.HexToAddress("0x00000000000000000000000000000000000000e1")
)

func TestManagerSelectsCheapestProvider(t *testing.T) {
	expensive := &mockProvider{name: "expensive", contract: common.HexToAddress("0x01"), bps: 9}
	cheap := &mockProvider{name: "cheap", contract: common.HexToAddress("0x02"), bps: 0}
	manager := NewManager(zaptest.NewLogger(t), expensive)

	best, err := manager.Cheapest()
	require.NoError(t, err)
	assert.Equal(t, "expensive", best.Name())

	manager.AddProvider(cheap)
	best, err = manager.Cheapest()
	require.NoError(t, err)
	assert.Equal(t, "cheap", best.Name())
}

func TestManagerTieKeepsRegistrationOrder(t *testing.T) {
	manager := NewManager(zaptest.NewLogger(t),
		&mockProvider{name: "first", bps: 5},
		&mockProvider{name: "second", bps: 5},
	)
	best, err := manager.Cheapest()
	require.NoError(t, err)
	assert.Equal(t, "first", best.Name())
}

func TestManagerPlan(t *testing.T) {
	provider := &mockProvider{name: "aave", contract: common.HexToAddress("0x8dFf5E27EA6b7AC08EbFdf9eB090F32ee9a30fcf"), bps: 9}
	manager := NewManager(zaptest.NewLogger(t), provider)

	loan, err := manager.Plan(receiver, token, big.NewInt(1e18), []byte{0x01})
	require.NoError(t, err)

	assert.Equal(t, "aave", loan.Provider)
	assert.Equal(t, provider.contract, loan.Contract)
	assert.Equal(t, big.NewInt(900_000_000_000_000), loan.Premium)
	assert.Equal(t, big.NewInt(1_000_900_000_000_000_000), loan.Owed())
	assert.Equal(t, []byte("draw:\x01"), loan.DrawData)

	repay, err := EncodeRepay(token, loan.Owed())
	require.NoError(t, err)
	assert.Equal(t, repay, loan.RepayData)
}

func TestManagerPlanErrors(t *testing.T) {
	_, err := NewManager(zaptest.NewLogger(t)).Plan(receiver, token, big.NewInt(1), nil)
	assert.Error(t, err)

	manager := NewManager(zaptest.NewLogger(t), &mockProvider{name: "broken", drawErr: errors.New("pack failed")})
	_, err = manager.Plan(receiver, token, big.NewInt(1), nil)
	assert.ErrorContains(t, err, "broken draw")

	_, err = manager.Plan(receiver, token, big.NewInt(0), nil)
	assert.Error(t, err)
}

func TestEncodeRepay(t *testing.T) {
	data, err := EncodeRepay(token, big.NewInt(42))
	require.NoError(t, err)

	require.Len(t, data, 4+64)
	assert.Equal(t, repaySelector, data[:4])
	assert.Equal(t, token, common.BytesToAddress(data[4:36]))
	assert.Equal(t, big.NewInt(42), new(big.Int).SetBytes(data[36:68]))
}

func TestPremium(t *testing.T) {
	assert.Equal(t, big.NewInt(9), Premium(big.NewInt(10_000), 9))
	assert.Equal(t, big.NewInt(0), Premium(big.NewInt(1e18), 0))
}
