package balancer

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelpento.lv/backrunner/flashloan"
)

func TestProviderEncodeDraw(t *testing.T) {
	provider, err := NewProvider(common.HexToAddress(VaultAddress))
	require.NoError(t, err)

	assert.Equal(t, flashloan.ProviderBalancer, provider.Name())
	assert.Zero(t, provider.PremiumBps())

	receiver := common.HexToAddress("0x00000000000000000000000000000000000000e1")
	token := common.HexToAddress("0xc2132D05D31c914a87C6611C10748AEb04B58e8F")
	data, err := provider.EncodeDraw(receiver, token, big.NewInt(1_000_000), nil)
	require.NoError(t, err)

	method := vaultABI.Methods["flashLoan"]
	assert.Equal(t, method.ID, data[:4])
	values, err := method.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	assert.Equal(t, receiver, values[0])
	assert.Equal(t, []common.Address{token}, values[1])
	assert.Equal(t, []*big.Int{big.NewInt(1_000_000)}, values[2])
}

func TestNewProviderRequiresVault(t *testing.T) {
	_, err := NewProvider(common.Address{})
	assert.Error(t, err)
}
