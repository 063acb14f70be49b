package aave

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelpento.lv/backrunner/flashloan"
)

func TestAaveProvider(t *testing.T) {
	config := &flashloan.ProviderConfig{
		ContractAddress: common.HexToAddress("0x8dFf5E27EA6b7AC08EbFdf9eB090F32ee9a30fcf"),
		PremiumBps:      DefaultPremiumBps,
	}
	provider, err := NewAaveProvider(config)
	require.NoError(t, err)

	assert.Equal(t, flashloan.ProviderAave, provider.Name())
	assert.Equal(t, config.ContractAddress, provider.Contract())
	assert.Equal(t, uint64(9), provider.PremiumBps())

	t.Run("EncodeDraw", func(t *testing.T) {
		receiver := common.HexToAddress("0x00000000000000000000000000000000000000e1")
		token := common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174")

		data, err := provider.EncodeDraw(receiver, token, big.NewInt(5e17), []byte{0xca, 0xfe})
		require.NoError(t, err)

		method := provider.abi.Methods["flashLoan"]
		assert.Equal(t, method.ID, data[:4])

		values, err := method.Inputs.Unpack(data[4:])
		require.NoError(t, err)
		require.Len(t, values, 7)
		assert.Equal(t, receiver, values[0])
		assert.Equal(t, []common.Address{token}, values[1])
		assert.Equal(t, []*big.Int{big.NewInt(5e17)}, values[2])
		assert.Equal(t, []*big.Int{big.NewInt(0)}, values[3])
		assert.Equal(t, receiver, values[4])
		assert.Equal(t, []byte{0xca, 0xfe}, values[5])
		assert.Equal(t, uint16(0), values[6])
	})

	t.Run("EncodeRepay", func(t *testing.T) {
		data, err := provider.EncodeRepay(common.HexToAddress("0x01"), big.NewInt(1))
		require.NoError(t, err)
		assert.Len(t, data, 68)
	})
}

func TestAaveProviderRequiresPool(t *testing.T) {
	_, err := NewAaveProvider(nil)
	assert.Error(t, err)

	_, err = NewAaveProvider(&flashloan.ProviderConfig{})
	assert.Error(t, err)
}
