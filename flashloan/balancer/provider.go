package balancer

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/backrunner/flashloan"
)

// VaultAddress is the same on every chain Balancer V2 is deployed to.
const VaultAddress = "0xBA12222222228d8Ba445958a75a0704d566BF2C8"

// Provider draws fee-free flash loans from the Balancer V2 Vault.
type Provider struct {
	vault common.Address
}

func NewProvider(vault common.Address) (*Provider, error) {
	if vault == (common.Address{}) {
		return nil, fmt.Errorf("vault address is required")
	}
	return &Provider{vault: vault}, nil
}

func (p *Provider) Name() string              { return flashloan.ProviderBalancer }
func (p *Provider) Contract() common.Address { return p.vault }

// PremiumBps is zero; the Vault charges no flash loan fee.
func (p *Provider) PremiumBps() uint64 { return 0 }

func (p *Provider) EncodeDraw(receiver, token common.Address, amount *big.Int, params []byte) ([]byte, error) {
	data, err := vaultABI.Pack("flashLoan", receiver, []common.Address{token}, []*big.Int{amount}, params)
	if err != nil {
		return nil, fmt.Errorf("failed to pack flash loan data: %w", err)
	}
	return data, nil
}

func (p *Provider) EncodeRepay(token common.Address, amount *big.Int) ([]byte, error) {
	return flashloan.EncodeRepay(token, amount)
}

var vaultABI = mustParse(`[
	{
		"inputs": [
			{"internalType": "contract IFlashLoanRecipient", "name": "recipient", "type": "address"},
			{"internalType": "contract IERC20[]", "name": "tokens", "type": "address[]"},
			{"internalType": "uint256[]", "name": "amounts", "type": "uint256[]"},
			{"internalType": "bytes", "name": "userData", "type": "bytes"}
		],
		"name": "flashLoan",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`)

func mustParse(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
