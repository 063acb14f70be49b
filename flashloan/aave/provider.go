package aave

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/backrunner/flashloan"
)

// AaveV2 LendingPool flashLoan
const aaveV2ABI = `[
	{
		"inputs": [
			{"internalType": "address", "name": "receiverAddress", "type": "address"},
			{"internalType": "address[]", "name": "assets", "type": "address[]"},
			{"internalType": "uint256[]", "name": "amounts", "type": "uint256[]"},
			{"internalType": "uint256[]", "name": "modes", "type": "uint256[]"},
			{"internalType": "address", "name": "onBehalfOf", "type": "address"},
			{"internalType": "bytes", "name": "params", "type": "bytes"},
			{"internalType": "uint16", "name": "referralCode", "type": "uint16"}
		],
		"name": "flashLoan",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

// DefaultPremiumBps is the V2 pool premium of 0.09%.
const DefaultPremiumBps = 9

// modeNoDebt repays within the transaction instead of opening a position.
var modeNoDebt = big.NewInt(0)

// AaveProvider draws flash loans from an Aave V2 LendingPool.
type AaveProvider struct {
	config *flashloan.ProviderConfig
	abi    abi.ABI
}

func NewAaveProvider(config *flashloan.ProviderConfig) (*AaveProvider, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.ContractAddress == (common.Address{}) {
		return nil, fmt.Errorf("lending pool address is required")
	}

	parsedABI, err := abi.JSON(strings.NewReader(aaveV2ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}
	return &AaveProvider{config: config, abi: parsedABI}, nil
}

func (p *AaveProvider) Name() string              { return flashloan.ProviderAave }
func (p *AaveProvider) Contract() common.Address { return p.config.ContractAddress }
func (p *AaveProvider) PremiumBps() uint64       { return p.config.PremiumBps }

// EncodeDraw packs a single-asset flashLoan that receiver repays in the
// same transaction.
func (p *AaveProvider) EncodeDraw(receiver, token common.Address, amount *big.Int, params []byte) ([]byte, error) {
	callData, err := p.abi.Pack("flashLoan",
		receiver,
		[]common.Address{token},
		[]*big.Int{amount},
		[]*big.Int{modeNoDebt},
		receiver,
		params,
		uint16(0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to pack flash loan data: %w", err)
	}
	return callData, nil
}

func (p *AaveProvider) EncodeRepay(token common.Address, amount *big.Int) ([]byte, error) {
	return flashloan.EncodeRepay(token, amount)
}
