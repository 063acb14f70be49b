package bundle

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// executeArbitrage on the executor contract that trades a flash-loaned
// amount along path.
const executorABIJson = `[
	{
		"inputs": [
			{"internalType": "address[]", "name": "path", "type": "address[]"},
			{"internalType": "address[]", "name": "routers", "type": "address[]"},
			{"internalType": "uint256", "name": "amountIn", "type": "uint256"},
			{"internalType": "uint256", "name": "minProfit", "type": "uint256"}
		],
		"name": "executeArbitrage",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

// executeArbitrage on the combined contract that borrows, trades and repays
// in one call.
const combinedABIJson = `[
	{
		"inputs": [
			{"internalType": "address", "name": "token0", "type": "address"},
			{"internalType": "address", "name": "token1", "type": "address"},
			{"internalType": "uint256", "name": "amount0", "type": "uint256"},
			{"internalType": "uint256", "name": "amount1", "type": "uint256"},
			{"internalType": "uint24", "name": "fee", "type": "uint24"},
			{"internalType": "address[]", "name": "path", "type": "address[]"},
			{"internalType": "uint256[]", "name": "amounts", "type": "uint256[]"},
			{"internalType": "address[]", "name": "routers", "type": "address[]"}
		],
		"name": "executeArbitrage",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

var (
	executorABI = mustParseABI(executorABIJson)
	combinedABI = mustParseABI(combinedABIJson)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
