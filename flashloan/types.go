package flashloan

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Provider names accepted in configuration.
const (
	ProviderAave     = "aave"
	ProviderBalancer = "balancer"
)

// ProviderConfig locates a lending protocol.
type ProviderConfig struct {
	ContractAddress common.Address
	// PremiumBps is charged on the borrowed amount (1 = 0.01%)
	PremiumBps uint64
}

// Loan is a planned flash loan with both legs encoded.
type Loan struct {
	Provider  string
	Contract  common.Address
	Token     common.Address
	Amount    *big.Int
	Premium   *big.Int
	DrawData  []byte
	RepayData []byte
}

// Owed is the amount plus premium.
func (l *Loan) Owed() *big.Int {
	return new(big.Int).Add(l.Amount, l.Premium)
}

// Premium returns amount * bps / 10000.
func Premium(amount *big.Int, bps uint64) *big.Int {
	fee := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return fee.Div(fee, big.NewInt(10_000))
}

var (
	abiUint256, _ = abi.NewType("uint256", "", nil)
	abiAddress, _ = abi.NewType("address", "", nil)

	repayArgs     = abi.Arguments{{Type: abiAddress}, {Type: abiUint256}}
	repaySelector = crypto.Keccak256([]byte("repayFlashLoan(address,uint256)"))[:4]
)

// EncodeRepay packs repayFlashLoan(token, amount).
func EncodeRepay(token common.Address, amount *big.Int) ([]byte, error) {
	packed, err := repayArgs.Pack(token, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to pack repayFlashLoan: %w", err)
	}
	return append(common.CopyBytes(repaySelector), packed...), nil
}
