package flashloan

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Provider encodes the calls that draw and repay a flash loan on one
// lending protocol.
type Provider interface {
	Name() string
	// Contract is the address both the draw and the repay call are sent to
	Contract() common.Address
	PremiumBps() uint64
	EncodeDraw(receiver, token common.Address, amount *big.Int, params []byte) ([]byte, error)
	EncodeRepay(token common.Address, amount *big.Int) ([]byte, error)
}
