package decoder

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Kind tags the call shape a SwapAction was decoded from.
type Kind int

const (
	KindUnknown Kind = iota
	KindExactTokensForTokens
	KindExactTokensForETH
	KindExactETHForTokens
	KindTokensForExactTokens
	KindTokensForExactETH
	KindETHForExactTokens
	KindExactTokensForTokensFeeOnTransfer
	KindExactETHForTokensFeeOnTransfer
	KindExactTokensForETHFeeOnTransfer
	KindExactInputSingle
	KindExactOutputSingle
)

var kindNames = map[Kind]string{
	KindExactTokensForTokens:              "SwapExactTokensForTokens",
	KindExactTokensForETH:                 "SwapExactTokensForETH",
	KindExactETHForTokens:                 "SwapExactETHForTokens",
	KindTokensForExactTokens:              "SwapTokensForExactTokens",
	KindTokensForExactETH:                 "SwapTokensForExactETH",
	KindETHForExactTokens:                 "SwapETHForExactTokens",
	KindExactTokensForTokensFeeOnTransfer: "SwapExactTokensForTokensSupportingFeeOnTransferTokens",
	KindExactETHForTokensFeeOnTransfer:    "SwapExactETHForTokensSupportingFeeOnTransferTokens",
	KindExactTokensForETHFeeOnTransfer:    "SwapExactTokensForETHSupportingFeeOnTransferTokens",
	KindExactInputSingle:                  "ExactInputSingle",
	KindExactOutputSingle:                 "ExactOutputSingle",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "Unknown"
}

// ExactInput reports whether the input amount is fixed and the output bounded.
func (k Kind) ExactInput() bool {
	switch k {
	case KindTokensForExactTokens, KindTokensForExactETH, KindETHForExactTokens, KindExactOutputSingle:
		return false
	}
	return true
}

// NativeIn reports whether the input leg is paid with the transaction value.
func (k Kind) NativeIn() bool {
	return k == KindExactETHForTokens || k == KindETHForExactTokens || k == KindExactETHForTokensFeeOnTransfer
}

// FeeOnTransfer reports whether the router tolerates taxed tokens.
func (k Kind) FeeOnTransfer() bool {
	switch k {
	case KindExactTokensForTokensFeeOnTransfer, KindExactETHForTokensFeeOnTransfer, KindExactTokensForETHFeeOnTransfer:
		return true
	}
	return false
}

// SwapAction is a decoded router swap. Exact-input kinds set AmountIn and
// AmountOutMin; exact-output kinds set AmountOut and AmountInMax.
type SwapAction struct {
	Kind         Kind
	Router       common.Address
	AmountIn     *big.Int
	AmountOutMin *big.Int
	AmountOut    *big.Int
	AmountInMax  *big.Int
	Path         []common.Address
	Recipient    common.Address
	Deadline     *big.Int
	// Fee is the pool fee tier in hundredths of a bip, only set for
	// concentrated-liquidity swaps.
	Fee uint32
}

func (a *SwapAction) TokenIn() common.Address {
	return a.Path[0]
}

func (a *SwapAction) TokenOut() common.Address {
	return a.Path[len(a.Path)-1]
}

// InputBound is the most the swap can spend: AmountIn for exact-input
// kinds, AmountInMax otherwise.
func (a *SwapAction) InputBound() *big.Int {
	if a.Kind.ExactInput() {
		return a.AmountIn
	}
	return a.AmountInMax
}
