package utils

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// FormatEther renders a wei amount in ether with up to 6 decimals.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -18).Round(6).String()
}

// FormatGwei renders a wei amount in gwei with up to 2 decimals.
func FormatGwei(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -9).Round(2).String()
}
