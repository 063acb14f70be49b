package dex

import "math/big"

var bpsDenominator = big.NewInt(10_000)

// GetAmountOut is the constant-product output for amountIn after a fee of
// feeBps.
func GetAmountOut(amountIn, reserveIn, reserveOut *big.Int, feeBps uint64) *big.Int {
	if amountIn.Sign() <= 0 || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return new(big.Int)
	}

	amountInWithFee := new(big.Int).Mul(amountIn, new(big.Int).SetUint64(10_000-feeBps))
	numerator := new(big.Int).Mul(amountInWithFee, reserveOut)
	denominator := new(big.Int).Add(new(big.Int).Mul(reserveIn, bpsDenominator), amountInWithFee)
	return numerator.Div(numerator, denominator)
}

// GetAmountIn is the constant-product input needed to receive amountOut.
// It returns nil when the pool cannot supply amountOut.
func GetAmountIn(amountOut, reserveIn, reserveOut *big.Int, feeBps uint64) *big.Int {
	if amountOut.Sign() <= 0 || reserveIn.Sign() <= 0 || amountOut.Cmp(reserveOut) >= 0 {
		return nil
	}

	numerator := new(big.Int).Mul(new(big.Int).Mul(reserveIn, amountOut), bpsDenominator)
	denominator := new(big.Int).Mul(new(big.Int).Sub(reserveOut, amountOut), new(big.Int).SetUint64(10_000-feeBps))
	amountIn := numerator.Div(numerator, denominator)
	return amountIn.Add(amountIn, big.NewInt(1))
}

// SpotAmountOut values amountIn at the pool's marginal price, with no fee
// and no price movement.
func SpotAmountOut(amountIn, reserveIn, reserveOut *big.Int) *big.Int {
	if reserveIn.Sign() <= 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(amountIn, reserveOut)
	return out.Div(out, reserveIn)
}

// ApplyBps returns amount * bps / 10000.
func ApplyBps(amount *big.Int, bps uint64) *big.Int {
	out := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return out.Div(out, bpsDenominator)
}
