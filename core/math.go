package core

import (
	"fmt"
	"math"
	"math/bits"
)

// AddAmount returns a+b or an error when the sum overflows uint64.
func AddAmount(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, fmt.Errorf("amount overflow: %d + %d: %w", a, b, ErrInvalidParams)
	}
	return sum, nil
}

// MulDiv returns a*num/den computed in 128 bits, truncating.
func MulDiv(a, num, den uint64) uint64 {
	if den == 0 {
		return 0
	}
	hi, lo := bits.Mul64(a, num)
	if hi >= den {
		return math.MaxUint64
	}
	q, _ := bits.Div64(hi, lo, den)
	return q
}

// Bps returns amount * bps / 10000.
func Bps(amount, bps uint64) uint64 {
	return MulDiv(amount, bps, 10_000)
}

// Pct returns amount * pct / 100.
func Pct(amount, pct uint64) uint64 {
	return MulDiv(amount, pct, 100)
}
