// Package fixed implements scaled-integer decimal arithmetic for prices and
// sizes. A raw value is an int64 scaled by 10^decimals; no float64 is used
// anywhere on the matching or settlement path.
package fixed

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

var (
	// ErrOverflow is returned when a result does not fit in an int64 raw.
	ErrOverflow = errors.New("fixed: value overflows int64 raw")
	// ErrNegative is returned when a size operation would go below zero.
	ErrNegative = errors.New("fixed: negative size result")
	// ErrScale is returned for an unsupported decimal scale.
	ErrScale = errors.New("fixed: decimals out of range")
)

// MaxDecimals bounds per-asset decimal scales (18 matches ERC-20 precision).
const MaxDecimals = 18

var pow10 = func() [MaxDecimals + 1]int64 {
	var t [MaxDecimals + 1]int64
	t[0] = 1
	for i := 1; i <= MaxDecimals; i++ {
		t[i] = t[i-1] * 10
	}
	return t
}()

// Pow10 returns 10^decimals as an int64 scale factor.
func Pow10(decimals int) int64 {
	if decimals < 0 || decimals > MaxDecimals {
		return 1
	}
	return pow10[decimals]
}

// HumanToRaw converts a human decimal value to its scaled int64 raw,
// truncating anything beyond the declared scale.
func HumanToRaw(v decimal.Decimal, decimals int) (int64, error) {
	if decimals < 0 || decimals > MaxDecimals {
		return 0, fmt.Errorf("%w: %d", ErrScale, decimals)
	}
	scaled := v.Shift(int32(decimals)).Truncate(0)
	bi := scaled.BigInt()
	if !bi.IsInt64() {
		return 0, fmt.Errorf("%w: %s at %d decimals", ErrOverflow, v, decimals)
	}
	return bi.Int64(), nil
}

// RawToHuman converts a scaled int64 raw back to a human decimal value.
func RawToHuman(raw int64, decimals int) decimal.Decimal {
	return decimal.New(raw, -int32(decimals))
}

// Add returns a+b, failing on int64 overflow.
func Add(a, b int64) (int64, error) {
	s := a + b
	if (a > 0 && b > 0 && s < 0) || (a < 0 && b < 0 && s > 0) {
		return 0, ErrOverflow
	}
	return s, nil
}

// SubSize returns a-b for sizes, rejecting negative results.
func SubSize(a, b int64) (int64, error) {
	if b > a {
		return 0, fmt.Errorf("%w: %d - %d", ErrNegative, a, b)
	}
	return a - b, nil
}

// Min returns the smaller of a and b.
func Min(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// MulScaled returns (a*b)/10^decimals with the 128-bit product carried in a
// big.Int, rounding half up. Used for notional = price*size at the price scale.
func MulScaled(a, b int64, decimals int) (int64, error) {
	if decimals < 0 || decimals > MaxDecimals {
		return 0, fmt.Errorf("%w: %d", ErrScale, decimals)
	}
	prod := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	return roundDiv(prod, big.NewInt(pow10[decimals]))
}

// DivScaled returns (a*10^decimals)/b rounding half up. Used for price
// derivation (e.g. quote/base ratios); b must be non-zero.
func DivScaled(a, b int64, decimals int) (int64, error) {
	if decimals < 0 || decimals > MaxDecimals {
		return 0, fmt.Errorf("%w: %d", ErrScale, decimals)
	}
	if b == 0 {
		return 0, errors.New("fixed: division by zero")
	}
	num := new(big.Int).Mul(big.NewInt(a), big.NewInt(pow10[decimals]))
	return roundDiv(num, big.NewInt(b))
}

// FloorToStep floors raw down to the nearest multiple of step (the asset's
// minimum tradable increment). A step of 0 or 1 is a no-op.
func FloorToStep(raw, step int64) int64 {
	if step <= 1 {
		return raw
	}
	return raw - raw%step
}

// roundDiv divides num by den rounding half away from zero.
func roundDiv(num, den *big.Int) (int64, error) {
	q, r := new(big.Int).QuoRem(num, den, new(big.Int))
	// r and num share sign; compare 2*|r| against |den|.
	r2 := new(big.Int).Abs(r)
	r2.Lsh(r2, 1)
	if r2.Cmp(new(big.Int).Abs(den)) >= 0 {
		if num.Sign()*den.Sign() >= 0 {
			q.Add(q, big.NewInt(1))
		} else {
			q.Sub(q, big.NewInt(1))
		}
	}
	if !q.IsInt64() {
		return 0, ErrOverflow
	}
	return q.Int64(), nil
}

// BigRoundDiv exposes round-half-up division on big.Ints for callers that
// stay in big-integer space (AMM reserve math).
func BigRoundDiv(num, den *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(num, den, new(big.Int))
	r2 := new(big.Int).Abs(r)
	r2.Lsh(r2, 1)
	if r2.Cmp(new(big.Int).Abs(den)) >= 0 {
		if num.Sign()*den.Sign() >= 0 {
			q.Add(q, big.NewInt(1))
		} else {
			q.Sub(q, big.NewInt(1))
		}
	}
	return q
}

// ClampInt64 reports whether v fits in int64 and returns it.
func ClampInt64(v *big.Int) (int64, error) {
	if !v.IsInt64() {
		return 0, ErrOverflow
	}
	return v.Int64(), nil
}

// MaxRaw is the largest representable raw value.
const MaxRaw = math.MaxInt64
