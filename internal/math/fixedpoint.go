package math

import "math/big"

// All engine quantities and values are unsigned 18-decimal fixed point
// ("wad"), carried as *big.Int so double-width intermediate products
// never overflow. 10 ETH in wad is 1e19, already past int64 range.

const (
	// WadDecimals is the engine-internal fixed-point precision.
	WadDecimals = 18

	// LiquidationThreshold is the percentage of nominal collateral value
	// that counts toward solvency. 50 means a position must hold at least
	// twice its debt in collateral value.
	LiquidationThreshold = 50

	// LiquidationPrecision is the denominator for threshold and bonus math.
	LiquidationPrecision = 100

	// LiquidationBonus is the liquidator's incentive, as a percentage of
	// the covered debt's collateral-quantity equivalent.
	LiquidationBonus = 10
)

var (
	// Precision is 10^18, the wad scale factor.
	Precision = new(big.Int).Exp(big.NewInt(10), big.NewInt(WadDecimals), nil)

	// MinHealthFactor is 1.0 in wad. Ratios at or above it are solvent.
	MinHealthFactor = new(big.Int).Set(Precision)

	// MaxHealthFactor is the sentinel ratio for debt-free positions
	// (2^256 - 1, the largest amount the ledger can represent).
	MaxHealthFactor = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

// Wad converts a whole-unit count into wad fixed point.
func Wad(units int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(units), Precision)
}

// MulDiv computes a * b / denom with a full-width intermediate product.
// The quotient truncates toward zero. denom must be non-zero.
func MulDiv(a, b, denom *big.Int) *big.Int {
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, denom)
}
