package math

import "math/big"

var (
	liquidationThreshold = big.NewInt(LiquidationThreshold)
	liquidationPrecision = big.NewInt(LiquidationPrecision)
)

// HealthFactor maps (debt, collateralValue) to a wad solvency ratio.
//
// Zero debt is vacuously solvent and returns MaxHealthFactor regardless
// of collateral. Otherwise only LiquidationThreshold percent of the
// nominal collateral value counts:
//
//	ratio = (collateralValue * 50 / 100) * 1e18 / debt
//
// Both inputs are wad. Nil is treated as zero.
func HealthFactor(debt, collateralValue *big.Int) *big.Int {
	if debt == nil || debt.Sign() == 0 {
		return new(big.Int).Set(MaxHealthFactor)
	}
	if collateralValue == nil {
		return big.NewInt(0)
	}
	adjusted := MulDiv(collateralValue, liquidationThreshold, liquidationPrecision)
	return MulDiv(adjusted, Precision, debt)
}

// IsHealthy reports whether a ratio satisfies the solvency minimum.
func IsHealthy(ratio *big.Int) bool {
	return ratio != nil && ratio.Cmp(MinHealthFactor) >= 0
}
