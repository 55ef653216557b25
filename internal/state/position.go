package state

import (
	"math/big"

	"github.com/google/uuid"
)

// Position is a read-only view of one user's account: per-asset
// collateral quantities plus outstanding debt, all in wad fixed point.
// Accounts are implicit; a user with no history has an all-zero view.
type Position struct {
	UserID     uuid.UUID
	Collateral map[string]*big.Int
	Debt       *big.Int
}

// CollateralOf returns the deposited quantity for one asset (zero if none).
func (p *Position) CollateralOf(asset string) *big.Int {
	if amt, ok := p.Collateral[asset]; ok && amt != nil {
		return new(big.Int).Set(amt)
	}
	return big.NewInt(0)
}

// IsClear reports whether the position holds no collateral and no debt.
func (p *Position) IsClear() bool {
	if p.Debt != nil && p.Debt.Sign() != 0 {
		return false
	}
	for _, amt := range p.Collateral {
		if amt != nil && amt.Sign() != 0 {
			return false
		}
	}
	return true
}
