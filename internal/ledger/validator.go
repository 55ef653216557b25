package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateUserCollateralNonNegative checks user collateral >= 0
func (v *InvariantValidator) ValidateUserCollateralNonNegative(userID uuid.UUID, assetID AssetID) error {
	key := NewUserAccountKey(userID, SubTypeCollateral, assetID)
	return v.tracker.ValidateNonNegative(key)
}

// ValidateUserDebtNonNegative checks user debt >= 0 (burn never exceeds debt)
func (v *InvariantValidator) ValidateUserDebtNonNegative(userID uuid.UUID, liabilityID AssetID) error {
	key := NewUserAccountKey(userID, SubTypeDebt, liabilityID)
	return v.tracker.ValidateNonNegative(key)
}

// ValidateGlobalBalance verifies the ledger is zero-sum per asset
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for assetID, total := range totals {
		if total.Sign() != 0 {
			assetName, _ := GetAssetName(assetID)
			return fmt.Errorf("global balance for %s is non-zero: %s", assetName, total)
		}
	}

	return nil
}
