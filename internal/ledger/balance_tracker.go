package ledger

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// BalanceTracker maintains in-memory account balances.
// Not thread-safe — only accessed under the engine mutex.
type BalanceTracker struct {
	balances map[AccountKey]*big.Int
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]*big.Int),
	}
}

func (bt *BalanceTracker) balance(key AccountKey) *big.Int {
	if b, ok := bt.balances[key]; ok {
		return b
	}
	b := new(big.Int)
	bt.balances[key] = b
	return b
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	debit := bt.balance(j.DebitAccount)
	debit.Add(debit, j.Amount)
	credit := bt.balance(j.CreditAccount)
	credit.Sub(credit, j.Amount)
}

// UnapplyJournal reverses a previously applied journal entry.
func (bt *BalanceTracker) UnapplyJournal(j Journal) {
	debit := bt.balance(j.DebitAccount)
	debit.Sub(debit, j.Amount)
	credit := bt.balance(j.CreditAccount)
	credit.Add(credit, j.Amount)
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// UnapplyBatch reverses an applied batch, restoring pre-batch balances.
// The batch is assumed valid (it was applied); entries reverse in any
// order since each is an independent transfer.
func (bt *BalanceTracker) UnapplyBatch(batch *Batch) {
	for _, j := range batch.Journals {
		bt.UnapplyJournal(j)
	}
}

// GetBalance returns a copy of the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) *big.Int {
	if b, ok := bt.balances[key]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// SetBalance overwrites an account balance (snapshot restore only).
func (bt *BalanceTracker) SetBalance(key AccountKey, v *big.Int) {
	bt.balances[key] = new(big.Int).Set(v)
}

// === User Balance Queries ===

// GetCollateralBalance returns the user's deposited quantity of one asset.
func (bt *BalanceTracker) GetCollateralBalance(userID uuid.UUID, assetID AssetID) *big.Int {
	return bt.GetBalance(NewUserAccountKey(userID, SubTypeCollateral, assetID))
}

// GetDebtBalance returns the user's outstanding debt in the liability token.
func (bt *BalanceTracker) GetDebtBalance(userID uuid.UUID, liabilityID AssetID) *big.Int {
	return bt.GetBalance(NewUserAccountKey(userID, SubTypeDebt, liabilityID))
}

// ValidateSufficientCollateral checks the user can cover a withdrawal.
func (bt *BalanceTracker) ValidateSufficientCollateral(userID uuid.UUID, assetID AssetID, required *big.Int) error {
	have := bt.GetCollateralBalance(userID, assetID)
	if have.Cmp(required) < 0 {
		return fmt.Errorf("insufficient collateral: have=%s, need=%s", have, required)
	}
	return nil
}

// === Invariant Checks ===

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	if b, ok := bt.balances[key]; ok && b.Sign() < 0 {
		return fmt.Errorf("account %s has negative balance: %s", key.AccountPath(), b)
	}
	return nil
}

// ComputeGlobalBalance sums all account balances (zero for every asset
// in a zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]*big.Int {
	totals := make(map[AssetID]*big.Int)

	for key, balance := range bt.balances {
		total, ok := totals[key.AssetID]
		if !ok {
			total = new(big.Int)
			totals[key.AssetID] = total
		}
		total.Add(total, balance)
	}

	return totals
}

// Snapshot returns a deep copy of all balances (for state hashing and
// snapshot persistence)
func (bt *BalanceTracker) Snapshot() map[AccountKey]*big.Int {
	snapshot := make(map[AccountKey]*big.Int, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = new(big.Int).Set(v)
	}
	return snapshot
}
