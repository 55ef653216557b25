package ledger_test

import (
	"math/big"
	"testing"

	"StableVault/internal/ledger"
	fpmath "StableVault/internal/math"

	"github.com/google/uuid"
)

func registerTestAssets(t *testing.T) {
	t.Helper()
	ledger.RegisterAssets("SVD", []string{"WETH", "WBTC"})
}

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_UserPath(t *testing.T) {
	registerTestAssets(t)
	userID := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	assetID, _ := ledger.GetAssetID("WETH")
	key := ledger.NewUserAccountKey(userID, ledger.SubTypeCollateral, assetID)

	path := key.AccountPath()
	expected := "user:550e8400-e29b-41d4-a716-446655440000:collateral:WETH"
	if path != expected {
		t.Errorf("got %q, want %q", path, expected)
	}
}

func TestAccountKey_SystemPath(t *testing.T) {
	registerTestAssets(t)
	liabilityID, _ := ledger.GetAssetID("SVD")
	key := ledger.NewSystemAccountKey(ledger.SubTypeSystemIssued, liabilityID)

	if path := key.AccountPath(); path != "system:issued:SVD" {
		t.Errorf("got %q, want %q", path, "system:issued:SVD")
	}
}

func TestAccountKey_ExternalPath(t *testing.T) {
	registerTestAssets(t)
	assetID, _ := ledger.GetAssetID("WBTC")
	key := ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, assetID)

	if path := key.AccountPath(); path != "external:deposits:WBTC" {
		t.Errorf("got %q, want %q", path, "external:deposits:WBTC")
	}
}

func TestParseAccountPath_RoundTrip(t *testing.T) {
	registerTestAssets(t)
	userID := uuid.New()
	wethID, _ := ledger.GetAssetID("WETH")
	svdID, _ := ledger.GetAssetID("SVD")

	keys := []ledger.AccountKey{
		ledger.NewUserAccountKey(userID, ledger.SubTypeCollateral, wethID),
		ledger.NewUserAccountKey(userID, ledger.SubTypeDebt, svdID),
		ledger.NewSystemAccountKey(ledger.SubTypeSystemIssued, svdID),
		ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, wethID),
	}

	for _, key := range keys {
		parsed, err := ledger.ParseAccountPath(key.AccountPath())
		if err != nil {
			t.Fatalf("ParseAccountPath(%q): %v", key.AccountPath(), err)
		}
		if parsed != key {
			t.Errorf("round trip mismatch for %q", key.AccountPath())
		}
	}
}

func TestParseAccountPath_Invalid(t *testing.T) {
	registerTestAssets(t)
	for _, path := range []string{"", "user:nope", "user:not-a-uuid:collateral:WETH", "system:collateral", "external:deposits:DOGE"} {
		if _, err := ledger.ParseAccountPath(path); err == nil {
			t.Errorf("ParseAccountPath(%q) should fail", path)
		}
	}
}

// ============================================================================
// Test: JournalGenerator + BalanceTracker
// ============================================================================

func TestGenerator_DepositMovesCollateralIntoUserAccount(t *testing.T) {
	registerTestAssets(t)
	userID := uuid.New()
	wethID, _ := ledger.GetAssetID("WETH")

	gen := ledger.NewJournalGenerator(0)
	tracker := ledger.NewBalanceTracker()

	batch := gen.Deposit(userID, wethID, fpmath.Wad(10), "req-1", 1000)
	if err := tracker.ApplyBatch(batch); err != nil {
		t.Fatalf("ApplyBatch: %v", err)
	}

	got := tracker.GetCollateralBalance(userID, wethID)
	if got.Cmp(fpmath.Wad(10)) != 0 {
		t.Errorf("collateral = %s, want %s", got, fpmath.Wad(10))
	}

	ext := tracker.GetBalance(ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, wethID))
	if ext.Cmp(new(big.Int).Neg(fpmath.Wad(10))) != 0 {
		t.Errorf("external counterweight = %s, want %s", ext, new(big.Int).Neg(fpmath.Wad(10)))
	}
}

func TestGenerator_MintThenBurnClearsDebt(t *testing.T) {
	registerTestAssets(t)
	userID := uuid.New()
	svdID, _ := ledger.GetAssetID("SVD")

	gen := ledger.NewJournalGenerator(0)
	tracker := ledger.NewBalanceTracker()

	if err := tracker.ApplyBatch(gen.DebtMint(userID, svdID, fpmath.Wad(500), "req-1", 1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := tracker.ApplyBatch(gen.DebtBurn(userID, svdID, fpmath.Wad(500), "req-2", 1001)); err != nil {
		t.Fatalf("burn: %v", err)
	}

	if debt := tracker.GetDebtBalance(userID, svdID); debt.Sign() != 0 {
		t.Errorf("debt = %s, want 0", debt)
	}
}

func TestTracker_UnapplyBatchRestoresBalances(t *testing.T) {
	registerTestAssets(t)
	userID := uuid.New()
	wethID, _ := ledger.GetAssetID("WETH")

	gen := ledger.NewJournalGenerator(0)
	tracker := ledger.NewBalanceTracker()

	if err := tracker.ApplyBatch(gen.Deposit(userID, wethID, fpmath.Wad(3), "seed", 1)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	before := tracker.Snapshot()

	batch := gen.Withdrawal(userID, wethID, fpmath.Wad(2), "wd", 2)
	if err := tracker.ApplyBatch(batch); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	tracker.UnapplyBatch(batch)

	after := tracker.Snapshot()
	if len(after) != len(before) {
		t.Fatalf("account count changed: %d -> %d", len(before), len(after))
	}
	for key, want := range before {
		if got, ok := after[key]; !ok || got.Cmp(want) != 0 {
			t.Errorf("balance %s = %s, want %s", key.AccountPath(), got, want)
		}
	}
}

func TestTracker_ZeroSumAcrossOperations(t *testing.T) {
	registerTestAssets(t)
	userID := uuid.New()
	wethID, _ := ledger.GetAssetID("WETH")
	svdID, _ := ledger.GetAssetID("SVD")

	gen := ledger.NewJournalGenerator(0)
	tracker := ledger.NewBalanceTracker()
	validator := ledger.NewInvariantValidator(tracker)

	batches := []*ledger.Batch{
		gen.Deposit(userID, wethID, fpmath.Wad(10), "a", 1),
		gen.DebtMint(userID, svdID, fpmath.Wad(5_000), "b", 2),
		gen.Withdrawal(userID, wethID, fpmath.Wad(1), "c", 3),
		gen.DebtBurn(userID, svdID, fpmath.Wad(1_000), "d", 4),
		gen.Seize(userID, wethID, fpmath.Wad(2), "e", 5),
	}

	for _, batch := range batches {
		if err := tracker.ApplyBatch(batch); err != nil {
			t.Fatalf("ApplyBatch(%s): %v", batch.EventRef, err)
		}
		if err := validator.ValidateGlobalBalance(); err != nil {
			t.Fatalf("zero-sum broken after %s: %v", batch.EventRef, err)
		}
	}
}

func TestTracker_ValidateSufficientCollateral(t *testing.T) {
	registerTestAssets(t)
	userID := uuid.New()
	wethID, _ := ledger.GetAssetID("WETH")

	gen := ledger.NewJournalGenerator(0)
	tracker := ledger.NewBalanceTracker()
	if err := tracker.ApplyBatch(gen.Deposit(userID, wethID, fpmath.Wad(5), "seed", 1)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := tracker.ValidateSufficientCollateral(userID, wethID, fpmath.Wad(5)); err != nil {
		t.Errorf("exact balance should pass: %v", err)
	}
	if err := tracker.ValidateSufficientCollateral(userID, wethID, fpmath.Wad(6)); err == nil {
		t.Error("over-balance should fail")
	}
}

// ============================================================================
// Test: Batch validation
// ============================================================================

func TestBatch_RejectsNonPositiveAmount(t *testing.T) {
	registerTestAssets(t)
	userID := uuid.New()
	wethID, _ := ledger.GetAssetID("WETH")

	batchID := uuid.New()
	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			DebitAccount:  ledger.NewUserAccountKey(userID, ledger.SubTypeCollateral, wethID),
			CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, wethID),
			AssetID:       wethID,
			Amount:        big.NewInt(0),
		}},
	}

	if err := batch.Validate(); err == nil {
		t.Error("zero amount should fail validation")
	}

	batch.Journals[0].Amount = nil
	if err := batch.Validate(); err == nil {
		t.Error("nil amount should fail validation")
	}
}

func TestBatch_RejectsSelfTransfer(t *testing.T) {
	registerTestAssets(t)
	userID := uuid.New()
	wethID, _ := ledger.GetAssetID("WETH")
	key := ledger.NewUserAccountKey(userID, ledger.SubTypeCollateral, wethID)

	batchID := uuid.New()
	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			DebitAccount:  key,
			CreditAccount: key,
			AssetID:       wethID,
			Amount:        fpmath.Wad(1),
		}},
	}

	if err := batch.Validate(); err == nil {
		t.Error("self-transfer should fail validation")
	}
}

func TestBatch_RejectsMismatchedBatchID(t *testing.T) {
	registerTestAssets(t)
	userID := uuid.New()
	wethID, _ := ledger.GetAssetID("WETH")

	batch := &ledger.Batch{
		BatchID: uuid.New(),
		Journals: []ledger.Journal{{
			JournalID:     uuid.New(),
			BatchID:       uuid.New(), // wrong batch
			DebitAccount:  ledger.NewUserAccountKey(userID, ledger.SubTypeCollateral, wethID),
			CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, wethID),
			AssetID:       wethID,
			Amount:        fpmath.Wad(1),
		}},
	}

	if err := batch.Validate(); err == nil {
		t.Error("mismatched batch_id should fail validation")
	}
}
