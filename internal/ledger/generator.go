package ledger

import (
	"math/big"

	"github.com/google/uuid"
)

// JournalGenerator creates balanced journal batches for engine operations.
//
// Collateral moves between user:collateral and external:deposits (the
// boundary account for tokens held in engine custody); debt moves between
// user:debt and system:issued (the counterweight for liability tokens in
// circulation). Every batch is zero-sum per asset by construction.
type JournalGenerator struct {
	sequence int64
}

func NewJournalGenerator(startSequence int64) *JournalGenerator {
	return &JournalGenerator{sequence: startSequence}
}

// SetSequence resets the generator's sequence (snapshot restore).
func (jg *JournalGenerator) SetSequence(seq int64) {
	jg.sequence = seq
}

func (jg *JournalGenerator) newBatch(eventRef string, timestamp int64) *Batch {
	return &Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, 1),
	}
}

func (jg *JournalGenerator) appendJournal(b *Batch, debit, credit AccountKey, assetID AssetID, amount *big.Int, jt JournalType) {
	b.Journals = append(b.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       b.BatchID,
		EventRef:      b.EventRef,
		Sequence:      b.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		AssetID:       assetID,
		Amount:        new(big.Int).Set(amount),
		JournalType:   jt,
		Timestamp:     b.Timestamp,
	})
}

// Deposit records collateral entering custody: external:deposits → user:collateral.
func (jg *JournalGenerator) Deposit(userID uuid.UUID, assetID AssetID, amount *big.Int, eventRef string, timestamp int64) *Batch {
	batch := jg.newBatch(eventRef, timestamp)
	jg.appendJournal(batch,
		NewUserAccountKey(userID, SubTypeCollateral, assetID),
		NewExternalAccountKey(SubTypeExternalDeposits, assetID),
		assetID, amount, JournalTypeDeposit)
	jg.sequence++
	return batch
}

// Withdrawal records collateral leaving custody: user:collateral → external:deposits.
func (jg *JournalGenerator) Withdrawal(userID uuid.UUID, assetID AssetID, amount *big.Int, eventRef string, timestamp int64) *Batch {
	batch := jg.newBatch(eventRef, timestamp)
	jg.appendJournal(batch,
		NewExternalAccountKey(SubTypeExternalDeposits, assetID),
		NewUserAccountKey(userID, SubTypeCollateral, assetID),
		assetID, amount, JournalTypeWithdrawal)
	jg.sequence++
	return batch
}

// Seize is a withdrawal forced by liquidation. Same accounts as
// Withdrawal; the distinct journal type keeps liquidations auditable.
func (jg *JournalGenerator) Seize(userID uuid.UUID, assetID AssetID, amount *big.Int, eventRef string, timestamp int64) *Batch {
	batch := jg.newBatch(eventRef, timestamp)
	jg.appendJournal(batch,
		NewExternalAccountKey(SubTypeExternalDeposits, assetID),
		NewUserAccountKey(userID, SubTypeCollateral, assetID),
		assetID, amount, JournalTypeSeize)
	jg.sequence++
	return batch
}

// DebtMint records new liability issuance attributed to the user.
func (jg *JournalGenerator) DebtMint(userID uuid.UUID, liabilityID AssetID, amount *big.Int, eventRef string, timestamp int64) *Batch {
	batch := jg.newBatch(eventRef, timestamp)
	jg.appendJournal(batch,
		NewUserAccountKey(userID, SubTypeDebt, liabilityID),
		NewSystemAccountKey(SubTypeSystemIssued, liabilityID),
		liabilityID, amount, JournalTypeDebtMint)
	jg.sequence++
	return batch
}

// DebtBurn records debt retirement. onBehalfOf is the account whose debt
// decreases, which during liquidation is not the account that paid.
func (jg *JournalGenerator) DebtBurn(onBehalfOf uuid.UUID, liabilityID AssetID, amount *big.Int, eventRef string, timestamp int64) *Batch {
	batch := jg.newBatch(eventRef, timestamp)
	jg.appendJournal(batch,
		NewSystemAccountKey(SubTypeSystemIssued, liabilityID),
		NewUserAccountKey(onBehalfOf, SubTypeDebt, liabilityID),
		liabilityID, amount, JournalTypeDebtBurn)
	jg.sequence++
	return batch
}
