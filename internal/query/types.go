package query

import (
	"encoding/json"

	"github.com/google/uuid"
)

// CollateralBalance is one collateral asset held by a user. Amount is
// the raw wad string; AmountDecimal is the human-readable rendering.
type CollateralBalance struct {
	Asset         string `json:"asset"`
	Amount        string `json:"amount"`
	AmountDecimal string `json:"amount_decimal"`
}

// PositionResponse represents a user's vault position for API queries.
type PositionResponse struct {
	UserID       uuid.UUID           `json:"user_id"`
	Collateral   []CollateralBalance `json:"collateral"`
	Debt         string              `json:"debt"`
	DebtDecimal  string              `json:"debt_decimal"`
	AsOfSequence int64               `json:"as_of_sequence"`
}

// JournalHistoryEntry represents a journal entry for API queries.
// Amount is a decimal string; wad quantities overflow int64.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	AssetID       uint16 `json:"asset_id"`
	Amount        string `json:"amount"`
	JournalType   int32  `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// EventHistoryEntry represents an event log row for API queries.
// Payload is raw JSON, rendered inline rather than base64.
type EventHistoryEntry struct {
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	Asset          *string         `json:"asset,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	StateHash      string          `json:"state_hash"`
	PrevHash       string          `json:"prev_hash"`
	Timestamp      int64           `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
}

// UnbalancedAsset represents an asset with non-zero global balance sum.
type UnbalancedAsset struct {
	AssetID   uint16 `json:"asset_id"`
	Imbalance string `json:"imbalance"`
}
