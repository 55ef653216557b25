package query

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// QueryService provides read-only access to projection tables. All
// responses include as_of_sequence so callers can reason about
// freshness relative to the engine; live reads go to the engine itself.
type QueryService struct {
	db              *sql.DB
	liabilitySymbol string
}

func NewQueryService(db *sql.DB, liabilitySymbol string) *QueryService {
	return &QueryService{db: db, liabilitySymbol: liabilitySymbol}
}

// GetPosition returns a user's projected position: per-asset collateral
// balances and outstanding debt, read from projections.balances.
func (qs *QueryService) GetPosition(
	ctx context.Context,
	userID uuid.UUID,
) (*PositionResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	prefix := fmt.Sprintf("user:%s:%%", userID)
	rows, err := qs.db.QueryContext(ctx, `
		SELECT account_path, balance::TEXT
		FROM projections.balances
		WHERE account_path LIKE $1 AND balance != 0
		ORDER BY account_path
	`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resp := &PositionResponse{
		UserID:       userID,
		Collateral:   []CollateralBalance{},
		Debt:         "0",
		DebtDecimal:  "0",
		AsOfSequence: asOfSeq,
	}

	for rows.Next() {
		var path, balance string
		if err := rows.Scan(&path, &balance); err != nil {
			return nil, err
		}

		// Paths look like user:<uuid>:collateral:<ASSET> or user:<uuid>:debt:<SYMBOL>
		parts := strings.Split(path, ":")
		if len(parts) != 4 {
			continue
		}

		switch parts[2] {
		case "collateral":
			resp.Collateral = append(resp.Collateral, CollateralBalance{
				Asset:         parts[3],
				Amount:        balance,
				AmountDecimal: renderWad(balance),
			})
		case "debt":
			if parts[3] == qs.liabilitySymbol {
				resp.Debt = balance
				resp.DebtDecimal = renderWad(balance)
			}
		}
	}

	return resp, rows.Err()
}

// GetJournalHistory returns journal entries touching a user's accounts,
// newest first, with cursor-based pagination.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	userID uuid.UUID,
	limit int,
	afterSequence *int64,
) ([]JournalHistoryEntry, error) {
	accountPrefix := fmt.Sprintf("user:%s:%%", userID)

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset_id, amount::TEXT, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.AssetID, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// GetEventHistory returns event log rows, newest first, with
// cursor-based pagination. Optionally filtered by event type.
func (qs *QueryService) GetEventHistory(
	ctx context.Context,
	eventType *string,
	limit int,
	afterSequence *int64,
) ([]EventHistoryEntry, error) {
	query := `
		SELECT sequence, event_type, idempotency_key, asset, payload,
		       state_hash, prev_hash, EXTRACT(EPOCH FROM timestamp)::BIGINT
		FROM event_log.events
		WHERE TRUE
	`
	var args []interface{}
	argIdx := 1

	if eventType != nil {
		query += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, *eventType)
		argIdx++
	}

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []EventHistoryEntry
	for rows.Next() {
		var e EventHistoryEntry
		var stateHash, prevHash []byte
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.Asset,
			&e.Payload, &stateHash, &prevHash, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		e.StateHash = hex.EncodeToString(stateHash)
		e.PrevHash = hex.EncodeToString(prevHash)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity in the event log and the
// zero-sum balance invariant in the projections.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	// Check hash chain continuity
	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash != e2.state_hash
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Every journal moves value between two accounts, so balances must
	// sum to zero per asset across all accounts
	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT asset_id, SUM(balance)::TEXT AS total
		FROM projections.balances
		GROUP BY asset_id
		HAVING SUM(balance) != 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var assetID uint16
		var total string
		if err := balanceRows.Scan(&assetID, &total); err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, UnbalancedAsset{
			AssetID:   assetID,
			Imbalance: total,
		})
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedAssets) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

// renderWad converts a raw 18-decimal integer string into a
// human-readable decimal, e.g. "1500000000000000000" -> "1.5".
func renderWad(raw string) string {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return raw
	}
	return d.Shift(-18).String()
}
