// internal/event/records.go
package event

import (
	"math/big"

	"github.com/google/uuid"
)

// CollateralDeposited records a completed collateral deposit.
type CollateralDeposited struct {
	RequestID string
	UserID    uuid.UUID
	Asset     string
	Amount    *big.Int
}

func (d *CollateralDeposited) IdempotencyKey() string {
	return "deposit:" + d.RequestID
}

func (d *CollateralDeposited) EventType() EventType {
	return EventTypeCollateralDeposited
}

func (d *CollateralDeposited) AssetRef() *string {
	return &d.Asset
}

// CollateralRedeemed records a completed collateral withdrawal.
type CollateralRedeemed struct {
	RequestID string
	UserID    uuid.UUID
	Asset     string
	Amount    *big.Int
}

func (r *CollateralRedeemed) IdempotencyKey() string {
	return "redeem:" + r.RequestID
}

func (r *CollateralRedeemed) EventType() EventType {
	return EventTypeCollateralRedeemed
}

func (r *CollateralRedeemed) AssetRef() *string {
	return &r.Asset
}

// DebtMinted records newly issued liability tokens.
type DebtMinted struct {
	RequestID string
	UserID    uuid.UUID
	Amount    *big.Int
}

func (m *DebtMinted) IdempotencyKey() string {
	return "mint:" + m.RequestID
}

func (m *DebtMinted) EventType() EventType {
	return EventTypeDebtMinted
}

func (m *DebtMinted) AssetRef() *string {
	return nil // Liability-side event, no collateral context
}

// DebtBurned records repaid debt. Payer differs from UserID when a
// liquidator repays on the target's behalf.
type DebtBurned struct {
	RequestID string
	UserID    uuid.UUID
	Payer     uuid.UUID
	Amount    *big.Int
}

func (b *DebtBurned) IdempotencyKey() string {
	return "burn:" + b.RequestID
}

func (b *DebtBurned) EventType() EventType {
	return EventTypeDebtBurned
}

func (b *DebtBurned) AssetRef() *string {
	return nil
}

// PositionLiquidated records a completed liquidation: debt repaid by the
// liquidator and collateral seized from the target, bonus included.
type PositionLiquidated struct {
	RequestID    string
	TargetID     uuid.UUID
	LiquidatorID uuid.UUID
	Asset        string
	DebtCovered  *big.Int
	SeizedAmount *big.Int
	EndFactor    *big.Int
}

func (l *PositionLiquidated) IdempotencyKey() string {
	return "liquidate:" + l.RequestID
}

func (l *PositionLiquidated) EventType() EventType {
	return EventTypePositionLiquidated
}

func (l *PositionLiquidated) AssetRef() *string {
	return &l.Asset
}
