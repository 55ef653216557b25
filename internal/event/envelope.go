package event

import (
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeCollateralDeposited
	EventTypeCollateralRedeemed
	EventTypeDebtMinted
	EventTypeDebtBurned
	EventTypePositionLiquidated
	EventTypePriceUpdated
)

// Envelope wraps every record in the event log
type Envelope struct {
	// Global monotonic sequence assigned by the engine
	Sequence int64

	// Stable idempotency key of the source operation
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Asset context (nullable for asset-free records such as mint/burn)
	Asset *string

	// Operation timestamp
	Timestamp time.Time

	// JSON-encoded record payload
	Payload []byte

	// SHA-256 of state AFTER applying this record
	StateHash [32]byte

	// Previous record's state hash (chain integrity)
	PrevHash [32]byte
}

// Record is the interface all event payloads implement
type Record interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// AssetRef returns the asset context (nil for asset-free records)
	AssetRef() *string
}

// TypeFromString is the inverse of String, used when rebuilding
// envelopes from persisted event rows.
func TypeFromString(s string) EventType {
	switch s {
	case "CollateralDeposited":
		return EventTypeCollateralDeposited
	case "CollateralRedeemed":
		return EventTypeCollateralRedeemed
	case "DebtMinted":
		return EventTypeDebtMinted
	case "DebtBurned":
		return EventTypeDebtBurned
	case "PositionLiquidated":
		return EventTypePositionLiquidated
	case "PriceUpdated":
		return EventTypePriceUpdated
	default:
		return EventTypeUnknown
	}
}

func (et EventType) String() string {
	switch et {
	case EventTypeCollateralDeposited:
		return "CollateralDeposited"
	case EventTypeCollateralRedeemed:
		return "CollateralRedeemed"
	case EventTypeDebtMinted:
		return "DebtMinted"
	case EventTypeDebtBurned:
		return "DebtBurned"
	case EventTypePositionLiquidated:
		return "PositionLiquidated"
	case EventTypePriceUpdated:
		return "PriceUpdated"
	default:
		return "Unknown"
	}
}
