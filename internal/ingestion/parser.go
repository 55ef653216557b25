package ingestion

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"StableVault/internal/event"
)

// --- JSON wire format ---
// Field names use snake_case to match upstream producers. Prices are
// decimal strings in the feed's native precision; int64 would overflow
// for wad-scaled producers and floats would lose precision.

type priceUpdateJSON struct {
	FeedID      string `json:"feed_id"`
	Price       string `json:"price"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

// ParsePriceUpdate converts a raw NATS payload into a typed price
// record. The shell validates here so the engine only sees well-formed
// updates.
func ParsePriceUpdate(data []byte) (*event.PriceUpdated, error) {
	var j priceUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PriceUpdated: %w", err)
	}

	if j.FeedID == "" {
		return nil, fmt.Errorf("parse PriceUpdated: missing feed_id")
	}
	price, ok := new(big.Int).SetString(j.Price, 10)
	if !ok {
		return nil, fmt.Errorf("parse PriceUpdated: bad price %q", j.Price)
	}
	if price.Sign() <= 0 {
		return nil, fmt.Errorf("parse PriceUpdated: non-positive price %q", j.Price)
	}
	if j.Sequence <= 0 {
		return nil, fmt.Errorf("parse PriceUpdated: bad sequence %d", j.Sequence)
	}

	return &event.PriceUpdated{
		FeedID:    j.FeedID,
		Price:     price,
		Sequence:  j.Sequence,
		UpdatedAt: time.UnixMicro(j.TimestampUs),
	}, nil
}
