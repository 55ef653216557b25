// internal/event/price.go
package event

import (
	"fmt"
	"math/big"
	"time"
)

// PriceUpdated records an accepted oracle price for a feed. Price is in
// the feed's native decimals; sequence is the feed-local ordering.
type PriceUpdated struct {
	FeedID    string
	Price     *big.Int
	Sequence  int64
	UpdatedAt time.Time
}

func (p *PriceUpdated) IdempotencyKey() string {
	return fmt.Sprintf("price:%s:%d", p.FeedID, p.Sequence)
}

func (p *PriceUpdated) EventType() EventType {
	return EventTypePriceUpdated
}

func (p *PriceUpdated) AssetRef() *string {
	return &p.FeedID
}
