package pricing

import (
	"errors"
	"math/big"
	"time"
)

var (
	// ErrUnknownFeed means no observation exists for the requested feed.
	ErrUnknownFeed = errors.New("pricing: unknown price feed")

	// ErrStalePrice means the latest observation is older than the
	// configured freshness window.
	ErrStalePrice = errors.New("pricing: stale price")

	// ErrInvalidPrice means the feed reported a zero or negative price.
	ErrInvalidPrice = errors.New("pricing: non-positive price")
)

// Quote is a single oracle observation in the feed's native precision.
type Quote struct {
	Price     *big.Int
	UpdatedAt time.Time
}

// Oracle supplies the latest observation for a price feed. Reads are
// trust-the-source: validation (staleness, sign) happens in the Valuer.
type Oracle interface {
	LatestQuote(feedID string) (Quote, error)
}
