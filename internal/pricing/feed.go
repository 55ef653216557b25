package pricing

import (
	"math/big"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// FeedCache holds the latest quote per price feed, fed by the ingestion
// shell from the price-update stream. It is the production Oracle.
//
// Updates carry a per-feed monotonic sequence from the upstream
// publisher. Stale sequences are dropped; gaps are tolerated (prices are
// last-write-wins, missing a tick is harmless) but counted and logged so
// a misbehaving upstream is visible.
type FeedCache struct {
	mu     sync.RWMutex
	quotes map[string]*feedState
	log    zerolog.Logger

	gapHook func(feedID string, gap int64)
}

type feedState struct {
	price     *big.Int
	sequence  int64
	updatedAt time.Time
}

func NewFeedCache(log zerolog.Logger) *FeedCache {
	return &FeedCache{
		quotes: make(map[string]*feedState),
		log:    log,
	}
}

// SetGapHook installs a callback invoked on every tolerated sequence gap.
// Used to bump a metrics counter without importing observability here.
func (fc *FeedCache) SetGapHook(hook func(feedID string, gap int64)) {
	fc.gapHook = hook
}

// Update records a new observation. Returns false when the update was
// dropped because its sequence is not newer than the cached one.
func (fc *FeedCache) Update(feedID string, price *big.Int, sequence int64, updatedAt time.Time) bool {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	cur, ok := fc.quotes[feedID]
	if ok && sequence <= cur.sequence {
		fc.log.Debug().
			Str("feed", feedID).
			Int64("sequence", sequence).
			Int64("current", cur.sequence).
			Msg("dropping stale price update")
		return false
	}

	if ok && sequence > cur.sequence+1 {
		gap := sequence - cur.sequence - 1
		fc.log.Warn().
			Str("feed", feedID).
			Int64("gap", gap).
			Msg("price sequence gap tolerated")
		if fc.gapHook != nil {
			fc.gapHook(feedID, gap)
		}
	}

	fc.quotes[feedID] = &feedState{
		price:     new(big.Int).Set(price),
		sequence:  sequence,
		updatedAt: updatedAt,
	}
	return true
}

// LatestQuote implements Oracle.
func (fc *FeedCache) LatestQuote(feedID string) (Quote, error) {
	fc.mu.RLock()
	defer fc.mu.RUnlock()

	st, ok := fc.quotes[feedID]
	if !ok {
		return Quote{}, ErrUnknownFeed
	}
	return Quote{
		Price:     new(big.Int).Set(st.price),
		UpdatedAt: st.updatedAt,
	}, nil
}

// FeedSnapshot is the exported state of one feed, used by snapshots.
type FeedSnapshot struct {
	Price     *big.Int
	Sequence  int64
	UpdatedAt time.Time
}

// Export copies out every feed's state for snapshotting.
func (fc *FeedCache) Export() map[string]FeedSnapshot {
	fc.mu.RLock()
	defer fc.mu.RUnlock()

	out := make(map[string]FeedSnapshot, len(fc.quotes))
	for feedID, st := range fc.quotes {
		out[feedID] = FeedSnapshot{
			Price:     new(big.Int).Set(st.price),
			Sequence:  st.sequence,
			UpdatedAt: st.updatedAt,
		}
	}
	return out
}

// Sequence returns the last accepted sequence for a feed (0 if none).
func (fc *FeedCache) Sequence(feedID string) int64 {
	fc.mu.RLock()
	defer fc.mu.RUnlock()
	if st, ok := fc.quotes[feedID]; ok {
		return st.sequence
	}
	return 0
}
