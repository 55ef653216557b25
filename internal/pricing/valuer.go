package pricing

import (
	"fmt"
	"math/big"
	"time"

	fpmath "StableVault/internal/math"
	"StableVault/internal/state"
)

// DefaultFeedDecimals is the native precision of feed quotes (Chainlink
// style USD feeds publish 8 decimals).
const DefaultFeedDecimals = 8

// DefaultMaxQuoteAge is the freshness window beyond which a quote is
// considered stale and valuation fails.
const DefaultMaxQuoteAge = 3 * time.Hour

// Valuer converts between asset quantities and the unit of account,
// normalizing feed-native precision to wad and enforcing the staleness
// and sign checks on every read.
type Valuer struct {
	oracle Oracle
	cfg    *state.CollateralConfig

	scale  *big.Int // 10^(18 - feedDecimals)
	maxAge time.Duration
	now    func() time.Time
}

func NewValuer(oracle Oracle, cfg *state.CollateralConfig, feedDecimals int, maxAge time.Duration) *Valuer {
	exp := int64(fpmath.WadDecimals - feedDecimals)
	return &Valuer{
		oracle: oracle,
		cfg:    cfg,
		scale:  new(big.Int).Exp(big.NewInt(10), big.NewInt(exp), nil),
		maxAge: maxAge,
		now:    time.Now,
	}
}

// ValueOf converts a wad quantity of asset into wad unit-of-account value.
func (v *Valuer) ValueOf(asset string, amount *big.Int) (*big.Int, error) {
	price, err := v.normalizedPrice(asset)
	if err != nil {
		return nil, err
	}
	return fpmath.MulDiv(price, amount, fpmath.Precision), nil
}

// QuantityFromValue converts a wad unit-of-account value into a wad
// quantity of asset. Truncates toward zero.
func (v *Valuer) QuantityFromValue(asset string, value *big.Int) (*big.Int, error) {
	price, err := v.normalizedPrice(asset)
	if err != nil {
		return nil, err
	}
	return fpmath.MulDiv(value, fpmath.Precision, price), nil
}

// normalizedPrice fetches the latest quote for the asset's feed, checks
// it, and scales it to wad.
func (v *Valuer) normalizedPrice(asset string) (*big.Int, error) {
	feedID, ok := v.cfg.FeedFor(asset)
	if !ok {
		return nil, fmt.Errorf("%w: no feed for asset %s", ErrUnknownFeed, asset)
	}

	q, err := v.oracle.LatestQuote(feedID)
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", feedID, err)
	}

	if q.Price == nil || q.Price.Sign() <= 0 {
		return nil, fmt.Errorf("%w: feed %s", ErrInvalidPrice, feedID)
	}

	if v.maxAge > 0 {
		if age := v.now().Sub(q.UpdatedAt); age > v.maxAge {
			return nil, fmt.Errorf("%w: feed %s age %s exceeds %s", ErrStalePrice, feedID, age, v.maxAge)
		}
	}

	return new(big.Int).Mul(q.Price, v.scale), nil
}
