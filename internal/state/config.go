package state

import (
	"errors"
	"fmt"
)

var (
	// ErrLengthMismatch means the asset and price-feed lists differ in length.
	ErrLengthMismatch = errors.New("collateral config: asset and price feed lists differ in length")

	// ErrDuplicateAsset means an asset appears twice in the collateral set.
	ErrDuplicateAsset = errors.New("collateral config: duplicate asset")

	// ErrEmptyCollateralSet means no collateral asset was configured.
	ErrEmptyCollateralSet = errors.New("collateral config: at least one asset required")
)

// CollateralConfig is the fixed, construction-time collateral set: an
// ordered list of asset symbols, each bound to exactly one price feed.
// The set never changes after construction.
type CollateralConfig struct {
	assets []string
	feeds  map[string]string
}

// NewCollateralConfig pairs assets[i] with feeds[i]. The two lists must
// have equal length and assets must be unique.
func NewCollateralConfig(assets, feeds []string) (*CollateralConfig, error) {
	if len(assets) != len(feeds) {
		return nil, fmt.Errorf("%w: %d assets, %d feeds", ErrLengthMismatch, len(assets), len(feeds))
	}
	if len(assets) == 0 {
		return nil, ErrEmptyCollateralSet
	}

	cfg := &CollateralConfig{
		assets: make([]string, 0, len(assets)),
		feeds:  make(map[string]string, len(assets)),
	}
	for i, asset := range assets {
		if _, dup := cfg.feeds[asset]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateAsset, asset)
		}
		cfg.assets = append(cfg.assets, asset)
		cfg.feeds[asset] = feeds[i]
	}
	return cfg, nil
}

// Assets returns the configured assets in construction order.
func (c *CollateralConfig) Assets() []string {
	out := make([]string, len(c.assets))
	copy(out, c.assets)
	return out
}

// Supports reports whether the asset is in the collateral set.
func (c *CollateralConfig) Supports(asset string) bool {
	_, ok := c.feeds[asset]
	return ok
}

// FeedFor returns the price feed bound to an asset.
func (c *CollateralConfig) FeedFor(asset string) (string, bool) {
	feed, ok := c.feeds[asset]
	return feed, ok
}
