package state_test

import (
	"errors"
	"testing"

	"StableVault/internal/state"
)

func TestNewCollateralConfig_PairsAssetsWithFeeds(t *testing.T) {
	cfg, err := state.NewCollateralConfig(
		[]string{"WETH", "WBTC"},
		[]string{"eth-usd", "btc-usd"},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !cfg.Supports("WETH") || !cfg.Supports("WBTC") {
		t.Error("configured assets should be supported")
	}
	if cfg.Supports("DOGE") {
		t.Error("unconfigured asset should not be supported")
	}

	feed, ok := cfg.FeedFor("WBTC")
	if !ok || feed != "btc-usd" {
		t.Errorf("FeedFor(WBTC) = %q, %v; want btc-usd, true", feed, ok)
	}

	assets := cfg.Assets()
	if len(assets) != 2 || assets[0] != "WETH" || assets[1] != "WBTC" {
		t.Errorf("Assets() should preserve construction order, got %v", assets)
	}
}

func TestNewCollateralConfig_LengthMismatch(t *testing.T) {
	_, err := state.NewCollateralConfig(
		[]string{"WETH", "WBTC"},
		[]string{"eth-usd"},
	)
	if !errors.Is(err, state.ErrLengthMismatch) {
		t.Errorf("got %v, want ErrLengthMismatch", err)
	}
}

func TestNewCollateralConfig_DuplicateAsset(t *testing.T) {
	_, err := state.NewCollateralConfig(
		[]string{"WETH", "WETH"},
		[]string{"eth-usd", "eth-usd-backup"},
	)
	if !errors.Is(err, state.ErrDuplicateAsset) {
		t.Errorf("got %v, want ErrDuplicateAsset", err)
	}
}

func TestNewCollateralConfig_Empty(t *testing.T) {
	_, err := state.NewCollateralConfig(nil, nil)
	if !errors.Is(err, state.ErrEmptyCollateralSet) {
		t.Errorf("got %v, want ErrEmptyCollateralSet", err)
	}
}
