package core

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	// ErrZeroAmount rejects zero or negative operation amounts.
	ErrZeroAmount = errors.New("vault engine: amount must be positive")

	// ErrUnsupportedAsset rejects assets outside the configured collateral set.
	ErrUnsupportedAsset = errors.New("vault engine: unsupported collateral asset")

	// ErrInsufficientCollateral rejects withdrawals past the deposited balance.
	ErrInsufficientCollateral = errors.New("vault engine: insufficient collateral balance")

	// ErrTransferFailed marks a refused external token transfer.
	ErrTransferFailed = errors.New("vault engine: token transfer failed")

	// ErrMintFailed marks a refused liability token mint.
	ErrMintFailed = errors.New("vault engine: liability mint failed")

	// ErrBurnExceedsDebt rejects burns past the recorded debt.
	ErrBurnExceedsDebt = errors.New("vault engine: burn exceeds recorded debt")

	// ErrHealthFactorBroken marks an operation that would leave the
	// position below the minimum health factor.
	ErrHealthFactorBroken = errors.New("vault engine: health factor below minimum")

	// ErrHealthFactorOk rejects liquidation of a healthy position.
	ErrHealthFactorOk = errors.New("vault engine: position is healthy")

	// ErrHealthFactorNotImproved rejects liquidations that fail to
	// strictly improve the target's health factor.
	ErrHealthFactorNotImproved = errors.New("vault engine: health factor not improved")

	// ErrDuplicateRequest marks a request whose idempotency key was
	// already processed.
	ErrDuplicateRequest = errors.New("vault engine: duplicate request")
)

// HealthFactorBrokenError carries the offending ratio so callers can
// report how far below the minimum the position would land.
type HealthFactorBrokenError struct {
	Factor *big.Int
}

func (e *HealthFactorBrokenError) Error() string {
	return fmt.Sprintf("vault engine: health factor %s below minimum", e.Factor)
}

func (e *HealthFactorBrokenError) Unwrap() error {
	return ErrHealthFactorBroken
}
