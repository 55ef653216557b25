// Package token defines the engine's external collaborators: the
// unit-pegged liability token and the collateral assets. Both follow the
// boolean-result transfer convention; the engine checks every result and
// treats false as a failed transfer.
package token

import (
	"math/big"

	"github.com/google/uuid"
)

// Asset is an externally owned fungible collateral asset.
type Asset interface {
	// TransferFrom moves amount between holders; false means refused
	// (insufficient balance or any token-side failure).
	TransferFrom(from, to uuid.UUID, amount *big.Int) bool

	// BalanceOf returns the holder's balance.
	BalanceOf(holder uuid.UUID) *big.Int
}

// StableToken is the liability token. The engine is the only caller of
// Mint and Burn.
type StableToken interface {
	Asset

	// Mint creates amount for the recipient; false means the token
	// refused to mint.
	Mint(to uuid.UUID, amount *big.Int) bool

	// Burn destroys amount already held by holder.
	Burn(holder uuid.UUID, amount *big.Int) error

	// TotalSupply returns the circulating supply.
	TotalSupply() *big.Int
}
