package token

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/google/uuid"
)

// Bank is an in-memory fungible asset ledger implementing Asset. It
// backs local deployments and tests; production deployments would bind
// these interfaces to real token contracts or a custody service.
type Bank struct {
	mu       sync.Mutex
	symbol   string
	balances map[uuid.UUID]*big.Int
}

func NewBank(symbol string) *Bank {
	return &Bank{
		symbol:   symbol,
		balances: make(map[uuid.UUID]*big.Int),
	}
}

func (b *Bank) Symbol() string { return b.symbol }

// Credit adds amount to a holder out of thin air. Faucet for tests and
// local bootstrap; not reachable through the engine.
func (b *Bank) Credit(holder uuid.UUID, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.credit(holder, amount)
}

func (b *Bank) credit(holder uuid.UUID, amount *big.Int) {
	bal, ok := b.balances[holder]
	if !ok {
		bal = new(big.Int)
		b.balances[holder] = bal
	}
	bal.Add(bal, amount)
}

func (b *Bank) debit(holder uuid.UUID, amount *big.Int) bool {
	bal, ok := b.balances[holder]
	if !ok || bal.Cmp(amount) < 0 {
		return false
	}
	bal.Sub(bal, amount)
	return true
}

// TransferFrom implements Asset.
func (b *Bank) TransferFrom(from, to uuid.UUID, amount *big.Int) bool {
	if amount == nil || amount.Sign() < 0 {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.debit(from, amount) {
		return false
	}
	b.credit(to, amount)
	return true
}

// BalanceOf implements Asset.
func (b *Bank) BalanceOf(holder uuid.UUID) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bal, ok := b.balances[holder]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

// StableBank is an in-memory StableToken: a Bank plus supply accounting
// and mint/burn.
type StableBank struct {
	Bank
	supply *big.Int
}

func NewStableBank(symbol string) *StableBank {
	return &StableBank{
		Bank: Bank{
			symbol:   symbol,
			balances: make(map[uuid.UUID]*big.Int),
		},
		supply: new(big.Int),
	}
}

// Mint implements StableToken.
func (sb *StableBank) Mint(to uuid.UUID, amount *big.Int) bool {
	if amount == nil || amount.Sign() < 0 {
		return false
	}
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.credit(to, amount)
	sb.supply.Add(sb.supply, amount)
	return true
}

// Burn implements StableToken.
func (sb *StableBank) Burn(holder uuid.UUID, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%s: burn amount must be non-negative", sb.symbol)
	}
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if !sb.debit(holder, amount) {
		return fmt.Errorf("%s: burn exceeds holder balance", sb.symbol)
	}
	sb.supply.Sub(sb.supply, amount)
	return nil
}

// TotalSupply implements StableToken.
func (sb *StableBank) TotalSupply() *big.Int {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return new(big.Int).Set(sb.supply)
}
