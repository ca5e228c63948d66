// Package vault is the boundary to the collateral transfer collaborator. The
// engine never moves funds itself; it calls TransferIn/TransferOut and only
// commits ledger mutations after the transfer succeeds, so a failed transfer
// leaves settlement state untouched.
package vault

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrTransferFailed wraps any failure from the collateral collaborator.
var ErrTransferFailed = errors.New("vault: collateral transfer failed")

// ErrInsufficientFunds is returned by the in-memory implementation when the
// source balance cannot cover the transfer.
var ErrInsufficientFunds = errors.New("vault: insufficient funds")

// Transferor moves collateral between accounts and vaults. Implementations
// are opaque to the engine; production wiring points at the host token
// program, tests use MemoryVault.
type Transferor interface {
	// TransferIn moves amount from a trader account into a vault.
	TransferIn(ctx context.Context, from, vault string, amount uint64) error
	// TransferOut moves amount from a vault to a recipient account.
	TransferOut(ctx context.Context, vault, to string, amount uint64) error
}

// MemoryVault implements Transferor with in-memory balances. Used for testing
// and development.
type MemoryVault struct {
	mu       sync.Mutex
	balances map[string]uint64
}

// NewMemoryVault creates an empty in-memory vault ledger.
func NewMemoryVault() *MemoryVault {
	return &MemoryVault{balances: make(map[string]uint64)}
}

// Fund credits an account directly. Test setup helper.
func (v *MemoryVault) Fund(account string, amount uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balances[account] += amount
}

// Balance returns the current balance of an account.
func (v *MemoryVault) Balance(account string) uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balances[account]
}

func (v *MemoryVault) TransferIn(_ context.Context, from, vault string, amount uint64) error {
	return v.move(from, vault, amount)
}

func (v *MemoryVault) TransferOut(_ context.Context, vault, to string, amount uint64) error {
	return v.move(vault, to, amount)
}

func (v *MemoryVault) move(from, to string, amount uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.balances[from] < amount {
		return fmt.Errorf("%w: %w: %s has %d, need %d",
			ErrTransferFailed, ErrInsufficientFunds, from, v.balances[from], amount)
	}
	v.balances[from] -= amount
	v.balances[to] += amount
	return nil
}
