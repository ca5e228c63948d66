package vault

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryVaultTransfers(t *testing.T) {
	v := NewMemoryVault()
	v.Fund("alice", 1000)

	if err := v.TransferIn(context.Background(), "alice", "vault:market:1", 400); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := v.Balance("alice"); got != 600 {
		t.Errorf("alice balance = %d, want 600", got)
	}
	if got := v.Balance("vault:market:1"); got != 400 {
		t.Errorf("vault balance = %d, want 400", got)
	}

	if err := v.TransferOut(context.Background(), "vault:market:1", "bob", 150); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := v.Balance("bob"); got != 150 {
		t.Errorf("bob balance = %d, want 150", got)
	}
}

func TestMemoryVaultInsufficientFunds(t *testing.T) {
	v := NewMemoryVault()
	v.Fund("alice", 10)

	err := v.TransferIn(context.Background(), "alice", "vault:market:1", 11)
	if !errors.Is(err, ErrTransferFailed) {
		t.Errorf("expected ErrTransferFailed, got %v", err)
	}
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", err)
	}
	// Nothing moved.
	if got := v.Balance("alice"); got != 10 {
		t.Errorf("alice balance = %d, want 10", got)
	}
}
