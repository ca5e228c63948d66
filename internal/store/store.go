// Package store defines the persistence interface for the settlement engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
//
// Every privacy record is keyed by (market, commitment); there is no owner
// column anywhere. Whoever can produce the secret behind a commitment owns
// the record; the store only resolves content-addressed lookups.
package store

import (
	"context"
	"errors"

	"github.com/veilmarket/settlement-engine/internal/model"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrAlreadyExists is returned when a create collides with an existing
	// record under the same key.
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Protocol config ---

	// GetConfig retrieves the protocol configuration singleton.
	GetConfig(ctx context.Context) (*model.Config, error)

	// PutConfig creates or replaces the protocol configuration.
	PutConfig(ctx context.Context, cfg *model.Config) error

	// --- Markets ---

	// CreateMarket persists a new market.
	CreateMarket(ctx context.Context, m *model.Market) error

	// GetMarket retrieves a market by id.
	GetMarket(ctx context.Context, id uint64) (*model.Market, error)

	// ListMarkets returns all markets.
	ListMarkets(ctx context.Context) ([]model.Market, error)

	// UpdateMarketState updates reserves and supplies after a trade.
	UpdateMarketState(ctx context.Context, id, reserves, yesSupply, noSupply uint64) error

	// ResolveMarket marks a market resolved with the winning outcome.
	ResolveMarket(ctx context.Context, id uint64, outcome model.Outcome) error

	// --- Privacy positions (accumulating) ---

	// GetPrivacyPosition looks up a dark-pool position by commitment.
	GetPrivacyPosition(ctx context.Context, marketID uint64, commitment [32]byte) (*model.PrivacyPosition, error)

	// PutPrivacyPosition creates or replaces a dark-pool position.
	// Accumulation is decided by the caller, not the store.
	PutPrivacyPosition(ctx context.Context, p *model.PrivacyPosition) error

	// --- Shielded positions (one-shot) ---

	// CreateShieldedPosition persists a blind bet. Fails with
	// ErrAlreadyExists when the commitment is already in use.
	CreateShieldedPosition(ctx context.Context, p *model.ShieldedPosition) error

	// GetShieldedPosition looks up a blind bet by commitment.
	GetShieldedPosition(ctx context.Context, marketID uint64, commitment [32]byte) (*model.ShieldedPosition, error)

	// MarkShieldedRedeemed sets the redeemed flag after a reveal pays out.
	MarkShieldedRedeemed(ctx context.Context, marketID uint64, commitment [32]byte) error

	// --- Confidential positions (one-shot) ---

	// CreateConfidentialPosition persists an encrypted-direction position.
	CreateConfidentialPosition(ctx context.Context, p *model.ConfidentialPosition) error

	// GetConfidentialPosition looks up a confidential position.
	GetConfidentialPosition(ctx context.Context, marketID uint64, commitment [32]byte) (*model.ConfidentialPosition, error)

	// --- Encrypted market state ---

	// CreateEncryptedState persists the ciphertext reserves for a market.
	CreateEncryptedState(ctx context.Context, s *model.EncryptedMarketState) error

	// GetEncryptedState retrieves the ciphertext reserves for a market.
	GetEncryptedState(ctx context.Context, marketID uint64) (*model.EncryptedMarketState, error)

	// UpdateEncryptedState replaces the ciphertexts after a blind update.
	UpdateEncryptedState(ctx context.Context, s *model.EncryptedMarketState) error

	// --- Privacy claims ---

	// CreateClaim persists an initialized payout claim.
	CreateClaim(ctx context.Context, c *model.PrivacyClaim) error

	// GetClaim looks up a claim by payout commitment.
	GetClaim(ctx context.Context, marketID uint64, commitment [32]byte) (*model.PrivacyClaim, error)

	// UpdateClaim replaces a claim record (funding amount, redeemed flag).
	UpdateClaim(ctx context.Context, c *model.PrivacyClaim) error

	// --- Immutable event ledger ---

	// InsertEvent appends an immutable settlement event.
	InsertEvent(ctx context.Context, e *model.LedgerEvent) error

	// GetEventsByMarket returns all events for a market in time order.
	GetEventsByMarket(ctx context.Context, marketID uint64) ([]model.LedgerEvent, error)
}
