// Package privacy implements the private settlement channels: dark-pool
// positions keyed by commitment, blind bets with one-time-pad direction
// ciphers, confidential execution against an external encrypted-compute
// collaborator, homomorphic reserve updates, compressed merkle positions,
// and the two-phase commitment-reveal payout protocol.
//
// Every channel settles against the same markets as the public engine and
// shares its store and vault; what differs is what the ledger learns about
// the trader.
package privacy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veilmarket/settlement-engine/internal/engine"
	"github.com/veilmarket/settlement-engine/internal/model"
	"github.com/veilmarket/settlement-engine/internal/store"
	"github.com/veilmarket/settlement-engine/internal/vault"
)

var (
	// ErrInvalidProof is returned when a revealed secret does not reproduce
	// the stored commitment, for any commitment kind.
	ErrInvalidProof = errors.New("privacy: secret does not match commitment")

	// ErrAlreadyClaimed is returned when a position or claim has already
	// paid out.
	ErrAlreadyClaimed = errors.New("privacy: already claimed")

	// ErrLockNotElapsed is returned when a claim is revealed before its
	// lock window has passed.
	ErrLockNotElapsed = errors.New("privacy: claim lock has not elapsed")

	// ErrAccessDenied is returned when an audit is attempted with a view
	// key that does not hash to the position's stored view key hash.
	ErrAccessDenied = errors.New("privacy: view key does not match")

	// ErrAmountTooSmall is returned when a winning payout rounds to zero
	// under the fixed claim denomination.
	ErrAmountTooSmall = errors.New("privacy: payout too small for claim denomination")

	// ErrInsufficientReserves is returned when a winning reveal's refund
	// exceeds the market's remaining reserves.
	ErrInsufficientReserves = errors.New("privacy: reserves cannot cover payout")

	// ErrCiphertextSize is returned when an encrypted payload does not have
	// the exact expected length.
	ErrCiphertextSize = errors.New("privacy: ciphertext has wrong length")
)

// Service coordinates the private settlement channels. Like the public
// engine it serializes market mutations under one mutex; the two services
// share a store, so their critical sections are short and store-level
// consistency is what actually matters.
type Service struct {
	store    store.Store
	vault    vault.Transferor
	executor BlindExecutor
	tree     TreeForwarder
	log      *slog.Logger

	mu  sync.Mutex
	now func() time.Time

	lockDelay time.Duration

	onEvent func(model.LedgerEvent)
}

// NewService creates the privacy settlement service. lockDelay is the
// mandatory wait between funding a claim and revealing it.
func NewService(st store.Store, v vault.Transferor, exec BlindExecutor, tree TreeForwarder, lockDelay time.Duration, logger *slog.Logger) *Service {
	return &Service{
		store:     st,
		vault:     v,
		executor:  exec,
		tree:      tree,
		log:       logger,
		now:       time.Now,
		lockDelay: lockDelay,
	}
}

// OnEvent registers a callback invoked after each ledger event is persisted.
func (s *Service) OnEvent(fn func(model.LedgerEvent)) {
	s.onEvent = fn
}

// openMarket enforces the pause flag and open-for-trading gates shared by
// every private entry path.
func (s *Service) openMarket(ctx context.Context, marketID uint64) (*model.Market, error) {
	cfg, err := s.store.GetConfig(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.Paused {
		return nil, engine.ErrProtocolPaused
	}
	m, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	switch m.Status(s.now()) {
	case model.StatusResolved:
		return nil, engine.ErrMarketNotOpen
	case model.StatusExpired:
		return nil, engine.ErrMarketExpired
	}
	return m, nil
}

// resolvedMarket loads a market and requires it to be resolved.
func (s *Service) resolvedMarket(ctx context.Context, marketID uint64) (*model.Market, error) {
	m, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if !m.Resolved {
		return nil, engine.ErrMarketNotResolved
	}
	return m, nil
}

func (s *Service) emit(ctx context.Context, ev model.LedgerEvent) {
	if err := s.store.InsertEvent(ctx, &ev); err != nil {
		s.log.Error("failed to persist ledger event", "kind", ev.Kind, "error", err)
		return
	}
	if s.onEvent != nil {
		s.onEvent(ev)
	}
}

func (s *Service) event(marketID uint64, kind string, commitment [32]byte, amount uint64) model.LedgerEvent {
	return model.LedgerEvent{
		ID:         uuid.New().String(),
		MarketID:   marketID,
		Kind:       kind,
		Commitment: append([]byte(nil), commitment[:]...),
		Amount:     amount,
		Timestamp:  s.now(),
	}
}

func claimVault(marketID uint64, commitment [32]byte) string {
	return fmt.Sprintf("vault:claim:%d:%x", marketID, commitment[:8])
}
