package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/veilmarket/settlement-engine/internal/model"
)

// posKey addresses commitment-indexed records.
type posKey struct {
	marketID   uint64
	commitment [32]byte
}

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu           sync.RWMutex
	config       *model.Config
	markets      map[uint64]*model.Market
	privacy      map[posKey]*model.PrivacyPosition
	shielded     map[posKey]*model.ShieldedPosition
	confidential map[posKey]*model.ConfidentialPosition
	encrypted    map[uint64]*model.EncryptedMarketState
	claims       map[posKey]*model.PrivacyClaim
	events       []model.LedgerEvent
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets:      make(map[uint64]*model.Market),
		privacy:      make(map[posKey]*model.PrivacyPosition),
		shielded:     make(map[posKey]*model.ShieldedPosition),
		confidential: make(map[posKey]*model.ConfidentialPosition),
		encrypted:    make(map[uint64]*model.EncryptedMarketState),
		claims:       make(map[posKey]*model.PrivacyClaim),
	}
}

func (s *MemoryStore) GetConfig(_ context.Context) (*model.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.config == nil {
		return nil, fmt.Errorf("config: %w", ErrNotFound)
	}
	cp := *s.config
	return &cp, nil
}

func (s *MemoryStore) PutConfig(_ context.Context, cfg *model.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *cfg
	s.config = &cp
	return nil
}

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markets[m.ID]; ok {
		return fmt.Errorf("market %d: %w", m.ID, ErrAlreadyExists)
	}
	// Store a copy to avoid external mutation.
	cp := *m
	s.markets[m.ID] = &cp
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id uint64) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[id]
	if !ok {
		return nil, fmt.Errorf("market %d: %w", id, ErrNotFound)
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	markets := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		markets = append(markets, *m)
	}
	return markets, nil
}

func (s *MemoryStore) UpdateMarketState(_ context.Context, id, reserves, yesSupply, noSupply uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	if !ok {
		return fmt.Errorf("market %d: %w", id, ErrNotFound)
	}
	m.Reserves = reserves
	m.YesSupply = yesSupply
	m.NoSupply = noSupply
	return nil
}

func (s *MemoryStore) ResolveMarket(_ context.Context, id uint64, outcome model.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	if !ok {
		return fmt.Errorf("market %d: %w", id, ErrNotFound)
	}
	m.Resolved = true
	m.Outcome = outcome
	return nil
}

func (s *MemoryStore) GetPrivacyPosition(_ context.Context, marketID uint64, commitment [32]byte) (*model.PrivacyPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.privacy[posKey{marketID, commitment}]
	if !ok {
		return nil, fmt.Errorf("privacy position: %w", ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) PutPrivacyPosition(_ context.Context, p *model.PrivacyPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.privacy[posKey{p.MarketID, p.Commitment}] = &cp
	return nil
}

func (s *MemoryStore) CreateShieldedPosition(_ context.Context, p *model.ShieldedPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := posKey{p.MarketID, p.Commitment}
	if _, ok := s.shielded[k]; ok {
		return fmt.Errorf("shielded position: %w", ErrAlreadyExists)
	}
	cp := *p
	s.shielded[k] = &cp
	return nil
}

func (s *MemoryStore) GetShieldedPosition(_ context.Context, marketID uint64, commitment [32]byte) (*model.ShieldedPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.shielded[posKey{marketID, commitment}]
	if !ok {
		return nil, fmt.Errorf("shielded position: %w", ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) MarkShieldedRedeemed(_ context.Context, marketID uint64, commitment [32]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.shielded[posKey{marketID, commitment}]
	if !ok {
		return fmt.Errorf("shielded position: %w", ErrNotFound)
	}
	p.Redeemed = true
	return nil
}

func (s *MemoryStore) CreateConfidentialPosition(_ context.Context, p *model.ConfidentialPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := posKey{p.MarketID, p.Commitment}
	if _, ok := s.confidential[k]; ok {
		return fmt.Errorf("confidential position: %w", ErrAlreadyExists)
	}
	cp := *p
	cp.EncryptedDirection = append([]byte(nil), p.EncryptedDirection...)
	s.confidential[k] = &cp
	return nil
}

func (s *MemoryStore) GetConfidentialPosition(_ context.Context, marketID uint64, commitment [32]byte) (*model.ConfidentialPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.confidential[posKey{marketID, commitment}]
	if !ok {
		return nil, fmt.Errorf("confidential position: %w", ErrNotFound)
	}
	cp := *p
	cp.EncryptedDirection = append([]byte(nil), p.EncryptedDirection...)
	return &cp, nil
}

func (s *MemoryStore) CreateEncryptedState(_ context.Context, st *model.EncryptedMarketState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.encrypted[st.MarketID]; ok {
		return fmt.Errorf("encrypted state %d: %w", st.MarketID, ErrAlreadyExists)
	}
	cp := *st
	s.encrypted[st.MarketID] = &cp
	return nil
}

func (s *MemoryStore) GetEncryptedState(_ context.Context, marketID uint64) (*model.EncryptedMarketState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.encrypted[marketID]
	if !ok {
		return nil, fmt.Errorf("encrypted state %d: %w", marketID, ErrNotFound)
	}
	cp := *st
	return &cp, nil
}

func (s *MemoryStore) UpdateEncryptedState(_ context.Context, st *model.EncryptedMarketState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.encrypted[st.MarketID]; !ok {
		return fmt.Errorf("encrypted state %d: %w", st.MarketID, ErrNotFound)
	}
	cp := *st
	s.encrypted[st.MarketID] = &cp
	return nil
}

func (s *MemoryStore) CreateClaim(_ context.Context, c *model.PrivacyClaim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := posKey{c.MarketID, c.Commitment}
	if _, ok := s.claims[k]; ok {
		return fmt.Errorf("claim: %w", ErrAlreadyExists)
	}
	cp := *c
	s.claims[k] = &cp
	return nil
}

func (s *MemoryStore) GetClaim(_ context.Context, marketID uint64, commitment [32]byte) (*model.PrivacyClaim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.claims[posKey{marketID, commitment}]
	if !ok {
		return nil, fmt.Errorf("claim: %w", ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) UpdateClaim(_ context.Context, c *model.PrivacyClaim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := posKey{c.MarketID, c.Commitment}
	if _, ok := s.claims[k]; !ok {
		return fmt.Errorf("claim: %w", ErrNotFound)
	}
	cp := *c
	s.claims[k] = &cp
	return nil
}

func (s *MemoryStore) InsertEvent(_ context.Context, e *model.LedgerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *e)
	return nil
}

func (s *MemoryStore) GetEventsByMarket(_ context.Context, marketID uint64) ([]model.LedgerEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []model.LedgerEvent
	for _, e := range s.events {
		if e.MarketID == marketID {
			result = append(result, e)
		}
	}
	return result, nil
}
