package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/veilmarket/settlement-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for market state. Writes go to the primary store and invalidate the
// cache; reads check Redis first then fall back to the primary.
//
// Commitment-indexed records (positions, claims) are deliberately never
// cached: they sit on mutation paths where staleness is dangerous, and a
// shared cache is one more place commitment access patterns could leak.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{primary: primary, rdb: rdb, ttl: ttl}
}

func marketKey(id uint64) string { return fmt.Sprintf("market:%d", id) }

func (s *CachedStore) cacheMarket(ctx context.Context, m *model.Market) {
	data, err := json.Marshal(m)
	if err != nil {
		return
	}
	s.rdb.Set(ctx, marketKey(m.ID), data, s.ttl)
}

// --- Markets (read-through) ---

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.CreateMarket(ctx, m); err != nil {
		return err
	}
	s.cacheMarket(ctx, m)
	return nil
}

func (s *CachedStore) GetMarket(ctx context.Context, id uint64) (*model.Market, error) {
	if data, err := s.rdb.Get(ctx, marketKey(id)).Bytes(); err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}
	m, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheMarket(ctx, m)
	return m, nil
}

func (s *CachedStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	return s.primary.ListMarkets(ctx)
}

func (s *CachedStore) UpdateMarketState(ctx context.Context, id, reserves, yesSupply, noSupply uint64) error {
	if err := s.primary.UpdateMarketState(ctx, id, reserves, yesSupply, noSupply); err != nil {
		return err
	}
	// Invalidate; next read re-populates.
	s.rdb.Del(ctx, marketKey(id))
	return nil
}

func (s *CachedStore) ResolveMarket(ctx context.Context, id uint64, outcome model.Outcome) error {
	if err := s.primary.ResolveMarket(ctx, id, outcome); err != nil {
		return err
	}
	s.rdb.Del(ctx, marketKey(id))
	return nil
}

// --- Pass-through ---

func (s *CachedStore) GetConfig(ctx context.Context) (*model.Config, error) {
	return s.primary.GetConfig(ctx)
}

func (s *CachedStore) PutConfig(ctx context.Context, cfg *model.Config) error {
	return s.primary.PutConfig(ctx, cfg)
}

func (s *CachedStore) GetPrivacyPosition(ctx context.Context, marketID uint64, commitment [32]byte) (*model.PrivacyPosition, error) {
	return s.primary.GetPrivacyPosition(ctx, marketID, commitment)
}

func (s *CachedStore) PutPrivacyPosition(ctx context.Context, p *model.PrivacyPosition) error {
	return s.primary.PutPrivacyPosition(ctx, p)
}

func (s *CachedStore) CreateShieldedPosition(ctx context.Context, p *model.ShieldedPosition) error {
	return s.primary.CreateShieldedPosition(ctx, p)
}

func (s *CachedStore) GetShieldedPosition(ctx context.Context, marketID uint64, commitment [32]byte) (*model.ShieldedPosition, error) {
	return s.primary.GetShieldedPosition(ctx, marketID, commitment)
}

func (s *CachedStore) MarkShieldedRedeemed(ctx context.Context, marketID uint64, commitment [32]byte) error {
	return s.primary.MarkShieldedRedeemed(ctx, marketID, commitment)
}

func (s *CachedStore) CreateConfidentialPosition(ctx context.Context, p *model.ConfidentialPosition) error {
	return s.primary.CreateConfidentialPosition(ctx, p)
}

func (s *CachedStore) GetConfidentialPosition(ctx context.Context, marketID uint64, commitment [32]byte) (*model.ConfidentialPosition, error) {
	return s.primary.GetConfidentialPosition(ctx, marketID, commitment)
}

func (s *CachedStore) CreateEncryptedState(ctx context.Context, st *model.EncryptedMarketState) error {
	return s.primary.CreateEncryptedState(ctx, st)
}

func (s *CachedStore) GetEncryptedState(ctx context.Context, marketID uint64) (*model.EncryptedMarketState, error) {
	return s.primary.GetEncryptedState(ctx, marketID)
}

func (s *CachedStore) UpdateEncryptedState(ctx context.Context, st *model.EncryptedMarketState) error {
	return s.primary.UpdateEncryptedState(ctx, st)
}

func (s *CachedStore) CreateClaim(ctx context.Context, c *model.PrivacyClaim) error {
	return s.primary.CreateClaim(ctx, c)
}

func (s *CachedStore) GetClaim(ctx context.Context, marketID uint64, commitment [32]byte) (*model.PrivacyClaim, error) {
	return s.primary.GetClaim(ctx, marketID, commitment)
}

func (s *CachedStore) UpdateClaim(ctx context.Context, c *model.PrivacyClaim) error {
	return s.primary.UpdateClaim(ctx, c)
}

func (s *CachedStore) InsertEvent(ctx context.Context, e *model.LedgerEvent) error {
	return s.primary.InsertEvent(ctx, e)
}

func (s *CachedStore) GetEventsByMarket(ctx context.Context, marketID uint64) ([]model.LedgerEvent, error) {
	return s.primary.GetEventsByMarket(ctx, marketID)
}
