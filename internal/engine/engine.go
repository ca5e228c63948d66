// Package engine implements the public market lifecycle: initialization,
// market creation, bonding-curve trades, oracle resolution, and winner
// redemption. Privacy channels live in the privacy package and settle
// against the same market state through the same store.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veilmarket/settlement-engine/internal/curve"
	"github.com/veilmarket/settlement-engine/internal/metrics"
	"github.com/veilmarket/settlement-engine/internal/model"
	"github.com/veilmarket/settlement-engine/internal/store"
	"github.com/veilmarket/settlement-engine/internal/vault"
)

var (
	// ErrAlreadyInitialized is returned when Initialize runs twice.
	ErrAlreadyInitialized = errors.New("engine: protocol already initialized")

	// ErrProtocolPaused is returned while the admin pause flag is set.
	ErrProtocolPaused = errors.New("engine: protocol is paused")

	// ErrBelowMinLiquidity is returned when market seed liquidity is below
	// the configured floor.
	ErrBelowMinLiquidity = errors.New("engine: initial liquidity below minimum")

	// ErrMarketExpired is returned for trades after the market end time.
	ErrMarketExpired = errors.New("engine: market has expired")

	// ErrMarketNotOpen is returned for trades on a resolved market.
	ErrMarketNotOpen = errors.New("engine: market is not open")

	// ErrMarketNotResolved is returned for redemptions before resolution.
	ErrMarketNotResolved = errors.New("engine: market is not resolved")

	// ErrTooEarly is returned when resolution is attempted before the
	// market end time.
	ErrTooEarly = errors.New("engine: market has not ended yet")

	// ErrUnauthorized is returned when the caller is not the configured
	// oracle (resolution) or admin (pause).
	ErrUnauthorized = errors.New("engine: caller is not authorized")

	// ErrNoWinningTokens is returned when a redemption burns zero tokens
	// or more than the outstanding winning supply.
	ErrNoWinningTokens = errors.New("engine: no winning tokens to redeem")
)

const feeDenominator = 10_000

// Service coordinates the public market lifecycle. A single mutex serializes
// state transitions so curve updates never interleave; the store below it is
// the durable source of truth.
type Service struct {
	store store.Store
	vault vault.Transferor
	log   *slog.Logger

	mu  sync.Mutex
	now func() time.Time

	onEvent func(model.LedgerEvent)
}

// NewService creates the market lifecycle service.
func NewService(st store.Store, v vault.Transferor, logger *slog.Logger) *Service {
	return &Service{
		store: st,
		vault: v,
		log:   logger,
		now:   time.Now,
	}
}

// OnEvent registers a callback invoked after each ledger event is persisted.
// Used by the API layer to fan events out to websocket subscribers.
func (s *Service) OnEvent(fn func(model.LedgerEvent)) {
	s.onEvent = fn
}

// Initialize writes the protocol configuration singleton. It fails with
// ErrAlreadyInitialized when a configuration is already present.
func (s *Service) Initialize(ctx context.Context, cfg model.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cfg.Admin == "" || cfg.Oracle == "" {
		return fmt.Errorf("engine: admin and oracle identities are required")
	}
	if _, err := s.store.GetConfig(ctx); err == nil {
		return ErrAlreadyInitialized
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	cfg.MarketCount = 0
	cfg.Paused = false
	if err := s.store.PutConfig(ctx, &cfg); err != nil {
		return err
	}
	s.log.Info("protocol initialized",
		"admin", cfg.Admin,
		"oracle", cfg.Oracle,
		"fee_bps", cfg.FeeBps,
		"min_liquidity", cfg.MinLiquidity)
	return nil
}

// SetPaused flips the admin pause flag. Only the configured admin may call it.
func (s *Service) SetPaused(ctx context.Context, caller string, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.store.GetConfig(ctx)
	if err != nil {
		return err
	}
	if caller != cfg.Admin {
		return ErrUnauthorized
	}
	cfg.Paused = paused
	if err := s.store.PutConfig(ctx, cfg); err != nil {
		return err
	}
	s.log.Warn("protocol pause flag changed", "paused", paused)
	return nil
}

// CreateMarket opens a new binary market. The creator funds the initial
// reserve, and both outcome supplies are seeded at ⌊√(R²/2)⌋ so the market
// opens at even odds.
func (s *Service) CreateMarket(ctx context.Context, creator, question string, endTime time.Time, initialLiquidity uint64) (*model.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.store.GetConfig(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.Paused {
		return nil, ErrProtocolPaused
	}
	if initialLiquidity < cfg.MinLiquidity || initialLiquidity == 0 {
		return nil, ErrBelowMinLiquidity
	}
	if !endTime.After(s.now()) {
		return nil, ErrMarketExpired
	}

	id := cfg.MarketCount + 1
	m := &model.Market{
		ID:        id,
		Question:  question,
		EndTime:   endTime,
		Reserves:  initialLiquidity,
		YesSupply: curve.BalancedSupply(initialLiquidity),
		NoSupply:  curve.BalancedSupply(initialLiquidity),
		Vault:     marketVault(id),
		CreatedAt: s.now(),
	}

	if err := s.vault.TransferIn(ctx, creator, m.Vault, initialLiquidity); err != nil {
		return nil, err
	}
	if err := s.store.CreateMarket(ctx, m); err != nil {
		return nil, err
	}
	cfg.MarketCount = id
	if err := s.store.PutConfig(ctx, cfg); err != nil {
		return nil, err
	}

	metrics.MarketsCreated.Inc()
	s.log.Info("market created",
		"market_id", id,
		"question", question,
		"end_time", endTime,
		"liquidity", initialLiquidity)
	return m, nil
}

// Buy deposits collateral on one side of the curve and mints outcome tokens.
// The protocol fee is carved off the deposit before pricing; the net amount
// enters the reserve. Fails with curve.ErrSlippageExceeded when the mint
// falls below minTokensOut.
func (s *Service) Buy(ctx context.Context, trader string, marketID uint64, side model.Side, collateralIn, minTokensOut uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, m, err := s.openMarket(ctx, marketID)
	if err != nil {
		return 0, err
	}

	fee, err := feeOf(collateralIn, cfg.FeeBps)
	if err != nil {
		return 0, err
	}
	net := collateralIn - fee

	target, other := m.SupplyFor(side), m.SupplyFor(side.Opposite())
	minted, err := curve.QuoteBuy(m.Reserves, target, other, net, minTokensOut)
	if err != nil {
		return 0, err
	}

	// Collateral moves before state does: a failed transfer leaves the
	// reserve untouched.
	if err := s.vault.TransferIn(ctx, trader, m.Vault, collateralIn); err != nil {
		return 0, err
	}

	newYes, newNo := m.YesSupply, m.NoSupply
	if side == model.SideYes {
		newYes = target + minted
	} else {
		newNo = target + minted
	}
	if err := s.store.UpdateMarketState(ctx, marketID, m.Reserves+net, newYes, newNo); err != nil {
		return 0, err
	}

	s.emit(ctx, model.LedgerEvent{
		ID:        uuid.New().String(),
		MarketID:  marketID,
		Kind:      model.EventPublicTrade,
		Side:      side,
		Amount:    minted,
		Price:     curve.Price(m.Reserves+net, m.SupplyFor(side)+minted),
		Timestamp: s.now(),
	})
	metrics.RecordTrade(metrics.ChannelPublic)
	s.log.Info("buy executed",
		"market_id", marketID,
		"side", side,
		"collateral_in", collateralIn,
		"fee", fee,
		"tokens_minted", minted)
	return minted, nil
}

// Sell burns outcome tokens back into the curve and releases collateral.
// Fails with curve.ErrSlippageExceeded when the release falls below
// minCollateralOut.
func (s *Service) Sell(ctx context.Context, trader string, marketID uint64, side model.Side, tokensToBurn, minCollateralOut uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, m, err := s.openMarket(ctx, marketID)
	if err != nil {
		return 0, err
	}

	target, other := m.SupplyFor(side), m.SupplyFor(side.Opposite())
	released, err := curve.QuoteSell(m.Reserves, target, other, tokensToBurn, minCollateralOut)
	if err != nil {
		return 0, err
	}

	if err := s.vault.TransferOut(ctx, m.Vault, trader, released); err != nil {
		return 0, err
	}

	newYes, newNo := m.YesSupply, m.NoSupply
	if side == model.SideYes {
		newYes = target - tokensToBurn
	} else {
		newNo = target - tokensToBurn
	}
	if err := s.store.UpdateMarketState(ctx, marketID, m.Reserves-released, newYes, newNo); err != nil {
		return 0, err
	}

	s.emit(ctx, model.LedgerEvent{
		ID:        uuid.New().String(),
		MarketID:  marketID,
		Kind:      model.EventPublicTrade,
		Side:      side,
		Amount:    tokensToBurn,
		Price:     curve.Price(m.Reserves-released, m.SupplyFor(side)-tokensToBurn),
		Timestamp: s.now(),
	})
	metrics.RecordTrade(metrics.ChannelPublic)
	s.log.Info("sell executed",
		"market_id", marketID,
		"side", side,
		"tokens_burned", tokensToBurn,
		"collateral_out", released)
	return released, nil
}

// Resolve records the winning outcome. Only the configured oracle may call
// it, and only after the market end time has passed.
func (s *Service) Resolve(ctx context.Context, caller string, marketID uint64, outcome model.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.store.GetConfig(ctx)
	if err != nil {
		return err
	}
	if caller != cfg.Oracle {
		return ErrUnauthorized
	}
	if outcome != model.OutcomeYes && outcome != model.OutcomeNo {
		return fmt.Errorf("engine: invalid outcome %q", outcome)
	}

	m, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		return err
	}
	if m.Resolved {
		return ErrMarketNotOpen
	}
	if s.now().Before(m.EndTime) {
		return ErrTooEarly
	}

	if err := s.store.ResolveMarket(ctx, marketID, outcome); err != nil {
		return err
	}

	s.emit(ctx, model.LedgerEvent{
		ID:        uuid.New().String(),
		MarketID:  marketID,
		Kind:      model.EventResolve,
		Side:      outcome.Side(),
		Timestamp: s.now(),
	})
	metrics.MarketsResolved.Inc()
	s.log.Info("market resolved", "market_id", marketID, "outcome", outcome.Side())
	return nil
}

// Redeem burns winning tokens after resolution and pays out a proportional
// share of the remaining reserve:
//
//	payout = tokens × reserves / winningSupply
//
// Losing tokens redeem nothing and simply expire worthless.
func (s *Service) Redeem(ctx context.Context, redeemer string, marketID uint64, tokens uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		return 0, err
	}
	if !m.Resolved {
		return 0, ErrMarketNotResolved
	}

	winning := m.Outcome.Side()
	supply := m.SupplyFor(winning)
	if tokens == 0 || tokens > supply {
		return 0, ErrNoWinningTokens
	}

	payout := proRata(tokens, m.Reserves, supply)
	if err := s.vault.TransferOut(ctx, m.Vault, redeemer, payout); err != nil {
		return 0, err
	}

	newYes, newNo := m.YesSupply, m.NoSupply
	if winning == model.SideYes {
		newYes = supply - tokens
	} else {
		newNo = supply - tokens
	}
	if err := s.store.UpdateMarketState(ctx, marketID, m.Reserves-payout, newYes, newNo); err != nil {
		return 0, err
	}

	s.emit(ctx, model.LedgerEvent{
		ID:        uuid.New().String(),
		MarketID:  marketID,
		Kind:      model.EventRedeem,
		Side:      winning,
		Amount:    tokens,
		Timestamp: s.now(),
	})
	metrics.Redemptions.Inc()
	s.log.Info("redemption paid",
		"market_id", marketID,
		"tokens_burned", tokens,
		"payout", payout)
	return payout, nil
}

// openMarket loads config and market, enforcing the pause flag and the
// open-for-trading gates shared by Buy and Sell.
func (s *Service) openMarket(ctx context.Context, marketID uint64) (*model.Config, *model.Market, error) {
	cfg, err := s.store.GetConfig(ctx)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Paused {
		return nil, nil, ErrProtocolPaused
	}
	m, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, nil, err
	}
	switch m.Status(s.now()) {
	case model.StatusResolved:
		return nil, nil, ErrMarketNotOpen
	case model.StatusExpired:
		return nil, nil, ErrMarketExpired
	}
	return cfg, m, nil
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

func marketVault(id uint64) string {
	return fmt.Sprintf("vault:market:%d", id)
}

// feeOf computes ⌊amount × bps / 10000⌋ without overflowing uint64.
func feeOf(amount, bps uint64) (uint64, error) {
	if bps == 0 {
		return 0, nil
	}
	if bps >= feeDenominator {
		return 0, curve.ErrArithmeticOverflow
	}
	f := new(big.Int).SetUint64(amount)
	f.Mul(f, new(big.Int).SetUint64(bps))
	f.Div(f, big.NewInt(feeDenominator))
	return f.Uint64(), nil
}

// proRata computes ⌊tokens × reserves / supply⌋ exactly. supply > 0 is the
// caller's responsibility.
func proRata(tokens, reserves, supply uint64) uint64 {
	p := new(big.Int).SetUint64(tokens)
	p.Mul(p, new(big.Int).SetUint64(reserves))
	p.Div(p, new(big.Int).SetUint64(supply))
	return p.Uint64()
}
