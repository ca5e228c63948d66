package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/veilmarket/settlement-engine/internal/curve"
	"github.com/veilmarket/settlement-engine/internal/model"
	"github.com/veilmarket/settlement-engine/internal/store"
	"github.com/veilmarket/settlement-engine/internal/vault"
)

var testTime = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *store.MemoryStore, *vault.MemoryVault) {
	t.Helper()
	st := store.NewMemoryStore()
	v := vault.NewMemoryVault()
	svc := NewService(st, v, slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.now = func() time.Time { return testTime }
	return svc, st, v
}

func initProtocol(t *testing.T, svc *Service) {
	t.Helper()
	err := svc.Initialize(context.Background(), model.Config{
		Admin:        "admin",
		Oracle:       "oracle",
		MinLiquidity: 1000,
	})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
}

func createMarket(t *testing.T, svc *Service, v *vault.MemoryVault, liquidity uint64) *model.Market {
	t.Helper()
	v.Fund("creator", liquidity)
	m, err := svc.CreateMarket(context.Background(), "creator", "will it rain tomorrow?", testTime.Add(24*time.Hour), liquidity)
	if err != nil {
		t.Fatalf("create market: %v", err)
	}
	return m
}

func TestInitializeOnce(t *testing.T) {
	svc, _, _ := newTestService(t)
	initProtocol(t, svc)

	err := svc.Initialize(context.Background(), model.Config{Admin: "a", Oracle: "o"})
	if !errors.Is(err, ErrAlreadyInitialized) {
		t.Errorf("expected ErrAlreadyInitialized, got %v", err)
	}
}

func TestCreateMarket(t *testing.T) {
	svc, _, v := newTestService(t)
	initProtocol(t, svc)

	v.Fund("creator", 500)
	_, err := svc.CreateMarket(context.Background(), "creator", "q", testTime.Add(time.Hour), 500)
	if !errors.Is(err, ErrBelowMinLiquidity) {
		t.Fatalf("expected ErrBelowMinLiquidity, got %v", err)
	}

	m := createMarket(t, svc, v, 1_000_000)
	if m.ID != 1 {
		t.Errorf("market id = %d, want 1", m.ID)
	}
	if m.Reserves != 1_000_000 {
		t.Errorf("reserves = %d, want 1000000", m.Reserves)
	}
	if m.YesSupply != m.NoSupply || m.YesSupply == 0 {
		t.Errorf("supplies should be seeded evenly, got yes=%d no=%d", m.YesSupply, m.NoSupply)
	}
	if !curve.InvariantHolds(m.Reserves, m.YesSupply, m.NoSupply) {
		t.Error("seeded market violates the curve invariant")
	}
	if got := v.Balance(m.Vault); got != 1_000_000 {
		t.Errorf("market vault balance = %d, want 1000000", got)
	}
}

func TestCreateMarketPastEndTime(t *testing.T) {
	svc, _, v := newTestService(t)
	initProtocol(t, svc)
	v.Fund("creator", 1_000_000)

	_, err := svc.CreateMarket(context.Background(), "creator", "q", testTime.Add(-time.Hour), 1_000_000)
	if !errors.Is(err, ErrMarketExpired) {
		t.Errorf("expected ErrMarketExpired, got %v", err)
	}
}

func TestBuySellLifecycle(t *testing.T) {
	svc, st, v := newTestService(t)
	initProtocol(t, svc)
	m := createMarket(t, svc, v, 1_000_000)

	v.Fund("trader", 100_000)
	minted, err := svc.Buy(context.Background(), "trader", m.ID, model.SideYes, 50_000, 0)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if minted == 0 {
		t.Fatal("buy minted no tokens")
	}

	after, err := st.GetMarket(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("get market: %v", err)
	}
	if after.Reserves != m.Reserves+50_000 {
		t.Errorf("reserves = %d, want %d", after.Reserves, m.Reserves+50_000)
	}
	if after.YesSupply != m.YesSupply+minted {
		t.Errorf("yes supply = %d, want %d", after.YesSupply, m.YesSupply+minted)
	}
	if !curve.InvariantHolds(after.Reserves, after.YesSupply, after.NoSupply) {
		t.Error("invariant violated after buy")
	}

	released, err := svc.Sell(context.Background(), "trader", m.ID, model.SideYes, minted, 0)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if released > 50_000 {
		t.Errorf("round trip released %d > deposit", released)
	}

	final, _ := st.GetMarket(context.Background(), m.ID)
	if !curve.InvariantHolds(final.Reserves, final.YesSupply, final.NoSupply) {
		t.Error("invariant violated after sell")
	}
}

func TestBuyAppliesFee(t *testing.T) {
	svc, st, v := newTestService(t)
	err := svc.Initialize(context.Background(), model.Config{
		Admin: "admin", Oracle: "oracle", MinLiquidity: 1000, FeeBps: 100, // 1%
	})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	m := createMarket(t, svc, v, 1_000_000)

	v.Fund("trader", 10_000)
	if _, err := svc.Buy(context.Background(), "trader", m.ID, model.SideYes, 10_000, 0); err != nil {
		t.Fatalf("buy: %v", err)
	}

	after, _ := st.GetMarket(context.Background(), m.ID)
	// 1% fee: only the net 9900 enters the reserve, but the full deposit
	// lands in the vault.
	if after.Reserves != m.Reserves+9_900 {
		t.Errorf("reserves = %d, want %d", after.Reserves, m.Reserves+9_900)
	}
	if got := v.Balance(m.Vault); got != 1_000_000+10_000 {
		t.Errorf("vault balance = %d, want %d", got, 1_000_000+10_000)
	}
}

func TestBuySlippage(t *testing.T) {
	svc, _, v := newTestService(t)
	initProtocol(t, svc)
	m := createMarket(t, svc, v, 1_000_000)

	v.Fund("trader", 10_000)
	_, err := svc.Buy(context.Background(), "trader", m.ID, model.SideYes, 10_000, 1_000_000)
	if !errors.Is(err, curve.ErrSlippageExceeded) {
		t.Errorf("expected ErrSlippageExceeded, got %v", err)
	}
}

func TestTradeGates(t *testing.T) {
	svc, _, v := newTestService(t)
	initProtocol(t, svc)
	m := createMarket(t, svc, v, 1_000_000)
	v.Fund("trader", 10_000)

	// Paused.
	if err := svc.SetPaused(context.Background(), "admin", true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, err := svc.Buy(context.Background(), "trader", m.ID, model.SideYes, 1000, 0); !errors.Is(err, ErrProtocolPaused) {
		t.Errorf("expected ErrProtocolPaused, got %v", err)
	}
	if err := svc.SetPaused(context.Background(), "admin", false); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if err := svc.SetPaused(context.Background(), "mallory", true); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}

	// Expired: clock past end time.
	svc.now = func() time.Time { return m.EndTime.Add(time.Minute) }
	if _, err := svc.Buy(context.Background(), "trader", m.ID, model.SideYes, 1000, 0); !errors.Is(err, ErrMarketExpired) {
		t.Errorf("expected ErrMarketExpired, got %v", err)
	}

	// Resolved.
	if err := svc.Resolve(context.Background(), "oracle", m.ID, model.OutcomeYes); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := svc.Buy(context.Background(), "trader", m.ID, model.SideYes, 1000, 0); !errors.Is(err, ErrMarketNotOpen) {
		t.Errorf("expected ErrMarketNotOpen, got %v", err)
	}
}

func TestResolveAuthorization(t *testing.T) {
	svc, _, v := newTestService(t)
	initProtocol(t, svc)
	m := createMarket(t, svc, v, 1_000_000)

	if err := svc.Resolve(context.Background(), "mallory", m.ID, model.OutcomeYes); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}

	// Before end time.
	if err := svc.Resolve(context.Background(), "oracle", m.ID, model.OutcomeYes); !errors.Is(err, ErrTooEarly) {
		t.Errorf("expected ErrTooEarly, got %v", err)
	}

	svc.now = func() time.Time { return m.EndTime.Add(time.Minute) }
	if err := svc.Resolve(context.Background(), "oracle", m.ID, model.OutcomeYes); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	// Second resolution is rejected.
	if err := svc.Resolve(context.Background(), "oracle", m.ID, model.OutcomeNo); !errors.Is(err, ErrMarketNotOpen) {
		t.Errorf("expected ErrMarketNotOpen, got %v", err)
	}
}

func TestRedeemProportional(t *testing.T) {
	svc, st, v := newTestService(t)
	initProtocol(t, svc)
	m := createMarket(t, svc, v, 1_000_000)

	if _, err := svc.Redeem(context.Background(), "winner", m.ID, 100); !errors.Is(err, ErrMarketNotResolved) {
		t.Errorf("expected ErrMarketNotResolved, got %v", err)
	}

	svc.now = func() time.Time { return m.EndTime.Add(time.Minute) }
	if err := svc.Resolve(context.Background(), "oracle", m.ID, model.OutcomeYes); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	resolved, _ := st.GetMarket(context.Background(), m.ID)
	half := resolved.YesSupply / 2
	payout, err := svc.Redeem(context.Background(), "winner", m.ID, half)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	// half the winning supply redeems for about half the reserve
	expected := half * resolved.Reserves / resolved.YesSupply
	if payout != expected {
		t.Errorf("payout = %d, want %d", payout, expected)
	}
	if got := v.Balance("winner"); got != payout {
		t.Errorf("winner balance = %d, want %d", got, payout)
	}

	if _, err := svc.Redeem(context.Background(), "winner", m.ID, 0); !errors.Is(err, ErrNoWinningTokens) {
		t.Errorf("expected ErrNoWinningTokens, got %v", err)
	}
	after, _ := st.GetMarket(context.Background(), m.ID)
	if _, err := svc.Redeem(context.Background(), "winner", m.ID, after.YesSupply+1); !errors.Is(err, ErrNoWinningTokens) {
		t.Errorf("expected ErrNoWinningTokens, got %v", err)
	}
}

func TestBuyTransferFailureLeavesStateUntouched(t *testing.T) {
	svc, st, v := newTestService(t)
	initProtocol(t, svc)
	m := createMarket(t, svc, v, 1_000_000)

	// Trader has no funds: the transfer fails before any mutation.
	_, err := svc.Buy(context.Background(), "pauper", m.ID, model.SideYes, 10_000, 0)
	if !errors.Is(err, vault.ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}

	after, _ := st.GetMarket(context.Background(), m.ID)
	if after.Reserves != m.Reserves || after.YesSupply != m.YesSupply || after.NoSupply != m.NoSupply {
		t.Error("market state changed despite failed transfer")
	}
}

func TestLedgerEventsRecorded(t *testing.T) {
	svc, st, v := newTestService(t)
	initProtocol(t, svc)
	m := createMarket(t, svc, v, 1_000_000)

	v.Fund("trader", 10_000)
	if _, err := svc.Buy(context.Background(), "trader", m.ID, model.SideYes, 10_000, 0); err != nil {
		t.Fatalf("buy: %v", err)
	}

	events, err := st.GetEventsByMarket(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Kind != model.EventPublicTrade {
		t.Errorf("kind = %s, want %s", ev.Kind, model.EventPublicTrade)
	}
	if ev.Side != model.SideYes {
		t.Errorf("side = %s, want YES", ev.Side)
	}
}
