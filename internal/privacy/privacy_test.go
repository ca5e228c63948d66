package privacy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/veilmarket/settlement-engine/internal/commit"
	"github.com/veilmarket/settlement-engine/internal/curve"
	"github.com/veilmarket/settlement-engine/internal/engine"
	"github.com/veilmarket/settlement-engine/internal/model"
	"github.com/veilmarket/settlement-engine/internal/store"
	"github.com/veilmarket/settlement-engine/internal/vault"
)

var testTime = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

const lockDelay = 5 * time.Second

func newTestService(t *testing.T) (*Service, *store.MemoryStore, *vault.MemoryVault) {
	t.Helper()
	st := store.NewMemoryStore()
	v := vault.NewMemoryVault()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(st, v, XORExecutor{}, LogForwarder{Log: logger}, lockDelay, logger)
	svc.now = func() time.Time { return testTime }

	err := st.PutConfig(context.Background(), &model.Config{Admin: "admin", Oracle: "oracle"})
	if err != nil {
		t.Fatalf("put config: %v", err)
	}
	return svc, st, v
}

func seedMarket(t *testing.T, st *store.MemoryStore, v *vault.MemoryVault, reserves, yes, no uint64) *model.Market {
	t.Helper()
	m := &model.Market{
		ID:        1,
		Question:  "will it rain tomorrow?",
		EndTime:   testTime.Add(24 * time.Hour),
		Reserves:  reserves,
		YesSupply: yes,
		NoSupply:  no,
		Vault:     "vault:market:1",
		CreatedAt: testTime,
	}
	if err := st.CreateMarket(context.Background(), m); err != nil {
		t.Fatalf("create market: %v", err)
	}
	v.Fund(m.Vault, reserves)
	return m
}

func resolveYes(t *testing.T, st *store.MemoryStore, id uint64) {
	t.Helper()
	if err := st.ResolveMarket(context.Background(), id, model.OutcomeYes); err != nil {
		t.Fatalf("resolve: %v", err)
	}
}

func testSecret(b byte) [32]byte {
	var s [32]byte
	for i := range s {
		s[i] = b
	}
	return s
}

// --- Dark pool ---

func TestTradePrivacyAccumulates(t *testing.T) {
	svc, st, v := newTestService(t)
	side := curve.BalancedSupply(1_000_000)
	m := seedMarket(t, st, v, 1_000_000, side, side)

	secret := testSecret(0x01)
	commitment := commit.Commitment(secret)
	v.Fund("funder", 750_000)

	minted1, err := svc.TradePrivacy(context.Background(), "funder", m.ID, commitment, model.SideYes, 500_000, 0)
	if err != nil {
		t.Fatalf("first trade: %v", err)
	}
	minted2, err := svc.TradePrivacy(context.Background(), "funder", m.ID, commitment, model.SideYes, 250_000, 0)
	if err != nil {
		t.Fatalf("second trade: %v", err)
	}

	pos, err := st.GetPrivacyPosition(context.Background(), m.ID, commitment)
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if pos.YesAmount != minted1+minted2 {
		t.Errorf("accumulated balance = %d, want %d", pos.YesAmount, minted1+minted2)
	}
	if pos.NoAmount != 0 {
		t.Errorf("no balance = %d, want 0", pos.NoAmount)
	}

	after, _ := st.GetMarket(context.Background(), m.ID)
	if after.Reserves != 1_750_000 {
		t.Errorf("reserves = %d, want 1750000", after.Reserves)
	}
	if !curve.InvariantHolds(after.Reserves, after.YesSupply, after.NoSupply) {
		t.Error("invariant violated after dark-pool trades")
	}
}

func TestPrivacyEventsOmitDirection(t *testing.T) {
	svc, st, v := newTestService(t)
	side := curve.BalancedSupply(1_000_000)
	m := seedMarket(t, st, v, 1_000_000, side, side)

	commitment := commit.Commitment(testSecret(0x02))
	v.Fund("funder", 100_000)
	if _, err := svc.TradePrivacy(context.Background(), "funder", m.ID, commitment, model.SideNo, 100_000, 0); err != nil {
		t.Fatalf("trade: %v", err)
	}

	events, _ := st.GetEventsByMarket(context.Background(), m.ID)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Side != "" {
		t.Errorf("private event leaked side %q", ev.Side)
	}
	if !bytes.Equal(ev.Commitment, commitment[:]) {
		t.Error("event missing commitment")
	}
	if ev.Amount != 100_000 {
		t.Errorf("event amount = %d, want volume 100000", ev.Amount)
	}
}

// --- Shielded (blind bets) ---

func TestShieldedOneShot(t *testing.T) {
	svc, st, v := newTestService(t)
	side := curve.BalancedSupply(1_000_000)
	m := seedMarket(t, st, v, 1_000_000, side, side)

	secret := testSecret(0x03)
	commitment := commit.Commitment(secret)
	cipher := commit.EncodeDirection(true, secret)
	v.Fund("funder", 100_000)

	if err := svc.TradeShielded(context.Background(), "funder", m.ID, commitment, cipher, 50_000); err != nil {
		t.Fatalf("trade: %v", err)
	}
	err := svc.TradeShielded(context.Background(), "funder", m.ID, commitment, cipher, 50_000)
	if !errors.Is(err, store.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists for reused commitment, got %v", err)
	}
	if got := v.Balance("funder"); got != 50_000 {
		t.Errorf("funder balance = %d, want 50000 untouched by rejected trade", got)
	}

	// Reserves grew without minting: supplies unchanged.
	after, _ := st.GetMarket(context.Background(), m.ID)
	if after.Reserves != 1_050_000 {
		t.Errorf("reserves = %d, want 1050000", after.Reserves)
	}
	if after.YesSupply != side || after.NoSupply != side {
		t.Error("shielded trade must not move public supplies")
	}
}

func TestRevealAndRedeem(t *testing.T) {
	svc, st, v := newTestService(t)
	side := curve.BalancedSupply(1_000_000)
	m := seedMarket(t, st, v, 1_000_000, side, side)

	winner := testSecret(0x04)
	loser := testSecret(0x05)
	v.Fund("funder", 80_000)
	if err := svc.TradeShielded(context.Background(), "funder", m.ID, commit.Commitment(winner), commit.EncodeDirection(true, winner), 50_000); err != nil {
		t.Fatalf("winner trade: %v", err)
	}
	if err := svc.TradeShielded(context.Background(), "funder", m.ID, commit.Commitment(loser), commit.EncodeDirection(false, loser), 30_000); err != nil {
		t.Fatalf("loser trade: %v", err)
	}

	// Before resolution.
	if _, err := svc.RevealAndRedeem(context.Background(), m.ID, winner, "alice"); !errors.Is(err, engine.ErrMarketNotResolved) {
		t.Errorf("expected ErrMarketNotResolved, got %v", err)
	}

	resolveYes(t, st, m.ID)

	// Unknown secret.
	if _, err := svc.RevealAndRedeem(context.Background(), m.ID, testSecret(0x99), "alice"); !errors.Is(err, ErrInvalidProof) {
		t.Errorf("expected ErrInvalidProof, got %v", err)
	}

	payout, err := svc.RevealAndRedeem(context.Background(), m.ID, winner, "alice")
	if err != nil {
		t.Fatalf("winning reveal: %v", err)
	}
	if payout != 50_000 {
		t.Errorf("winning payout = %d, want 50000", payout)
	}
	if got := v.Balance("alice"); got != 50_000 {
		t.Errorf("alice balance = %d, want 50000", got)
	}

	// Replay.
	if _, err := svc.RevealAndRedeem(context.Background(), m.ID, winner, "alice"); !errors.Is(err, ErrAlreadyClaimed) {
		t.Errorf("expected ErrAlreadyClaimed, got %v", err)
	}

	// Losing reveal pays nothing but still consumes the position.
	payout, err = svc.RevealAndRedeem(context.Background(), m.ID, loser, "bob")
	if err != nil {
		t.Fatalf("losing reveal: %v", err)
	}
	if payout != 0 {
		t.Errorf("losing payout = %d, want 0", payout)
	}
	if _, err := svc.RevealAndRedeem(context.Background(), m.ID, loser, "bob"); !errors.Is(err, ErrAlreadyClaimed) {
		t.Errorf("expected ErrAlreadyClaimed after losing reveal, got %v", err)
	}
}

// A winning shielded refund can exceed what is left in the reserve once
// pro-rata redemptions have drawn on it, even while a fee surplus in the
// vault could still fund the transfer. The reveal must be rejected instead
// of wrapping the reserve below zero.
func TestRevealAndRedeemAfterReservesDrained(t *testing.T) {
	svc, st, v := newTestService(t)
	m := seedMarket(t, st, v, 1_000_000, 1000, 0)
	// Fee surplus accumulated in the vault beyond the tracked reserve.
	v.Fund(m.Vault, 1_200_000)

	secret := testSecret(0x10)
	v.Fund("funder", 1_700_000)
	if err := svc.TradeShielded(context.Background(), "funder", m.ID, commit.Commitment(secret), commit.EncodeDirection(true, secret), 1_700_000); err != nil {
		t.Fatalf("shielded trade: %v", err)
	}
	resolveYes(t, st, m.ID)

	// Drain most of the reserve through a pro-rata redemption:
	// 750 of 1000 tokens against R=2,700,000 locks 2,000,000.
	pc := commit.PayoutCommitment(testSecret(0x11), "w", 0)
	if err := svc.InitClaim(context.Background(), m.ID, pc, 0); err != nil {
		t.Fatalf("init claim: %v", err)
	}
	locked, err := svc.RedeemToClaim(context.Background(), m.ID, 750, pc)
	if err != nil {
		t.Fatalf("redeem to claim: %v", err)
	}
	if locked != 2_000_000 {
		t.Fatalf("locked = %d, want 2000000", locked)
	}

	// Reserve is now 700,000 but the vault still holds enough to pay the
	// 1,700,000 refund. The reveal must fail rather than wrap the reserve.
	if _, err := svc.RevealAndRedeem(context.Background(), m.ID, secret, "alice"); !errors.Is(err, ErrInsufficientReserves) {
		t.Fatalf("expected ErrInsufficientReserves, got %v", err)
	}

	after, _ := st.GetMarket(context.Background(), m.ID)
	if after.Reserves != 700_000 {
		t.Errorf("reserves = %d, want 700000 untouched", after.Reserves)
	}
	if got := v.Balance("alice"); got != 0 {
		t.Errorf("recipient balance = %d, want 0", got)
	}
	pos, _ := st.GetShieldedPosition(context.Background(), m.ID, commit.Commitment(secret))
	if pos.Redeemed {
		t.Error("rejected reveal must not consume the position")
	}
}

// --- Confidential execution ---

func TestTradeConfidential(t *testing.T) {
	svc, st, v := newTestService(t)
	side := curve.BalancedSupply(1_000_000)
	m := seedMarket(t, st, v, 1_000_000, side, side)

	commitment := commit.Commitment(testSecret(0x06))
	v.Fund("funder", 40_000)

	err := svc.TradeConfidential(context.Background(), "funder", m.ID, commitment, nil, 40_000, "executor-1")
	if !errors.Is(err, ErrCiphertextSize) {
		t.Errorf("expected ErrCiphertextSize for empty ciphertext, got %v", err)
	}

	blob := []byte("opaque-encrypted-direction")
	if err := svc.TradeConfidential(context.Background(), "funder", m.ID, commitment, blob, 40_000, "executor-1"); err != nil {
		t.Fatalf("trade: %v", err)
	}

	pos, err := st.GetConfidentialPosition(context.Background(), m.ID, commitment)
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if !bytes.Equal(pos.EncryptedDirection, blob) {
		t.Error("ciphertext not stored verbatim")
	}
	if pos.Executor != "executor-1" {
		t.Errorf("executor = %q, want executor-1", pos.Executor)
	}
}

// --- Encrypted reserves ---

func TestBlindUpdate(t *testing.T) {
	svc, st, v := newTestService(t)
	side := curve.BalancedSupply(1_000_000)
	m := seedMarket(t, st, v, 1_000_000, side, side)

	initial := make([]byte, model.CiphertextSize)
	for i := range initial {
		initial[i] = byte(i)
	}
	if err := svc.CreateEncryptedState(context.Background(), m.ID, initial, testSecret(0x07)); err != nil {
		t.Fatalf("create state: %v", err)
	}

	// Wrong-size deltas are rejected before touching state.
	if err := svc.BlindUpdate(context.Background(), m.ID, make([]byte, 63), true); !errors.Is(err, ErrCiphertextSize) {
		t.Errorf("expected ErrCiphertextSize, got %v", err)
	}
	if err := svc.BlindUpdate(context.Background(), m.ID, make([]byte, 65), true); !errors.Is(err, ErrCiphertextSize) {
		t.Errorf("expected ErrCiphertextSize, got %v", err)
	}

	delta := make([]byte, model.CiphertextSize)
	for i := range delta {
		delta[i] = 0xFF
	}
	if err := svc.BlindUpdate(context.Background(), m.ID, delta, true); err != nil {
		t.Fatalf("blind update: %v", err)
	}

	st1, err := st.GetEncryptedState(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if bytes.Equal(st1.EncryptedReserves[:], initial) {
		t.Error("reserves ciphertext unchanged after update")
	}

	// The XOR stand-in is self-inverse: applying the delta again restores
	// the original ciphertext.
	if err := svc.BlindUpdate(context.Background(), m.ID, delta, true); err != nil {
		t.Fatalf("second blind update: %v", err)
	}
	st2, _ := st.GetEncryptedState(context.Background(), m.ID)
	if !bytes.Equal(st2.EncryptedReserves[:], initial) {
		t.Error("double update did not restore reserves ciphertext")
	}
	var zero [model.CiphertextSize]byte
	if st2.EncryptedYesSupply != zero {
		t.Error("double update did not restore yes supply ciphertext")
	}
}

// --- Claim protocol ---

func TestClaimProtocol(t *testing.T) {
	svc, st, v := newTestService(t)
	m := seedMarket(t, st, v, 10_000_000, 1000, 0)
	resolveYes(t, st, m.ID)

	secret := testSecret(0x08)
	const nonce = uint64(7)
	pc := commit.PayoutCommitment(secret, "clean-wallet", nonce)

	if err := svc.InitClaim(context.Background(), m.ID, pc, nonce); err != nil {
		t.Fatalf("init claim: %v", err)
	}
	// Same payout commitment cannot be initialized twice.
	if err := svc.InitClaim(context.Background(), m.ID, pc, nonce); !errors.Is(err, store.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}

	// 500 of 1000 winning tokens → 500×10M/1000 = 5,000,000, already a
	// denomination multiple.
	locked, err := svc.RedeemToClaim(context.Background(), m.ID, 500, pc)
	if err != nil {
		t.Fatalf("redeem to claim: %v", err)
	}
	if locked != 5_000_000 {
		t.Errorf("locked = %d, want 5000000", locked)
	}

	after, _ := st.GetMarket(context.Background(), m.ID)
	if after.Reserves != 5_000_000 || after.YesSupply != 500 {
		t.Errorf("market after redeem: R=%d yes=%d, want 5000000/500", after.Reserves, after.YesSupply)
	}

	// Lock window not elapsed.
	if _, err := svc.Claim(context.Background(), m.ID, secret, "clean-wallet", nonce, "", 0); !errors.Is(err, ErrLockNotElapsed) {
		t.Errorf("expected ErrLockNotElapsed, got %v", err)
	}

	svc.now = func() time.Time { return testTime.Add(lockDelay + time.Second) }

	// Wrong secret.
	if _, err := svc.Claim(context.Background(), m.ID, testSecret(0x99), "clean-wallet", nonce, "", 0); !errors.Is(err, ErrInvalidProof) {
		t.Errorf("expected ErrInvalidProof, got %v", err)
	}
	// A thief substituting its own recipient breaks the commitment.
	if _, err := svc.Claim(context.Background(), m.ID, secret, "thief-wallet", nonce, "", 0); !errors.Is(err, ErrInvalidProof) {
		t.Errorf("expected ErrInvalidProof for substituted recipient, got %v", err)
	}
	// Wrong nonce.
	if _, err := svc.Claim(context.Background(), m.ID, secret, "clean-wallet", nonce+1, "", 0); !errors.Is(err, ErrInvalidProof) {
		t.Errorf("expected ErrInvalidProof for wrong nonce, got %v", err)
	}

	payout, err := svc.Claim(context.Background(), m.ID, secret, "clean-wallet", nonce, "", 0)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if payout != 5_000_000 {
		t.Errorf("payout = %d, want 5000000", payout)
	}
	if got := v.Balance("clean-wallet"); got != 5_000_000 {
		t.Errorf("recipient balance = %d, want 5000000", got)
	}

	// Replay.
	if _, err := svc.Claim(context.Background(), m.ID, secret, "clean-wallet", nonce, "", 0); !errors.Is(err, ErrAlreadyClaimed) {
		t.Errorf("expected ErrAlreadyClaimed, got %v", err)
	}
}

func TestClaimWithRelayerFee(t *testing.T) {
	svc, st, v := newTestService(t)
	m := seedMarket(t, st, v, 10_000_000, 1000, 0)
	resolveYes(t, st, m.ID)

	secret := testSecret(0x09)
	pc := commit.PayoutCommitment(secret, "clean-wallet", 0)
	if err := svc.InitClaim(context.Background(), m.ID, pc, 0); err != nil {
		t.Fatalf("init claim: %v", err)
	}
	if _, err := svc.RedeemToClaim(context.Background(), m.ID, 500, pc); err != nil {
		t.Fatalf("redeem: %v", err)
	}

	svc.now = func() time.Time { return testTime.Add(lockDelay + time.Second) }
	payout, err := svc.Claim(context.Background(), m.ID, secret, "clean-wallet", 0, "relayer", 100_000)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if payout != 4_900_000 {
		t.Errorf("net payout = %d, want 4900000", payout)
	}
	if got := v.Balance("relayer"); got != 100_000 {
		t.Errorf("relayer balance = %d, want 100000", got)
	}
}

func TestRedeemToClaimDenomination(t *testing.T) {
	svc, st, v := newTestService(t)
	m := seedMarket(t, st, v, 10_000_000, 1000, 0)
	resolveYes(t, st, m.ID)

	secret := testSecret(0x0A)
	pc := commit.PayoutCommitment(secret, "w", 0)
	if err := svc.InitClaim(context.Background(), m.ID, pc, 0); err != nil {
		t.Fatalf("init claim: %v", err)
	}

	// 123 tokens → raw 1,230,000 → floored to 1,000,000; 100 tokens burn.
	locked, err := svc.RedeemToClaim(context.Background(), m.ID, 123, pc)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if locked != 1_000_000 {
		t.Errorf("locked = %d, want 1000000", locked)
	}
	after, _ := st.GetMarket(context.Background(), m.ID)
	if after.YesSupply != 900 {
		t.Errorf("yes supply = %d, want 900", after.YesSupply)
	}
}

func TestRedeemToClaimTooSmall(t *testing.T) {
	svc, st, v := newTestService(t)
	m := seedMarket(t, st, v, 500_000, 1000, 0)
	resolveYes(t, st, m.ID)

	pc := commit.PayoutCommitment(testSecret(0x0B), "w", 0)
	if err := svc.InitClaim(context.Background(), m.ID, pc, 0); err != nil {
		t.Fatalf("init claim: %v", err)
	}

	// 10 tokens → raw 5,000 < denomination.
	if _, err := svc.RedeemToClaim(context.Background(), m.ID, 10, pc); !errors.Is(err, ErrAmountTooSmall) {
		t.Errorf("expected ErrAmountTooSmall, got %v", err)
	}
}

func TestRedeemPositionToClaim(t *testing.T) {
	svc, st, v := newTestService(t)
	m := seedMarket(t, st, v, 10_000_000, 1000, 0)

	posSecret := testSecret(0x0C)
	posCommitment := commit.Commitment(posSecret)
	err := st.PutPrivacyPosition(context.Background(), &model.PrivacyPosition{
		MarketID:   m.ID,
		Commitment: posCommitment,
		YesAmount:  500,
		CreatedAt:  testTime,
	})
	if err != nil {
		t.Fatalf("put position: %v", err)
	}
	resolveYes(t, st, m.ID)

	claimSecret := testSecret(0x0D)
	pc := commit.PayoutCommitment(claimSecret, "clean-wallet", 3)
	if err := svc.InitClaim(context.Background(), m.ID, pc, 3); err != nil {
		t.Fatalf("init claim: %v", err)
	}

	locked, err := svc.RedeemPositionToClaim(context.Background(), m.ID, posCommitment, pc)
	if err != nil {
		t.Fatalf("redeem position: %v", err)
	}
	if locked != 5_000_000 {
		t.Errorf("locked = %d, want 5000000", locked)
	}

	pos, _ := st.GetPrivacyPosition(context.Background(), m.ID, posCommitment)
	if pos.YesAmount != 0 {
		t.Errorf("position balance = %d, want 0", pos.YesAmount)
	}
	if !pos.Redeemed {
		t.Error("emptied position should be marked redeemed")
	}

	// Full pipeline: claim pays the clean wallet after the lock.
	svc.now = func() time.Time { return testTime.Add(lockDelay + time.Second) }
	payout, err := svc.Claim(context.Background(), m.ID, claimSecret, "clean-wallet", 3, "", 0)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if payout != 5_000_000 {
		t.Errorf("payout = %d, want 5000000", payout)
	}
}

// --- Compressed positions and audit ---

func TestCompressAndAudit(t *testing.T) {
	svc, st, v := newTestService(t)
	side := curve.BalancedSupply(1_000_000)
	m := seedMarket(t, st, v, 1_000_000, side, side)

	secret := testSecret(0x0E)
	viewKey := testSecret(0x0F)
	owner := commit.Commitment(secret)
	encDir := commit.EncodeDirection(true, secret)
	metadata := []byte("origin: account-7")

	pos, err := svc.CompressPosition(context.Background(), m.ID, owner, encDir, 250_000, viewKey, metadata, []byte{0x01})
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if bytes.Equal(pos.EncryptedMetadata, metadata) {
		t.Error("metadata stored unsealed")
	}

	// Wrong view key is denied outright.
	if _, err := svc.Audit(pos, testSecret(0xEE)); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("expected ErrAccessDenied, got %v", err)
	}

	report, err := svc.Audit(pos, viewKey)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if report.Amount != 250_000 {
		t.Errorf("disclosed amount = %d, want 250000", report.Amount)
	}
	if !bytes.Equal(report.Metadata, metadata) {
		t.Error("metadata round trip failed")
	}

	// Tampering with the committed amount breaks the audit binding.
	tampered := *pos
	tampered.Amount = 999_999
	if _, err := svc.Audit(&tampered, viewKey); !errors.Is(err, ErrInvalidProof) {
		t.Errorf("expected ErrInvalidProof for tampered amount, got %v", err)
	}
}
