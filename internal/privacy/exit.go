package privacy

import (
	"context"
	"errors"
	"math/big"

	"github.com/veilmarket/settlement-engine/internal/commit"
	"github.com/veilmarket/settlement-engine/internal/engine"
	"github.com/veilmarket/settlement-engine/internal/metrics"
	"github.com/veilmarket/settlement-engine/internal/model"
	"github.com/veilmarket/settlement-engine/internal/store"
)

// PayoutDenomination is the fixed unit claims are funded in. Payouts are
// floored to a multiple of it so claim amounts cannot be correlated back to
// the exact position that produced them.
const PayoutDenomination uint64 = 1_000_000

// InitClaim pre-creates an empty payout claim bound to a payout commitment.
// The commitment is published here, before the underlying secret is ever
// revealed, which is what lets the later funding and claiming steps be
// submitted by unlinked parties.
func (s *Service) InitClaim(ctx context.Context, marketID uint64, payoutCommitment [32]byte, nonce uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.store.GetMarket(ctx, marketID); err != nil {
		return err
	}

	c := &model.PrivacyClaim{
		MarketID:   marketID,
		Commitment: payoutCommitment,
		Nonce:      nonce,
		Vault:      claimVault(marketID, payoutCommitment),
		LockUntil:  s.now().Add(s.lockDelay),
		CreatedAt:  s.now(),
	}
	if err := s.store.CreateClaim(ctx, c); err != nil {
		return err
	}

	s.emit(ctx, s.event(marketID, model.EventClaimInit, payoutCommitment, 0))
	metrics.ClaimsInitialized.Inc()
	s.log.Info("payout claim initialized", "market_id", marketID)
	return nil
}

// RedeemToClaim converts publicly held winning tokens into a locked claim.
// The payout is floored to the claim denomination, the matching token share
// is burned from the winning supply, and the collateral moves from the
// market vault into the claim's own vault. From that point the funds are
// reachable only through the payout commitment.
func (s *Service) RedeemToClaim(ctx context.Context, marketID, tokens uint64, payoutCommitment [32]byte) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.resolvedMarket(ctx, marketID)
	if err != nil {
		return 0, err
	}

	winning := m.Outcome.Side()
	supply := m.SupplyFor(winning)
	if tokens == 0 || tokens > supply {
		return 0, engine.ErrNoWinningTokens
	}

	locked, burned, err := s.fundClaim(ctx, m, tokens, supply, payoutCommitment)
	if err != nil {
		return 0, err
	}
	if err := s.settleRedemption(ctx, m, winning, locked, burned); err != nil {
		return 0, err
	}

	s.emit(ctx, s.event(marketID, model.EventRedeem, payoutCommitment, locked))
	metrics.Redemptions.Inc()
	s.log.Info("public position redeemed to claim", "market_id", marketID, "locked", locked)
	return locked, nil
}

// RedeemPositionToClaim converts a dark-pool position's winning balance into
// a locked claim. Anyone can trigger it with the position commitment; the
// funds still only answer to whoever can open the payout commitment, so
// triggering early steals nothing.
func (s *Service) RedeemPositionToClaim(ctx context.Context, marketID uint64, positionCommitment, payoutCommitment [32]byte) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.resolvedMarket(ctx, marketID)
	if err != nil {
		return 0, err
	}

	pos, err := s.store.GetPrivacyPosition(ctx, marketID, positionCommitment)
	if err != nil {
		return 0, err
	}
	if pos.Redeemed {
		return 0, ErrAlreadyClaimed
	}

	winning := m.Outcome.Side()
	supply := m.SupplyFor(winning)
	balance := pos.YesAmount
	if winning == model.SideNo {
		balance = pos.NoAmount
	}
	if balance == 0 {
		return 0, engine.ErrNoWinningTokens
	}
	if balance > supply {
		balance = supply
	}

	locked, burned, err := s.fundClaim(ctx, m, balance, supply, payoutCommitment)
	if err != nil {
		return 0, err
	}
	if err := s.settleRedemption(ctx, m, winning, locked, burned); err != nil {
		return 0, err
	}

	if winning == model.SideYes {
		pos.YesAmount -= burned
	} else {
		pos.NoAmount -= burned
	}
	if pos.YesAmount == 0 && pos.NoAmount == 0 {
		pos.Redeemed = true
	}
	if err := s.store.PutPrivacyPosition(ctx, pos); err != nil {
		return 0, err
	}

	s.emit(ctx, s.event(marketID, model.EventRedeem, payoutCommitment, locked))
	metrics.Redemptions.Inc()
	s.log.Info("dark-pool position redeemed to claim", "market_id", marketID, "locked", locked)
	return locked, nil
}

// fundClaim computes the denominated payout for a winning balance, moves it
// from the market vault into the claim vault, and arms the claim's lock
// window. Returns the locked collateral and the tokens burned for it.
func (s *Service) fundClaim(ctx context.Context, m *model.Market, balance, supply uint64, payoutCommitment [32]byte) (locked, burned uint64, err error) {
	c, err := s.store.GetClaim(ctx, m.ID, payoutCommitment)
	if err != nil {
		return 0, 0, err
	}
	if c.Redeemed {
		return 0, 0, ErrAlreadyClaimed
	}

	raw := mulDiv(balance, m.Reserves, supply)
	locked = raw - raw%PayoutDenomination
	if locked == 0 {
		return 0, 0, ErrAmountTooSmall
	}
	// Burn only the token share backing the locked amount; the rounding
	// remainder stays in the position.
	burned = mulDiv(locked, supply, m.Reserves)

	if err := s.vault.TransferOut(ctx, m.Vault, c.Vault, locked); err != nil {
		return 0, 0, err
	}

	c.Amount = locked
	c.LockUntil = s.now().Add(s.lockDelay)
	if err := s.store.UpdateClaim(ctx, c); err != nil {
		return 0, 0, err
	}
	return locked, burned, nil
}

// settleRedemption applies the reserve and supply decrements for a funded
// claim.
func (s *Service) settleRedemption(ctx context.Context, m *model.Market, winning model.Side, locked, burned uint64) error {
	newYes, newNo := m.YesSupply, m.NoSupply
	if winning == model.SideYes {
		newYes -= burned
	} else {
		newNo -= burned
	}
	m.Reserves -= locked
	m.YesSupply, m.NoSupply = newYes, newNo
	return s.store.UpdateMarketState(ctx, m.ID, m.Reserves, newYes, newNo)
}

// Claim releases a funded claim to its committed recipient. The caller may
// be anyone, a relayer included: the payout commitment already binds the
// secret, the literal recipient address, and the nonce, so a relayer that
// swaps in its own address produces a different hash and fails with
// ErrInvalidProof. An optional relayer fee is carved out of the payout.
func (s *Service) Claim(ctx context.Context, marketID uint64, secret [32]byte, recipient string, nonce uint64, relayer string, relayerFee uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pc := commit.PayoutCommitment(secret, recipient, nonce)
	c, err := s.store.GetClaim(ctx, marketID, pc)
	if errors.Is(err, store.ErrNotFound) {
		metrics.ClaimRejections.WithLabelValues("invalid_proof").Inc()
		return 0, ErrInvalidProof
	}
	if err != nil {
		return 0, err
	}
	if c.Redeemed {
		metrics.ClaimRejections.WithLabelValues("already_claimed").Inc()
		return 0, ErrAlreadyClaimed
	}
	if s.now().Before(c.LockUntil) {
		metrics.ClaimRejections.WithLabelValues("lock_not_elapsed").Inc()
		return 0, ErrLockNotElapsed
	}
	if relayerFee > c.Amount {
		return 0, ErrAmountTooSmall
	}

	payout := c.Amount - relayerFee
	if err := s.vault.TransferOut(ctx, c.Vault, recipient, payout); err != nil {
		return 0, err
	}
	if relayer != "" && relayerFee > 0 {
		if err := s.vault.TransferOut(ctx, c.Vault, relayer, relayerFee); err != nil {
			return 0, err
		}
	}

	c.Redeemed = true
	if err := s.store.UpdateClaim(ctx, c); err != nil {
		return 0, err
	}

	s.emit(ctx, s.event(marketID, model.EventClaim, pc, c.Amount))
	metrics.ClaimsRedeemed.Inc()
	s.log.Info("payout claim released", "market_id", marketID, "amount", c.Amount)
	return payout, nil
}

// mulDiv computes ⌊a × b / d⌋ exactly. d > 0 is the caller's responsibility.
func mulDiv(a, b, d uint64) uint64 {
	p := new(big.Int).SetUint64(a)
	p.Mul(p, new(big.Int).SetUint64(b))
	p.Div(p, new(big.Int).SetUint64(d))
	return p.Uint64()
}
