package privacy

import (
	"context"
	"errors"

	"github.com/veilmarket/settlement-engine/internal/commit"
	"github.com/veilmarket/settlement-engine/internal/metrics"
	"github.com/veilmarket/settlement-engine/internal/model"
	"github.com/veilmarket/settlement-engine/internal/store"
)

// TradeShielded places a blind bet: the collateral enters the reserve but
// the direction is stored only as a one-time-pad cipher that the secret
// holder can open later. No outcome tokens are minted until reveal, so the
// public supplies do not move and the curve leaks nothing about direction.
//
// One-shot per commitment: a second trade under the same commitment fails
// with store.ErrAlreadyExists.
func (s *Service) TradeShielded(ctx context.Context, funder string, marketID uint64, commitment, directionCipher [32]byte, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.openMarket(ctx, marketID)
	if err != nil {
		return err
	}
	if amount == 0 {
		return ErrAmountTooSmall
	}

	// Refuse reused commitments before any collateral moves.
	if _, err := s.store.GetShieldedPosition(ctx, marketID, commitment); err == nil {
		return store.ErrAlreadyExists
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	if err := s.vault.TransferIn(ctx, funder, m.Vault, amount); err != nil {
		return err
	}

	pos := &model.ShieldedPosition{
		MarketID:            marketID,
		Commitment:          commitment,
		DirectionCipher:     directionCipher,
		ShieldedAmount:      amount,
		CollateralDeposited: amount,
		CreatedAt:           s.now(),
	}
	if err := s.store.CreateShieldedPosition(ctx, pos); err != nil {
		return err
	}
	if err := s.store.UpdateMarketState(ctx, marketID, m.Reserves+amount, m.YesSupply, m.NoSupply); err != nil {
		return err
	}

	s.emit(ctx, s.event(marketID, model.EventShieldedTrade, commitment, amount))
	metrics.RecordTrade(metrics.ChannelShielded)
	s.log.Info("shielded trade executed", "market_id", marketID, "amount", amount)
	return nil
}

// RevealAndRedeem opens a shielded position after resolution. The secret
// must reproduce the stored commitment; the decoded direction is compared
// against the outcome, and winners are paid back their deposited collateral.
// Losing reveals pay nothing. Either way the position is consumed.
func (s *Service) RevealAndRedeem(ctx context.Context, marketID uint64, secret [32]byte, recipient string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.resolvedMarket(ctx, marketID)
	if err != nil {
		return 0, err
	}

	commitment := commit.Commitment(secret)
	pos, err := s.store.GetShieldedPosition(ctx, marketID, commitment)
	if errors.Is(err, store.ErrNotFound) {
		// A missing position and a bad secret are indistinguishable on
		// purpose: the lookup key is derived from the secret.
		return 0, ErrInvalidProof
	}
	if err != nil {
		return 0, err
	}
	if pos.Redeemed {
		return 0, ErrAlreadyClaimed
	}

	betYes := commit.DecodeDirection(pos.DirectionCipher, secret)
	won := betYes == (m.Outcome == model.OutcomeYes)

	var payout uint64
	if won {
		payout = pos.CollateralDeposited
	}
	// Pro-rata redemptions draw on the whole reserve, shielded deposits
	// included, so the refund can exceed what is left. The vault may still
	// hold a fee surplus that would let the transfer succeed; reject before
	// the reserve decrement can wrap.
	if payout > m.Reserves {
		return 0, ErrInsufficientReserves
	}
	if payout > 0 {
		if err := s.vault.TransferOut(ctx, m.Vault, recipient, payout); err != nil {
			return 0, err
		}
		if err := s.store.UpdateMarketState(ctx, marketID, m.Reserves-payout, m.YesSupply, m.NoSupply); err != nil {
			return 0, err
		}
	}
	if err := s.store.MarkShieldedRedeemed(ctx, marketID, commitment); err != nil {
		return 0, err
	}

	s.emit(ctx, s.event(marketID, model.EventRedeem, commitment, payout))
	metrics.Redemptions.Inc()
	s.log.Info("shielded position revealed",
		"market_id", marketID,
		"won", won,
		"payout", payout)
	return payout, nil
}
