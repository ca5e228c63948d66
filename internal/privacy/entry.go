package privacy

import (
	"context"
	"errors"

	"github.com/veilmarket/settlement-engine/internal/curve"
	"github.com/veilmarket/settlement-engine/internal/metrics"
	"github.com/veilmarket/settlement-engine/internal/model"
	"github.com/veilmarket/settlement-engine/internal/store"
)

// TradePrivacy executes a dark-pool trade: collateral enters the public
// curve and mints real outcome tokens, but the tokens land in a position
// keyed only by the commitment. Repeated trades under the same commitment
// accumulate into the existing position; whoever holds the secret owns the
// sum.
//
// The reserve and supply moves are public, so an observer can infer the
// direction of this trade from curve deltas. What stays hidden is who made
// it and what total any one commitment controls across trades.
func (s *Service) TradePrivacy(ctx context.Context, funder string, marketID uint64, commitment [32]byte, side model.Side, collateralIn, minTokensOut uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.openMarket(ctx, marketID)
	if err != nil {
		return 0, err
	}

	target, other := m.SupplyFor(side), m.SupplyFor(side.Opposite())
	minted, err := curve.QuoteBuy(m.Reserves, target, other, collateralIn, minTokensOut)
	if err != nil {
		return 0, err
	}

	pos, err := s.store.GetPrivacyPosition(ctx, marketID, commitment)
	switch {
	case errors.Is(err, store.ErrNotFound):
		pos = &model.PrivacyPosition{
			MarketID:   marketID,
			Commitment: commitment,
			CreatedAt:  s.now(),
		}
	case err != nil:
		return 0, err
	case pos.Redeemed:
		return 0, ErrAlreadyClaimed
	}

	if err := s.vault.TransferIn(ctx, funder, m.Vault, collateralIn); err != nil {
		return 0, err
	}

	newYes, newNo := m.YesSupply, m.NoSupply
	if side == model.SideYes {
		newYes = target + minted
		pos.YesAmount += minted
	} else {
		newNo = target + minted
		pos.NoAmount += minted
	}
	if err := s.store.UpdateMarketState(ctx, marketID, m.Reserves+collateralIn, newYes, newNo); err != nil {
		return 0, err
	}
	if err := s.store.PutPrivacyPosition(ctx, pos); err != nil {
		return 0, err
	}

	// Volume and commitment only. The direction never reaches the ledger.
	s.emit(ctx, s.event(marketID, model.EventPrivacyTrade, commitment, collateralIn))
	metrics.RecordTrade(metrics.ChannelPrivacy)
	s.log.Info("dark-pool trade executed",
		"market_id", marketID,
		"collateral_in", collateralIn)
	return minted, nil
}
