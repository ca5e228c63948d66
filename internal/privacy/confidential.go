package privacy

import (
	"context"
	"errors"

	"github.com/veilmarket/settlement-engine/internal/metrics"
	"github.com/veilmarket/settlement-engine/internal/model"
	"github.com/veilmarket/settlement-engine/internal/store"
)

// TradeConfidential records a position whose direction was encrypted by an
// external confidential-execution collaborator before it ever reached this
// service. The engine treats the ciphertext as an opaque blob: it is stored,
// never inspected, and only the named executor can later process it.
//
// The collateral counter stays plaintext for vault accounting; that is the
// only amount the ledger learns.
func (s *Service) TradeConfidential(ctx context.Context, funder string, marketID uint64, commitment [32]byte, encryptedDirection []byte, amount uint64, executor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.openMarket(ctx, marketID)
	if err != nil {
		return err
	}
	if len(encryptedDirection) == 0 {
		return ErrCiphertextSize
	}
	if amount == 0 {
		return ErrAmountTooSmall
	}

	// Refuse reused commitments before any collateral moves.
	if _, err := s.store.GetConfidentialPosition(ctx, marketID, commitment); err == nil {
		return store.ErrAlreadyExists
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	if err := s.vault.TransferIn(ctx, funder, m.Vault, amount); err != nil {
		return err
	}

	pos := &model.ConfidentialPosition{
		MarketID:            marketID,
		Commitment:          commitment,
		EncryptedDirection:  append([]byte(nil), encryptedDirection...),
		CollateralDeposited: amount,
		Executor:            executor,
		CreatedAt:           s.now(),
	}
	if err := s.store.CreateConfidentialPosition(ctx, pos); err != nil {
		return err
	}
	if err := s.store.UpdateMarketState(ctx, marketID, m.Reserves+amount, m.YesSupply, m.NoSupply); err != nil {
		return err
	}

	s.emit(ctx, s.event(marketID, model.EventConfidentialTrade, commitment, amount))
	metrics.RecordTrade(metrics.ChannelConfidential)
	s.log.Info("confidential trade recorded",
		"market_id", marketID,
		"amount", amount,
		"executor", executor)
	return nil
}
