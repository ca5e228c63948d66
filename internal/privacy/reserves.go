package privacy

import (
	"context"

	"github.com/google/uuid"

	"github.com/veilmarket/settlement-engine/internal/metrics"
	"github.com/veilmarket/settlement-engine/internal/model"
)

// BlindExecutor combines ciphertexts homomorphically without decrypting
// them. Production deployments inject a client for an external encrypted
// compute service; the engine itself never holds a decryption key.
type BlindExecutor interface {
	Add(ctx context.Context, a, b [model.CiphertextSize]byte) ([model.CiphertextSize]byte, error)
}

// XORExecutor is a development stand-in for a real homomorphic backend. It
// folds deltas together with XOR, which preserves the "never decrypt"
// contract but is not additively meaningful.
type XORExecutor struct{}

func (XORExecutor) Add(_ context.Context, a, b [model.CiphertextSize]byte) ([model.CiphertextSize]byte, error) {
	var out [model.CiphertextSize]byte
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out, nil
}

// CreateEncryptedState installs the ciphertext reserve record for a market.
// The initial reserves ciphertext comes from the client, already encrypted
// under the given public key; supplies start as zero ciphertexts.
func (s *Service) CreateEncryptedState(ctx context.Context, marketID uint64, encryptedReserves []byte, encryptionKey [32]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(encryptedReserves) != model.CiphertextSize {
		return ErrCiphertextSize
	}
	if _, err := s.store.GetMarket(ctx, marketID); err != nil {
		return err
	}

	st := &model.EncryptedMarketState{
		MarketID:      marketID,
		EncryptionKey: encryptionKey,
		CreatedAt:     s.now(),
	}
	copy(st.EncryptedReserves[:], encryptedReserves)
	if err := s.store.CreateEncryptedState(ctx, st); err != nil {
		return err
	}
	s.log.Info("encrypted market state created", "market_id", marketID)
	return nil
}

// BlindUpdate folds an encrypted delta into the ciphertext reserves and the
// chosen supply side without ever decrypting either operand. The delta must
// be exactly CiphertextSize bytes; anything else is rejected so malformed
// ciphertexts cannot silently corrupt the state.
//
// The update is observable only as "something changed": the ciphertexts are
// replaced wholesale and keep their fixed size, so their byte length leaks
// no magnitude information.
func (s *Service) BlindUpdate(ctx context.Context, marketID uint64, encryptedDelta []byte, isYes bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(encryptedDelta) != model.CiphertextSize {
		return ErrCiphertextSize
	}
	st, err := s.store.GetEncryptedState(ctx, marketID)
	if err != nil {
		return err
	}

	var delta [model.CiphertextSize]byte
	copy(delta[:], encryptedDelta)

	if isYes {
		if st.EncryptedYesSupply, err = s.executor.Add(ctx, st.EncryptedYesSupply, delta); err != nil {
			return err
		}
	} else {
		if st.EncryptedNoSupply, err = s.executor.Add(ctx, st.EncryptedNoSupply, delta); err != nil {
			return err
		}
	}
	if st.EncryptedReserves, err = s.executor.Add(ctx, st.EncryptedReserves, delta); err != nil {
		return err
	}

	if err := s.store.UpdateEncryptedState(ctx, st); err != nil {
		return err
	}

	// No commitment, no amount: the event says only that an update landed.
	s.emit(ctx, model.LedgerEvent{
		ID:        uuid.New().String(),
		MarketID:  marketID,
		Kind:      model.EventBlindUpdate,
		Timestamp: s.now(),
	})
	metrics.BlindUpdates.Inc()
	s.log.Info("blind reserve update applied", "market_id", marketID)
	return nil
}
