package privacy

import (
	"context"
	"log/slog"

	"github.com/veilmarket/settlement-engine/internal/commit"
	"github.com/veilmarket/settlement-engine/internal/model"
)

// TreeForwarder hands position leaves to the external compression
// collaborator that maintains the merkle tree. The validity proof is an
// opaque blob produced off-engine; it travels with the leaf unverified.
type TreeForwarder interface {
	AppendLeaf(ctx context.Context, marketID uint64, leaf [32]byte, proof []byte) error
}

// LogForwarder is a development stand-in that records leaves to the log
// instead of a real tree service.
type LogForwarder struct {
	Log *slog.Logger
}

func (f LogForwarder) AppendLeaf(_ context.Context, marketID uint64, leaf [32]byte, _ []byte) error {
	f.Log.Info("leaf forwarded", "market_id", marketID, "leaf", leaf)
	return nil
}

// CompressPosition builds a compressed position leaf and forwards it to the
// tree collaborator. Nothing is stored locally: the returned record is the
// caller's handle, and the 32-byte leaf is all the tree ever sees.
//
// The audit commitment binds the view key, the owner commitment, and the
// amount, so a later disclosure can prove exactly these fields without
// opening anything else. Metadata is sealed under the view key.
func (s *Service) CompressPosition(ctx context.Context, marketID uint64, ownerCommitment, encryptedDirection [32]byte, amount uint64, viewKey [32]byte, metadata, proof []byte) (*model.CompressedPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.openMarket(ctx, marketID); err != nil {
		return nil, err
	}

	pos := &model.CompressedPosition{
		MarketID:           marketID,
		OwnerCommitment:    ownerCommitment,
		EncryptedDirection: encryptedDirection,
		EncryptedMetadata:  commit.SealMetadata(viewKey, metadata),
		AuditCommitment:    commit.AuditCommitment(viewKey, ownerCommitment, amount),
		ViewKeyHash:        commit.ViewKeyHash(viewKey),
		Amount:             amount,
		Proof:              append([]byte(nil), proof...),
		CreatedAt:          s.now(),
	}

	leaf := commit.PositionLeaf(marketID, ownerCommitment, encryptedDirection, amount)
	if err := s.tree.AppendLeaf(ctx, marketID, leaf, pos.Proof); err != nil {
		return nil, err
	}

	s.log.Info("compressed position forwarded", "market_id", marketID)
	return pos, nil
}
