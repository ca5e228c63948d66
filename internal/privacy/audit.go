package privacy

import (
	"github.com/veilmarket/settlement-engine/internal/commit"
	"github.com/veilmarket/settlement-engine/internal/metrics"
	"github.com/veilmarket/settlement-engine/internal/model"
)

// AuditReport is the selective disclosure produced for a compliance review.
// It exists only for the duration of the call; nothing here is persisted.
type AuditReport struct {
	MarketID uint64 `json:"market_id"`
	Amount   uint64 `json:"amount"`
	Metadata []byte `json:"metadata"`
}

// Audit opens a compressed position for a caller holding the matching view
// key. The key is checked against the stored hash first; a mismatch is an
// ErrAccessDenied with no partial disclosure. The audit commitment is then
// re-derived to prove the disclosed amount is the committed one, and the
// sealed metadata is opened.
//
// Disclosure is per-position and call-scoped: presenting a view key here
// grants nothing beyond this one report.
func (s *Service) Audit(pos *model.CompressedPosition, viewKey [32]byte) (*AuditReport, error) {
	if commit.ViewKeyHash(viewKey) != pos.ViewKeyHash {
		metrics.AuditDenials.Inc()
		s.log.Warn("audit disclosure denied", "market_id", pos.MarketID)
		return nil, ErrAccessDenied
	}
	if commit.AuditCommitment(viewKey, pos.OwnerCommitment, pos.Amount) != pos.AuditCommitment {
		return nil, ErrInvalidProof
	}

	return &AuditReport{
		MarketID: pos.MarketID,
		Amount:   pos.Amount,
		Metadata: commit.OpenMetadata(viewKey, pos.EncryptedMetadata),
	}, nil
}
