package store

import (
	"context"
	"errors"

	"recall254/signing-core/pkg/models"
)

var (
	// ErrDuplicateSignature enforces the one-record-per-(petition, voter)
	// invariant. Terminal and user-visible, never retried.
	ErrDuplicateSignature = errors.New("DUPLICATE_SIGNATURE")
	ErrNotFound           = errors.New("record not found")
)

// Signatures is the remote signature/receipt store contract. Insert must be
// an atomic insert-if-absent on (PetitionID, VoterID); that constraint, not
// the orchestrator's pre-check, is the authoritative duplicate guard.
type Signatures interface {
	Insert(ctx context.Context, rec models.SignatureRecord) error
	Get(ctx context.Context, id string) (models.SignatureRecord, error)
	FindByVoter(ctx context.Context, petitionID, voterID string) (models.SignatureRecord, error)
	FindByReceiptCode(ctx context.Context, code string) (models.SignatureRecord, error)
	Update(ctx context.Context, rec models.SignatureRecord) error
}

// AuditLog is append-only; entries are never mutated or deleted.
type AuditLog interface {
	Append(ctx context.Context, entry models.AuditEntry) error
	List(ctx context.Context, petitionID string) ([]models.AuditEntry, error)
}
