package integrity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"recall254/signing-core/internal/store"
	"recall254/signing-core/pkg/models"
)

// ErrHashMismatch flags a record whose stored hash no longer matches its
// fields. It must be surfaced for review, never auto-corrected.
var ErrHashMismatch = errors.New("INTEGRITY_HASH_MISMATCH")

// Checker recomputes integrity hashes from the authoritative store.
type Checker struct {
	signatures store.Signatures
}

func NewChecker(signatures store.Signatures) *Checker {
	return &Checker{signatures: signatures}
}

// Compute derives the integrity hash for a persisted record from its own
// fields. The timestamp comes from the signed payload, which is immutable.
func Compute(rec models.SignatureRecord) (string, error) {
	var payload models.SignaturePayload
	if err := json.Unmarshal([]byte(rec.Certificate.Payload), &payload); err != nil {
		return "", fmt.Errorf("decode certificate payload: %w", err)
	}
	voterHash := VoterHash(rec.VoterID, rec.VoterName)
	return Hash(rec.ID, rec.PetitionID, voterHash, payload.Timestamp, rec.Ward, rec.Constituency), nil
}

// Verify re-fetches the record and compares the recomputed hash with
// expectedHash.
func (c *Checker) Verify(ctx context.Context, signatureID, expectedHash string) error {
	rec, err := c.signatures.Get(ctx, signatureID)
	if err != nil {
		return err
	}
	computed, err := Compute(rec)
	if err != nil {
		return err
	}
	if computed != expectedHash {
		return fmt.Errorf("%w: signature %s", ErrHashMismatch, signatureID)
	}
	return nil
}
