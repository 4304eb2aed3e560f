package signing

import (
	"encoding/json"
	"time"

	"recall254/signing-core/pkg/models"
)

// DefaultContext is the signing context recorded when the caller supplies
// none.
const DefaultContext = "PETITION_SIGNATURE"

// PetitionMeta identifies the petition being signed.
type PetitionMeta struct {
	ID    string
	Title string
}

// VoterData identifies the signer. These fields enter the signed payload
// verbatim; anonymization happens downstream in the hash layer, never here.
type VoterData struct {
	Name         string
	ID           string
	Constituency string
	Ward         string
}

// buildPayload produces the canonical payload and its exact signed bytes.
// The struct's declared field order is the wire order; callers must keep the
// returned bytes and never re-serialize.
func buildPayload(petition PetitionMeta, voter VoterData, sigContext string, at time.Time, keyVersion, deviceID string, env models.ClientEnvironment) (models.SignaturePayload, []byte, error) {
	if sigContext == "" {
		sigContext = DefaultContext
	}
	payload := models.SignaturePayload{
		PetitionID:        petition.ID,
		PetitionTitle:     petition.Title,
		VoterName:         voter.Name,
		VoterID:           voter.ID,
		Constituency:      voter.Constituency,
		Ward:              voter.Ward,
		Context:           sigContext,
		Timestamp:         at.UTC().UnixMilli(),
		KeyVersion:        keyVersion,
		DeviceID:          deviceID,
		ClientEnvironment: env,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return models.SignaturePayload{}, nil, err
	}
	return payload, raw, nil
}
