package signing

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha512"
	"crypto/x509"
	"encoding/json"
	"time"

	"recall254/signing-core/pkg/models"
)

const reasonVerificationFailed = "SIGNATURE_VERIFICATION_FAILED"

// Verification is the result of checking one signed bundle.
type Verification struct {
	IsValid   bool
	Payload   *models.SignaturePayload
	Context   string
	Timestamp time.Time
	Reason    string
}

// Verify re-checks a signed bundle against its embedded public key. Pure
// function: no keyring, no storage, no network. The payload bytes are used
// exactly as signed, never re-serialized.
func Verify(bundle models.SignedBundle) Verification {
	pub, err := parseP384PublicKey(bundle.PublicKey)
	if err != nil {
		return Verification{Reason: reasonVerificationFailed}
	}
	digest := sha512.Sum384(bundle.PayloadBytes)
	if !ecdsa.VerifyASN1(pub, digest[:], bundle.Signature) {
		return Verification{Reason: reasonVerificationFailed}
	}

	var payload models.SignaturePayload
	if err := json.Unmarshal(bundle.PayloadBytes, &payload); err != nil {
		return Verification{Reason: reasonVerificationFailed}
	}
	return Verification{
		IsValid:   true,
		Payload:   &payload,
		Context:   payload.Context,
		Timestamp: time.UnixMilli(payload.Timestamp).UTC(),
	}
}

func parseP384PublicKey(pkix []byte) (*ecdsa.PublicKey, error) {
	parsed, err := x509.ParsePKIXPublicKey(pkix)
	if err != nil {
		return nil, err
	}
	pub, ok := parsed.(*ecdsa.PublicKey)
	if !ok || pub.Curve != elliptic.P384() {
		return nil, models.ErrInvalidCertificate
	}
	return pub, nil
}
