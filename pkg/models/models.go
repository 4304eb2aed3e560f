package models

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// CertificateAlgorithm is the only algorithm tag accepted on read. It doubles
// as the certificate schema version.
const CertificateAlgorithm = "ECDSA-P384-SHA384"

var ErrInvalidCertificate = errors.New("invalid signature certificate")

// DeviceIdentity binds keys and payloads to one installation. Created once,
// never rotated, removed only on explicit reset.
type DeviceIdentity struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// KeyMaterial is the only form in which the signing key persists. The
// private key inside WrappedPrivateKey is PKCS#8, sealed with AES-256-GCM.
type KeyMaterial struct {
	WrappedPrivateKey []byte    `json:"wrapped_private_key"`
	Salt              []byte    `json:"salt"`
	IV                []byte    `json:"iv"`
	KeyVersion        string    `json:"key_version"`
	DeviceID          string    `json:"device_id"`
	SecretSource      string    `json:"secret_source"`
	CreatedAt         time.Time `json:"created_at"`
}

// Secret sources recorded in KeyMaterial. A device-sourced secret can be
// re-derived from DeviceID and KeyVersion without user input.
const (
	SecretSourcePassphrase = "passphrase"
	SecretSourceDevice     = "device"
)

// PublicKey is one exported verification key. Historical entries are kept
// per key version so old signatures stay verifiable after rotation.
type PublicKey struct {
	KeyVersion string `json:"key_version"`
	PKIX       []byte `json:"pkix"`
}

// ClientEnvironment describes the signing client; it is part of the signed
// payload so the evidence records where it was produced.
type ClientEnvironment struct {
	UserAgent string `json:"userAgent"`
	Origin    string `json:"origin"`
}

// SignaturePayload is the canonical signed document. Field declaration order
// is the wire order; the struct marshals to the exact byte sequence that is
// hashed and signed, and those bytes are never regenerated afterwards.
type SignaturePayload struct {
	PetitionID        string            `json:"petitionId"`
	PetitionTitle     string            `json:"petitionTitle"`
	VoterName         string            `json:"voterName"`
	VoterID           string            `json:"voterId"`
	Constituency      string            `json:"constituency"`
	Ward              string            `json:"ward"`
	Context           string            `json:"context"`
	Timestamp         int64             `json:"timestamp"`
	KeyVersion        string            `json:"keyVersion"`
	DeviceID          string            `json:"deviceId"`
	ClientEnvironment ClientEnvironment `json:"clientEnvironment"`
}

// SignedBundle is the output of one sign operation: the payload bytes as
// signed plus everything needed to verify them independently.
type SignedBundle struct {
	PayloadBytes []byte `json:"payload_bytes"`
	Signature    []byte `json:"signature"`
	PublicKey    []byte `json:"public_key"`
	KeyVersion   string `json:"key_version"`
	DeviceID     string `json:"device_id"`
	Timestamp    int64  `json:"timestamp"`
}

// SignatureCertificate is the bit-exact persisted certificate shape.
type SignatureCertificate struct {
	CryptoSignature string `json:"cryptoSignature"`
	PublicKey       string `json:"publicKey"`
	Payload         string `json:"payload"`
	KeyVersion      string `json:"keyVersion"`
	DeviceID        string `json:"deviceId"`
	Algorithm       string `json:"algorithm"`
	Verified        bool   `json:"verified"`
}

// ParseSignatureCertificate decodes and validates a persisted certificate.
// The algorithm tag is the schema discriminator; anything else is rejected
// instead of being trusted as untyped JSON.
func ParseSignatureCertificate(raw []byte) (SignatureCertificate, error) {
	var cert SignatureCertificate
	if err := json.Unmarshal(raw, &cert); err != nil {
		return SignatureCertificate{}, ErrInvalidCertificate
	}
	if cert.Algorithm != CertificateAlgorithm {
		return SignatureCertificate{}, ErrInvalidCertificate
	}
	if strings.TrimSpace(cert.CryptoSignature) == "" || strings.TrimSpace(cert.Payload) == "" {
		return SignatureCertificate{}, ErrInvalidCertificate
	}
	return cert, nil
}

// Stage records how far the signing pipeline advanced for one record, so an
// interrupted pipeline can resume instead of silently stopping part-way.
type Stage string

const (
	StageSigned    Stage = "signed"
	StageHashed    Stage = "hashed"
	StageReceipted Stage = "receipted"
	StageComplete  Stage = "complete"
)

// SignatureRecord is the persisted legal evidence record. Unique per
// (PetitionID, VoterID); never deleted. Mutations attach BlockchainHash,
// Receipt and Stage only; Certificate.Payload stays byte-identical.
type SignatureRecord struct {
	ID             string               `json:"id"`
	PetitionID     string               `json:"petition_id"`
	VoterID        string               `json:"voter_id"`
	VoterName      string               `json:"voter_name"`
	Constituency   string               `json:"constituency"`
	Ward           string               `json:"ward"`
	Certificate    SignatureCertificate `json:"signature_certificate"`
	BlockchainHash string               `json:"blockchain_hash,omitempty"`
	Receipt        *ReceiptRecord       `json:"receipt,omitempty"`
	Stage          Stage                `json:"stage"`
	CreatedAt      time.Time            `json:"created_at"`
}

// ReceiptRecord is the verifiable proof-of-signing attached to a
// SignatureRecord. VerifyDigest is a salted hash of the last-4 verification
// factor; the factor itself is never stored.
type ReceiptRecord struct {
	ReceiptCode  string    `json:"receipt_code"`
	SystemCode   string    `json:"system_code"`
	UserHash     string    `json:"user_hash"`
	PetitionID   string    `json:"petition_id"`
	SignatureID  string    `json:"signature_id"`
	Constituency string    `json:"constituency"`
	Ward         string    `json:"ward"`
	VerifySalt   string    `json:"verify_salt,omitempty"`
	VerifyDigest string    `json:"verify_digest,omitempty"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	RenewalCount int       `json:"renewal_count"`
}

// ReceiptQRData is the public wire shape embedded in the QR payload. It
// deliberately excludes the verification digest and salt.
type ReceiptQRData struct {
	SystemCode   string `json:"systemCode"`
	UserHash     string `json:"userHash"`
	PetitionID   string `json:"petitionId"`
	SignatureID  string `json:"signatureId"`
	Constituency string `json:"constituency"`
	Ward         string `json:"ward"`
	Timestamp    string `json:"timestamp"`
	ExpiresAt    string `json:"expiresAt"`
}

// QRData projects the record into its QR wire shape.
func (r ReceiptRecord) QRData() ReceiptQRData {
	return ReceiptQRData{
		SystemCode:   r.SystemCode,
		UserHash:     r.UserHash,
		PetitionID:   r.PetitionID,
		SignatureID:  r.SignatureID,
		Constituency: r.Constituency,
		Ward:         r.Ward,
		Timestamp:    r.IssuedAt.UTC().Format(time.RFC3339),
		ExpiresAt:    r.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

// AuditEntry is one append-only forensic record. Details carry
// actor-invariant metadata only, never key material or raw voter PII.
type AuditEntry struct {
	ActionType  string            `json:"action_type"`
	PetitionID  string            `json:"petition_id"`
	SignatureID string            `json:"signature_id"`
	Details     map[string]string `json:"details"`
	CreatedAt   time.Time         `json:"created_at"`
}
