package signing

import (
	"encoding/base64"

	"recall254/signing-core/pkg/models"
)

// Certificate bundles a verified signature into its persisted shape.
func Certificate(bundle models.SignedBundle, verified bool) models.SignatureCertificate {
	return models.SignatureCertificate{
		CryptoSignature: base64.StdEncoding.EncodeToString(bundle.Signature),
		PublicKey:       base64.StdEncoding.EncodeToString(bundle.PublicKey),
		Payload:         string(bundle.PayloadBytes),
		KeyVersion:      bundle.KeyVersion,
		DeviceID:        bundle.DeviceID,
		Algorithm:       models.CertificateAlgorithm,
		Verified:        verified,
	}
}

// BundleFromCertificate reverses Certificate so persisted records can be
// re-verified long after signing.
func BundleFromCertificate(cert models.SignatureCertificate) (models.SignedBundle, error) {
	if cert.Algorithm != models.CertificateAlgorithm {
		return models.SignedBundle{}, models.ErrInvalidCertificate
	}
	signature, err := base64.StdEncoding.DecodeString(cert.CryptoSignature)
	if err != nil {
		return models.SignedBundle{}, models.ErrInvalidCertificate
	}
	publicKey, err := base64.StdEncoding.DecodeString(cert.PublicKey)
	if err != nil {
		return models.SignedBundle{}, models.ErrInvalidCertificate
	}
	return models.SignedBundle{
		PayloadBytes: []byte(cert.Payload),
		Signature:    signature,
		PublicKey:    publicKey,
		KeyVersion:   cert.KeyVersion,
		DeviceID:     cert.DeviceID,
	}, nil
}
