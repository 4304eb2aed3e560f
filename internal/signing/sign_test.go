package signing

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"recall254/signing-core/internal/keyring"
	"recall254/signing-core/pkg/models"
)

var (
	testPetition = PetitionMeta{ID: "petition-2025-001", Title: "Recall Petition"}
	testVoter    = VoterData{Name: "Jane Wanjiku", ID: "32165498", Constituency: "Langata", Ward: "Kibra"}
)

func newTestEngine(t *testing.T) (*Engine, *keyring.Keyring) {
	t.Helper()
	keys := keyring.New(keyring.NewMemoryStore())
	signedAt := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	engine := NewEngine(keys,
		WithClock(func() time.Time { return signedAt }),
		WithClientEnvironment(models.ClientEnvironment{UserAgent: "test-agent", Origin: "local"}),
	)
	return engine, keys
}

func TestSignThenVerify(t *testing.T) {
	engine, _ := newTestEngine(t)

	bundle, err := engine.Sign(testPetition, testVoter, "", "abc123")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(bundle.Signature) == 0 || len(bundle.PublicKey) == 0 {
		t.Fatalf("incomplete bundle: %+v", bundle)
	}

	verification := Verify(bundle)
	if !verification.IsValid {
		t.Fatalf("expected valid signature, reason %q", verification.Reason)
	}
	if verification.Context != DefaultContext {
		t.Fatalf("want default context, got %q", verification.Context)
	}
	payload := verification.Payload
	if payload.PetitionID != testPetition.ID || payload.VoterID != testVoter.ID {
		t.Fatalf("payload does not match inputs: %+v", payload)
	}
	if payload.Timestamp != time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC).UnixMilli() {
		t.Fatalf("unexpected payload timestamp %d", payload.Timestamp)
	}
	if payload.ClientEnvironment.UserAgent != "test-agent" {
		t.Fatalf("client environment not recorded: %+v", payload.ClientEnvironment)
	}
}

func TestSignBootstrapsKeys(t *testing.T) {
	engine, keys := newTestEngine(t)

	info, err := keys.Info()
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.HasKeys {
		t.Fatal("precondition: keyring must start empty")
	}

	if _, err := engine.Sign(testPetition, testVoter, "", ""); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	info, err = keys.Info()
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if !info.HasKeys {
		t.Fatal("first sign must bootstrap a key pair")
	}
}

func TestSignWrongPassphrase(t *testing.T) {
	engine, keys := newTestEngine(t)
	if _, err := keys.Generate("the-passphrase"); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	_, err := engine.Sign(testPetition, testVoter, "", "not-the-passphrase")
	if !errors.Is(err, keyring.ErrKeyDerivation) {
		t.Fatalf("want ErrKeyDerivation, got %v", err)
	}
}

func TestVerifyTamperedPayload(t *testing.T) {
	engine, _ := newTestEngine(t)
	bundle, err := engine.Sign(testPetition, testVoter, "", "")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	tampered := bundle
	tampered.PayloadBytes = append([]byte(nil), bundle.PayloadBytes...)
	tampered.PayloadBytes[len(tampered.PayloadBytes)/2] ^= 0x01

	verification := Verify(tampered)
	if verification.IsValid {
		t.Fatal("tampered payload must not verify")
	}
	if verification.Reason != reasonVerificationFailed {
		t.Fatalf("want %q, got %q", reasonVerificationFailed, verification.Reason)
	}
}

func TestVerifyForeignPublicKey(t *testing.T) {
	engine, _ := newTestEngine(t)
	bundle, err := engine.Sign(testPetition, testVoter, "", "")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	other := keyring.New(keyring.NewMemoryStore())
	res, err := other.Generate("")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	bundle.PublicKey = res.PublicKey

	if Verify(bundle).IsValid {
		t.Fatal("signature must not verify under another device's key")
	}
}

func TestVerifyGarbagePublicKey(t *testing.T) {
	engine, _ := newTestEngine(t)
	bundle, err := engine.Sign(testPetition, testVoter, "", "")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	bundle.PublicKey = []byte("not a key")
	if Verify(bundle).IsValid {
		t.Fatal("garbage key must not verify")
	}
}

func TestCertificateRoundtrip(t *testing.T) {
	engine, _ := newTestEngine(t)
	bundle, err := engine.Sign(testPetition, testVoter, "CUSTOM_CONTEXT", "")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	cert := Certificate(bundle, true)
	if cert.Algorithm != models.CertificateAlgorithm {
		t.Fatalf("unexpected algorithm tag %q", cert.Algorithm)
	}
	if cert.Payload != string(bundle.PayloadBytes) {
		t.Fatal("certificate must carry the exact signed bytes")
	}

	raw, err := json.Marshal(cert)
	if err != nil {
		t.Fatalf("marshal certificate: %v", err)
	}
	parsed, err := models.ParseSignatureCertificate(raw)
	if err != nil {
		t.Fatalf("ParseSignatureCertificate: %v", err)
	}

	restored, err := BundleFromCertificate(parsed)
	if err != nil {
		t.Fatalf("BundleFromCertificate: %v", err)
	}
	verification := Verify(restored)
	if !verification.IsValid {
		t.Fatalf("restored bundle must verify, reason %q", verification.Reason)
	}
	if verification.Context != "CUSTOM_CONTEXT" {
		t.Fatalf("context lost in roundtrip: %q", verification.Context)
	}
}

func TestBundleFromCertificateRejectsForeignAlgorithm(t *testing.T) {
	engine, _ := newTestEngine(t)
	bundle, err := engine.Sign(testPetition, testVoter, "", "")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	cert := Certificate(bundle, true)
	cert.Algorithm = "RSA-PSS-SHA256"
	if _, err := BundleFromCertificate(cert); !errors.Is(err, models.ErrInvalidCertificate) {
		t.Fatalf("want ErrInvalidCertificate, got %v", err)
	}
}
