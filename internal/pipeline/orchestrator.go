package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"recall254/signing-core/internal/integrity"
	"recall254/signing-core/internal/keyring"
	"recall254/signing-core/internal/receipt"
	"recall254/signing-core/internal/signing"
	"recall254/signing-core/internal/store"
	"recall254/signing-core/pkg/models"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// ErrInvalidRequest rejects a sign request that fails field validation
// before any cryptographic work starts.
var ErrInvalidRequest = errors.New("INVALID_SIGNATURE_REQUEST")

// Orchestrator sequences duplicate-check, sign, verify, persist, hash,
// receipt and audit. It is the only entry point external collaborators call.
type Orchestrator struct {
	keys       *keyring.Keyring
	engine     *signing.Engine
	signatures store.Signatures
	audit      store.AuditLog
	receipts   *receipt.Issuer
	validate   *validator.Validate
	metrics    *Metrics
	log        *slog.Logger
	now        func() time.Time
	newID      func() string
}

type Option func(*Orchestrator)

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func WithLogger(log *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithIDGenerator injects deterministic record IDs for tests.
func WithIDGenerator(newID func() string) Option {
	return func(o *Orchestrator) { o.newID = newID }
}

func New(keys *keyring.Keyring, engine *signing.Engine, signatures store.Signatures, audit store.AuditLog, receipts *receipt.Issuer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		keys:       keys,
		engine:     engine,
		signatures: signatures,
		audit:      audit,
		receipts:   receipts,
		validate:   validator.New(),
		metrics:    NewMetrics(nil),
		log:        slog.Default(),
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SignRequest is the complete input for one signing attempt.
type SignRequest struct {
	PetitionID    string `validate:"required"`
	PetitionTitle string `validate:"required"`
	VoterName     string `validate:"required,min=3"`
	VoterID       string `validate:"required,min=6"`
	VoterPhone    string `validate:"omitempty,min=10"`
	Constituency  string `validate:"required"`
	Ward          string `validate:"required"`
	Context       string `validate:"omitempty"`
	Passphrase    string `validate:"omitempty"`
}

type SignResult struct {
	SignatureID    string
	ReceiptCode    string
	QRImage        []byte
	Receipt        models.ReceiptRecord
	BlockchainHash string
	KeyVersion     string
}

// ProcessSignature runs the full pipeline. Each step's failure aborts all
// later steps; completed persistence steps are not undone (the Stage field
// and Resume cover the gap).
func (o *Orchestrator) ProcessSignature(ctx context.Context, req SignRequest) (SignResult, error) {
	// Cancellation is honored up to the duplicate check; a partially
	// produced signature is useless, so later steps run to completion.
	if err := ctx.Err(); err != nil {
		return SignResult{}, err
	}
	if err := o.validate.Struct(req); err != nil {
		return SignResult{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	// Best-effort guard; the store's unique constraint is authoritative.
	if _, err := o.signatures.FindByVoter(ctx, req.PetitionID, req.VoterID); err == nil {
		o.metrics.Signatures.WithLabelValues("duplicate").Inc()
		return SignResult{}, store.ErrDuplicateSignature
	} else if !errors.Is(err, store.ErrNotFound) {
		return SignResult{}, err
	}

	if err := o.keys.ReconcileDeviceIdentity(); err != nil {
		if !errors.Is(err, keyring.ErrDeviceMismatch) {
			return SignResult{}, err
		}
		// Keys were cleared; signing below bootstraps a fresh pair.
		o.log.Warn("device identity mismatch, crypto state reset")
	}

	signStart := o.now()
	bundle, err := o.engine.Sign(
		signing.PetitionMeta{ID: req.PetitionID, Title: req.PetitionTitle},
		signing.VoterData{Name: req.VoterName, ID: req.VoterID, Constituency: req.Constituency, Ward: req.Ward},
		req.Context,
		req.Passphrase,
	)
	if err != nil {
		o.metrics.Signatures.WithLabelValues("sign_failed").Inc()
		return SignResult{}, err
	}
	verification := signing.Verify(bundle)
	if !verification.IsValid {
		// Never persist a signature that fails its own verification.
		o.metrics.Signatures.WithLabelValues("verify_failed").Inc()
		return SignResult{}, fmt.Errorf("%w: local verification rejected bundle", signing.ErrSigning)
	}
	o.metrics.StepDuration.WithLabelValues("sign").Observe(o.now().Sub(signStart).Seconds())

	rec := models.SignatureRecord{
		ID:           o.newID(),
		PetitionID:   req.PetitionID,
		VoterID:      req.VoterID,
		VoterName:    req.VoterName,
		Constituency: req.Constituency,
		Ward:         req.Ward,
		Certificate:  signing.Certificate(bundle, true),
		Stage:        models.StageSigned,
		CreatedAt:    o.now().UTC(),
	}
	if err := o.signatures.Insert(ctx, rec); err != nil {
		if errors.Is(err, store.ErrDuplicateSignature) {
			o.metrics.Signatures.WithLabelValues("duplicate").Inc()
		} else {
			o.metrics.Signatures.WithLabelValues("store_failed").Inc()
		}
		return SignResult{}, err
	}

	result, err := o.completeRecord(ctx, rec, req.VoterPhone, bundle.Timestamp)
	if err != nil {
		o.metrics.Signatures.WithLabelValues("incomplete").Inc()
		return SignResult{}, err
	}
	o.metrics.Signatures.WithLabelValues("ok").Inc()
	o.log.Info("signature processed",
		"petition_id", req.PetitionID,
		"signature_id", rec.ID,
		"key_version", bundle.KeyVersion,
		"stage", string(models.StageComplete),
	)
	return result, nil
}

// Resume finishes an interrupted pipeline from the record's persisted
// stage. Safe to call repeatedly; a complete record just returns its
// receipt.
func (o *Orchestrator) Resume(ctx context.Context, signatureID string) (SignResult, error) {
	rec, err := o.signatures.Get(ctx, signatureID)
	if err != nil {
		return SignResult{}, err
	}
	if rec.Stage == models.StageComplete {
		issued, err := o.receipts.EnsureReceipt(ctx, rec.ID)
		if err != nil {
			return SignResult{}, err
		}
		return SignResult{
			SignatureID:    rec.ID,
			ReceiptCode:    issued.ReceiptCode,
			QRImage:        issued.QRImage,
			Receipt:        issued.Receipt,
			BlockchainHash: rec.BlockchainHash,
			KeyVersion:     rec.Certificate.KeyVersion,
		}, nil
	}
	var payload models.SignaturePayload
	bundle, err := signing.BundleFromCertificate(rec.Certificate)
	if err != nil {
		return SignResult{}, err
	}
	verification := signing.Verify(bundle)
	if !verification.IsValid {
		return SignResult{}, fmt.Errorf("%w: persisted certificate failed verification", signing.ErrSigning)
	}
	payload = *verification.Payload
	// Phone was never persisted; a resumed receipt uses the legacy factor.
	return o.completeRecord(ctx, rec, "", payload.Timestamp)
}

// completeRecord runs hash, receipt and audit against an already persisted
// record, advancing Stage after each persisted step.
func (o *Orchestrator) completeRecord(ctx context.Context, rec models.SignatureRecord, voterPhone string, signedAtMillis int64) (SignResult, error) {
	if rec.Stage == models.StageSigned {
		voterHash := integrity.VoterHash(rec.VoterID, rec.VoterName)
		rec.BlockchainHash = integrity.Hash(rec.ID, rec.PetitionID, voterHash, signedAtMillis, rec.Ward, rec.Constituency)
		rec.Stage = models.StageHashed
		if err := o.signatures.Update(ctx, rec); err != nil {
			return SignResult{}, err
		}
	}

	var issued receipt.IssueResult
	if rec.Stage == models.StageHashed {
		var err error
		issued, err = o.receipts.Issue(ctx, receipt.IssueRequest{
			SignatureID:  rec.ID,
			PetitionID:   rec.PetitionID,
			VoterName:    rec.VoterName,
			VoterPhone:   voterPhone,
			Constituency: rec.Constituency,
			Ward:         rec.Ward,
		})
		if err != nil {
			return SignResult{}, err
		}
	} else {
		var err error
		issued, err = o.receipts.EnsureReceipt(ctx, rec.ID)
		if err != nil {
			return SignResult{}, err
		}
	}

	// Re-fetch: receipt issuance mutated the record.
	rec, err := o.signatures.Get(ctx, rec.ID)
	if err != nil {
		return SignResult{}, err
	}

	if rec.Stage == models.StageReceipted {
		o.appendAudit(ctx, rec, issued.ReceiptCode)
		rec.Stage = models.StageComplete
		if err := o.signatures.Update(ctx, rec); err != nil {
			return SignResult{}, err
		}
	}

	return SignResult{
		SignatureID:    rec.ID,
		ReceiptCode:    issued.ReceiptCode,
		QRImage:        issued.QRImage,
		Receipt:        issued.Receipt,
		BlockchainHash: rec.BlockchainHash,
		KeyVersion:     rec.Certificate.KeyVersion,
	}, nil
}

func (o *Orchestrator) appendAudit(ctx context.Context, rec models.SignatureRecord, receiptCode string) {
	details := map[string]string{
		"constituency":    rec.Constituency,
		"ward":            rec.Ward,
		"receipt_code":    receiptCode,
		"blockchain_hash": rec.BlockchainHash,
		"key_version":     rec.Certificate.KeyVersion,
		"device_id":       rec.Certificate.DeviceID,
	}
	if fp, err := o.keys.PublicKeyFingerprint(); err == nil {
		details["key_fingerprint"] = fp
	}
	err := o.audit.Append(ctx, models.AuditEntry{
		ActionType:  "signature_created",
		PetitionID:  rec.PetitionID,
		SignatureID: rec.ID,
		Details:     details,
		CreatedAt:   o.now().UTC(),
	})
	if err != nil {
		// The audit trail is forensic, not transactional; a failed append
		// is logged and the signature still completes.
		o.log.Warn("audit append failed", "signature_id", rec.ID, "error", err)
	}
}

// VerifyReceipt proxies receipt verification so callers hold one handle.
func (o *Orchestrator) VerifyReceipt(ctx context.Context, code, last4 string) (receipt.VerifyResult, error) {
	res, err := o.receipts.Verify(ctx, code, last4)
	switch {
	case err == nil:
		o.metrics.ReceiptVerifications.WithLabelValues("ok").Inc()
	case errors.Is(err, receipt.ErrExpired):
		o.metrics.ReceiptVerifications.WithLabelValues("expired").Inc()
	case errors.Is(err, receipt.ErrMalformedCode):
		o.metrics.ReceiptVerifications.WithLabelValues("malformed").Inc()
	default:
		o.metrics.ReceiptVerifications.WithLabelValues("failed").Inc()
	}
	return res, err
}

// RenewReceipt proxies receipt renewal.
func (o *Orchestrator) RenewReceipt(ctx context.Context, code string) (string, error) {
	return o.receipts.Renew(ctx, code)
}

// VerifyIntegrity recomputes the tamper-evidence hash for a record and
// compares it with the stored value.
func (o *Orchestrator) VerifyIntegrity(ctx context.Context, signatureID string) error {
	rec, err := o.signatures.Get(ctx, signatureID)
	if err != nil {
		return err
	}
	checker := integrity.NewChecker(o.signatures)
	return checker.Verify(ctx, signatureID, rec.BlockchainHash)
}

// UserMessage maps pipeline errors to the non-technical strings shown to
// signers. Typed reasons stay in logs; expected failures get specific text.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, store.ErrDuplicateSignature):
		return "You have already signed this petition. Multiple signatures are not allowed."
	case errors.Is(err, receipt.ErrExpired):
		return "This receipt has expired. Renew it to keep your proof of signing."
	case errors.Is(err, receipt.ErrMalformedCode):
		return "That receipt code is not in the expected format. Check it and try again."
	case errors.Is(err, receipt.ErrVerification):
		return "We could not verify this receipt with the details provided."
	case errors.Is(err, store.ErrNotFound):
		return "No matching record was found."
	default:
		return "Failed to process signature. Please try again."
	}
}
