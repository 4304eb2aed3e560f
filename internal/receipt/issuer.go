package receipt

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"recall254/signing-core/internal/integrity"
	"recall254/signing-core/internal/platform/attemptlimiter"
	"recall254/signing-core/internal/store"
	"recall254/signing-core/pkg/models"
)

// DefaultValidityWindow is the fixed receipt validity period.
const DefaultValidityWindow = 60 * 24 * time.Hour

var (
	// ErrExpired is recomputed from IssuedAt + window on every
	// verification; the stored ExpiresAt is advisory, never trusted.
	ErrExpired = errors.New("RECEIPT_EXPIRED")
	// ErrVerification covers a wrong or ill-sized last-4 factor and
	// throttled attempts.
	ErrVerification = errors.New("RECEIPT_VERIFICATION_FAILED")
)

// Issuer mints, verifies and renews receipts bound to signature records.
type Issuer struct {
	signatures store.Signatures
	audit      store.AuditLog
	limiter    *attemptlimiter.Limiter
	window     time.Duration
	now        func() time.Time
	rng        io.Reader
	log        *slog.Logger
}

type Option func(*Issuer)

func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

func WithRand(rng io.Reader) Option {
	return func(i *Issuer) { i.rng = rng }
}

func WithValidityWindow(window time.Duration) Option {
	return func(i *Issuer) {
		if window > 0 {
			i.window = window
		}
	}
}

func WithAttemptLimiter(l *attemptlimiter.Limiter) Option {
	return func(i *Issuer) { i.limiter = l }
}

func WithLogger(log *slog.Logger) Option {
	return func(i *Issuer) { i.log = log }
}

func NewIssuer(signatures store.Signatures, audit store.AuditLog, opts ...Option) *Issuer {
	i := &Issuer{
		signatures: signatures,
		audit:      audit,
		window:     DefaultValidityWindow,
		now:        time.Now,
		rng:        rand.Reader,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// IssueRequest carries what the receipt binds to. VoterPhone feeds the
// last-4 verification digest and the user hash; it is never stored.
type IssueRequest struct {
	SignatureID  string
	PetitionID   string
	VoterName    string
	VoterPhone   string
	Constituency string
	Ward         string
}

type IssueResult struct {
	QRImage     []byte
	ReceiptCode string
	Receipt     models.ReceiptRecord
}

// VerifyResult mirrors the public QR data for a successfully verified
// receipt.
type VerifyResult struct {
	IsValid bool
	Data    models.ReceiptQRData
}

// Issue mints a receipt for a persisted signature record and attaches it to
// the record.
func (i *Issuer) Issue(ctx context.Context, req IssueRequest) (IssueResult, error) {
	rec, err := i.signatures.Get(ctx, req.SignatureID)
	if err != nil {
		return IssueResult{}, err
	}
	result, receipt, err := i.buildReceipt(req)
	if err != nil {
		return IssueResult{}, err
	}
	rec.Receipt = &receipt
	if rec.Stage == models.StageSigned || rec.Stage == models.StageHashed {
		rec.Stage = models.StageReceipted
	}
	if err := i.signatures.Update(ctx, rec); err != nil {
		return IssueResult{}, err
	}
	return result, nil
}

// EnsureReceipt issues a receipt for a record that lost its receipt to an
// interrupted pipeline, or re-renders the QR when one already exists.
// Receipts are re-derivable from the record, so this is safe to call any
// number of times.
func (i *Issuer) EnsureReceipt(ctx context.Context, signatureID string) (IssueResult, error) {
	rec, err := i.signatures.Get(ctx, signatureID)
	if err != nil {
		return IssueResult{}, err
	}
	if rec.Receipt != nil {
		png, err := renderQR(rec.Receipt.ReceiptCode, *rec.Receipt)
		if err != nil {
			return IssueResult{}, err
		}
		return IssueResult{QRImage: png, ReceiptCode: rec.Receipt.ReceiptCode, Receipt: *rec.Receipt}, nil
	}
	// Phone is not part of the evidence record; a lazily issued receipt
	// keeps the legacy length-only verification factor.
	return i.Issue(ctx, IssueRequest{
		SignatureID:  rec.ID,
		PetitionID:   rec.PetitionID,
		VoterName:    rec.VoterName,
		Constituency: rec.Constituency,
		Ward:         rec.Ward,
	})
}

// Verify checks a presented receipt code plus the last-4 factor. Grammar is
// checked before any store access; expiry is recomputed from IssuedAt.
func (i *Issuer) Verify(ctx context.Context, code, last4 string) (VerifyResult, error) {
	if _, err := parseCode(code); err != nil {
		return VerifyResult{}, err
	}
	now := i.now().UTC()
	if !i.limiter.Allow(code, now) {
		return VerifyResult{}, fmt.Errorf("%w: too many attempts", ErrVerification)
	}

	rec, err := i.signatures.FindByReceiptCode(ctx, code)
	if err != nil {
		return VerifyResult{}, err
	}
	receipt := rec.Receipt

	if now.After(receipt.IssuedAt.Add(i.window)) {
		return VerifyResult{}, ErrExpired
	}
	// The factor is deliberately narrow: exactly 4 characters, never more,
	// never fewer.
	if len(last4) != 4 {
		return VerifyResult{}, ErrVerification
	}
	if receipt.VerifyDigest != "" && !matchesDigest(receipt.VerifySalt, last4, receipt.VerifyDigest) {
		return VerifyResult{}, ErrVerification
	}
	return VerifyResult{IsValid: true, Data: receipt.QRData()}, nil
}

// Renew replaces the system code and extends validity from renewal time.
// The user hash and signature binding never change; validity never shrinks.
func (i *Issuer) Renew(ctx context.Context, code string) (string, error) {
	if _, err := parseCode(code); err != nil {
		return "", err
	}
	rec, err := i.signatures.FindByReceiptCode(ctx, code)
	if err != nil {
		return "", err
	}
	receipt := *rec.Receipt

	systemCode, err := newSystemCode(i.rng)
	if err != nil {
		return "", err
	}
	now := i.now().UTC()
	expiresAt := now.Add(i.window)
	if expiresAt.Before(receipt.ExpiresAt) {
		expiresAt = receipt.ExpiresAt
	}

	receipt.SystemCode = systemCode
	receipt.ReceiptCode = composeCode(systemCode, receipt.UserHash, receipt.PetitionID)
	receipt.IssuedAt = now
	receipt.ExpiresAt = expiresAt
	receipt.RenewalCount++

	rec.Receipt = &receipt
	if err := i.signatures.Update(ctx, rec); err != nil {
		return "", err
	}
	i.appendAudit(ctx, "receipt_renewed", rec, receipt.ReceiptCode)
	return receipt.ReceiptCode, nil
}

func (i *Issuer) buildReceipt(req IssueRequest) (IssueResult, models.ReceiptRecord, error) {
	systemCode, err := newSystemCode(i.rng)
	if err != nil {
		return IssueResult{}, models.ReceiptRecord{}, err
	}
	userHash := integrity.UserHash(req.VoterName, req.VoterPhone, req.Ward, req.Constituency)
	now := i.now().UTC()

	receipt := models.ReceiptRecord{
		SystemCode:   systemCode,
		UserHash:     userHash,
		PetitionID:   req.PetitionID,
		SignatureID:  req.SignatureID,
		Constituency: req.Constituency,
		Ward:         req.Ward,
		IssuedAt:     now,
		ExpiresAt:    now.Add(i.window),
	}
	receipt.ReceiptCode = composeCode(systemCode, userHash, req.PetitionID)

	if last4, ok := phoneLast4(req.VoterPhone); ok {
		salt := make([]byte, 8)
		if _, err := io.ReadFull(i.rng, salt); err != nil {
			return IssueResult{}, models.ReceiptRecord{}, err
		}
		receipt.VerifySalt = hex.EncodeToString(salt)
		receipt.VerifyDigest = last4Digest(receipt.VerifySalt, last4)
	}

	png, err := renderQR(receipt.ReceiptCode, receipt)
	if err != nil {
		return IssueResult{}, models.ReceiptRecord{}, err
	}
	return IssueResult{QRImage: png, ReceiptCode: receipt.ReceiptCode, Receipt: receipt}, receipt, nil
}

func (i *Issuer) appendAudit(ctx context.Context, action string, rec models.SignatureRecord, receiptCode string) {
	if i.audit == nil {
		return
	}
	err := i.audit.Append(ctx, models.AuditEntry{
		ActionType:  action,
		PetitionID:  rec.PetitionID,
		SignatureID: rec.ID,
		Details: map[string]string{
			"constituency": rec.Constituency,
			"ward":         rec.Ward,
			"receipt_code": receiptCode,
		},
		CreatedAt: i.now().UTC(),
	})
	if err != nil {
		i.log.Warn("audit append failed", "action", action, "error", err)
	}
}

func phoneLast4(phone string) (string, bool) {
	digits := make([]byte, 0, len(phone))
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits = append(digits, byte(r))
		}
	}
	if len(digits) < 4 {
		return "", false
	}
	return string(digits[len(digits)-4:]), true
}

func last4Digest(salt, last4 string) string {
	sum := sha256.Sum256([]byte(salt + ":" + last4))
	return hex.EncodeToString(sum[:])
}

func matchesDigest(salt, last4, expected string) bool {
	computed := last4Digest(salt, last4)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(expected)) == 1
}
