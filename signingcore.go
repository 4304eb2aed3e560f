// Package signingcore assembles the petition signing pipeline: key
// lifecycle, signing and local verification, tamper-evidence hashing and
// receipt issuance. Hosting applications construct one Core and call it;
// there is no CLI or server surface.
package signingcore

import (
	"context"
	"log/slog"
	"os"
	"time"

	"recall254/signing-core/internal/config"
	"recall254/signing-core/internal/keyring"
	"recall254/signing-core/internal/pipeline"
	"recall254/signing-core/internal/platform/attemptlimiter"
	"recall254/signing-core/internal/platform/privacylog"
	"recall254/signing-core/internal/receipt"
	"recall254/signing-core/internal/signing"
	"recall254/signing-core/internal/store"
	"recall254/signing-core/internal/store/badgerstore"
	"recall254/signing-core/pkg/models"

	"github.com/prometheus/client_golang/prometheus"
)

// SignRequest is the full input for one signing attempt.
type SignRequest struct {
	PetitionID    string
	PetitionTitle string
	VoterName     string
	VoterID       string
	VoterPhone    string
	Constituency  string
	Ward          string
	Context       string
	Passphrase    string
}

// SignResult reports a completed signing attempt.
type SignResult struct {
	SignatureID    string
	ReceiptCode    string
	QRImage        []byte
	Receipt        models.ReceiptRecord
	BlockchainHash string
	KeyVersion     string
}

// ReceiptVerification mirrors the public receipt data for a verified code.
type ReceiptVerification struct {
	IsValid bool
	Data    models.ReceiptQRData
}

// KeyInfo is the reportable keyring state.
type KeyInfo struct {
	HasKeys    bool
	DeviceID   string
	KeyVersion string
	PublicKey  []byte
	CreatedAt  time.Time
}

// Core is the assembled signing pipeline.
type Core struct {
	cfg          config.Config
	keys         *keyring.Keyring
	orchestrator *pipeline.Orchestrator
	badger       *badgerstore.Store
	log          *slog.Logger
}

type Option func(*coreOptions)

type coreOptions struct {
	configPath string
	logger     *slog.Logger
	registerer prometheus.Registerer
	clock      func() time.Time
	memoryOnly bool
	env        models.ClientEnvironment
}

// WithConfigPath points Core assembly at an explicit YAML config file.
func WithConfigPath(path string) Option {
	return func(o *coreOptions) { o.configPath = path }
}

// WithLogger replaces the default sanitized JSON logger.
func WithLogger(log *slog.Logger) Option {
	return func(o *coreOptions) { o.logger = log }
}

// WithRegisterer attaches pipeline metrics to a Prometheus registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *coreOptions) { o.registerer = reg }
}

// WithClock injects a deterministic clock through the whole pipeline.
func WithClock(now func() time.Time) Option {
	return func(o *coreOptions) { o.clock = now }
}

// WithMemoryStores forces in-memory key and record storage regardless of
// config; for tests and ephemeral installs.
func WithMemoryStores() Option {
	return func(o *coreOptions) { o.memoryOnly = true }
}

// WithClientEnvironment records the hosting client in every signed payload.
func WithClientEnvironment(env models.ClientEnvironment) Option {
	return func(o *coreOptions) { o.env = env }
}

// New assembles a Core from config plus options.
func New(opts ...Option) (*Core, error) {
	var o coreOptions
	for _, opt := range opts {
		opt(&o)
	}

	cfg := config.LoadFromPath(o.configPath)
	log := o.logger
	if log == nil {
		log = slog.New(privacylog.WrapHandler(slog.NewJSONHandler(os.Stdout, nil)))
	}

	core := &Core{cfg: cfg, log: log}

	var keyStore keyring.Store
	if o.memoryOnly || cfg.Keyring.Directory == "" {
		keyStore = keyring.NewMemoryStore()
	} else {
		keyStore = keyring.NewFileStore(cfg.Keyring.Directory)
	}
	keyOpts := []keyring.Option{}
	engineOpts := []signing.Option{signing.WithClientEnvironment(o.env)}
	issuerOpts := []receipt.Option{
		receipt.WithLogger(log),
		receipt.WithValidityWindow(time.Duration(cfg.Receipts.ValidityDays) * 24 * time.Hour),
		receipt.WithAttemptLimiter(attemptlimiter.New(
			cfg.Receipts.VerifyPerMinute,
			cfg.Receipts.VerifyBurst,
			time.Duration(cfg.Receipts.VerifyIdleTTLHours)*time.Hour,
		)),
	}
	pipeOpts := []pipeline.Option{pipeline.WithLogger(log)}
	if o.clock != nil {
		keyOpts = append(keyOpts, keyring.WithClock(o.clock))
		engineOpts = append(engineOpts, signing.WithClock(o.clock))
		issuerOpts = append(issuerOpts, receipt.WithClock(o.clock))
		pipeOpts = append(pipeOpts, pipeline.WithClock(o.clock))
	}
	if o.registerer != nil {
		pipeOpts = append(pipeOpts, pipeline.WithMetrics(pipeline.NewMetrics(o.registerer)))
	}

	var signatures store.Signatures
	var audit store.AuditLog
	if !o.memoryOnly && cfg.Store.Backend == "badger" {
		bs, err := badgerstore.Open(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		core.badger = bs
		signatures, audit = bs, bs
	} else {
		mem := store.NewMemory()
		signatures, audit = mem, mem
	}

	core.keys = keyring.New(keyStore, keyOpts...)
	engine := signing.NewEngine(core.keys, engineOpts...)
	issuer := receipt.NewIssuer(signatures, audit, issuerOpts...)
	core.orchestrator = pipeline.New(core.keys, engine, signatures, audit, issuer, pipeOpts...)
	return core, nil
}

// Close releases the persistent store, if any.
func (c *Core) Close() error {
	if c.badger != nil {
		return c.badger.Close()
	}
	return nil
}

// GenerateKeys creates the device key pair ahead of the first signature.
// Optional: signing bootstraps keys on demand.
func (c *Core) GenerateKeys(passphrase string) (KeyInfo, error) {
	if _, err := c.keys.Generate(passphrase); err != nil {
		return KeyInfo{}, err
	}
	return c.Keys()
}

// GenerateKeysWithRecoveryPhrase mints a BIP-39 wrapping passphrase and
// returns it exactly once.
func (c *Core) GenerateKeysWithRecoveryPhrase() (KeyInfo, string, error) {
	res, err := c.keys.GenerateWithRecoveryPhrase()
	if err != nil {
		return KeyInfo{}, "", err
	}
	info, err := c.Keys()
	return info, res.RecoveryPhrase, err
}

// RotateWrappingSecret re-wraps the private key under a new secret.
func (c *Core) RotateWrappingSecret(oldSecret, newSecret string) error {
	return c.keys.Rotate(oldSecret, newSecret)
}

// ResetKeys clears all crypto state, including the device identity.
func (c *Core) ResetKeys() error {
	return c.keys.Reset()
}

// Keys reports the current key state.
func (c *Core) Keys() (KeyInfo, error) {
	info, err := c.keys.Info()
	if err != nil {
		return KeyInfo{}, err
	}
	return KeyInfo{
		HasKeys:    info.HasKeys,
		DeviceID:   info.DeviceID,
		KeyVersion: info.KeyVersion,
		PublicKey:  info.PublicKey,
		CreatedAt:  info.CreatedAt,
	}, nil
}

// ProcessSignature runs the full signing pipeline for one request.
func (c *Core) ProcessSignature(ctx context.Context, req SignRequest) (SignResult, error) {
	res, err := c.orchestrator.ProcessSignature(ctx, pipeline.SignRequest{
		PetitionID:    req.PetitionID,
		PetitionTitle: req.PetitionTitle,
		VoterName:     req.VoterName,
		VoterID:       req.VoterID,
		VoterPhone:    req.VoterPhone,
		Constituency:  req.Constituency,
		Ward:          req.Ward,
		Context:       req.Context,
		Passphrase:    req.Passphrase,
	})
	if err != nil {
		return SignResult{}, err
	}
	return SignResult(res), nil
}

// ResumeSignature finishes an interrupted pipeline for a persisted record.
func (c *Core) ResumeSignature(ctx context.Context, signatureID string) (SignResult, error) {
	res, err := c.orchestrator.Resume(ctx, signatureID)
	if err != nil {
		return SignResult{}, err
	}
	return SignResult(res), nil
}

// VerifyReceipt checks a receipt code plus its last-4 factor.
func (c *Core) VerifyReceipt(ctx context.Context, code, last4 string) (ReceiptVerification, error) {
	res, err := c.orchestrator.VerifyReceipt(ctx, code, last4)
	if err != nil {
		return ReceiptVerification{}, err
	}
	return ReceiptVerification(res), nil
}

// RenewReceipt extends a receipt's validity and returns the new code.
func (c *Core) RenewReceipt(ctx context.Context, code string) (string, error) {
	return c.orchestrator.RenewReceipt(ctx, code)
}

// VerifyIntegrity recomputes a record's tamper-evidence hash against the
// stored value.
func (c *Core) VerifyIntegrity(ctx context.Context, signatureID string) error {
	return c.orchestrator.VerifyIntegrity(ctx, signatureID)
}

// UserMessage maps any error from this package to the text shown to users.
func UserMessage(err error) string {
	return pipeline.UserMessage(err)
}
