package signing

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha512"
	"errors"
	"fmt"
	"io"
	"time"

	"recall254/signing-core/internal/keyring"
	"recall254/signing-core/pkg/models"
)

// ErrSigning covers every failure while producing a signed bundle. The
// wrapped cause carries the detail; this sentinel is the caller-visible
// reason.
var ErrSigning = errors.New("CRYPTOGRAPHIC_SIGNING_FAILED")

// Engine produces signed bundles. It is side-effect-free with respect to
// record persistence: the orchestrator decides what happens to a bundle.
type Engine struct {
	keys *keyring.Keyring
	now  func() time.Time
	rng  io.Reader
	env  models.ClientEnvironment
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithRand(rng io.Reader) Option {
	return func(e *Engine) { e.rng = rng }
}

// WithClientEnvironment records the hosting client in every payload.
func WithClientEnvironment(env models.ClientEnvironment) Option {
	return func(e *Engine) { e.env = env }
}

func NewEngine(keys *keyring.Keyring, opts ...Option) *Engine {
	e := &Engine{
		keys: keys,
		now:  time.Now,
		rng:  rand.Reader,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Sign builds the canonical payload and signs its exact bytes with
// ECDSA P-384 over a SHA-384 digest. A keyring with no keys bootstraps
// itself with a device-derived secret first. passphrase may be empty when
// the key was wrapped without one.
func (e *Engine) Sign(petition PetitionMeta, voter VoterData, sigContext, passphrase string) (models.SignedBundle, error) {
	info, err := e.keys.Info()
	if err != nil {
		return models.SignedBundle{}, fmt.Errorf("%w: %v", ErrSigning, err)
	}
	if !info.HasKeys {
		if _, err := e.keys.Generate(passphrase); err != nil {
			return models.SignedBundle{}, fmt.Errorf("%w: %v", ErrSigning, err)
		}
		if info, err = e.keys.Info(); err != nil {
			return models.SignedBundle{}, fmt.Errorf("%w: %v", ErrSigning, err)
		}
	}

	payload, payloadBytes, err := buildPayload(petition, voter, sigContext, e.now(), info.KeyVersion, info.DeviceID, e.env)
	if err != nil {
		return models.SignedBundle{}, fmt.Errorf("%w: %v", ErrSigning, err)
	}

	digest := sha512.Sum384(payloadBytes)
	var signature []byte
	err = e.keys.WithPrivateKey(passphrase, func(priv *ecdsa.PrivateKey) error {
		sig, err := ecdsa.SignASN1(e.rng, priv, digest[:])
		if err != nil {
			return err
		}
		signature = sig
		return nil
	})
	if err != nil {
		if errors.Is(err, keyring.ErrKeyDerivation) || errors.Is(err, keyring.ErrSecretRequired) || errors.Is(err, keyring.ErrAttemptsLocked) {
			return models.SignedBundle{}, err
		}
		return models.SignedBundle{}, fmt.Errorf("%w: %v", ErrSigning, err)
	}

	return models.SignedBundle{
		PayloadBytes: payloadBytes,
		Signature:    signature,
		PublicKey:    info.PublicKey,
		KeyVersion:   payload.KeyVersion,
		DeviceID:     payload.DeviceID,
		Timestamp:    payload.Timestamp,
	}, nil
}
