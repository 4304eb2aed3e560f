package keyring

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"recall254/signing-core/pkg/models"

	"github.com/mr-tron/base58/base58"
	"golang.org/x/crypto/blake2b"
)

var (
	ErrNoKeys         = errors.New("no signing keys present")
	ErrSecretRequired = errors.New("wrapping passphrase is required")
	ErrAttemptsLocked = errors.New("unwrap attempts are temporarily locked")
)

// Keyring is the handle every key-lifecycle operation goes through. There is
// no ambient package state; the caller owns the handle and threads it.
type Keyring struct {
	mu             sync.Mutex
	store          Store
	now            func() time.Time
	rng            io.Reader
	failedAttempts int
	lockedUntil    time.Time
}

type Option func(*Keyring)

// WithClock injects a deterministic clock for tests.
func WithClock(now func() time.Time) Option {
	return func(k *Keyring) { k.now = now }
}

// WithRand injects a deterministic randomness source for tests.
func WithRand(rng io.Reader) Option {
	return func(k *Keyring) { k.rng = rng }
}

func New(store Store, opts ...Option) *Keyring {
	k := &Keyring{
		store: store,
		now:   time.Now,
		rng:   rand.Reader,
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// GenerateResult reports the outcome of key generation. RecoveryPhrase is
// set only by GenerateWithRecoveryPhrase and is shown exactly once.
type GenerateResult struct {
	PublicKey      []byte
	KeyVersion     string
	DeviceID       string
	RecoveryPhrase string
}

// KeyInfo is the reportable (non-secret) keyring state.
type KeyInfo struct {
	HasKeys    bool
	DeviceID   string
	KeyVersion string
	PublicKey  []byte
	CreatedAt  time.Time
}

// Generate creates the device key pair. With an empty passphrase the
// wrapping secret is derived from the device identity and key version, so
// the installation can sign without user input. Nothing is persisted unless
// every primitive succeeds.
func (k *Keyring) Generate(passphrase string) (GenerateResult, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.generateLocked(passphrase, "")
}

// GenerateWithRecoveryPhrase mints a BIP-39 phrase, uses it as the wrapping
// passphrase and returns it once so the user can record it.
func (k *Keyring) GenerateWithRecoveryPhrase() (GenerateResult, error) {
	phrase, err := NewRecoveryPhrase(k.rng)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.generateLocked(phrase, phrase)
}

func (k *Keyring) generateLocked(passphrase, recoveryPhrase string) (GenerateResult, error) {
	state, err := k.store.Load()
	if err != nil {
		return GenerateResult{}, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}

	now := k.now().UTC()
	if state.Device == nil {
		device, err := newDeviceIdentity(k.rng, now)
		if err != nil {
			return GenerateResult{}, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
		}
		state.Device = &device
	}

	keyVersion := k.nextKeyVersion(state.Key)
	secret := passphrase
	source := models.SecretSourcePassphrase
	if secret == "" {
		secret = deviceSecret(state.Device.ID, keyVersion)
		source = models.SecretSourceDevice
	}

	priv, err := ecdsa.GenerateKey(elliptic.P384(), k.rng)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	wrapped, salt, iv, err := wrapPrivateKey(k.rng, priv, secret)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	pkix, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}

	state.Key = &models.KeyMaterial{
		WrappedPrivateKey: wrapped,
		Salt:              salt,
		IV:                iv,
		KeyVersion:        keyVersion,
		DeviceID:          state.Device.ID,
		SecretSource:      source,
		CreatedAt:         now,
	}
	state.PublicKeys = append(state.PublicKeys, models.PublicKey{
		KeyVersion: keyVersion,
		PKIX:       append([]byte(nil), pkix...),
	})
	if err := k.store.Save(state); err != nil {
		return GenerateResult{}, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	k.resetAttemptsLocked()

	return GenerateResult{
		PublicKey:      pkix,
		KeyVersion:     keyVersion,
		DeviceID:       state.Device.ID,
		RecoveryPhrase: recoveryPhrase,
	}, nil
}

// Rotate re-wraps the private key under newSecret with a fresh salt, IV and
// key version. All-or-nothing: any failure leaves the previous KeyMaterial
// intact and unwrappable with oldSecret.
func (k *Keyring) Rotate(oldSecret, newSecret string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	state, err := k.store.Load()
	if err != nil {
		return err
	}
	if state.Key == nil {
		return ErrNoKeys
	}
	if err := k.ensureUnlockedLocked(); err != nil {
		return err
	}

	priv, err := k.unwrapLocked(*state.Key, oldSecret)
	if err != nil {
		return err
	}

	keyVersion := k.nextKeyVersion(state.Key)
	secret := newSecret
	source := models.SecretSourcePassphrase
	if secret == "" {
		secret = deviceSecret(state.Key.DeviceID, keyVersion)
		source = models.SecretSourceDevice
	}
	wrapped, salt, iv, err := wrapPrivateKey(k.rng, priv, secret)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	pkix, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}

	state.Key = &models.KeyMaterial{
		WrappedPrivateKey: wrapped,
		Salt:              salt,
		IV:                iv,
		KeyVersion:        keyVersion,
		DeviceID:          state.Key.DeviceID,
		SecretSource:      source,
		CreatedAt:         k.now().UTC(),
	}
	state.PublicKeys = append(state.PublicKeys, models.PublicKey{
		KeyVersion: keyVersion,
		PKIX:       append([]byte(nil), pkix...),
	})
	return k.store.Save(state)
}

// WithPrivateKey unwraps the private key, passes it to fn and discards it.
// An empty secret resolves to the device-derived secret when the key was
// wrapped that way; otherwise the passphrase is mandatory.
func (k *Keyring) WithPrivateKey(secret string, fn func(*ecdsa.PrivateKey) error) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	state, err := k.store.Load()
	if err != nil {
		return err
	}
	if state.Key == nil {
		return ErrNoKeys
	}
	if err := k.ensureUnlockedLocked(); err != nil {
		return err
	}
	priv, err := k.unwrapLocked(*state.Key, secret)
	if err != nil {
		return err
	}
	return fn(priv)
}

// ReconcileDeviceIdentity checks that KeyMaterial is still bound to this
// installation. On mismatch all crypto state is cleared so the next sign
// regenerates; the returned ErrDeviceMismatch is informational, not
// retryable.
func (k *Keyring) ReconcileDeviceIdentity() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	state, err := k.store.Load()
	if err != nil {
		return err
	}
	if state.Key == nil {
		return nil
	}
	if state.Device != nil && state.Device.ID == state.Key.DeviceID {
		return nil
	}
	if err := k.store.Clear(); err != nil {
		return err
	}
	k.resetAttemptsLocked()
	return ErrDeviceMismatch
}

// Reset clears all crypto state, including the device identity.
func (k *Keyring) Reset() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.resetAttemptsLocked()
	return k.store.Clear()
}

func (k *Keyring) Info() (KeyInfo, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	state, err := k.store.Load()
	if err != nil {
		return KeyInfo{}, err
	}
	if state.Key == nil {
		return KeyInfo{}, nil
	}
	info := KeyInfo{
		HasKeys:    true,
		DeviceID:   state.Key.DeviceID,
		KeyVersion: state.Key.KeyVersion,
		CreatedAt:  state.Key.CreatedAt,
	}
	for _, pk := range state.PublicKeys {
		if pk.KeyVersion == state.Key.KeyVersion {
			info.PublicKey = append([]byte(nil), pk.PKIX...)
		}
	}
	return info, nil
}

// PublicKeyHistory returns every exported public key, one per key version,
// so signatures made before a rotation stay verifiable.
func (k *Keyring) PublicKeyHistory() ([]models.PublicKey, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	state, err := k.store.Load()
	if err != nil {
		return nil, err
	}
	out := make([]models.PublicKey, 0, len(state.PublicKeys))
	for _, pk := range state.PublicKeys {
		out = append(out, models.PublicKey{
			KeyVersion: pk.KeyVersion,
			PKIX:       append([]byte(nil), pk.PKIX...),
		})
	}
	return out, nil
}

// PublicKeyFingerprint is the loggable short form of the active public key.
func (k *Keyring) PublicKeyFingerprint() (string, error) {
	info, err := k.Info()
	if err != nil {
		return "", err
	}
	if !info.HasKeys || len(info.PublicKey) == 0 {
		return "", ErrNoKeys
	}
	return Fingerprint(info.PublicKey), nil
}

// Fingerprint renders a PKIX public key as "sig254" + base58(blake2b-256).
func Fingerprint(pkix []byte) string {
	sum := blake2b.Sum256(pkix)
	return "sig254" + base58.Encode(sum[:])
}

func (k *Keyring) unwrapLocked(km models.KeyMaterial, secret string) (*ecdsa.PrivateKey, error) {
	if secret == "" {
		if km.SecretSource != models.SecretSourceDevice {
			return nil, ErrSecretRequired
		}
		secret = deviceSecret(km.DeviceID, km.KeyVersion)
	}
	priv, err := unwrapPrivateKey(km, secret)
	if err != nil {
		if errors.Is(err, ErrKeyDerivation) {
			k.recordFailedAttemptLocked()
		}
		return nil, err
	}
	k.resetAttemptsLocked()
	return priv, nil
}

// Key versions are UnixMilli tokens; a rotation inside the same millisecond
// still has to advance the version.
func (k *Keyring) nextKeyVersion(current *models.KeyMaterial) string {
	version := k.now().UTC().UnixMilli()
	if current != nil {
		if prev, err := strconv.ParseInt(current.KeyVersion, 10, 64); err == nil && version <= prev {
			version = prev + 1
		}
	}
	return strconv.FormatInt(version, 10)
}

func (k *Keyring) ensureUnlockedLocked() error {
	if k.lockedUntil.IsZero() {
		return nil
	}
	if k.now().Before(k.lockedUntil) {
		return ErrAttemptsLocked
	}
	return nil
}

func (k *Keyring) recordFailedAttemptLocked() {
	k.failedAttempts++
	k.lockedUntil = k.now().Add(failedAttemptBackoff(k.failedAttempts))
}

func (k *Keyring) resetAttemptsLocked() {
	k.failedAttempts = 0
	k.lockedUntil = time.Time{}
}

func failedAttemptBackoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	// 1s, 2s, 4s... capped at 32s.
	shift := attempt - 1
	if shift > 5 {
		shift = 5
	}
	return time.Second * time.Duration(1<<shift)
}
