package keyring

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"io"

	"recall254/signing-core/pkg/models"

	"golang.org/x/crypto/pbkdf2"
)

const (
	kdfIterations = 310_000
	saltSize      = 16
	ivSize        = 12
	wrapKeySize   = 32
)

var (
	// ErrKeyGeneration covers any primitive failure during key pair
	// generation or wrapping. Nothing is persisted when it fires.
	ErrKeyGeneration = errors.New("SECURE_KEY_GENERATION_FAILED")
	// ErrKeyDerivation fires when the GCM auth tag rejects the derived
	// wrapping key: wrong passphrase or a ciphertext from another device.
	ErrKeyDerivation = errors.New("KEY_DERIVATION_FAILED")
)

func deriveWrappingKey(secret string, salt []byte) []byte {
	return pbkdf2.Key([]byte(secret), salt, kdfIterations, wrapKeySize, sha256.New)
}

// wrapPrivateKey seals the PKCS#8 encoding of priv under a key derived from
// secret with a fresh salt and IV.
func wrapPrivateKey(rng io.Reader, priv *ecdsa.PrivateKey, secret string) (wrapped, salt, iv []byte, err error) {
	pkcs8, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, nil, nil, err
	}
	defer zeroBytes(pkcs8)

	salt = make([]byte, saltSize)
	if _, err := io.ReadFull(rng, salt); err != nil {
		return nil, nil, nil, err
	}
	iv = make([]byte, ivSize)
	if _, err := io.ReadFull(rng, iv); err != nil {
		return nil, nil, nil, err
	}

	key := deriveWrappingKey(secret, salt)
	defer zeroBytes(key)
	aead, err := newGCM(key)
	if err != nil {
		return nil, nil, nil, err
	}
	return aead.Seal(nil, iv, pkcs8, nil), salt, iv, nil
}

// unwrapPrivateKey opens the ciphertext in km for ephemeral in-memory use.
// The caller must not retain the key beyond one operation.
func unwrapPrivateKey(km models.KeyMaterial, secret string) (*ecdsa.PrivateKey, error) {
	key := deriveWrappingKey(secret, km.Salt)
	defer zeroBytes(key)
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	pkcs8, err := aead.Open(nil, km.IV, km.WrappedPrivateKey, nil)
	if err != nil {
		return nil, ErrKeyDerivation
	}
	defer zeroBytes(pkcs8)
	parsed, err := x509.ParsePKCS8PrivateKey(pkcs8)
	if err != nil {
		return nil, ErrKeyDerivation
	}
	priv, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, ErrKeyDerivation
	}
	return priv, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
