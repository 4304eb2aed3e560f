package keyring

import (
	"io"
	"strings"

	"github.com/tyler-smith/go-bip39"
)

// NewRecoveryPhrase mints a 12-word BIP-39 phrase suitable as a wrapping
// passphrase the user can write down.
func NewRecoveryPhrase(rng io.Reader) (string, error) {
	entropy := make([]byte, 16)
	if _, err := io.ReadFull(rng, entropy); err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// ValidateRecoveryPhrase reports whether a phrase is a well-formed mnemonic.
// It says nothing about whether the phrase unwraps this keyring's material.
func ValidateRecoveryPhrase(phrase string) bool {
	return bip39.IsMnemonicValid(strings.TrimSpace(phrase))
}
