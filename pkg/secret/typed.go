package secret

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"
)

var (
	// ErrInvalidMnemonic is returned for phrases that are not valid BIP-39 mnemonics.
	ErrInvalidMnemonic = errors.New("Invalid BIP39 mnemonic")
	// ErrInvalidPrivateKeyHex is returned for keys that are not hex or carry a 0x prefix.
	ErrInvalidPrivateKeyHex = errors.New("Invalid private key; expected hex string without leading '0x'")
	// ErrInvalidK256Key is returned for hex that is not a valid secp256k1 scalar.
	ErrInvalidK256Key = errors.New("Invalid K-256 secret key")
)

// ValidateMnemonic checks that phrase is a BIP-39 mnemonic.
func ValidateMnemonic(phrase string) error {
	if !bip39.IsMnemonicValid(strings.TrimSpace(phrase)) {
		return ErrInvalidMnemonic
	}
	return nil
}

// ValidateSecretKey checks that key is a hex encoded secp256k1 private key without a 0x prefix.
func ValidateSecretKey(key string) error {
	if strings.HasPrefix(key, "0x") || strings.HasPrefix(key, "0X") {
		return ErrInvalidPrivateKeyHex
	}
	b, err := hex.DecodeString(key)
	if err != nil {
		return ErrInvalidPrivateKeyHex
	}
	defer func() {
		for i := range b {
			b[i] = 0
		}
	}()
	if _, err := crypto.ToECDSA(b); err != nil {
		return ErrInvalidK256Key
	}
	return nil
}

// validateOnDecode loads s once. A load failure is tolerated because the
// variable or file may legitimately not exist yet; a loaded value that fails
// validation is an error.
func validateOnDecode(s Secret, validate func(string) error) error {
	v, err := s.Load()
	if err != nil {
		return nil
	}
	defer v.Zero()
	return validate(v.Expose())
}

// Mnemonic is a secret holding a BIP-39 phrase.
type Mnemonic struct {
	Secret
}

// NewMnemonic wraps s.
func NewMnemonic(s Secret) Mnemonic { return Mnemonic{Secret: s} }

// UnmarshalJSON decodes the secret and validates it when it can be loaded.
func (m *Mnemonic) UnmarshalJSON(data []byte) error {
	var s Secret
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if err := validateOnDecode(s, ValidateMnemonic); err != nil {
		return err
	}
	m.Secret = s
	return nil
}

// SecretKey is a secret holding a hex encoded secp256k1 private key.
type SecretKey struct {
	Secret
}

// NewSecretKey wraps s.
func NewSecretKey(s Secret) SecretKey { return SecretKey{Secret: s} }

// UnmarshalJSON decodes the secret and validates it when it can be loaded.
func (k *SecretKey) UnmarshalJSON(data []byte) error {
	var s Secret
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if err := validateOnDecode(s, ValidateSecretKey); err != nil {
		return err
	}
	k.Secret = s
	return nil
}
