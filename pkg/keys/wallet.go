// Package keys builds signing wallets from the credentials in the project
// configuration. Uses secp256k1 keys, the same as every EVM target.
package keys

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"

	"github.com/chainsafe/cubist/pkg/config"
	"github.com/chainsafe/cubist/pkg/secret"
)

// Wallet is a secp256k1 signing key.
type Wallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func newWallet(key *ecdsa.PrivateKey) *Wallet {
	return &Wallet{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

// Address returns the account address of the wallet.
func (w *Wallet) Address() common.Address { return w.address }

// PrivateKey exposes the signing key.
func (w *Wallet) PrivateKey() *ecdsa.PrivateKey { return w.key }

// SignTx signs tx with the latest signer for chainID.
func (w *Wallet) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), w.key)
	if err != nil {
		return nil, fmt.Errorf("sign transaction from %s: %w", w.address.Hex(), err)
	}
	return signed, nil
}

// TransactOpts returns binding options that sign with the wallet.
func (w *Wallet) TransactOpts(chainID *big.Int) (*bind.TransactOpts, error) {
	return bind.NewKeyedTransactorWithChainID(w.key, chainID)
}

// FromPrivateKey parses a hex encoded key without 0x prefix.
func FromPrivateKey(hexKey string) (*Wallet, error) {
	if err := secret.ValidateSecretKey(hexKey); err != nil {
		return nil, err
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return newWallet(key), nil
}

// FromMnemonic derives count accounts at pathPrefix+0 .. pathPrefix+count-1.
func FromMnemonic(phrase, pathPrefix string, count uint16) ([]*Wallet, error) {
	seed, err := bip39.NewSeedWithErrorChecking(strings.TrimSpace(phrase), "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", secret.ErrInvalidMnemonic, err)
	}
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}

	wallets := make([]*Wallet, 0, count)
	for i := uint16(0); i < count; i++ {
		path := fmt.Sprintf("%s%d", pathPrefix, i)
		key, err := derive(master, path)
		if err != nil {
			return nil, err
		}
		wallets = append(wallets, newWallet(key))
	}
	return wallets, nil
}

func derive(master *hdkeychain.ExtendedKey, path string) (*ecdsa.PrivateKey, error) {
	indices, err := accounts.ParseDerivationPath(path)
	if err != nil {
		return nil, fmt.Errorf("invalid derivation path %q: %w", path, err)
	}
	child := master
	for _, index := range indices {
		child, err = child.Derive(index)
		if err != nil {
			return nil, fmt.Errorf("derive %s: %w", path, err)
		}
	}
	priv, err := child.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("derive %s: %w", path, err)
	}
	return priv.ToECDSA(), nil
}

// FromKeystore decrypts an encrypted JSON keystore file.
func FromKeystore(file, password string) (*Wallet, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read keystore %s: %w", file, err)
	}
	key, err := keystore.DecryptKey(data, password)
	if err != nil {
		return nil, fmt.Errorf("decrypt keystore %s: %w", file, err)
	}
	return newWallet(key.PrivateKey), nil
}

// FromCred builds the wallets of a single credential.
func FromCred(cred config.CredConfig) ([]*Wallet, error) {
	switch {
	case cred.Mnemonic != nil:
		m := cred.Mnemonic
		phrase, err := m.Seed.Load()
		if err != nil {
			return nil, fmt.Errorf("load mnemonic: %w", err)
		}
		defer phrase.Zero()
		return FromMnemonic(phrase.Expose(), m.DerivationPath, m.AccountCount)
	case cred.Keystore != nil:
		password, err := cred.Keystore.Password.Load()
		if err != nil {
			return nil, fmt.Errorf("load keystore password: %w", err)
		}
		defer password.Zero()
		w, err := FromKeystore(cred.Keystore.File, password.Expose())
		if err != nil {
			return nil, err
		}
		return []*Wallet{w}, nil
	case cred.PrivateKey != nil:
		key, err := cred.PrivateKey.Hex.Load()
		if err != nil {
			return nil, fmt.Errorf("load private key: %w", err)
		}
		defer key.Zero()
		w, err := FromPrivateKey(key.Expose())
		if err != nil {
			return nil, err
		}
		return []*Wallet{w}, nil
	}
	return nil, fmt.Errorf("empty credential")
}

// FromCreds builds the wallets of every credential in order.
func FromCreds(creds []config.CredConfig) ([]*Wallet, error) {
	var out []*Wallet
	for _, c := range creds {
		ws, err := FromCred(c)
		if err != nil {
			return nil, err
		}
		out = append(out, ws...)
	}
	return out, nil
}

// Set indexes wallets by address. Later duplicates replace earlier ones.
type Set map[common.Address]*Wallet

// NewSet indexes wallets.
func NewSet(wallets []*Wallet) Set {
	s := make(Set, len(wallets))
	for _, w := range wallets {
		s[w.Address()] = w
	}
	return s
}

// Addresses returns the managed addresses in ascending byte order.
func (s Set) Addresses() []common.Address {
	out := make([]common.Address, 0, len(s))
	for a := range s {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}
