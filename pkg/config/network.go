package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/creasty/defaults"

	"github.com/chainsafe/cubist/pkg/secret"
)

const (
	// DefaultMnemonic seeds the well known development accounts.
	DefaultMnemonic = "test test test test test test test test test test test junk"
	// DefaultEthDerivationPathPrefix is extended with the account index.
	DefaultEthDerivationPathPrefix = "m/44'/60'/0'/0/"
	// DefaultAvalancheChainID is the chain id of the local C-chain.
	DefaultAvalancheChainID uint32 = 43112
	// DefaultAvalancheKey is the prefunded key of a local avalanche network.
	DefaultAvalancheKey = "56289e99c94b6912bfc12adc093c9b51124f0dc54ac7a766b2bc5ccf558d8027"
)

// decodeStrict decodes data into v and rejects unknown fields.
func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// NetworkProfile holds the endpoint configuration of each target.
type NetworkProfile struct {
	Ethereum  *EthereumConfig  `json:"ethereum,omitempty"`
	Polygon   *PolygonConfig   `json:"polygon,omitempty"`
	Avalanche *AvalancheConfig `json:"avalanche,omitempty"`
	Stellar   *StellarConfig   `json:"stellar,omitempty"`
}

func (p *NetworkProfile) UnmarshalJSON(data []byte) error {
	type plain NetworkProfile
	var v plain
	if err := decodeStrict(data, &v); err != nil {
		return err
	}
	*p = NetworkProfile(v)
	return nil
}

// Get returns the endpoint configured for t, if any.
func (p NetworkProfile) Get(t Target) (EndpointConfig, bool) {
	e := EndpointConfig{Target: t}
	switch t {
	case Ethereum:
		e.Ethereum = p.Ethereum
		return e, p.Ethereum != nil
	case Polygon:
		e.Polygon = p.Polygon
		return e, p.Polygon != nil
	case Avalanche:
		e.Avalanche = p.Avalanche
		return e, p.Avalanche != nil
	case Stellar:
		e.Stellar = p.Stellar
		return e, p.Stellar != nil
	}
	return e, false
}

// EndpointConfig is the configuration of a single target. Exactly one of the
// chain specific fields is set, matching Target.
type EndpointConfig struct {
	Target    Target
	Ethereum  *EthereumConfig
	Polygon   *PolygonConfig
	Avalanche *AvalancheConfig
	Stellar   *StellarConfig
}

// Common returns the settings shared by every chain.
func (e EndpointConfig) Common() CommonConfig {
	switch {
	case e.Ethereum != nil:
		return e.Ethereum.CommonConfig
	case e.Polygon != nil:
		return e.Polygon.CommonConfig
	case e.Avalanche != nil:
		return e.Avalanche.CommonConfig
	case e.Stellar != nil:
		return e.Stellar.CommonConfig
	}
	return CommonConfig{}
}

// IsLocal reports whether the endpoint URL points at this machine.
func (e EndpointConfig) IsLocal() bool {
	host, err := e.Common().URL.Host()
	if err != nil {
		return false
	}
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// Credentials returns the accounts that sign transactions for the target:
// the proxy credentials when a proxy is configured, otherwise the accounts a
// local node funds.
func (e EndpointConfig) Credentials() []CredConfig {
	if p := e.Common().Proxy; p != nil {
		return p.Creds
	}
	switch {
	case e.Ethereum != nil:
		m := e.Ethereum.BootstrapMnemonic
		return []CredConfig{{Mnemonic: &m}}
	case e.Polygon != nil:
		return e.Polygon.LocalAccounts
	case e.Avalanche != nil:
		return []CredConfig{{PrivateKey: &PrivateKeyConfig{
			Hex: secret.NewSecretKey(secret.FromPlainText(DefaultAvalancheKey)),
		}}}
	}
	return nil
}

// ClientURL is the URL clients send requests to: the local proxy when one
// is configured, otherwise the node. Avalanche URLs point at the EVM chain.
func (e EndpointConfig) ClientURL() (*url.URL, error) {
	common := e.Common()
	var u *url.URL
	if common.Proxy != nil {
		u = &url.URL{Scheme: "http", Host: fmt.Sprintf("localhost:%d", common.Proxy.Port)}
	} else {
		var err error
		if u, err = common.URL.ExposeURL(); err != nil {
			return nil, err
		}
	}
	if e.Avalanche != nil {
		path, _ := e.Avalanche.EthEndpointAndChainID()
		u.Path = "/" + path
		u.RawPath = ""
	}
	return u, nil
}

// CommonConfig is shared by every chain configuration.
type CommonConfig struct {
	// URL of the chain endpoint. It may contain ${{env.X}} markers.
	URL secret.URL `json:"url"`
	// Autostart launches a local node when URL is a localhost address.
	Autostart bool `json:"autostart" default:"true"`
	// Proxy puts a signing proxy in front of URL.
	Proxy *ProxyConfig `json:"proxy,omitempty"`
}

// ProxyConfig configures the signing proxy of a chain.
type ProxyConfig struct {
	Port    uint16       `json:"port" validate:"required"`
	Creds   []CredConfig `json:"creds" validate:"dive"`
	ChainID uint32       `json:"chain_id" validate:"required"`
}

func (p *ProxyConfig) UnmarshalJSON(data []byte) error {
	type plain ProxyConfig
	var v plain
	if err := decodeStrict(data, &v); err != nil {
		return err
	}
	*p = ProxyConfig(v)
	return nil
}

// CredConfig is one credential. Exactly one field is set.
type CredConfig struct {
	Mnemonic   *MnemonicConfig   `json:"mnemonic,omitempty"`
	Keystore   *KeystoreConfig   `json:"keystore,omitempty"`
	PrivateKey *PrivateKeyConfig `json:"private_key,omitempty"`
}

func (c *CredConfig) UnmarshalJSON(data []byte) error {
	type plain CredConfig
	var v plain
	if err := decodeStrict(data, &v); err != nil {
		return err
	}
	set := 0
	for _, ok := range []bool{v.Mnemonic != nil, v.Keystore != nil, v.PrivateKey != nil} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("credential must have exactly one of 'mnemonic', 'keystore' or 'private_key'")
	}
	*c = CredConfig(v)
	return nil
}

// MnemonicConfig derives AccountCount accounts from a BIP-39 seed.
type MnemonicConfig struct {
	Seed           secret.Mnemonic `json:"seed"`
	AccountCount   uint16          `json:"account_count" default:"1"`
	DerivationPath string          `json:"derivation_path" default:"m/44'/60'/0'/0/"`
}

// SetDefaults fills in the development mnemonic.
func (m *MnemonicConfig) SetDefaults() {
	if m.Seed.IsZero() {
		m.Seed = secret.NewMnemonic(secret.FromPlainText(DefaultMnemonic))
	}
}

func (m *MnemonicConfig) UnmarshalJSON(data []byte) error {
	type plain MnemonicConfig
	var v plain
	if err := defaults.Set(&v); err != nil {
		return err
	}
	if err := decodeStrict(data, &v); err != nil {
		return err
	}
	*m = MnemonicConfig(v)
	return nil
}

// DefaultMnemonicConfig returns the single development account.
func DefaultMnemonicConfig() MnemonicConfig {
	return MnemonicConfig{
		Seed:           secret.NewMnemonic(secret.FromPlainText(DefaultMnemonic)),
		AccountCount:   1,
		DerivationPath: DefaultEthDerivationPathPrefix,
	}
}

// KeystoreConfig points at an encrypted JSON keystore.
type KeystoreConfig struct {
	File     string        `json:"file" validate:"required"`
	Password secret.Secret `json:"password"`
}

func (k *KeystoreConfig) UnmarshalJSON(data []byte) error {
	type plain KeystoreConfig
	var v plain
	if err := decodeStrict(data, &v); err != nil {
		return err
	}
	*k = KeystoreConfig(v)
	return nil
}

// PrivateKeyConfig holds a hex encoded secp256k1 key.
type PrivateKeyConfig struct {
	Hex secret.SecretKey `json:"hex"`
}

func (p *PrivateKeyConfig) UnmarshalJSON(data []byte) error {
	type plain PrivateKeyConfig
	var v plain
	if err := decodeStrict(data, &v); err != nil {
		return err
	}
	*p = PrivateKeyConfig(v)
	return nil
}

// EthereumConfig configures the ethereum target.
type EthereumConfig struct {
	CommonConfig
	// BootstrapMnemonic funds accounts on a local node.
	BootstrapMnemonic MnemonicConfig `json:"bootstrap_mnemonic"`
}

func (e *EthereumConfig) UnmarshalJSON(data []byte) error {
	type plain EthereumConfig
	var v plain
	if err := defaults.Set(&v); err != nil {
		return err
	}
	if err := decodeStrict(data, &v); err != nil {
		return err
	}
	*e = EthereumConfig(v)
	return nil
}

// PolygonConfig configures the polygon target.
type PolygonConfig struct {
	CommonConfig
	// LocalAccounts are funded on a local node.
	LocalAccounts []CredConfig `json:"local_accounts" validate:"dive"`
}

func (p *PolygonConfig) UnmarshalJSON(data []byte) error {
	type plain PolygonConfig
	var v plain
	if err := defaults.Set(&v); err != nil {
		return err
	}
	if err := decodeStrict(data, &v); err != nil {
		return err
	}
	if v.LocalAccounts == nil {
		m := DefaultMnemonicConfig()
		v.LocalAccounts = []CredConfig{{Mnemonic: &m}}
	}
	*p = PolygonConfig(v)
	return nil
}

// SubnetInfo describes an avalanche subnet running an EVM.
type SubnetInfo struct {
	VMName       string `json:"vm_name" validate:"required"`
	VMID         string `json:"vm_id" validate:"required"`
	ChainID      uint32 `json:"chain_id" validate:"required"`
	BlockchainID string `json:"blockchain_id" validate:"required"`
}

// AvalancheConfig configures the avalanche target.
type AvalancheConfig struct {
	CommonConfig
	NumNodes uint16       `json:"num_nodes" default:"5"`
	Subnets  []SubnetInfo `json:"subnets,omitempty" validate:"dive"`
}

func (a *AvalancheConfig) UnmarshalJSON(data []byte) error {
	type plain AvalancheConfig
	var v plain
	if err := defaults.Set(&v); err != nil {
		return err
	}
	if err := decodeStrict(data, &v); err != nil {
		return err
	}
	*a = AvalancheConfig(v)
	return nil
}

// EthEndpointAndChainID returns the path of the EVM endpoint and its chain id.
// The first subnet wins; without subnets the C-chain is used.
func (a AvalancheConfig) EthEndpointAndChainID() (string, uint32) {
	if len(a.Subnets) > 0 {
		s := a.Subnets[0]
		return fmt.Sprintf("ext/bc/%s/rpc", s.BlockchainID), s.ChainID
	}
	return "ext/bc/C/rpc", DefaultAvalancheChainID
}

// StellarConfig configures the stellar target.
type StellarConfig struct {
	CommonConfig
	// Identities are created in the soroban CLI and used as transaction sources.
	Identities []string `json:"identities"`
}

func (s *StellarConfig) UnmarshalJSON(data []byte) error {
	type plain StellarConfig
	var v plain
	if err := defaults.Set(&v); err != nil {
		return err
	}
	if err := decodeStrict(data, &v); err != nil {
		return err
	}
	if len(v.Identities) == 0 {
		v.Identities = []string{"cubist"}
	}
	*s = StellarConfig(v)
	return nil
}

// DefaultURL returns the endpoint a target uses when no profile entry exists.
func DefaultURL(t Target) secret.URL {
	u := url.URL{Scheme: "http"}
	switch t {
	case Ethereum:
		u.Host = "localhost:8545"
	case Polygon:
		u.Host = "localhost:9545"
	case Avalanche:
		u.Host = "localhost:9560"
	case Stellar:
		u.Host = "localhost:10545"
	}
	return secret.FromURL(&u)
}
