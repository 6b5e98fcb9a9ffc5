package localchains

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	apperrors "github.com/chainsafe/cubist/pkg/app/errors"
	"github.com/chainsafe/cubist/pkg/config"
	"github.com/chainsafe/cubist/pkg/keys"
	"github.com/chainsafe/cubist/pkg/secret"
)

const (
	anvilChainID uint32 = 31337
	borChainID   uint32 = 1337
)

// ports returns the URL port the proxy takes (def when the URL has none)
// and the next free port, where the node runs.
func ports(u secret.URL, def int) (proxyPort, nodePort int, err error) {
	proxyPort, err = u.Port()
	if err != nil {
		return 0, 0, apperrors.ConfigurationError(err, "invalid chain url")
	}
	if proxyPort == 0 {
		proxyPort = def
	}
	nodePort, err = nextAvailablePort(proxyPort)
	return proxyPort, nodePort, err
}

// evmServer is an EVM node behind a signing proxy. Initialize funds toFund
// from the dev account.
type evmServer struct {
	name    string
	proc    *process
	proxy   *runningProxy
	url     string
	nodeURL string
	client  *http.Client
	cleanup func()
	toFund  []common.Address
	logger  *zap.Logger
}

func (s *evmServer) PID() int                { return s.proc.pid() }
func (s *evmServer) Exited() <-chan struct{} { return s.proc.exited() }

// Available probes through the proxy, so both are up once it returns.
func (s *evmServer) Available(ctx context.Context) error {
	return s.proc.whileRunning(ctx, func(ctx context.Context) error {
		return ethProbe.retry(ctx, s.name, func(ctx context.Context) error {
			return ethAvailable(ctx, s.client, s.url)
		})
	})
}

func (s *evmServer) Initialize(ctx context.Context) error {
	return s.proc.whileRunning(ctx, func(ctx context.Context) error {
		return fundAccounts(ctx, s.nodeURL, s.toFund, s.logger)
	})
}

func (s *evmServer) Kill() error {
	var err error
	if s.proxy != nil {
		err = s.proxy.stop()
	}
	if kerr := s.proc.kill(); kerr != nil && err == nil {
		err = kerr
	}
	if s.cleanup != nil {
		s.cleanup()
	}
	return err
}

// startEVM starts the node binary, then the proxy on proxyPort in front of
// nodePort.
func startEVM(ctx context.Context, name string, opts Options, u secret.URL, proxyPort, nodePort int, chainID uint32, creds []config.CredConfig, path string, args ...string) (*evmServer, error) {
	proc, err := startProcess(name, opts.Logger, path, args...)
	if err != nil {
		return nil, err
	}
	nodeURL, err := u.ExposeURLAndUpdate("http", nodePort, "")
	if err != nil {
		_ = proc.kill()
		return nil, apperrors.ConfigurationError(err, "invalid chain url")
	}
	proxyURL, err := u.ExposeURLAndUpdate("http", proxyPort, "")
	if err != nil {
		_ = proc.kill()
		return nil, apperrors.ConfigurationError(err, "invalid chain url")
	}
	pcfg := config.ProxyConfig{Port: uint16(proxyPort), Creds: creds, ChainID: chainID}
	px, err := startEthProxy(ctx, name, proxyPort, nodeURL.String(), pcfg, opts.Logger)
	if err != nil {
		_ = proc.kill()
		return nil, err
	}
	return &evmServer{
		name:    name,
		proc:    proc,
		proxy:   px,
		url:     proxyURL.String(),
		nodeURL: nodeURL.String(),
		client:  opts.HTTPClient,
		logger:  opts.Logger.With(zap.String("chain", name)),
	}, nil
}

// anvilProvider runs a foundry anvil node.
type anvilProvider struct {
	cfg  config.EthereumConfig
	exe  *Downloadable
	opts Options
}

func newAnvilProvider(cfg config.EthereumConfig, opts Options) (*anvilProvider, error) {
	exe, err := opts.Resources.ForCurrentMachine("anvil", opts.CacheDir)
	if err != nil {
		return nil, err
	}
	return &anvilProvider{cfg: cfg, exe: exe, opts: opts}, nil
}

func (p *anvilProvider) Name() string                        { return string(config.Ethereum) }
func (p *anvilProvider) IsLocal() bool                       { return true }
func (p *anvilProvider) BootstrapETA() time.Duration         { return 2 * time.Second }
func (p *anvilProvider) URL() secret.URL                     { return p.cfg.URL }
func (p *anvilProvider) Preflight() ([]*Downloadable, error) { return []*Downloadable{p.exe}, nil }

func (p *anvilProvider) Credentials() []config.CredConfig {
	m := p.cfg.BootstrapMnemonic
	return []config.CredConfig{{Mnemonic: &m}}
}

func (p *anvilProvider) Start(ctx context.Context) (Server, error) {
	proxyPort, nodePort, err := ports(p.cfg.URL, 8545)
	if err != nil {
		return nil, err
	}
	m := p.cfg.BootstrapMnemonic
	seed, err := m.Seed.Load()
	if err != nil {
		return nil, apperrors.ConfigurationError(err, "load bootstrap mnemonic")
	}
	args := []string{
		"--chain-id", strconv.FormatUint(uint64(anvilChainID), 10),
		"--port", strconv.Itoa(nodePort),
		"--accounts", strconv.Itoa(int(m.AccountCount)),
		"--mnemonic", seed.Expose(),
		"--derivation-path", m.DerivationPath,
	}
	return startEVM(ctx, p.Name(), p.opts, p.cfg.URL, proxyPort, nodePort, anvilChainID, p.Credentials(), p.exe.Destination(), args...)
}

// borProvider runs a polygon bor node in dev mode.
type borProvider struct {
	cfg  config.PolygonConfig
	exe  *Downloadable
	opts Options
}

func newBorProvider(cfg config.PolygonConfig, opts Options) (*borProvider, error) {
	exe, err := opts.Resources.ForCurrentMachine("bor", opts.CacheDir)
	if err != nil {
		return nil, err
	}
	return &borProvider{cfg: cfg, exe: exe, opts: opts}, nil
}

func (p *borProvider) Name() string                        { return string(config.Polygon) }
func (p *borProvider) IsLocal() bool                       { return true }
func (p *borProvider) BootstrapETA() time.Duration         { return 3 * time.Second }
func (p *borProvider) URL() secret.URL                     { return p.cfg.URL }
func (p *borProvider) Preflight() ([]*Downloadable, error) { return []*Downloadable{p.exe}, nil }
func (p *borProvider) Credentials() []config.CredConfig    { return p.cfg.LocalAccounts }

func (p *borProvider) Start(ctx context.Context) (Server, error) {
	wallets, err := keys.FromCreds(p.cfg.LocalAccounts)
	if err != nil {
		return nil, apperrors.ConfigurationError(err, "build polygon local accounts")
	}
	toFund := make([]common.Address, len(wallets))
	for i, w := range wallets {
		toFund[i] = w.Address()
	}

	proxyPort, nodePort, err := ports(p.cfg.URL, 9545)
	if err != nil {
		return nil, err
	}
	dataDir, err := os.MkdirTemp("", "bor-data")
	if err != nil {
		return nil, apperrors.IOError(err, "create bor data directory")
	}
	args := []string{
		"--dev",
		"--datadir", dataDir,
		"--port", "30303",
		"--http",
		"--http.vhosts", "*",
		"--http.corsdomain", "*",
		"--http.port", strconv.Itoa(nodePort),
		"--http.api", "eth,net,web3,txpool",
		"--networkid", fmt.Sprint(borChainID),
		"--miner.gasprice", "0",
		"--nodiscover",
		"--maxpeers", "0",
	}
	s, err := startEVM(ctx, p.Name(), p.opts, p.cfg.URL, proxyPort, nodePort, borChainID, p.cfg.LocalAccounts, p.exe.Destination(), args...)
	if err != nil {
		_ = os.RemoveAll(dataDir)
		return nil, err
	}
	s.toFund = toFund
	s.cleanup = func() { _ = os.RemoveAll(dataDir) }
	return s, nil
}
