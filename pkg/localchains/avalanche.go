package localchains

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/chainsafe/cubist/pkg/app/errors"
	"github.com/chainsafe/cubist/pkg/config"
	"github.com/chainsafe/cubist/pkg/fsutil"
	"github.com/chainsafe/cubist/pkg/proxy"
	"github.com/chainsafe/cubist/pkg/secret"
)

// ewoqAddress is the account funded in subnet genesis files; it belongs to
// config.DefaultAvalancheKey.
const ewoqAddress = "0x8db97C7cEcE249c2b98bDC0226Cc4C2A57BF52FC"

// minAvalancheNodes is the smallest network that reports healthy.
const minAvalancheNodes = 4

// avalancheProvider runs a local network with avalanche-network-runner.
type avalancheProvider struct {
	cfg       config.AvalancheConfig
	runner    *Downloadable
	node      *Downloadable
	subnetEVM *Downloadable
	opts      Options
}

func newAvalancheProvider(cfg config.AvalancheConfig, opts Options) (*avalancheProvider, error) {
	p := &avalancheProvider{cfg: cfg, opts: opts}
	for name, dst := range map[string]**Downloadable{
		"avalanche-network-runner": &p.runner,
		"avalanchego":              &p.node,
		"subnet-evm":               &p.subnetEVM,
	} {
		d, err := opts.Resources.ForCurrentMachine(name, opts.CacheDir)
		if err != nil {
			return nil, err
		}
		*dst = d
	}
	return p, nil
}

func (p *avalancheProvider) Name() string {
	if len(p.cfg.Subnets) > 0 {
		return "avalanche-subnet"
	}
	return string(config.Avalanche)
}

func (p *avalancheProvider) IsLocal() bool   { return true }
func (p *avalancheProvider) URL() secret.URL { return p.cfg.URL }

func (p *avalancheProvider) BootstrapETA() time.Duration {
	if len(p.cfg.Subnets) > 0 {
		return 75 * time.Second
	}
	return 15 * time.Second
}

func (p *avalancheProvider) pluginsDir() string {
	return filepath.Join(filepath.Dir(p.node.Destination()), "plugins")
}

// Preflight also removes subnet plugins left by earlier runs.
func (p *avalancheProvider) Preflight() ([]*Downloadable, error) {
	entries, _ := os.ReadDir(p.pluginsDir())
	for _, e := range entries {
		if e.IsDir() || e.Name() == "evm" {
			continue
		}
		path := filepath.Join(p.pluginsDir(), e.Name())
		err := os.Remove(path)
		p.opts.Logger.Debug("Deleted stale plugin", zap.String("path", path), zap.Error(err))
	}
	return []*Downloadable{p.runner, p.node, p.subnetEVM}, nil
}

func (p *avalancheProvider) Credentials() []config.CredConfig {
	return []config.CredConfig{{PrivateKey: &config.PrivateKeyConfig{
		Hex: secret.NewSecretKey(secret.FromPlainText(config.DefaultAvalancheKey)),
	}}}
}

// blockchainSpec is one entry of the --blockchain-specs argument.
type blockchainSpec struct {
	VMName  string `json:"vm_name"`
	Genesis string `json:"genesis"`
}

// prepareSubnet writes the genesis of sub to dir and installs subnet-evm as
// the plugin for its VM id.
func (p *avalancheProvider) prepareSubnet(dir string, sub config.SubnetInfo) (blockchainSpec, error) {
	genesis := filepath.Join(dir, fmt.Sprintf("genesis-%s.json", sub.VMName))
	if err := fsutil.WriteJSONAtomic(genesis, subnetEVMGenesis(sub.ChainID, ewoqAddress)); err != nil {
		return blockchainSpec{}, apperrors.IOError(err, "create genesis file")
	}
	bin, err := os.ReadFile(p.subnetEVM.Destination())
	if err != nil {
		return blockchainSpec{}, apperrors.IOError(err, "read subnet-evm")
	}
	plugin := filepath.Join(p.pluginsDir(), sub.VMID)
	if err := fsutil.WriteFileAtomic(plugin, bin, 0o755); err != nil {
		return blockchainSpec{}, apperrors.IOError(err, "install subnet-evm plugin")
	}
	return blockchainSpec{VMName: sub.VMName, Genesis: genesis}, nil
}

// customNodeConfigs gives each of n nodes its own http and staking port,
// starting at start.
func customNodeConfigs(start, n int) (map[string]string, error) {
	if n < minAvalancheNodes {
		return nil, apperrors.ConfigurationError(nil,
			fmt.Sprintf("A healthy Avalanche network requires at least %d nodes, %d specified instead", minAvalancheNodes, n))
	}
	out := map[string]string{}
	port := start
	for i := 1; i <= n; i++ {
		staking, err := nextAvailablePort(port)
		if err != nil {
			return nil, err
		}
		cfg, _ := json.Marshal(map[string]int{"http-port": port, "staking-port": staking})
		out[fmt.Sprintf("node%d", i)] = string(cfg)
		if port, err = nextAvailablePort(staking); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (p *avalancheProvider) Start(ctx context.Context) (Server, error) {
	proxyPort, err := p.cfg.URL.Port()
	if err != nil {
		return nil, apperrors.ConfigurationError(err, "invalid avalanche url")
	}
	if proxyPort == 0 {
		proxyPort = 9560
	}
	serverPort, err := nextAvailablePort(proxyPort)
	if err != nil {
		return nil, err
	}
	grpcPort, err := nextAvailablePort(serverPort)
	if err != nil {
		return nil, err
	}
	avaPort, err := nextAvailablePort(grpcPort)
	if err != nil {
		return nil, err
	}
	nodeConfigs, err := customNodeConfigs(avaPort, int(p.cfg.NumNodes))
	if err != nil {
		return nil, err
	}

	dataDir, err := os.MkdirTemp("", "ava-data")
	if err != nil {
		return nil, apperrors.IOError(err, "create avalanche data directory")
	}
	specs := []blockchainSpec{}
	for _, sub := range p.cfg.Subnets {
		spec, err := p.prepareSubnet(dataDir, sub)
		if err != nil {
			_ = os.RemoveAll(dataDir)
			return nil, err
		}
		specs = append(specs, spec)
	}

	proc, err := startProcess(p.Name(), p.opts.Logger, p.runner.Destination(),
		"server", fmt.Sprintf("--port=:%d", serverPort), fmt.Sprintf("--grpc-gateway-port=:%d", grpcPort))
	if err != nil {
		_ = os.RemoveAll(dataDir)
		return nil, err
	}
	s := &avalancheServer{
		name:       p.Name(),
		proc:       proc,
		exe:        p.runner.Destination(),
		serverPort: serverPort,
		grpcPort:   grpcPort,
		subnets:    len(p.cfg.Subnets) > 0,
		dataDir:    dataDir,
		opts:       p.opts,
	}

	nodeJSON, _ := json.Marshal(nodeConfigs)
	specJSON, _ := json.Marshal(specs)
	// returns once the request is sent, not once the network is up
	if _, err := p.opts.Runner.Run(ctx, "", s.exe, "control", "start",
		fmt.Sprintf("--endpoint=:%d", serverPort),
		"--root-data-dir", dataDir,
		"--avalanchego-path", p.node.Destination(),
		"--custom-node-configs", string(nodeJSON),
		"--blockchain-specs", string(specJSON),
	); err != nil {
		_ = s.Kill()
		return nil, apperrors.SupervisionError(err, "failed to start avalanche network")
	}

	nodeRoot := fmt.Sprintf("http://127.0.0.1:%d", avaPort)
	proxies, err := p.credProxies(ctx, nodeRoot)
	if err != nil {
		_ = s.Kill()
		return nil, err
	}
	if s.proxy, err = serveProxy(proxyPort, proxy.Ava(nodeRoot, proxies, p.opts.Logger), p.opts.Logger); err != nil {
		_ = s.Kill()
		return nil, err
	}
	endpoint, _ := p.cfg.EthEndpointAndChainID()
	ethURL, err := p.cfg.URL.ExposeURLAndUpdate("http", proxyPort, endpoint)
	if err != nil {
		_ = s.Kill()
		return nil, apperrors.ConfigurationError(err, "invalid avalanche url")
	}
	s.ethURL = ethURL.String()
	return s, nil
}

// credProxies signs for the C-chain and every subnet with the ewoq key.
func (p *avalancheProvider) credProxies(ctx context.Context, nodeRoot string) (map[string]*proxy.CredProxy, error) {
	chains := map[string]uint32{"C": config.DefaultAvalancheChainID}
	for _, sub := range p.cfg.Subnets {
		chains[sub.BlockchainID] = sub.ChainID
	}
	out := map[string]*proxy.CredProxy{}
	for id, chainID := range chains {
		upstream := fmt.Sprintf("%s/ext/bc/%s/rpc", nodeRoot, id)
		cfg := config.ProxyConfig{Creds: p.Credentials(), ChainID: chainID}
		cp, err := proxy.DialCredProxy(ctx, fmt.Sprintf("avalanche/%s", id), upstream, cfg, p.opts.Logger)
		if err != nil {
			return nil, err
		}
		out[id] = cp
	}
	return out, nil
}

type avalancheServer struct {
	name       string
	proc       *process
	proxy      *runningProxy
	exe        string
	serverPort int
	grpcPort   int
	subnets    bool
	dataDir    string
	ethURL     string
	opts       Options
}

func (s *avalancheServer) PID() int                         { return s.proc.pid() }
func (s *avalancheServer) Exited() <-chan struct{}          { return s.proc.exited() }
func (s *avalancheServer) Initialize(context.Context) error { return nil }

// clusterStatus is the part of the runner status response we read.
type clusterStatus struct {
	ClusterInfo struct {
		Healthy             bool `json:"healthy"`
		CustomChainsHealthy bool `json:"customChainsHealthy"`
	} `json:"clusterInfo"`
}

func (s *avalancheServer) healthy(ctx context.Context) error {
	var st clusterStatus
	u := fmt.Sprintf("http://127.0.0.1:%d/v1/control/status", s.grpcPort)
	if err := getJSON(ctx, s.opts.HTTPClient, http.MethodPost, u, &st); err != nil {
		return err
	}
	if !st.ClusterInfo.Healthy || (s.subnets && !st.ClusterInfo.CustomChainsHealthy) {
		return fmt.Errorf("not healthy yet")
	}
	return nil
}

// Available waits for every node and custom chain, then for the EVM
// endpoint behind the proxy.
func (s *avalancheServer) Available(ctx context.Context) error {
	err := s.proc.whileRunning(ctx, func(ctx context.Context) error {
		return avalancheProbe.retry(ctx, s.name, s.healthy)
	})
	if err != nil {
		return err
	}
	return s.proc.whileRunning(ctx, func(ctx context.Context) error {
		return ethProbe.retry(ctx, s.name, func(ctx context.Context) error {
			return ethAvailable(ctx, s.opts.HTTPClient, s.ethURL)
		})
	})
}

// Kill stops the network through the runner before killing the runner.
func (s *avalancheServer) Kill() error {
	select {
	case <-s.proc.exited():
	default:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_, err := s.opts.Runner.Run(ctx, "", s.exe, "control", "stop",
			"--dial-timeout=100ms", fmt.Sprintf("--endpoint=:%d", s.serverPort))
		cancel()
		s.opts.Logger.Debug("Stopped avalanche network", zap.Error(err))
	}
	var err error
	if s.proxy != nil {
		err = s.proxy.stop()
	}
	if kerr := s.proc.kill(); kerr != nil && err == nil {
		err = kerr
	}
	_ = os.RemoveAll(s.dataDir)
	return err
}

// subnetEVMGenesis is a default subnet-evm genesis with chainID and a funded
// account.
func subnetEVMGenesis(chainID uint32, funded string) map[string]any {
	zeroHash := "0x0000000000000000000000000000000000000000000000000000000000000000"
	return map[string]any{
		"config": map[string]any{
			"chainId": chainID,
			"feeConfig": map[string]any{
				"gasLimit":                 8000000,
				"targetBlockRate":          2,
				"minBaseFee":               uint64(25000000000),
				"targetGas":                15000000,
				"baseFeeChangeDenominator": 36,
				"minBlockGasCost":          0,
				"maxBlockGasCost":          1000000,
				"blockGasCostStep":         200000,
			},
			"homesteadBlock":      0,
			"eip150Block":         0,
			"eip150Hash":          "0x2086799aeebeae135c246c65021c82b4e15a2c451340993aacfd2751886514f0",
			"eip155Block":         0,
			"eip158Block":         0,
			"byzantiumBlock":      0,
			"constantinopleBlock": 0,
			"petersburgBlock":     0,
			"istanbulBlock":       0,
			"muirGlacierBlock":    0,
			"subnetEVMTimestamp":  0,
		},
		"nonce":      "0x0",
		"timestamp":  "0x0",
		"extraData":  "0x",
		"gasLimit":   "0x7a1200",
		"difficulty": "0x0",
		"mixHash":    zeroHash,
		"coinbase":   "0x0000000000000000000000000000000000000000",
		"alloc": map[string]any{
			funded: map[string]any{"balance": "0xd3c21bcecceda1000000"},
		},
		"airdropHash":   zeroHash,
		"airdropAmount": nil,
		"number":        "0x0",
		"gasUsed":       "0x0",
		"parentHash":    zeroHash,
		"baseFeePerGas": nil,
	}
}
