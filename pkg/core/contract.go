package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/chainsafe/cubist/internal/ui"
	apperrors "github.com/chainsafe/cubist/pkg/app/errors"
	"github.com/chainsafe/cubist/pkg/compile"
	"github.com/chainsafe/cubist/pkg/config"
	"github.com/chainsafe/cubist/pkg/gen"
)

// AxelarSetTargetMethod points an Axelar receiver at the contract it
// forwards to.
const AxelarSetTargetMethod = "setTarget"

// ErrAlreadyInitialized is returned when a contract is bound to a second,
// different address.
var ErrAlreadyInitialized = errors.New("already initialized")

// NotDeployedError is returned when a contract has no address on a target.
type NotDeployedError struct {
	Contract string
	Target   config.Target
}

func (e *NotDeployedError) Error() string {
	return fmt.Sprintf("Contract '%s' not yet deployed to '%s'", e.Contract, e.Target)
}

// Contract is a compiled contract on one target. Non-shim contracts own the
// shims that stand in for them on other targets, and know the shims on
// their own target they call.
type Contract struct {
	Info   *compile.ContractInfo
	Target config.Target
	IsShim bool

	project *Project
	// shims by the target they are deployed to
	shims map[config.Target]*Contract
	// deps are shims this contract calls
	deps []*Contract
	// receivers are Axelar receivers forwarding to this contract
	receivers []*Contract

	deployMu sync.Mutex
	addrMu   sync.RWMutex
	address  config.Address
}

func newContract(info *compile.ContractInfo, project *Project, isShim bool) *Contract {
	return &Contract{
		Info:    info,
		Target:  project.Target,
		IsShim:  isShim,
		project: project,
		shims:   map[config.Target]*Contract{},
	}
}

// Name is the contract name.
func (c *Contract) Name() string { return c.Info.FQN.Name }

// FQN identifies the contract definition.
func (c *Contract) FQN() config.ContractFQN { return c.Info.FQN }

// Project is the target project the contract belongs to.
func (c *Contract) Project() *Project { return c.project }

// FullName is "file:name".
func (c *Contract) FullName() string { return c.Info.FQN.String() }

// FullNameWithTarget is "file:name@target".
func (c *Contract) FullNameWithTarget() string {
	return c.FullName() + "@" + string(c.Target)
}

// NameWithTargetAndAddress is "name(address)@target", or the name and target
// alone before deployment.
func (c *Contract) NameWithTargetAndAddress() string {
	if addr, ok := c.Address(); ok {
		return fmt.Sprintf("%s(%s)@%s", c.Name(), addr.Hex(), c.Target)
	}
	return c.Name() + "@" + string(c.Target)
}

// AddressAndTarget is "address@target".
func (c *Contract) AddressAndTarget() string {
	addr, ok := c.Address()
	if !ok {
		return "?@" + string(c.Target)
	}
	return addr.Hex() + "@" + string(c.Target)
}

// Shims returns the shims of the contract sorted by target.
func (c *Contract) Shims() []*Contract {
	targets := make([]string, 0, len(c.shims))
	for t := range c.shims {
		targets = append(targets, string(t))
	}
	sort.Strings(targets)
	out := make([]*Contract, len(targets))
	for i, t := range targets {
		out[i] = c.shims[config.Target(t)]
	}
	return out
}

// Shim returns the shim on target.
func (c *Contract) Shim(target config.Target) (*Contract, bool) {
	s, ok := c.shims[target]
	return s, ok
}

// Dependencies returns the shims the contract calls.
func (c *Contract) Dependencies() []*Contract { return c.deps }

// Address returns the address once the contract is deployed or bound.
func (c *Contract) Address() (config.Address, bool) {
	c.addrMu.RLock()
	defer c.addrMu.RUnlock()
	return c.address, c.address != nil
}

// At binds the contract to an existing deployment. Binding again to the same
// address is a no-op.
func (c *Contract) At(addr config.Address) error {
	if len(addr) == 0 {
		return apperrors.ContractError(nil, "empty address")
	}
	c.addrMu.Lock()
	defer c.addrMu.Unlock()
	if c.address != nil {
		if c.address.Equal(addr) {
			return nil
		}
		return apperrors.ContractError(ErrAlreadyInitialized,
			fmt.Sprintf("%s is bound to %s", c.FullNameWithTarget(), c.address.Hex()))
	}
	c.address = append(config.Address(nil), addr...)
	return nil
}

// AddressOn returns the address of the contract on target: its own when
// target is the contract's, otherwise its shim's.
func (c *Contract) AddressOn(target config.Target) (config.Address, error) {
	var (
		addr config.Address
		ok   bool
	)
	if target == c.Target {
		addr, ok = c.Address()
	} else if shim, found := c.shims[target]; found {
		addr, ok = shim.Address()
	}
	if !ok {
		return nil, &NotDeployedError{Contract: c.FullName(), Target: target}
	}
	return addr, nil
}

func (c *Contract) requireAddress() (config.Address, error) {
	addr, ok := c.Address()
	if !ok {
		return nil, &NotDeployedError{Contract: c.FullName(), Target: c.Target}
	}
	return addr, nil
}

// Deploy deploys the contract with args. A non-shim contract first deploys
// its shims, then approves itself as a caller of every shim it depends on
// and writes its deployment manifest. Deploying a deployed contract returns
// its address.
func (c *Contract) Deploy(ctx context.Context, args ...any) (config.Address, error) {
	c.deployMu.Lock()
	defer c.deployMu.Unlock()
	if addr, ok := c.Address(); ok {
		return addr, nil
	}
	logger := c.project.logger.With(zap.String("contract", c.FullNameWithTarget()))

	if !c.IsShim {
		if err := c.DeployShims(ctx); err != nil {
			return nil, err
		}
	}

	addr, err := c.project.Chain.Deploy(ctx, c.Info, args...)
	if err != nil {
		return nil, err
	}
	if err := c.At(addr); err != nil {
		return nil, err
	}
	logger.Info("Contract deployed", zap.String("address", addr.Hex()))
	if c.IsShim {
		return addr, nil
	}

	for _, r := range c.receivers {
		if _, ok := r.Address(); !ok {
			logger.Debug("Axelar receiver not bound; skipping", zap.String("receiver", r.Name()))
			continue
		}
		if err := r.Send(ctx, AxelarSetTargetMethod, c.addressArg(addr)); err != nil {
			return nil, err
		}
	}
	if err := c.approveCallerForShims(ctx, addr); err != nil {
		return nil, err
	}
	path, err := c.SaveDeploymentManifest()
	if err != nil {
		return nil, err
	}
	logger.Debug("Deployment manifest written", zap.String("path", path))
	ui.Phase("Deployed", "%s at %s", c.FullNameWithTarget(), addr.Hex())
	return addr, nil
}

// DeployShims deploys every shim of the contract.
func (c *Contract) DeployShims(ctx context.Context) error {
	for _, shim := range c.Shims() {
		if _, err := shim.Deploy(ctx); err != nil {
			return fmt.Errorf("failed to deploy shim %s: %w", shim.FullNameWithTarget(), err)
		}
	}
	return nil
}

func (c *Contract) approveCallerForShims(ctx context.Context, addr config.Address) error {
	for _, dep := range c.deps {
		if _, err := dep.Deploy(ctx); err != nil {
			return fmt.Errorf("failed to deploy dependency %s: %w", dep.FullNameWithTarget(), err)
		}
		if err := dep.Send(ctx, gen.ApproveCallerMethod, c.addressArg(addr)); err != nil {
			return fmt.Errorf("failed to approve %s on %s: %w", c.Name(), dep.FullNameWithTarget(), err)
		}
	}
	return nil
}

func (c *Contract) addressArg(addr config.Address) any {
	if c.Target.IsEVM() {
		return common.BytesToAddress(addr)
	}
	return addr
}

// DeploymentManifest describes the deployment of the contract and its shims.
func (c *Contract) DeploymentManifest() (*config.DeploymentManifest, error) {
	addr, err := c.requireAddress()
	if err != nil {
		return nil, err
	}
	m := &config.DeploymentManifest{
		Contract:   c.FQN(),
		Deployment: config.DeploymentInfo{Target: c.Target, Address: addr},
		Shims:      []config.DeploymentInfo{},
	}
	for _, shim := range c.Shims() {
		shimAddr, err := shim.requireAddress()
		if err != nil {
			return nil, err
		}
		m.Shims = append(m.Shims, config.DeploymentInfo{Target: shim.Target, Address: shimAddr})
	}
	return m, nil
}

// DeploymentManifestPath is where the manifest of the deployed contract is
// written.
func (c *Contract) DeploymentManifestPath() (string, error) {
	addr, err := c.requireAddress()
	if err != nil {
		return "", err
	}
	return c.project.paths.DeploymentManifestPath(c.Name(), addr), nil
}

// SaveDeploymentManifest atomically writes the deployment manifest and
// returns its path.
func (c *Contract) SaveDeploymentManifest() (string, error) {
	m, err := c.DeploymentManifest()
	if err != nil {
		return "", err
	}
	path, err := m.WriteTo(c.project.paths.DeploymentManifestDir())
	if err != nil {
		return "", apperrors.IOError(err, "failed to save deployment manifest")
	}
	return path, nil
}

// Deployed binds the contract and its shims to the addresses recorded in
// its deployment manifest. Exactly one deployment must be recorded.
func (c *Contract) Deployed() error {
	dir := c.project.paths.DeploymentManifestDir()
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		return apperrors.IOError(err, "failed to list deployment manifests")
	}

	var found []*config.DeploymentManifest
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, c.Name()+"-") {
			continue
		}
		if !config.IsDeploymentManifest(name) && !config.IsDeploymentManifest(strings.TrimSuffix(name, config.BridgedSuffix)) {
			continue
		}
		m, err := config.ReadDeploymentManifest(filepath.Join(dir, name))
		if err != nil {
			c.project.logger.Warn("Skipping invalid deployment manifest", zap.String("file", name), zap.Error(err))
			continue
		}
		if m.Deployment.Target != c.Target || !m.Contract.IsSameAs(c.FQN()) {
			continue
		}
		if len(found) > 0 && found[0].Deployment.Address.Equal(m.Deployment.Address) {
			continue
		}
		found = append(found, m)
	}

	switch len(found) {
	case 0:
		return apperrors.ContractError(nil, fmt.Sprintf("No deployment receipts found for %s in %s", c.FullNameWithTarget(), dir))
	case 1:
	default:
		return apperrors.ContractError(nil, fmt.Sprintf("More than one deployment receipt found for %s in %s", c.FullNameWithTarget(), dir))
	}

	m := found[0]
	for _, d := range m.Shims {
		shim, ok := c.shims[d.Target]
		if !ok {
			return apperrors.ContractError(nil, fmt.Sprintf("%s has no shim on %s", c.FullName(), d.Target))
		}
		if err := shim.At(d.Address); err != nil {
			return err
		}
	}
	return c.At(m.Deployment.Address)
}

// Call runs a read-only method on the deployed contract.
func (c *Contract) Call(ctx context.Context, method string, args ...any) ([]any, error) {
	addr, err := c.requireAddress()
	if err != nil {
		return nil, err
	}
	return c.project.Chain.Call(ctx, c.Info, addr, method, args...)
}

// Send calls a state-changing method and waits for the transaction.
func (c *Contract) Send(ctx context.Context, method string, args ...any) error {
	addr, err := c.requireAddress()
	if err != nil {
		return err
	}
	return c.project.Chain.Send(ctx, c.Info, addr, method, args...)
}

// Watch streams the named event of the deployed contract.
func (c *Contract) Watch(ctx context.Context, event string, ready func(), handler EventHandler) error {
	addr, err := c.requireAddress()
	if err != nil {
		return err
	}
	return c.project.Chain.Watch(ctx, c.Info, addr, event, ready, handler)
}

// BridgePath is the bridge manifest generated alongside a shim.
func (c *Contract) BridgePath() string {
	return filepath.Join(c.project.Paths().Contracts, config.BridgeFileName(c.FQN().File))
}

// DefaultBridgedInterval and DefaultBridgedAttempts bound WhenBridged.
const (
	DefaultBridgedInterval = 100 * time.Millisecond
	DefaultBridgedAttempts = 100
)

// IsBridged reports whether the relayer has picked up the deployment.
// Contracts without shims are always bridged.
func (c *Contract) IsBridged() (bool, error) {
	if len(c.shims) == 0 {
		return true, nil
	}
	path, err := c.DeploymentManifestPath()
	if err != nil {
		return false, err
	}
	_, err = os.Stat(config.BridgedPath(path))
	switch {
	case err == nil:
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, apperrors.IOError(err, "failed to check bridge status")
	}
}

// WhenBridged polls IsBridged every interval, at most attempts times.
func (c *Contract) WhenBridged(ctx context.Context, interval time.Duration, attempts int) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), uint64(attempts)), ctx)
	return backoff.Retry(func() error {
		ok, err := c.IsBridged()
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return fmt.Errorf("%s is not bridged yet", c.FullNameWithTarget())
		}
		return nil
	}, policy)
}
