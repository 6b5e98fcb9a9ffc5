package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	apperrors "github.com/chainsafe/cubist/pkg/app/errors"
	"github.com/chainsafe/cubist/pkg/compile"
	"github.com/chainsafe/cubist/pkg/config"
)

func evmInfo(file, name string) *compile.ContractInfo {
	return &compile.ContractInfo{FQN: config.ContractFQN{File: file, Name: name}}
}

// twoChainStore is a Receiver on ethereum called from a Sender on polygon
// through a Receiver shim.
func twoChainStore(t *testing.T, paths config.Paths, l *ledger) *Cubist {
	t.Helper()
	eth := NewProject(config.Ethereum, paths, l.chain(config.Ethereum),
		[]*compile.ContractInfo{evmInfo("Receiver.sol", "Receiver")}, nil, nil, nil)
	poly := NewProject(config.Polygon, paths, l.chain(config.Polygon),
		[]*compile.ContractInfo{evmInfo("Sender.sol", "Sender")},
		[]*compile.ContractInfo{evmInfo("Receiver.sol", "Receiver")},
		map[string][]string{"Sender": {"Receiver"}}, nil)
	c, err := Assemble([]*Project{eth, poly}, nil)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	return c
}

func testPaths(t *testing.T) config.Paths {
	dir := t.TempDir()
	return config.Paths{
		ProjectDir: dir,
		BuildDir:   filepath.Join(dir, "build"),
		DeployDir:  filepath.Join(dir, "deploy"),
	}
}

func TestAssemble_ResolvesShimsAndDeps(t *testing.T) {
	c := twoChainStore(t, testPaths(t), &ledger{})

	receiver, ok := c.Contract("Receiver")
	if !ok {
		t.Fatal("Receiver not registered")
	}
	shim, ok := receiver.Shim(config.Polygon)
	if !ok || !shim.IsShim || shim.Target != config.Polygon {
		t.Fatalf("expected a polygon shim for Receiver, got %+v", shim)
	}
	if len(receiver.Dependencies()) != 0 {
		t.Fatalf("Receiver should not depend on shims")
	}

	sender, _ := c.Contract("Sender")
	if deps := sender.Dependencies(); len(deps) != 1 || deps[0] != shim {
		t.Fatalf("Sender deps = %v", deps)
	}
	if len(sender.Shims()) != 0 {
		t.Fatalf("Sender should have no shims")
	}

	if _, ok := c.FindContract(config.Ethereum, config.ContractFQN{File: "Receiver.sol", Name: "Receiver"}); !ok {
		t.Fatal("FindContract failed")
	}
	if _, ok := c.FindContract(config.Polygon, config.ContractFQN{File: "Receiver.sol", Name: "Receiver"}); ok {
		t.Fatal("FindContract returned a contract on the wrong target")
	}
	if got, ok := c.FindShim(config.Polygon, config.ContractFQN{File: "Receiver.rs", Name: "Receiver"}); !ok || got != shim {
		t.Fatal("FindShim should ignore the file extension")
	}
	if got := len(c.Projects()); got != 2 {
		t.Fatalf("projects = %d", got)
	}
}

func TestAssemble_Errors(t *testing.T) {
	paths := testPaths(t)
	l := &ledger{}

	_, err := Assemble([]*Project{
		NewProject(config.Ethereum, paths, l.chain(config.Ethereum), []*compile.ContractInfo{evmInfo("A.sol", "A")}, nil, nil, nil),
		NewProject(config.Polygon, paths, l.chain(config.Polygon), []*compile.ContractInfo{evmInfo("B.sol", "A")}, nil, nil, nil),
	}, nil)
	if !apperrors.Is(err, apperrors.KindConfiguration) {
		t.Fatalf("expected configuration error for duplicate names, got %v", err)
	}

	_, err = Assemble([]*Project{
		NewProject(config.Ethereum, paths, l.chain(config.Ethereum), []*compile.ContractInfo{evmInfo("A.sol", "A")}, nil,
			map[string][]string{"A": {"Missing"}}, nil),
	}, nil)
	if err == nil || !strings.Contains(err.Error(), "Missing") {
		t.Fatalf("expected missing shim error, got %v", err)
	}
}

func TestContract_DeployOrderAndManifest(t *testing.T) {
	paths := testPaths(t)
	l := &ledger{}
	c := twoChainStore(t, paths, l)
	ctx := context.Background()

	receiver, _ := c.Contract("Receiver")
	addr, err := receiver.Deploy(ctx, 42)
	if err != nil {
		t.Fatalf("Deploy Receiver: %v", err)
	}
	sender, _ := c.Contract("Sender")
	if _, err := sender.Deploy(ctx, 42); err != nil {
		t.Fatalf("Deploy Sender: %v", err)
	}

	want := []string{
		"deploy Receiver@polygon []",
		"deploy Receiver@ethereum [42]",
		"deploy Sender@polygon [42]",
		"send Receiver@polygon.approveCaller [0x0000000000000000000000000000000000000003]",
	}
	if got := l.snapshot(); !reflect.DeepEqual(got, want) {
		t.Fatalf("calls:\n got %q\nwant %q", got, want)
	}

	// deploying again is a no-op
	again, err := receiver.Deploy(ctx, 42)
	if err != nil || !again.Equal(addr) {
		t.Fatalf("redeploy = %v, %v", again, err)
	}
	if got := len(l.snapshot()); got != len(want) {
		t.Fatalf("redeploy issued %d extra calls", got-len(want))
	}

	m, err := config.ReadDeploymentManifest(paths.DeploymentManifestPath("Receiver", addr))
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	if m.Deployment.Target != config.Ethereum || !m.Deployment.Address.Equal(config.Address{2}) {
		t.Fatalf("unexpected deployment %+v", m.Deployment)
	}
	if len(m.Shims) != 1 || m.Shims[0].Target != config.Polygon || !m.Shims[0].Address.Equal(config.Address{1}) {
		t.Fatalf("unexpected shims %+v", m.Shims)
	}

	shimAddr, err := receiver.AddressOn(config.Polygon)
	if err != nil || !shimAddr.Equal(config.Address{1}) {
		t.Fatalf("AddressOn polygon = %v, %v", shimAddr, err)
	}
	if got := receiver.AddressAndTarget(); got != "0x02@ethereum" {
		t.Fatalf("AddressAndTarget = %s", got)
	}
	if got := receiver.FullNameWithTarget(); got != "Receiver.sol:Receiver@ethereum" {
		t.Fatalf("FullNameWithTarget = %s", got)
	}
}

func TestContract_At(t *testing.T) {
	c := twoChainStore(t, testPaths(t), &ledger{})
	receiver, _ := c.Contract("Receiver")

	var notDeployed *NotDeployedError
	if _, err := receiver.AddressOn(config.Avalanche); !errors.As(err, &notDeployed) {
		t.Fatalf("expected NotDeployedError, got %v", err)
	}
	if err := receiver.Send(context.Background(), "store", 1); !errors.As(err, &notDeployed) {
		t.Fatalf("expected NotDeployedError from Send, got %v", err)
	}

	if err := receiver.At(config.Address{9}); err != nil {
		t.Fatalf("At: %v", err)
	}
	if err := receiver.At(config.Address{9}); err != nil {
		t.Fatalf("At same address: %v", err)
	}
	if err := receiver.At(config.Address{8}); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
}

func TestContract_BridgePath(t *testing.T) {
	paths := testPaths(t)
	c := twoChainStore(t, paths, &ledger{})
	receiver, _ := c.Contract("Receiver")
	shim, ok := receiver.Shim(config.Polygon)
	if !ok {
		t.Fatal("Receiver has no polygon shim")
	}
	want := filepath.Join(paths.ForTarget(config.Polygon).Contracts, "Receiver.bridge.json")
	if got := shim.BridgePath(); got != want {
		t.Fatalf("BridgePath = %s, want %s", got, want)
	}
}

func TestContract_Deployed(t *testing.T) {
	paths := testPaths(t)
	c := twoChainStore(t, paths, &ledger{})
	receiver, _ := c.Contract("Receiver")
	if _, err := receiver.Deploy(context.Background()); err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	path, err := receiver.DeploymentManifestPath()
	if err != nil {
		t.Fatal(err)
	}
	// a bridged manifest still records the deployment
	if err := os.Rename(path, config.BridgedPath(path)); err != nil {
		t.Fatal(err)
	}

	fresh := twoChainStore(t, paths, &ledger{})
	loaded, _ := fresh.Contract("Receiver")
	if err := loaded.Deployed(); err != nil {
		t.Fatalf("Deployed: %v", err)
	}
	if addr, _ := loaded.Address(); !addr.Equal(config.Address{2}) {
		t.Fatalf("address = %v", addr)
	}
	shim, _ := loaded.Shim(config.Polygon)
	if addr, ok := shim.Address(); !ok || !addr.Equal(config.Address{1}) {
		t.Fatalf("shim address = %v", addr)
	}

	other := config.DeploymentManifest{
		Contract:   loaded.FQN(),
		Deployment: config.DeploymentInfo{Target: config.Ethereum, Address: config.Address{7}},
	}
	if _, err := other.WriteTo(paths.DeploymentManifestDir()); err != nil {
		t.Fatal(err)
	}
	again, _ := twoChainStore(t, paths, &ledger{}).Contract("Receiver")
	if err := again.Deployed(); err == nil || !strings.Contains(err.Error(), "More than one") {
		t.Fatalf("expected ambiguity error, got %v", err)
	}

	sender, _ := fresh.Contract("Sender")
	if err := sender.Deployed(); err == nil || !strings.Contains(err.Error(), "No deployment receipts") {
		t.Fatalf("expected missing receipt error, got %v", err)
	}
}

func TestContract_WhenBridged(t *testing.T) {
	c := twoChainStore(t, testPaths(t), &ledger{})
	ctx := context.Background()
	receiver, _ := c.Contract("Receiver")
	sender, _ := c.Contract("Sender")
	if _, err := receiver.Deploy(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := sender.Deploy(ctx); err != nil {
		t.Fatal(err)
	}

	// without shims there is nothing to bridge
	if err := sender.WhenBridged(ctx, time.Millisecond, 1); err != nil {
		t.Fatalf("Sender WhenBridged: %v", err)
	}
	if err := c.WhenBridged(ctx, time.Millisecond, 2); err == nil {
		t.Fatal("expected timeout before the manifest is bridged")
	}

	path, _ := receiver.DeploymentManifestPath()
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = os.Rename(path, config.BridgedPath(path))
	}()
	if err := c.WhenBridged(ctx, 10*time.Millisecond, 100); err != nil {
		t.Fatalf("WhenBridged: %v", err)
	}
}

func TestCubist_AccountsAndBalance(t *testing.T) {
	paths := testPaths(t)
	chain := &MockChain{
		AccountsFunc: func(context.Context) ([]config.Address, error) {
			return []config.Address{{0xaa}}, nil
		},
	}
	c, err := Assemble([]*Project{NewProject(config.Ethereum, paths, chain, nil, nil, nil, nil)}, nil)
	if err != nil {
		t.Fatal(err)
	}
	accounts, err := c.AccountsOn(context.Background(), config.Ethereum)
	if err != nil || len(accounts) != 1 || accounts[0][0] != 0xaa {
		t.Fatalf("AccountsOn = %v, %v", accounts, err)
	}
	if _, err := c.AccountsOn(context.Background(), config.Stellar); err == nil {
		t.Fatal("expected error for unknown target")
	}
	balance, err := c.BalanceOn(context.Background(), config.Ethereum, accounts[0])
	if err != nil || balance.Sign() != 0 {
		t.Fatalf("BalanceOn = %v, %v", balance, err)
	}
}
