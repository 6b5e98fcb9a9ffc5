package gen

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainsafe/cubist/pkg/analyzer"
	"github.com/chainsafe/cubist/pkg/config"
	"github.com/chainsafe/cubist/pkg/parse"
	"github.com/chainsafe/cubist/pkg/solidity"
	"github.com/chainsafe/cubist/pkg/soroban"
)

const receiverSrc = `// SPDX-License-Identifier: MIT
pragma solidity ^0.8.16;

import "./Types.sol";

contract Receiver {
    struct Point { uint256 x; uint256 y; }
    event Stored(uint256 num);
    error TooLarge(uint256 num);

    uint256 number;

    function store(uint256 num) public { number = num; }
    function note(string memory text, Point calldata p) external payable {}
    function retrieve() public view returns (uint256) { return number; }
    function secret(uint256 num) internal { number = num; }
}
`

const senderSrc = `// SPDX-License-Identifier: Apache-2.0
pragma solidity ^0.8.17;

import "./Receiver.sol";

contract Sender {
    Receiver receiver;
    function store(uint256 num) public { receiver.store(num); }
}
`

func solSource(t *testing.T, rel string, target config.Target, src string) *parse.SourceFile {
	t.Helper()
	unit, err := solidity.Parse(src)
	require.NoError(t, err)
	return &parse.SourceFile{FileName: "/p/contracts/" + rel, RelPath: rel, Target: target, Unit: unit}
}

func twoChainStore(t *testing.T) *parse.SourceFiles {
	return &parse.SourceFiles{Sources: []*parse.SourceFile{
		solSource(t, "Receiver.sol", config.Ethereum, receiverSrc),
		solSource(t, "Sender.sol", config.Polygon, senderSrc),
	}}
}

func TestGetInterfaces_TwoChainStore(t *testing.T) {
	ifaces, err := GetInterfaces(twoChainStore(t))
	require.NoError(t, err)
	require.Len(t, ifaces.Files, 1)

	fi := ifaces.Files[0]
	assert.Equal(t, "Receiver.sol", fi.RelPath)
	assert.Equal(t, "Receiver.sol", fi.TargetFile())
	assert.Equal(t, config.Polygon, fi.Sender)
	assert.Equal(t, config.Ethereum, fi.Receiver)
	assert.Equal(t, []string{"pragma solidity ^0.8.16;"}, fi.Pragmas)
	assert.Equal(t, []string{`import "./Types.sol";`}, fi.Imports)
	assert.Equal(t, "MIT", fi.License)

	require.Len(t, fi.Interfaces, 1)
	ci := fi.Interfaces[0]
	assert.Equal(t, "Receiver", ci.Contract)
	require.Len(t, ci.Functions, 1)
	assert.Equal(t, Function{
		Name:       "store",
		Params:     []Param{{Name: "num", Type: "uint256"}},
		Visibility: "public",
	}, ci.Functions[0])
	assert.Equal(t, []string{
		"struct Point { uint256 x; uint256 y; }",
		"event Stored(uint256 num);",
		"error TooLarge(uint256 num);",
	}, ci.ForwardedCode)

	assert.Equal(t, []string{"Receiver"}, ifaces.Dependencies["Sender"])
}

func TestCubistBackend_Generate(t *testing.T) {
	ifaces, err := GetInterfaces(twoChainStore(t))
	require.NoError(t, err)

	artifacts, err := CubistBackend{}.Generate(ifaces.Files[0])
	require.NoError(t, err)
	require.Len(t, artifacts, 2)

	bridgeArtifact, shim := artifacts[0], artifacts[1]
	assert.Equal(t, config.Polygon, bridgeArtifact.Target)
	assert.Equal(t, "Receiver.bridge.json", bridgeArtifact.Name)
	assert.Nil(t, bridgeArtifact.Shim)

	var bridge config.Bridge
	require.NoError(t, json.Unmarshal(bridgeArtifact.Content, &bridge))
	assert.Equal(t, config.Bridge{
		SourceFile: "Receiver.sol",
		Sender:     config.Polygon,
		Receiver:   config.Ethereum,
		Contracts: []config.ContractBridge{
			{Name: "Receiver", Functions: map[string]string{"store": "__Receiver_store"}},
		},
	}, bridge)

	assert.Equal(t, config.Polygon, shim.Target)
	assert.Equal(t, "Receiver.sol", shim.Name)
	require.NotNil(t, shim.Shim)
	assert.Equal(t, ShimMetadata{SourceFile: "Receiver.sol", Contracts: []string{"Receiver"}}, *shim.Shim)

	src := string(shim.Content)
	for _, want := range []string{
		"// SPDX-License-Identifier: MIT",
		"pragma solidity ^0.8.16;",
		`import "./Types.sol";`,
		"contract Receiver {",
		"struct Point { uint256 x; uint256 y; }",
		"function approveCaller(address caller) external {",
		"event __Receiver_store(uint256 num);",
		"function store(uint256 num) public __cubist_onlyApproved {",
		"emit __Receiver_store(num);",
	} {
		assert.Contains(t, src, want)
	}
	assert.NotContains(t, src, "retrieve")
	assert.NotContains(t, src, "uint256 number;")

	// the generated shim must itself be parseable Solidity
	unit, err := solidity.Parse(src)
	require.NoError(t, err)
	require.Len(t, unit.Contracts(), 1)
}

func TestGetInterfaces_Circular(t *testing.T) {
	foo := `// SPDX-License-Identifier: MIT
pragma solidity ^0.8.16;
import "./Bar.sol";
contract Foo {
    Bar bar;
    function store(uint256 v) public {}
    function call_bar(uint256 v) public { bar.store(v); }
}
`
	bar := `// SPDX-License-Identifier: MIT
pragma solidity ^0.8.16;
import "./Foo.sol";
contract Bar {
    Foo foo;
    function store(uint256 v) public {}
    function call_foo(uint256 v) public { foo.store(v); }
}
`
	ifaces, err := GetInterfaces(&parse.SourceFiles{Sources: []*parse.SourceFile{
		solSource(t, "Foo.sol", config.Ethereum, foo),
		solSource(t, "Bar.sol", config.Polygon, bar),
	}})
	require.NoError(t, err)
	require.Len(t, ifaces.Files, 2)

	byFile := map[string]*FileInterfaces{}
	for _, fi := range ifaces.Files {
		byFile[fi.RelPath] = fi
	}
	assert.Equal(t, config.Ethereum, byFile["Bar.sol"].Sender)
	assert.Equal(t, config.Polygon, byFile["Foo.sol"].Sender)
	assert.Equal(t, []string{"Bar"}, ifaces.Dependencies["Foo"])
	assert.Equal(t, []string{"Foo"}, ifaces.Dependencies["Bar"])
}

func TestInterfaceForContract(t *testing.T) {
	sources := twoChainStore(t)

	ifaces, err := InterfaceForContract(sources, "Receiver", []config.Target{config.Avalanche, config.Polygon})
	require.NoError(t, err)
	require.Len(t, ifaces.Files, 2)
	assert.Equal(t, config.Avalanche, ifaces.Files[0].Sender)
	assert.Equal(t, config.Polygon, ifaces.Files[1].Sender)

	var names []string
	for _, f := range ifaces.Files[0].Interfaces[0].Functions {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"store", "note"}, names)

	note := ifaces.Files[0].Interfaces[0].Functions[1]
	assert.True(t, note.IsPayable)
	assert.Equal(t, "external", note.Visibility)
	assert.Equal(t, "string memory text", note.Params[0].Decl())
	assert.Equal(t, "Point p", note.Params[1].EventDecl())

	_, err = InterfaceForContract(sources, "Nope", []config.Target{config.Polygon})
	var missing *analyzer.MissingContractError
	require.True(t, errors.As(err, &missing))
}

func TestGetInterfaces_StellarCallee(t *testing.T) {
	spec := &soroban.Spec{Entries: []soroban.Entry{
		{Kind: soroban.EntryFunction, Function: &soroban.Function{
			Name: "store",
			Inputs: []soroban.Input{
				{Name: "num", Type: soroban.TypeDef{Kind: soroban.TypeU64}},
				{Name: "memo", Type: soroban.TypeDef{Kind: soroban.TypeString}},
			},
		}},
		{Kind: soroban.EntryFunction, Function: &soroban.Function{
			Name:    "retrieve",
			Outputs: []soroban.TypeDef{{Kind: soroban.TypeU64}},
		}},
	}}
	sender := `// SPDX-License-Identifier: MIT
pragma solidity ^0.8.17;
import "stellar://store";
contract Sender {
    Store store;
    function go(uint64 n) public { store.store(n, "hi"); }
}
`
	ifaces, err := GetInterfaces(&parse.SourceFiles{Sources: []*parse.SourceFile{
		{FileName: "/p/contracts/store.wasm", RelPath: "store.wasm", Target: config.Stellar, Spec: spec},
		solSource(t, "Sender.sol", config.Ethereum, sender),
	}})
	require.NoError(t, err)
	require.Len(t, ifaces.Files, 1)

	fi := ifaces.Files[0]
	assert.Equal(t, "store.sol", fi.TargetFile())
	assert.Equal(t, []string{"pragma solidity ^0.8.17;"}, fi.Pragmas)
	assert.Empty(t, fi.Imports)

	artifacts, err := CubistBackend{}.Generate(fi)
	require.NoError(t, err)
	assert.Equal(t, "store.bridge.json", artifacts[0].Name)
	assert.Equal(t, "store.sol", artifacts[1].Name)
	assert.Contains(t, string(artifacts[1].Content), "function store(uint64 num, string memory memo) public __cubist_onlyApproved {")
	assert.Contains(t, string(artifacts[1].Content), "event __Store_store(uint64 num, string memo);")
}

func TestAxelarBackend_Generate(t *testing.T) {
	ifaces, err := GetInterfaces(twoChainStore(t))
	require.NoError(t, err)

	backend, err := NewBackend(config.BridgeAxelar)
	require.NoError(t, err)
	artifacts, err := backend.Generate(ifaces.Files[0])
	require.NoError(t, err)
	require.Len(t, artifacts, 2)

	receiver, sender := artifacts[0], artifacts[1]
	assert.Equal(t, config.Ethereum, receiver.Target)
	assert.Equal(t, "Receiver.polygon.receiver.sol", receiver.Name)
	assert.Equal(t, []string{"ReceiverAxelarReceiver"}, receiver.Shim.Contracts)
	assert.Contains(t, string(receiver.Content), `import "./Receiver.sol";`)
	assert.Contains(t, string(receiver.Content), "contract ReceiverAxelarReceiver is AxelarExecutable {")

	assert.Equal(t, config.Polygon, sender.Target)
	assert.Equal(t, "Receiver.sol", sender.Name)
	src := string(sender.Content)
	assert.Contains(t, src, "abi.encodeWithSelector(this.store.selector, num)")
	assert.Contains(t, src, "gateway.callContract(destinationChain, destinationAddress, payload);")

	for _, imp := range backend.ExternalImports() {
		assert.True(t, strings.HasPrefix(imp, "@axelar-network/"))
	}
}

func TestNewBackend(t *testing.T) {
	b, err := NewBackend(config.BridgeCubist)
	require.NoError(t, err)
	assert.Equal(t, config.BridgeCubist, b.Name())
	assert.Empty(t, b.ExternalImports())

	_, err = NewBackend("Wormhole")
	assert.Error(t, err)
}
