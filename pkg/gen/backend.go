package gen

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/chainsafe/cubist/pkg/config"
)

// ApproveCallerMethod is the shim method that grants a contract the right to
// call it.
const ApproveCallerMethod = "approveCaller"

const (
	axelarGatewayImport    = "@axelar-network/axelar-gmp-sdk-solidity/contracts/interfaces/IAxelarGateway.sol"
	axelarGasServiceImport = "@axelar-network/axelar-gmp-sdk-solidity/contracts/interfaces/IAxelarGasService.sol"
	axelarExecutableImport = "@axelar-network/axelar-gmp-sdk-solidity/contracts/executable/AxelarExecutable.sol"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.New("").Funcs(template.FuncMap{
	"approveMethod":    func() string { return ApproveCallerMethod },
	"eventName":        EventName,
	"receiverName":     AxelarReceiverName,
	"params":           func(f Function) string { return joinParams(f.Params, Param.Decl) },
	"eventParams":      func(f Function) string { return joinParams(f.Params, Param.EventDecl) },
	"args":             func(f Function) string { return joinParams(f.Params, func(p Param) string { return p.Name }) },
	"gatewayImport":    func() string { return axelarGatewayImport },
	"gasServiceImport": func() string { return axelarGasServiceImport },
	"executableImport": func() string { return axelarExecutableImport },
}).ParseFS(templateFS, "templates/*.tmpl"))

func joinParams(ps []Param, f func(Param) string) string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = f(p)
	}
	return strings.Join(out, ", ")
}

// EventName is the event a shim emits when fn is called on it.
func EventName(contract, fn string) string {
	return "__" + contract + "_" + fn
}

// AxelarReceiverName is the name of the contract that receives Axelar
// messages for contract.
func AxelarReceiverName(contract string) string {
	return contract + "AxelarReceiver"
}

// ShimMetadata describes a generated contract source.
type ShimMetadata struct {
	// SourceFile is the callee file the shim stands in for.
	SourceFile string
	Contracts  []string
}

// Artifact is a generated file.
type Artifact struct {
	Target config.Target
	// Name is relative to the target's contracts directory.
	Name    string
	Content []byte
	// Shim is set for generated contract sources.
	Shim *ShimMetadata
}

// Backend renders the artifacts that carry calls from the sender target of
// a FileInterfaces to its receiver.
type Backend interface {
	Name() config.BridgeProvider
	Generate(fi *FileInterfaces) ([]Artifact, error)
	// ExternalImports lists the packages generated sources import.
	ExternalImports() []string
}

// NewBackend returns the backend of a bridge provider.
func NewBackend(provider config.BridgeProvider) (Backend, error) {
	switch provider {
	case config.BridgeCubist, "":
		return CubistBackend{}, nil
	case config.BridgeAxelar:
		return AxelarBackend{}, nil
	default:
		return nil, fmt.Errorf("unknown bridge provider %q", provider)
	}
}

func render(name string, data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, fmt.Errorf("render %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

// CubistBackend generates shims that emit one event per call, relayed by
// the cubist relayer.
type CubistBackend struct{}

func (CubistBackend) Name() config.BridgeProvider { return config.BridgeCubist }

func (CubistBackend) ExternalImports() []string { return nil }

// Generate renders the shim and its bridge manifest, both for the sender
// target.
func (CubistBackend) Generate(fi *FileInterfaces) ([]Artifact, error) {
	shim, err := render("cubist_shim.sol.tmpl", fi)
	if err != nil {
		return nil, err
	}
	bridge := config.Bridge{
		SourceFile: fi.RelPath,
		Sender:     fi.Sender,
		Receiver:   fi.Receiver,
	}
	for _, ci := range fi.Interfaces {
		cb := config.ContractBridge{Name: ci.Contract, Functions: map[string]string{}}
		for _, f := range ci.Functions {
			cb.Functions[f.Name] = EventName(ci.Contract, f.Name)
		}
		bridge.Contracts = append(bridge.Contracts, cb)
	}
	bridgeJSON, err := json.MarshalIndent(bridge, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal bridge for %s: %w", fi.RelPath, err)
	}
	target := fi.TargetFile()
	return []Artifact{
		{Target: fi.Sender, Name: config.BridgeFileName(target), Content: bridgeJSON},
		{
			Target:  fi.Sender,
			Name:    target,
			Content: shim,
			Shim:    &ShimMetadata{SourceFile: fi.RelPath, Contracts: fi.ContractNames()},
		},
	}, nil
}

// AxelarBackend generates a sender that hands calls to the Axelar gateway
// and a receiver on the callee's chain that forwards them.
type AxelarBackend struct{}

func (AxelarBackend) Name() config.BridgeProvider { return config.BridgeAxelar }

func (AxelarBackend) ExternalImports() []string {
	return []string{axelarGatewayImport, axelarGasServiceImport, axelarExecutableImport}
}

// Generate renders the receiver for the receiver target and the sender shim
// for the sender target. Each sender target gets its own receiver since the
// receiver only accepts messages from one source chain.
func (AxelarBackend) Generate(fi *FileInterfaces) ([]Artifact, error) {
	if !fi.Receiver.IsEVM() || !fi.Sender.IsEVM() {
		return nil, fmt.Errorf("axelar bridging between %s and %s is not supported", fi.Sender, fi.Receiver)
	}
	sender, err := render("axelar_sender.sol.tmpl", fi)
	if err != nil {
		return nil, err
	}
	receiver, err := render("axelar_receiver.sol.tmpl", struct {
		*FileInterfaces
		CalleeFile string
	}{fi, filepath.Base(fi.RelPath)})
	if err != nil {
		return nil, err
	}
	var receivers []string
	for _, name := range fi.ContractNames() {
		receivers = append(receivers, AxelarReceiverName(name))
	}
	stem := strings.TrimSuffix(fi.RelPath, filepath.Ext(fi.RelPath))
	return []Artifact{
		{
			Target:  fi.Receiver,
			Name:    stem + "." + string(fi.Sender) + ".receiver.sol",
			Content: receiver,
			Shim:    &ShimMetadata{SourceFile: fi.RelPath, Contracts: receivers},
		},
		{
			Target:  fi.Sender,
			Name:    fi.TargetFile(),
			Content: sender,
			Shim:    &ShimMetadata{SourceFile: fi.RelPath, Contracts: fi.ContractNames()},
		},
	}, nil
}
