// Package analyzer determines which contracts and functions are used across
// chains. It runs three passes over the parsed sources: contract locations,
// import aliases, then cross-chain object declarations and the member calls
// made on them.
package analyzer

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/chainsafe/cubist/pkg/config"
	"github.com/chainsafe/cubist/pkg/parse"
	"github.com/chainsafe/cubist/pkg/solidity"
)

// InterfaceTarget is a file and target that needs a shim of some callee
// source file.
type InterfaceTarget struct {
	SenderFile string
	Target     config.Target
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Analyzer) { a.logger = logger }
}

// Analyzer accumulates cross-chain information over a set of sources.
type Analyzer struct {
	logger *zap.Logger

	contracts     map[string]config.Target
	contractFiles map[string]string
	// file -> alias -> original name
	aliases map[string]map[string]string
	// contract -> object name -> callee contract
	crossTargetObjs map[string]map[string]string
	// callee contract -> called functions
	crossTargetCalls map[string]map[string]struct{}
	// callee file -> senders
	interfaceTargets map[string]map[InterfaceTarget]struct{}

	currentContract string
	currentTarget   config.Target
	currentFile     string
}

// New creates an empty analyzer.
func New(opts ...Option) *Analyzer {
	a := &Analyzer{
		logger:           zap.NewNop(),
		contracts:        map[string]config.Target{},
		contractFiles:    map[string]string{},
		aliases:          map[string]map[string]string{},
		crossTargetObjs:  map[string]map[string]string{},
		crossTargetCalls: map[string]map[string]struct{}{},
		interfaceTargets: map[string]map[InterfaceTarget]struct{}{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze runs all passes over sources.
func (a *Analyzer) Analyze(sources []*parse.SourceFile) error {
	if len(sources) == 0 {
		return ErrMissingContracts
	}
	if err := a.Locate(sources); err != nil {
		return err
	}
	for _, source := range sources {
		a.addAliases(source)
	}
	for _, source := range sources {
		if !source.IsSolidity() {
			a.logger.Warn("Cannot determine cross-chain calls from Soroban contracts",
				zap.String("file", source.FileName))
			continue
		}
		for _, cd := range source.Unit.Contracts() {
			a.visitContract(cd)
		}
	}
	return a.checkExposable(sources)
}

// Locate records which target and file each contract belongs to. Contract
// names must be unique across the project.
func (a *Analyzer) Locate(sources []*parse.SourceFile) error {
	for _, source := range sources {
		for _, name := range source.ContractNames() {
			a.logger.Debug("Locating contract", zap.String("contract", name), zap.String("file", source.FileName))
			if _, ok := a.contracts[name]; ok {
				return &DuplicateContractsError{Name: name}
			}
			a.contracts[name] = source.Target
			a.contractFiles[name] = source.FileName
		}
	}
	return nil
}

func (a *Analyzer) addAliases(source *parse.SourceFile) {
	for _, imp := range source.Imports() {
		if imp.Kind != solidity.ImportRename {
			continue
		}
		for _, sym := range imp.Symbols {
			if sym.Alias == "" {
				continue
			}
			if a.aliases[source.FileName] == nil {
				a.aliases[source.FileName] = map[string]string{}
			}
			a.aliases[source.FileName][sym.Alias] = sym.Name
		}
	}
}

func (a *Analyzer) visitContract(cd *solidity.ContractDefinition) {
	a.currentContract = cd.Name
	a.currentTarget = a.contracts[cd.Name]
	a.currentFile = a.contractFiles[cd.Name]
	if a.crossTargetObjs[cd.Name] == nil {
		a.crossTargetObjs[cd.Name] = map[string]string{}
	}

	for _, part := range cd.Parts {
		vd, ok := part.(*solidity.VariableDefinition)
		if !ok {
			continue
		}
		callee, ok := a.declaredContract(vd.Type)
		if !ok {
			continue
		}
		if a.targetOf(callee) == a.currentTarget {
			continue
		}
		a.crossTargetObjs[cd.Name][vd.Name] = callee
		a.addInterfaceTarget(a.contractFiles[callee], InterfaceTarget{SenderFile: a.currentFile, Target: a.currentTarget})
	}

	for _, call := range cd.Calls {
		callee, ok := a.crossTargetObjs[cd.Name][call.Object]
		if !ok {
			continue
		}
		if a.crossTargetCalls[callee] == nil {
			a.crossTargetCalls[callee] = map[string]struct{}{}
		}
		a.crossTargetCalls[callee][call.Member] = struct{}{}
	}
}

// declaredContract resolves the contract named by a variable's type. A
// qualified name like Eth.Storage only counts when the last segment is a
// known contract, since it may also name a file level type.
func (a *Analyzer) declaredContract(ty *solidity.TypeName) (string, bool) {
	switch len(ty.Path) {
	case 0:
		return "", false
	case 1:
		return a.alias(ty.Path[0]), true
	default:
		name := a.alias(ty.Name())
		_, known := a.contracts[name]
		return name, known
	}
}

func (a *Analyzer) alias(name string) string {
	if original, ok := a.aliases[a.currentFile][name]; ok {
		return original
	}
	return name
}

// targetOf returns the target of a contract. Unknown contracts are external
// imports and live with the current contract.
func (a *Analyzer) targetOf(contract string) config.Target {
	if t, ok := a.contracts[contract]; ok {
		return t
	}
	return a.currentTarget
}

func (a *Analyzer) addInterfaceTarget(calleeFile string, it InterfaceTarget) {
	if a.interfaceTargets[calleeFile] == nil {
		a.interfaceTargets[calleeFile] = map[InterfaceTarget]struct{}{}
	}
	a.interfaceTargets[calleeFile][it] = struct{}{}
}

// checkExposable verifies that every function called across chains exists
// and can be bridged.
func (a *Analyzer) checkExposable(sources []*parse.SourceFile) error {
	byFile := map[string]*parse.SourceFile{}
	for _, s := range sources {
		byFile[s.FileName] = s
	}
	for _, callee := range sortedKeys(a.crossTargetCalls) {
		source := byFile[a.contractFiles[callee]]
		if source == nil {
			continue
		}
		for _, fn := range sortedKeys(a.crossTargetCalls[callee]) {
			if err := checkFunction(source, callee, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkFunction(source *parse.SourceFile, contract, fn string) error {
	if !source.IsSolidity() {
		f, ok := source.Spec.Function(fn)
		if !ok {
			return &MissingFunctionError{Contract: contract, Function: fn}
		}
		if len(f.Outputs) > 0 {
			return &NotExposableError{Contract: contract, Function: fn, Reason: "it returns a value"}
		}
		return nil
	}
	cd, ok := source.Contract(contract)
	if !ok {
		return &MissingContractError{Name: contract}
	}
	for _, part := range cd.Parts {
		fd, ok := part.(*solidity.FunctionDefinition)
		if !ok || fd.Name != fn {
			continue
		}
		if reason := NonExposableReason(fd); reason != "" {
			return &NotExposableError{Contract: contract, Function: fn, Reason: reason}
		}
		return nil
	}
	return &MissingFunctionError{Contract: contract, Function: fn}
}

// IsExposable reports whether fd can be called across chains.
func IsExposable(fd *solidity.FunctionDefinition) bool {
	return NonExposableReason(fd) == ""
}

// NonExposableReason explains why fd cannot be called across chains, or
// returns "" if it can.
func NonExposableReason(fd *solidity.FunctionDefinition) string {
	switch {
	case fd.Kind != solidity.FuncFunction:
		return fmt.Sprintf("it is a %s", fd.Kind)
	case fd.Name == "":
		return "it has no name"
	case len(fd.Returns) > 0:
		return "it returns a value"
	}
	if v := fd.Visibility(); v == "private" || v == "internal" {
		return fmt.Sprintf("it is %s", v)
	}
	for _, p := range fd.Params {
		if p.Name == "" {
			return "it has unnamed parameters"
		}
	}
	return ""
}

// ContractFiles maps each contract to its source file.
func (a *Analyzer) ContractFiles() map[string]string {
	return a.contractFiles
}

// ContractTarget returns the target a contract was located on.
func (a *Analyzer) ContractTarget(contract string) (config.Target, bool) {
	t, ok := a.contracts[contract]
	return t, ok
}

// FileContracts maps each source file to its contracts, sorted.
func (a *Analyzer) FileContracts() map[string][]string {
	out := map[string][]string{}
	for _, name := range sortedKeys(a.contractFiles) {
		file := a.contractFiles[name]
		out[file] = append(out[file], name)
	}
	return out
}

// Calls maps each callee contract to the functions called on it across
// chains, sorted.
func (a *Analyzer) Calls() map[string][]string {
	out := map[string][]string{}
	for contract, fns := range a.crossTargetCalls {
		out[contract] = sortedKeys(fns)
	}
	return out
}

// InterfaceTargets maps each callee source file to the senders that need a
// shim of it, sorted by target then file.
func (a *Analyzer) InterfaceTargets() map[string][]InterfaceTarget {
	out := map[string][]InterfaceTarget{}
	for file, set := range a.interfaceTargets {
		list := make([]InterfaceTarget, 0, len(set))
		for it := range set {
			list = append(list, it)
		}
		sort.Slice(list, func(i, j int) bool {
			if list[i].Target != list[j].Target {
				return list[i].Target < list[j].Target
			}
			return list[i].SenderFile < list[j].SenderFile
		})
		out[file] = list
	}
	return out
}

// Dependencies maps each contract to the cross-chain contracts it holds,
// sorted. Every analyzed contract has an entry.
func (a *Analyzer) Dependencies() map[string][]string {
	out := map[string][]string{}
	for contract, objs := range a.crossTargetObjs {
		set := map[string]struct{}{}
		for _, callee := range objs {
			set[callee] = struct{}{}
		}
		out[contract] = sortedKeys(set)
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
