package gen

import (
	"github.com/chainsafe/cubist/pkg/analyzer"
	"github.com/chainsafe/cubist/pkg/parse"
	"github.com/chainsafe/cubist/pkg/solidity"
	"github.com/chainsafe/cubist/pkg/soroban"
)

// Param is a parameter of a bridged function.
type Param struct {
	Name string
	// Type is the type expression without data location.
	Type string
	// Storage is the data location, if any.
	Storage string
}

// Decl renders the parameter as a function parameter.
func (p Param) Decl() string {
	if p.Storage == "" {
		return p.Type + " " + p.Name
	}
	return p.Type + " " + p.Storage + " " + p.Name
}

// EventDecl renders the parameter as an event parameter.
func (p Param) EventDecl() string {
	return p.Type + " " + p.Name
}

// Function is a bridged function.
type Function struct {
	Name       string
	Params     []Param
	Visibility string
	IsPayable  bool
}

// ContractInterface is the cross-chain surface of one contract: the
// functions called on it from other chains plus the type level code those
// signatures depend on.
type ContractInterface struct {
	Contract      string
	Functions     []Function
	ForwardedCode []string
}

// newContractInterface extracts the interface of cd. Structs, enums, user
// value types, events, errors and using directives are forwarded verbatim.
// Variables are dropped so that no implicit getters appear.
func newContractInterface(cfg *interfaceConfig, unit *solidity.SourceUnit, cd *solidity.ContractDefinition) (*ContractInterface, error) {
	ci := &ContractInterface{Contract: cd.Name}
	var seen []string
	for _, part := range cd.Parts {
		switch p := part.(type) {
		case *solidity.StructDefinition, *solidity.EnumDefinition, *solidity.TypeDefinition,
			*solidity.EventDefinition, *solidity.ErrorDefinition, *solidity.UsingDirective:
			ci.ForwardedCode = append(ci.ForwardedCode, unit.Text(part.Location()))
		case *solidity.FunctionDefinition:
			if analyzer.IsExposable(p) {
				seen = append(seen, p.Name)
				if cfg.genFunction(cd.Name, p.Name) {
					ci.Functions = append(ci.Functions, functionFromDefinition(p))
				}
				continue
			}
			// only an explicit request for a function makes it an error
			if !cfg.exposeAll() && p.Name != "" {
				seen = append(seen, p.Name)
				if cfg.genFunction(cd.Name, p.Name) {
					return nil, &analyzer.NotExposableError{
						Contract: cd.Name,
						Function: p.Name,
						Reason:   analyzer.NonExposableReason(p),
					}
				}
			}
		}
	}
	if missing, ok := cfg.missedFunction(cd.Name, seen); ok {
		return nil, &analyzer.MissingFunctionError{Contract: cd.Name, Function: missing}
	}
	return ci, nil
}

func functionFromDefinition(fd *solidity.FunctionDefinition) Function {
	f := Function{Name: fd.Name, Visibility: fd.Visibility(), IsPayable: fd.IsPayable()}
	if f.Visibility == "" {
		f.Visibility = "public"
	}
	for _, p := range fd.Params {
		f.Params = append(f.Params, Param{Name: p.Name, Type: p.Type.Text, Storage: p.Storage})
	}
	return f
}

// interfaceFromSpec builds the interface of a Stellar contract. Functions
// that return values or use types without a Solidity counterpart are left
// out.
func interfaceFromSpec(cfg *interfaceConfig, name string, spec *soroban.Spec) (*ContractInterface, error) {
	ci := &ContractInterface{Contract: name}
	var seen []string
	for _, fn := range spec.Functions() {
		if len(fn.Outputs) > 0 {
			continue
		}
		f := Function{Name: fn.Name, Visibility: "public"}
		supported := true
		for _, in := range fn.Inputs {
			ty, ok := soroban.SolidityType(in.Type)
			if !ok {
				supported = false
				break
			}
			p := Param{Name: in.Name, Type: ty}
			if needsMemory(in.Type) {
				p.Storage = "memory"
			}
			f.Params = append(f.Params, p)
		}
		if !supported {
			continue
		}
		seen = append(seen, fn.Name)
		if cfg.genFunction(name, fn.Name) {
			ci.Functions = append(ci.Functions, f)
		}
	}
	if missing, ok := cfg.missedFunction(name, seen); ok {
		return nil, &analyzer.MissingFunctionError{Contract: name, Function: missing}
	}
	return ci, nil
}

func needsMemory(t soroban.TypeDef) bool {
	switch t.Kind {
	case soroban.TypeBytes, soroban.TypeString, soroban.TypeSymbol, soroban.TypeVec:
		return true
	case soroban.TypeBytesN:
		return t.N < 1 || t.N > 32
	}
	return false
}

// interfaces returns the interfaces of every contract in source that cfg
// asks for.
func interfaces(cfg *interfaceConfig, source *parse.SourceFile) ([]*ContractInterface, error) {
	if !source.IsSolidity() {
		name := parse.ContractNameFromFile(source.FileName)
		if !cfg.genContract(name) {
			return nil, nil
		}
		ci, err := interfaceFromSpec(cfg, name, source.Spec)
		if err != nil {
			return nil, err
		}
		return []*ContractInterface{ci}, nil
	}
	var out []*ContractInterface
	for _, cd := range source.Unit.Contracts() {
		if !cfg.genContract(cd.Name) {
			continue
		}
		ci, err := newContractInterface(cfg, source.Unit, cd)
		if err != nil {
			return nil, err
		}
		out = append(out, ci)
	}
	return out, nil
}
