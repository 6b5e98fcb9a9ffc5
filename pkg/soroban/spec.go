// Package soroban reads the contract interface that the Soroban toolchain
// embeds in compiled Stellar contracts.
package soroban

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/tetratelabs/wazero"
)

// SpecSection is the WASM custom section holding the XDR encoded spec.
const SpecSection = "contractspecv0"

// ErrNoSpec is returned when a module carries no spec section.
var ErrNoSpec = errors.New("wasm module has no " + SpecSection + " section")

// TypeKind is an ScSpecType discriminant.
type TypeKind uint32

const (
	TypeVal       TypeKind = 0
	TypeBool      TypeKind = 1
	TypeVoid      TypeKind = 2
	TypeError     TypeKind = 3
	TypeU32       TypeKind = 4
	TypeI32       TypeKind = 5
	TypeU64       TypeKind = 6
	TypeI64       TypeKind = 7
	TypeTimepoint TypeKind = 8
	TypeDuration  TypeKind = 9
	TypeU128      TypeKind = 10
	TypeI128      TypeKind = 11
	TypeU256      TypeKind = 12
	TypeI256      TypeKind = 13
	TypeBytes     TypeKind = 14
	TypeString    TypeKind = 16
	TypeSymbol    TypeKind = 17
	TypeAddress   TypeKind = 19
	TypeOption    TypeKind = 1000
	TypeResult    TypeKind = 1001
	TypeVec       TypeKind = 1002
	TypeMap       TypeKind = 1004
	TypeTuple     TypeKind = 1005
	TypeBytesN    TypeKind = 1006
	TypeUDT       TypeKind = 2000
)

// EntryKind is an ScSpecEntryKind discriminant.
type EntryKind uint32

const (
	EntryFunction  EntryKind = 0
	EntryStruct    EntryKind = 1
	EntryUnion     EntryKind = 2
	EntryEnum      EntryKind = 3
	EntryErrorEnum EntryKind = 4
)

// TypeDef is an ScSpecTypeDef.
type TypeDef struct {
	Kind TypeKind
	// Elems holds nested types: option value, result ok and error, vec
	// element, map key and value, or tuple members.
	Elems []TypeDef
	N     uint32
	Name  string
}

// Input is a function parameter.
type Input struct {
	Doc  string
	Name string
	Type TypeDef
}

// Function is an exported contract function.
type Function struct {
	Doc     string
	Name    string
	Inputs  []Input
	Outputs []TypeDef
}

// Entry is one spec entry. Function is set for function entries; Name
// holds the type name of user defined types.
type Entry struct {
	Kind     EntryKind
	Function *Function
	Name     string
}

// Spec is the decoded interface of a contract.
type Spec struct {
	Entries []Entry
}

// Functions returns the function entries in declaration order.
func (s *Spec) Functions() []Function {
	var out []Function
	for _, e := range s.Entries {
		if e.Function != nil {
			out = append(out, *e.Function)
		}
	}
	return out
}

// Function looks up a function by name.
func (s *Spec) Function(name string) (Function, bool) {
	for _, f := range s.Functions() {
		if f.Name == name {
			return f, true
		}
	}
	return Function{}, false
}

// ReadSpec extracts and decodes the spec section of a compiled contract.
func ReadSpec(ctx context.Context, wasm []byte) (*Spec, error) {
	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCustomSections(true))
	defer rt.Close(ctx)

	compiled, err := rt.CompileModule(ctx, wasm)
	if err != nil {
		return nil, fmt.Errorf("invalid wasm module: %w", err)
	}
	defer compiled.Close(ctx)

	for _, section := range compiled.CustomSections() {
		if section.Name() == SpecSection {
			return DecodeSpec(section.Data())
		}
	}
	return nil, ErrNoSpec
}

// DecodeSpec decodes a stream of XDR ScSpecEntry values.
func DecodeSpec(data []byte) (*Spec, error) {
	r := &xdrReader{buf: data}
	spec := &Spec{}
	for r.off < len(r.buf) {
		entry, err := r.entry()
		if err != nil {
			return nil, fmt.Errorf("decoding spec entry %d: %w", len(spec.Entries), err)
		}
		spec.Entries = append(spec.Entries, entry)
	}
	return spec, nil
}

type xdrReader struct {
	buf []byte
	off int
}

var errShort = errors.New("unexpected end of spec data")

func (r *xdrReader) u32() (uint32, error) {
	if r.off+4 > len(r.buf) {
		return 0, errShort
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *xdrReader) str(limit int) (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	if int(n) > limit {
		return "", fmt.Errorf("string of length %d exceeds limit %d", n, limit)
	}
	padded := (int(n) + 3) &^ 3
	if r.off+padded > len(r.buf) {
		return "", errShort
	}
	s := string(r.buf[r.off : r.off+int(n)])
	r.off += padded
	return s, nil
}

func (r *xdrReader) count(limit int) (int, error) {
	n, err := r.u32()
	if err != nil {
		return 0, err
	}
	if int(n) > limit {
		return 0, fmt.Errorf("array of length %d exceeds limit %d", n, limit)
	}
	return int(n), nil
}

func (r *xdrReader) typeDef() (TypeDef, error) {
	kind, err := r.u32()
	if err != nil {
		return TypeDef{}, err
	}
	t := TypeDef{Kind: TypeKind(kind)}
	nested := 0
	switch t.Kind {
	case TypeOption, TypeVec:
		nested = 1
	case TypeResult, TypeMap:
		nested = 2
	case TypeTuple:
		if nested, err = r.count(12); err != nil {
			return t, err
		}
	case TypeBytesN:
		t.N, err = r.u32()
		return t, err
	case TypeUDT:
		t.Name, err = r.str(60)
		return t, err
	}
	for i := 0; i < nested; i++ {
		elem, err := r.typeDef()
		if err != nil {
			return t, err
		}
		t.Elems = append(t.Elems, elem)
	}
	return t, nil
}

func (r *xdrReader) entry() (Entry, error) {
	kind, err := r.u32()
	if err != nil {
		return Entry{}, err
	}
	e := Entry{Kind: EntryKind(kind)}
	if e.Kind == EntryFunction {
		f, err := r.function()
		if err != nil {
			return e, err
		}
		e.Function, e.Name = f, f.Name
		return e, nil
	}

	// user defined types share the doc, lib, name header
	if _, err := r.str(1024); err != nil {
		return e, err
	}
	if _, err := r.str(80); err != nil {
		return e, err
	}
	if e.Name, err = r.str(60); err != nil {
		return e, err
	}
	switch e.Kind {
	case EntryStruct:
		return e, r.structFields()
	case EntryUnion:
		return e, r.unionCases()
	case EntryEnum, EntryErrorEnum:
		return e, r.enumCases()
	default:
		return e, fmt.Errorf("unsupported spec entry kind %d", kind)
	}
}

func (r *xdrReader) function() (*Function, error) {
	f := &Function{}
	var err error
	if f.Doc, err = r.str(1024); err != nil {
		return nil, err
	}
	if f.Name, err = r.str(32); err != nil {
		return nil, err
	}
	n, err := r.count(10)
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		var in Input
		if in.Doc, err = r.str(1024); err != nil {
			return nil, err
		}
		if in.Name, err = r.str(30); err != nil {
			return nil, err
		}
		if in.Type, err = r.typeDef(); err != nil {
			return nil, err
		}
		f.Inputs = append(f.Inputs, in)
	}
	if n, err = r.count(1); err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		out, err := r.typeDef()
		if err != nil {
			return nil, err
		}
		f.Outputs = append(f.Outputs, out)
	}
	return f, nil
}

func (r *xdrReader) structFields() error {
	n, err := r.count(40)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if _, err := r.str(1024); err != nil {
			return err
		}
		if _, err := r.str(30); err != nil {
			return err
		}
		if _, err := r.typeDef(); err != nil {
			return err
		}
	}
	return nil
}

func (r *xdrReader) unionCases() error {
	n, err := r.count(50)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		kind, err := r.u32()
		if err != nil {
			return err
		}
		if _, err := r.str(1024); err != nil {
			return err
		}
		if _, err := r.str(60); err != nil {
			return err
		}
		if kind == 0 {
			continue
		}
		types, err := r.count(12)
		if err != nil {
			return err
		}
		for j := 0; j < types; j++ {
			if _, err := r.typeDef(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *xdrReader) enumCases() error {
	n, err := r.count(50)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if _, err := r.str(1024); err != nil {
			return err
		}
		if _, err := r.str(60); err != nil {
			return err
		}
		if _, err := r.u32(); err != nil {
			return err
		}
	}
	return nil
}

// SolidityType maps a spec type onto the Solidity type used for it in
// generated shims. It reports false for types that have no counterpart.
func SolidityType(t TypeDef) (string, bool) {
	switch t.Kind {
	case TypeBool:
		return "bool", true
	case TypeU32:
		return "uint32", true
	case TypeI32:
		return "int32", true
	case TypeU64, TypeTimepoint, TypeDuration:
		return "uint64", true
	case TypeI64:
		return "int64", true
	case TypeU128:
		return "uint128", true
	case TypeI128:
		return "int128", true
	case TypeU256:
		return "uint256", true
	case TypeI256:
		return "int256", true
	case TypeBytes:
		return "bytes", true
	case TypeString, TypeSymbol:
		return "string", true
	case TypeAddress:
		return "address", true
	case TypeBytesN:
		if t.N >= 1 && t.N <= 32 {
			return fmt.Sprintf("bytes%d", t.N), true
		}
		return "bytes", true
	case TypeVec:
		if elem, ok := SolidityType(t.Elems[0]); ok {
			return elem + "[]", true
		}
	}
	return "", false
}
