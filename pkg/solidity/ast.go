// Package solidity parses the subset of Solidity source structure that cubist
// needs to analyze and bridge contracts: file level directives, contract
// definitions with their members, and member calls inside bodies. Bodies and
// expressions are not modeled beyond the calls they contain.
package solidity

import "fmt"

// Loc is a half open byte range in the source.
type Loc struct {
	Start int
	End   int
}

// SyntaxError reports the first parse failure in a source.
type SyntaxError struct {
	Line   int
	Column int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Line, e.Column, e.Msg)
}

// Comment is a line or block comment.
type Comment struct {
	Loc   Loc
	Text  string
	Block bool
	Doc   bool
}

// SourceUnit is a parsed file.
type SourceUnit struct {
	Source   string
	Parts    []Part
	Comments []Comment
}

// Text returns the verbatim source covered by loc.
func (su *SourceUnit) Text(loc Loc) string {
	return su.Source[loc.Start:loc.End]
}

// Part is a source unit or contract member.
type Part interface {
	Location() Loc
}

// PragmaDirective is `pragma <name> <value>;`.
type PragmaDirective struct {
	Loc   Loc
	Name  string
	Value string
}

// ImportKind distinguishes the three import forms.
type ImportKind int

const (
	// ImportPlain is `import "p";`
	ImportPlain ImportKind = iota
	// ImportGlobalSymbol is `import "p" as X;` or `import * as X from "p";`
	ImportGlobalSymbol
	// ImportRename is `import {A, B as C} from "p";`
	ImportRename
)

// ImportSymbol is one entry of a rename import.
type ImportSymbol struct {
	Name  string
	Alias string
}

// ImportDirective is an import statement.
type ImportDirective struct {
	Loc     Loc
	Kind    ImportKind
	Path    string
	Unicode bool
	Alias   string
	Symbols []ImportSymbol
}

// ContractKind is the keyword introducing a contract definition.
type ContractKind string

const (
	KindContract         ContractKind = "contract"
	KindAbstractContract ContractKind = "abstract contract"
	KindInterface        ContractKind = "interface"
	KindLibrary          ContractKind = "library"
)

// MemberCall is an `object.member(...)` or `object.member{...}(...)`
// expression where object is a plain identifier.
type MemberCall struct {
	Loc    Loc
	Object string
	Member string
}

// ContractDefinition is a contract, interface or library.
type ContractDefinition struct {
	Loc   Loc
	Kind  ContractKind
	Name  string
	Bases []string
	Parts []Part
	// Calls lists every member call found in the contract's bodies and
	// initializers, in source order.
	Calls []MemberCall
}

// TypeName is a type expression. Path is set for user defined types
// (e.g. ["Eth", "Storage"] for `Eth.Storage`) without array suffixes.
type TypeName struct {
	Loc  Loc
	Text string
	Path []string
}

// Name returns the last path segment, or "" for non user types.
func (t *TypeName) Name() string {
	if t == nil || len(t.Path) == 0 {
		return ""
	}
	return t.Path[len(t.Path)-1]
}

// Parameter is a function, event, error or return parameter.
type Parameter struct {
	Loc     Loc
	Type    *TypeName
	Storage string
	Indexed bool
	Name    string
}

// VariableDefinition is a state variable or file level constant.
type VariableDefinition struct {
	Loc   Loc
	Type  *TypeName
	Attrs []string
	Name  string
}

// FunctionKind distinguishes function like definitions.
type FunctionKind string

const (
	FuncFunction    FunctionKind = "function"
	FuncConstructor FunctionKind = "constructor"
	FuncModifier    FunctionKind = "modifier"
	FuncFallback    FunctionKind = "fallback"
	FuncReceive     FunctionKind = "receive"
)

// AttributeKind classifies function attributes.
type AttributeKind int

const (
	AttrVisibility AttributeKind = iota
	AttrMutability
	AttrVirtual
	AttrOverride
	AttrModifier
)

// FunctionAttribute is one attribute of a function header.
type FunctionAttribute struct {
	Kind AttributeKind
	Text string
}

// FunctionDefinition covers functions, constructors, modifiers, fallback
// and receive functions.
type FunctionDefinition struct {
	Loc        Loc
	Kind       FunctionKind
	Name       string
	Params     []*Parameter
	Attributes []FunctionAttribute
	Returns    []*Parameter
	HasBody    bool
}

// Visibility returns the declared visibility, or "" if none is given.
func (f *FunctionDefinition) Visibility() string {
	for _, a := range f.Attributes {
		if a.Kind == AttrVisibility {
			return a.Text
		}
	}
	return ""
}

// IsPayable reports whether the function is declared payable.
func (f *FunctionDefinition) IsPayable() bool {
	for _, a := range f.Attributes {
		if a.Kind == AttrMutability && a.Text == "payable" {
			return true
		}
	}
	return false
}

// StructDefinition is a struct type.
type StructDefinition struct {
	Loc    Loc
	Name   string
	Fields []*Parameter
}

// EnumDefinition is an enum type.
type EnumDefinition struct {
	Loc    Loc
	Name   string
	Values []string
}

// EventDefinition is an event declaration.
type EventDefinition struct {
	Loc       Loc
	Name      string
	Params    []*Parameter
	Anonymous bool
}

// ErrorDefinition is a custom error declaration.
type ErrorDefinition struct {
	Loc    Loc
	Name   string
	Params []*Parameter
}

// TypeDefinition is a user defined value type `type X is T;`.
type TypeDefinition struct {
	Loc        Loc
	Name       string
	Underlying *TypeName
}

// UsingDirective is `using L for T;`.
type UsingDirective struct {
	Loc Loc
}

// StraySemicolon is a lone `;`.
type StraySemicolon struct {
	Loc Loc
}

func (p *PragmaDirective) Location() Loc    { return p.Loc }
func (p *ImportDirective) Location() Loc    { return p.Loc }
func (p *ContractDefinition) Location() Loc { return p.Loc }
func (p *VariableDefinition) Location() Loc { return p.Loc }
func (p *FunctionDefinition) Location() Loc { return p.Loc }
func (p *StructDefinition) Location() Loc   { return p.Loc }
func (p *EnumDefinition) Location() Loc     { return p.Loc }
func (p *EventDefinition) Location() Loc    { return p.Loc }
func (p *ErrorDefinition) Location() Loc    { return p.Loc }
func (p *TypeDefinition) Location() Loc     { return p.Loc }
func (p *UsingDirective) Location() Loc     { return p.Loc }
func (p *StraySemicolon) Location() Loc     { return p.Loc }

// Contracts returns the contract definitions of the unit in order.
func (su *SourceUnit) Contracts() []*ContractDefinition {
	var out []*ContractDefinition
	for _, p := range su.Parts {
		if cd, ok := p.(*ContractDefinition); ok {
			out = append(out, cd)
		}
	}
	return out
}

// Imports returns the import directives of the unit in order.
func (su *SourceUnit) Imports() []*ImportDirective {
	var out []*ImportDirective
	for _, p := range su.Parts {
		if imp, ok := p.(*ImportDirective); ok {
			out = append(out, imp)
		}
	}
	return out
}

// Pragmas returns the pragma directives of the unit in order.
func (su *SourceUnit) Pragmas() []*PragmaDirective {
	var out []*PragmaDirective
	for _, p := range su.Parts {
		if pd, ok := p.(*PragmaDirective); ok {
			out = append(out, pd)
		}
	}
	return out
}
