package solidity

import (
	"errors"
	"reflect"
	"testing"
)

const storageSource = `// SPDX-License-Identifier: MIT
pragma solidity ^0.8.16;

import "./Receiver.sol";
import "./Lib.sol" as Lib;
import * as Eth from "./Eth.sol";
import {Receiver as R, Other} from "./Receiver.sol";

/// A sender.
contract Sender is Base(1), Eth.Owned {
    struct Point { uint x; uint y; }
    enum Mode { On, Off, }
    event Stored(address indexed who, uint256 value);
    error Failed(string why);
    type Price is uint128;
    using SafeMath for uint256;

    R receiver;
    Eth.EthStorage public store;
    uint256[] values;
    mapping(address => uint) balances;
    uint256 constant LIMIT = 10;

    constructor(R _r) Base(2) payable {
        receiver = _r;
    }

    modifier onlyOwner { _; }

    function store(uint256 num) public virtual override(Base) onlyOwner {
        receiver.store(num);
        store.set{value: 1}(num);
        this.receiver.skipped(num);
        emit Stored(msg.sender, num);
    }

    function get() external view returns (uint256 result) {
        return values.length;
    }

    function hidden(string memory s, bytes calldata) internal pure {}

    fallback() external payable {}
    receive() external payable {}
}

interface IThing { function ping() external; }
`

func TestParse_Directives(t *testing.T) {
	su, err := Parse(storageSource)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	pragmas := su.Pragmas()
	if len(pragmas) != 1 || pragmas[0].Name != "solidity" || pragmas[0].Value != "^0.8.16" {
		t.Fatalf("unexpected pragmas: %+v", pragmas)
	}
	if got := su.Text(pragmas[0].Loc); got != "pragma solidity ^0.8.16;" {
		t.Errorf("pragma text = %q", got)
	}

	imports := su.Imports()
	if len(imports) != 4 {
		t.Fatalf("expected 4 imports, got %d", len(imports))
	}
	if imports[0].Kind != ImportPlain || imports[0].Path != "./Receiver.sol" {
		t.Errorf("unexpected plain import: %+v", imports[0])
	}
	if imports[1].Kind != ImportGlobalSymbol || imports[1].Alias != "Lib" {
		t.Errorf("unexpected alias import: %+v", imports[1])
	}
	if imports[2].Kind != ImportGlobalSymbol || imports[2].Alias != "Eth" || imports[2].Path != "./Eth.sol" {
		t.Errorf("unexpected star import: %+v", imports[2])
	}
	want := []ImportSymbol{{Name: "Receiver", Alias: "R"}, {Name: "Other"}}
	if imports[3].Kind != ImportRename || !reflect.DeepEqual(imports[3].Symbols, want) {
		t.Errorf("unexpected rename import: %+v", imports[3])
	}

	if len(su.Comments) < 2 || !su.Comments[1].Doc {
		t.Errorf("expected license comment and doc comment, got %+v", su.Comments)
	}
}

func TestParse_ContractMembers(t *testing.T) {
	su, err := Parse(storageSource)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	contracts := su.Contracts()
	if len(contracts) != 2 {
		t.Fatalf("expected 2 contracts, got %d", len(contracts))
	}
	cd := contracts[0]
	if cd.Name != "Sender" || cd.Kind != KindContract {
		t.Fatalf("unexpected contract: %s %s", cd.Kind, cd.Name)
	}
	if !reflect.DeepEqual(cd.Bases, []string{"Base(1)", "Eth.Owned"}) {
		t.Errorf("bases = %v", cd.Bases)
	}
	if contracts[1].Kind != KindInterface {
		t.Errorf("second contract kind = %s", contracts[1].Kind)
	}

	vars := map[string]*VariableDefinition{}
	funcs := map[string]*FunctionDefinition{}
	var kinds []string
	for _, part := range cd.Parts {
		switch v := part.(type) {
		case *VariableDefinition:
			vars[v.Name] = v
		case *FunctionDefinition:
			funcs[string(v.Kind)+":"+v.Name] = v
		case *StructDefinition:
			kinds = append(kinds, "struct")
		case *EnumDefinition:
			kinds = append(kinds, "enum")
			if len(v.Values) != 2 {
				t.Errorf("enum values = %v", v.Values)
			}
		case *EventDefinition:
			kinds = append(kinds, "event")
			if !v.Params[0].Indexed || v.Params[0].Name != "who" {
				t.Errorf("event param = %+v", v.Params[0])
			}
		case *ErrorDefinition:
			kinds = append(kinds, "error")
		case *TypeDefinition:
			kinds = append(kinds, "type")
		case *UsingDirective:
			kinds = append(kinds, "using")
			if got := su.Text(v.Loc); got != "using SafeMath for uint256;" {
				t.Errorf("using text = %q", got)
			}
		}
	}
	if !reflect.DeepEqual(kinds, []string{"struct", "enum", "event", "error", "type", "using"}) {
		t.Errorf("member kinds = %v", kinds)
	}

	if got := vars["receiver"].Type.Path; !reflect.DeepEqual(got, []string{"R"}) {
		t.Errorf("receiver type path = %v", got)
	}
	if got := vars["store"].Type.Path; !reflect.DeepEqual(got, []string{"Eth", "EthStorage"}) {
		t.Errorf("store type path = %v", got)
	}
	if vars["values"].Type.Path != nil || vars["values"].Type.Text != "uint256[]" {
		t.Errorf("array type = %+v", vars["values"].Type)
	}
	if vars["balances"].Type.Text != "mapping(address => uint)" {
		t.Errorf("mapping type = %q", vars["balances"].Type.Text)
	}
	if !reflect.DeepEqual(vars["LIMIT"].Attrs, []string{"constant"}) {
		t.Errorf("LIMIT attrs = %v", vars["LIMIT"].Attrs)
	}

	store := funcs["function:store"]
	if store == nil {
		t.Fatalf("store function not parsed: %v", funcs)
	}
	if store.Visibility() != "public" || len(store.Returns) != 0 || !store.HasBody {
		t.Errorf("unexpected store header: %+v", store)
	}
	if store.Params[0].Name != "num" || store.Params[0].Type.Text != "uint256" {
		t.Errorf("store param = %+v", store.Params[0])
	}
	var attrs []string
	for _, a := range store.Attributes {
		attrs = append(attrs, a.Text)
	}
	if !reflect.DeepEqual(attrs, []string{"public", "virtual", "override(Base)", "onlyOwner"}) {
		t.Errorf("store attrs = %v", attrs)
	}

	if get := funcs["function:get"]; get == nil || len(get.Returns) != 1 || get.Returns[0].Name != "result" {
		t.Errorf("get returns = %+v", get)
	}
	hidden := funcs["function:hidden"]
	if hidden.Params[0].Storage != "memory" || hidden.Params[1].Name != "" || hidden.Params[1].Storage != "calldata" {
		t.Errorf("hidden params = %+v %+v", hidden.Params[0], hidden.Params[1])
	}
	if !funcs["constructor:"].IsPayable() {
		t.Errorf("constructor should be payable")
	}
	if funcs["modifier:onlyOwner"] == nil || funcs["fallback:"] == nil || funcs["receive:"] == nil {
		t.Errorf("missing special functions: %v", funcs)
	}
}

func TestParse_MemberCalls(t *testing.T) {
	su, err := Parse(storageSource)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	var got []string
	for _, c := range su.Contracts()[0].Calls {
		got = append(got, c.Object+"."+c.Member)
	}
	want := []string{"receiver.store", "store.set"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestParse_UnicodeImport(t *testing.T) {
	su, err := Parse(`import unicode"./Ω.sol";`)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if imp := su.Imports()[0]; !imp.Unicode || imp.Path != "./Ω.sol" {
		t.Errorf("unexpected import: %+v", imp)
	}
}

func TestParse_SyntaxErrors(t *testing.T) {
	cases := map[string]string{
		"missing brace":   "contract A {",
		"bad import":      "import 42;",
		"unterminated":    `import "abc`,
		"stray character": "contract A { # }",
		"missing name":    "contract { }",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(src)
			var se *SyntaxError
			if !errors.As(err, &se) {
				t.Fatalf("expected SyntaxError, got %v", err)
			}
			if se.Line != 1 {
				t.Errorf("line = %d", se.Line)
			}
		})
	}
}

func TestParse_FileLevelDefinitions(t *testing.T) {
	src := `
struct Pair { uint a; uint b; }
uint constant MAX = 3;
function helper(uint x) pure returns (uint) { return x; }
error Bad();
`
	su, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(su.Parts) != 4 {
		t.Fatalf("expected 4 parts, got %d", len(su.Parts))
	}
	if _, ok := su.Parts[2].(*FunctionDefinition); !ok {
		t.Errorf("expected function, got %T", su.Parts[2])
	}
}
