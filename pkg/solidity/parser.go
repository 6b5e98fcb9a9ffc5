package solidity

import (
	"fmt"
	"strings"
)

var (
	visibilities = map[string]bool{"public": true, "private": true, "internal": true, "external": true}
	mutabilities = map[string]bool{"pure": true, "view": true, "payable": true, "constant": true}
	storages     = map[string]bool{"memory": true, "storage": true, "calldata": true}
	varAttrs     = map[string]bool{
		"public": true, "private": true, "internal": true, "constant": true,
		"immutable": true, "override": true, "transient": true,
	}
)

// Parse parses Solidity source text.
func Parse(src string) (*SourceUnit, error) {
	toks, comments, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{src: src, toks: toks}
	su := &SourceUnit{Source: src, Comments: comments}
	for !p.at(TokenEOF, "") {
		part, err := p.sourceUnitPart()
		if err != nil {
			return nil, err
		}
		su.Parts = append(su.Parts, part)
	}
	return su, nil
}

type parser struct {
	src   string
	toks  []Token
	pos   int
	calls *[]MemberCall
}

func (p *parser) peek() Token {
	return p.peekN(0)
}

func (p *parser) peekN(n int) Token {
	if p.pos+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+n]
}

func (p *parser) advance() Token {
	t := p.peek()
	if t.Kind != TokenEOF {
		p.pos++
	}
	return t
}

// at reports whether the next token has the given kind and, if text is
// non-empty, the given text.
func (p *parser) at(kind TokenKind, text string) bool {
	t := p.peek()
	return t.Kind == kind && (text == "" || t.Text == text)
}

func (p *parser) atWord(word string) bool {
	return p.at(TokenIdent, word)
}

func (p *parser) accept(kind TokenKind, text string) bool {
	if p.at(kind, text) {
		p.advance()
		return true
	}
	return false
}

func (p *parser) expectPunct(text string) (Token, error) {
	if !p.at(TokenPunct, text) {
		return Token{}, p.unexpected(fmt.Sprintf("'%s'", text))
	}
	return p.advance(), nil
}

func (p *parser) expectIdent() (Token, error) {
	if !p.at(TokenIdent, "") {
		return Token{}, p.unexpected("identifier")
	}
	return p.advance(), nil
}

func (p *parser) expectWord(word string) error {
	if !p.atWord(word) {
		return p.unexpected(fmt.Sprintf("'%s'", word))
	}
	p.advance()
	return nil
}

func (p *parser) unexpected(want string) error {
	t := p.peek()
	found := t.Kind.String()
	if t.Kind != TokenEOF {
		found = fmt.Sprintf("'%s'", t.Text)
	}
	return p.errorf(t, "expected %s, found %s", want, found)
}

func (p *parser) errorf(t Token, format string, args ...any) error {
	line, col := position(p.src, t.Loc.Start)
	return &SyntaxError{Line: line, Column: col, Msg: fmt.Sprintf(format, args...)}
}

// prevEnd is the end offset of the last consumed token.
func (p *parser) prevEnd() int {
	if p.pos == 0 {
		return 0
	}
	return p.toks[p.pos-1].Loc.End
}

func (p *parser) sourceUnitPart() (Part, error) {
	t := p.peek()
	if t.Kind == TokenIdent {
		switch t.Text {
		case "pragma":
			return p.pragma()
		case "import":
			return p.importDirective()
		case "contract", "interface", "library":
			return p.contract()
		case "abstract":
			if p.peekN(1).is(TokenIdent, "contract") {
				return p.contract()
			}
		}
	}
	var calls []MemberCall
	p.calls = &calls
	defer func() { p.calls = nil }()
	return p.member()
}

func (p *parser) pragma() (Part, error) {
	start := p.advance().Loc.Start
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	for !p.at(TokenPunct, ";") {
		if p.at(TokenEOF, "") {
			return nil, p.unexpected("';'")
		}
		p.advance()
	}
	semi := p.advance()
	return &PragmaDirective{
		Loc:   Loc{start, semi.Loc.End},
		Name:  name.Text,
		Value: strings.TrimSpace(p.src[name.Loc.End:semi.Loc.Start]),
	}, nil
}

func (p *parser) importDirective() (Part, error) {
	start := p.advance().Loc.Start
	imp := &ImportDirective{}
	switch {
	case p.at(TokenString, ""):
		path := p.advance()
		imp.Path, imp.Unicode = path.Text, path.Unicode
		imp.Kind = ImportPlain
		if p.accept(TokenIdent, "as") {
			alias, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			imp.Kind, imp.Alias = ImportGlobalSymbol, alias.Text
		}
	case p.accept(TokenPunct, "*"):
		if err := p.expectWord("as"); err != nil {
			return nil, err
		}
		alias, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		imp.Kind, imp.Alias = ImportGlobalSymbol, alias.Text
		if err := p.importFrom(imp); err != nil {
			return nil, err
		}
	case p.accept(TokenPunct, "{"):
		imp.Kind = ImportRename
		for !p.accept(TokenPunct, "}") {
			name, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			sym := ImportSymbol{Name: name.Text}
			if p.accept(TokenIdent, "as") {
				alias, err := p.expectIdent()
				if err != nil {
					return nil, err
				}
				sym.Alias = alias.Text
			}
			imp.Symbols = append(imp.Symbols, sym)
			if !p.at(TokenPunct, "}") {
				if _, err := p.expectPunct(","); err != nil {
					return nil, err
				}
			}
		}
		if err := p.importFrom(imp); err != nil {
			return nil, err
		}
	default:
		return nil, p.unexpected("import path, '*' or '{'")
	}
	semi, err := p.expectPunct(";")
	if err != nil {
		return nil, err
	}
	imp.Loc = Loc{start, semi.Loc.End}
	return imp, nil
}

func (p *parser) importFrom(imp *ImportDirective) error {
	if err := p.expectWord("from"); err != nil {
		return err
	}
	if !p.at(TokenString, "") {
		return p.unexpected("import path")
	}
	path := p.advance()
	imp.Path, imp.Unicode = path.Text, path.Unicode
	return nil
}

func (p *parser) contract() (Part, error) {
	start := p.peek().Loc.Start
	cd := &ContractDefinition{}
	if p.accept(TokenIdent, "abstract") {
		p.advance()
		cd.Kind = KindAbstractContract
	} else {
		cd.Kind = ContractKind(p.advance().Text)
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	cd.Name = name.Text

	if p.accept(TokenIdent, "is") {
		for {
			bstart := p.peek().Loc.Start
			if _, err := p.identPath(); err != nil {
				return nil, err
			}
			if p.at(TokenPunct, "(") {
				if _, err := p.skipBalanced(); err != nil {
					return nil, err
				}
			}
			cd.Bases = append(cd.Bases, p.src[bstart:p.prevEnd()])
			if !p.accept(TokenPunct, ",") {
				break
			}
		}
	}

	if _, err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	p.calls = &cd.Calls
	defer func() { p.calls = nil }()
	for !p.at(TokenPunct, "}") {
		if p.at(TokenEOF, "") {
			return nil, p.unexpected("'}'")
		}
		part, err := p.member()
		if err != nil {
			return nil, err
		}
		cd.Parts = append(cd.Parts, part)
	}
	cd.Loc = Loc{start, p.advance().Loc.End}
	return cd, nil
}

// member parses a definition that may appear inside a contract or at file
// level.
func (p *parser) member() (Part, error) {
	t := p.peek()
	if t.is(TokenPunct, ";") {
		p.advance()
		return &StraySemicolon{Loc: t.Loc}, nil
	}
	if t.Kind != TokenIdent {
		return nil, p.unexpected("definition")
	}
	next := p.peekN(1)
	switch t.Text {
	case "function":
		if next.is(TokenPunct, "(") {
			return p.variable()
		}
		return p.function()
	case "constructor", "modifier", "fallback", "receive":
		return p.function()
	case "struct":
		return p.structDef()
	case "enum":
		return p.enumDef()
	case "event":
		return p.eventDef()
	case "error":
		if next.Kind == TokenIdent && p.peekN(2).is(TokenPunct, "(") {
			return p.errorDef()
		}
	case "type":
		if next.Kind == TokenIdent && p.peekN(2).is(TokenIdent, "is") {
			return p.typeDef()
		}
	case "using":
		start := p.advance().Loc.Start
		end, err := p.skipStatement()
		if err != nil {
			return nil, err
		}
		return &UsingDirective{Loc: Loc{start, end}}, nil
	}
	return p.variable()
}

func (p *parser) function() (Part, error) {
	kw := p.advance()
	fd := &FunctionDefinition{Kind: FunctionKind(kw.Text)}
	if fd.Kind == FuncFunction || fd.Kind == FuncModifier {
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		fd.Name = name.Text
	}
	if p.at(TokenPunct, "(") || fd.Kind != FuncModifier {
		params, err := p.parameters()
		if err != nil {
			return nil, err
		}
		fd.Params = params
	}

	for {
		t := p.peek()
		if t.Kind != TokenIdent {
			break
		}
		switch {
		case t.Text == "returns":
			p.advance()
			returns, err := p.parameters()
			if err != nil {
				return nil, err
			}
			fd.Returns = returns
		case visibilities[t.Text]:
			p.advance()
			fd.Attributes = append(fd.Attributes, FunctionAttribute{Kind: AttrVisibility, Text: t.Text})
		case mutabilities[t.Text]:
			p.advance()
			fd.Attributes = append(fd.Attributes, FunctionAttribute{Kind: AttrMutability, Text: t.Text})
		case t.Text == "virtual":
			p.advance()
			fd.Attributes = append(fd.Attributes, FunctionAttribute{Kind: AttrVirtual, Text: t.Text})
		case t.Text == "override":
			p.advance()
			if p.at(TokenPunct, "(") {
				if _, err := p.skipBalanced(); err != nil {
					return nil, err
				}
			}
			fd.Attributes = append(fd.Attributes, FunctionAttribute{Kind: AttrOverride, Text: p.src[t.Loc.Start:p.prevEnd()]})
		default:
			if _, err := p.identPath(); err != nil {
				return nil, err
			}
			if p.at(TokenPunct, "(") {
				if _, err := p.skipBalanced(); err != nil {
					return nil, err
				}
			}
			fd.Attributes = append(fd.Attributes, FunctionAttribute{Kind: AttrModifier, Text: p.src[t.Loc.Start:p.prevEnd()]})
		}
	}

	switch {
	case p.at(TokenPunct, "{"):
		if _, err := p.skipBalanced(); err != nil {
			return nil, err
		}
		fd.HasBody = true
	case p.at(TokenPunct, ";"):
		p.advance()
	default:
		return nil, p.unexpected("function body or ';'")
	}
	fd.Loc = Loc{kw.Loc.Start, p.prevEnd()}
	return fd, nil
}

func (p *parser) parameters() ([]*Parameter, error) {
	if _, err := p.expectPunct("("); err != nil {
		return nil, err
	}
	var params []*Parameter
	for !p.accept(TokenPunct, ")") {
		param, err := p.parameter()
		if err != nil {
			return nil, err
		}
		params = append(params, param)
		if !p.at(TokenPunct, ")") {
			if _, err := p.expectPunct(","); err != nil {
				return nil, err
			}
		}
	}
	return params, nil
}

func (p *parser) parameter() (*Parameter, error) {
	start := p.peek().Loc.Start
	ty, err := p.typeName()
	if err != nil {
		return nil, err
	}
	param := &Parameter{Type: ty}
	for p.at(TokenIdent, "") {
		t := p.peek()
		switch {
		case storages[t.Text] && param.Storage == "":
			param.Storage = t.Text
		case t.Text == "indexed":
			param.Indexed = true
		case param.Name == "":
			param.Name = t.Text
		default:
			return nil, p.unexpected("',' or ')'")
		}
		p.advance()
	}
	param.Loc = Loc{start, p.prevEnd()}
	return param, nil
}

func (p *parser) identPath() ([]string, error) {
	first, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	path := []string{first.Text}
	for p.at(TokenPunct, ".") && p.peekN(1).Kind == TokenIdent {
		p.advance()
		path = append(path, p.advance().Text)
	}
	return path, nil
}

func (p *parser) typeName() (*TypeName, error) {
	t := p.peek()
	if t.Kind != TokenIdent {
		return nil, p.unexpected("type name")
	}
	ty := &TypeName{}
	switch {
	case t.Text == "mapping":
		p.advance()
		if !p.at(TokenPunct, "(") {
			return nil, p.unexpected("'('")
		}
		if _, err := p.skipBalanced(); err != nil {
			return nil, err
		}
	case t.Text == "function":
		p.advance()
		if !p.at(TokenPunct, "(") {
			return nil, p.unexpected("'('")
		}
		if _, err := p.skipBalanced(); err != nil {
			return nil, err
		}
		for p.at(TokenIdent, "") && (visibilities[p.peek().Text] || mutabilities[p.peek().Text]) {
			p.advance()
		}
		if p.accept(TokenIdent, "returns") {
			if !p.at(TokenPunct, "(") {
				return nil, p.unexpected("'('")
			}
			if _, err := p.skipBalanced(); err != nil {
				return nil, err
			}
		}
	case t.Text == "address":
		p.advance()
		p.accept(TokenIdent, "payable")
	case isElementary(t.Text):
		p.advance()
	default:
		path, err := p.identPath()
		if err != nil {
			return nil, err
		}
		ty.Path = path
	}
	for p.at(TokenPunct, "[") {
		ty.Path = nil
		if _, err := p.skipBalanced(); err != nil {
			return nil, err
		}
	}
	ty.Loc = Loc{t.Loc.Start, p.prevEnd()}
	ty.Text = p.src[ty.Loc.Start:ty.Loc.End]
	return ty, nil
}

func isElementary(word string) bool {
	switch word {
	case "bool", "string", "bytes", "byte", "int", "uint", "fixed", "ufixed":
		return true
	}
	for _, prefix := range []string{"uint", "int", "bytes", "ufixed", "fixed"} {
		if rest, ok := strings.CutPrefix(word, prefix); ok && rest != "" && isDigit(rest[0]) {
			return true
		}
	}
	return false
}

func (p *parser) variable() (Part, error) {
	start := p.peek().Loc.Start
	ty, err := p.typeName()
	if err != nil {
		return nil, err
	}
	vd := &VariableDefinition{Type: ty}
	for p.at(TokenIdent, "") && varAttrs[p.peek().Text] {
		a := p.advance()
		if a.Text == "override" && p.at(TokenPunct, "(") {
			if _, err := p.skipBalanced(); err != nil {
				return nil, err
			}
		}
		vd.Attrs = append(vd.Attrs, p.src[a.Loc.Start:p.prevEnd()])
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	vd.Name = name.Text
	if p.at(TokenPunct, "=") {
		p.advance()
		if _, err := p.skipStatement(); err != nil {
			return nil, err
		}
	} else if _, err := p.expectPunct(";"); err != nil {
		return nil, err
	}
	vd.Loc = Loc{start, p.prevEnd()}
	return vd, nil
}

func (p *parser) structDef() (Part, error) {
	start := p.advance().Loc.Start
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	sd := &StructDefinition{Name: name.Text}
	if _, err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	for !p.accept(TokenPunct, "}") {
		fstart := p.peek().Loc.Start
		ty, err := p.typeName()
		if err != nil {
			return nil, err
		}
		fname, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectPunct(";"); err != nil {
			return nil, err
		}
		sd.Fields = append(sd.Fields, &Parameter{Loc: Loc{fstart, fname.Loc.End}, Type: ty, Name: fname.Text})
	}
	sd.Loc = Loc{start, p.prevEnd()}
	return sd, nil
}

func (p *parser) enumDef() (Part, error) {
	start := p.advance().Loc.Start
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	ed := &EnumDefinition{Name: name.Text}
	if _, err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	for !p.accept(TokenPunct, "}") {
		v, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		ed.Values = append(ed.Values, v.Text)
		if !p.at(TokenPunct, "}") {
			if _, err := p.expectPunct(","); err != nil {
				return nil, err
			}
		}
	}
	ed.Loc = Loc{start, p.prevEnd()}
	return ed, nil
}

func (p *parser) eventDef() (Part, error) {
	start := p.advance().Loc.Start
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	params, err := p.parameters()
	if err != nil {
		return nil, err
	}
	ev := &EventDefinition{Name: name.Text, Params: params}
	ev.Anonymous = p.accept(TokenIdent, "anonymous")
	if _, err := p.expectPunct(";"); err != nil {
		return nil, err
	}
	ev.Loc = Loc{start, p.prevEnd()}
	return ev, nil
}

func (p *parser) errorDef() (Part, error) {
	start := p.advance().Loc.Start
	name := p.advance()
	params, err := p.parameters()
	if err != nil {
		return nil, err
	}
	if _, err := p.expectPunct(";"); err != nil {
		return nil, err
	}
	return &ErrorDefinition{Loc: Loc{start, p.prevEnd()}, Name: name.Text, Params: params}, nil
}

func (p *parser) typeDef() (Part, error) {
	start := p.advance().Loc.Start
	name := p.advance()
	p.advance() // is
	underlying, err := p.typeName()
	if err != nil {
		return nil, err
	}
	if _, err := p.expectPunct(";"); err != nil {
		return nil, err
	}
	return &TypeDefinition{Loc: Loc{start, p.prevEnd()}, Name: name.Text, Underlying: underlying}, nil
}

// skipBalanced consumes a bracketed group starting at the next token and
// returns the index of its first token. Member calls inside the group are
// recorded.
func (p *parser) skipBalanced() (int, error) {
	first := p.pos
	open := p.advance()
	depth := 1
	for depth > 0 {
		t := p.advance()
		switch {
		case t.Kind == TokenEOF:
			return 0, p.errorf(open, "unbalanced '%s'", open.Text)
		case t.Kind != TokenPunct:
		case t.Text == "(" || t.Text == "[" || t.Text == "{":
			depth++
		case t.Text == ")" || t.Text == "]" || t.Text == "}":
			depth--
		}
	}
	p.scanCalls(first, p.pos)
	return first, nil
}

// skipStatement consumes tokens up to and including the next ';' at bracket
// depth zero and returns the end offset of the ';'.
func (p *parser) skipStatement() (int, error) {
	first := p.pos
	depth := 0
	for {
		t := p.advance()
		switch {
		case t.Kind == TokenEOF:
			return 0, p.unexpected("';'")
		case t.Kind != TokenPunct:
		case t.Text == "(" || t.Text == "[" || t.Text == "{":
			depth++
		case t.Text == ")" || t.Text == "]" || t.Text == "}":
			depth--
		case t.Text == ";" && depth == 0:
			p.scanCalls(first, p.pos)
			return t.Loc.End, nil
		}
	}
}

// scanCalls records `a.b(` and `a.b{...}(` patterns in toks[from:to] where
// a is not itself a member access.
func (p *parser) scanCalls(from, to int) {
	if p.calls == nil {
		return
	}
	toks := p.toks[:to]
	for i := from; i+3 < len(toks); i++ {
		obj, dot, member, after := toks[i], toks[i+1], toks[i+2], toks[i+3]
		if obj.Kind != TokenIdent || !dot.is(TokenPunct, ".") || member.Kind != TokenIdent {
			continue
		}
		if i > 0 && toks[i-1].is(TokenPunct, ".") {
			continue
		}
		switch {
		case after.is(TokenPunct, "("):
		case after.is(TokenPunct, "{"):
			end := matching(toks, i+3)
			if end < 0 || end+1 >= len(toks) || !toks[end+1].is(TokenPunct, "(") {
				continue
			}
		default:
			continue
		}
		*p.calls = append(*p.calls, MemberCall{
			Loc:    Loc{obj.Loc.Start, member.Loc.End},
			Object: obj.Text,
			Member: member.Text,
		})
	}
}

// matching returns the index of the bracket closing toks[open], or -1.
func matching(toks []Token, open int) int {
	depth := 0
	for i := open; i < len(toks); i++ {
		t := toks[i]
		if t.Kind != TokenPunct {
			continue
		}
		switch t.Text {
		case "(", "[", "{":
			depth++
		case ")", "]", "}":
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
