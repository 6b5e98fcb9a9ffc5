package solidity

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// TokenKind classifies a lexed token.
type TokenKind int

const (
	TokenEOF TokenKind = iota
	TokenIdent
	TokenNumber
	TokenString
	TokenPunct
)

func (k TokenKind) String() string {
	switch k {
	case TokenEOF:
		return "end of file"
	case TokenIdent:
		return "identifier"
	case TokenNumber:
		return "number"
	case TokenString:
		return "string literal"
	case TokenPunct:
		return "punctuation"
	default:
		return fmt.Sprintf("TokenKind(%d)", int(k))
	}
}

// Token is a lexed token. Text is the raw source text, except for string
// literals where it is the unquoted value.
type Token struct {
	Kind    TokenKind
	Text    string
	Loc     Loc
	Unicode bool
	Hex     bool
}

func (t Token) is(kind TokenKind, text string) bool {
	return t.Kind == kind && t.Text == text
}

// longest first
var puncts = []string{
	">>>=",
	"...", "<<=", ">>=", ">>>", "**=",
	"=>", "->", "==", "!=", "<=", ">=", "&&", "||", "++", "--", "+=", "-=", "*=", "/=", "%=",
	"&=", "|=", "^=", "<<", ">>", "**", ":=",
	"(", ")", "{", "}", "[", "]", ";", ",", ".", "=", "<", ">", "+", "-", "*", "/", "%",
	"!", "~", "&", "|", "^", "?", ":", "@",
}

type lexer struct {
	src      string
	pos      int
	tokens   []Token
	comments []Comment
}

func lex(src string) ([]Token, []Comment, error) {
	l := &lexer{src: src}
	for {
		tok, err := l.next()
		if err != nil {
			return nil, nil, err
		}
		l.tokens = append(l.tokens, tok)
		if tok.Kind == TokenEOF {
			return l.tokens, l.comments, nil
		}
	}
}

func (l *lexer) errorf(offset int, format string, args ...any) error {
	line, col := position(l.src, offset)
	return &SyntaxError{Line: line, Column: col, Msg: fmt.Sprintf(format, args...)}
}

func (l *lexer) next() (Token, error) {
	if err := l.skipSpaceAndComments(); err != nil {
		return Token{}, err
	}
	start := l.pos
	if l.pos >= len(l.src) {
		return Token{Kind: TokenEOF, Loc: Loc{start, start}}, nil
	}
	c := l.src[l.pos]
	switch {
	case isIdentStart(c):
		for l.pos < len(l.src) && isIdentPart(l.src[l.pos]) {
			l.pos++
		}
		word := l.src[start:l.pos]
		if (word == "unicode" || word == "hex") && l.pos < len(l.src) && (l.src[l.pos] == '"' || l.src[l.pos] == '\'') {
			tok, err := l.string()
			if err != nil {
				return Token{}, err
			}
			tok.Loc.Start = start
			tok.Unicode = word == "unicode"
			tok.Hex = word == "hex"
			return tok, nil
		}
		return Token{Kind: TokenIdent, Text: word, Loc: Loc{start, l.pos}}, nil
	case isDigit(c) || (c == '.' && l.pos+1 < len(l.src) && isDigit(l.src[l.pos+1])):
		// permissive: covers hex, decimals, exponents, underscores and pragma versions
		for l.pos < len(l.src) && (isIdentPart(l.src[l.pos]) || l.src[l.pos] == '.') {
			l.pos++
		}
		return Token{Kind: TokenNumber, Text: l.src[start:l.pos], Loc: Loc{start, l.pos}}, nil
	case c == '"' || c == '\'':
		return l.string()
	}
	for _, p := range puncts {
		if strings.HasPrefix(l.src[l.pos:], p) {
			l.pos += len(p)
			return Token{Kind: TokenPunct, Text: p, Loc: Loc{start, l.pos}}, nil
		}
	}
	r, _ := utf8.DecodeRuneInString(l.src[l.pos:])
	return Token{}, l.errorf(start, "unexpected character %q", r)
}

func (l *lexer) string() (Token, error) {
	start := l.pos
	quote := l.src[l.pos]
	l.pos++
	var sb strings.Builder
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == quote:
			l.pos++
			return Token{Kind: TokenString, Text: sb.String(), Loc: Loc{start, l.pos}}, nil
		case c == '\\' && l.pos+1 < len(l.src):
			sb.WriteByte(c)
			sb.WriteByte(l.src[l.pos+1])
			l.pos += 2
		case c == '\n':
			return Token{}, l.errorf(start, "unterminated string literal")
		default:
			sb.WriteByte(c)
			l.pos++
		}
	}
	return Token{}, l.errorf(start, "unterminated string literal")
}

func (l *lexer) skipSpaceAndComments() error {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v':
			l.pos++
		case strings.HasPrefix(l.src[l.pos:], "//"):
			start := l.pos
			end := strings.IndexByte(l.src[l.pos:], '\n')
			if end < 0 {
				l.pos = len(l.src)
			} else {
				l.pos += end
			}
			text := l.src[start:l.pos]
			l.comments = append(l.comments, Comment{
				Loc:  Loc{start, l.pos},
				Doc:  strings.HasPrefix(text, "///"),
				Text: strings.TrimPrefix(strings.TrimPrefix(text, "//"), "/"),
			})
		case strings.HasPrefix(l.src[l.pos:], "/*"):
			start := l.pos
			end := strings.Index(l.src[l.pos+2:], "*/")
			if end < 0 {
				return l.errorf(start, "unterminated block comment")
			}
			l.pos += end + 4
			text := l.src[start+2 : l.pos-2]
			l.comments = append(l.comments, Comment{
				Loc:   Loc{start, l.pos},
				Block: true,
				Doc:   strings.HasPrefix(text, "*") && text != "*",
				Text:  text,
			})
		default:
			return nil
		}
	}
	return nil
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// position converts a byte offset to a 1-based line and column.
func position(src string, offset int) (int, int) {
	if offset > len(src) {
		offset = len(src)
	}
	line := 1 + strings.Count(src[:offset], "\n")
	col := offset - strings.LastIndexByte(src[:offset], '\n')
	return line, col
}
