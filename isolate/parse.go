// Copyright 2015 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package isolate

import (
	"fmt"
	"strconv"
	"strings"
)

// This file implements a small, hand-written recursive-descent parser for
// the restricted literal-expression grammar .isolate files use: nested
// dict/list literals of strings, ints and bools, with Python-style
// single/double-quoted strings, trailing commas, and the two constants
// True/False. There is no name resolution and no function calls; this
// must never grow into a general expression evaluator.

type token struct {
	kind tokenKind
	text string
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokLBrace
	tokRBrace
	tokLBracket
	tokRBracket
	tokColon
	tokComma
	tokString
	tokNumber
	tokIdent
)

type tokenizer struct {
	src []rune
	pos int
}

func newTokenizer(src string) *tokenizer {
	return &tokenizer{src: []rune(src)}
}

func (t *tokenizer) peekRune() (rune, bool) {
	if t.pos >= len(t.src) {
		return 0, false
	}
	return t.src[t.pos], true
}

func (t *tokenizer) skipSpace() {
	for t.pos < len(t.src) {
		c := t.src[t.pos]
		if c == '#' {
			for t.pos < len(t.src) && t.src[t.pos] != '\n' {
				t.pos++
			}
			continue
		}
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			t.pos++
			continue
		}
		break
	}
}

func (t *tokenizer) next() (token, error) {
	t.skipSpace()
	c, ok := t.peekRune()
	if !ok {
		return token{kind: tokEOF}, nil
	}
	switch c {
	case '{':
		t.pos++
		return token{kind: tokLBrace, text: "{"}, nil
	case '}':
		t.pos++
		return token{kind: tokRBrace, text: "}"}, nil
	case '[', '(':
		t.pos++
		return token{kind: tokLBracket, text: "["}, nil
	case ']', ')':
		t.pos++
		return token{kind: tokRBracket, text: "]"}, nil
	case ':':
		t.pos++
		return token{kind: tokColon, text: ":"}, nil
	case ',':
		t.pos++
		return token{kind: tokComma, text: ","}, nil
	case '\'', '"':
		return t.readString(c)
	default:
		if c == '-' || (c >= '0' && c <= '9') {
			return t.readNumber()
		}
		if isIdentStart(c) {
			return t.readIdent()
		}
		return token{}, fmt.Errorf("isolate: unexpected character %q at offset %d", c, t.pos)
	}
}

func isIdentStart(c rune) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c rune) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func (t *tokenizer) readIdent() (token, error) {
	start := t.pos
	for t.pos < len(t.src) && isIdentPart(t.src[t.pos]) {
		t.pos++
	}
	return token{kind: tokIdent, text: string(t.src[start:t.pos])}, nil
}

func (t *tokenizer) readNumber() (token, error) {
	start := t.pos
	if t.src[t.pos] == '-' {
		t.pos++
	}
	for t.pos < len(t.src) && t.src[t.pos] >= '0' && t.src[t.pos] <= '9' {
		t.pos++
	}
	return token{kind: tokNumber, text: string(t.src[start:t.pos])}, nil
}

func (t *tokenizer) readString(quote rune) (token, error) {
	t.pos++ // skip opening quote
	var b strings.Builder
	for {
		if t.pos >= len(t.src) {
			return token{}, fmt.Errorf("isolate: unterminated string literal")
		}
		c := t.src[t.pos]
		if c == quote {
			t.pos++
			break
		}
		if c == '\\' && t.pos+1 < len(t.src) {
			t.pos++
			switch t.src[t.pos] {
			case 'n':
				b.WriteRune('\n')
			case 't':
				b.WriteRune('\t')
			case '\\':
				b.WriteRune('\\')
			case '\'':
				b.WriteRune('\'')
			case '"':
				b.WriteRune('"')
			default:
				b.WriteRune(t.src[t.pos])
			}
			t.pos++
			continue
		}
		b.WriteRune(c)
		t.pos++
	}
	return token{kind: tokString, text: b.String()}, nil
}

// parser parses a flat list of tokens into a Value tree.
type parser struct {
	toks []token
	pos  int
}

func parseValue(src string) (Value, error) {
	tz := newTokenizer(src)
	var toks []token
	for {
		tok, err := tz.next()
		if err != nil {
			return Value{}, err
		}
		toks = append(toks, tok)
		if tok.kind == tokEOF {
			break
		}
	}
	p := &parser{toks: toks}
	v, err := p.parseExpr()
	if err != nil {
		return Value{}, err
	}
	if p.cur().kind != tokEOF {
		return Value{}, fmt.Errorf("isolate: unexpected trailing token %q", p.cur().text)
	}
	return v, nil
}

func (p *parser) cur() token {
	return p.toks[p.pos]
}

func (p *parser) advance() token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) expect(k tokenKind) error {
	if p.cur().kind != k {
		return fmt.Errorf("isolate: expected token kind %d, got %q", k, p.cur().text)
	}
	p.advance()
	return nil
}

func (p *parser) parseExpr() (Value, error) {
	switch p.cur().kind {
	case tokLBrace:
		return p.parseDict()
	case tokLBracket:
		return p.parseList()
	case tokString:
		t := p.advance()
		return strValue(t.text), nil
	case tokNumber:
		t := p.advance()
		n, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			return Value{}, err
		}
		return intValue(n), nil
	case tokIdent:
		t := p.advance()
		switch t.text {
		case "True":
			return boolValue(true), nil
		case "False":
			return boolValue(false), nil
		default:
			return Value{}, fmt.Errorf("isolate: name references are not allowed (%q)", t.text)
		}
	default:
		return Value{}, fmt.Errorf("isolate: unexpected token %q", p.cur().text)
	}
}

func (p *parser) parseDict() (Value, error) {
	if err := p.expect(tokLBrace); err != nil {
		return Value{}, err
	}
	out := newDictValue()
	for p.cur().kind != tokRBrace {
		if p.cur().kind != tokString {
			return Value{}, fmt.Errorf("isolate: dict keys must be string literals, got %q", p.cur().text)
		}
		key := p.advance().text
		if err := p.expect(tokColon); err != nil {
			return Value{}, err
		}
		val, err := p.parseExpr()
		if err != nil {
			return Value{}, err
		}
		out.set(key, val)
		if p.cur().kind == tokComma {
			p.advance()
			continue
		}
		break
	}
	if err := p.expect(tokRBrace); err != nil {
		return Value{}, err
	}
	return out, nil
}

func (p *parser) parseList() (Value, error) {
	if err := p.expect(tokLBracket); err != nil {
		return Value{}, err
	}
	var items []Value
	for p.cur().kind != tokRBracket {
		v, err := p.parseExpr()
		if err != nil {
			return Value{}, err
		}
		items = append(items, v)
		if p.cur().kind == tokComma {
			p.advance()
			continue
		}
		break
	}
	if err := p.expect(tokRBracket); err != nil {
		return Value{}, err
	}
	return listValue(items), nil
}

// --- Value -> IsolateAST -----------------------------------------------

// validVariableNames are the only keys permitted inside a 'variables'
// block.
var validVariableNames = map[string]bool{
	"command":      true,
	KeyTracked:     true,
	KeyUntracked:   true,
	KeyTouched:     true,
	"read_only":    true,
	"relative_cwd": true,
}

// ParseIsolate parses the textual contents of a .isolate file into an
// IsolateAST. It rejects unknown top-level keys and unknown variable
// names, and never evaluates arbitrary expressions.
func ParseIsolate(content []byte) (IsolateAST, error) {
	ast := IsolateAST{}
	ast.Comment = ExtractComment(content)
	text := string(content)
	v, err := parseValue(text)
	if err != nil {
		return ast, newConfigError("failed to parse isolate file: %s", err)
	}
	if v.Kind != KindDict {
		return ast, newConfigError("isolate file must be a dict literal")
	}
	for _, key := range v.DictKeys {
		val := v.Dict[key]
		switch key {
		case "includes":
			if val.Kind != KindList {
				return ast, newConfigError("'includes' must be a list")
			}
			ast.Includes = val.StrList()
		case "variables":
			// A top-level 'variables' value is the variables dict itself, not
			// a {'variables': ...} wrapper like a condition's arms.
			wrapper := newDictValue()
			wrapper.set("variables", val)
			vars, err := parseVariablesBlock(wrapper)
			if err != nil {
				return ast, err
			}
			ast.DefaultVariables = vars
			ast.HasDefaultVariables = true
		case "conditions":
			if val.Kind != KindList {
				return ast, newConfigError("'conditions' must be a list")
			}
			for _, c := range val.List {
				clause, err := parseClause(c)
				if err != nil {
					return ast, err
				}
				ast.Clauses = append(ast.Clauses, clause)
			}
		default:
			return ast, newConfigError("unknown top-level key %q", key)
		}
	}
	return ast, nil
}

func parseClause(v Value) (Clause, error) {
	if v.Kind != KindList || len(v.List) < 2 || len(v.List) > 3 {
		return Clause{}, newConfigError("malformed condition triple")
	}
	if v.List[0].Kind != KindStr {
		return Clause{}, newConfigError("condition expression must be a string")
	}
	expr, err := ParseCondition(v.List[0].Str)
	if err != nil {
		return Clause{}, err
	}
	thenVars, err := parseVariablesBlock(v.List[1])
	if err != nil {
		return Clause{}, err
	}
	clause := Clause{Expr: expr, ExprText: v.List[0].Str, Then: thenVars}
	if len(v.List) == 3 {
		elseVars, err := parseVariablesBlock(v.List[2])
		if err != nil {
			return Clause{}, err
		}
		clause.Else = elseVars
		clause.HasElse = true
	}
	return clause, nil
}

func parseVariablesBlock(v Value) (Variables, error) {
	vars := Variables{ReadOnly: ReadOnlyUnset}
	if v.Kind != KindDict {
		return vars, newConfigError("expected a dict with a 'variables' key")
	}
	inner, ok := v.Dict["variables"]
	if !ok {
		if len(v.DictKeys) == 0 {
			return vars, nil
		}
		return vars, newConfigError("expected a dict with only a 'variables' key, got %v", v.DictKeys)
	}
	if inner.Kind != KindDict {
		return vars, newConfigError("'variables' must be a dict")
	}
	for _, key := range inner.DictKeys {
		val := inner.Dict[key]
		if !validVariableNames[key] {
			return vars, newConfigError("unknown variable name %q", key)
		}
		switch key {
		case "command":
			vars.Command = val.StrList()
		case KeyTracked:
			vars.FilesTracked = val.StrList()
		case KeyUntracked:
			vars.FilesUntracked = val.StrList()
		case KeyTouched:
			vars.FilesTouched = val.StrList()
		case "read_only":
			if val.Kind != KindBool {
				return vars, newConfigError("'read_only' must be a bool")
			}
			if val.Bool {
				vars.ReadOnly = ReadOnlyTrue
			} else {
				vars.ReadOnly = ReadOnlyFalse
			}
		case "relative_cwd":
			vars.RelativeCwd = val.Str
		}
	}
	return vars, nil
}

// ExtractComment returns the leading '#'-prefixed comment block of an
// isolate file's text, if any, newline-terminated.
func ExtractComment(content []byte) string {
	lines := strings.SplitAfter(string(content), "\n")
	var b strings.Builder
	for _, line := range lines {
		trimmed := strings.TrimLeft(line, " \t")
		if strings.HasPrefix(trimmed, "#") {
			b.WriteString(line)
			continue
		}
		break
	}
	return b.String()
}
