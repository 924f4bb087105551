package variables

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Formulas are evaluated by a small recursive-descent interpreter over a
// closed grammar: numbers, strings, booleans, null, + - * /, comparisons,
// and/or/not (also && || !) and parentheses. Nothing else is accepted, so
// rule-author input can never reach a general-purpose evaluator.
//
//	expr    := or
//	or      := and (("or" | "||") and)*
//	and     := not (("and" | "&&") not)*
//	not     := ("not" | "!") not | cmp
//	cmp     := add (("==" | "!=" | "<" | "<=" | ">" | ">=") add)?
//	add     := mul (("+" | "-") mul)*
//	mul     := unary (("*" | "/") unary)*
//	unary   := "-" unary | primary
//	primary := number | string | "true" | "false" | "null" | "(" expr ")"

var formulaTokenRE = regexp.MustCompile(`\{\{var\.([^}]+)\}\}`)

// errNullOperand marks a null reaching an operator; it must surface as a
// computation failure, never coerce to zero.
var errNullOperand = errors.New("null operand in formula")

// ExtractTokens returns the distinct variable keys referenced in a formula
// as {{var.key}}, in order of first appearance.
func ExtractTokens(formula string) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, m := range formulaTokenRE.FindAllStringSubmatch(formula, -1) {
		key := strings.TrimSpace(m[1])
		if key != "" && !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	return keys
}

// SubstituteTokens replaces every {{var.key}} with a literal for its value.
// Unknown keys substitute to null so evaluation fails loudly downstream.
func SubstituteTokens(formula string, vars map[string]interface{}) string {
	return formulaTokenRE.ReplaceAllStringFunc(formula, func(tok string) string {
		key := strings.TrimSpace(formulaTokenRE.FindStringSubmatch(tok)[1])
		v, ok := vars[key]
		if !ok || v == nil {
			return "null"
		}
		switch t := v.(type) {
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64)
		case int:
			return strconv.Itoa(t)
		case int64:
			return strconv.FormatInt(t, 10)
		case bool:
			return strconv.FormatBool(t)
		case string:
			return strconv.Quote(t)
		default:
			return "null"
		}
	})
}

// EvalFormula parses and evaluates a substituted formula string.
func EvalFormula(src string) (interface{}, error) {
	toks, err := lexFormula(src)
	if err != nil {
		return nil, err
	}
	p := &formulaParser{toks: toks}
	v, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tkEOF {
		return nil, fmt.Errorf("unexpected %q in formula", p.peek().text)
	}
	return v, nil
}

// -- lexer --

type tokenKind int

const (
	tkEOF tokenKind = iota
	tkNumber
	tkString
	tkIdent
	tkOp
	tkLParen
	tkRParen
)

type formulaToken struct {
	kind tokenKind
	text string
	num  float64
	str  string
}

func lexFormula(src string) ([]formulaToken, error) {
	var toks []formulaToken
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, formulaToken{kind: tkLParen, text: "("})
			i++
		case c == ')':
			toks = append(toks, formulaToken{kind: tkRParen, text: ")"})
			i++
		case c == '"' || c == '\'':
			quote := c
			j := i + 1
			var sb strings.Builder
			for j < len(src) && src[j] != quote {
				if src[j] == '\\' && j+1 < len(src) {
					j++
				}
				sb.WriteByte(src[j])
				j++
			}
			if j >= len(src) {
				return nil, fmt.Errorf("unterminated string in formula")
			}
			toks = append(toks, formulaToken{kind: tkString, text: sb.String(), str: sb.String()})
			i = j + 1
		case c >= '0' && c <= '9' || c == '.':
			j := i
			for j < len(src) && (src[j] >= '0' && src[j] <= '9' || src[j] == '.') {
				j++
			}
			n, err := strconv.ParseFloat(src[i:j], 64)
			if err != nil {
				return nil, fmt.Errorf("bad number %q in formula", src[i:j])
			}
			toks = append(toks, formulaToken{kind: tkNumber, text: src[i:j], num: n})
			i = j
		case unicode.IsLetter(rune(c)) || c == '_':
			j := i
			for j < len(src) && (unicode.IsLetter(rune(src[j])) || unicode.IsDigit(rune(src[j])) || src[j] == '_') {
				j++
			}
			toks = append(toks, formulaToken{kind: tkIdent, text: src[i:j]})
			i = j
		default:
			two := ""
			if i+1 < len(src) {
				two = src[i : i+2]
			}
			switch two {
			case "==", "!=", "<=", ">=", "&&", "||":
				toks = append(toks, formulaToken{kind: tkOp, text: two})
				i += 2
				continue
			}
			switch c {
			case '+', '-', '*', '/', '<', '>', '!':
				toks = append(toks, formulaToken{kind: tkOp, text: string(c)})
				i++
			default:
				return nil, fmt.Errorf("unexpected character %q in formula", string(c))
			}
		}
	}
	toks = append(toks, formulaToken{kind: tkEOF})
	return toks, nil
}

// -- parser / evaluator --

type formulaParser struct {
	toks []formulaToken
	pos  int
}

func (p *formulaParser) peek() formulaToken { return p.toks[p.pos] }
func (p *formulaParser) next() formulaToken {
	t := p.toks[p.pos]
	if t.kind != tkEOF {
		p.pos++
	}
	return t
}

func (p *formulaParser) matchOp(ops ...string) (string, bool) {
	t := p.peek()
	if t.kind != tkOp && t.kind != tkIdent {
		return "", false
	}
	for _, op := range ops {
		if t.text == op {
			p.next()
			return op, true
		}
	}
	return "", false
}

func (p *formulaParser) parseOr() (interface{}, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.matchOp("or", "||"); !ok {
			return left, nil
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		lb, err := asBool(left)
		if err != nil {
			return nil, err
		}
		rb, err := asBool(right)
		if err != nil {
			return nil, err
		}
		left = lb || rb
	}
}

func (p *formulaParser) parseAnd() (interface{}, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.matchOp("and", "&&"); !ok {
			return left, nil
		}
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		lb, err := asBool(left)
		if err != nil {
			return nil, err
		}
		rb, err := asBool(right)
		if err != nil {
			return nil, err
		}
		left = lb && rb
	}
}

func (p *formulaParser) parseNot() (interface{}, error) {
	if _, ok := p.matchOp("not", "!"); ok {
		v, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		b, err := asBool(v)
		if err != nil {
			return nil, err
		}
		return !b, nil
	}
	return p.parseCmp()
}

func (p *formulaParser) parseCmp() (interface{}, error) {
	left, err := p.parseAdd()
	if err != nil {
		return nil, err
	}
	op, ok := p.matchOp("==", "!=", "<", "<=", ">", ">=")
	if !ok {
		return left, nil
	}
	right, err := p.parseAdd()
	if err != nil {
		return nil, err
	}
	return compareFormulaValues(op, left, right)
}

func (p *formulaParser) parseAdd() (interface{}, error) {
	left, err := p.parseMul()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.matchOp("+", "-")
		if !ok {
			return left, nil
		}
		right, err := p.parseMul()
		if err != nil {
			return nil, err
		}
		ln, err := asNumber(left)
		if err != nil {
			return nil, err
		}
		rn, err := asNumber(right)
		if err != nil {
			return nil, err
		}
		if op == "+" {
			left = ln + rn
		} else {
			left = ln - rn
		}
	}
}

func (p *formulaParser) parseMul() (interface{}, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.matchOp("*", "/")
		if !ok {
			return left, nil
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		ln, err := asNumber(left)
		if err != nil {
			return nil, err
		}
		rn, err := asNumber(right)
		if err != nil {
			return nil, err
		}
		if op == "*" {
			left = ln * rn
		} else {
			if rn == 0 {
				return nil, fmt.Errorf("division by zero in formula")
			}
			left = ln / rn
		}
	}
}

func (p *formulaParser) parseUnary() (interface{}, error) {
	if _, ok := p.matchOp("-"); ok {
		v, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		n, err := asNumber(v)
		if err != nil {
			return nil, err
		}
		return -n, nil
	}
	return p.parsePrimary()
}

func (p *formulaParser) parsePrimary() (interface{}, error) {
	t := p.next()
	switch t.kind {
	case tkNumber:
		return t.num, nil
	case tkString:
		return t.str, nil
	case tkIdent:
		switch t.text {
		case "true":
			return true, nil
		case "false":
			return false, nil
		case "null":
			return nil, nil
		}
		return nil, fmt.Errorf("unknown identifier %q in formula", t.text)
	case tkLParen:
		v, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.next().kind != tkRParen {
			return nil, fmt.Errorf("missing closing parenthesis in formula")
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unexpected %q in formula", t.text)
	}
}

func asNumber(v interface{}) (float64, error) {
	if v == nil {
		return 0, errNullOperand
	}
	n, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("expected number, got %T", v)
	}
	return n, nil
}

func asBool(v interface{}) (bool, error) {
	if v == nil {
		return false, errNullOperand
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("expected boolean, got %T", v)
	}
	return b, nil
}

func compareFormulaValues(op string, l, r interface{}) (interface{}, error) {
	if l == nil || r == nil {
		return nil, errNullOperand
	}
	switch lv := l.(type) {
	case float64:
		rv, ok := r.(float64)
		if !ok {
			return nil, fmt.Errorf("cannot compare number with %T", r)
		}
		return compareOrdered(op, lv, rv)
	case string:
		rv, ok := r.(string)
		if !ok {
			return nil, fmt.Errorf("cannot compare string with %T", r)
		}
		return compareOrdered(op, lv, rv)
	case bool:
		rv, ok := r.(bool)
		if !ok {
			return nil, fmt.Errorf("cannot compare boolean with %T", r)
		}
		switch op {
		case "==":
			return lv == rv, nil
		case "!=":
			return lv != rv, nil
		}
		return nil, fmt.Errorf("operator %q not defined for booleans", op)
	default:
		return nil, fmt.Errorf("cannot compare %T", l)
	}
}

func compareOrdered[T float64 | string](op string, l, r T) (interface{}, error) {
	switch op {
	case "==":
		return l == r, nil
	case "!=":
		return l != r, nil
	case "<":
		return l < r, nil
	case "<=":
		return l <= r, nil
	case ">":
		return l > r, nil
	case ">=":
		return l >= r, nil
	}
	return nil, fmt.Errorf("unknown comparison operator %q", op)
}
