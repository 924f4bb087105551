package rules

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Condition trees are stored as JSONLogic-shaped JSON and interpreted over a
// tagged AST with a closed operator set. Rule authors may also save the raw
// query-builder group; ConvertQueryBuilder normalizes that shape first.

type Node interface{ isNode() }

type Literal struct{ Value interface{} }

// VarRef resolves a dotted path into the EvaluationContext.
type VarRef struct{ Path string }

// Comparison covers ==, !=, <, <=, > and >=.
type Comparison struct {
	Op          string
	Left, Right Node
}

// Logical covers and, or and not. Not takes a single child.
type Logical struct {
	Op       string
	Children []Node
}

// Membership is the in operator: needle in string or list haystack.
type Membership struct {
	Needle, Haystack Node
}

// StringMatch covers startsWith and endsWith.
type StringMatch struct {
	Op           string
	Value, Affix Node
}

func (Literal) isNode()     {}
func (VarRef) isNode()      {}
func (Comparison) isNode()  {}
func (Logical) isNode()     {}
func (Membership) isNode()  {}
func (StringMatch) isNode() {}

type ConditionEvaluator struct {
	log zerolog.Logger
}

func NewConditionEvaluator(log zerolog.Logger) *ConditionEvaluator {
	return &ConditionEvaluator{log: log}
}

// Evaluate interprets raw conditions against ctx. Empty or absent conditions
// match every context. Interpretation errors are logged and yield false; the
// method never panics or returns an error to the caller.
func (e *ConditionEvaluator) Evaluate(raw json.RawMessage, ctx *EvaluationContext) bool {
	if len(raw) == 0 || string(raw) == "null" || string(raw) == "{}" {
		return true
	}

	var tree interface{}
	if err := json.Unmarshal(raw, &tree); err != nil {
		e.log.Error().Err(err).Msg("malformed conditions")
		return false
	}
	if m, ok := tree.(map[string]interface{}); ok {
		if len(m) == 0 {
			return true
		}
		if _, isGroup := m["combinator"]; isGroup {
			tree = e.ConvertQueryBuilder(m)
			if len(tree.(map[string]interface{})) == 0 {
				return true
			}
		}
	}

	node, err := parseNode(tree)
	if err != nil {
		e.log.Error().Err(err).Msg("parse conditions")
		return false
	}
	result, err := evalNode(node, ctx)
	if err != nil {
		e.log.Error().Err(err).Msg("evaluate conditions")
		return false
	}
	return truthy(result)
}

// ConvertQueryBuilder normalizes a query-builder group {combinator, rules}
// into the logic-tree shape. Unknown operators degrade to equality with a
// warning rather than failing the whole rule.
func (e *ConditionEvaluator) ConvertQueryBuilder(group map[string]interface{}) map[string]interface{} {
	rawRules, _ := group["rules"].([]interface{})
	if len(rawRules) == 0 {
		return map[string]interface{}{}
	}
	combinator := "and"
	if c, ok := group["combinator"].(string); ok && c != "" {
		combinator = c
	}
	converted := make([]interface{}, 0, len(rawRules))
	for _, raw := range rawRules {
		m, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if _, nested := m["combinator"]; nested {
			converted = append(converted, e.ConvertQueryBuilder(m))
			continue
		}
		converted = append(converted, e.convertRule(m))
	}
	return map[string]interface{}{combinator: converted}
}

func (e *ConditionEvaluator) convertRule(rule map[string]interface{}) map[string]interface{} {
	field, _ := rule["field"].(string)
	operator, _ := rule["operator"].(string)
	value := rule["value"]
	fieldRef := map[string]interface{}{"var": field}

	switch operator {
	case "=":
		return map[string]interface{}{"==": []interface{}{fieldRef, value}}
	case "!=", "<", "<=", ">", ">=":
		return map[string]interface{}{operator: []interface{}{fieldRef, value}}
	case "between":
		bounds, _ := value.([]interface{})
		if len(bounds) != 2 {
			bounds = []interface{}{nil, nil}
		}
		return map[string]interface{}{"and": []interface{}{
			map[string]interface{}{">=": []interface{}{fieldRef, bounds[0]}},
			map[string]interface{}{"<=": []interface{}{fieldRef, bounds[1]}},
		}}
	case "contains":
		return map[string]interface{}{"in": []interface{}{value, fieldRef}}
	case "notContains":
		return map[string]interface{}{"!": map[string]interface{}{"in": []interface{}{value, fieldRef}}}
	case "in":
		return map[string]interface{}{"in": []interface{}{fieldRef, value}}
	case "notIn":
		return map[string]interface{}{"!": map[string]interface{}{"in": []interface{}{fieldRef, value}}}
	case "isEmpty":
		return map[string]interface{}{"==": []interface{}{fieldRef, []interface{}{}}}
	case "isNotEmpty":
		return map[string]interface{}{"!=": []interface{}{fieldRef, []interface{}{}}}
	case "startsWith":
		return map[string]interface{}{"startsWith": []interface{}{fieldRef, value}}
	case "endsWith":
		return map[string]interface{}{"endsWith": []interface{}{fieldRef, value}}
	default:
		e.log.Warn().Str("operator", operator).Str("field", field).Msg("unknown query-builder operator, falling back to equality")
		return map[string]interface{}{"==": []interface{}{fieldRef, value}}
	}
}

// ParseConditions builds the AST from a decoded logic tree.
func ParseConditions(raw json.RawMessage) (Node, error) {
	var tree interface{}
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, err
	}
	return parseNode(tree)
}

func parseNode(v interface{}) (Node, error) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return Literal{Value: v}, nil
	}
	if len(m) != 1 {
		return nil, fmt.Errorf("expected single-operator node, got %d keys", len(m))
	}
	var op string
	var operand interface{}
	for k, val := range m {
		op, operand = k, val
	}

	switch op {
	case "var":
		switch p := operand.(type) {
		case string:
			return VarRef{Path: p}, nil
		case []interface{}:
			if len(p) > 0 {
				if s, ok := p[0].(string); ok {
					return VarRef{Path: s}, nil
				}
			}
		}
		return nil, fmt.Errorf("var operand must be a path string")
	case "==", "!=", "<", "<=", ">", ">=":
		left, right, err := parsePair(op, operand)
		if err != nil {
			return nil, err
		}
		return Comparison{Op: op, Left: left, Right: right}, nil
	case "and", "or":
		items, ok := operand.([]interface{})
		if !ok || len(items) == 0 {
			return nil, fmt.Errorf("%s operand must be a non-empty array", op)
		}
		children := make([]Node, 0, len(items))
		for _, item := range items {
			child, err := parseNode(item)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		return Logical{Op: op, Children: children}, nil
	case "!":
		// Both {"!": x} and {"!": [x]} occur in the wild.
		if items, ok := operand.([]interface{}); ok {
			if len(items) != 1 {
				return nil, fmt.Errorf("! takes exactly one operand")
			}
			operand = items[0]
		}
		child, err := parseNode(operand)
		if err != nil {
			return nil, err
		}
		return Logical{Op: "not", Children: []Node{child}}, nil
	case "in":
		needle, haystack, err := parsePair(op, operand)
		if err != nil {
			return nil, err
		}
		return Membership{Needle: needle, Haystack: haystack}, nil
	case "startsWith", "endsWith":
		value, affix, err := parsePair(op, operand)
		if err != nil {
			return nil, err
		}
		return StringMatch{Op: op, Value: value, Affix: affix}, nil
	default:
		return nil, fmt.Errorf("unknown operator %q", op)
	}
}

func parsePair(op string, operand interface{}) (Node, Node, error) {
	items, ok := operand.([]interface{})
	if !ok || len(items) != 2 {
		return nil, nil, fmt.Errorf("%s takes exactly two operands", op)
	}
	left, err := parseNode(items[0])
	if err != nil {
		return nil, nil, err
	}
	right, err := parseNode(items[1])
	if err != nil {
		return nil, nil, err
	}
	return left, right, nil
}

func evalNode(n Node, ctx *EvaluationContext) (interface{}, error) {
	switch t := n.(type) {
	case Literal:
		return t.Value, nil
	case VarRef:
		value, ok := ctx.Lookup(t.Path)
		if !ok {
			return nil, fmt.Errorf("unknown path %q", t.Path)
		}
		return value, nil
	case Comparison:
		left, err := evalNode(t.Left, ctx)
		if err != nil {
			return nil, err
		}
		right, err := evalNode(t.Right, ctx)
		if err != nil {
			return nil, err
		}
		return compareValues(t.Op, left, right)
	case Logical:
		switch t.Op {
		case "and":
			for _, child := range t.Children {
				v, err := evalNode(child, ctx)
				if err != nil {
					return nil, err
				}
				if !truthy(v) {
					return false, nil
				}
			}
			return true, nil
		case "or":
			for _, child := range t.Children {
				v, err := evalNode(child, ctx)
				if err != nil {
					return nil, err
				}
				if truthy(v) {
					return true, nil
				}
			}
			return false, nil
		case "not":
			v, err := evalNode(t.Children[0], ctx)
			if err != nil {
				return nil, err
			}
			return !truthy(v), nil
		}
		return nil, fmt.Errorf("unknown logical op %q", t.Op)
	case Membership:
		needle, err := evalNode(t.Needle, ctx)
		if err != nil {
			return nil, err
		}
		haystack, err := evalNode(t.Haystack, ctx)
		if err != nil {
			return nil, err
		}
		switch h := haystack.(type) {
		case string:
			s, ok := needle.(string)
			if !ok {
				return nil, fmt.Errorf("in: needle must be a string when haystack is a string")
			}
			return strings.Contains(h, s), nil
		case []interface{}:
			for _, item := range h {
				if looseEqual(needle, item) {
					return true, nil
				}
			}
			return false, nil
		default:
			return nil, fmt.Errorf("in: haystack must be a string or array, got %T", haystack)
		}
	case StringMatch:
		value, err := evalNode(t.Value, ctx)
		if err != nil {
			return nil, err
		}
		affix, err := evalNode(t.Affix, ctx)
		if err != nil {
			return nil, err
		}
		s, ok1 := asString(value)
		a, ok2 := asString(affix)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("%s: operands must be strings", t.Op)
		}
		if t.Op == "startsWith" {
			return strings.HasPrefix(s, a), nil
		}
		return strings.HasSuffix(s, a), nil
	}
	return nil, fmt.Errorf("unknown node %T", n)
}

func compareValues(op string, left, right interface{}) (bool, error) {
	switch op {
	case "==":
		return looseEqual(left, right), nil
	case "!=":
		return !looseEqual(left, right), nil
	}

	lf, lok := toFloat(left)
	rf, rok := toFloat(right)
	if lok && rok {
		return orderedResult(op, compareFloats(lf, rf)), nil
	}
	ls, lsok := left.(string)
	rs, rsok := right.(string)
	if lsok && rsok {
		return orderedResult(op, strings.Compare(ls, rs)), nil
	}
	return false, fmt.Errorf("%s: cannot order %T against %T", op, left, right)
}

func orderedResult(op string, cmp int) bool {
	switch op {
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	}
	return false
}

func compareFloats(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// looseEqual mirrors the coercing equality the stored trees were authored
// against: numeric strings compare as numbers, and an empty array matches
// nil, an empty array or an empty string (the isEmpty encoding).
func looseEqual(a, b interface{}) bool {
	if emptyList(a) || emptyList(b) {
		return emptyish(a) && emptyish(b)
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	if as, aok := a.(string); aok {
		if bs, bok := b.(string); bok {
			return as == bs
		}
	}
	if ab, aok := a.(bool); aok {
		if bb, bok := b.(bool); bok {
			return ab == bb
		}
	}
	return false
}

func emptyList(v interface{}) bool {
	l, ok := v.([]interface{})
	return ok && len(l) == 0
}

func emptyish(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []interface{}:
		return len(t) == 0
	}
	return false
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case []interface{}:
		return len(t) > 0
	case map[string]interface{}:
		return len(t) > 0
	}
	return true
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	}
	return 0, false
}

func asString(v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	}
	return "", false
}
