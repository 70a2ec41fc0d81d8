// Package filter compiles a design-document filter definition into a Go
// closure, rather than embedding a scripting engine. This is the resolved
// policy for spec.md §9's filter-sandbox open question: a small predicate
// DSL over `doc`, `doc._deleted`, and request query params, with no loops,
// no host function calls, and no network/file access available to it —
// a deliberate narrowing of CouchDB's arbitrary-JS filter functions.
//
// Grounded on server/storage's preference for small typed structs over
// general-purpose evaluators, and on cozy-stack/couchdb's mango-selector
// style of a compact operator set (eq/ne/gt/gte/lt/lte/exists/and/or/not)
// rather than a full query language.
package filter

import (
	"fmt"
	"strconv"
	"strings"
)

// Predicate is a compiled filter: it reports whether doc, together with
// the change feed's query params, passes.
type Predicate func(doc map[string]interface{}, query map[string]string) bool

// Compile parses expr — a small s-expression-like predicate language, e.g.
//
//	(eq doc.type "invoice")
//	(and (eq doc.type "invoice") (not (exists doc._deleted)))
//	(eq doc.owner $owner)
//
// — into a Predicate. `$name` refers to the query param `name`. Compile
// never evaluates expr; it only walks and validates it once, so the
// returned Predicate is safe to call with untrusted doc bodies repeatedly.
func Compile(expr string) (Predicate, error) {
	toks, err := tokenize(expr)
	if err != nil {
		return nil, err
	}
	node, rest, err := parse(toks)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("filter: unexpected trailing input %q", rest)
	}
	pred, err := compileNode(node)
	if err != nil {
		return nil, err
	}
	return pred, nil
}

// node is one parsed s-expression: either an atom (literal/field/param) or
// a call (operator + argument nodes).
type node struct {
	atom string
	op   string
	args []node
}

func tokenize(expr string) ([]string, error) {
	var toks []string
	i := 0
	for i < len(expr) {
		c := expr[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n':
			i++
		case c == '(' || c == ')':
			toks = append(toks, string(c))
			i++
		case c == '"':
			j := i + 1
			for j < len(expr) && expr[j] != '"' {
				j++
			}
			if j >= len(expr) {
				return nil, fmt.Errorf("filter: unterminated string literal")
			}
			toks = append(toks, expr[i:j+1])
			i = j + 1
		default:
			j := i
			for j < len(expr) && !strings.ContainsRune(" \t\n()", rune(expr[j])) {
				j++
			}
			toks = append(toks, expr[i:j])
			i = j
		}
	}
	return toks, nil
}

func parse(toks []string) (node, []string, error) {
	if len(toks) == 0 {
		return node{}, nil, fmt.Errorf("filter: unexpected end of input")
	}
	head, rest := toks[0], toks[1:]
	if head != "(" {
		return node{atom: head}, rest, nil
	}
	if len(rest) == 0 {
		return node{}, nil, fmt.Errorf("filter: unterminated expression")
	}
	op, rest := rest[0], rest[1:]
	n := node{op: op}
	for {
		if len(rest) == 0 {
			return node{}, nil, fmt.Errorf("filter: unterminated expression")
		}
		if rest[0] == ")" {
			return n, rest[1:], nil
		}
		var arg node
		var err error
		arg, rest, err = parse(rest)
		if err != nil {
			return node{}, nil, err
		}
		n.args = append(n.args, arg)
	}
}

func compileNode(n node) (Predicate, error) {
	if n.op == "" {
		return nil, fmt.Errorf("filter: %q is not a boolean expression", n.atom)
	}
	switch n.op {
	case "and":
		preds, err := compileAll(n.args)
		if err != nil {
			return nil, err
		}
		return func(doc map[string]interface{}, q map[string]string) bool {
			for _, p := range preds {
				if !p(doc, q) {
					return false
				}
			}
			return true
		}, nil
	case "or":
		preds, err := compileAll(n.args)
		if err != nil {
			return nil, err
		}
		return func(doc map[string]interface{}, q map[string]string) bool {
			for _, p := range preds {
				if p(doc, q) {
					return true
				}
			}
			return false
		}, nil
	case "not":
		if len(n.args) != 1 {
			return nil, fmt.Errorf("filter: not takes exactly one argument")
		}
		p, err := compileNode(n.args[0])
		if err != nil {
			return nil, err
		}
		return func(doc map[string]interface{}, q map[string]string) bool { return !p(doc, q) }, nil
	case "exists":
		if len(n.args) != 1 {
			return nil, fmt.Errorf("filter: exists takes exactly one argument")
		}
		path := n.args[0].atom
		if !strings.HasPrefix(path, "doc.") {
			return nil, fmt.Errorf("filter: exists requires a doc.field argument")
		}
		field := strings.TrimPrefix(path, "doc.")
		return func(doc map[string]interface{}, q map[string]string) bool {
			_, ok := doc[field]
			return ok
		}, nil
	case "eq", "ne", "gt", "gte", "lt", "lte":
		if len(n.args) != 2 {
			return nil, fmt.Errorf("filter: %s takes exactly two arguments", n.op)
		}
		lhs, err := compileValue(n.args[0])
		if err != nil {
			return nil, err
		}
		rhs, err := compileValue(n.args[1])
		if err != nil {
			return nil, err
		}
		op := n.op
		return func(doc map[string]interface{}, q map[string]string) bool {
			return compare(op, lhs(doc, q), rhs(doc, q))
		}, nil
	default:
		return nil, fmt.Errorf("filter: unknown operator %q", n.op)
	}
}

func compileAll(nodes []node) ([]Predicate, error) {
	preds := make([]Predicate, len(nodes))
	for i, a := range nodes {
		p, err := compileNode(a)
		if err != nil {
			return nil, err
		}
		preds[i] = p
	}
	return preds, nil
}

// value is a compiled leaf expression: a field reference, a query param
// reference, or a literal.
type value func(doc map[string]interface{}, q map[string]string) interface{}

func compileValue(n node) (value, error) {
	if n.op != "" {
		return nil, fmt.Errorf("filter: nested expression not valid here")
	}
	atom := n.atom
	switch {
	case strings.HasPrefix(atom, "doc."):
		field := strings.TrimPrefix(atom, "doc.")
		return func(doc map[string]interface{}, _ map[string]string) interface{} { return doc[field] }, nil
	case strings.HasPrefix(atom, "$"):
		name := strings.TrimPrefix(atom, "$")
		return func(_ map[string]interface{}, q map[string]string) interface{} { return q[name] }, nil
	case strings.HasPrefix(atom, `"`) && strings.HasSuffix(atom, `"`) && len(atom) >= 2:
		lit := atom[1 : len(atom)-1]
		return func(_ map[string]interface{}, _ map[string]string) interface{} { return lit }, nil
	case atom == "true" || atom == "false":
		lit := atom == "true"
		return func(_ map[string]interface{}, _ map[string]string) interface{} { return lit }, nil
	default:
		if f, err := strconv.ParseFloat(atom, 64); err == nil {
			return func(_ map[string]interface{}, _ map[string]string) interface{} { return f }, nil
		}
		return nil, fmt.Errorf("filter: unrecognized literal %q", atom)
	}
}

func compare(op string, a, b interface{}) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch op {
		case "eq":
			return af == bf
		case "ne":
			return af != bf
		case "gt":
			return af > bf
		case "gte":
			return af >= bf
		case "lt":
			return af < bf
		case "lte":
			return af <= bf
		}
	}
	as, bs := fmt.Sprint(a), fmt.Sprint(b)
	switch op {
	case "eq":
		return as == bs
	case "ne":
		return as != bs
	case "gt":
		return as > bs
	case "gte":
		return as >= bs
	case "lt":
		return as < bs
	case "lte":
		return as <= bs
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
