package transform

import (
	"math"
	"strconv"

	sitter "github.com/smacker/go-tree-sitter"
)

type valueKind int

const (
	kindUndefined valueKind = iota
	kindNull
	kindBool
	kindNumber
	kindString
)

// constant is a statically known JavaScript primitive
type constant struct {
	kind valueKind
	b    bool
	n    float64
	s    string
}

func (c constant) truthy() bool {
	switch c.kind {
	case kindBool:
		return c.b
	case kindNumber:
		return c.n != 0 && !math.IsNaN(c.n)
	case kindString:
		return c.s != ""
	default:
		return false
	}
}

func strictEqual(a, b constant) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case kindBool:
		return a.b == b.b
	case kindNumber:
		return a.n == b.n
	case kindString:
		return a.s == b.s
	default:
		return true
	}
}

func looseEqual(a, b constant) bool {
	nullish := func(c constant) bool { return c.kind == kindNull || c.kind == kindUndefined }
	if nullish(a) || nullish(b) {
		return nullish(a) && nullish(b)
	}
	if a.kind == b.kind {
		return strictEqual(a, b)
	}
	an, aok := toNumber(a)
	bn, bok := toNumber(b)
	return aok && bok && an == bn
}

func toNumber(c constant) (float64, bool) {
	switch c.kind {
	case kindNumber:
		return c.n, true
	case kindBool:
		if c.b {
			return 1, true
		}
		return 0, true
	case kindString:
		n, err := strconv.ParseFloat(c.s, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// evaluate folds node into a constant when it is built only from literals
// and the operators ! === !== == != && ||. The second result is false when
// the value is not statically known.
func (s *scanner) evaluate(node *sitter.Node) (constant, bool) {
	if node == nil {
		return constant{}, false
	}

	switch node.Type() {
	case "true":
		return constant{kind: kindBool, b: true}, true
	case "false":
		return constant{kind: kindBool, b: false}, true
	case "null":
		return constant{kind: kindNull}, true
	case "undefined":
		return constant{kind: kindUndefined}, true
	case "number":
		n, err := strconv.ParseFloat(s.text(node), 64)
		if err != nil {
			return constant{}, false
		}
		return constant{kind: kindNumber, n: n}, true
	case "string", "template_string":
		str, ok := s.stringValue(node)
		if !ok {
			return constant{}, false
		}
		return constant{kind: kindString, s: str}, true
	case "parenthesized_expression":
		if node.NamedChildCount() != 1 {
			return constant{}, false
		}
		return s.evaluate(node.NamedChild(0))
	case "unary_expression":
		op := node.ChildByFieldName("operator")
		if op == nil || s.text(op) != "!" {
			return constant{}, false
		}
		v, ok := s.evaluate(node.ChildByFieldName("argument"))
		if !ok {
			return constant{}, false
		}
		return constant{kind: kindBool, b: !v.truthy()}, true
	case "binary_expression":
		return s.evaluateBinary(node)
	}
	return constant{}, false
}

func (s *scanner) evaluateBinary(node *sitter.Node) (constant, bool) {
	op := node.ChildByFieldName("operator")
	if op == nil {
		return constant{}, false
	}
	left, lok := s.evaluate(node.ChildByFieldName("left"))

	switch s.text(op) {
	case "&&":
		if lok && !left.truthy() {
			return left, true
		}
		right, rok := s.evaluate(node.ChildByFieldName("right"))
		if lok && rok {
			return right, true
		}
		return constant{}, false
	case "||":
		if lok && left.truthy() {
			return left, true
		}
		right, rok := s.evaluate(node.ChildByFieldName("right"))
		if lok && rok {
			return right, true
		}
		return constant{}, false
	}

	right, rok := s.evaluate(node.ChildByFieldName("right"))
	if !lok || !rok {
		return constant{}, false
	}
	switch s.text(op) {
	case "===":
		return constant{kind: kindBool, b: strictEqual(left, right)}, true
	case "!==":
		return constant{kind: kindBool, b: !strictEqual(left, right)}, true
	case "==":
		return constant{kind: kindBool, b: looseEqual(left, right)}, true
	case "!=":
		return constant{kind: kindBool, b: !looseEqual(left, right)}, true
	}
	return constant{}, false
}
