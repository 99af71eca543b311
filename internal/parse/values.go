package parse

import (
	"math"
	"math/big"
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/apidrift/internal/lang"
	"github.com/phobologic/apidrift/internal/model"
)

// Value describes the right-hand side of a binding or a parameter default.
type Value struct {
	Type    string // Runtime type name when statically known
	Literal string // Canonical literal text; set only when Tagged
	Tagged  bool   // The value is a bool, int, float, str or None constant
	Ref     string // Dotted name when the value is a plain name reference
	Call    string // Callee dotted name when the value is a call
	Text    string // Raw source text
}

// TaggedDefault returns the type-tagged form of a constant, or nil when the
// value cannot be represented.
func (v *Value) TaggedDefault() *string {
	if v == nil || !v.Tagged {
		return nil
	}
	if v.Type == "NoneType" {
		return model.Tagged(model.NoneDefault)
	}
	return model.Tagged(model.TagDefault(v.Type, v.Literal))
}

var containerTypes = map[string]string{
	"list":                     "list",
	"list_comprehension":       "list",
	"dictionary":               "dict",
	"dictionary_comprehension": "dict",
	"tuple":                    "tuple",
	"set":                      "set",
	"set_comprehension":        "set",
	"generator_expression":     "generator",
	"lambda":                   "function",
}

// evalValue classifies an expression node.
func evalValue(node *sitter.Node, source []byte) *Value {
	v := &Value{Text: lang.NodeText(node, source)}
	switch typ := node.Type(); typ {
	case "true":
		v.Type, v.Literal, v.Tagged = "bool", "True", true
	case "false":
		v.Type, v.Literal, v.Tagged = "bool", "False", true
	case "none":
		v.Type, v.Literal, v.Tagged = "NoneType", "None", true
	case "integer", "float":
		v.Type, v.Literal, v.Tagged = number(v.Text, false)
	case "unary_operator":
		op := node.ChildByFieldName("operator")
		arg := node.ChildByFieldName("argument")
		if op != nil && arg != nil && (arg.Type() == "integer" || arg.Type() == "float") {
			switch lang.NodeText(op, source) {
			case "-":
				v.Type, v.Literal, v.Tagged = number(lang.NodeText(arg, source), true)
			case "+":
				v.Type, v.Literal, v.Tagged = number(lang.NodeText(arg, source), false)
			}
		}
	case "string", "concatenated_string":
		lit, ok := lang.DecodeString(node, source)
		switch {
		case !ok:
			v.Type = "str" // f-string
		case lit.Bytes:
			v.Type = "bytes"
		default:
			v.Type, v.Literal, v.Tagged = "str", lit.Value, true
		}
	case "identifier", "attribute":
		v.Ref = lang.DottedName(node, source)
	case "call":
		v.Call = lang.DottedName(node.ChildByFieldName("function"), source)
	case "parenthesized_expression":
		if node.NamedChildCount() == 1 {
			inner := evalValue(node.NamedChild(0), source)
			inner.Text = v.Text
			return inner
		}
	default:
		v.Type = containerTypes[typ]
	}
	return v
}

// number normalizes a Python numeric literal. Complex literals are not
// tagged.
func number(text string, negate bool) (typ, literal string, ok bool) {
	clean := strings.ReplaceAll(strings.ToLower(text), "_", "")
	if strings.HasSuffix(clean, "j") {
		return "complex", "", false
	}
	isFloat := !strings.HasPrefix(clean, "0x") && strings.ContainsAny(clean, ".e")
	if !isFloat {
		n, good := new(big.Int).SetString(clean, 0)
		if !good {
			// Python 2 style octal or other oddities.
			return "int", "", false
		}
		if negate {
			n.Neg(n)
		}
		return "int", n.String(), true
	}
	f, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return "float", "", false
	}
	if negate {
		f = -f
	}
	return "float", pythonFloat(f), true
}

// pythonFloat formats f the way Python's repr does.
func pythonFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	}
	sci := strconv.FormatFloat(f, 'e', -1, 64)
	exp, _ := strconv.Atoi(sci[strings.IndexByte(sci, 'e')+1:])
	if exp < -4 || exp >= 16 {
		return sci
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".") {
		s += ".0"
	}
	return s
}
