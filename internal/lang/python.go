package lang

import (
	"strconv"
	"strings"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

func init() {
	Languages["python"] = &Language{
		Name:       "python",
		Extensions: []string{".py"},
		lang:       python.GetLanguage(),
	}
}

// Python returns the registered Python language.
func Python() *Language {
	return Languages["python"]
}

// StringLiteral is a decoded Python string or bytes literal.
type StringLiteral struct {
	Value string
	Bytes bool
}

// DecodeString decodes a string or concatenated_string node. It reports
// false for f-strings, which have no static value.
func DecodeString(node *sitter.Node, source []byte) (StringLiteral, bool) {
	switch node.Type() {
	case "string":
		return decodeStringText(NodeText(node, source))
	case "concatenated_string":
		var out StringLiteral
		var b strings.Builder
		for _, part := range NamedChildren(node) {
			if part.Type() != "string" {
				continue
			}
			lit, ok := decodeStringText(NodeText(part, source))
			if !ok {
				return StringLiteral{}, false
			}
			out.Bytes = out.Bytes || lit.Bytes
			b.WriteString(lit.Value)
		}
		out.Value = b.String()
		return out, true
	}
	return StringLiteral{}, false
}

func decodeStringText(text string) (StringLiteral, bool) {
	i := 0
	for i < len(text) && text[i] != '\'' && text[i] != '"' {
		i++
	}
	if i == len(text) {
		return StringLiteral{}, false
	}
	prefix := strings.ToLower(text[:i])
	if strings.Contains(prefix, "f") {
		return StringLiteral{}, false
	}
	body := text[i:]
	q := 1
	if len(body) >= 6 && (strings.HasPrefix(body, `"""`) || strings.HasPrefix(body, `'''`)) {
		q = 3
	}
	if len(body) < 2*q {
		return StringLiteral{}, false
	}
	content := body[q : len(body)-q]
	lit := StringLiteral{Bytes: strings.Contains(prefix, "b")}
	if strings.Contains(prefix, "r") {
		lit.Value = content
	} else {
		lit.Value = unescapePython(content, lit.Bytes)
	}
	return lit, true
}

func unescapePython(s string, isBytes bool) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 == len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		switch e := s[i]; e {
		case '\n':
		case '\\', '\'', '"':
			b.WriteByte(e)
		case 'a':
			b.WriteByte('\a')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case 'v':
			b.WriteByte('\v')
		case '0', '1', '2', '3', '4', '5', '6', '7':
			j := i
			for j < len(s) && j < i+3 && s[j] >= '0' && s[j] <= '7' {
				j++
			}
			v, _ := strconv.ParseUint(s[i:j], 8, 32)
			writeCode(&b, rune(v), isBytes)
			i = j - 1
		case 'x':
			if v, ok := hexAt(s, i+1, 2); ok {
				writeCode(&b, rune(v), isBytes)
				i += 2
			} else {
				b.WriteString(`\x`)
			}
		case 'u', 'U':
			n := 4
			if e == 'U' {
				n = 8
			}
			if v, ok := hexAt(s, i+1, n); ok && !isBytes {
				b.WriteRune(rune(v))
				i += n
			} else {
				b.WriteByte('\\')
				b.WriteByte(e)
			}
		default:
			b.WriteByte('\\')
			b.WriteByte(e)
		}
	}
	return b.String()
}

func hexAt(s string, start, n int) (uint64, bool) {
	if start+n > len(s) {
		return 0, false
	}
	v, err := strconv.ParseUint(s[start:start+n], 16, 32)
	return v, err == nil
}

func writeCode(b *strings.Builder, r rune, isBytes bool) {
	if isBytes || r < utf8.RuneSelf {
		b.WriteByte(byte(r))
		return
	}
	b.WriteRune(r)
}

// Docstring returns the cleaned docstring of a block: the value of a string
// expression in its first statement.
func Docstring(block *sitter.Node, source []byte) string {
	if block == nil {
		return ""
	}
	for _, stmt := range NamedChildren(block) {
		if stmt.Type() == "comment" {
			continue
		}
		if stmt.Type() != "expression_statement" || stmt.NamedChildCount() != 1 {
			return ""
		}
		lit, ok := DecodeString(stmt.NamedChild(0), source)
		if !ok || lit.Bytes {
			return ""
		}
		return CleanDoc(lit.Value)
	}
	return ""
}

// CleanDoc strips the uniform indentation of the second and later lines of a
// docstring along with leading and trailing blank lines.
func CleanDoc(doc string) string {
	lines := strings.Split(strings.ReplaceAll(doc, "\t", "        "), "\n")
	margin := -1
	for _, line := range lines[1:] {
		trimmed := strings.TrimLeft(line, " ")
		if trimmed == "" {
			continue
		}
		if indent := len(line) - len(trimmed); margin < 0 || indent < margin {
			margin = indent
		}
	}
	lines[0] = strings.TrimLeft(lines[0], " ")
	if margin > 0 {
		for i := 1; i < len(lines); i++ {
			if len(lines[i]) >= margin {
				lines[i] = lines[i][margin:]
			} else {
				lines[i] = strings.TrimLeft(lines[i], " ")
			}
		}
	}
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

// LeadingComments returns the block of comment lines directly above node,
// one comment per line, in source order.
func LeadingComments(node *sitter.Node, source []byte) string {
	var comments []string
	next := node
	for prev := node.PrevSibling(); prev != nil && prev.Type() == "comment"; prev = prev.PrevSibling() {
		if prev.EndPoint().Row+1 < next.StartPoint().Row {
			break
		}
		comments = append(comments, NodeText(prev, source))
		next = prev
	}
	for i, j := 0, len(comments)-1; i < j; i, j = i+1, j-1 {
		comments[i], comments[j] = comments[j], comments[i]
	}
	return strings.Join(comments, "\n")
}

// DecoratorNames returns the decorator expressions of a decorated_definition
// with the "@" and any call arguments removed ("property", "functools.wraps").
func DecoratorNames(decorated *sitter.Node, source []byte) []string {
	if decorated == nil || decorated.Type() != "decorated_definition" {
		return nil
	}
	var names []string
	for _, child := range NamedChildren(decorated) {
		if child.Type() != "decorator" || child.NamedChildCount() == 0 {
			continue
		}
		expr := child.NamedChild(0)
		if expr.Type() == "call" {
			expr = expr.ChildByFieldName("function")
		}
		names = append(names, CollapseWhitespace(NodeText(expr, source)))
	}
	return names
}

// DottedName returns the dotted form of an identifier or attribute chain
// ("a.b.c"), or "" if node is any other expression.
func DottedName(node *sitter.Node, source []byte) string {
	if node == nil {
		return ""
	}
	switch node.Type() {
	case "identifier":
		return NodeText(node, source)
	case "dotted_name":
		return strings.ReplaceAll(CollapseWhitespace(NodeText(node, source)), " ", "")
	case "attribute":
		object := DottedName(node.ChildByFieldName("object"), source)
		attr := node.ChildByFieldName("attribute")
		if object == "" || attr == nil {
			return ""
		}
		return object + "." + NodeText(attr, source)
	}
	return ""
}
