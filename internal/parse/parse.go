// Package parse describes Python modules from their source using tree-sitter:
// the names each module binds, what every name is bound to, and the
// signatures, bases and documentation of its functions and classes.
package parse

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/apidrift/internal/lang"
	"github.com/phobologic/apidrift/internal/model"
)

// BindingKind says what a name is bound to.
type BindingKind int

const (
	BindFunction BindingKind = iota
	BindClass
	BindValue
	BindImport // import a.b / import a.b as c
	BindFrom   // from m import n / from m import n as c
	BindStar   // from m import *
)

func (k BindingKind) String() string {
	switch k {
	case BindFunction:
		return "function"
	case BindClass:
		return "class"
	case BindValue:
		return "value"
	case BindImport:
		return "import"
	case BindFrom:
		return "from"
	case BindStar:
		return "star"
	}
	return fmt.Sprintf("BindingKind(%d)", int(k))
}

// Binding is one name bound by a module or class body.
type Binding struct {
	Name       string
	Kind       BindingKind
	Line       int
	Docs       string
	Comments   string
	Source     string
	Annotation string

	Function *Function
	Class    *Class
	Value    *Value
	Import   *Import
}

// Import is the target of an import binding.
type Import struct {
	Module string // Dotted module path without leading dots
	Level  int    // Number of leading dots of a relative import
	Name   string // Imported attribute for BindFrom
}

// Function is a parsed function signature.
type Function struct {
	Params     []Param
	Returns    string
	Decorators []string
	Async      bool
}

// Param is one formal parameter.
type Param struct {
	Name       string
	Kind       model.ParameterKind
	HasDefault bool
	Default    *Value
	Annotation string
}

// Class is a parsed class body.
type Class struct {
	Bases       []string
	Body        []*Binding
	Slots       []string
	Annotations map[string]string
	Decorators  []string
}

// Module is a parsed module.
type Module struct {
	Name        string
	Path        string
	IsPackage   bool
	Docs        string
	Comments    string
	Source      string
	Bindings    []*Binding
	Annotations map[string]string
	All         []string
	HasAll      bool
}

// Lookup returns the last binding of name, if any.
func (m *Module) Lookup(name string) (*Binding, bool) {
	for i := len(m.Bindings) - 1; i >= 0; i-- {
		if m.Bindings[i].Name == name {
			return m.Bindings[i], true
		}
	}
	return nil, false
}

// Names returns each bound name once, in order of its final binding.
func (m *Module) Names() []string {
	return finalNames(m.Bindings)
}

// Lookup returns the last binding of name in the class body, if any.
func (c *Class) Lookup(name string) (*Binding, bool) {
	for i := len(c.Body) - 1; i >= 0; i-- {
		if c.Body[i].Name == name {
			return c.Body[i], true
		}
	}
	return nil, false
}

// Names returns each name bound in the class body once.
func (c *Class) Names() []string {
	return finalNames(c.Body)
}

func finalNames(bindings []*Binding) []string {
	last := make(map[string]int, len(bindings))
	for i, b := range bindings {
		last[b.Name] = i
	}
	var names []string
	for i, b := range bindings {
		if last[b.Name] == i && b.Kind != BindStar {
			names = append(names, b.Name)
		}
	}
	return names
}

// Parse parses one module's source. The parser must be a Python parser.
func Parse(ctx context.Context, parser *sitter.Parser, source []byte, name, path string, isPackage bool) (*Module, error) {
	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	m := &Module{
		Name:        name,
		Path:        path,
		IsPackage:   isPackage,
		Docs:        lang.Docstring(root, source),
		Comments:    headerComments(root, source),
		Source:      string(source),
		Annotations: make(map[string]string),
	}
	w := &walker{source: source, annotations: m.Annotations}
	m.Bindings = w.block(root)
	m.All, m.HasAll = w.all, w.hasAll
	return m, nil
}

type walker struct {
	source      []byte
	annotations map[string]string
	slots       []string
	all         []string
	hasAll      bool
}

func (w *walker) text(n *sitter.Node) string {
	return lang.NodeText(n, w.source)
}

// block collects the bindings of a statement sequence in source order.
func (w *walker) block(node *sitter.Node) []*Binding {
	var out []*Binding
	for _, stmt := range lang.NamedChildren(node) {
		out = append(out, w.statement(stmt)...)
	}
	return out
}

func (w *walker) statement(stmt *sitter.Node) []*Binding {
	switch stmt.Type() {
	case "function_definition", "class_definition":
		if b := w.definition(stmt, stmt, nil); b != nil {
			return []*Binding{b}
		}
	case "decorated_definition":
		def := stmt.ChildByFieldName("definition")
		if def == nil {
			return nil
		}
		if b := w.definition(def, stmt, lang.DecoratorNames(stmt, w.source)); b != nil {
			return []*Binding{b}
		}
	case "expression_statement":
		return w.expressionStatement(stmt)
	case "import_statement":
		return w.importStatement(stmt)
	case "import_from_statement":
		return w.importFrom(stmt)
	case "if_statement":
		return w.ifStatement(stmt)
	case "try_statement":
		return w.tryStatement(stmt)
	case "with_statement":
		return w.block(stmt.ChildByFieldName("body"))
	}
	return nil
}

// withFallback appends alternative-branch bindings only for names the
// primary branch left unbound.
func withFallback(primary []*Binding, alternatives ...[]*Binding) []*Binding {
	bound := make(map[string]struct{}, len(primary))
	for _, b := range primary {
		bound[b.Name] = struct{}{}
	}
	out := primary
	for _, alt := range alternatives {
		for _, b := range alt {
			if _, ok := bound[b.Name]; !ok {
				out = append(out, b)
			}
		}
	}
	return out
}

func (w *walker) ifStatement(stmt *sitter.Node) []*Binding {
	cond := strings.TrimSpace(w.text(stmt.ChildByFieldName("condition")))
	var alternatives [][]*Binding
	var elseBody []*Binding
	for i := 0; i < int(stmt.NamedChildCount()); i++ {
		child := stmt.NamedChild(i)
		switch child.Type() {
		case "elif_clause":
			alternatives = append(alternatives, w.block(child.ChildByFieldName("consequence")))
		case "else_clause":
			elseBody = w.block(child.ChildByFieldName("body"))
			alternatives = append(alternatives, elseBody)
		}
	}
	switch cond {
	case "TYPE_CHECKING", "typing.TYPE_CHECKING":
		// Only bound for type checkers.
		return elseBody
	case `__name__ == "__main__"`, `__name__ == '__main__'`:
		return nil
	}
	primary := w.block(stmt.ChildByFieldName("consequence"))
	return withFallback(primary, alternatives...)
}

func (w *walker) tryStatement(stmt *sitter.Node) []*Binding {
	primary := w.block(stmt.ChildByFieldName("body"))
	var handlers [][]*Binding
	for i := 0; i < int(stmt.NamedChildCount()); i++ {
		child := stmt.NamedChild(i)
		switch child.Type() {
		case "except_clause", "except_group_clause":
			handlers = append(handlers, w.block(lang.ChildOfType(child, "block")))
		case "else_clause":
			primary = append(primary, w.block(child.ChildByFieldName("body"))...)
		case "finally_clause":
			primary = append(primary, w.block(lang.ChildOfType(child, "block"))...)
		}
	}
	return withFallback(primary, handlers...)
}

func (w *walker) definition(def, outer *sitter.Node, decorators []string) *Binding {
	name := def.ChildByFieldName("name")
	if name == nil {
		return nil
	}
	b := &Binding{
		Name:     w.text(name),
		Line:     lang.Line(def),
		Docs:     lang.Docstring(def.ChildByFieldName("body"), w.source),
		Comments: lang.LeadingComments(outer, w.source),
		Source:   w.text(outer),
	}
	switch def.Type() {
	case "function_definition":
		b.Kind = BindFunction
		b.Function = w.function(def, decorators)
	case "class_definition":
		b.Kind = BindClass
		b.Class = w.class(def, decorators)
	default:
		return nil
	}
	return b
}

func (w *walker) function(def *sitter.Node, decorators []string) *Function {
	fn := &Function{
		Decorators: decorators,
		Async:      lang.HasChildOfType(def, "async"),
	}
	if ret := def.ChildByFieldName("return_type"); ret != nil {
		fn.Returns = lang.CollapseWhitespace(w.text(ret))
	}
	fn.Params = w.parameters(def.ChildByFieldName("parameters"))
	return fn
}

func (w *walker) parameters(node *sitter.Node) []Param {
	var params []Param
	keywordOnly := false
	for _, child := range lang.NamedChildren(node) {
		var p Param
		switch child.Type() {
		case "identifier":
			p.Name = w.text(child)
		case "typed_parameter":
			inner := child.NamedChild(0)
			p.Annotation = lang.CollapseWhitespace(w.text(child.ChildByFieldName("type")))
			switch inner.Type() {
			case "list_splat_pattern":
				p.Name, p.Kind = splatName(w, inner), model.VarPositional
			case "dictionary_splat_pattern":
				p.Name, p.Kind = splatName(w, inner), model.VarKeyword
			default:
				p.Name = w.text(inner)
			}
		case "default_parameter", "typed_default_parameter":
			p.Name = w.text(child.ChildByFieldName("name"))
			if typ := child.ChildByFieldName("type"); typ != nil {
				p.Annotation = lang.CollapseWhitespace(w.text(typ))
			}
			p.HasDefault = true
			if value := child.ChildByFieldName("value"); value != nil {
				p.Default = evalValue(value, w.source)
			}
		case "list_splat_pattern":
			p.Name, p.Kind = splatName(w, child), model.VarPositional
		case "dictionary_splat_pattern":
			p.Name, p.Kind = splatName(w, child), model.VarKeyword
		case "keyword_separator":
			keywordOnly = true
			continue
		case "positional_separator":
			for i := range params {
				if params[i].Kind == model.PositionalOrKeyword {
					params[i].Kind = model.PositionalOnly
				}
			}
			continue
		default:
			continue
		}
		switch {
		case p.Kind == model.VarPositional:
			keywordOnly = true
		case p.Kind == model.VarKeyword:
		case keywordOnly:
			p.Kind = model.KeywordOnly
		default:
			p.Kind = model.PositionalOrKeyword
		}
		params = append(params, p)
	}
	return params
}

func splatName(w *walker, node *sitter.Node) string {
	if node.NamedChildCount() > 0 {
		return w.text(node.NamedChild(0))
	}
	return strings.TrimLeft(w.text(node), "*")
}

func (w *walker) class(def *sitter.Node, decorators []string) *Class {
	cls := &Class{
		Decorators:  decorators,
		Annotations: make(map[string]string),
	}
	for _, arg := range lang.NamedChildren(def.ChildByFieldName("superclasses")) {
		switch arg.Type() {
		case "keyword_argument", "list_splat", "dictionary_splat", "comment":
			continue
		case "subscript":
			arg = arg.ChildByFieldName("value")
		}
		base := lang.DottedName(arg, w.source)
		if base == "" {
			base = lang.CollapseWhitespace(w.text(arg))
		}
		cls.Bases = append(cls.Bases, base)
	}

	inner := &walker{source: w.source, annotations: cls.Annotations}
	cls.Body = inner.block(def.ChildByFieldName("body"))
	cls.Slots = inner.slots
	return cls
}

func (w *walker) expressionStatement(stmt *sitter.Node) []*Binding {
	if stmt.NamedChildCount() == 0 {
		return nil
	}
	expr := stmt.NamedChild(0)
	switch expr.Type() {
	case "assignment":
		return w.assignment(stmt, expr)
	case "augmented_assignment":
		left := expr.ChildByFieldName("left")
		if left != nil && w.text(left) == "__all__" {
			if names, ok := w.stringSequence(expr.ChildByFieldName("right")); ok {
				w.all = append(w.all, names...)
				w.hasAll = true
			}
		}
	}
	return nil
}

func (w *walker) assignment(stmt, expr *sitter.Node) []*Binding {
	// a = b = value nests assignments on the right.
	targets := []*sitter.Node{expr.ChildByFieldName("left")}
	annotation := ""
	if typ := expr.ChildByFieldName("type"); typ != nil {
		annotation = lang.CollapseWhitespace(w.text(typ))
	}
	right := expr.ChildByFieldName("right")
	for right != nil && right.Type() == "assignment" {
		targets = append(targets, right.ChildByFieldName("left"))
		right = right.ChildByFieldName("right")
	}

	var value *Value
	if right != nil {
		value = evalValue(right, w.source)
	}

	var out []*Binding
	for _, target := range targets {
		if target == nil {
			continue
		}
		var names []string
		single := false
		switch target.Type() {
		case "identifier":
			names, single = []string{w.text(target)}, true
		case "pattern_list", "tuple_pattern", "list_pattern":
			for _, elem := range lang.NamedChildren(target) {
				if elem.Type() == "identifier" {
					names = append(names, w.text(elem))
				}
			}
		}
		for _, name := range names {
			if single && annotation != "" {
				w.annotations[name] = annotation
			}
			if right == nil {
				continue // bare annotation, nothing bound
			}
			switch name {
			case "__all__":
				if all, ok := w.stringSequence(right); ok {
					w.all, w.hasAll = all, true
				}
			case "__slots__":
				if slots, ok := w.stringSequence(right); ok {
					w.slots = slots
				}
			}
			b := &Binding{
				Name:       name,
				Kind:       BindValue,
				Line:       lang.Line(stmt),
				Comments:   lang.LeadingComments(stmt, w.source),
				Source:     w.text(stmt),
				Docs:       attributeDoc(stmt, w.source),
				Annotation: annotation,
				Value:      &Value{Text: value.Text},
			}
			if single {
				b.Value = value
			} else {
				b.Annotation = ""
			}
			out = append(out, b)
		}
	}
	return out
}

// attributeDoc returns a string literal statement directly following an
// assignment, the conventional attribute docstring.
func attributeDoc(stmt *sitter.Node, source []byte) string {
	next := stmt.NextNamedSibling()
	if next == nil || next.Type() != "expression_statement" || next.NamedChildCount() != 1 {
		return ""
	}
	lit, ok := lang.DecodeString(next.NamedChild(0), source)
	if !ok || lit.Bytes {
		return ""
	}
	return lang.CleanDoc(lit.Value)
}

// stringSequence decodes a list, tuple or single string of string literals.
func (w *walker) stringSequence(node *sitter.Node) ([]string, bool) {
	if node == nil {
		return nil, false
	}
	switch node.Type() {
	case "string", "concatenated_string":
		lit, ok := lang.DecodeString(node, w.source)
		if !ok {
			return nil, false
		}
		return []string{lit.Value}, true
	case "list", "tuple", "set", "parenthesized_expression":
		var out []string
		for _, elem := range lang.NamedChildren(node) {
			if elem.Type() == "comment" {
				continue
			}
			lit, ok := lang.DecodeString(elem, w.source)
			if !ok {
				return nil, false
			}
			out = append(out, lit.Value)
		}
		return out, true
	}
	return nil, false
}

func (w *walker) importStatement(stmt *sitter.Node) []*Binding {
	var out []*Binding
	for _, child := range lang.NamedChildren(stmt) {
		b := &Binding{
			Kind:     BindImport,
			Line:     lang.Line(stmt),
			Comments: lang.LeadingComments(stmt, w.source),
			Source:   w.text(stmt),
		}
		switch child.Type() {
		case "dotted_name":
			// import a.b binds a
			dotted := lang.DottedName(child, w.source)
			top, _, _ := strings.Cut(dotted, ".")
			b.Name = top
			b.Import = &Import{Module: top}
		case "aliased_import":
			b.Name = w.text(child.ChildByFieldName("alias"))
			b.Import = &Import{Module: lang.DottedName(child.ChildByFieldName("name"), w.source)}
		default:
			continue
		}
		out = append(out, b)
	}
	return out
}

func (w *walker) importFrom(stmt *sitter.Node) []*Binding {
	base := Import{}
	if module := stmt.ChildByFieldName("module_name"); module != nil {
		switch module.Type() {
		case "relative_import":
			if prefix := lang.ChildOfType(module, "import_prefix"); prefix != nil {
				base.Level = strings.Count(w.text(prefix), ".")
			}
			base.Module = lang.DottedName(lang.ChildOfType(module, "dotted_name"), w.source)
		default:
			base.Module = lang.DottedName(module, w.source)
		}
	}

	newBinding := func(name, attr string) *Binding {
		imp := base
		imp.Name = attr
		return &Binding{
			Name:     name,
			Kind:     BindFrom,
			Line:     lang.Line(stmt),
			Comments: lang.LeadingComments(stmt, w.source),
			Source:   w.text(stmt),
			Import:   &imp,
		}
	}

	var out []*Binding
	seenImport := false
	for i := 0; i < int(stmt.ChildCount()); i++ {
		child := stmt.Child(i)
		switch child.Type() {
		case "import":
			seenImport = true
		case "wildcard_import":
			b := newBinding("*", "*")
			b.Kind = BindStar
			out = append(out, b)
		case "dotted_name":
			if seenImport {
				name := lang.DottedName(child, w.source)
				out = append(out, newBinding(name, name))
			}
		case "aliased_import":
			if seenImport {
				attr := lang.DottedName(child.ChildByFieldName("name"), w.source)
				out = append(out, newBinding(w.text(child.ChildByFieldName("alias")), attr))
			}
		}
	}
	return out
}

// headerComments returns the comment block at the top of a module.
func headerComments(root *sitter.Node, source []byte) string {
	var lines []string
	for _, child := range lang.NamedChildren(root) {
		if child.Type() != "comment" {
			break
		}
		lines = append(lines, lang.NodeText(child, source))
	}
	return strings.Join(lines, "\n")
}
