package extract

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/phobologic/apidrift/internal/model"
	"github.com/phobologic/apidrift/internal/parse"
)

// propertyDecorators turn a method into a data descriptor.
var propertyDecorators = map[string]struct{}{
	"property":                    {},
	"functools.cached_property":   {},
	"cached_property":             {},
	"abc.abstractproperty":        {},
	"abstractproperty":            {},
	"builtins.property":           {},
	"types.DynamicClassAttribute": {},
}

// Source is an Oracle over parsed module sources. Names are resolved the
// way the import system would bind them, without executing anything.
type Source struct {
	modules  map[string]*parse.Module
	children map[string][]string
	names    []string
}

// NewSource indexes parsed modules.
func NewSource(mods []*parse.Module) *Source {
	s := &Source{
		modules:  make(map[string]*parse.Module, len(mods)),
		children: make(map[string][]string),
	}
	for _, m := range mods {
		s.modules[m.Name] = m
		s.names = append(s.names, m.Name)
	}
	sort.Strings(s.names)
	for _, name := range s.names {
		if i := strings.LastIndexByte(name, '.'); i >= 0 {
			parent := name[:i]
			s.children[parent] = append(s.children[parent], name[i+1:])
		}
	}
	return s
}

// Modules lists the known modules, sorted.
func (s *Source) Modules() []string { return s.names }

// Import returns the module object for name.
func (s *Source) Import(name string) (Object, bool) {
	if _, ok := s.modules[name]; !ok {
		return Object{}, false
	}
	return Object{Kind: ObjectModule, Module: name}, true
}

// Describe reports what the source says about obj.
func (s *Source) Describe(obj Object) (*Description, error) {
	m, ok := s.modules[obj.Module]
	if !ok {
		return nil, fmt.Errorf("unknown module %s", obj.Module)
	}
	switch obj.Kind {
	case ObjectModule:
		return s.describeModule(m), nil
	case ObjectClass:
		return s.describeClass(m, obj)
	case ObjectFunction:
		return s.describeFunction(m, obj)
	case ObjectAttribute:
		return s.describeAttribute(m, obj)
	}
	return nil, fmt.Errorf("cannot describe %s object %s", obj.Kind, obj.ID())
}

// resolver carries a cycle guard through one chain of name lookups.
type resolver struct {
	src   *Source
	guard map[string]bool
}

func (s *Source) resolver() *resolver {
	return &resolver{src: s, guard: make(map[string]bool)}
}

func (s *Source) describeModule(m *parse.Module) *Description {
	desc := &Description{
		Location:    model.Location{Module: m.Name, File: m.Path, Line: 1},
		Docs:        m.Docs,
		Comments:    m.Comments,
		Source:      m.Source,
		Annotations: m.Annotations,
	}
	bound := make(map[string]bool)
	for _, name := range m.Names() {
		b, _ := m.Lookup(name)
		bound[name] = true
		obj, ok := s.resolver().binding(m, b, nil, "")
		if !ok {
			desc.Warnings = append(desc.Warnings, fmt.Sprintf("unresolved name %s.%s", m.Name, name))
			continue
		}
		desc.Members = append(desc.Members, Member{Name: name, Object: obj})
	}
	for _, b := range m.Bindings {
		if b.Kind != parse.BindStar {
			continue
		}
		target := absoluteModule(m, b.Import)
		src, ok := s.modules[target]
		if !ok {
			continue // names of external star imports are unknown
		}
		for _, name := range s.resolver().exported(src) {
			if bound[name] {
				continue
			}
			obj, ok := s.resolver().name(src, name)
			if !ok {
				continue
			}
			bound[name] = true
			desc.Members = append(desc.Members, Member{Name: name, Object: obj})
		}
	}
	if m.IsPackage {
		for _, child := range s.children[m.Name] {
			if !bound[child] {
				desc.Members = append(desc.Members, Member{
					Name:   child,
					Object: Object{Kind: ObjectModule, Module: m.Name + "." + child},
				})
			}
		}
	}
	return desc
}

// lookupPath finds the binding at a dotted path inside a module and the
// class that owns it (nil at module level).
func lookupPath(m *parse.Module, qual string) (*parse.Binding, *parse.Class, error) {
	parts := strings.Split(qual, ".")
	var owner *parse.Class
	var b *parse.Binding
	for i, part := range parts {
		var ok bool
		if owner == nil {
			b, ok = m.Lookup(part)
		} else {
			b, ok = owner.Lookup(part)
		}
		if !ok {
			if owner != nil && i == len(parts)-1 && slices.Contains(owner.Slots, part) {
				return nil, owner, nil
			}
			return nil, nil, fmt.Errorf("%s.%s: not bound", m.Name, qual)
		}
		if i < len(parts)-1 {
			if b.Kind != parse.BindClass {
				return nil, nil, fmt.Errorf("%s.%s: %s is not a class", m.Name, qual, part)
			}
			owner = b.Class
		}
	}
	return b, owner, nil
}

func location(m *parse.Module, b *parse.Binding) model.Location {
	loc := model.Location{Module: m.Name, File: m.Path}
	if b != nil {
		loc.Line = b.Line
	}
	return loc
}

func describeBinding(m *parse.Module, b *parse.Binding) *Description {
	return &Description{
		Location: location(m, b),
		Docs:     b.Docs,
		Comments: b.Comments,
		Source:   b.Source,
	}
}

func (s *Source) describeClass(m *parse.Module, obj Object) (*Description, error) {
	desc, err := s.declaredClass(m, obj)
	if err != nil {
		return nil, err
	}

	// Members reached through in-package ancestors are reported with their
	// provenance so the engine can leave them to the declaring class.
	declared := make(map[string]bool, len(desc.Members))
	for _, member := range desc.Members {
		declared[member.Name] = true
	}
	visited := map[string]bool{obj.ID(): true}
	var inherit func(bases []Object)
	inherit = func(bases []Object) {
		for _, base := range bases {
			if base.Kind != ObjectClass || visited[base.ID()] {
				continue
			}
			visited[base.ID()] = true
			bm, ok := s.modules[base.Module]
			if !ok {
				continue
			}
			baseDesc, err := s.declaredClass(bm, base)
			if err != nil {
				continue
			}
			for _, member := range baseDesc.Members {
				if declared[member.Name] {
					continue
				}
				declared[member.Name] = true
				desc.Members = append(desc.Members, Member{
					Name:          member.Name,
					Object:        member.Object,
					InheritedFrom: base.ID(),
				})
			}
			inherit(baseDesc.Bases)
		}
	}
	inherit(desc.Bases)
	return desc, nil
}

// declaredClass describes a class from its own body only.
func (s *Source) declaredClass(m *parse.Module, obj Object) (*Description, error) {
	b, _, err := lookupPath(m, obj.QualName)
	if err != nil {
		return nil, err
	}
	if b == nil || b.Kind != parse.BindClass {
		return nil, fmt.Errorf("%s is not a class", obj.ID())
	}
	cls := b.Class
	desc := describeBinding(m, b)
	desc.Annotations = cls.Annotations

	for _, expr := range cls.Bases {
		desc.Bases = append(desc.Bases, s.resolver().base(m, expr))
	}

	declared := make(map[string]bool)
	for _, name := range cls.Names() {
		mb, _ := cls.Lookup(name)
		declared[name] = true
		member, ok := s.resolver().binding(m, mb, cls, obj.QualName)
		if !ok {
			desc.Warnings = append(desc.Warnings, fmt.Sprintf("unresolved name %s.%s", obj.ID(), name))
			continue
		}
		desc.Members = append(desc.Members, Member{Name: name, Object: member})
	}
	for _, slot := range cls.Slots {
		if declared[slot] {
			continue
		}
		declared[slot] = true
		desc.Members = append(desc.Members, Member{
			Name:   slot,
			Object: Object{Kind: ObjectAttribute, Module: obj.Module, QualName: obj.QualName + "." + slot},
		})
	}
	return desc, nil
}

func (s *Source) describeFunction(m *parse.Module, obj Object) (*Description, error) {
	b, owner, err := lookupPath(m, obj.QualName)
	if err != nil {
		return nil, err
	}
	if b == nil || b.Kind != parse.BindFunction {
		return nil, fmt.Errorf("%s is not a function", obj.ID())
	}
	fn := b.Function
	desc := describeBinding(m, b)
	desc.Scope = model.ScopeStatic
	if owner != nil {
		desc.Scope = methodScope(fn.Decorators)
	}
	sig := &Signature{Returns: fn.Returns, Async: fn.Async, Parameters: []model.Parameter{}}
	for _, p := range fn.Params {
		sig.Parameters = append(sig.Parameters, model.Parameter{
			Name:       p.Name,
			Kind:       p.Kind,
			Optional:   p.HasDefault,
			Default:    p.Default.TaggedDefault(),
			Annotation: p.Annotation,
		})
	}
	desc.Signature = sig
	return desc, nil
}

func methodScope(decorators []string) model.Scope {
	for _, d := range decorators {
		switch d {
		case "staticmethod", "builtins.staticmethod":
			return model.ScopeStatic
		case "classmethod", "builtins.classmethod":
			return model.ScopeClass
		}
	}
	return model.ScopeInstance
}

func isProperty(b *parse.Binding) bool {
	if b.Kind != parse.BindFunction {
		return false
	}
	for _, d := range b.Function.Decorators {
		if _, ok := propertyDecorators[d]; ok {
			return true
		}
		if strings.HasSuffix(d, ".setter") || strings.HasSuffix(d, ".getter") || strings.HasSuffix(d, ".deleter") {
			return true
		}
	}
	return false
}

func (s *Source) describeAttribute(m *parse.Module, obj Object) (*Description, error) {
	b, owner, err := lookupPath(m, obj.QualName)
	if err != nil {
		return nil, err
	}
	name := model.NameOf(obj.QualName)

	if b == nil {
		// Declared only through __slots__.
		return &Description{
			Location:   location(m, nil),
			RawType:    "member_descriptor",
			Annotation: owner.Annotations[name],
			Bound:      true,
			Scope:      model.ScopeInstance,
		}, nil
	}

	desc := describeBinding(m, b)
	desc.Annotation = b.Annotation
	desc.Scope = model.ScopeStatic
	annotations := m.Annotations
	if owner != nil {
		desc.Scope = model.ScopeClass
		annotations = owner.Annotations
	}
	if desc.Annotation == "" {
		desc.Annotation = annotations[name]
	}

	switch {
	case isProperty(b):
		desc.RawType = "property"
		desc.Annotation = b.Function.Returns
		desc.Docs = b.Docs
		desc.Scope = model.ScopeInstance
	case b.Value != nil:
		desc.RawType = s.rawType(m, b.Value)
	default:
		desc.RawType = "unknown"
	}
	return desc, nil
}

// rawType names the runtime type of an assigned value when it can be told
// from source.
func (s *Source) rawType(m *parse.Module, v *parse.Value) string {
	switch {
	case v.Type != "":
		return v.Type
	case v.Call != "":
		obj, ok := s.resolver().dotted(m, nil, "", v.Call)
		if ok && obj.Kind == ObjectClass {
			return obj.ID()
		}
	}
	return "unknown"
}

// binding resolves what a name bound in a module or class body refers to.
// qual is the owning class's qualified name ("" at module level).
func (r *resolver) binding(m *parse.Module, b *parse.Binding, cls *parse.Class, qual string) (Object, bool) {
	own := func(kind ObjectKind) Object {
		q := b.Name
		if qual != "" {
			q = qual + "." + b.Name
		}
		return Object{Kind: kind, Module: m.Name, QualName: q}
	}

	switch b.Kind {
	case parse.BindFunction:
		if cls != nil && isProperty(b) {
			return own(ObjectAttribute), true
		}
		return own(ObjectFunction), true
	case parse.BindClass:
		return own(ObjectClass), true
	case parse.BindValue:
		if b.Value != nil && b.Value.Ref != "" {
			if obj, ok := r.dotted(m, cls, qual, b.Value.Ref); ok && obj.Kind != ObjectAttribute {
				return obj, true
			}
		}
		return own(ObjectAttribute), true
	case parse.BindImport:
		return r.module(b.Import.Module), true
	case parse.BindFrom:
		return r.from(m, b.Import)
	}
	return Object{}, false
}

// module returns the object for an absolute module name, in the package or
// not.
func (r *resolver) module(name string) Object {
	if _, ok := r.src.modules[name]; ok {
		return Object{Kind: ObjectModule, Module: name}
	}
	return Object{Kind: ObjectExternal, Module: name}
}

// from resolves "from X import name".
func (r *resolver) from(m *parse.Module, imp *parse.Import) (Object, bool) {
	target := absoluteModule(m, imp)
	if _, ok := r.src.modules[target+"."+imp.Name]; ok {
		return Object{Kind: ObjectModule, Module: target + "." + imp.Name}, true
	}
	src, ok := r.src.modules[target]
	if !ok {
		return Object{Kind: ObjectExternal, Module: target, QualName: imp.Name}, true
	}
	return r.name(src, imp.Name)
}

// name resolves a module-level name, following re-export chains.
func (r *resolver) name(m *parse.Module, name string) (Object, bool) {
	key := m.Name + "." + name
	if r.guard[key] {
		return Object{}, false
	}
	r.guard[key] = true

	for i := len(m.Bindings) - 1; i >= 0; i-- {
		b := m.Bindings[i]
		if b.Name == name {
			return r.binding(m, b, nil, "")
		}
		if b.Kind != parse.BindStar {
			continue
		}
		target := absoluteModule(m, b.Import)
		src, ok := r.src.modules[target]
		if !ok || !slices.Contains(r.exported(src), name) {
			continue
		}
		return r.name(src, name)
	}
	if child := m.Name + "." + name; m.IsPackage {
		if _, ok := r.src.modules[child]; ok {
			return Object{Kind: ObjectModule, Module: child}, true
		}
	}
	return Object{}, false
}

// exported lists the names "from m import *" binds.
func (r *resolver) exported(m *parse.Module) []string {
	if m.HasAll {
		return m.All
	}
	key := m.Name + ".*"
	if r.guard[key] {
		return nil
	}
	r.guard[key] = true
	defer delete(r.guard, key)

	var names []string
	for _, name := range m.Names() {
		if !strings.HasPrefix(name, "_") {
			names = append(names, name)
		}
	}
	for _, b := range m.Bindings {
		if b.Kind != parse.BindStar {
			continue
		}
		if src, ok := r.src.modules[absoluteModule(m, b.Import)]; ok {
			for _, name := range r.exported(src) {
				if !slices.Contains(names, name) {
					names = append(names, name)
				}
			}
		}
	}
	return names
}

// dotted resolves a dotted reference ("helper", "mod.Class.method") in a
// module scope, or in the body of the class at qual when cls is set. Names
// bound nowhere are builtins.
func (r *resolver) dotted(m *parse.Module, cls *parse.Class, qual, ref string) (Object, bool) {
	parts := strings.Split(ref, ".")
	var obj Object
	ok := false
	if cls != nil {
		if b, found := cls.Lookup(parts[0]); found {
			key := m.Name + "." + qual + "." + parts[0]
			if !r.guard[key] {
				r.guard[key] = true
				obj, ok = r.binding(m, b, cls, qual)
			}
		}
	}
	if !ok {
		obj, ok = r.name(m, parts[0])
	}
	if !ok {
		obj = Object{Kind: ObjectExternal, Module: "builtins", QualName: parts[0]}
	}
	for _, part := range parts[1:] {
		obj, ok = r.attr(obj, part)
		if !ok {
			return Object{}, false
		}
	}
	return obj, true
}

// attr resolves obj.name.
func (r *resolver) attr(obj Object, name string) (Object, bool) {
	switch obj.Kind {
	case ObjectExternal:
		obj.QualName = joinDotted(obj.QualName, name)
		return obj, true
	case ObjectModule:
		return r.name(r.src.modules[obj.Module], name)
	case ObjectClass:
		m := r.src.modules[obj.Module]
		b, _, err := lookupPath(m, obj.QualName)
		if err != nil || b == nil || b.Kind != parse.BindClass {
			return Object{}, false
		}
		mb, ok := b.Class.Lookup(name)
		if !ok {
			return Object{}, false
		}
		return r.binding(m, mb, b.Class, obj.QualName)
	}
	return Object{}, false
}

// base resolves a base class expression. Unresolvable expressions are
// treated as external classes named by their text.
func (r *resolver) base(m *parse.Module, expr string) Object {
	if obj, ok := r.dotted(m, nil, "", expr); ok {
		return obj
	}
	return Object{Kind: ObjectExternal, QualName: expr}
}

func joinDotted(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + "." + b
}

// absoluteModule resolves a possibly relative import against m.
func absoluteModule(m *parse.Module, imp *parse.Import) string {
	if imp.Level == 0 {
		return imp.Module
	}
	pkg := m.Name
	if !m.IsPackage {
		pkg = parentModule(pkg)
	}
	for i := 1; i < imp.Level; i++ {
		pkg = parentModule(pkg)
	}
	return joinDotted(pkg, imp.Module)
}

func parentModule(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return ""
}
