package extract

import (
	"context"
	"fmt"
	"log/slog"
	"maps"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/phobologic/apidrift/internal/model"
)

var tracer = otel.Tracer("apidrift.extract")

// ignoredClassMembers are implementation details present on every class.
var ignoredClassMembers = map[string]struct{}{
	"__weakref__":  {},
	"__dict__":     {},
	"__module__":   {},
	"__qualname__": {},
}

// Engine walks an Oracle from a set of root modules and records every
// object inside the roots' namespace exactly once.
type Engine struct {
	oracle Oracle
	logger *slog.Logger

	roots   []string
	entries map[string]model.Entry
	order   []string
	mros    map[string][]string
}

// NewEngine returns an engine reading from oracle.
func NewEngine(oracle Oracle, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{oracle: oracle, logger: logger}
}

// Extract visits each root module, then every other module the oracle
// knows inside the roots' namespace, and returns the sealed collection.
// Per-object failures are logged and leave partial entries; only a
// duplicate id aborts.
func (e *Engine) Extract(ctx context.Context, release model.Release, roots []string) (_ *model.Collection, err error) {
	ctx, span := tracer.Start(ctx, "Engine.Extract",
		trace.WithAttributes(
			attribute.String("extract.release", release.String()),
			attribute.StringSlice("extract.roots", roots),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if len(roots) == 0 {
		return nil, fmt.Errorf("no root modules")
	}
	e.roots = roots
	e.entries = make(map[string]model.Entry)
	e.order = nil
	e.mros = make(map[string][]string)
	e.register(model.NewExternal())

	for _, root := range roots {
		obj, ok := e.oracle.Import(root)
		if !ok {
			return nil, fmt.Errorf("importing root module %s: not found", root)
		}
		e.guarded(root, obj)
	}
	for _, name := range e.oracle.Modules() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !inNamespace(name, roots) {
			continue
		}
		if obj, ok := e.oracle.Import(name); ok {
			e.guarded(name, obj)
		}
	}

	c := model.NewCollection(release)
	for _, id := range e.order {
		if err := c.AddEntry(e.entries[id]); err != nil {
			return nil, err
		}
	}
	for _, root := range roots {
		if _, ok := e.entries[root]; ok {
			c.AddTopLevel(root)
		}
	}
	c.Seal()

	span.SetAttributes(attribute.Int("extract.entries", c.Len()))
	e.logger.Info("extracted entries", "release", release.String(), "entries", c.Len())
	return c, nil
}

func (e *Engine) register(entry model.Entry) {
	id := entry.Info().ID
	e.entries[id] = entry
	e.order = append(e.order, id)
}

func (e *Engine) isExternal(obj Object) bool {
	return obj.Kind == ObjectExternal || !inNamespace(obj.Module, e.roots)
}

// visit returns the id obj is recorded under, visiting it on first sight.
func (e *Engine) visit(obj Object) string {
	if e.isExternal(obj) {
		return model.ExternalID
	}
	id := obj.ID()
	if existing, ok := e.entries[id]; ok {
		if want := kindOf(obj.Kind); existing.Kind() != want {
			e.logger.Warn("object kind conflicts with recorded entry",
				"id", id, "kind", want, "recorded", existing.Kind())
		}
		return id
	}

	desc, err := e.oracle.Describe(obj)
	if err != nil {
		e.logger.Error("failed to describe object", "id", id, "error", err)
		desc = &Description{Location: model.Location{Module: obj.Module}}
	}
	for _, w := range desc.Warnings {
		e.logger.Warn(w, "id", id)
	}

	switch obj.Kind {
	case ObjectModule:
		e.visitModule(obj, desc)
	case ObjectClass:
		e.visitClass(obj, desc)
	case ObjectFunction:
		e.visitFunction(obj, desc)
	default:
		e.visitAttribute(obj, desc)
	}
	return id
}

func kindOf(k ObjectKind) model.Kind {
	switch k {
	case ObjectModule:
		return model.KindModule
	case ObjectClass:
		return model.KindClass
	case ObjectFunction:
		return model.KindFunction
	case ObjectAttribute:
		return model.KindAttribute
	}
	return model.KindSpecial
}

func (e *Engine) base(obj Object, desc *Description) model.Base {
	b := model.NewBase(obj.ID())
	b.Location = desc.Location
	b.Docs = desc.Docs
	b.Comments = desc.Comments
	b.Src = desc.Source
	return b
}

// member visits one member, isolating failures to that member.
func (e *Engine) member(owner string, m Member) (string, bool) {
	return e.guarded(owner+"."+m.Name, m.Object)
}

// guarded visits obj, recovering a panic raised while analyzing it.
func (e *Engine) guarded(name string, obj Object) (id string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("failed to analyze object", "id", name, "error", fmt.Sprint(r))
			id, ok = "", false
		}
	}()
	return e.visit(obj), true
}

func (e *Engine) visitModule(obj Object, desc *Description) {
	entry := &model.ModuleEntry{
		Base:        e.base(obj, desc),
		Members:     make(map[string]string),
		Annotations: maps.Clone(desc.Annotations),
	}
	e.register(entry)

	for _, m := range desc.Members {
		if id, ok := e.member(entry.ID, m); ok {
			entry.Members[m.Name] = id
		}
	}
}

func (e *Engine) visitClass(obj Object, desc *Description) {
	entry := &model.ClassEntry{
		Base:        e.base(obj, desc),
		Members:     make(map[string]string),
		Annotations: maps.Clone(desc.Annotations),
	}
	e.register(entry)

	for _, b := range desc.Bases {
		entry.Bases = append(entry.Bases, e.baseID(b))
	}
	if len(entry.Bases) == 0 {
		entry.Bases = []string{objectID}
	}
	entry.MRO = e.mro(entry.ID, entry.Bases)
	e.mros[entry.ID] = entry.MRO

	for _, m := range desc.Members {
		if _, skip := ignoredClassMembers[m.Name]; skip {
			continue
		}
		if m.InheritedFrom != "" && m.InheritedFrom != entry.ID {
			continue
		}
		if id, ok := e.member(entry.ID, m); ok {
			entry.Members[m.Name] = id
		}
	}
}

// baseID returns the id a base class is recorded under. Bases outside the
// package keep their own name rather than the external sentinel.
func (e *Engine) baseID(b Object) string {
	if e.isExternal(b) {
		return b.ID()
	}
	id, ok := e.member("", Member{Name: b.ID(), Object: b})
	if !ok {
		return b.ID()
	}
	return id
}

func (e *Engine) mro(id string, bases []string) []string {
	mroOf := func(base string) []string {
		if mro, ok := e.mros[base]; ok {
			return mro
		}
		if _, ok := e.entries[base].(*model.ClassEntry); ok {
			// Still being visited: a cyclic hierarchy.
			return []string{base}
		}
		return externalMRO(base)
	}
	mro, err := linearize(id, bases, mroOf)
	if err != nil {
		e.logger.Warn("falling back to depth-first method resolution order", "id", id, "error", err)
		return depthFirst(id, bases, mroOf)
	}
	return mro
}

func (e *Engine) visitFunction(obj Object, desc *Description) {
	entry := &model.FunctionEntry{
		Base:  e.base(obj, desc),
		Scope: desc.Scope,
	}
	if sig := desc.Signature; sig != nil {
		entry.Parameters = sig.Parameters
		entry.ReturnAnnotation = sig.Returns
		entry.Async = sig.Async
	}
	if entry.Parameters == nil {
		entry.Parameters = []model.Parameter{}
	}
	e.register(entry)
}

func (e *Engine) visitAttribute(obj Object, desc *Description) {
	e.register(&model.AttributeEntry{
		Base:       e.base(obj, desc),
		RawType:    desc.RawType,
		Annotation: desc.Annotation,
		Bound:      desc.Bound,
		Scope:      desc.Scope,
	})
}
