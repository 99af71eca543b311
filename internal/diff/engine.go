// Package diff compares two entry models with a registry of typed, ranked
// rules and produces an ordered Difference.
package diff

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/phobologic/apidrift/internal/graph"
	"github.com/phobologic/apidrift/internal/model"
)

var tracer = otel.Tracer("apidrift.diff")

// Context is what a rule can see besides the pair it is checking.
type Context struct {
	Old *model.Collection
	New *model.Collection

	oldPublic map[string]struct{}
	newPublic map[string]struct{}
}

// NewContext computes the public surfaces of both collections.
func NewContext(old, new *model.Collection) *Context {
	return &Context{
		Old:       old,
		New:       new,
		oldPublic: graph.PublicSurface(old),
		newPublic: graph.PublicSurface(new),
	}
}

// ResolveOld resolves a dotted name in the old collection.
func (c *Context) ResolveOld(name string) (model.Entry, bool) { return c.Old.ResolveName(name) }

// ResolveNew resolves a dotted name in the new collection.
func (c *Context) ResolveNew(name string) (model.Entry, bool) { return c.New.ResolveName(name) }

// PublicOld reports whether id is reachable from the old public surface.
func (c *Context) PublicOld(id string) bool {
	_, ok := c.oldPublic[id]
	return ok
}

// PublicNew reports whether id is reachable from the new public surface.
func (c *Context) PublicNew(id string) bool {
	_, ok := c.newPublic[id]
	return ok
}

// Engine runs a registry over pairs of collections. It holds no per-run
// state and may be shared.
type Engine struct {
	registry *Registry
	logger   *slog.Logger
}

// NewEngine returns an engine using registry, or the default registry when
// nil.
func NewEngine(registry *Registry, logger *slog.Logger) *Engine {
	if registry == nil {
		registry = DefaultRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{registry: registry, logger: logger}
}

// Diff compares old against new. Entries are ordered by sorted old id
// (removals and pair rules in registry order), then by sorted new-only id.
// Rule failures are recorded as diagnostics rather than aborting.
func (e *Engine) Diff(ctx context.Context, old, new *model.Collection) (_ *model.Difference, err error) {
	_, span := tracer.Start(ctx, "Engine.Diff",
		trace.WithAttributes(
			attribute.String("diff.old", old.Manifest.Release().String()),
			attribute.String("diff.new", new.Manifest.Release().String()),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	result := model.NewDifference(old, new)
	dctx := NewContext(old, new)

	for _, id := range old.IDs() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if id == model.ExternalID {
			continue
		}
		o, _ := old.Lookup(id)
		n, ok := new.Lookup(id)
		if !ok {
			result.Entries = append(result.Entries, removed(o, dctx))
			continue
		}
		for _, rule := range e.registry.For(o.Kind(), n.Kind()) {
			entries, diag := e.apply(rule, o, n, dctx)
			if diag != nil {
				result.Diagnostics = append(result.Diagnostics, *diag)
				continue
			}
			result.Entries = append(result.Entries, entries...)
		}
	}

	for _, id := range new.IDs() {
		if id == model.ExternalID {
			continue
		}
		if _, ok := old.Lookup(id); ok {
			continue
		}
		n, _ := new.Lookup(id)
		result.Entries = append(result.Entries, added(n, dctx))
	}

	span.SetAttributes(
		attribute.Int("diff.entries", len(result.Entries)),
		attribute.Int("diff.diagnostics", len(result.Diagnostics)),
	)
	e.logger.Debug("computed difference",
		"old", result.Old.Release().String(),
		"new", result.New.Release().String(),
		"entries", len(result.Entries),
		"diagnostics", len(result.Diagnostics))
	return result, nil
}

// apply runs one rule, turning an error or panic into a diagnostic.
// Entries whose data marks them non-public rank no higher than Low.
func (e *Engine) apply(rule Rule, old, new model.Entry, ctx *Context) (entries []model.DiffEntry, diag *model.Diagnostic) {
	oldID, newID := old.Info().ID, new.Info().ID
	fail := func(msg string) {
		e.logger.Error("rule failed", "rule", rule.Name, "id", oldID, "error", msg)
		entries = nil
		diag = &model.Diagnostic{Rule: rule.Name, Old: oldID, New: newID, Message: msg}
	}
	defer func() {
		if r := recover(); r != nil {
			fail(fmt.Sprint(r))
		}
	}()

	out, err := rule.Check(old, new, ctx)
	if err != nil {
		fail(err.Error())
		return entries, diag
	}
	for i := range out {
		out[i].Kind = rule.Name
		out[i].Rank = rule.Rank
		if public, ok := out[i].Data["public"].(bool); ok && !public {
			out[i].Rank = min(out[i].Rank, model.Low)
		}
		out[i].Old = oldID
		out[i].New = newID
	}
	return out, nil
}

// added is always Compatible: a new entry cannot break an existing caller.
func added(n model.Entry, ctx *Context) model.DiffEntry {
	id := n.Info().ID
	return model.DiffEntry{
		Kind:    "Add" + n.Kind().Title(),
		Rank:    model.Compatible,
		Message: fmt.Sprintf("Add %s (%s).", n.Kind(), id),
		Data:    map[string]any{"id": id, "public": ctx.PublicNew(id)},
		New:     id,
	}
}

// removed ranks a removal by whether callers could have reached the entry.
func removed(o model.Entry, ctx *Context) model.DiffEntry {
	id := o.Info().ID
	public := ctx.PublicOld(id)
	rank := model.Compatible
	if public {
		rank = model.High
	}
	return model.DiffEntry{
		Kind:    "Remove" + o.Kind().Title(),
		Rank:    rank,
		Message: fmt.Sprintf("Remove %s (%s).", o.Kind(), id),
		Data:    map[string]any{"id": id, "public": public},
		Old:     id,
	}
}
