package extract

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/apidrift/internal/model"
)

// fakeOracle serves canned descriptions keyed by object id.
type fakeOracle struct {
	modules  []string
	descs    map[string]*Description
	failing  map[string]error
	panicky  map[string]bool
	describe map[string]int
}

func (f *fakeOracle) Modules() []string { return f.modules }

func (f *fakeOracle) Import(name string) (Object, bool) {
	if _, ok := f.descs[name]; !ok {
		return Object{}, false
	}
	return Object{Kind: ObjectModule, Module: name}, true
}

func (f *fakeOracle) Describe(obj Object) (*Description, error) {
	id := obj.ID()
	f.describe[id]++
	if f.panicky[id] {
		panic("descriptor exploded")
	}
	if err, ok := f.failing[id]; ok {
		return nil, err
	}
	desc, ok := f.descs[id]
	if !ok {
		return nil, errors.New("no such object")
	}
	return desc, nil
}

func fn(module, qual string) Object {
	return Object{Kind: ObjectFunction, Module: module, QualName: qual}
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{
		modules: []string{"other", "pkg", "pkg.extra"},
		descs: map[string]*Description{
			"pkg": {
				Docs: "Package docs.",
				Members: []Member{
					{Name: "Widget", Object: Object{Kind: ObjectClass, Module: "pkg", QualName: "Widget"}},
					{Name: "helper", Object: fn("pkg", "helper")},
					{Name: "alias", Object: fn("pkg", "helper")},
					{Name: "os", Object: Object{Kind: ObjectExternal, Module: "os"}},
					{Name: "json", Object: Object{Kind: ObjectModule, Module: "json"}},
					{Name: "broken", Object: fn("pkg", "broken")},
					{Name: "boom", Object: fn("pkg", "boom")},
					{Name: "itself", Object: Object{Kind: ObjectModule, Module: "pkg"}},
				},
			},
			"pkg.extra": {},
			"other":     {},
			"pkg.Widget": {
				Bases: []Object{{Kind: ObjectExternal, Module: "builtins", QualName: "Exception"}},
				Members: []Member{
					{Name: "run", Object: fn("pkg", "Widget.run")},
					{Name: "shared", Object: fn("pkg", "Base.shared"), InheritedFrom: "pkg.Base"},
					{Name: "__dict__", Object: Object{Kind: ObjectAttribute, Module: "pkg", QualName: "Widget.__dict__"}},
				},
			},
			"pkg.Widget.run": {
				Scope: model.ScopeInstance,
				Signature: &Signature{
					Parameters: []model.Parameter{{Name: "self", Kind: model.PositionalOrKeyword}},
					Returns:    "None",
				},
			},
			"pkg.helper": {Scope: model.ScopeStatic},
		},
		failing:  map[string]error{"pkg.broken": errors.New("inspect failed")},
		panicky:  map[string]bool{"pkg.boom": true},
		describe: make(map[string]int),
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEngineExtract(t *testing.T) {
	t.Parallel()

	oracle := newFakeOracle()
	c, err := NewEngine(oracle, quietLogger()).Extract(context.Background(), model.Release{Project: "pkg", Version: "1.0"}, []string{"pkg"})
	require.NoError(t, err)
	require.True(t, c.Sealed())

	assert.Equal(t, []string{
		model.ExternalID,
		"pkg",
		"pkg.Widget",
		"pkg.Widget.run",
		"pkg.broken",
		"pkg.extra",
		"pkg.helper",
	}, c.IDs())
	assert.Equal(t, []string{"pkg"}, c.TopLevel())
	assert.Equal(t, "pkg", c.Manifest.Project)

	e, ok := c.Lookup("pkg")
	require.True(t, ok)
	mod := e.(*model.ModuleEntry)
	assert.Equal(t, "Package docs.", mod.Docs)
	assert.Equal(t, map[string]string{
		"Widget": "pkg.Widget",
		"helper": "pkg.helper",
		"alias":  "pkg.helper",
		"os":     model.ExternalID,
		"json":   model.ExternalID,
		"broken": "pkg.broken",
		"itself": "pkg",
	}, mod.Members)

	// Each object is described once however many times it is reached.
	assert.Equal(t, 1, oracle.describe["pkg.helper"])
	assert.Equal(t, 1, oracle.describe["pkg"])
	assert.Zero(t, oracle.describe["other"])
}

func TestEngineClass(t *testing.T) {
	t.Parallel()

	c, err := NewEngine(newFakeOracle(), quietLogger()).Extract(context.Background(), model.Release{}, []string{"pkg"})
	require.NoError(t, err)

	e, ok := c.Lookup("pkg.Widget")
	require.True(t, ok)
	cls := e.(*model.ClassEntry)
	assert.Equal(t, []string{"builtins.Exception"}, cls.Bases)
	assert.Equal(t, []string{"pkg.Widget", "builtins.Exception", objectID}, cls.MRO)
	// Inherited members belong to the declaring class; __dict__ is noise.
	assert.Equal(t, map[string]string{"run": "pkg.Widget.run"}, cls.Members)

	e, ok = c.Lookup("pkg.Widget.run")
	require.True(t, ok)
	run := e.(*model.FunctionEntry)
	assert.Equal(t, model.ScopeInstance, run.Scope)
	assert.Equal(t, "None", run.ReturnAnnotation)
	require.Len(t, run.Parameters, 1)
	assert.Equal(t, "self", run.Parameters[0].Name)
}

func TestEnginePartialEntryOnDescribeFailure(t *testing.T) {
	t.Parallel()

	c, err := NewEngine(newFakeOracle(), quietLogger()).Extract(context.Background(), model.Release{}, []string{"pkg"})
	require.NoError(t, err)

	e, ok := c.Lookup("pkg.broken")
	require.True(t, ok)
	broken := e.(*model.FunctionEntry)
	assert.Equal(t, "broken", broken.Name)
	assert.Empty(t, broken.Parameters)
	assert.Equal(t, "pkg", broken.Location.Module)

	_, ok = c.Lookup("pkg.boom")
	assert.False(t, ok)
}

func TestEngineModulePanicIsolated(t *testing.T) {
	t.Parallel()

	oracle := newFakeOracle()
	oracle.panicky["pkg.extra"] = true
	var c *model.Collection
	require.NotPanics(t, func() {
		var err error
		c, err = NewEngine(oracle, quietLogger()).Extract(context.Background(), model.Release{}, []string{"pkg"})
		require.NoError(t, err)
	})
	_, ok := c.Lookup("pkg.extra")
	assert.False(t, ok)
	_, ok = c.Lookup("pkg.helper")
	assert.True(t, ok)

	oracle = newFakeOracle()
	oracle.panicky["pkg"] = true
	require.NotPanics(t, func() {
		var err error
		c, err = NewEngine(oracle, quietLogger()).Extract(context.Background(), model.Release{}, []string{"pkg"})
		require.NoError(t, err)
	})
	assert.Empty(t, c.TopLevel())
	_, ok = c.Lookup("pkg.extra")
	assert.True(t, ok)
}

func TestEngineMissingRoot(t *testing.T) {
	t.Parallel()

	_, err := NewEngine(newFakeOracle(), quietLogger()).Extract(context.Background(), model.Release{}, []string{"missing"})
	require.Error(t, err)

	_, err = NewEngine(newFakeOracle(), quietLogger()).Extract(context.Background(), model.Release{}, nil)
	require.Error(t, err)
}

func TestEngineCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewEngine(newFakeOracle(), quietLogger()).Extract(ctx, model.Release{}, []string{"pkg"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestInNamespace(t *testing.T) {
	t.Parallel()

	roots := []string{"pkg", "six"}
	assert.True(t, inNamespace("pkg", roots))
	assert.True(t, inNamespace("pkg.sub.mod", roots))
	assert.True(t, inNamespace("six", roots))
	assert.False(t, inNamespace("pkgextra", roots))
	assert.False(t, inNamespace("os.path", roots))
}
