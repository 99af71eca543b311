package diff

import (
	"fmt"
	"slices"

	"github.com/phobologic/apidrift/internal/model"
)

const objectID = "builtins.object"

var inheritanceRules = RuleSet{
	Name: "inheritance",
	Rules: []Rule{
		{Name: "AddBaseClass", Rank: model.Compatible, Applies: bothKind(model.KindClass), Check: addBaseClass},
		{Name: "RemoveBaseClass", Rank: model.High, Applies: bothKind(model.KindClass), Check: removeBaseClass},
		{Name: "RemoveIndirectBaseClass", Rank: model.Medium, Applies: bothKind(model.KindClass), Check: removeIndirectBaseClass},
	},
}

func classes(old, new model.Entry) (*model.ClassEntry, *model.ClassEntry) {
	return old.(*model.ClassEntry), new.(*model.ClassEntry)
}

func addBaseClass(old, new model.Entry, _ *Context) ([]model.DiffEntry, error) {
	oc, nc := classes(old, new)
	var out []model.DiffEntry
	for _, base := range nc.Bases {
		if base == objectID || slices.Contains(oc.Bases, base) {
			continue
		}
		out = append(out, model.DiffEntry{
			Message: fmt.Sprintf("Add base class (%s): %s.", nc.ID, base),
			Data:    map[string]any{"base": base},
		})
	}
	return out, nil
}

// removeBaseClass reports direct bases that are gone from the new class's
// MRO entirely. A base that became indirect is not a removal.
func removeBaseClass(old, new model.Entry, _ *Context) ([]model.DiffEntry, error) {
	oc, nc := classes(old, new)
	var out []model.DiffEntry
	for _, base := range oc.Bases {
		if base == objectID || slices.Contains(nc.MRO, base) {
			continue
		}
		out = append(out, model.DiffEntry{
			Message: fmt.Sprintf("Remove base class (%s): %s.", oc.ID, base),
			Data:    map[string]any{"base": base},
		})
	}
	return out, nil
}

func removeIndirectBaseClass(old, new model.Entry, _ *Context) ([]model.DiffEntry, error) {
	oc, nc := classes(old, new)
	var out []model.DiffEntry
	for _, ancestor := range oc.MRO {
		if ancestor == oc.ID || ancestor == objectID || slices.Contains(oc.Bases, ancestor) {
			continue
		}
		if slices.Contains(nc.MRO, ancestor) {
			continue
		}
		out = append(out, model.DiffEntry{
			Message: fmt.Sprintf("Remove indirect base class (%s): %s.", oc.ID, ancestor),
			Data:    map[string]any{"base": ancestor},
		})
	}
	return out, nil
}
