package diff

import (
	"fmt"
	"maps"
	"slices"

	"github.com/phobologic/apidrift/internal/model"
)

var aliasRules = RuleSet{
	Name: "alias",
	Rules: []Rule{
		{Name: "AddAlias", Rank: model.Compatible, Applies: bothContainers, Check: addAlias},
		{Name: "RemoveAlias", Rank: model.High, Applies: bothContainers, Check: removeAlias},
		{Name: "ChangeAlias", Rank: model.Medium, Applies: bothContainers, Check: changeAlias},
	},
}

// isAlias reports whether a member points somewhere other than the
// container's own child of that name.
func isAlias(container, name, target string) bool {
	return target != container+"."+name
}

func memberNames(c model.Container) []string {
	names := slices.Collect(maps.Keys(c.MemberMap()))
	slices.Sort(names)
	return names
}

// aliasesOnlyIn reports alias members of a that b lacks.
func aliasesOnlyIn(a, b model.Container, verb string) []model.DiffEntry {
	var out []model.DiffEntry
	other := b.MemberMap()
	for _, name := range memberNames(a) {
		target := a.MemberMap()[name]
		if !isAlias(a.Info().ID, name, target) {
			continue
		}
		if _, ok := other[name]; ok {
			continue
		}
		out = append(out, model.DiffEntry{
			Message: fmt.Sprintf("%s alias (%s): %s -> %s.", verb, a.Info().ID, name, target),
			Data:    map[string]any{"name": name, "target": target, "public": !model.IsPrivateName(name)},
		})
	}
	return out
}

func addAlias(old, new model.Entry, _ *Context) ([]model.DiffEntry, error) {
	return aliasesOnlyIn(new.(model.Container), old.(model.Container), "Add"), nil
}

func removeAlias(old, new model.Entry, _ *Context) ([]model.DiffEntry, error) {
	return aliasesOnlyIn(old.(model.Container), new.(model.Container), "Remove"), nil
}

func changeAlias(old, new model.Entry, _ *Context) ([]model.DiffEntry, error) {
	oc, nc := old.(model.Container), new.(model.Container)
	newMembers := nc.MemberMap()
	var out []model.DiffEntry
	for _, name := range memberNames(oc) {
		before := oc.MemberMap()[name]
		after, ok := newMembers[name]
		if !ok || before == after {
			continue
		}
		out = append(out, model.DiffEntry{
			Message: fmt.Sprintf("Change alias (%s): %s: %s -> %s.", old.Info().ID, name, before, after),
			Data:    map[string]any{"name": name, "old": before, "new": after, "public": !model.IsPrivateName(name)},
		})
	}
	return out, nil
}
