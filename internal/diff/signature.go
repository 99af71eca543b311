package diff

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/phobologic/apidrift/internal/model"
)

var signatureRules = RuleSet{
	Name: "signature",
	Rules: []Rule{
		signatureRule("AddRequiredParameter", model.High, addedParameters(false)),
		signatureRule("AddOptionalParameter", model.Compatible, addedParameters(true)),
		signatureRule("RemoveRequiredParameter", model.High, removedParameters(false)),
		signatureRule("RemoveOptionalParameter", model.Medium, removedParameters(true)),
		signatureRule("AddVarPositional", model.Compatible, addedVariadic(model.VarPositional)),
		signatureRule("AddVarKeyword", model.Compatible, addedVariadic(model.VarKeyword)),
		signatureRule("RemoveVarPositional", model.High, removedVariadic(model.VarPositional)),
		signatureRule("RemoveVarKeyword", model.High, removedVariadic(model.VarKeyword)),
		signatureRule("ReorderParameter", model.High, reorderParameter),
		signatureRule("ChangeParameterKind", model.Medium, changeParameterKind),
		signatureRule("ParameterBecomeRequired", model.High, parameterBecomeRequired),
		signatureRule("ParameterBecomeOptional", model.Compatible, parameterBecomeOptional),
		signatureRule("ChangeParameterDefault", model.Medium, changeParameterDefault),
		signatureRule("ChangeParameterAnnotation", model.Low, changeParameterAnnotation),
		signatureRule("ChangeReturnAnnotation", model.Low, changeReturnAnnotation),
		signatureRule("ChangeMethodScope", model.Medium, changeMethodScope),
	},
}

// signatureCheck inspects the parameter matching of two functions.
type signatureCheck func(old, new *model.FunctionEntry, m *matching) []model.DiffEntry

func signatureRule(name string, rank model.Rank, check signatureCheck) Rule {
	return Rule{
		Name:    name,
		Rank:    rank,
		Applies: bothKind(model.KindFunction),
		Check: func(old, new model.Entry, _ *Context) ([]model.DiffEntry, error) {
			of, nf := old.(*model.FunctionEntry), new.(*model.FunctionEntry)
			return check(of, nf, matchParameters(of.Parameters, nf.Parameters)), nil
		},
	}
}

// paired is a parameter present in both signatures.
type paired struct {
	old, new           model.Parameter
	oldIndex, newIndex int
}

// matching pairs the parameters of two signatures. Positional-only
// parameters pair by position, variadic ones by kind and all others by
// name.
type matching struct {
	pairs   []paired
	removed []model.Parameter
	added   []model.Parameter
}

func matchParameters(old, new []model.Parameter) *matching {
	m := &matching{}
	oldUsed := make([]bool, len(old))
	newUsed := make([]bool, len(new))
	pair := func(i, j int) {
		oldUsed[i], newUsed[j] = true, true
		m.pairs = append(m.pairs, paired{old: old[i], new: new[j], oldIndex: i, newIndex: j})
	}

	for _, kind := range []model.ParameterKind{model.VarPositional, model.VarKeyword} {
		i, j := indexOfKind(old, kind), indexOfKind(new, kind)
		if i >= 0 && j >= 0 {
			pair(i, j)
		}
	}

	for i := range min(len(old), len(new)) {
		o, n := old[i], new[i]
		if o.Kind != model.PositionalOnly && n.Kind != model.PositionalOnly {
			continue
		}
		if o.Kind.Positional() && n.Kind.Positional() {
			pair(i, i)
		}
	}

	byName := make(map[string]int)
	for j, p := range new {
		if !newUsed[j] && !p.Kind.Variadic() && p.Kind != model.PositionalOnly {
			byName[p.Name] = j
		}
	}
	for i, p := range old {
		if oldUsed[i] || p.Kind.Variadic() || p.Kind == model.PositionalOnly {
			continue
		}
		if j, ok := byName[p.Name]; ok && !newUsed[j] {
			pair(i, j)
		}
	}

	for i, p := range old {
		if !oldUsed[i] {
			m.removed = append(m.removed, p)
		}
	}
	for j, p := range new {
		if !newUsed[j] {
			m.added = append(m.added, p)
		}
	}
	// Report pairs in old signature order.
	slices.SortFunc(m.pairs, func(a, b paired) int { return cmp.Compare(a.oldIndex, b.oldIndex) })
	return m
}

func indexOfKind(params []model.Parameter, kind model.ParameterKind) int {
	for i, p := range params {
		if p.Kind == kind {
			return i
		}
	}
	return -1
}

func normalizeAnnotation(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func parameterData(p model.Parameter) map[string]any {
	return map[string]any{"name": p.Name, "kind": string(p.Kind)}
}

func addedParameters(optional bool) signatureCheck {
	adjective := "required"
	if optional {
		adjective = "optional"
	}
	return func(_, new *model.FunctionEntry, m *matching) []model.DiffEntry {
		var out []model.DiffEntry
		for _, p := range m.added {
			if p.Kind.Variadic() || p.Optional != optional {
				continue
			}
			out = append(out, model.DiffEntry{
				Message: fmt.Sprintf("Add %s parameter (%s): %s.", adjective, new.ID, p.Name),
				Data:    parameterData(p),
			})
		}
		return out
	}
}

func removedParameters(optional bool) signatureCheck {
	adjective := "required"
	if optional {
		adjective = "optional"
	}
	return func(old, _ *model.FunctionEntry, m *matching) []model.DiffEntry {
		var out []model.DiffEntry
		for _, p := range m.removed {
			if p.Kind.Variadic() || p.Optional != optional {
				continue
			}
			out = append(out, model.DiffEntry{
				Message: fmt.Sprintf("Remove %s parameter (%s): %s.", adjective, old.ID, p.Name),
				Data:    parameterData(p),
			})
		}
		return out
	}
}

func variadicLabel(kind model.ParameterKind) string {
	if kind == model.VarPositional {
		return "variable positional parameter"
	}
	return "variable keyword parameter"
}

func addedVariadic(kind model.ParameterKind) signatureCheck {
	return func(_, new *model.FunctionEntry, m *matching) []model.DiffEntry {
		for _, p := range m.added {
			if p.Kind == kind {
				return []model.DiffEntry{{
					Message: fmt.Sprintf("Add %s (%s): %s.", variadicLabel(kind), new.ID, p.Name),
					Data:    parameterData(p),
				}}
			}
		}
		return nil
	}
}

func removedVariadic(kind model.ParameterKind) signatureCheck {
	return func(old, _ *model.FunctionEntry, m *matching) []model.DiffEntry {
		for _, p := range m.removed {
			if p.Kind == kind {
				return []model.DiffEntry{{
					Message: fmt.Sprintf("Remove %s (%s): %s.", variadicLabel(kind), old.ID, p.Name),
					Data:    parameterData(p),
				}}
			}
		}
		return nil
	}
}

// reorderParameter reports parameters a caller passes by position whose
// position changed.
func reorderParameter(old, _ *model.FunctionEntry, m *matching) []model.DiffEntry {
	var out []model.DiffEntry
	for _, pr := range m.pairs {
		if pr.old.Kind.Variadic() || !pr.old.Kind.Positional() || !pr.new.Kind.Positional() {
			continue
		}
		if pr.oldIndex == pr.newIndex {
			continue
		}
		out = append(out, model.DiffEntry{
			Message: fmt.Sprintf("Move parameter (%s): %s from position %d to %d.", old.ID, pr.new.Name, pr.oldIndex, pr.newIndex),
			Data:    map[string]any{"name": pr.new.Name, "old": pr.oldIndex, "new": pr.newIndex},
		})
	}
	return out
}

func changeParameterKind(old, _ *model.FunctionEntry, m *matching) []model.DiffEntry {
	var out []model.DiffEntry
	for _, pr := range m.pairs {
		if pr.old.Kind == pr.new.Kind {
			continue
		}
		out = append(out, model.DiffEntry{
			Message: fmt.Sprintf("Change parameter kind (%s): %s: %s -> %s.", old.ID, pr.new.Name, pr.old.Kind, pr.new.Kind),
			Data:    map[string]any{"name": pr.new.Name, "old": string(pr.old.Kind), "new": string(pr.new.Kind)},
		})
	}
	return out
}

func parameterBecomeRequired(old, _ *model.FunctionEntry, m *matching) []model.DiffEntry {
	var out []model.DiffEntry
	for _, pr := range m.pairs {
		if pr.new.Kind.Variadic() || !pr.old.Optional || pr.new.Optional {
			continue
		}
		out = append(out, model.DiffEntry{
			Message: fmt.Sprintf("Parameter became required (%s): %s.", old.ID, pr.new.Name),
			Data:    parameterData(pr.new),
		})
	}
	return out
}

func parameterBecomeOptional(old, _ *model.FunctionEntry, m *matching) []model.DiffEntry {
	var out []model.DiffEntry
	for _, pr := range m.pairs {
		if pr.new.Kind.Variadic() || pr.old.Optional || !pr.new.Optional {
			continue
		}
		out = append(out, model.DiffEntry{
			Message: fmt.Sprintf("Parameter became optional (%s): %s.", old.ID, pr.new.Name),
			Data:    parameterData(pr.new),
		})
	}
	return out
}

// defaultChanged compares two optional parameters' defaults. Two opaque
// defaults compare equal; an opaque default never equals a literal.
func defaultChanged(old, new model.Parameter) bool {
	switch {
	case old.Default == nil && new.Default == nil:
		return false
	case old.Default == nil || new.Default == nil:
		return true
	}
	return *old.Default != *new.Default
}

func changeParameterDefault(old, _ *model.FunctionEntry, m *matching) []model.DiffEntry {
	var out []model.DiffEntry
	for _, pr := range m.pairs {
		if !pr.old.Optional || !pr.new.Optional || pr.new.Kind.Variadic() {
			continue
		}
		if !defaultChanged(pr.old, pr.new) {
			continue
		}
		out = append(out, model.DiffEntry{
			Message: fmt.Sprintf("Change parameter default (%s): %s: %s -> %s.", old.ID, pr.new.Name, pr.old.DefaultText(), pr.new.DefaultText()),
			Data:    map[string]any{"name": pr.new.Name, "old": pr.old.DefaultText(), "new": pr.new.DefaultText()},
		})
	}
	return out
}

func changeParameterAnnotation(old, _ *model.FunctionEntry, m *matching) []model.DiffEntry {
	var out []model.DiffEntry
	for _, pr := range m.pairs {
		before, after := normalizeAnnotation(pr.old.Annotation), normalizeAnnotation(pr.new.Annotation)
		if before == after {
			continue
		}
		out = append(out, model.DiffEntry{
			Message: fmt.Sprintf("Change parameter annotation (%s): %s: %q -> %q.", old.ID, pr.new.Name, before, after),
			Data:    map[string]any{"name": pr.new.Name, "old": before, "new": after},
		})
	}
	return out
}

func changeReturnAnnotation(old, new *model.FunctionEntry, _ *matching) []model.DiffEntry {
	before, after := normalizeAnnotation(old.ReturnAnnotation), normalizeAnnotation(new.ReturnAnnotation)
	if before == after {
		return nil
	}
	return []model.DiffEntry{{
		Message: fmt.Sprintf("Change return annotation (%s): %q -> %q.", old.ID, before, after),
		Data:    map[string]any{"old": before, "new": after},
	}}
}

func changeMethodScope(old, new *model.FunctionEntry, _ *matching) []model.DiffEntry {
	if old.Scope == "" || new.Scope == "" || old.Scope == new.Scope {
		return nil
	}
	return []model.DiffEntry{{
		Message: fmt.Sprintf("Change method scope (%s): %s -> %s.", old.ID, old.Scope, new.Scope),
		Data:    map[string]any{"old": string(old.Scope), "new": string(new.Scope)},
	}}
}
