package diff

import (
	"fmt"
	"slices"
	"strings"

	"github.com/phobologic/apidrift/internal/model"
)

// CheckFunc compares one pair of entries that share an id. The engine fills
// in the kind, rank and entry ids of every returned entry.
type CheckFunc func(old, new model.Entry, ctx *Context) ([]model.DiffEntry, error)

// Rule is one typed, ranked comparison.
type Rule struct {
	Name string
	Rank model.Rank
	// Applies reports whether the rule runs for a pair of entry kinds.
	Applies func(old, new model.Kind) bool
	Check   CheckFunc
}

// RuleSet groups related rules under a name.
type RuleSet struct {
	Name  string
	Rules []Rule
}

type kindPair struct{ old, new model.Kind }

// Registry is an ordered list of rules indexed by the kind pairs they
// apply to.
type Registry struct {
	rules []Rule
	table map[kindPair][]Rule
}

// NewRegistry flattens sets in order. Rule names must be unique.
func NewRegistry(sets ...RuleSet) (*Registry, error) {
	var rules []Rule
	seen := make(map[string]bool)
	for _, set := range sets {
		for _, r := range set.Rules {
			if seen[r.Name] {
				return nil, fmt.Errorf("rule set %s: duplicate rule %s", set.Name, r.Name)
			}
			seen[r.Name] = true
			rules = append(rules, r)
		}
	}
	return newRegistry(rules), nil
}

func newRegistry(rules []Rule) *Registry {
	r := &Registry{rules: rules, table: make(map[kindPair][]Rule)}
	for _, oldKind := range model.Kinds {
		for _, newKind := range model.Kinds {
			key := kindPair{oldKind, newKind}
			for _, rule := range rules {
				if rule.Applies(oldKind, newKind) {
					r.table[key] = append(r.table[key], rule)
				}
			}
		}
	}
	return r
}

// Rules returns every rule in registration order.
func (r *Registry) Rules() []Rule { return slices.Clone(r.rules) }

// For returns the rules that apply to an old/new kind pair, in
// registration order.
func (r *Registry) For(old, new model.Kind) []Rule {
	return r.table[kindPair{old, new}]
}

// Without returns a registry lacking the named rules.
func (r *Registry) Without(names ...string) (*Registry, error) {
	if len(names) == 0 {
		return r, nil
	}
	drop := make(map[string]bool, len(names))
	for _, name := range names {
		drop[name] = true
	}
	var kept []Rule
	for _, rule := range r.rules {
		if drop[rule.Name] {
			delete(drop, rule.Name)
			continue
		}
		kept = append(kept, rule)
	}
	if len(drop) > 0 {
		var unknown []string
		for name := range drop {
			unknown = append(unknown, name)
		}
		slices.Sort(unknown)
		return nil, fmt.Errorf("unknown rules: %s", strings.Join(unknown, ", "))
	}
	return newRegistry(kept), nil
}

// DefaultRuleSets returns the built-in rule sets in evaluation order.
func DefaultRuleSets() []RuleSet {
	return []RuleSet{kindRules, aliasRules, inheritanceRules, signatureRules, attributeRules}
}

// DefaultRegistry returns a registry of every built-in rule.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultRuleSets()...)
	if err != nil {
		panic(err)
	}
	return r
}

func bothKind(k model.Kind) func(old, new model.Kind) bool {
	return func(old, new model.Kind) bool { return old == k && new == k }
}

func bothContainers(old, new model.Kind) bool {
	return old.IsContainer() && new.IsContainer()
}
