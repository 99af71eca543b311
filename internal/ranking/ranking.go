// Package ranking evaluates the severity of a difference and narrows it for
// display.
package ranking

import (
	"cmp"
	"slices"
	"strings"

	"github.com/phobologic/apidrift/internal/model"
)

// Level returns the highest rank among d's entries. ok is false when d has
// no entries.
func Level(d *model.Difference) (level model.Rank, ok bool) {
	for _, e := range d.Entries {
		if !ok || e.Rank > level {
			level, ok = e.Rank, true
		}
	}
	return level, ok
}

// Breaking reports whether any entry of d breaks callers.
func Breaking(d *model.Difference) bool {
	level, ok := Level(d)
	return ok && level.Breaking()
}

// Counts returns the number of entries per rank.
func Counts(d *model.Difference) map[model.Rank]int {
	counts := make(map[model.Rank]int)
	for _, e := range d.Entries {
		counts[e.Rank]++
	}
	return counts
}

// KindCounts returns the number of entries per kind, sorted by kind.
func KindCounts(d *model.Difference) []KindCount {
	index := make(map[string]int)
	var out []KindCount
	for _, e := range d.Entries {
		i, ok := index[e.Kind]
		if !ok {
			i = len(out)
			index[e.Kind] = i
			out = append(out, KindCount{Kind: e.Kind, Rank: e.Rank})
		}
		out[i].Count++
	}
	slices.SortFunc(out, func(a, b KindCount) int { return cmp.Compare(a.Kind, b.Kind) })
	return out
}

// KindCount is the number of entries of one kind.
type KindCount struct {
	Kind  string
	Rank  model.Rank
	Count int
}

// SelectEntries returns a difference holding the entries ranked at least
// minRank. When maxEntries is positive only the highest-ranked maxEntries
// survive; ties keep their original order, and so does the result.
func SelectEntries(d *model.Difference, minRank model.Rank, maxEntries int) *model.Difference {
	var idx []int
	for i, e := range d.Entries {
		if e.Rank >= minRank {
			idx = append(idx, i)
		}
	}
	if len(idx) == len(d.Entries) && (maxEntries <= 0 || maxEntries >= len(idx)) {
		return d
	}

	if maxEntries > 0 && maxEntries < len(idx) {
		slices.SortStableFunc(idx, func(a, b int) int {
			return cmp.Compare(d.Entries[b].Rank, d.Entries[a].Rank)
		})
		idx = idx[:maxEntries]
		slices.Sort(idx)
	}

	entries := make([]model.DiffEntry, 0, len(idx))
	for _, i := range idx {
		entries = append(entries, d.Entries[i])
	}
	return d.WithEntries(entries)
}

// FilterBySymbol returns a difference holding the entries whose old or new
// id contains substr (case-insensitive). If nothing matches, entries whose
// data names a matching member (a parameter, alias or base) are kept
// instead.
func FilterBySymbol(d *model.Difference, substr string) *model.Difference {
	lower := strings.ToLower(substr)
	contains := func(s string) bool { return strings.Contains(strings.ToLower(s), lower) }

	var entries []model.DiffEntry
	for _, e := range d.Entries {
		if contains(e.Old) || contains(e.New) {
			entries = append(entries, e)
		}
	}

	// Member fallback.
	if len(entries) == 0 {
		for _, e := range d.Entries {
			for _, key := range []string{"name", "base", "target"} {
				if s, ok := e.Data[key].(string); ok && contains(s) {
					entries = append(entries, e)
					break
				}
			}
		}
	}
	if entries == nil {
		entries = []model.DiffEntry{}
	}
	return d.WithEntries(entries)
}
