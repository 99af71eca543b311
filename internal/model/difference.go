package model

import (
	"fmt"
	"strings"
)

// Rank is the severity of a change, ordered Compatible < Low < Medium < High.
type Rank int

const (
	Compatible Rank = iota
	Low
	Medium
	High
)

var rankNames = [...]string{"Compatible", "Low", "Medium", "High"}

func (r Rank) String() string {
	if r < Compatible || r > High {
		return fmt.Sprintf("Rank(%d)", int(r))
	}
	return rankNames[r]
}

// Breaking reports whether the rank denotes a possibly breaking change.
func (r Rank) Breaking() bool { return r > Compatible }

// ParseRank parses a rank name, case-insensitively.
func ParseRank(s string) (Rank, error) {
	for i, name := range rankNames {
		if strings.EqualFold(name, s) {
			return Rank(i), nil
		}
	}
	return Compatible, fmt.Errorf("unknown rank %q", s)
}

func (r Rank) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Rank) UnmarshalText(text []byte) error {
	parsed, err := ParseRank(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// DiffEntry is one detected change.
type DiffEntry struct {
	Kind    string         `json:"kind"`
	Rank    Rank           `json:"rank"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
	Old     string         `json:"old,omitempty"`
	New     string         `json:"new,omitempty"`
}

// Diagnostic records a rule that failed on one entry pair.
type Diagnostic struct {
	Rule    string `json:"rule"`
	Old     string `json:"old"`
	New     string `json:"new"`
	Message string `json:"message"`
}

// Difference is the ordered result of comparing two collections.
type Difference struct {
	Old         Manifest     `json:"old"`
	New         Manifest     `json:"new"`
	Entries     []DiffEntry  `json:"entries"`
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`

	oldModel *Collection
	newModel *Collection
}

// NewDifference returns an empty difference between old and new.
func NewDifference(old, new *Collection) *Difference {
	return &Difference{
		Old:      old.Manifest,
		New:      new.Manifest,
		Entries:  []DiffEntry{},
		oldModel: old,
		newModel: new,
	}
}

// OldModel returns the collection the difference was computed from, if retained.
func (d *Difference) OldModel() *Collection { return d.oldModel }

// NewModel returns the collection the difference was computed against, if retained.
func (d *Difference) NewModel() *Collection { return d.newModel }

// WithEntries returns a copy of d holding only entries.
func (d *Difference) WithEntries(entries []DiffEntry) *Difference {
	out := *d
	out.Entries = entries
	return &out
}
