package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrDuplicateID is returned when an entry id is registered twice.
	ErrDuplicateID = errors.New("duplicate entry id")
	// ErrSealed is returned when adding to a sealed collection.
	ErrSealed = errors.New("collection is sealed")
)

// Manifest describes the release a Collection was extracted from.
type Manifest struct {
	Project  string   `json:"project"`
	Version  string   `json:"version"`
	TopLevel []string `json:"topLevel"`
}

// Release returns the manifest's release.
func (m Manifest) Release() Release {
	return Release{Project: m.Project, Version: m.Version}
}

// Collection is the entry model of one release: every entry keyed by id.
// It is append-only while being built and read-only after Seal.
type Collection struct {
	Manifest Manifest
	entries  map[string]Entry
	sealed   bool
}

// NewCollection returns an empty collection for release.
func NewCollection(release Release) *Collection {
	return &Collection{
		Manifest: Manifest{Project: release.Project, Version: release.Version},
		entries:  make(map[string]Entry),
	}
}

// AddEntry registers e. Ids are unique within a collection.
func (c *Collection) AddEntry(e Entry) error {
	if c.sealed {
		return ErrSealed
	}
	id := e.Info().ID
	if _, ok := c.entries[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	c.entries[id] = e
	return nil
}

// AddTopLevel records id as a top-level entry point.
func (c *Collection) AddTopLevel(id string) {
	for _, existing := range c.Manifest.TopLevel {
		if existing == id {
			return
		}
	}
	c.Manifest.TopLevel = append(c.Manifest.TopLevel, id)
}

// Seal makes the collection read-only.
func (c *Collection) Seal() { c.sealed = true }

// Sealed reports whether Seal was called.
func (c *Collection) Sealed() bool { return c.sealed }

// Lookup returns the entry with the given id.
func (c *Collection) Lookup(id string) (Entry, bool) {
	e, ok := c.entries[id]
	return e, ok
}

// TopLevel returns the ids of the package's root modules.
func (c *Collection) TopLevel() []string {
	return c.Manifest.TopLevel
}

// Len returns the number of entries.
func (c *Collection) Len() int { return len(c.entries) }

// IDs returns every entry id in sorted order.
func (c *Collection) IDs() []string {
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stats counts entries per kind.
func (c *Collection) Stats() map[Kind]int {
	stats := make(map[Kind]int)
	for _, e := range c.entries {
		stats[e.Kind()]++
	}
	return stats
}

// ResolveName resolves a dotted name the way attribute access would:
// through module members and class MROs.
func (c *Collection) ResolveName(name string) (Entry, bool) {
	if e, ok := c.entries[name]; ok {
		return e, true
	}
	parent, member, ok := cutLast(name)
	if !ok {
		return nil, false
	}
	owner, ok := c.ResolveName(parent)
	if !ok {
		return nil, false
	}
	switch owner := owner.(type) {
	case *ClassEntry:
		return c.ResolveClassMember(owner, member)
	case *ModuleEntry:
		target, ok := owner.Members[member]
		if !ok {
			return nil, false
		}
		return c.Lookup(target)
	}
	return nil, false
}

// ResolveClassMember finds member on cls or the first class in its MRO that
// declares it.
func (c *Collection) ResolveClassMember(cls *ClassEntry, member string) (Entry, bool) {
	mro := cls.MRO
	if len(mro) == 0 {
		mro = []string{cls.ID}
	}
	for _, id := range mro {
		base, ok := c.entries[id].(*ClassEntry)
		if !ok {
			continue
		}
		if target, ok := base.Members[member]; ok {
			return c.Lookup(target)
		}
	}
	return nil, false
}

func cutLast(name string) (string, string, bool) {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return "", "", false
	}
	return name[:i], name[i+1:], true
}
