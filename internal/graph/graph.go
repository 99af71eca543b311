// Package graph builds the reference graph of a collection and computes the
// public surface reachable from its top-level modules.
package graph

import (
	"sort"

	"github.com/phobologic/apidrift/internal/model"
)

// Edge is one reference from a container entry to another entry: a named
// member, or an ancestor class when Name is empty.
type Edge struct {
	Source string
	Target string
	Name   string
}

// Inherits reports whether the edge links a class to an ancestor in its MRO.
func (e Edge) Inherits() bool { return e.Name == "" }

// BuildGraph returns the member and inheritance edges of c. Edges to the
// external sentinel and to ids outside c are dropped. The result is sorted
// by source, then name, then target.
func BuildGraph(c *model.Collection) []Edge {
	var edges []Edge
	for _, id := range c.IDs() {
		e, _ := c.Lookup(id)
		container, ok := e.(model.Container)
		if !ok {
			continue
		}
		for name, target := range container.MemberMap() {
			if _, known := c.Lookup(target); !known || target == model.ExternalID {
				continue
			}
			edges = append(edges, Edge{Source: id, Target: target, Name: name})
		}
		cls, ok := e.(*model.ClassEntry)
		if !ok {
			continue
		}
		for _, ancestor := range cls.MRO {
			if ancestor == id || !contains(c, ancestor) {
				continue
			}
			edges = append(edges, Edge{Source: id, Target: ancestor})
		}
	}

	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Source != edges[j].Source {
			return edges[i].Source < edges[j].Source
		}
		if edges[i].Name != edges[j].Name {
			return edges[i].Name < edges[j].Name
		}
		return edges[i].Target < edges[j].Target
	})
	return edges
}

// PublicSurface returns the ids reachable from c's top-level modules through
// public member names. Members of a reachable class's ancestors are reachable
// through the class even when the ancestor itself is private.
func PublicSurface(c *model.Collection) map[string]struct{} {
	out := make(map[string][]Edge)
	for _, e := range BuildGraph(c) {
		out[e.Source] = append(out[e.Source], e)
	}

	reached := make(map[string]struct{})
	// Ancestors walked only for their members are tracked separately so a
	// private base does not itself become public.
	expanded := make(map[string]struct{})
	var queue []string
	for _, id := range c.TopLevel() {
		if contains(c, id) {
			reached[id] = struct{}{}
			queue = append(queue, id)
		}
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, done := expanded[id]; done {
			continue
		}
		expanded[id] = struct{}{}

		for _, e := range out[id] {
			if e.Inherits() {
				queue = append(queue, e.Target)
				continue
			}
			if model.IsPrivateName(e.Name) {
				continue
			}
			reached[e.Target] = struct{}{}
			queue = append(queue, e.Target)
		}
	}
	return reached
}

func contains(c *model.Collection, id string) bool {
	_, ok := c.Lookup(id)
	return ok
}
