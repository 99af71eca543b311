package extract

import (
	"errors"
	"slices"
)

// objectID is the root of every class hierarchy.
const objectID = "builtins.object"

var errInconsistentMRO = errors.New("cannot create a consistent method resolution order")

// linearize computes the C3 linearization of a class from its direct bases.
// mroOf returns the linearization of a base.
func linearize(id string, bases []string, mroOf func(string) []string) ([]string, error) {
	var seqs [][]string
	for _, b := range bases {
		seqs = append(seqs, slices.Clone(mroOf(b)))
	}
	seqs = append(seqs, slices.Clone(bases))

	result := []string{id}
	for {
		seqs = slices.DeleteFunc(seqs, func(s []string) bool { return len(s) == 0 })
		if len(seqs) == 0 {
			return result, nil
		}
		var head string
		for _, s := range seqs {
			candidate := s[0]
			if !inTail(candidate, seqs) {
				head = candidate
				break
			}
		}
		if head == "" {
			return nil, errInconsistentMRO
		}
		result = append(result, head)
		for i, s := range seqs {
			if s[0] == head {
				seqs[i] = s[1:]
			}
		}
	}
}

func inTail(id string, seqs [][]string) bool {
	for _, s := range seqs {
		if slices.Contains(s[1:], id) {
			return true
		}
	}
	return false
}

// depthFirst is the fallback order for hierarchies C3 rejects: a
// de-duplicated depth-first walk with builtins.object last.
func depthFirst(id string, bases []string, mroOf func(string) []string) []string {
	result := []string{id}
	seen := map[string]bool{id: true, objectID: true}
	for _, b := range bases {
		for _, ancestor := range mroOf(b) {
			if !seen[ancestor] {
				seen[ancestor] = true
				result = append(result, ancestor)
			}
		}
	}
	return append(result, objectID)
}

// externalMRO is the linearization assumed for a class outside the package.
func externalMRO(id string) []string {
	if id == objectID {
		return []string{objectID}
	}
	return []string{id, objectID}
}
