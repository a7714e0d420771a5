// Package tagraph implements the tag hierarchy graph algorithms: transitive
// closure traversal, adjacency diffing, cycle validation, and symmetric
// mutation planning. Everything here is pure — adjacency is read through the
// Graph interface and no writes happen in this package.
package tagraph

import "slices"

// IDSet is a set of tag ids.
type IDSet map[string]struct{}

// NewIDSet builds a set from the given ids.
func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Add inserts id into the set. Returns true if it was not already present.
func (s IDSet) Add(id string) bool {
	if _, ok := s[id]; ok {
		return false
	}
	s[id] = struct{}{}
	return true
}

// Has reports whether id is in the set.
func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Delete removes id from the set.
func (s IDSet) Delete(id string) {
	delete(s, id)
}

// AddAll inserts every id in ids.
func (s IDSet) AddAll(ids []string) {
	for _, id := range ids {
		s[id] = struct{}{}
	}
}

// Sorted returns the set's members as a sorted slice.
// Deterministic ordering keeps persisted closure fields stable, which is what
// makes write-if-changed comparisons and recompute idempotence work.
func (s IDSet) Sorted() []string {
	if len(s) == 0 {
		return nil
	}
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Equal reports whether the set contains exactly the given ids.
func (s IDSet) Equal(ids []string) bool {
	if len(s) != len(ids) {
		return false
	}
	for _, id := range ids {
		if !s.Has(id) {
			return false
		}
	}
	return true
}

// SameIDs reports whether two id slices contain the same members,
// ignoring order and duplicates.
func SameIDs(a, b []string) bool {
	return NewIDSet(a...).Equal(NewIDSet(b...).Sorted())
}
