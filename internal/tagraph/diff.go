package tagraph

// DiffResult is the minimal change between two adjacency lists.
type DiffResult struct {
	Added   []string
	Removed []string
}

// IsZero reports whether the diff contains no changes.
func (d DiffResult) IsZero() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// Diff computes the set difference between an old adjacency list and a
// requested new one. Duplicates in either input are collapsed; results are
// sorted for determinism.
func Diff(oldIDs, newIDs []string) DiffResult {
	oldSet := NewIDSet(oldIDs...)
	newSet := NewIDSet(newIDs...)

	added := make(IDSet)
	for id := range newSet {
		if !oldSet.Has(id) {
			added.Add(id)
		}
	}
	removed := make(IDSet)
	for id := range oldSet {
		if !newSet.Has(id) {
			removed.Add(id)
		}
	}

	return DiffResult{Added: added.Sorted(), Removed: removed.Sorted()}
}
