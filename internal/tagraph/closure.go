package tagraph

import (
	"context"

	"github.com/curioapp/curio-server/internal/domain"
)

// Graph provides adjacency lookups for traversal. The store implements it;
// tests use an in-memory map. Ids that do not resolve are silently skipped —
// a dangling reference simply contributes no further edges.
type Graph interface {
	TagsByIDs(ctx context.Context, ids []string) ([]*domain.Tag, error)
}

// AncestorsOf computes the transitive ancestor set of the seed ids by
// breadth-first traversal of parent edges. When includeSeeds is false the
// seed ids are excluded from the result even if reachable from another seed.
func AncestorsOf(ctx context.Context, g Graph, seedIDs []string, includeSeeds bool) ([]string, error) {
	return traverse(ctx, g, seedIDs, includeSeeds, func(t *domain.Tag) []string { return t.ParentIDs })
}

// DescendantsOf computes the transitive descendant set of the seed ids by
// breadth-first traversal of child edges.
func DescendantsOf(ctx context.Context, g Graph, seedIDs []string, includeSeeds bool) ([]string, error) {
	return traverse(ctx, g, seedIDs, includeSeeds, func(t *domain.Tag) []string { return t.ChildIDs })
}

// traverse runs the BFS fixed point: expand the frontier one hop at a time,
// deduplicating through the visited set, until no new ids appear. The visited
// set is the only cycle defense — the cycle guard keeps the persisted graph
// acyclic, so this terminates.
func traverse(ctx context.Context, g Graph, seedIDs []string, includeSeeds bool, edges func(*domain.Tag) []string) ([]string, error) {
	if len(seedIDs) == 0 {
		return nil, nil
	}

	visited := NewIDSet(seedIDs...)
	frontier := make([]string, 0, len(seedIDs))
	frontier = append(frontier, seedIDs...)

	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		tags, err := g.TagsByIDs(ctx, frontier)
		if err != nil {
			return nil, err
		}

		frontier = frontier[:0]
		for _, t := range tags {
			for _, next := range edges(t) {
				if visited.Add(next) {
					frontier = append(frontier, next)
				}
			}
		}
	}

	if !includeSeeds {
		for _, id := range seedIDs {
			visited.Delete(id)
		}
	}
	return visited.Sorted(), nil
}
