package service

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/curioapp/curio-server/internal/sse"
	"github.com/curioapp/curio-server/internal/store"
	"github.com/curioapp/curio-server/internal/tagraph"
)

// closureWorkers caps concurrent closure recomputation goroutines.
const closureWorkers = 8

// cascadeOptions tunes one propagation pass.
type cascadeOptions struct {
	// extraFileIDs / extraCollectionIDs are records to refresh beyond
	// those found through the tag indexes — the delete path passes ids
	// gathered before the graph was mutated.
	extraFileIDs       []string
	extraCollectionIDs []string

	// suppressNotify skips the batched update events; bulk paths emit a
	// single broad signal at the end instead.
	suppressNotify bool
}

// propagate recomputes everything derived from the graph after a structural
// change: materialized closures, dependent records' ancestor-inclusive tag
// sets, counts, and thumbs. changedTagIDs is the set of tags whose adjacency
// was touched; the affected set expands from there to every ancestor and
// descendant, since a single edge flip invalidates closures all the way up
// and down. Every write is diff-based, so re-running a propagation over an
// already-settled graph is a no-op.
func (s *TagService) propagate(ctx context.Context, changedTagIDs []string, opts cascadeOptions) error {
	affected, err := s.affectedTagIDs(ctx, changedTagIDs)
	if err != nil {
		return err
	}

	closureChanged, err := s.recomputeClosures(ctx, affected)
	if err != nil {
		return err
	}

	filesChanged, err := s.refreshFileAncestors(ctx, affected, opts.extraFileIDs)
	if err != nil {
		return err
	}
	collsChanged, err := s.refreshCollectionAncestors(ctx, affected, opts.extraCollectionIDs)
	if err != nil {
		return err
	}

	countUpdates, err := s.recalculateCounts(ctx, affected, true)
	if err != nil {
		return err
	}

	// Thumbs derive from the dependent files' ancestor sets, so they come
	// after the record refresh even though they are a tag-level artifact.
	thumbsChanged, err := s.recalculateThumbs(ctx, affected)
	if err != nil {
		return err
	}

	if !opts.suppressNotify {
		touched := tagraph.NewIDSet(closureChanged...)
		touched.AddAll(thumbsChanged)
		for _, u := range countUpdates {
			touched.Add(u.TagID)
		}
		if len(touched) > 0 {
			s.emitter.Emit(sse.NewTagsUpdatedEvent(touched.Sorted()))
		}
		if len(filesChanged) > 0 {
			s.emitter.Emit(sse.NewFilesUpdatedEvent(filesChanged))
		}
		if len(collsChanged) > 0 {
			s.emitter.Emit(sse.NewCollectionsUpdatedEvent(collsChanged))
		}
	}

	s.logger.Debug("cascade complete",
		"changed", len(changedTagIDs), "affected", len(affected),
		"closures", len(closureChanged), "files", len(filesChanged),
		"collections", len(collsChanged), "counts", len(countUpdates),
		"thumbs", len(thumbsChanged))
	return nil
}

// affectedTagIDs expands the changed set to every tag whose closure may have
// gone stale: the changed tags plus all their ancestors and descendants in
// the post-mutation graph. Both endpoints of every removed edge are already
// in changedTagIDs, so former relatives are covered too.
func (s *TagService) affectedTagIDs(ctx context.Context, changedTagIDs []string) ([]string, error) {
	if len(changedTagIDs) == 0 {
		return nil, nil
	}
	ancestors, err := tagraph.AncestorsOf(ctx, s.store, changedTagIDs, true)
	if err != nil {
		return nil, err
	}
	descendants, err := tagraph.DescendantsOf(ctx, s.store, changedTagIDs, true)
	if err != nil {
		return nil, err
	}
	affected := tagraph.NewIDSet(ancestors...)
	affected.AddAll(descendants)
	return affected.Sorted(), nil
}

// recomputeClosures re-derives and stores the ancestor/descendant closures
// for each tag, in parallel. Tags are independent here — each closure is a
// pure function of the live adjacency. Returns the ids whose stored closure
// actually changed. Ids that no longer resolve (deleted mid-cascade or
// dangling) are skipped.
func (s *TagService) recomputeClosures(ctx context.Context, tagIDs []string) ([]string, error) {
	var (
		mu      sync.Mutex
		changed []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(closureWorkers)
	for _, tagID := range tagIDs {
		g.Go(func() error {
			ancestors, err := tagraph.AncestorsOf(gctx, s.store, []string{tagID}, false)
			if err != nil {
				return err
			}
			descendants, err := tagraph.DescendantsOf(gctx, s.store, []string{tagID}, false)
			if err != nil {
				return err
			}
			wrote, err := s.store.SaveTagClosure(gctx, tagID, ancestors, descendants)
			if errors.Is(err, store.ErrTagNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if wrote {
				mu.Lock()
				changed = append(changed, tagID)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return changed, nil
}

// refreshFileAncestors recomputes TagIDsWithAncestors for every file whose
// direct or ancestor-inclusive tags intersect the affected set, writing back
// only on change. Returns the ids of files that changed.
func (s *TagService) refreshFileAncestors(ctx context.Context, affectedTagIDs, extraFileIDs []string) ([]string, error) {
	fileIDs, err := s.store.FindFileIDsByTagIDs(ctx, affectedTagIDs)
	if err != nil {
		return nil, err
	}
	ids := tagraph.NewIDSet(fileIDs...)
	ids.AddAll(extraFileIDs)

	var changed []string
	for _, fileID := range ids.Sorted() {
		f, err := s.store.GetFile(ctx, fileID)
		if errors.Is(err, store.ErrFileNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		withAncestors, err := tagraph.AncestorsOf(ctx, s.store, f.TagIDs, true)
		if err != nil {
			return nil, err
		}
		wrote, err := s.store.UpdateFileAncestorTags(ctx, fileID, withAncestors)
		if err != nil {
			return nil, err
		}
		if wrote {
			changed = append(changed, fileID)
		}
	}
	return changed, nil
}

// refreshCollectionAncestors is the collection-side counterpart of
// refreshFileAncestors.
func (s *TagService) refreshCollectionAncestors(ctx context.Context, affectedTagIDs, extraCollIDs []string) ([]string, error) {
	collIDs, err := s.store.FindCollectionIDsByTagIDs(ctx, affectedTagIDs)
	if err != nil {
		return nil, err
	}
	ids := tagraph.NewIDSet(collIDs...)
	ids.AddAll(extraCollIDs)

	var changed []string
	for _, collID := range ids.Sorted() {
		c, err := s.store.GetCollection(ctx, collID)
		if errors.Is(err, store.ErrCollectionNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		withAncestors, err := tagraph.AncestorsOf(ctx, s.store, c.TagIDs, true)
		if err != nil {
			return nil, err
		}
		wrote, err := s.store.UpdateCollectionAncestorTags(ctx, collID, withAncestors)
		if err != nil {
			return nil, err
		}
		if wrote {
			changed = append(changed, collID)
		}
	}
	return changed, nil
}

// recalculateThumbs re-derives each tag's representative thumbnail from the
// earliest-created file carrying it. Returns the ids whose thumb changed.
func (s *TagService) recalculateThumbs(ctx context.Context, tagIDs []string) ([]string, error) {
	var changed []string
	for _, tagID := range tagIDs {
		thumb, err := s.store.EarliestThumbByAncestorTag(ctx, tagID)
		if err != nil {
			return nil, err
		}
		wrote, err := s.store.SaveTagThumb(ctx, tagID, thumb)
		if errors.Is(err, store.ErrTagNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if wrote {
			changed = append(changed, tagID)
		}
	}
	return changed, nil
}
