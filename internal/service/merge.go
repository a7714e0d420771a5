package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/curioapp/curio-server/internal/domain"
	domainerrors "github.com/curioapp/curio-server/internal/errors"
	"github.com/curioapp/curio-server/internal/sse"
	"github.com/curioapp/curio-server/internal/tagraph"
)

// MergeOverrides are attribute values forced onto the surviving tag after a
// merge. Nil fields keep the merged result.
type MergeOverrides struct {
	Label     *string   `json:"label" validate:"omitnil,min=1,max=120"`
	Aliases   *[]string `json:"aliases"`
	RegEx     *string   `json:"regex"`
	ParentIDs *[]string `json:"parent_ids"`
	ChildIDs  *[]string `json:"child_ids"`
}

// MergeTags folds mergeID into keepID: every dependent record and adjacency
// reference to mergeID moves to keepID, attributes combine (keep wins,
// overrides win over both), and mergeID is deleted.
//
// Reference reassignment runs add-then-remove so a record holding the merged
// tag is never transiently tag-less. Adjacency moves run removals first,
// then cycle-guarded additions on the survivor, so no duplicate or
// cycle-forming edge can land. There is no rollback across these bulk units;
// a mid-merge failure is logged with full context and the broad refresh
// signal still fires, so clients re-fetch rather than display a
// half-merged graph.
func (s *TagService) MergeTags(ctx context.Context, keepID, mergeID string, overrides *MergeOverrides) error {
	if keepID == mergeID {
		return domainerrors.Validation("cannot merge a tag into itself")
	}
	if overrides != nil {
		if overrides.Label != nil {
			trimmed := strings.TrimSpace(*overrides.Label)
			overrides.Label = &trimmed
		}
		if err := s.validator.Validate(*overrides); err != nil {
			return err
		}
	}

	keep, err := s.store.GetTag(ctx, keepID)
	if err != nil {
		return err
	}
	merge, err := s.store.GetTag(ctx, mergeID)
	if err != nil {
		return err
	}

	// Clients may hold direct references to the merged id that no
	// "updated" event covers, so the broad signal goes out regardless of
	// how the merge ends.
	defer s.emitter.Emit(sse.NewLibraryRefreshEvent())

	fileIDs, collIDs, err := s.reassignReferences(ctx, keepID, mergeID)
	if err != nil {
		s.logger.Error("merge failed during reference reassignment",
			"keep_id", keepID, "merge_id", mergeID, "error", err)
		return fmt.Errorf("merge %s into %s: reassign references: %w", mergeID, keepID, err)
	}

	touched, rejected, err := s.moveAdjacency(ctx, keep, merge)
	if err != nil {
		s.logger.Error("merge failed during adjacency rewrite",
			"keep_id", keepID, "merge_id", mergeID, "error", err)
		return fmt.Errorf("merge %s into %s: move adjacency: %w", mergeID, keepID, err)
	}
	if len(rejected) > 0 {
		s.logger.Warn("merge dropped cycle-risk relations",
			"keep_id", keepID, "merge_id", mergeID, "rejected", rejected)
	}

	if err := s.mergeAttributes(ctx, keep, merge, overrides); err != nil {
		s.logger.Error("merge failed during attribute merge",
			"keep_id", keepID, "merge_id", mergeID, "error", err)
		return fmt.Errorf("merge %s into %s: merge attributes: %w", mergeID, keepID, err)
	}

	if err := s.store.DeleteTag(ctx, mergeID); err != nil {
		s.logger.Error("merge failed deleting merged tag",
			"keep_id", keepID, "merge_id", mergeID, "error", err)
		return fmt.Errorf("merge %s into %s: delete merged tag: %w", mergeID, keepID, err)
	}

	// Override adjacency lists are an absolute edit on the survivor,
	// applied after the merged tag is gone so its edges cannot resurrect.
	if overrides != nil && (overrides.ParentIDs != nil || overrides.ChildIDs != nil) {
		summary, err := s.EditTag(ctx, keepID, EditTagRequest{
			ParentIDs: overrides.ParentIDs,
			ChildIDs:  overrides.ChildIDs,
		})
		if err != nil {
			return fmt.Errorf("merge %s into %s: apply adjacency overrides: %w", mergeID, keepID, err)
		}
		if len(summary.Rejected) > 0 {
			s.logger.Warn("merge adjacency overrides dropped cycle-risk relations",
				"keep_id", keepID, "rejected", summary.Rejected)
		}
	}

	if err := s.propagate(ctx, touched, cascadeOptions{
		extraFileIDs:       fileIDs,
		extraCollectionIDs: collIDs,
	}); err != nil {
		s.logger.Error("merge failed during cascade",
			"keep_id", keepID, "merge_id", mergeID, "error", err)
		return fmt.Errorf("merge %s into %s: cascade: %w", mergeID, keepID, err)
	}

	s.emitter.Emit(sse.NewTagMergedEvent(mergeID, keepID))
	s.logger.Info("tags merged", "keep_id", keepID, "merge_id", mergeID,
		"files", len(fileIDs), "collections", len(collIDs))
	return nil
}

// reassignReferences moves every direct dependent-record reference from
// mergeID to keepID, add-then-remove. Returns the touched file and
// collection ids.
func (s *TagService) reassignReferences(ctx context.Context, keepID, mergeID string) (fileIDs, collIDs []string, err error) {
	candidateFileIDs, err := s.store.FindFileIDsByTagIDs(ctx, []string{mergeID})
	if err != nil {
		return nil, nil, err
	}
	files, err := s.store.FilesByIDs(ctx, candidateFileIDs)
	if err != nil {
		return nil, nil, err
	}
	for _, f := range files {
		// The index also matches transitive holders; only direct
		// references move.
		if f.HasTag(mergeID) {
			fileIDs = append(fileIDs, f.ID)
		}
	}
	if err := s.store.AddTagToFiles(ctx, fileIDs, keepID); err != nil {
		return nil, nil, err
	}
	if err := s.store.RemoveTagFromFiles(ctx, fileIDs, mergeID); err != nil {
		return nil, nil, err
	}

	candidateCollIDs, err := s.store.FindCollectionIDsByTagIDs(ctx, []string{mergeID})
	if err != nil {
		return nil, nil, err
	}
	for _, collID := range candidateCollIDs {
		c, err := s.store.GetCollection(ctx, collID)
		if err != nil {
			return nil, nil, err
		}
		if c.HasTag(mergeID) {
			collIDs = append(collIDs, collID)
		}
	}
	if err := s.store.AddTagToCollections(ctx, collIDs, keepID); err != nil {
		return nil, nil, err
	}
	if err := s.store.RemoveTagFromCollections(ctx, collIDs, mergeID); err != nil {
		return nil, nil, err
	}

	if err := s.store.ReplaceTagInBatches(ctx, mergeID, keepID); err != nil {
		return nil, nil, err
	}
	return fileIDs, collIDs, nil
}

// moveAdjacency detaches the merged tag from the graph and re-attaches its
// former relations to the survivor, skipping edges the survivor already has
// and edges that would form a cycle. Returns every tag id whose adjacency
// was touched plus the guard's rejections.
func (s *TagService) moveAdjacency(ctx context.Context, keep, merge *domain.Tag) ([]string, []tagraph.RejectedRelation, error) {
	touched := tagraph.NewIDSet(keep.ID)

	removalPlan := tagraph.Plan([]tagraph.RelationChange{{
		TagID:           merge.ID,
		RemoveParentIDs: merge.ParentIDs,
		RemoveChildIDs:  merge.ChildIDs,
	}})
	if !removalPlan.IsZero() {
		if err := s.store.ApplyTagMutations(ctx, removalPlan); err != nil {
			return nil, nil, err
		}
		for _, tagID := range removalPlan.TagIDs() {
			if tagID != merge.ID {
				touched.Add(tagID)
			}
		}
	}

	// Re-read the survivor; the removal pass may have touched it.
	keep, err := s.store.GetTag(ctx, keep.ID)
	if err != nil {
		return nil, nil, err
	}

	var addParents, addChildren []string
	for _, pid := range merge.ParentIDs {
		if pid != keep.ID && !keep.HasParent(pid) {
			addParents = append(addParents, pid)
		}
	}
	for _, cid := range merge.ChildIDs {
		if cid != keep.ID && !keep.HasChild(cid) {
			addChildren = append(addChildren, cid)
		}
	}

	check, err := tagraph.CheckRelations(ctx, s.store, keep.ID, addChildren, addParents)
	if err != nil {
		return nil, nil, err
	}

	additionPlan := tagraph.Plan([]tagraph.RelationChange{{
		TagID:        keep.ID,
		AddParentIDs: check.ValidParentIDs,
		AddChildIDs:  check.ValidChildIDs,
	}})
	if !additionPlan.IsZero() {
		if err := s.store.ApplyTagMutations(ctx, additionPlan); err != nil {
			return nil, nil, err
		}
		touched.AddAll(additionPlan.TagIDs())
	}

	return touched.Sorted(), check.Rejected, nil
}

// mergeAttributes folds the merged tag's searchable attributes into the
// survivor: its label and aliases become aliases, its regex fills an empty
// one, and explicit overrides win over everything.
func (s *TagService) mergeAttributes(ctx context.Context, keep, merge *domain.Tag, overrides *MergeOverrides) error {
	t, err := s.store.GetTag(ctx, keep.ID)
	if err != nil {
		return err
	}

	aliases := append([]string{}, t.Aliases...)
	seen := tagraph.NewIDSet(aliases...)
	seen.Add(t.Label)
	for _, a := range append([]string{merge.Label}, merge.Aliases...) {
		if seen.Add(a) {
			aliases = append(aliases, a)
		}
	}
	t.Aliases = aliases

	if t.RegEx == "" {
		t.RegEx = merge.RegEx
	}

	if overrides != nil {
		if overrides.Label != nil {
			t.Label = *overrides.Label
		}
		if overrides.Aliases != nil {
			t.Aliases = *overrides.Aliases
		}
		if overrides.RegEx != nil {
			t.RegEx = *overrides.RegEx
		}
	}

	t.Touch()
	return s.store.UpdateTag(ctx, t)
}
