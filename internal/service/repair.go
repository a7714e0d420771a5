package service

import (
	"context"

	"github.com/curioapp/curio-server/internal/domain"
	"github.com/curioapp/curio-server/internal/tagraph"
)

// RepairSummary reports what an orphan-repair pass changed for one tag.
type RepairSummary struct {
	TagID string `json:"tag_id"`

	// Healed edges: present on one side only, reciprocal added.
	HealedParentIDs []string `json:"healed_parent_ids,omitempty"`
	HealedChildIDs  []string `json:"healed_child_ids,omitempty"`

	// Pruned references to tag ids that no longer exist.
	PrunedParentIDs []string `json:"pruned_parent_ids,omitempty"`
	PrunedChildIDs  []string `json:"pruned_child_ids,omitempty"`
}

// IsZero reports whether the pass found nothing to fix.
func (r RepairSummary) IsZero() bool {
	return len(r.HealedParentIDs) == 0 && len(r.HealedChildIDs) == 0 &&
		len(r.PrunedParentIDs) == 0 && len(r.PrunedChildIDs) == 0
}

// RefreshTagRelations repairs one tag's neighborhood: every adjacency edge
// involving the tag that exists on only one side gains its reciprocal, and
// references to tags that no longer exist are pruned. Orphan edges come from
// manual data edits or a partially-failed bulk mutation; healing goes
// through the same cycle guard and planner as ordinary edits, and closures,
// counts and thumbs are recomputed for the affected set afterwards.
func (s *TagService) RefreshTagRelations(ctx context.Context, tagID string) (*RepairSummary, error) {
	t, err := s.store.GetTag(ctx, tagID)
	if err != nil {
		return nil, err
	}
	all, err := s.store.ListTags(ctx)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*domain.Tag, len(all))
	for _, other := range all {
		byID[other.ID] = other
	}

	summary := &RepairSummary{TagID: tagID}
	change := tagraph.RelationChange{TagID: tagID}
	var healParents, healChildren []string

	for _, pid := range t.ParentIDs {
		parent, ok := byID[pid]
		switch {
		case !ok:
			change.RemoveParentIDs = append(change.RemoveParentIDs, pid)
			summary.PrunedParentIDs = append(summary.PrunedParentIDs, pid)
		case !parent.HasChild(tagID):
			// Re-adding the parent edge makes the planner restore the
			// missing child side; the side already present is a set
			// insert no-op.
			healParents = append(healParents, pid)
		}
	}
	for _, cid := range t.ChildIDs {
		child, ok := byID[cid]
		switch {
		case !ok:
			change.RemoveChildIDs = append(change.RemoveChildIDs, cid)
			summary.PrunedChildIDs = append(summary.PrunedChildIDs, cid)
		case !child.HasParent(tagID):
			healChildren = append(healChildren, cid)
		}
	}

	for _, other := range all {
		if other.ID == tagID {
			continue
		}
		if other.HasParent(tagID) && !t.HasChild(other.ID) {
			healChildren = append(healChildren, other.ID)
		}
		if other.HasChild(tagID) && !t.HasParent(other.ID) {
			healParents = append(healParents, other.ID)
		}
	}

	if err := guardHeals(ctx, s.store, healChildren, healParents, &change, summary); err != nil {
		return nil, err
	}

	plan := tagraph.Plan([]tagraph.RelationChange{change})
	if !plan.IsZero() {
		if err := s.store.ApplyTagMutations(ctx, plan); err != nil {
			return nil, err
		}
		if err := s.propagate(ctx, plan.TagIDs(), cascadeOptions{}); err != nil {
			return nil, err
		}
		s.logger.Info("tag relations repaired", "tag_id", tagID,
			"healed_parents", summary.HealedParentIDs, "healed_children", summary.HealedChildIDs,
			"pruned_parents", summary.PrunedParentIDs, "pruned_children", summary.PrunedChildIDs)
	} else if err := s.propagate(ctx, []string{tagID}, cascadeOptions{}); err != nil {
		// Nothing structural to fix; still settle the derived fields.
		return nil, err
	}

	return summary, nil
}

// guardHeals runs proposed reciprocal additions through the cycle guard.
// Completing a one-sided edge is an edge addition like any other: where the
// reciprocal would close a loop, the corrupt one-sided reference is pruned
// instead of healed. The planner's symmetric removal makes the prune land on
// whichever side holds the reference.
func guardHeals(ctx context.Context, g tagraph.Graph, healChildren, healParents []string, change *tagraph.RelationChange, summary *RepairSummary) error {
	if len(healChildren) == 0 && len(healParents) == 0 {
		return nil
	}

	check, err := tagraph.CheckRelations(ctx, g, change.TagID, healChildren, healParents)
	if err != nil {
		return err
	}

	change.AddParentIDs = append(change.AddParentIDs, check.ValidParentIDs...)
	change.AddChildIDs = append(change.AddChildIDs, check.ValidChildIDs...)
	summary.HealedParentIDs = append(summary.HealedParentIDs, check.ValidParentIDs...)
	summary.HealedChildIDs = append(summary.HealedChildIDs, check.ValidChildIDs...)

	for _, rej := range check.Rejected {
		switch rej.Relation {
		case "parent":
			change.RemoveParentIDs = append(change.RemoveParentIDs, rej.RelatedID)
			summary.PrunedParentIDs = append(summary.PrunedParentIDs, rej.RelatedID)
		case "child":
			change.RemoveChildIDs = append(change.RemoveChildIDs, rej.RelatedID)
			summary.PrunedChildIDs = append(summary.PrunedChildIDs, rej.RelatedID)
		}
	}
	return nil
}

// LibraryRepairSummary aggregates a whole-graph repair pass.
type LibraryRepairSummary struct {
	TagsScanned  int             `json:"tags_scanned"`
	Repairs      []RepairSummary `json:"repairs,omitempty"`
	CountUpdates int             `json:"count_updates"`
}

// RepairLibrary runs the consistency pass over the entire graph: every
// asymmetric edge is healed, every dangling reference pruned, then closures,
// dependent records, counts and thumbs are recomputed for all tags. Used by
// the offline repair command.
func (s *TagService) RepairLibrary(ctx context.Context) (*LibraryRepairSummary, error) {
	all, err := s.store.ListTags(ctx)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*domain.Tag, len(all))
	allIDs := make([]string, 0, len(all))
	for _, t := range all {
		byID[t.ID] = t
		allIDs = append(allIDs, t.ID)
	}

	summary := &LibraryRepairSummary{TagsScanned: len(all)}
	var changes []tagraph.RelationChange

	// Heals accepted for earlier tags are layered over the stored graph so
	// two independent one-sided corruptions cannot heal into a cycle.
	overlay := newOverlayGraph(s.store)

	// One direction per pair is enough; the planner writes both sides.
	for _, t := range all {
		repair := RepairSummary{TagID: t.ID}
		change := tagraph.RelationChange{TagID: t.ID}
		var healParents, healChildren []string

		for _, pid := range t.ParentIDs {
			parent, ok := byID[pid]
			switch {
			case !ok:
				change.RemoveParentIDs = append(change.RemoveParentIDs, pid)
				repair.PrunedParentIDs = append(repair.PrunedParentIDs, pid)
			case !parent.HasChild(t.ID):
				healParents = append(healParents, pid)
			}
		}
		for _, cid := range t.ChildIDs {
			child, ok := byID[cid]
			switch {
			case !ok:
				change.RemoveChildIDs = append(change.RemoveChildIDs, cid)
				repair.PrunedChildIDs = append(repair.PrunedChildIDs, cid)
			case !child.HasParent(t.ID):
				healChildren = append(healChildren, cid)
			}
		}

		if err := guardHeals(ctx, overlay, healChildren, healParents, &change, &repair); err != nil {
			return nil, err
		}

		if !change.IsZero() {
			overlay.addChange(change)
			changes = append(changes, change)
			summary.Repairs = append(summary.Repairs, repair)
		}
	}

	plan := tagraph.Plan(changes)
	if !plan.IsZero() {
		if err := s.store.ApplyTagMutations(ctx, plan); err != nil {
			return nil, err
		}
	}

	closureChanged, err := s.recomputeClosures(ctx, allIDs)
	if err != nil {
		return nil, err
	}
	if _, err := s.refreshFileAncestors(ctx, allIDs, nil); err != nil {
		return nil, err
	}
	if _, err := s.refreshCollectionAncestors(ctx, allIDs, nil); err != nil {
		return nil, err
	}
	countUpdates, err := s.recalculateCounts(ctx, allIDs, true)
	if err != nil {
		return nil, err
	}
	if _, err := s.recalculateThumbs(ctx, allIDs); err != nil {
		return nil, err
	}
	summary.CountUpdates = len(countUpdates)

	s.logger.Info("library repair complete",
		"tags", summary.TagsScanned, "repairs", len(summary.Repairs),
		"closure_updates", len(closureChanged), "count_updates", summary.CountUpdates)
	return summary, nil
}
