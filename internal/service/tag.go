// Package service orchestrates tag hierarchy operations over the store.
//
// Every public operation runs the same pipeline: validate inputs, diff the
// requested adjacency against the stored adjacency, drop cycle-risk edges via
// the guard, build a symmetric mutation plan, apply it as one bulk unit, then
// cascade closures, dependent records, counts and thumbs before notifying.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/curioapp/curio-server/internal/domain"
	domainerrors "github.com/curioapp/curio-server/internal/errors"
	"github.com/curioapp/curio-server/internal/id"
	"github.com/curioapp/curio-server/internal/sse"
	"github.com/curioapp/curio-server/internal/store"
	"github.com/curioapp/curio-server/internal/tagraph"
	"github.com/curioapp/curio-server/internal/validation"
)

// TagService orchestrates tag hierarchy operations.
type TagService struct {
	store     *store.Store
	emitter   sse.Emitter
	validator *validation.Validator
	logger    *slog.Logger
}

// NewTagService creates a new tag service.
func NewTagService(st *store.Store, emitter sse.Emitter, logger *slog.Logger) *TagService {
	if emitter == nil {
		emitter = sse.NewNoopEmitter()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &TagService{
		store:     st,
		emitter:   emitter,
		validator: validation.New(),
		logger:    logger,
	}
}

// TagEditSummary reports what a create/edit actually did: the tag as stored
// after the operation, the adjacency diffs that applied, and the proposed
// edges the cycle guard dropped. Rejections are data, not an error — the
// valid subset of an edit still lands.
type TagEditSummary struct {
	Tag        *domain.Tag                `json:"tag"`
	ParentDiff tagraph.DiffResult         `json:"parent_diff"`
	ChildDiff  tagraph.DiffResult         `json:"child_diff"`
	Rejected   []tagraph.RejectedRelation `json:"rejected,omitempty"`
}

// GetTag returns a single tag.
func (s *TagService) GetTag(ctx context.Context, tagID string) (*domain.Tag, error) {
	return s.store.GetTag(ctx, tagID)
}

// GetTagByLabel returns a tag by its label (case-insensitive).
func (s *TagService) GetTagByLabel(ctx context.Context, label string) (*domain.Tag, error) {
	return s.store.GetTagByLabel(ctx, label)
}

// FindTagByLabelOrAlias resolves a name against labels first, then aliases.
// Alias resolution is a scan; callers on hot paths should resolve by id.
func (s *TagService) FindTagByLabelOrAlias(ctx context.Context, name string) (*domain.Tag, error) {
	t, err := s.store.GetTagByLabel(ctx, name)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, store.ErrTagNotFound) {
		return nil, err
	}

	all, err := s.store.ListTags(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range all {
		for _, alias := range t.Aliases {
			if strings.EqualFold(alias, name) {
				return t, nil
			}
		}
	}
	return nil, domainerrors.NotFound("tag not found: " + name)
}

// ListTags returns all tags ordered by usage.
func (s *TagService) ListTags(ctx context.Context) ([]*domain.Tag, error) {
	return s.store.ListTags(ctx)
}

// CreateTagRequest contains fields for creating a tag.
type CreateTagRequest struct {
	Label     string   `json:"label" validate:"required,min=1,max=120"`
	Aliases   []string `json:"aliases"`
	ParentIDs []string `json:"parent_ids"`
	ChildIDs  []string `json:"child_ids"`
	RegEx     string   `json:"regex"`
}

// CreateTag creates a new tag, optionally seeded with parent/child relations.
// Seeded relations go through the cycle guard like any edit; rejected edges
// are reported on the summary while the rest of the tag is created normally.
func (s *TagService) CreateTag(ctx context.Context, req CreateTagRequest) (*TagEditSummary, error) {
	// Trim first so a whitespace-only label fails the required rule instead
	// of slipping through and storing an empty label.
	req.Label = strings.TrimSpace(req.Label)
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	tagID, err := id.Generate("tag")
	if err != nil {
		return nil, err
	}

	check, err := tagraph.CheckRelations(ctx, s.store, tagID, req.ChildIDs, req.ParentIDs)
	if err != nil {
		return nil, err
	}

	t := &domain.Tag{
		ID:      tagID,
		Label:   req.Label,
		Aliases: req.Aliases,
		RegEx:   req.RegEx,
	}
	t.InitTimestamps()

	if err := s.store.CreateTag(ctx, t); err != nil {
		if errors.Is(err, store.ErrTagExists) {
			return nil, domainerrors.AlreadyExists("tag label already in use").WithCause(err)
		}
		return nil, err
	}

	plan := tagraph.Plan([]tagraph.RelationChange{{
		TagID:        tagID,
		AddParentIDs: check.ValidParentIDs,
		AddChildIDs:  check.ValidChildIDs,
	}})
	if !plan.IsZero() {
		if err := s.store.ApplyTagMutations(ctx, plan); err != nil {
			return nil, err
		}
		if err := s.propagate(ctx, plan.TagIDs(), cascadeOptions{}); err != nil {
			return nil, err
		}
	}

	t, err = s.store.GetTag(ctx, tagID)
	if err != nil {
		return nil, err
	}

	s.emitter.Emit(sse.NewTagCreatedEvent(t))
	s.logger.Info("tag created",
		"tag_id", tagID, "label", t.Label,
		"parents", len(check.ValidParentIDs), "children", len(check.ValidChildIDs),
		"rejected", len(check.Rejected))

	return &TagEditSummary{
		Tag:        t,
		ParentDiff: tagraph.DiffResult{Added: check.ValidParentIDs},
		ChildDiff:  tagraph.DiffResult{Added: check.ValidChildIDs},
		Rejected:   check.Rejected,
	}, nil
}

// FindOrCreateTagByLabel returns the tag with the given label, creating it
// if none exists. The bool reports whether a new tag was created.
func (s *TagService) FindOrCreateTagByLabel(ctx context.Context, label string) (*domain.Tag, bool, error) {
	t, err := s.store.GetTagByLabel(ctx, label)
	if err == nil {
		return t, false, nil
	}
	if !errors.Is(err, store.ErrTagNotFound) {
		return nil, false, err
	}

	summary, err := s.CreateTag(ctx, CreateTagRequest{Label: label})
	if err != nil {
		return nil, false, err
	}
	return summary.Tag, true, nil
}

// EditTagRequest contains partial attribute and adjacency updates for a tag.
// Pointer fields replace the stored value wholesale; the *ToAdd/*ToRemove
// lists apply deltas on top. Closures, count and thumb are derived and not
// editable here.
type EditTagRequest struct {
	Label   *string   `json:"label" validate:"omitnil,min=1,max=120"`
	Aliases *[]string `json:"aliases"`
	RegEx   *string   `json:"regex"`

	ParentIDs *[]string `json:"parent_ids"`
	ChildIDs  *[]string `json:"child_ids"`

	ParentIDsToAdd    []string `json:"parent_ids_to_add"`
	ParentIDsToRemove []string `json:"parent_ids_to_remove"`
	ChildIDsToAdd     []string `json:"child_ids_to_add"`
	ChildIDsToRemove  []string `json:"child_ids_to_remove"`
}

// EditTag applies a partial update to one tag. Attribute changes and
// adjacency changes can be mixed in one request; re-adding an existing
// relation or re-removing an absent one is a no-op, not an error.
func (s *TagService) EditTag(ctx context.Context, tagID string, req EditTagRequest) (*TagEditSummary, error) {
	if req.Label != nil {
		trimmed := strings.TrimSpace(*req.Label)
		req.Label = &trimmed
	}
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	t, err := s.store.GetTag(ctx, tagID)
	if err != nil {
		return nil, err
	}

	attrChanged := false
	if req.Label != nil && *req.Label != t.Label {
		t.Label = *req.Label
		attrChanged = true
	}
	if req.Aliases != nil && !tagraph.SameIDs(t.Aliases, *req.Aliases) {
		t.Aliases = *req.Aliases
		attrChanged = true
	}
	if req.RegEx != nil && *req.RegEx != t.RegEx {
		t.RegEx = *req.RegEx
		attrChanged = true
	}
	if attrChanged {
		t.Touch()
		if err := s.store.UpdateTag(ctx, t); err != nil {
			if errors.Is(err, store.ErrTagExists) {
				return nil, domainerrors.AlreadyExists("tag label already in use").WithCause(err)
			}
			return nil, err
		}
	}

	change, check, err := s.resolveRelationEdit(ctx, s.store, t, relationEdit{
		parentIDs:         req.ParentIDs,
		childIDs:          req.ChildIDs,
		parentIDsToAdd:    req.ParentIDsToAdd,
		parentIDsToRemove: req.ParentIDsToRemove,
		childIDsToAdd:     req.ChildIDsToAdd,
		childIDsToRemove:  req.ChildIDsToRemove,
	})
	if err != nil {
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
	} else if attrChanged {
		s.emitter.Emit(sse.NewTagsUpdatedEvent([]string{tagID}))
	}

	t, err = s.store.GetTag(ctx, tagID)
	if err != nil {
		return nil, err
	}

	if len(check.Rejected) > 0 {
		s.logger.Warn("tag edit dropped cycle-risk relations", "tag_id", tagID, "rejected", check.Rejected)
	}
	s.logger.Debug("tag edited", "tag_id", tagID, "attrs_changed", attrChanged, "plan_size", len(plan.Mutations))

	return &TagEditSummary{
		Tag:        t,
		ParentDiff: tagraph.DiffResult{Added: change.AddParentIDs, Removed: change.RemoveParentIDs},
		ChildDiff:  tagraph.DiffResult{Added: change.AddChildIDs, Removed: change.RemoveChildIDs},
		Rejected:   check.Rejected,
	}, nil
}

// relationEdit is the normalized adjacency portion of an edit request.
type relationEdit struct {
	parentIDs         *[]string
	childIDs          *[]string
	parentIDsToAdd    []string
	parentIDsToRemove []string
	childIDsToAdd     []string
	childIDsToRemove  []string
}

// resolveRelationEdit turns a requested adjacency edit for one tag into a
// guarded RelationChange: absolute lists are diffed against the stored
// adjacency, delta lists are merged in, already-present adds and absent
// removes drop out, and additions pass through the cycle guard. g is the
// graph the guard traverses, which may overlay pending additions from
// earlier edits in the same batch.
func (s *TagService) resolveRelationEdit(ctx context.Context, g tagraph.Graph, t *domain.Tag, edit relationEdit) (tagraph.RelationChange, tagraph.RelationCheck, error) {
	addParents := tagraph.NewIDSet()
	removeParents := tagraph.NewIDSet()
	addChildren := tagraph.NewIDSet()
	removeChildren := tagraph.NewIDSet()

	if edit.parentIDs != nil {
		d := tagraph.Diff(t.ParentIDs, *edit.parentIDs)
		addParents.AddAll(d.Added)
		removeParents.AddAll(d.Removed)
	}
	if edit.childIDs != nil {
		d := tagraph.Diff(t.ChildIDs, *edit.childIDs)
		addChildren.AddAll(d.Added)
		removeChildren.AddAll(d.Removed)
	}
	for _, pid := range edit.parentIDsToAdd {
		if !t.HasParent(pid) {
			addParents.Add(pid)
		}
	}
	for _, pid := range edit.parentIDsToRemove {
		if t.HasParent(pid) {
			removeParents.Add(pid)
		}
		addParents.Delete(pid)
	}
	for _, cid := range edit.childIDsToAdd {
		if !t.HasChild(cid) {
			addChildren.Add(cid)
		}
	}
	for _, cid := range edit.childIDsToRemove {
		if t.HasChild(cid) {
			removeChildren.Add(cid)
		}
		addChildren.Delete(cid)
	}

	check, err := tagraph.CheckRelations(ctx, g, t.ID, addChildren.Sorted(), addParents.Sorted())
	if err != nil {
		return tagraph.RelationChange{}, tagraph.RelationCheck{}, err
	}

	return tagraph.RelationChange{
		TagID:           t.ID,
		AddParentIDs:    check.ValidParentIDs,
		RemoveParentIDs: removeParents.Sorted(),
		AddChildIDs:     check.ValidChildIDs,
		RemoveChildIDs:  removeChildren.Sorted(),
	}, check, nil
}

// MultiTagRelationEdit applies the same relation deltas to every tag in
// TagIDs.
type MultiTagRelationEdit struct {
	TagIDs            []string `json:"tag_ids" validate:"required,min=1"`
	ParentIDsToAdd    []string `json:"parent_ids_to_add"`
	ParentIDsToRemove []string `json:"parent_ids_to_remove"`
	ChildIDsToAdd     []string `json:"child_ids_to_add"`
	ChildIDsToRemove  []string `json:"child_ids_to_remove"`
}

// MultiTagEditSummary carries the per-tag outcomes of a batch relation edit
// plus the combined rejection list.
type MultiTagEditSummary struct {
	Edits    []TagEditSummary           `json:"edits"`
	Rejected []tagraph.RejectedRelation `json:"rejected,omitempty"`
}

// EditMultiTagRelations applies relation deltas across several tags as one
// logical edit: one combined mutation plan, one bulk apply, one cascade.
// Each tag's additions are guarded against the live graph plus the additions
// already accepted for earlier tags in the batch, so edges accepted together
// cannot combine into a cycle. One bad pair never blocks the rest.
func (s *TagService) EditMultiTagRelations(ctx context.Context, req MultiTagRelationEdit) (*MultiTagEditSummary, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	overlay := newOverlayGraph(s.store)
	summary := &MultiTagEditSummary{}
	changes := make([]tagraph.RelationChange, 0, len(req.TagIDs))

	for _, tagID := range req.TagIDs {
		t, err := s.store.GetTag(ctx, tagID)
		if err != nil {
			return nil, err
		}

		change, check, err := s.resolveRelationEdit(ctx, overlay, t, relationEdit{
			parentIDsToAdd:    req.ParentIDsToAdd,
			parentIDsToRemove: req.ParentIDsToRemove,
			childIDsToAdd:     req.ChildIDsToAdd,
			childIDsToRemove:  req.ChildIDsToRemove,
		})
		if err != nil {
			return nil, err
		}

		if !change.IsZero() {
			changes = append(changes, change)
			overlay.addChange(change)
		}
		summary.Edits = append(summary.Edits, TagEditSummary{
			ParentDiff: tagraph.DiffResult{Added: change.AddParentIDs, Removed: change.RemoveParentIDs},
			ChildDiff:  tagraph.DiffResult{Added: change.AddChildIDs, Removed: change.RemoveChildIDs},
			Rejected:   check.Rejected,
		})
		summary.Rejected = append(summary.Rejected, check.Rejected...)
	}

	plan := tagraph.Plan(changes)
	if !plan.IsZero() {
		if err := s.store.ApplyTagMutations(ctx, plan); err != nil {
			return nil, err
		}
		if err := s.propagate(ctx, plan.TagIDs(), cascadeOptions{}); err != nil {
			return nil, err
		}
	}

	for i, tagID := range req.TagIDs {
		t, err := s.store.GetTag(ctx, tagID)
		if err != nil {
			return nil, err
		}
		summary.Edits[i].Tag = t
	}

	if len(summary.Rejected) > 0 {
		s.logger.Warn("multi-tag edit dropped cycle-risk relations", "tags", len(req.TagIDs), "rejected", summary.Rejected)
	}
	s.logger.Info("multi-tag relations edited", "tags", len(req.TagIDs), "plan_size", len(plan.Mutations))

	return summary, nil
}

// DeleteTag removes a tag from the graph and from every dependent record.
// Affected file and collection ids are gathered before the adjacency is torn
// down, so records that referenced the tag only through an ancestor chain
// still get their denormalized sets refreshed.
func (s *TagService) DeleteTag(ctx context.Context, tagID string) error {
	t, err := s.store.GetTag(ctx, tagID)
	if err != nil {
		return err
	}

	fileIDs, err := s.store.FindFileIDsByTagIDs(ctx, []string{tagID})
	if err != nil {
		return err
	}
	collIDs, err := s.store.FindCollectionIDsByTagIDs(ctx, []string{tagID})
	if err != nil {
		return err
	}

	plan := tagraph.Plan([]tagraph.RelationChange{{
		TagID:           tagID,
		RemoveParentIDs: t.ParentIDs,
		RemoveChildIDs:  t.ChildIDs,
	}})
	if err := s.store.ApplyTagMutations(ctx, plan); err != nil {
		return err
	}

	if err := s.store.RemoveTagFromFiles(ctx, fileIDs, tagID); err != nil {
		return err
	}
	if err := s.store.RemoveTagFromCollections(ctx, collIDs, tagID); err != nil {
		return err
	}
	if err := s.store.RemoveTagFromBatches(ctx, tagID); err != nil {
		return err
	}

	if err := s.store.DeleteTag(ctx, tagID); err != nil {
		return err
	}

	neighbors := make([]string, 0, len(plan.TagIDs()))
	for _, pid := range plan.TagIDs() {
		if pid != tagID {
			neighbors = append(neighbors, pid)
		}
	}
	if err := s.propagate(ctx, neighbors, cascadeOptions{
		extraFileIDs:       fileIDs,
		extraCollectionIDs: collIDs,
	}); err != nil {
		return err
	}

	s.emitter.Emit(sse.NewTagDeletedEvent(t))
	s.logger.Info("tag deleted", "tag_id", tagID, "label", t.Label,
		"files", len(fileIDs), "collections", len(collIDs))
	return nil
}

// overlayGraph presents the stored graph with a batch's accepted additions
// layered on top, so later edits in the batch are guarded against edges the
// batch itself is about to create. Removals are not overlaid; that only
// makes the guard conservative, never unsafe.
type overlayGraph struct {
	base        tagraph.Graph
	addParents  map[string]tagraph.IDSet
	addChildren map[string]tagraph.IDSet
}

func newOverlayGraph(base tagraph.Graph) *overlayGraph {
	return &overlayGraph{
		base:        base,
		addParents:  make(map[string]tagraph.IDSet),
		addChildren: make(map[string]tagraph.IDSet),
	}
}

func (g *overlayGraph) addChange(c tagraph.RelationChange) {
	for _, pid := range c.AddParentIDs {
		g.parentSet(c.TagID).Add(pid)
		g.childSet(pid).Add(c.TagID)
	}
	for _, cid := range c.AddChildIDs {
		g.childSet(c.TagID).Add(cid)
		g.parentSet(cid).Add(c.TagID)
	}
}

func (g *overlayGraph) parentSet(tagID string) tagraph.IDSet {
	set, ok := g.addParents[tagID]
	if !ok {
		set = tagraph.NewIDSet()
		g.addParents[tagID] = set
	}
	return set
}

func (g *overlayGraph) childSet(tagID string) tagraph.IDSet {
	set, ok := g.addChildren[tagID]
	if !ok {
		set = tagraph.NewIDSet()
		g.addChildren[tagID] = set
	}
	return set
}

// TagsByIDs implements tagraph.Graph.
func (g *overlayGraph) TagsByIDs(ctx context.Context, ids []string) ([]*domain.Tag, error) {
	tags, err := g.base.TagsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i, t := range tags {
		extraParents := g.addParents[t.ID]
		extraChildren := g.addChildren[t.ID]
		if len(extraParents) == 0 && len(extraChildren) == 0 {
			continue
		}
		clone := *t
		parents := tagraph.NewIDSet(clone.ParentIDs...)
		parents.AddAll(extraParents.Sorted())
		children := tagraph.NewIDSet(clone.ChildIDs...)
		children.AddAll(extraChildren.Sorted())
		clone.ParentIDs = parents.Sorted()
		clone.ChildIDs = children.Sorted()
		tags[i] = &clone
	}
	return tags, nil
}
