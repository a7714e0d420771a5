package tagraph

import (
	"context"
	"slices"
)

// Rejection reasons reported by CheckRelations.
const (
	ReasonWouldCreateCycle = "would create cycle"
	ReasonSelfReference    = "tag cannot relate to itself"
	ReasonUnknownTag       = "tag does not exist"
)

// RejectedRelation describes a single proposed edge dropped by the cycle
// guard. TagID is the tag being edited, RelatedID the offending endpoint.
type RejectedRelation struct {
	TagID        string `json:"tag_id"`
	RelatedID    string `json:"related_id"`
	RelatedLabel string `json:"related_label,omitempty"`
	Relation     string `json:"relation"` // "parent" or "child"
	Reason       string `json:"reason"`
}

// RelationCheck is the cycle guard's verdict on a proposed edit: the subset
// of additions that may proceed plus the structured rejections. Edits are
// best-effort — one bad pair never blocks the rest of a batch.
type RelationCheck struct {
	ValidChildIDs  []string
	ValidParentIDs []string
	Rejected       []RejectedRelation
}

// HasRejections reports whether any proposed edge was dropped.
func (c RelationCheck) HasRejections() bool {
	return len(c.Rejected) > 0
}

// CheckRelations validates proposed parent/child additions for tagID against
// the live graph. A proposed child is invalid if it is already an ancestor of
// tagID (tagID would become its own descendant); a proposed parent is invalid
// if it is already a descendant. Closures are re-traversed here rather than
// read from the cached AncestorIDs/DescendantIDs fields — the caches may be
// mid-refresh and are never trusted for validation.
func CheckRelations(ctx context.Context, g Graph, tagID string, childIDsToAdd, parentIDsToAdd []string) (RelationCheck, error) {
	var check RelationCheck

	ancestors, err := AncestorsOf(ctx, g, []string{tagID}, false)
	if err != nil {
		return check, err
	}
	descendants, err := DescendantsOf(ctx, g, []string{tagID}, false)
	if err != nil {
		return check, err
	}
	ancestorSet := NewIDSet(ancestors...)
	descendantSet := NewIDSet(descendants...)

	labels, err := labelsFor(ctx, g, append(slices.Clone(childIDsToAdd), parentIDsToAdd...))
	if err != nil {
		return check, err
	}

	// An id proposed on both sides at once would form a two-cycle the moment
	// both edges land; reject both occurrences.
	childSet := NewIDSet(childIDsToAdd...)
	parentSet := NewIDSet(parentIDsToAdd...)

	for _, id := range childIDsToAdd {
		switch {
		case id == tagID:
			check.reject(tagID, id, labels[id], "child", ReasonSelfReference)
		case !labelKnown(labels, id):
			check.reject(tagID, id, "", "child", ReasonUnknownTag)
		case ancestorSet.Has(id) || parentSet.Has(id):
			check.reject(tagID, id, labels[id], "child", ReasonWouldCreateCycle)
		default:
			check.ValidChildIDs = append(check.ValidChildIDs, id)
		}
	}

	for _, id := range parentIDsToAdd {
		switch {
		case id == tagID:
			check.reject(tagID, id, labels[id], "parent", ReasonSelfReference)
		case !labelKnown(labels, id):
			check.reject(tagID, id, "", "parent", ReasonUnknownTag)
		case descendantSet.Has(id) || childSet.Has(id):
			check.reject(tagID, id, labels[id], "parent", ReasonWouldCreateCycle)
		default:
			check.ValidParentIDs = append(check.ValidParentIDs, id)
		}
	}

	return check, nil
}

func (c *RelationCheck) reject(tagID, relatedID, label, relation, reason string) {
	c.Rejected = append(c.Rejected, RejectedRelation{
		TagID:        tagID,
		RelatedID:    relatedID,
		RelatedLabel: label,
		Relation:     relation,
		Reason:       reason,
	})
}

func labelsFor(ctx context.Context, g Graph, ids []string) (map[string]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	tags, err := g.TagsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	labels := make(map[string]string, len(tags))
	for _, t := range tags {
		labels[t.ID] = t.Label
	}
	return labels, nil
}

func labelKnown(labels map[string]string, id string) bool {
	_, ok := labels[id]
	return ok
}
