package domain

import (
	"slices"
	"strings"
	"time"
)

// Tag is a label in the media library's tag hierarchy.
// Tags form a DAG: a tag can have multiple parents and multiple children.
// ParentIDs/ChildIDs are the direct adjacency and must stay symmetric across
// records (A lists B as child ⇔ B lists A as parent). AncestorIDs and
// DescendantIDs are materialized transitive closures over that adjacency —
// caches, recomputed after every structural edit, never edited by hand.
type Tag struct {
	ID      string   `json:"id"`
	Label   string   `json:"label"` // Unique display string
	Aliases []string `json:"aliases,omitempty"`

	ParentIDs []string `json:"parent_ids,omitempty"`
	ChildIDs  []string `json:"child_ids,omitempty"`

	AncestorIDs   []string `json:"ancestor_ids,omitempty"`
	DescendantIDs []string `json:"descendant_ids,omitempty"`

	// Count is the number of files whose ancestor-inclusive tag set contains
	// this tag. Derived, recomputed from the file store.
	Count int `json:"count"`

	// Thumb is the thumbnail of the earliest-created file carrying this tag
	// (directly or transitively). Derived.
	Thumb *ThumbRef `json:"thumb,omitempty"`

	// RegEx is an optional pattern used by the import pipeline to auto-assign
	// this tag. Owned here but not part of the hierarchy contract.
	RegEx string `json:"regex,omitempty"`

	// LegacyRegExMap is the pre-migration shape of RegEx. Folded into RegEx
	// on load; kept only so old records unmarshal cleanly.
	LegacyRegExMap map[string]string `json:"regex_map,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ThumbRef points at the media thumbnail representing a tag.
type ThumbRef struct {
	FileID string `json:"file_id"`
	Path   string `json:"path"`
}

// Equal reports whether two thumb references point at the same media.
func (r *ThumbRef) Equal(other *ThumbRef) bool {
	if r == nil || other == nil {
		return r == other
	}
	return r.FileID == other.FileID && r.Path == other.Path
}

// Touch updates the UpdatedAt timestamp.
func (t *Tag) Touch() {
	t.UpdatedAt = time.Now()
}

// InitTimestamps sets both CreatedAt and UpdatedAt to now.
func (t *Tag) InitTimestamps() {
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now
}

// HasParent reports whether id is a direct parent of this tag.
func (t *Tag) HasParent(id string) bool {
	return slices.Contains(t.ParentIDs, id)
}

// HasChild reports whether id is a direct child of this tag.
func (t *Tag) HasChild(id string) bool {
	return slices.Contains(t.ChildIDs, id)
}

// MigrateLegacyRegEx folds the legacy per-source regex map into the flat
// RegEx field. The canonical shape is a single alternation; the map survives
// only so old records unmarshal cleanly. Returns true if the record changed.
func (t *Tag) MigrateLegacyRegEx() bool {
	if len(t.LegacyRegExMap) == 0 {
		return false
	}
	if t.RegEx == "" {
		keys := make([]string, 0, len(t.LegacyRegExMap))
		for k := range t.LegacyRegExMap {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		var parts []string
		for _, k := range keys {
			if p := t.LegacyRegExMap[k]; p != "" && !slices.Contains(parts, p) {
				parts = append(parts, p)
			}
		}
		switch len(parts) {
		case 0:
		case 1:
			t.RegEx = parts[0]
		default:
			t.RegEx = "(" + strings.Join(parts, "|") + ")"
		}
	}
	t.LegacyRegExMap = nil
	return true
}
