package domain

import (
	"slices"
	"time"
)

// File represents a media file in the library.
// TagIDs is the direct tag assignment; TagIDsWithAncestors is the
// denormalized ancestor-inclusive set, kept equal to the union over the
// direct tags of {tag} ∪ that tag's ancestors. The cascade propagator owns
// that equality — nothing else writes TagIDsWithAncestors.
type File struct {
	ID        string `json:"id"`
	Path      string `json:"path"`
	ThumbPath string `json:"thumb_path,omitempty"`

	TagIDs              []string `json:"tag_ids,omitempty"`
	TagIDsWithAncestors []string `json:"tag_ids_with_ancestors,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Touch updates the UpdatedAt timestamp.
func (f *File) Touch() {
	f.UpdatedAt = time.Now()
}

// InitTimestamps sets both CreatedAt and UpdatedAt to now.
func (f *File) InitTimestamps() {
	now := time.Now()
	f.CreatedAt = now
	f.UpdatedAt = now
}

// HasTag reports whether id is directly assigned to this file.
func (f *File) HasTag(id string) bool {
	return slices.Contains(f.TagIDs, id)
}

// AddTag adds a direct tag id if not already present. Returns true if added.
func (f *File) AddTag(id string) bool {
	if slices.Contains(f.TagIDs, id) {
		return false
	}
	f.TagIDs = append(f.TagIDs, id)
	return true
}

// RemoveTag removes a direct tag id. Returns true if removed.
func (f *File) RemoveTag(id string) bool {
	for i, t := range f.TagIDs {
		if t == id {
			f.TagIDs = append(f.TagIDs[:i], f.TagIDs[i+1:]...)
			return true
		}
	}
	return false
}
