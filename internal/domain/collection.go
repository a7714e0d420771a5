package domain

import (
	"slices"
	"time"
)

// Collection is a user-curated grouping of files.
// Collections carry their own direct tag assignment plus the same
// denormalized ancestor-inclusive set files do, so tag-graph edits cascade
// to them through the same machinery.
type Collection struct {
	ID    string `json:"id"`
	Title string `json:"title"`

	FileIDs             []string `json:"file_ids,omitempty"`
	TagIDs              []string `json:"tag_ids,omitempty"`
	TagIDsWithAncestors []string `json:"tag_ids_with_ancestors,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Touch updates the UpdatedAt timestamp.
func (c *Collection) Touch() {
	c.UpdatedAt = time.Now()
}

// InitTimestamps sets both CreatedAt and UpdatedAt to now.
func (c *Collection) InitTimestamps() {
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now
}

// HasTag reports whether id is directly assigned to this collection.
func (c *Collection) HasTag(id string) bool {
	return slices.Contains(c.TagIDs, id)
}

// AddFile adds a file id to the collection if not already present.
func (c *Collection) AddFile(fileID string) bool {
	if slices.Contains(c.FileIDs, fileID) {
		return false
	}
	c.FileIDs = append(c.FileIDs, fileID)
	return true
}
