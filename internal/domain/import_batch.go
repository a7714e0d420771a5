package domain

import (
	"slices"
	"time"
)

// ImportBatch is a unit of work produced by the import pipeline: a set of
// files imported together with a shared set of tags to apply. Batches
// reference tags by id only, so tag merges and deletions must rewrite them.
type ImportBatch struct {
	ID     string   `json:"id"`
	TagIDs []string `json:"tag_ids,omitempty"`

	FileCount   int        `json:"file_count"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Touch updates the UpdatedAt timestamp.
func (b *ImportBatch) Touch() {
	b.UpdatedAt = time.Now()
}

// InitTimestamps sets both CreatedAt and UpdatedAt to now.
func (b *ImportBatch) InitTimestamps() {
	now := time.Now()
	b.CreatedAt = now
	b.UpdatedAt = now
}

// HasTag reports whether id is assigned to this batch.
func (b *ImportBatch) HasTag(id string) bool {
	return slices.Contains(b.TagIDs, id)
}
