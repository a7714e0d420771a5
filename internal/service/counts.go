package service

import (
	"context"
	"errors"

	"github.com/curioapp/curio-server/internal/sse"
	"github.com/curioapp/curio-server/internal/store"
)

// TagCountUpdate reports one tag's recomputed usage count.
type TagCountUpdate struct {
	TagID string `json:"tag_id"`
	Count int    `json:"count"`
}

// RecalculateTagCounts recomputes the usage count for the given tags from
// the file store's ancestor index and writes back changed values. Pass no
// ids to recount every tag. Returns an update per tag whose count changed.
func (s *TagService) RecalculateTagCounts(ctx context.Context, tagIDs []string) ([]TagCountUpdate, error) {
	if len(tagIDs) == 0 {
		tags, err := s.store.ListTags(ctx)
		if err != nil {
			return nil, err
		}
		tagIDs = make([]string, 0, len(tags))
		for _, t := range tags {
			tagIDs = append(tagIDs, t.ID)
		}
	}
	return s.recalculateCounts(ctx, tagIDs, false)
}

// recalculateCounts is the internal recount. Bulk paths suppress the
// per-pass notification and emit a single broad signal at the end instead.
func (s *TagService) recalculateCounts(ctx context.Context, tagIDs []string, suppressNotify bool) ([]TagCountUpdate, error) {
	var updates []TagCountUpdate
	for _, tagID := range tagIDs {
		count, err := s.store.CountFilesByAncestorTag(ctx, tagID)
		if err != nil {
			return nil, err
		}
		wrote, err := s.store.SaveTagCount(ctx, tagID, count)
		if errors.Is(err, store.ErrTagNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if wrote {
			updates = append(updates, TagCountUpdate{TagID: tagID, Count: count})
		}
	}

	if !suppressNotify && len(updates) > 0 {
		ids := make([]string, 0, len(updates))
		for _, u := range updates {
			ids = append(ids, u.TagID)
		}
		s.emitter.Emit(sse.NewTagsUpdatedEvent(ids))
	}
	return updates, nil
}
