package store

import (
	"context"
	"encoding/json/v2"
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/dgraph-io/badger/v4"

	"github.com/curioapp/curio-server/internal/domain"
	"github.com/curioapp/curio-server/internal/tagraph"
)

// CreateTag creates a new tag. Label uniqueness is enforced through the
// normalized label index.
func (s *Store) CreateTag(ctx context.Context, t *domain.Tag) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		labelKey := []byte(tagByLabelPrefix + normalizeLabel(t.Label))
		if _, err := txn.Get(labelKey); err == nil {
			return ErrTagExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if err := putTagInTxn(txn, t); err != nil {
			return err
		}
		return txn.Set(labelKey, []byte(t.ID))
	})
}

// GetTag retrieves a tag by ID.
func (s *Store) GetTag(ctx context.Context, tagID string) (*domain.Tag, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var t *domain.Tag
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		t, err = getTagInTxn(txn, tagID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// TagsByIDs retrieves tags by id, skipping ids that do not resolve.
// This is the adjacency lookup behind tagraph.Graph — dangling references
// must expand to nothing rather than fail a traversal.
func (s *Store) TagsByIDs(ctx context.Context, ids []string) ([]*domain.Tag, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tags := make([]*domain.Tag, 0, len(ids))
	err := s.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			t, err := getTagInTxn(txn, id)
			if errors.Is(err, ErrTagNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			tags = append(tags, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tags, nil
}

// GetTagByLabel retrieves a tag by its label (case-insensitive).
func (s *Store) GetTagByLabel(ctx context.Context, label string) (*domain.Tag, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var tagID string
	labelKey := []byte(tagByLabelPrefix + normalizeLabel(label))

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(labelKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrTagNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			tagID = string(val)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return s.GetTag(ctx, tagID)
}

// ListTags returns all tags ordered by count (descending), then label.
func (s *Store) ListTags(ctx context.Context) ([]*domain.Tag, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := []byte(tagPrefix)
	var tags []*domain.Tag

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchSize = 100

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var t domain.Tag
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &t)
			})
			if err != nil {
				continue
			}
			t.MigrateLegacyRegEx()
			tags = append(tags, &t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(tags, func(i, j int) bool {
		if tags[i].Count != tags[j].Count {
			return tags[i].Count > tags[j].Count
		}
		return tags[i].Label < tags[j].Label
	})

	return tags, nil
}

// UpdateTag writes a tag record back, moving the label index if the label
// changed.
func (s *Store) UpdateTag(ctx context.Context, t *domain.Tag) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		existing, err := getTagInTxn(txn, t.ID)
		if err != nil {
			return err
		}

		oldLabel := normalizeLabel(existing.Label)
		newLabel := normalizeLabel(t.Label)
		if oldLabel != newLabel {
			newKey := []byte(tagByLabelPrefix + newLabel)
			if item, err := txn.Get(newKey); err == nil {
				// Label taken by a different tag.
				var otherID string
				if err := item.Value(func(val []byte) error {
					otherID = string(val)
					return nil
				}); err != nil {
					return err
				}
				if otherID != t.ID {
					return ErrTagExists
				}
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			if err := txn.Delete([]byte(tagByLabelPrefix + oldLabel)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			if err := txn.Set([]byte(tagByLabelPrefix+newLabel), []byte(t.ID)); err != nil {
				return err
			}
		}

		return putTagInTxn(txn, t)
	})
}

// DeleteTag removes a tag record and its label index.
// Adjacency and dependent-record cleanup is the caller's responsibility —
// the service runs the full mutation plan and cascade before deleting.
func (s *Store) DeleteTag(ctx context.Context, tagID string) error {
	t, err := s.GetTag(ctx, tagID)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(tagPrefix + tagID)); err != nil {
			return err
		}
		labelKey := []byte(tagByLabelPrefix + normalizeLabel(t.Label))
		if err := txn.Delete(labelKey); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return nil
	})
}

// ApplyTagMutations applies a full mutation plan as one transaction, so a
// partial store failure cannot leave one side of an edge updated without the
// other. Missing endpoints are skipped with a warning (they are exactly what
// orphan repair exists for); any other failure aborts the transaction and is
// surfaced with the full plan logged.
func (s *Store) ApplyTagMutations(ctx context.Context, plan tagraph.MutationPlan) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if plan.IsZero() {
		return nil
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		for _, m := range plan.Mutations {
			t, err := getTagInTxn(txn, m.TagID)
			if errors.Is(err, ErrTagNotFound) {
				s.warn("tag mutation skipped: tag missing", "tag_id", m.TagID)
				continue
			}
			if err != nil {
				return err
			}

			t.ParentIDs = applyAdjacency(t.ParentIDs, m.AddParentIDs, m.RemoveParentIDs)
			t.ChildIDs = applyAdjacency(t.ChildIDs, m.AddChildIDs, m.RemoveChildIDs)
			t.Touch()

			if err := putTagInTxn(txn, t); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		// Full payload logged so a failed bulk unit can be replayed or
		// inspected before the repair pass heals the graph.
		s.warn("tag mutation plan failed", "error", err, "plan", fmt.Sprintf("%+v", plan.Mutations))
		return fmt.Errorf("apply tag mutations: %w", err)
	}
	return nil
}

// SaveTagClosure writes a tag's materialized closures, only touching the
// record if the sets actually changed. Returns whether a write happened.
func (s *Store) SaveTagClosure(ctx context.Context, tagID string, ancestorIDs, descendantIDs []string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	changed := false
	err := s.db.Update(func(txn *badger.Txn) error {
		t, err := getTagInTxn(txn, tagID)
		if err != nil {
			return err
		}
		if tagraph.SameIDs(t.AncestorIDs, ancestorIDs) && tagraph.SameIDs(t.DescendantIDs, descendantIDs) {
			return nil
		}
		t.AncestorIDs = ancestorIDs
		t.DescendantIDs = descendantIDs
		t.Touch()
		changed = true
		return putTagInTxn(txn, t)
	})
	return changed, err
}

// SaveTagCount writes a tag's derived count if it changed.
func (s *Store) SaveTagCount(ctx context.Context, tagID string, count int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	changed := false
	err := s.db.Update(func(txn *badger.Txn) error {
		t, err := getTagInTxn(txn, tagID)
		if err != nil {
			return err
		}
		if t.Count == count {
			return nil
		}
		t.Count = count
		t.Touch()
		changed = true
		return putTagInTxn(txn, t)
	})
	return changed, err
}

// SaveTagThumb writes a tag's derived thumbnail reference if it changed.
func (s *Store) SaveTagThumb(ctx context.Context, tagID string, thumb *domain.ThumbRef) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	changed := false
	err := s.db.Update(func(txn *badger.Txn) error {
		t, err := getTagInTxn(txn, tagID)
		if err != nil {
			return err
		}
		if t.Thumb.Equal(thumb) {
			return nil
		}
		t.Thumb = thumb
		t.Touch()
		changed = true
		return putTagInTxn(txn, t)
	})
	return changed, err
}

func getTagInTxn(txn *badger.Txn, tagID string) (*domain.Tag, error) {
	item, err := txn.Get([]byte(tagPrefix + tagID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrTagNotFound
	}
	if err != nil {
		return nil, err
	}

	var t domain.Tag
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &t)
	}); err != nil {
		return nil, err
	}
	t.MigrateLegacyRegEx()
	return &t, nil
}

func putTagInTxn(txn *badger.Txn, t *domain.Tag) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal tag %s: %w", t.ID, err)
	}
	return txn.Set([]byte(tagPrefix+t.ID), data)
}

// applyAdjacency adds then removes ids from an adjacency list, preserving
// existing order and skipping duplicates.
func applyAdjacency(ids, add, remove []string) []string {
	for _, id := range add {
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	if len(remove) == 0 {
		return ids
	}
	out := ids[:0]
	for _, id := range ids {
		if !slices.Contains(remove, id) {
			out = append(out, id)
		}
	}
	return out
}
