package store

import (
	"context"
	"encoding/json/v2"
	"errors"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"

	"github.com/curioapp/curio-server/internal/domain"
	"github.com/curioapp/curio-server/internal/tagraph"
)

// CreateCollection creates a collection record and its tag indexes.
func (s *Store) CreateCollection(ctx context.Context, c *domain.Collection) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		key := []byte(collectionPrefix + c.ID)
		if _, err := txn.Get(key); err == nil {
			return ErrCollectionExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if err := putCollectionInTxn(txn, c); err != nil {
			return err
		}
		for _, tagID := range c.TagIDs {
			if err := txn.Set(relationKey(collByTagPrefix, tagID, c.ID), nil); err != nil {
				return err
			}
		}
		for _, tagID := range c.TagIDsWithAncestors {
			if err := txn.Set(relationKey(collByAncPrefix, tagID, c.ID), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetCollection retrieves a collection by ID.
func (s *Store) GetCollection(ctx context.Context, collID string) (*domain.Collection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var c *domain.Collection
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		c, err = getCollectionInTxn(txn, collID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListCollections returns all collections sorted by title.
func (s *Store) ListCollections(ctx context.Context) ([]*domain.Collection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := []byte(collectionPrefix)
	var colls []*domain.Collection

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var c domain.Collection
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &c)
			})
			if err != nil {
				continue
			}
			colls = append(colls, &c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(colls, func(i, j int) bool {
		return colls[i].Title < colls[j].Title
	})
	return colls, nil
}

// SetCollectionTags replaces a collection's direct tag assignment,
// maintaining the direct-tag index.
func (s *Store) SetCollectionTags(ctx context.Context, collID string, tagIDs []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		c, err := getCollectionInTxn(txn, collID)
		if err != nil {
			return err
		}

		diff := tagraph.Diff(c.TagIDs, tagIDs)
		if diff.IsZero() {
			return nil
		}
		for _, tagID := range diff.Removed {
			if err := txn.Delete(relationKey(collByTagPrefix, tagID, collID)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}
		for _, tagID := range diff.Added {
			if err := txn.Set(relationKey(collByTagPrefix, tagID, collID), nil); err != nil {
				return err
			}
		}

		c.TagIDs = tagIDs
		c.Touch()
		return putCollectionInTxn(txn, c)
	})
}

// FindCollectionIDsByTagIDs returns every collection whose direct or
// ancestor-inclusive tag set intersects tagIDs.
func (s *Store) FindCollectionIDsByTagIDs(ctx context.Context, tagIDs []string) ([]string, error) {
	return s.findOwnersByTagIDs(ctx, collByTagPrefix, collByAncPrefix, tagIDs)
}

// UpdateCollectionAncestorTags rewrites a collection's denormalized
// ancestor-inclusive tag set, write-if-changed, maintaining the index.
func (s *Store) UpdateCollectionAncestorTags(ctx context.Context, collID string, tagIDsWithAncestors []string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	changed := false
	err := s.db.Update(func(txn *badger.Txn) error {
		c, err := getCollectionInTxn(txn, collID)
		if err != nil {
			return err
		}

		diff := tagraph.Diff(c.TagIDsWithAncestors, tagIDsWithAncestors)
		if diff.IsZero() {
			return nil
		}
		for _, tagID := range diff.Removed {
			if err := txn.Delete(relationKey(collByAncPrefix, tagID, collID)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}
		for _, tagID := range diff.Added {
			if err := txn.Set(relationKey(collByAncPrefix, tagID, collID), nil); err != nil {
				return err
			}
		}

		c.TagIDsWithAncestors = tagIDsWithAncestors
		c.Touch()
		changed = true
		return putCollectionInTxn(txn, c)
	})
	return changed, err
}

// AddTagToCollections adds tagID to the direct tag set of every listed
// collection. Idempotent per collection.
func (s *Store) AddTagToCollections(ctx context.Context, collIDs []string, tagID string) error {
	for _, collID := range collIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(func(txn *badger.Txn) error {
			c, err := getCollectionInTxn(txn, collID)
			if err != nil {
				return err
			}
			if c.HasTag(tagID) {
				return nil
			}
			c.TagIDs = append(c.TagIDs, tagID)
			if err := txn.Set(relationKey(collByTagPrefix, tagID, collID), nil); err != nil {
				return err
			}
			c.Touch()
			return putCollectionInTxn(txn, c)
		})
		if err != nil {
			return fmt.Errorf("add tag %s to collection %s: %w", tagID, collID, err)
		}
	}
	return nil
}

// RemoveTagFromCollections removes tagID from the direct tag set of every
// listed collection. Idempotent per collection.
func (s *Store) RemoveTagFromCollections(ctx context.Context, collIDs []string, tagID string) error {
	for _, collID := range collIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(func(txn *badger.Txn) error {
			c, err := getCollectionInTxn(txn, collID)
			if err != nil {
				return err
			}
			if !c.HasTag(tagID) {
				return nil
			}
			next := make([]string, 0, len(c.TagIDs)-1)
			for _, id := range c.TagIDs {
				if id != tagID {
					next = append(next, id)
				}
			}
			c.TagIDs = next
			if err := txn.Delete(relationKey(collByTagPrefix, tagID, collID)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			c.Touch()
			return putCollectionInTxn(txn, c)
		})
		if err != nil {
			return fmt.Errorf("remove tag %s from collection %s: %w", tagID, collID, err)
		}
	}
	return nil
}

func getCollectionInTxn(txn *badger.Txn, collID string) (*domain.Collection, error) {
	item, err := txn.Get([]byte(collectionPrefix + collID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrCollectionNotFound
	}
	if err != nil {
		return nil, err
	}

	var c domain.Collection
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &c)
	}); err != nil {
		return nil, err
	}
	return &c, nil
}

func putCollectionInTxn(txn *badger.Txn, c *domain.Collection) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal collection %s: %w", c.ID, err)
	}
	return txn.Set([]byte(collectionPrefix+c.ID), data)
}
