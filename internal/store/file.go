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

// CreateFile creates a file record and its tag indexes.
func (s *Store) CreateFile(ctx context.Context, f *domain.File) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		key := []byte(filePrefix + f.ID)
		if _, err := txn.Get(key); err == nil {
			return ErrFileExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if err := putFileInTxn(txn, f); err != nil {
			return err
		}
		for _, tagID := range f.TagIDs {
			if err := txn.Set(relationKey(fileByTagPrefix, tagID, f.ID), nil); err != nil {
				return err
			}
		}
		for _, tagID := range f.TagIDsWithAncestors {
			if err := txn.Set(relationKey(fileByAncPrefix, tagID, f.ID), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetFile retrieves a file by ID.
func (s *Store) GetFile(ctx context.Context, fileID string) (*domain.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var f *domain.File
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		f, err = getFileInTxn(txn, fileID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// FilesByIDs retrieves files by id, skipping ids that do not resolve.
func (s *Store) FilesByIDs(ctx context.Context, ids []string) ([]*domain.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	files := make([]*domain.File, 0, len(ids))
	err := s.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			f, err := getFileInTxn(txn, id)
			if errors.Is(err, ErrFileNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			files = append(files, f)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// ListFiles returns all file records.
func (s *Store) ListFiles(ctx context.Context) ([]*domain.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := []byte(filePrefix)
	var files []*domain.File

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchSize = 100

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var f domain.File
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &f)
			})
			if err != nil {
				continue
			}
			files = append(files, &f)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].CreatedAt.Before(files[j].CreatedAt)
	})
	return files, nil
}

// SetFileTags replaces a file's direct tag assignment, maintaining the
// direct-tag index. The denormalized ancestor set is the cascade
// propagator's job and is not touched here.
func (s *Store) SetFileTags(ctx context.Context, fileID string, tagIDs []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		f, err := getFileInTxn(txn, fileID)
		if err != nil {
			return err
		}

		diff := tagraph.Diff(f.TagIDs, tagIDs)
		if diff.IsZero() {
			return nil
		}
		for _, tagID := range diff.Removed {
			if err := txn.Delete(relationKey(fileByTagPrefix, tagID, fileID)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}
		for _, tagID := range diff.Added {
			if err := txn.Set(relationKey(fileByTagPrefix, tagID, fileID), nil); err != nil {
				return err
			}
		}

		f.TagIDs = tagIDs
		f.Touch()
		return putFileInTxn(txn, f)
	})
}

// FindFileIDsByTagIDs returns every file whose direct tag set or
// ancestor-inclusive tag set intersects tagIDs. This is the blast radius of
// a tag-graph change: only these records can need an ancestor refresh.
func (s *Store) FindFileIDsByTagIDs(ctx context.Context, tagIDs []string) ([]string, error) {
	return s.findOwnersByTagIDs(ctx, fileByTagPrefix, fileByAncPrefix, tagIDs)
}

// UpdateFileAncestorTags rewrites a file's denormalized ancestor-inclusive
// tag set, maintaining the ancestor index. Writes only if the set changed;
// returns whether a write happened.
func (s *Store) UpdateFileAncestorTags(ctx context.Context, fileID string, tagIDsWithAncestors []string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	changed := false
	err := s.db.Update(func(txn *badger.Txn) error {
		f, err := getFileInTxn(txn, fileID)
		if err != nil {
			return err
		}

		diff := tagraph.Diff(f.TagIDsWithAncestors, tagIDsWithAncestors)
		if diff.IsZero() {
			return nil
		}
		for _, tagID := range diff.Removed {
			if err := txn.Delete(relationKey(fileByAncPrefix, tagID, fileID)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}
		for _, tagID := range diff.Added {
			if err := txn.Set(relationKey(fileByAncPrefix, tagID, fileID), nil); err != nil {
				return err
			}
		}

		f.TagIDsWithAncestors = tagIDsWithAncestors
		f.Touch()
		changed = true
		return putFileInTxn(txn, f)
	})
	return changed, err
}

// CountFilesByAncestorTag counts files whose ancestor-inclusive tag set
// contains tagID, straight off the index.
func (s *Store) CountFilesByAncestorTag(ctx context.Context, tagID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	prefix := relationScanPrefix(fileByAncPrefix, tagID)
	count := 0

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// EarliestThumbByAncestorTag returns the thumbnail of the earliest-created
// file carrying tagID directly or transitively, or nil if no such file has a
// thumbnail.
func (s *Store) EarliestThumbByAncestorTag(ctx context.Context, tagID string) (*domain.ThumbRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fileIDs, err := s.ownersByRelation(ctx, fileByAncPrefix, tagID)
	if err != nil {
		return nil, err
	}
	files, err := s.FilesByIDs(ctx, fileIDs)
	if err != nil {
		return nil, err
	}

	var best *domain.File
	for _, f := range files {
		if f.ThumbPath == "" {
			continue
		}
		if best == nil || f.CreatedAt.Before(best.CreatedAt) {
			best = f
		}
	}
	if best == nil {
		return nil, nil
	}
	return &domain.ThumbRef{FileID: best.ID, Path: best.ThumbPath}, nil
}

// AddTagToFiles adds tagID to the direct tag set of every listed file.
// Idempotent per file. Used by the merge engine's additive pass.
func (s *Store) AddTagToFiles(ctx context.Context, fileIDs []string, tagID string) error {
	for _, fileID := range fileIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(func(txn *badger.Txn) error {
			f, err := getFileInTxn(txn, fileID)
			if err != nil {
				return err
			}
			if !f.AddTag(tagID) {
				return nil
			}
			if err := txn.Set(relationKey(fileByTagPrefix, tagID, fileID), nil); err != nil {
				return err
			}
			f.Touch()
			return putFileInTxn(txn, f)
		})
		if err != nil {
			return fmt.Errorf("add tag %s to file %s: %w", tagID, fileID, err)
		}
	}
	return nil
}

// RemoveTagFromFiles removes tagID from the direct tag set of every listed
// file. Idempotent per file. Used by the merge engine's subtractive pass and
// by tag deletion.
func (s *Store) RemoveTagFromFiles(ctx context.Context, fileIDs []string, tagID string) error {
	for _, fileID := range fileIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(func(txn *badger.Txn) error {
			f, err := getFileInTxn(txn, fileID)
			if err != nil {
				return err
			}
			if !f.RemoveTag(tagID) {
				return nil
			}
			if err := txn.Delete(relationKey(fileByTagPrefix, tagID, fileID)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			f.Touch()
			return putFileInTxn(txn, f)
		})
		if err != nil {
			return fmt.Errorf("remove tag %s from file %s: %w", tagID, fileID, err)
		}
	}
	return nil
}

// ownersByRelation scans one relation index for all owners of relatedID.
func (s *Store) ownersByRelation(ctx context.Context, indexPrefix, relatedID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := relationScanPrefix(indexPrefix, relatedID)
	var ids []string

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, ownerFromRelationKey(it.Item().Key()))
		}
		return nil
	})
	return ids, err
}

// findOwnersByTagIDs unions the direct and ancestor indexes over tagIDs.
func (s *Store) findOwnersByTagIDs(ctx context.Context, directPrefix, ancPrefix string, tagIDs []string) ([]string, error) {
	seen := make(tagraph.IDSet)
	for _, tagID := range tagIDs {
		for _, idxPrefix := range []string{directPrefix, ancPrefix} {
			ids, err := s.ownersByRelation(ctx, idxPrefix, tagID)
			if err != nil {
				return nil, err
			}
			seen.AddAll(ids)
		}
	}
	return seen.Sorted(), nil
}

func getFileInTxn(txn *badger.Txn, fileID string) (*domain.File, error) {
	item, err := txn.Get([]byte(filePrefix + fileID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, err
	}

	var f domain.File
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &f)
	}); err != nil {
		return nil, err
	}
	return &f, nil
}

func putFileInTxn(txn *badger.Txn, f *domain.File) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal file %s: %w", f.ID, err)
	}
	return txn.Set([]byte(filePrefix+f.ID), data)
}
