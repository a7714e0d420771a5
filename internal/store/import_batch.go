package store

import (
	"context"
	"encoding/json/v2"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/curioapp/curio-server/internal/domain"
)

// CreateImportBatch creates an import batch record and its tag index.
func (s *Store) CreateImportBatch(ctx context.Context, b *domain.ImportBatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		key := []byte(batchPrefix + b.ID)
		if _, err := txn.Get(key); err == nil {
			return ErrBatchExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if err := putBatchInTxn(txn, b); err != nil {
			return err
		}
		for _, tagID := range b.TagIDs {
			if err := txn.Set(relationKey(batchByTagPrefix, tagID, b.ID), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetImportBatch retrieves an import batch by ID.
func (s *Store) GetImportBatch(ctx context.Context, batchID string) (*domain.ImportBatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var b *domain.ImportBatch
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		b, err = getBatchInTxn(txn, batchID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// FindBatchIDsByTag returns every import batch referencing tagID.
func (s *Store) FindBatchIDsByTag(ctx context.Context, tagID string) ([]string, error) {
	return s.ownersByRelation(ctx, batchByTagPrefix, tagID)
}

// ReplaceTagInBatches rewrites every batch referencing oldID to reference
// newID instead, dropping oldID from batches that already hold newID.
func (s *Store) ReplaceTagInBatches(ctx context.Context, oldID, newID string) error {
	batchIDs, err := s.FindBatchIDsByTag(ctx, oldID)
	if err != nil {
		return err
	}

	for _, batchID := range batchIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(func(txn *badger.Txn) error {
			b, err := getBatchInTxn(txn, batchID)
			if err != nil {
				return err
			}

			next := make([]string, 0, len(b.TagIDs))
			for _, id := range b.TagIDs {
				switch {
				case id == oldID:
					if !b.HasTag(newID) {
						next = append(next, newID)
					}
				default:
					next = append(next, id)
				}
			}
			b.TagIDs = next
			b.Touch()

			if err := txn.Delete(relationKey(batchByTagPrefix, oldID, batchID)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			if err := txn.Set(relationKey(batchByTagPrefix, newID, batchID), nil); err != nil {
				return err
			}
			return putBatchInTxn(txn, b)
		})
		if err != nil {
			return fmt.Errorf("replace tag in batch %s: %w", batchID, err)
		}
	}
	return nil
}

// RemoveTagFromBatches drops tagID from every batch referencing it.
func (s *Store) RemoveTagFromBatches(ctx context.Context, tagID string) error {
	batchIDs, err := s.FindBatchIDsByTag(ctx, tagID)
	if err != nil {
		return err
	}

	for _, batchID := range batchIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(func(txn *badger.Txn) error {
			b, err := getBatchInTxn(txn, batchID)
			if err != nil {
				return err
			}

			next := make([]string, 0, len(b.TagIDs))
			for _, id := range b.TagIDs {
				if id != tagID {
					next = append(next, id)
				}
			}
			b.TagIDs = next
			b.Touch()

			if err := txn.Delete(relationKey(batchByTagPrefix, tagID, batchID)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			return putBatchInTxn(txn, b)
		})
		if err != nil {
			return fmt.Errorf("remove tag from batch %s: %w", batchID, err)
		}
	}
	return nil
}

func getBatchInTxn(txn *badger.Txn, batchID string) (*domain.ImportBatch, error) {
	item, err := txn.Get([]byte(batchPrefix + batchID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrBatchNotFound
	}
	if err != nil {
		return nil, err
	}

	var b domain.ImportBatch
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &b)
	}); err != nil {
		return nil, err
	}
	return &b, nil
}

func putBatchInTxn(txn *badger.Txn, b *domain.ImportBatch) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal import batch %s: %w", b.ID, err)
	}
	return txn.Set([]byte(batchPrefix+b.ID), data)
}
