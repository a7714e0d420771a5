package store

import (
	"context"
	"encoding/json/v2"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"github.com/curioapp/curio-server/internal/domain"
)

// BatchWriter provides efficient bulk writes using BadgerDB's WriteBatch.
// Used by the seed tooling and import paths to land many file records
// without one transaction per record. WriteBatch carries no read-your-own-
// write semantics, so only creations of fresh records go through here.
type BatchWriter struct {
	store     *Store
	batch     *badger.WriteBatch
	maxSize   int
	count     int
	autoFlush bool
}

// NewBatchWriter creates a batch writer that auto-flushes at maxSize.
func (s *Store) NewBatchWriter(maxSize int) *BatchWriter {
	return &BatchWriter{
		store:     s,
		batch:     s.db.NewWriteBatch(),
		maxSize:   maxSize,
		autoFlush: true,
	}
}

// CreateFile adds a file record and its tag indexes to the batch.
func (b *BatchWriter) CreateFile(ctx context.Context, f *domain.File) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal file: %w", err)
	}
	if err := b.batch.Set([]byte(filePrefix+f.ID), data); err != nil {
		return fmt.Errorf("batch set file: %w", err)
	}

	for _, tagID := range f.TagIDs {
		if err := b.batch.Set(relationKey(fileByTagPrefix, tagID, f.ID), nil); err != nil {
			return fmt.Errorf("batch set tag index: %w", err)
		}
	}
	for _, tagID := range f.TagIDsWithAncestors {
		if err := b.batch.Set(relationKey(fileByAncPrefix, tagID, f.ID), nil); err != nil {
			return fmt.Errorf("batch set ancestor index: %w", err)
		}
	}

	b.count++
	if b.autoFlush && b.count >= b.maxSize {
		if err := b.Flush(); err != nil {
			return fmt.Errorf("auto flush: %w", err)
		}
	}
	return nil
}

// Flush commits all pending writes in the batch.
func (b *BatchWriter) Flush() error {
	if b.count == 0 {
		return nil
	}

	if err := b.batch.Flush(); err != nil {
		return fmt.Errorf("flush batch: %w", err)
	}

	if b.store.logger != nil {
		b.store.logger.LogAttrs(context.Background(), slog.LevelInfo, "batch flushed",
			slog.Int("count", b.count),
		)
	}

	b.count = 0
	b.batch = b.store.db.NewWriteBatch()
	return nil
}

// Cancel discards all pending writes in the batch.
func (b *BatchWriter) Cancel() {
	b.batch.Cancel()
	b.count = 0
}

// Count returns the number of records in the current batch.
func (b *BatchWriter) Count() int {
	return b.count
}
