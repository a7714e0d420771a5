package service

import (
	"context"
	"log/slog"

	"github.com/curioapp/curio-server/internal/domain"
	"github.com/curioapp/curio-server/internal/id"
	"github.com/curioapp/curio-server/internal/sse"
	"github.com/curioapp/curio-server/internal/store"
	"github.com/curioapp/curio-server/internal/tagraph"
	"github.com/curioapp/curio-server/internal/validation"
)

// FileService manages dependent file records. It keeps each record's
// denormalized ancestor-inclusive tag set consistent at write time, so the
// tag engine's counts and thumbs stay derivable from the indexes alone.
type FileService struct {
	store     *store.Store
	tags      *TagService
	emitter   sse.Emitter
	validator *validation.Validator
	logger    *slog.Logger
}

// NewFileService creates a new file service.
func NewFileService(st *store.Store, tags *TagService, emitter sse.Emitter, logger *slog.Logger) *FileService {
	if emitter == nil {
		emitter = sse.NewNoopEmitter()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &FileService{
		store:     st,
		tags:      tags,
		emitter:   emitter,
		validator: validation.New(),
		logger:    logger,
	}
}

// CreateFileRequest contains fields for registering a file.
type CreateFileRequest struct {
	Path      string   `json:"path" validate:"required"`
	ThumbPath string   `json:"thumb_path"`
	TagIDs    []string `json:"tag_ids"`
}

// CreateFile registers a file with its ancestor-inclusive tag set already
// materialized, then recounts the tags it touches.
func (s *FileService) CreateFile(ctx context.Context, req CreateFileRequest) (*domain.File, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	fileID, err := id.Generate("file")
	if err != nil {
		return nil, err
	}
	withAncestors, err := tagraph.AncestorsOf(ctx, s.store, req.TagIDs, true)
	if err != nil {
		return nil, err
	}

	f := &domain.File{
		ID:                  fileID,
		Path:                req.Path,
		ThumbPath:           req.ThumbPath,
		TagIDs:              req.TagIDs,
		TagIDsWithAncestors: withAncestors,
	}
	f.InitTimestamps()

	if err := s.store.CreateFile(ctx, f); err != nil {
		return nil, err
	}

	if err := s.settleTags(ctx, withAncestors); err != nil {
		return nil, err
	}

	s.emitter.Emit(sse.NewFilesUpdatedEvent([]string{fileID}))
	s.logger.Debug("file created", "file_id", fileID, "path", req.Path, "tags", len(req.TagIDs))
	return f, nil
}

// GetFile returns a single file record.
func (s *FileService) GetFile(ctx context.Context, fileID string) (*domain.File, error) {
	return s.store.GetFile(ctx, fileID)
}

// SetFileTags replaces a file's direct tags and refreshes everything derived
// from them: its ancestor set, and the counts and thumbs of tags on both
// sides of the change.
func (s *FileService) SetFileTags(ctx context.Context, fileID string, tagIDs []string) (*domain.File, error) {
	f, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	oldAncestors := f.TagIDsWithAncestors

	if err := s.store.SetFileTags(ctx, fileID, tagIDs); err != nil {
		return nil, err
	}
	withAncestors, err := tagraph.AncestorsOf(ctx, s.store, tagIDs, true)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.UpdateFileAncestorTags(ctx, fileID, withAncestors); err != nil {
		return nil, err
	}

	touched := tagraph.NewIDSet(oldAncestors...)
	touched.AddAll(withAncestors)
	if err := s.settleTags(ctx, touched.Sorted()); err != nil {
		return nil, err
	}

	s.emitter.Emit(sse.NewFilesUpdatedEvent([]string{fileID}))
	return s.store.GetFile(ctx, fileID)
}

// CreateImportBatchRequest contains fields for recording an import batch.
type CreateImportBatchRequest struct {
	TagIDs    []string `json:"tag_ids"`
	FileCount int      `json:"file_count" validate:"gte=0"`
}

// CreateImportBatch records an import batch that applies tags to the files
// it brings in.
func (s *FileService) CreateImportBatch(ctx context.Context, req CreateImportBatchRequest) (*domain.ImportBatch, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	batchID, err := id.Generate("batch")
	if err != nil {
		return nil, err
	}
	b := &domain.ImportBatch{
		ID:        batchID,
		TagIDs:    req.TagIDs,
		FileCount: req.FileCount,
	}
	b.InitTimestamps()

	if err := s.store.CreateImportBatch(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// settleTags recounts and re-thumbs the given tags after a record write,
// emitting one batched update for whatever changed.
func (s *FileService) settleTags(ctx context.Context, tagIDs []string) error {
	updates, err := s.tags.recalculateCounts(ctx, tagIDs, true)
	if err != nil {
		return err
	}
	thumbsChanged, err := s.tags.recalculateThumbs(ctx, tagIDs)
	if err != nil {
		return err
	}

	changed := tagraph.NewIDSet(thumbsChanged...)
	for _, u := range updates {
		changed.Add(u.TagID)
	}
	if len(changed) > 0 {
		s.emitter.Emit(sse.NewTagsUpdatedEvent(changed.Sorted()))
	}
	return nil
}
