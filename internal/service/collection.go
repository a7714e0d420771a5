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

// CollectionService manages dependent collection records.
type CollectionService struct {
	store     *store.Store
	emitter   sse.Emitter
	validator *validation.Validator
	logger    *slog.Logger
}

// NewCollectionService creates a new collection service.
func NewCollectionService(st *store.Store, emitter sse.Emitter, logger *slog.Logger) *CollectionService {
	if emitter == nil {
		emitter = sse.NewNoopEmitter()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &CollectionService{
		store:     st,
		emitter:   emitter,
		validator: validation.New(),
		logger:    logger,
	}
}

// CreateCollectionRequest contains fields for creating a collection.
type CreateCollectionRequest struct {
	Title   string   `json:"title" validate:"required,min=1,max=200"`
	FileIDs []string `json:"file_ids"`
	TagIDs  []string `json:"tag_ids"`
}

// CreateCollection creates a collection with its ancestor-inclusive tag set
// already materialized.
func (s *CollectionService) CreateCollection(ctx context.Context, req CreateCollectionRequest) (*domain.Collection, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	collID, err := id.Generate("coll")
	if err != nil {
		return nil, err
	}
	withAncestors, err := tagraph.AncestorsOf(ctx, s.store, req.TagIDs, true)
	if err != nil {
		return nil, err
	}

	c := &domain.Collection{
		ID:                  collID,
		Title:               req.Title,
		FileIDs:             req.FileIDs,
		TagIDs:              req.TagIDs,
		TagIDsWithAncestors: withAncestors,
	}
	c.InitTimestamps()

	if err := s.store.CreateCollection(ctx, c); err != nil {
		return nil, err
	}

	s.emitter.Emit(sse.NewCollectionsUpdatedEvent([]string{collID}))
	s.logger.Debug("collection created", "collection_id", collID, "title", req.Title)
	return c, nil
}

// GetCollection returns a single collection.
func (s *CollectionService) GetCollection(ctx context.Context, collID string) (*domain.Collection, error) {
	return s.store.GetCollection(ctx, collID)
}

// SetCollectionTags replaces a collection's direct tags and refreshes its
// ancestor set.
func (s *CollectionService) SetCollectionTags(ctx context.Context, collID string, tagIDs []string) (*domain.Collection, error) {
	if err := s.store.SetCollectionTags(ctx, collID, tagIDs); err != nil {
		return nil, err
	}
	withAncestors, err := tagraph.AncestorsOf(ctx, s.store, tagIDs, true)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.UpdateCollectionAncestorTags(ctx, collID, withAncestors); err != nil {
		return nil, err
	}

	s.emitter.Emit(sse.NewCollectionsUpdatedEvent([]string{collID}))
	return s.store.GetCollection(ctx, collID)
}
