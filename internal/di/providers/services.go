package providers

import (
	"log/slog"

	"github.com/samber/do/v2"

	"github.com/curioapp/curio-server/internal/service"
)

// ProvideTagService provides the tag hierarchy service.
func ProvideTagService(i do.Injector) (*service.TagService, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)
	log := do.MustInvoke[*slog.Logger](i)

	return service.NewTagService(storeHandle.Store, sseHandle.Manager, log), nil
}

// ProvideFileService provides the file record service.
func ProvideFileService(i do.Injector) (*service.FileService, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	tagService := do.MustInvoke[*service.TagService](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)
	log := do.MustInvoke[*slog.Logger](i)

	return service.NewFileService(storeHandle.Store, tagService, sseHandle.Manager, log), nil
}

// ProvideCollectionService provides the collection service.
func ProvideCollectionService(i do.Injector) (*service.CollectionService, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)
	log := do.MustInvoke[*slog.Logger](i)

	return service.NewCollectionService(storeHandle.Store, sseHandle.Manager, log), nil
}
