// Package di provides dependency injection configuration for the Curio server.
package di

import (
	"github.com/samber/do/v2"

	"github.com/curioapp/curio-server/internal/config"
	"github.com/curioapp/curio-server/internal/di/providers"
	"github.com/curioapp/curio-server/internal/logger"
	"github.com/curioapp/curio-server/internal/service"
)

// NewContainer creates and configures the DI container with all providers.
func NewContainer() *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.Provide(injector, providers.ProvideConfig)
	do.Provide(injector, providers.ProvideLogger)
	do.Provide(injector, providers.ProvideSlogLogger)

	// Event and database layer
	do.Provide(injector, providers.ProvideSSEManager)
	do.Provide(injector, providers.ProvideStore)

	// Business services
	do.Provide(injector, providers.ProvideTagService)
	do.Provide(injector, providers.ProvideFileService)
	do.Provide(injector, providers.ProvideCollectionService)

	return injector
}

// Bootstrap initializes all services and returns once every provider has run.
// This triggers lazy initialization of the whole graph.
func Bootstrap(injector *do.RootScope) error {
	_ = do.MustInvoke[*config.Config](injector)
	_ = do.MustInvoke[*logger.Logger](injector)
	_ = do.MustInvoke[*providers.SSEManagerHandle](injector)
	_ = do.MustInvoke[*providers.StoreHandle](injector)

	_ = do.MustInvoke[*service.TagService](injector)
	_ = do.MustInvoke[*service.FileService](injector)
	_ = do.MustInvoke[*service.CollectionService](injector)

	return nil
}
