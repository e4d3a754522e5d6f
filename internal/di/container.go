// Package di provides dependency injection configuration for the Narrate core.
package di

import (
	"context"

	"github.com/samber/do/v2"

	"github.com/narrateapp/narrate-core/internal/config"
	"github.com/narrateapp/narrate-core/internal/di/providers"
	"github.com/narrateapp/narrate-core/internal/download"
	"github.com/narrateapp/narrate-core/internal/logger"
	"github.com/narrateapp/narrate-core/internal/segment"
	"github.com/narrateapp/narrate-core/internal/service"
	"github.com/narrateapp/narrate-core/internal/speech"
)

// NewContainer creates and configures the DI container with all providers.
func NewContainer() *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.Provide(injector, providers.ProvideConfig)
	do.Provide(injector, providers.ProvideLogger)
	do.Provide(injector, providers.ProvideSlogLogger)

	// Database layer
	do.Provide(injector, providers.ProvideBus)
	do.Provide(injector, providers.ProvideStore)

	// Text pipeline
	do.Provide(injector, providers.ProvideSegmenter)
	do.Provide(injector, providers.ProvideNormalizer)
	do.Provide(injector, providers.ProvideSynthesizer)
	do.Provide(injector, providers.ProvideExtractor)

	// Host boundaries
	do.Provide(injector, providers.ProvideOutput)
	do.Provide(injector, providers.ProvideMediaSurface)
	do.Provide(injector, providers.ProvideRemoteStore)

	// Business services
	do.Provide(injector, providers.ProvideDownloadManager)
	do.Provide(injector, providers.ProvideLibrary)
	do.Provide(injector, providers.ProvidePlayer)
	do.Provide(injector, providers.ProvideSyncer)

	return injector
}

// Bootstrap initializes all services and returns handles for lifecycle management.
// This triggers lazy initialization of all core services.
func Bootstrap(injector *do.RootScope) error {
	// Invoke core services to trigger initialization
	_ = do.MustInvoke[*config.Config](injector)
	_ = do.MustInvoke[*logger.Logger](injector)
	_ = do.MustInvoke[*providers.StoreHandle](injector)
	_ = do.MustInvoke[*segment.Segmenter](injector)
	_ = do.MustInvoke[*speech.Normalizer](injector)

	// Business services
	_ = do.MustInvoke[*download.Manager](injector)
	_ = do.MustInvoke[*service.Library](injector)
	_ = do.MustInvoke[*providers.PlayerHandle](injector)
	sync := do.MustInvoke[*providers.SyncHandle](injector)

	// First run on a fresh data directory pulls the remote snapshot down
	// before anything else touches the library.
	return sync.RestoreIfNeeded(context.Background())
}
