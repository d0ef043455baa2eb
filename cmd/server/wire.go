//go:build wireinject

package main

import (
	"github.com/google/wire"
	"github.com/rs/zerolog"

	"github.com/netresearch/llmrelay/internal/config"
	"github.com/netresearch/llmrelay/internal/domain/dispatch"
	"github.com/netresearch/llmrelay/internal/domain/model"
	"github.com/netresearch/llmrelay/internal/infrastructure/configstore"
	"github.com/netresearch/llmrelay/internal/infrastructure/llmcache"
	"github.com/netresearch/llmrelay/internal/infrastructure/logger"
	"github.com/netresearch/llmrelay/internal/infrastructure/modelstore"
	"github.com/netresearch/llmrelay/internal/infrastructure/modelsync"
	"github.com/netresearch/llmrelay/internal/infrastructure/providers"
	"github.com/netresearch/llmrelay/internal/interfaces/httpserver"
	"github.com/netresearch/llmrelay/internal/interfaces/httpserver/handlers"
)

// cacheBundle groups the cache manager with the locker it may supply, since
// both fall out of the same backend decision.
type cacheBundle struct {
	manager *llmcache.Manager
	locker  modelsync.Locker
}

// BuildApplication assembles the relay with Wire.
func BuildApplication() (*Application, func(), error) {
	wire.Build(
		config.Load,
		provideLogger,
		provideFactory,
		provideModelStore,
		provideCacheBundle,
		provideCacheManager,
		provideLocker,
		newDispatchManager,
		provideResolver,
		provideConfigStore,
		newSyncJob,
		handlers.NewProvider,
		httpserver.New,
		newBootstrap,
		newApplication,
	)
	return nil, nil, nil
}

func provideLogger(cfg *config.Config) (zerolog.Logger, error) {
	return logger.New(cfg.LogLevel, cfg.LogFormat)
}

func provideFactory(cfg *config.Config) *providers.Factory {
	return providers.NewFactory(providers.WithSecret(cfg.ProviderSecret))
}

func provideModelStore(log zerolog.Logger) model.Store {
	return modelstore.NewMemoryStore(log)
}

func provideCacheBundle(cfg *config.Config, log zerolog.Logger) (*cacheBundle, func(), error) {
	manager, locker, closeCache, err := buildCache(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return &cacheBundle{manager: manager, locker: locker}, closeCache, nil
}

func provideCacheManager(bundle *cacheBundle) *llmcache.Manager { return bundle.manager }

func provideLocker(bundle *cacheBundle) modelsync.Locker { return bundle.locker }

func provideResolver(store model.Store, factory *providers.Factory, cache *llmcache.Manager) *dispatch.Resolver {
	return dispatch.NewResolver(store, factory, cache)
}

func provideConfigStore(store model.Store, log zerolog.Logger) *configstore.MemoryStore {
	return configstore.NewMemoryStore(store, log)
}
