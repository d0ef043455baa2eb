package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/netresearch/llmrelay/internal/config"
	"github.com/netresearch/llmrelay/internal/domain/dispatch"
	"github.com/netresearch/llmrelay/internal/domain/model"
	"github.com/netresearch/llmrelay/internal/infrastructure/configstore"
	"github.com/netresearch/llmrelay/internal/infrastructure/llmcache"
	"github.com/netresearch/llmrelay/internal/infrastructure/logger"
	"github.com/netresearch/llmrelay/internal/infrastructure/modelstore"
	"github.com/netresearch/llmrelay/internal/infrastructure/modelsync"
	"github.com/netresearch/llmrelay/internal/infrastructure/observability"
	"github.com/netresearch/llmrelay/internal/infrastructure/providers"
	"github.com/netresearch/llmrelay/internal/interfaces/httpserver"
	"github.com/netresearch/llmrelay/internal/interfaces/httpserver/handlers"
)

// Application bundles the long-running parts of the relay.
type Application struct {
	httpServer *httpserver.HttpServer
	syncJob    *modelsync.Job
	bootstrap  *Bootstrap
	log        zerolog.Logger
}

func newApplication(httpServer *httpserver.HttpServer, syncJob *modelsync.Job, bootstrap *Bootstrap, log zerolog.Logger) *Application {
	return &Application{
		httpServer: httpServer,
		syncJob:    syncJob,
		bootstrap:  bootstrap,
		log:        log,
	}
}

// Install seeds providers, configurations and the model catalog.
func (a *Application) Install(ctx context.Context) error {
	return a.bootstrap.Install(ctx)
}

// Start runs the HTTP server and the model sync job until the context is
// cancelled or one of them fails.
func (a *Application) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var eg errgroup.Group
	eg.Go(func() error {
		err := a.syncJob.Run(runCtx)
		if err != nil {
			cancel()
		}
		return err
	})
	eg.Go(func() error {
		err := a.httpServer.Run(runCtx)
		if err != nil {
			cancel()
		}
		return err
	})
	return eg.Wait()
}

func main() {
	loadEnvFiles()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observability.Setup(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize observability")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown telemetry")
		}
	}()

	cache, locker, closeCache, err := buildCache(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize response cache")
	}
	defer closeCache()

	factory := providers.NewFactory(providers.WithSecret(cfg.ProviderSecret))
	models := modelstore.NewMemoryStore(log)
	manager := newDispatchManager(cfg, cache)
	resolver := dispatch.NewResolver(models, factory, cache)
	configs := configstore.NewMemoryStore(models, log)

	bootstrap := newBootstrap(cfg, factory, manager, configs, log)
	syncJob := newSyncJob(cfg, factory, models, locker, log)

	handlerProvider := handlers.NewProvider(manager, resolver, configs, models, log)
	httpServer := httpserver.New(cfg, log, handlerProvider)

	app := newApplication(httpServer, syncJob, bootstrap, log)
	if err := app.Install(ctx); err != nil {
		log.Fatal().Err(err).Msg("bootstrap providers")
	}

	if err := app.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("application stopped with error")
	}

	log.Info().Msg("application exited cleanly")
}

func newDispatchManager(cfg *config.Config, cache *llmcache.Manager) *dispatch.Manager {
	var opts []dispatch.Option
	if cfg.DispatchSingleFlight {
		opts = append(opts, dispatch.WithSingleFlight())
	}
	return dispatch.NewManager(cache, nil, opts...)
}

func newSyncJob(cfg *config.Config, factory *providers.Factory, store model.Store, locker modelsync.Locker, log zerolog.Logger) *modelsync.Job {
	return modelsync.New(modelsync.Config{
		Enabled:             cfg.ModelSyncEnabled,
		IntervalMinutes:     cfg.ModelSyncIntervalMinutes,
		AutoEnableNewModels: cfg.AutoEnableNewModels,
	}, factory, store, locker, log)
}

// buildCache selects the cache backend. Redis doubles as the distributed
// lock for the sync job; the in-process store needs no lock and the returned
// locker stays nil.
func buildCache(cfg *config.Config, log zerolog.Logger) (*llmcache.Manager, modelsync.Locker, func(), error) {
	if !cfg.CacheEnabled {
		log.Info().Msg("Response cache disabled")
		return nil, nil, func() {}, nil
	}

	if cfg.RedisURL != "" {
		store, err := llmcache.NewRedisStore(cfg.RedisURL, cfg.RedisPrefix)
		if err != nil {
			return nil, nil, nil, err
		}
		log.Info().Str("prefix", cfg.RedisPrefix).Msg("Response cache backed by Redis")
		closeCache := func() {
			if err := store.Close(); err != nil {
				log.Error().Err(err).Msg("close redis cache")
			}
		}
		return llmcache.NewManager(store), store, closeCache, nil
	}

	store, err := llmcache.NewMemoryStore(cfg.CacheMemorySize)
	if err != nil {
		return nil, nil, nil, err
	}
	log.Info().Int("entries", cfg.CacheMemorySize).Msg("Response cache backed by in-process store")
	return llmcache.NewManager(store), nil, func() {}, nil
}

func loadEnvFiles() {
	paths := []string{".env", "../.env"}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Overload(path); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", path, err)
			}
		}
	}
}
