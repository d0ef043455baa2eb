// Package modelsync keeps the model catalog aligned with what the configured
// providers actually serve. It lists models from every adapter that exposes a
// listing endpoint and replaces the provider's catalog slice in the store.
package modelsync

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mileusna/crontab"
	"github.com/rs/zerolog"

	"github.com/netresearch/llmrelay/internal/domain/llm"
	"github.com/netresearch/llmrelay/internal/domain/model"
	"github.com/netresearch/llmrelay/internal/infrastructure/metrics"
	"github.com/netresearch/llmrelay/internal/infrastructure/providers"
	"github.com/netresearch/llmrelay/internal/utils/platformerrors"
)

const (
	// DefaultSyncIntervalMinutes applies when the interval is unset or invalid.
	DefaultSyncIntervalMinutes = 15
	// jobTimeout bounds one sync run across all providers.
	jobTimeout = 10 * time.Minute

	syncLockName       = "model-sync"
	maxConcurrentSyncs = 4
)

// Locker serializes the sync across replicas. A nil Locker means single-node
// operation and the job runs unguarded.
type Locker interface {
	WithLock(name string, ttl time.Duration, fn func() error) error
}

// Config controls scheduling and how newly discovered models enter the
// catalog.
type Config struct {
	Enabled         bool
	IntervalMinutes int
	// AutoEnableNewModels activates models the sync has not seen before.
	// Known models keep their curated flags either way.
	AutoEnableNewModels bool
}

// Job runs the periodic catalog sync.
type Job struct {
	ctab    *crontab.Crontab
	factory *providers.Factory
	store   model.Store
	locker  Locker
	cfg     Config
	log     zerolog.Logger
}

// New creates a sync job. locker may be nil.
func New(cfg Config, factory *providers.Factory, store model.Store, locker Locker, log zerolog.Logger) *Job {
	return &Job{
		ctab:    crontab.New(),
		factory: factory,
		store:   store,
		locker:  locker,
		cfg:     cfg,
		log:     log.With().Str("component", "model-sync").Logger(),
	}
}

// Run syncs once immediately, then on the configured interval until ctx is
// cancelled.
func (j *Job) Run(ctx context.Context) error {
	j.SyncNow(ctx)

	if j.cfg.Enabled {
		interval := j.cfg.IntervalMinutes
		if interval <= 0 {
			interval = DefaultSyncIntervalMinutes
		}

		cronExpr := fmt.Sprintf("*/%d * * * *", interval)
		if err := j.ctab.AddJob(cronExpr, func() {
			jobCtx, cancel := context.WithTimeout(context.Background(), jobTimeout)
			defer cancel()
			j.SyncNow(jobCtx)
		}); err != nil {
			return platformerrors.AsError(ctx, platformerrors.LayerInfrastructure, err, "failed to schedule model sync job")
		}
		j.log.Info().Msgf("Model sync scheduled: every %d minute(s)", interval)
	}

	<-ctx.Done()
	j.ctab.Shutdown()
	return nil
}

// SyncNow performs one full sync pass, under the distributed lock when one is
// configured.
func (j *Job) SyncNow(ctx context.Context) {
	run := func() error {
		j.syncAllProviders(ctx)
		return nil
	}

	if j.locker == nil {
		_ = run()
		return
	}
	if err := j.locker.WithLock(syncLockName, jobTimeout, run); err != nil {
		j.log.Error().Err(err).Msg("Failed to acquire model sync lock")
	}
}

func (j *Job) syncAllProviders(ctx context.Context) {
	configs := j.factory.Configs()
	if len(configs) == 0 {
		return
	}

	sem := make(chan struct{}, maxConcurrentSyncs)
	var wg sync.WaitGroup

	for _, cfg := range configs {
		wg.Add(1)
		go func(cfg providers.Config) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			j.syncProvider(ctx, cfg)
		}(cfg)
	}
	wg.Wait()
}

func (j *Job) syncProvider(ctx context.Context, cfg providers.Config) {
	log := j.log.With().Str("provider_id", cfg.ID).Logger()

	adapter, err := j.factory.Build(ctx, cfg.ID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to build adapter for sync")
		return
	}
	lister, ok := adapter.(providers.ModelLister)
	if !ok {
		return
	}
	if !adapter.Available() {
		log.Debug().Msg("Adapter not available, skipping sync")
		return
	}

	infos, err := lister.ListModels(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch models from provider")
		return
	}
	if len(infos) == 0 {
		return
	}

	models := make([]*model.Model, 0, len(infos))
	for _, info := range infos {
		next := j.catalogModel(cfg, info)

		existing, err := j.store.FindByID(ctx, info.ID)
		if err != nil {
			log.Error().Err(err).Str("model", info.ID).Msg("Catalog lookup failed")
			continue
		}
		if existing != nil {
			// Keep curated fields across syncs.
			next.DisplayName = existing.DisplayName
			next.Capabilities = existing.Capabilities
			next.TokenLimits = existing.TokenLimits
			next.InputCost = existing.InputCost
			next.OutputCost = existing.OutputCost
			next.IsDefault = existing.IsDefault
			next.SortOrder = existing.SortOrder
			next.Active = existing.Active
		}
		models = append(models, next)
	}

	if err := j.store.ReplaceForProvider(ctx, cfg.ID, models); err != nil {
		log.Error().Err(err).Msg("Failed to store synced models")
		return
	}
	metrics.SetCatalogModels(cfg.ID, len(models))
	log.Info().Int("models", len(models)).Msg("Synced provider models")
}

func (j *Job) catalogModel(cfg providers.Config, info providers.ModelInfo) *model.Model {
	return &model.Model{
		Identifier:  info.ID,
		DisplayName: info.ID,
		Provider: &model.ProviderRef{
			Identifier:  cfg.ID,
			AdapterKind: cfg.Kind,
			Priority:    cfg.Priority,
			Active:      true,
		},
		Capabilities: inferCapabilities(info.ID),
		Active:       j.cfg.AutoEnableNewModels,
	}
}

// inferCapabilities tags a freshly discovered model. Listing endpoints carry
// no feature metadata, so the id is all there is to go on: embedding models
// are recognizable by name, everything else is assumed conversational.
func inferCapabilities(modelID string) []string {
	if strings.Contains(strings.ToLower(modelID), "embed") {
		return []string{string(llm.CapabilityEmbeddings)}
	}
	return []string{
		string(llm.CapabilityChat),
		string(llm.CapabilityCompletion),
		string(llm.CapabilityStreaming),
	}
}
