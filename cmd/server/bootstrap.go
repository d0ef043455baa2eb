package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/netresearch/llmrelay/internal/config"
	"github.com/netresearch/llmrelay/internal/domain/dispatch"
	"github.com/netresearch/llmrelay/internal/domain/llm"
	"github.com/netresearch/llmrelay/internal/domain/model"
	"github.com/netresearch/llmrelay/internal/infrastructure/configstore"
	"github.com/netresearch/llmrelay/internal/infrastructure/providers"
	"github.com/netresearch/llmrelay/internal/utils/platformerrors"
)

// Bootstrap seeds the runtime registries from the loaded configuration:
// provider adapters into the dispatch manager, invocation configurations
// into the configuration store.
type Bootstrap struct {
	cfg     *config.Config
	factory *providers.Factory
	manager *dispatch.Manager
	configs *configstore.MemoryStore
	log     zerolog.Logger
}

func newBootstrap(cfg *config.Config, factory *providers.Factory, manager *dispatch.Manager, configs *configstore.MemoryStore, log zerolog.Logger) *Bootstrap {
	return &Bootstrap{
		cfg:     cfg,
		factory: factory,
		manager: manager,
		configs: configs,
		log:     log.With().Str("component", "bootstrap").Logger(),
	}
}

// Install registers every configured provider and loads the declared
// configurations. A provider that fails to register aborts startup; a
// half-registered provider set would route requests unpredictably.
func (b *Bootstrap) Install(ctx context.Context) error {
	entries := b.cfg.BootstrapEntries()
	for i := range entries {
		if err := b.registerProvider(ctx, entries[i]); err != nil {
			return platformerrors.AsError(ctx, platformerrors.LayerInfrastructure, err,
				fmt.Sprintf("failed to bootstrap provider %q", entries[i].ID))
		}
	}
	if len(entries) > 0 {
		b.log.Info().Int("providers", len(entries)).Msg("Registered bootstrap providers")
	}

	if err := b.setDefaultProvider(ctx); err != nil {
		return err
	}

	configurations := b.cfg.ConfigurationEntries()
	if len(configurations) == 0 {
		return nil
	}
	records := make([]configstore.Record, 0, len(configurations))
	for _, entry := range configurations {
		records = append(records, configurationRecord(entry))
	}
	if err := b.configs.Load(records); err != nil {
		return err
	}
	b.log.Info().Int("configurations", len(records)).Msg("Loaded invocation configurations")
	return nil
}

func (b *Bootstrap) registerProvider(ctx context.Context, entry config.BootstrapEntry) error {
	if err := b.factory.RegisterConfig(providerConfig(entry)); err != nil {
		return err
	}
	adapter, err := b.factory.Build(ctx, entry.ID)
	if err != nil {
		return err
	}
	return b.manager.Register(ctx, adapter)
}

func (b *Bootstrap) setDefaultProvider(ctx context.Context) error {
	id := strings.TrimSpace(b.cfg.DefaultProvider)
	if id == "" {
		b.log.Info().Msg("No default provider configured; requests must name a provider or configuration")
		return nil
	}
	return b.manager.SetDefaultProvider(ctx, id)
}

func providerConfig(entry config.BootstrapEntry) providers.Config {
	capabilities := make([]llm.Capability, 0, len(entry.Capabilities))
	for _, tag := range entry.Capabilities {
		capabilities = append(capabilities, llm.Capability(tag))
	}
	return providers.Config{
		ID:           entry.ID,
		DisplayName:  entry.DisplayName,
		Kind:         model.AdapterKindFromVendor(entry.Vendor),
		BaseURL:      entry.BaseURL,
		APIKey:       entry.APIKey,
		DefaultModel: entry.DefaultModel,
		Organization: entry.Organization,
		APIVersion:   entry.APIVersion,
		Priority:     entry.Priority,
		Capabilities: capabilities,
	}
}

func configurationRecord(entry config.ConfigurationEntry) configstore.Record {
	return configstore.Record{
		PublicID: entry.ID,
		Name:     entry.Name,
		Mode:     model.SelectionMode(entry.Mode),
		ModelID:  entry.Model,
		Criteria: model.Criteria{
			Capabilities:     entry.Criteria.Capabilities,
			AdapterKinds:     entry.Criteria.AdapterKinds,
			MinContextLength: entry.Criteria.MinContextLength,
			MaxInputCost:     model.MicroUSD(entry.Criteria.MaxInputCost),
			PreferLowCost:    entry.Criteria.PreferLowCost,
		},
		Options: entry.Options,
		Active:  true,
	}
}
