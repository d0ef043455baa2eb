package providers

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/netresearch/llmrelay/internal/domain/llm"
	"github.com/netresearch/llmrelay/internal/domain/model"
	"github.com/netresearch/llmrelay/internal/utils/crypto"
	"github.com/netresearch/llmrelay/internal/utils/platformerrors"
)

// ModelInfo is one entry of an upstream model catalog.
type ModelInfo struct {
	ID      string
	OwnedBy string
	Created int64
}

// ModelLister is implemented by adapters that can enumerate the models their
// upstream currently serves. The registry sync job feeds on it.
type ModelLister interface {
	ListModels(ctx context.Context) ([]ModelInfo, error)
}

type FactoryOption func(*Factory)

// WithSecret makes the factory treat configured API keys as encrypted at
// rest and decrypt them with the given secret before handing them to an
// adapter. The key value "none" is exempt.
func WithSecret(secret string) FactoryOption {
	return func(f *Factory) {
		f.secret = strings.TrimSpace(secret)
	}
}

// Factory builds and caches adapters from registered provider configs. The
// resolver asks it for the adapter serving a selected model's provider.
type Factory struct {
	mu       sync.RWMutex
	configs  map[string]Config
	adapters map[string]llm.Provider
	secret   string
}

func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{
		configs:  make(map[string]Config),
		adapters: make(map[string]llm.Provider),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// RegisterConfig stores a provider config. Re-registering an ID replaces the
// config and drops the cached adapter so the next build picks up the new
// values.
func (f *Factory) RegisterConfig(cfg Config) error {
	if strings.TrimSpace(cfg.ID) == "" {
		return platformerrors.NewError(context.Background(), platformerrors.LayerInfrastructure,
			platformerrors.ErrorTypeValidation, "provider config requires an id", nil,
			"a952177b-c1a1-4272-b546-1d250425d603")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configs[cfg.ID] = cfg
	delete(f.adapters, cfg.ID)
	return nil
}

// Configs returns a snapshot of the registered provider configs.
func (f *Factory) Configs() []Config {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Config, 0, len(f.configs))
	for _, cfg := range f.configs {
		out = append(out, cfg)
	}
	return out
}

// Build returns the adapter for the provider ID, constructing and caching it
// on first use.
func (f *Factory) Build(ctx context.Context, providerID string) (llm.Provider, error) {
	f.mu.RLock()
	if adapter, ok := f.adapters[providerID]; ok {
		f.mu.RUnlock()
		return adapter, nil
	}
	cfg, ok := f.configs[providerID]
	f.mu.RUnlock()
	if !ok {
		return nil, platformerrors.NewErrorWithContext(ctx, platformerrors.LayerInfrastructure,
			platformerrors.ErrorTypeNotFound, fmt.Sprintf("no adapter configuration for provider %q", providerID), nil,
			"316f59db-faab-4a05-acde-5d788d88db8a", map[string]any{"provider_id": providerID})
	}

	if f.secret != "" && cfg.APIKey != "" && !strings.EqualFold(cfg.APIKey, "none") {
		plain, err := crypto.DecryptString(f.secret, cfg.APIKey)
		if err != nil {
			return nil, platformerrors.AsError(ctx, platformerrors.LayerInfrastructure, err, "failed to decrypt API key")
		}
		cfg.APIKey = plain
	}

	adapter, err := New(cfg)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.adapters[providerID]; ok {
		// Lost a build race; keep the adapter already cached.
		return existing, nil
	}
	f.adapters[providerID] = adapter
	return adapter, nil
}

// ForModel returns the adapter serving the model's owning provider.
func (f *Factory) ForModel(ctx context.Context, m *model.Model) (llm.Provider, error) {
	if m == nil || m.Provider == nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerInfrastructure,
			platformerrors.ErrorTypeNotFound, "model has no provider reference", nil,
			"e2ba8eb9-f229-426f-a5d0-81083e2f0858")
	}
	return f.Build(ctx, m.Provider.Identifier)
}
