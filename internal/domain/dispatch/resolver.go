package dispatch

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/netresearch/llmrelay/internal/domain/llm"
	"github.com/netresearch/llmrelay/internal/domain/model"
	"github.com/netresearch/llmrelay/internal/infrastructure/llmcache"
	"github.com/netresearch/llmrelay/internal/infrastructure/logger"
	"github.com/netresearch/llmrelay/internal/infrastructure/metrics"
	"github.com/netresearch/llmrelay/internal/utils/platformerrors"
)

// AdapterFactory builds adapters bound to a specific model. The adapter
// carries the model's own endpoint and credential context, which matters when
// one provider kind hosts differently configured deployments.
type AdapterFactory interface {
	ForModel(ctx context.Context, m *model.Model) (llm.Provider, error)
}

// Resolver binds dispatch operations to stored configurations: it selects
// the model, builds the matching adapter and forwards the call with the
// configuration's option overrides applied.
type Resolver struct {
	store   model.Store
	factory AdapterFactory
	cache   *llmcache.Manager
	log     zerolog.Logger
}

// NewResolver creates a resolver. cache may be nil to disable response
// caching.
func NewResolver(store model.Store, factory AdapterFactory, cache *llmcache.Manager) *Resolver {
	return &Resolver{
		store:   store,
		factory: factory,
		cache:   cache,
		log:     logger.Component("dispatch.resolver"),
	}
}

// ResolveAdapter resolves the configuration's model and builds its adapter.
// A configuration that resolves to no model fails; the resolver never
// substitutes a different model.
func (r *Resolver) ResolveAdapter(ctx context.Context, cfg *model.Configuration) (llm.Provider, *model.Model, error) {
	m, err := model.ResolveModel(ctx, r.store, cfg)
	if err != nil {
		return nil, nil, err
	}
	if m == nil {
		metrics.RecordSelection(string(cfg.Mode), "no_model")
		return nil, nil, platformerrors.NewErrorWithContext(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeNotFound,
			"configuration has no model assigned", nil, "257685f6-82c8-4fe6-97d3-47232772094a",
			map[string]any{"configuration": cfg.PublicID})
	}
	metrics.RecordSelection(string(cfg.Mode), "resolved")

	adapter, err := r.factory.ForModel(ctx, m)
	if err != nil {
		return nil, nil, err
	}
	return adapter, m, nil
}

// Chat runs a conversation against the configuration's resolved model.
func (r *Resolver) Chat(ctx context.Context, cfg *model.Configuration, messages []llm.Message, opts llm.Options) (*llm.CompletionResponse, error) {
	adapter, mdl, err := r.ResolveAdapter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := requireCapability(ctx, adapter, llm.CapabilityChat); err != nil {
		return nil, err
	}
	callOpts := resolvedOptions(cfg, mdl, opts)

	params := optionParams(callOpts)
	params["messages"] = messages
	key := r.key(adapter.ID(), opChat, params)
	if cached, ok := r.cachedCompletion(ctx, opChat, key); ok {
		return cached, nil
	}

	start := time.Now()
	resp, err := adapter.Chat(ctx, messages, callOpts)
	observe(adapter.ID(), opChat, start, err)
	if err != nil {
		return nil, err
	}
	metrics.RecordTokens(adapter.ID(), resp.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	r.storeCompletion(ctx, key, resp, adapter.ID(), mdl.Identifier)
	return resp, nil
}

// Complete runs a bare prompt against the configuration's resolved model.
func (r *Resolver) Complete(ctx context.Context, cfg *model.Configuration, prompt string, opts llm.Options) (*llm.CompletionResponse, error) {
	adapter, mdl, err := r.ResolveAdapter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := requireCapability(ctx, adapter, llm.CapabilityCompletion); err != nil {
		return nil, err
	}
	callOpts := resolvedOptions(cfg, mdl, opts)

	params := optionParams(callOpts)
	params["prompt"] = prompt
	key := r.key(adapter.ID(), opComplete, params)
	if cached, ok := r.cachedCompletion(ctx, opComplete, key); ok {
		return cached, nil
	}

	start := time.Now()
	resp, err := adapter.Complete(ctx, prompt, callOpts)
	observe(adapter.ID(), opComplete, start, err)
	if err != nil {
		return nil, err
	}
	metrics.RecordTokens(adapter.ID(), resp.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	r.storeCompletion(ctx, key, resp, adapter.ID(), mdl.Identifier)
	return resp, nil
}

// Embed computes embeddings with the configuration's resolved model.
func (r *Resolver) Embed(ctx context.Context, cfg *model.Configuration, inputs []string, opts llm.Options) (*llm.EmbeddingResponse, error) {
	adapter, mdl, err := r.ResolveAdapter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := requireCapability(ctx, adapter, llm.CapabilityEmbeddings); err != nil {
		return nil, err
	}
	callOpts := resolvedOptions(cfg, mdl, opts)

	params := optionParams(callOpts)
	params["inputs"] = inputs
	key := r.key(adapter.ID(), opEmbed, params)
	if key != "" {
		if cached, ok := r.cache.GetCachedEmbeddings(ctx, key); ok {
			metrics.RecordCacheLookup(opEmbed, true)
			return cached, nil
		}
		metrics.RecordCacheLookup(opEmbed, false)
	}

	start := time.Now()
	resp, err := adapter.Embed(ctx, inputs, callOpts)
	observe(adapter.ID(), opEmbed, start, err)
	if err != nil {
		return nil, err
	}
	if key != "" {
		if err := r.cache.CacheEmbeddings(ctx, key, resp, adapter.ID(), mdl.Identifier); err != nil {
			r.log.Debug().Err(err).Msg("Failed to cache embeddings")
		}
	}
	return resp, nil
}

// Vision analyzes image content with the configuration's resolved model.
func (r *Resolver) Vision(ctx context.Context, cfg *model.Configuration, message llm.Message, opts llm.Options) (*llm.VisionResponse, error) {
	adapter, mdl, err := r.ResolveAdapter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := requireCapability(ctx, adapter, llm.CapabilityVision); err != nil {
		return nil, err
	}
	vp, ok := adapter.(llm.VisionProvider)
	if !ok {
		return nil, platformerrors.NewErrorWithContext(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeUnsupported,
			"resolved adapter declares vision but does not implement it", nil, "efda83c5-f263-413a-9d37-dad224ed003b",
			map[string]any{"provider_id": adapter.ID(), "configuration": cfg.PublicID})
	}
	callOpts := resolvedOptions(cfg, mdl, opts)

	params := optionParams(callOpts)
	params["message"] = message
	key := r.key(adapter.ID(), opVision, params)
	if key != "" {
		if cached, ok := r.cache.GetCachedVision(ctx, key); ok {
			metrics.RecordCacheLookup(opVision, true)
			return cached, nil
		}
		metrics.RecordCacheLookup(opVision, false)
	}

	start := time.Now()
	resp, err := vp.AnalyzeImage(ctx, message, callOpts)
	observe(adapter.ID(), opVision, start, err)
	if err != nil {
		return nil, err
	}
	if key != "" {
		if err := r.cache.CacheVision(ctx, key, resp, adapter.ID(), mdl.Identifier); err != nil {
			r.log.Debug().Err(err).Msg("Failed to cache vision response")
		}
	}
	return resp, nil
}

// StreamChat starts a streaming conversation with the configuration's
// resolved model. The capability gate fails before any fragment is produced.
func (r *Resolver) StreamChat(ctx context.Context, cfg *model.Configuration, messages []llm.Message, opts llm.Options) (llm.Stream, error) {
	adapter, mdl, err := r.ResolveAdapter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := requireCapability(ctx, adapter, llm.CapabilityStreaming); err != nil {
		return nil, err
	}
	sp, ok := adapter.(llm.StreamingProvider)
	if !ok {
		return nil, platformerrors.NewErrorWithContext(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeUnsupported,
			"resolved adapter declares streaming but does not implement it", nil, "d3bcd9af-2914-4658-b658-01a0825d46ad",
			map[string]any{"provider_id": adapter.ID(), "configuration": cfg.PublicID})
	}
	callOpts := resolvedOptions(cfg, mdl, opts)

	start := time.Now()
	stream, err := sp.StreamChat(ctx, messages, callOpts)
	if err != nil {
		observe(adapter.ID(), opStream, start, err)
		return nil, err
	}

	metrics.IncrementActiveStreams(adapter.ID())
	return &meteredStream{Stream: stream, providerID: adapter.ID(), start: start}, nil
}

// ChatWithTools runs a tool-calling conversation with the configuration's
// resolved model.
func (r *Resolver) ChatWithTools(ctx context.Context, cfg *model.Configuration, messages []llm.Message, tools []llm.Tool, opts llm.Options) (*llm.CompletionResponse, error) {
	adapter, mdl, err := r.ResolveAdapter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := requireCapability(ctx, adapter, llm.CapabilityTools); err != nil {
		return nil, err
	}
	tp, ok := adapter.(llm.ToolProvider)
	if !ok {
		return nil, platformerrors.NewErrorWithContext(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeUnsupported,
			"resolved adapter declares tool calling but does not implement it", nil, "135af82d-4bfa-440e-8d88-06a86e038008",
			map[string]any{"provider_id": adapter.ID(), "configuration": cfg.PublicID})
	}
	callOpts := resolvedOptions(cfg, mdl, opts)

	params := optionParams(callOpts)
	params["messages"] = messages
	params["tools"] = tools
	key := r.key(adapter.ID(), opTools, params)
	if cached, ok := r.cachedCompletion(ctx, opTools, key); ok {
		return cached, nil
	}

	start := time.Now()
	resp, err := tp.ChatWithTools(ctx, messages, tools, callOpts)
	observe(adapter.ID(), opTools, start, err)
	if err != nil {
		return nil, err
	}
	metrics.RecordTokens(adapter.ID(), resp.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	r.storeCompletion(ctx, key, resp, adapter.ID(), mdl.Identifier)
	return resp, nil
}

func (r *Resolver) key(providerID, operation string, params map[string]any) string {
	if r.cache == nil {
		return ""
	}
	return r.cache.GenerateCacheKey(providerID, operation, params)
}

func (r *Resolver) cachedCompletion(ctx context.Context, operation, key string) (*llm.CompletionResponse, bool) {
	if key == "" {
		return nil, false
	}
	cached, ok := r.cache.GetCachedCompletion(ctx, key)
	metrics.RecordCacheLookup(operation, ok)
	return cached, ok
}

func (r *Resolver) storeCompletion(ctx context.Context, key string, resp *llm.CompletionResponse, providerID, modelID string) {
	if key == "" {
		return
	}
	if err := r.cache.CacheCompletion(ctx, key, resp, providerID, modelID); err != nil {
		r.log.Debug().Err(err).Msg("Failed to cache completion")
	}
}

// resolvedOptions flattens the configuration overrides, overlays the
// per-call options, strips dispatch meta keys and pins the resolved model.
// Callers cannot override the model the configuration resolved to.
func resolvedOptions(cfg *model.Configuration, m *model.Model, opts llm.Options) llm.Options {
	merged := llm.Options(cfg.Options).Merge(opts).WithoutMeta()
	merged[llm.OptionModel] = m.Identifier
	return merged
}
