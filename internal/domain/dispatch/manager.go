// Package dispatch routes invocations to registered provider adapters. The
// manager owns the provider registry and the response cache boundary; the
// resolver binds calls to stored configurations instead of raw provider ids.
//
// Routing never falls back: when the addressed provider cannot serve an
// operation the call fails, even if another registered provider could serve
// it.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/netresearch/llmrelay/internal/domain/llm"
	"github.com/netresearch/llmrelay/internal/infrastructure/llmcache"
	"github.com/netresearch/llmrelay/internal/infrastructure/logger"
	"github.com/netresearch/llmrelay/internal/infrastructure/metrics"
	"github.com/netresearch/llmrelay/internal/utils/platformerrors"
)

// Operation names used for cache keys and metrics labels.
const (
	opChat     = "chat"
	opComplete = "completion"
	opEmbed    = "embeddings"
	opVision   = "vision"
	opTools    = "chat_with_tools"
	opStream   = "stream_chat"
)

// Option configures a Manager.
type Option func(*Manager)

// WithSingleFlight coalesces concurrent identical cacheable calls onto one
// upstream request. Off by default: concurrent misses then each call upstream
// and each write the cache, which is safe because writes are idempotent
// overwrites.
func WithSingleFlight() Option {
	return func(m *Manager) {
		m.flights = &singleflight.Group{}
	}
}

// Manager is the provider registry and dispatch entry point. Registration
// mutates the registry; every later operation only reads it.
type Manager struct {
	mu        sync.RWMutex
	providers map[string]llm.Provider
	defaultID string

	// settings holds externally supplied per-provider configuration, applied
	// once when the matching provider registers.
	settings map[string]map[string]any

	cache   *llmcache.Manager
	flights *singleflight.Group
	log     zerolog.Logger
}

// NewManager creates a registry. cache may be nil to disable response
// caching. settings maps provider ids to adapter settings applied at
// registration time.
func NewManager(cache *llmcache.Manager, settings map[string]map[string]any, opts ...Option) *Manager {
	m := &Manager{
		providers: make(map[string]llm.Provider),
		settings:  settings,
		cache:     cache,
		log:       logger.Component("dispatch"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds a provider to the registry, replacing any previous adapter
// under the same id. Held settings for the id are applied first; a Configure
// failure aborts the registration and the registry keeps its previous state.
func (m *Manager) Register(ctx context.Context, p llm.Provider) error {
	if p == nil || p.ID() == "" {
		return platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation,
			"provider must have an identifier", nil, "2a25c466-30df-4859-8b70-2931f5261bf5")
	}

	if settings, ok := m.settings[p.ID()]; ok {
		if err := p.Configure(settings); err != nil {
			return platformerrors.AsError(ctx, platformerrors.LayerDomain, err,
				fmt.Sprintf("failed to configure provider %q", p.ID()))
		}
	}

	m.mu.Lock()
	m.providers[p.ID()] = p
	m.mu.Unlock()

	m.log.Info().Str("provider_id", p.ID()).Str("kind", p.Kind()).Msg("Registered provider")
	return nil
}

// GetProvider resolves a provider id to its adapter. An empty id selects the
// configured default.
func (m *Manager) GetProvider(ctx context.Context, id string) (llm.Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if id == "" {
		if m.defaultID == "" {
			return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeNotFound,
				"no provider specified and no default configured", nil, "e50653fb-6c29-4dc4-938e-82fb06e3e0b8")
		}
		id = m.defaultID
	}

	p, ok := m.providers[id]
	if !ok {
		return nil, platformerrors.NewErrorWithContext(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeNotFound,
			fmt.Sprintf("provider %q not found", id), nil, "5f73db58-fcf0-4038-ba82-bcba0a6f7050",
			map[string]any{"provider_id": id})
	}
	return p, nil
}

// SetDefaultProvider names the provider used when calls omit an id. The
// provider must already be registered.
func (m *Manager) SetDefaultProvider(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.providers[id]; !ok {
		return platformerrors.NewErrorWithContext(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeNotFound,
			fmt.Sprintf("cannot set default: provider %q not registered", id), nil, "926bc272-57f0-4305-bd93-57109b8cafdc",
			map[string]any{"provider_id": id})
	}
	m.defaultID = id
	return nil
}

// DefaultProviderID returns the current default provider id, "" when unset.
func (m *Manager) DefaultProviderID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultID
}

// AvailableProviders returns the registered adapters currently reporting
// availability, ordered by id. Availability is adapter state only; no network
// calls happen here.
func (m *Manager) AvailableProviders() []llm.Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]llm.Provider, 0, len(m.providers))
	for _, p := range m.providers {
		if p.Available() {
			list = append(list, p)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID() < list[j].ID() })
	return list
}

// HasAvailableProvider reports whether at least one registered adapter is
// available.
func (m *Manager) HasAvailableProvider() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.providers {
		if p.Available() {
			return true
		}
	}
	return false
}

// Chat dispatches a conversation to the addressed provider.
func (m *Manager) Chat(ctx context.Context, providerID string, messages []llm.Message, opts llm.Options) (*llm.CompletionResponse, error) {
	p, err := m.GetProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}
	if err := requireCapability(ctx, p, llm.CapabilityChat); err != nil {
		return nil, err
	}

	params := optionParams(opts)
	params["messages"] = messages
	key := m.cacheKey(p.ID(), opChat, params)
	if cached, ok := m.cachedCompletion(ctx, opChat, key); ok {
		return cached, nil
	}

	return m.completionCall(ctx, p, opChat, key, opts, func() (*llm.CompletionResponse, error) {
		return p.Chat(ctx, messages, opts)
	})
}

// Complete dispatches a bare prompt completion.
func (m *Manager) Complete(ctx context.Context, providerID, prompt string, opts llm.Options) (*llm.CompletionResponse, error) {
	p, err := m.GetProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}
	if err := requireCapability(ctx, p, llm.CapabilityCompletion); err != nil {
		return nil, err
	}

	params := optionParams(opts)
	params["prompt"] = prompt
	key := m.cacheKey(p.ID(), opComplete, params)
	if cached, ok := m.cachedCompletion(ctx, opComplete, key); ok {
		return cached, nil
	}

	return m.completionCall(ctx, p, opComplete, key, opts, func() (*llm.CompletionResponse, error) {
		return p.Complete(ctx, prompt, opts)
	})
}

// Embed dispatches an embedding request.
func (m *Manager) Embed(ctx context.Context, providerID string, inputs []string, opts llm.Options) (*llm.EmbeddingResponse, error) {
	p, err := m.GetProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}
	if err := requireCapability(ctx, p, llm.CapabilityEmbeddings); err != nil {
		return nil, err
	}

	params := optionParams(opts)
	params["inputs"] = inputs
	key := m.cacheKey(p.ID(), opEmbed, params)
	if key != "" {
		if cached, ok := m.cache.GetCachedEmbeddings(ctx, key); ok {
			metrics.RecordCacheLookup(opEmbed, true)
			return cached, nil
		}
		metrics.RecordCacheLookup(opEmbed, false)
	}

	do := func() (*llm.EmbeddingResponse, error) {
		start := time.Now()
		resp, err := p.Embed(ctx, inputs, opts)
		observe(p.ID(), opEmbed, start, err)
		if err != nil {
			return nil, err
		}
		metrics.RecordTokens(p.ID(), resp.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		if key != "" {
			modelID, _ := opts.Model()
			if err := m.cache.CacheEmbeddings(ctx, key, resp, p.ID(), modelID); err != nil {
				m.log.Debug().Err(err).Msg("Failed to cache embeddings")
			}
		}
		return resp, nil
	}

	if m.flights == nil || key == "" {
		return do()
	}
	result, err, _ := m.flights.Do(opEmbed+":"+key, func() (any, error) { return do() })
	if err != nil {
		return nil, err
	}
	return result.(*llm.EmbeddingResponse), nil
}

// Vision dispatches an image analysis request. The capability gate runs
// before the interface assertion, so an adapter that neither declares nor
// implements vision fails with the capability error, not a type error.
func (m *Manager) Vision(ctx context.Context, providerID string, message llm.Message, opts llm.Options) (*llm.VisionResponse, error) {
	p, err := m.GetProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}
	if err := requireCapability(ctx, p, llm.CapabilityVision); err != nil {
		return nil, err
	}
	vp, ok := p.(llm.VisionProvider)
	if !ok {
		return nil, platformerrors.NewErrorWithContext(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeUnsupported,
			fmt.Sprintf("provider %q declares vision but does not implement it", p.ID()), nil, "4029436a-3153-45b3-b4c9-466972586f33",
			map[string]any{"provider_id": p.ID()})
	}

	params := optionParams(opts)
	params["message"] = message
	key := m.cacheKey(p.ID(), opVision, params)
	if key != "" {
		if cached, ok := m.cache.GetCachedVision(ctx, key); ok {
			metrics.RecordCacheLookup(opVision, true)
			return cached, nil
		}
		metrics.RecordCacheLookup(opVision, false)
	}

	do := func() (*llm.VisionResponse, error) {
		start := time.Now()
		resp, err := vp.AnalyzeImage(ctx, message, opts)
		observe(p.ID(), opVision, start, err)
		if err != nil {
			return nil, err
		}
		metrics.RecordTokens(p.ID(), resp.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		if key != "" {
			modelID, _ := opts.Model()
			if err := m.cache.CacheVision(ctx, key, resp, p.ID(), modelID); err != nil {
				m.log.Debug().Err(err).Msg("Failed to cache vision response")
			}
		}
		return resp, nil
	}

	if m.flights == nil || key == "" {
		return do()
	}
	result, err, _ := m.flights.Do(opVision+":"+key, func() (any, error) { return do() })
	if err != nil {
		return nil, err
	}
	return result.(*llm.VisionResponse), nil
}

// StreamChat dispatches a streaming conversation. Streamed responses are
// never cached and never coalesced.
func (m *Manager) StreamChat(ctx context.Context, providerID string, messages []llm.Message, opts llm.Options) (llm.Stream, error) {
	p, err := m.GetProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}
	if err := requireCapability(ctx, p, llm.CapabilityStreaming); err != nil {
		return nil, err
	}
	sp, ok := p.(llm.StreamingProvider)
	if !ok {
		return nil, platformerrors.NewErrorWithContext(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeUnsupported,
			fmt.Sprintf("provider %q declares streaming but does not implement it", p.ID()), nil, "05d62728-d22d-4457-8601-bec2e9697730",
			map[string]any{"provider_id": p.ID()})
	}

	start := time.Now()
	stream, err := sp.StreamChat(ctx, messages, opts)
	if err != nil {
		observe(p.ID(), opStream, start, err)
		return nil, err
	}

	metrics.IncrementActiveStreams(p.ID())
	return &meteredStream{Stream: stream, providerID: p.ID(), start: start}, nil
}

// ChatWithTools dispatches a conversation with a tool schema list.
func (m *Manager) ChatWithTools(ctx context.Context, providerID string, messages []llm.Message, tools []llm.Tool, opts llm.Options) (*llm.CompletionResponse, error) {
	p, err := m.GetProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}
	if err := requireCapability(ctx, p, llm.CapabilityTools); err != nil {
		return nil, err
	}
	tp, ok := p.(llm.ToolProvider)
	if !ok {
		return nil, platformerrors.NewErrorWithContext(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeUnsupported,
			fmt.Sprintf("provider %q declares tool calling but does not implement it", p.ID()), nil, "204b14d9-4069-4cd8-ae5c-b9f8aa180128",
			map[string]any{"provider_id": p.ID()})
	}

	params := optionParams(opts)
	params["messages"] = messages
	params["tools"] = tools
	key := m.cacheKey(p.ID(), opTools, params)
	if cached, ok := m.cachedCompletion(ctx, opTools, key); ok {
		return cached, nil
	}

	return m.completionCall(ctx, p, opTools, key, opts, func() (*llm.CompletionResponse, error) {
		return tp.ChatWithTools(ctx, messages, tools, opts)
	})
}

func requireCapability(ctx context.Context, p llm.Provider, c llm.Capability) error {
	if !p.Supports(c) {
		return platformerrors.NewErrorWithContext(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeUnsupported,
			fmt.Sprintf("provider %q does not support capability %q", p.ID(), c), nil, "72c03e9f-74b8-4fef-8dc0-689c1dc508d0",
			map[string]any{"provider_id": p.ID(), "capability": string(c)})
	}
	return nil
}

// cacheKey returns "" when caching is disabled.
func (m *Manager) cacheKey(providerID, operation string, params map[string]any) string {
	if m.cache == nil {
		return ""
	}
	return m.cache.GenerateCacheKey(providerID, operation, params)
}

func (m *Manager) cachedCompletion(ctx context.Context, operation, key string) (*llm.CompletionResponse, bool) {
	if key == "" {
		return nil, false
	}
	cached, ok := m.cache.GetCachedCompletion(ctx, key)
	metrics.RecordCacheLookup(operation, ok)
	return cached, ok
}

// completionCall runs the adapter call, records metrics and writes the cache.
// With single-flight enabled, concurrent calls sharing a key run it once.
func (m *Manager) completionCall(ctx context.Context, p llm.Provider, operation, key string, opts llm.Options, call func() (*llm.CompletionResponse, error)) (*llm.CompletionResponse, error) {
	do := func() (*llm.CompletionResponse, error) {
		start := time.Now()
		resp, err := call()
		observe(p.ID(), operation, start, err)
		if err != nil {
			return nil, err
		}
		metrics.RecordTokens(p.ID(), resp.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		if key != "" {
			modelID, _ := opts.Model()
			if err := m.cache.CacheCompletion(ctx, key, resp, p.ID(), modelID); err != nil {
				m.log.Debug().Err(err).Msg("Failed to cache completion")
			}
		}
		return resp, nil
	}

	if m.flights == nil || key == "" {
		return do()
	}
	result, err, _ := m.flights.Do(operation+":"+key, func() (any, error) { return do() })
	if err != nil {
		return nil, err
	}
	return result.(*llm.CompletionResponse), nil
}

func observe(providerID, operation string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		metrics.RecordProviderError(providerID, errorTypeLabel(err))
	}
	metrics.RecordDispatch(providerID, operation, status, time.Since(start).Seconds())
}

// optionParams copies opts into a fresh params map for cache key generation.
// The stream and user keys are dropped by the key generator itself.
func optionParams(opts llm.Options) map[string]any {
	params := make(map[string]any, len(opts)+2)
	for k, v := range opts {
		params[k] = v
	}
	return params
}

func errorTypeLabel(err error) string {
	var platformErr *platformerrors.PlatformError
	if errors.As(err, &platformErr) {
		return strings.ToLower(string(platformErr.GetErrorType()))
	}
	return "internal"
}

// meteredStream keeps the active-stream gauge honest: it decrements exactly
// once, whether the stream drains to EOF, fails, or is closed early.
type meteredStream struct {
	llm.Stream
	providerID string
	start      time.Time
	once       sync.Once
}

func (s *meteredStream) Recv() (llm.StreamChunk, error) {
	chunk, err := s.Stream.Recv()
	if err != nil {
		s.finish()
	}
	return chunk, err
}

func (s *meteredStream) Close() error {
	err := s.Stream.Close()
	s.finish()
	return err
}

func (s *meteredStream) finish() {
	s.once.Do(func() {
		metrics.DecrementActiveStreams(s.providerID)
		metrics.RecordDispatch(s.providerID, opStream, "ok", time.Since(s.start).Seconds())
	})
}
