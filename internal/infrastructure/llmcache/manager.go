package llmcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/netresearch/llmrelay/internal/domain/llm"
	"github.com/netresearch/llmrelay/internal/utils/functional"
)

// Baseline tags injected into every entry, plus the prefixes for the
// provider and model scoped tags used by targeted invalidation.
const (
	TagLLM        = "llm"
	TagResponse   = "llm_response"
	TagEmbeddings = "llm_embeddings"

	providerTagPrefix = "llm_provider_"
	modelTagPrefix    = "llm_model_"
)

// Default TTLs per operation class. Embeddings are deterministic for a given
// input and model, so they live a full day; generated text gets one hour.
const (
	DefaultCompletionTTL = time.Hour
	DefaultEmbeddingTTL  = 24 * time.Hour
)

var nonAlnum = regexp.MustCompile(`[^a-zA-Z0-9]`)

// SanitizeTagComponent maps every non-alphanumeric character to an
// underscore, so vendor model identifiers like "gpt-4.0-turbo" become safe
// tag components.
func SanitizeTagComponent(raw string) string {
	return nonAlnum.ReplaceAllString(raw, "_")
}

// ProviderTag returns the invalidation tag for one provider.
func ProviderTag(providerID string) string {
	return providerTagPrefix + SanitizeTagComponent(providerID)
}

// ModelTag returns the invalidation tag for one model.
func ModelTag(modelID string) string {
	return modelTagPrefix + SanitizeTagComponent(modelID)
}

// Manager is the typed cache facade the dispatch layer talks to. Lookup
// failures of any kind count as misses; only explicit invalidation calls
// surface backend errors.
type Manager struct {
	store Store
}

// NewManager wraps a cache backend.
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// GenerateCacheKey derives the content address for one invocation: a
// SHA-256 digest over the provider, the operation name and the parameters.
// Map keys serialize in sorted order, so parameter order never changes the
// key, and the volatile stream and user fields are dropped before hashing.
func (m *Manager) GenerateCacheKey(provider, operation string, params map[string]any) string {
	cleaned := make(map[string]any, len(params))
	for k, v := range params {
		if k == llm.OptionStream || k == llm.OptionUser {
			continue
		}
		cleaned[k] = v
	}

	payload := map[string]any{
		"provider":  provider,
		"operation": operation,
		"params":    cleaned,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		// Non-serializable parameters still need a stable address; fmt
		// ordering of maps is deterministic.
		data = []byte(fmt.Sprintf("%s|%s|%v", provider, operation, cleaned))
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// entryEnvelope wraps typed payloads with a kind marker, so a key that holds
// a different entry kind than the reader expects counts as a miss instead of
// decoding into a zero value.
type entryEnvelope struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

const (
	entryKindCompletion = "completion"
	entryKindEmbeddings = "embeddings"
	entryKindVision     = "vision"
)

// Has reports whether a live entry exists for the key.
func (m *Manager) Has(ctx context.Context, key string) bool {
	return m.store.Has(ctx, key)
}

// Get decodes the entry into target. Missing keys, expired entries and
// payloads that do not decode into target all report a plain miss.
func (m *Manager) Get(ctx context.Context, key string, target any) bool {
	data, err := m.store.Get(ctx, key)
	if err != nil {
		return false
	}
	if err := json.Unmarshal(data, target); err != nil {
		return false
	}
	return true
}

// Set encodes value and stores it under key. The baseline "llm" tag is
// always present; extra tags are deduplicated against it.
func (m *Manager) Set(ctx context.Context, key string, value any, tags []string, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	allTags := functional.Unique(append([]string{TagLLM}, tags...))
	return m.store.Set(ctx, key, data, allTags, ttl)
}

// Remove drops one entry.
func (m *Manager) Remove(ctx context.Context, key string) error {
	return m.store.Remove(ctx, key)
}

func (m *Manager) setTyped(ctx context.Context, key, kind string, value any, tags []string, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	return m.Set(ctx, key, entryEnvelope{Kind: kind, Data: data}, tags, ttl)
}

func (m *Manager) getTyped(ctx context.Context, key, kind string, target any) bool {
	var envelope entryEnvelope
	if !m.Get(ctx, key, &envelope) {
		return false
	}
	if envelope.Kind != kind {
		return false
	}
	if err := json.Unmarshal(envelope.Data, target); err != nil {
		return false
	}
	return true
}

// CacheCompletion stores a completion style response for an hour, tagged for
// response, provider and model scoped invalidation.
func (m *Manager) CacheCompletion(ctx context.Context, key string, resp *llm.CompletionResponse, providerID, modelID string) error {
	return m.setTyped(ctx, key, entryKindCompletion, resp, completionTags(providerID, modelID), DefaultCompletionTTL)
}

// GetCachedCompletion returns a previously cached completion, or false.
func (m *Manager) GetCachedCompletion(ctx context.Context, key string) (*llm.CompletionResponse, bool) {
	var resp llm.CompletionResponse
	if !m.getTyped(ctx, key, entryKindCompletion, &resp) {
		return nil, false
	}
	return &resp, true
}

// CacheEmbeddings stores an embedding response for a day.
func (m *Manager) CacheEmbeddings(ctx context.Context, key string, resp *llm.EmbeddingResponse, providerID, modelID string) error {
	tags := []string{TagEmbeddings, ProviderTag(providerID)}
	if modelID != "" {
		tags = append(tags, ModelTag(modelID))
	}
	return m.setTyped(ctx, key, entryKindEmbeddings, resp, tags, DefaultEmbeddingTTL)
}

// GetCachedEmbeddings returns a previously cached embedding response, or
// false.
func (m *Manager) GetCachedEmbeddings(ctx context.Context, key string) (*llm.EmbeddingResponse, bool) {
	var resp llm.EmbeddingResponse
	if !m.getTyped(ctx, key, entryKindEmbeddings, &resp) {
		return nil, false
	}
	return &resp, true
}

// CacheVision stores an image analysis response with completion TTL.
func (m *Manager) CacheVision(ctx context.Context, key string, resp *llm.VisionResponse, providerID, modelID string) error {
	return m.setTyped(ctx, key, entryKindVision, resp, completionTags(providerID, modelID), DefaultCompletionTTL)
}

// GetCachedVision returns a previously cached vision response, or false.
func (m *Manager) GetCachedVision(ctx context.Context, key string) (*llm.VisionResponse, bool) {
	var resp llm.VisionResponse
	if !m.getTyped(ctx, key, entryKindVision, &resp) {
		return nil, false
	}
	return &resp, true
}

func completionTags(providerID, modelID string) []string {
	tags := []string{TagResponse, ProviderTag(providerID)}
	if modelID != "" {
		tags = append(tags, ModelTag(modelID))
	}
	return tags
}

// FlushProvider invalidates every entry produced through the provider.
func (m *Manager) FlushProvider(ctx context.Context, providerID string) error {
	return m.store.FlushByTag(ctx, ProviderTag(providerID))
}

// FlushModel invalidates every entry produced by the model.
func (m *Manager) FlushModel(ctx context.Context, modelID string) error {
	return m.store.FlushByTag(ctx, ModelTag(modelID))
}

// FlushByTag invalidates every entry carrying the tag.
func (m *Manager) FlushByTag(ctx context.Context, tag string) error {
	return m.store.FlushByTag(ctx, tag)
}

// Flush drops the entire response cache.
func (m *Manager) Flush(ctx context.Context) error {
	return m.store.Flush(ctx)
}
