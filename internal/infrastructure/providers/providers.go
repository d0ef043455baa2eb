// Package providers contains the vendor adapters behind the uniform
// invocation contract. Every adapter is configured from a Config record,
// talks to its upstream through resty and reports errors as platform errors
// so the dispatch layer can map them without vendor knowledge.
package providers

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/netresearch/llmrelay/internal/domain/llm"
	"github.com/netresearch/llmrelay/internal/domain/model"
	"github.com/netresearch/llmrelay/internal/utils/platformerrors"

	"resty.dev/v3"
)

const anthropicVersion = "2023-06-01"

// Config describes one configured upstream endpoint. A single adapter kind
// can be instantiated many times with different IDs, credentials and base
// URLs.
type Config struct {
	ID           string
	DisplayName  string
	Kind         model.AdapterKind
	BaseURL      string
	APIKey       string
	DefaultModel string
	Organization string
	APIVersion   string
	// Priority ranks this provider's models in the selection engine.
	Priority int
	// Capabilities overrides the kind defaults when non-empty.
	Capabilities []llm.Capability
}

func (c Config) capabilitySet() llm.CapabilitySet {
	if len(c.Capabilities) > 0 {
		return llm.NewCapabilitySet(c.Capabilities...)
	}
	return defaultCapabilities(c.Kind)
}

// defaultCapabilities returns the feature set an adapter kind declares when
// the config does not override it. Declared features gate invocation before
// any network traffic, so the defaults stay conservative: ollama installs
// vary too much to promise vision or tool calling.
func defaultCapabilities(kind model.AdapterKind) llm.CapabilitySet {
	switch kind {
	case model.AdapterKindOpenAI, model.AdapterKindAzureOpenAI:
		return llm.NewCapabilitySet(
			llm.CapabilityChat,
			llm.CapabilityCompletion,
			llm.CapabilityEmbeddings,
			llm.CapabilityVision,
			llm.CapabilityStreaming,
			llm.CapabilityTools,
		)
	case model.AdapterKindAnthropic:
		return llm.NewCapabilitySet(
			llm.CapabilityChat,
			llm.CapabilityCompletion,
			llm.CapabilityVision,
			llm.CapabilityStreaming,
			llm.CapabilityTools,
		)
	case model.AdapterKindOllama:
		return llm.NewCapabilitySet(
			llm.CapabilityChat,
			llm.CapabilityCompletion,
			llm.CapabilityEmbeddings,
			llm.CapabilityStreaming,
		)
	default:
		return llm.NewCapabilitySet(
			llm.CapabilityChat,
			llm.CapabilityCompletion,
			llm.CapabilityStreaming,
		)
	}
}

// New constructs the adapter for the config's kind. OpenAI, Azure and custom
// endpoints share the OpenAI wire adapter; Anthropic and Ollama speak their
// native APIs.
func New(cfg Config) (llm.Provider, error) {
	if strings.TrimSpace(cfg.ID) == "" {
		return nil, platformerrors.NewError(context.Background(), platformerrors.LayerInfrastructure,
			platformerrors.ErrorTypeValidation, "provider config requires an id", nil,
			"66a3bc61-da51-45f9-b7d8-62ce3695f7bc")
	}
	switch cfg.Kind {
	case model.AdapterKindOpenAI, model.AdapterKindAzureOpenAI, model.AdapterKindCustom:
		return NewOpenAIAdapter(cfg), nil
	case model.AdapterKindAnthropic:
		return NewAnthropicAdapter(cfg), nil
	case model.AdapterKindOllama:
		return NewOllamaAdapter(cfg), nil
	default:
		return nil, platformerrors.NewErrorWithContext(context.Background(), platformerrors.LayerInfrastructure,
			platformerrors.ErrorTypeUnsupported, fmt.Sprintf("unknown adapter kind %q", cfg.Kind), nil,
			"7ccd7489-78b1-4b54-b1f5-ff180ccec605", map[string]any{"provider_id": cfg.ID})
	}
}

// applySettings overlays a settings map onto the config. Keys the adapter
// kind does not define are ignored; a known key with a non-string value fails
// the whole application so registration can be aborted.
func applySettings(cfg Config, settings map[string]any) (Config, error) {
	for key, value := range settings {
		switch key {
		case llm.SettingAPIKey, llm.SettingBaseURL, llm.SettingDefaultModel,
			llm.SettingOrganization, llm.SettingAPIVersion:
			str, ok := value.(string)
			if !ok {
				return cfg, platformerrors.NewErrorWithContext(context.Background(), platformerrors.LayerInfrastructure,
					platformerrors.ErrorTypeValidation,
					fmt.Sprintf("setting %q expects a string value, got %T", key, value), nil,
					"f33a6b75-8522-4b52-ba02-d5f0966f30b1", map[string]any{"provider_id": cfg.ID})
			}
			switch key {
			case llm.SettingAPIKey:
				cfg.APIKey = str
			case llm.SettingBaseURL:
				cfg.BaseURL = normalizeBaseURL(str)
			case llm.SettingDefaultModel:
				cfg.DefaultModel = str
			case llm.SettingOrganization:
				cfg.Organization = str
			case llm.SettingAPIVersion:
				cfg.APIVersion = str
			}
		}
	}
	return cfg, nil
}

// applyAuthHeaders installs the vendor auth scheme on the client. The key
// value "none" means the endpoint is unauthenticated and no header is sent.
func applyAuthHeaders(client *resty.Client, kind model.AdapterKind, apiKey string) {
	if strings.TrimSpace(apiKey) == "" || strings.ToLower(apiKey) == "none" {
		return
	}
	switch kind {
	case model.AdapterKindAzureOpenAI:
		client.SetHeader("api-key", apiKey)
	case model.AdapterKindAnthropic:
		client.SetHeader("X-API-Key", apiKey)
		client.SetHeader("Anthropic-Version", anthropicVersion)
	default:
		client.SetHeader("Authorization", fmt.Sprintf("Bearer %s", apiKey))
	}
}

func hasUsableKey(apiKey string) bool {
	return strings.TrimSpace(apiKey) != ""
}

func normalizeBaseURL(base string) string {
	trimmed := strings.TrimSpace(base)
	trimmed = strings.TrimRight(trimmed, "/")
	return trimmed
}

func endpointURL(baseURL, path string) string {
	if path == "" {
		return baseURL
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if baseURL == "" {
		return path
	}
	if strings.HasPrefix(path, "/") {
		return baseURL + path
	}
	return baseURL + "/" + path
}

// errorFromResponse turns a non-2xx upstream reply into an external platform
// error carrying the raw body text. The body is passed through untranslated
// so callers see exactly what the vendor said.
func errorFromResponse(ctx context.Context, resp *resty.Response, message string) error {
	if resp == nil || resp.RawResponse == nil || resp.RawResponse.Body == nil {
		return platformerrors.NewError(ctx, platformerrors.LayerInfrastructure, platformerrors.ErrorTypeExternal,
			message, nil, "36006a5c-d08e-45d1-9574-2968792e015b")
	}
	defer resp.RawResponse.Body.Close()
	body, err := io.ReadAll(resp.RawResponse.Body)
	if err != nil {
		return platformerrors.NewError(ctx, platformerrors.LayerInfrastructure, platformerrors.ErrorTypeExternal,
			message, nil, "697d37d5-26c1-46c5-a5c6-44e64b2e32b1")
	}
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return platformerrors.NewErrorWithContext(ctx, platformerrors.LayerInfrastructure, platformerrors.ErrorTypeExternal,
			message, nil, "90eae06b-e4cb-4524-8311-a00133950007",
			map[string]any{"status": resp.StatusCode()})
	}
	return platformerrors.NewErrorWithContext(ctx, platformerrors.LayerInfrastructure, platformerrors.ErrorTypeExternal,
		fmt.Sprintf("%s: %s", message, trimmed), nil, "609bb84a-bfc6-41e6-8b35-75597db3e109",
		map[string]any{"status": resp.StatusCode()})
}

// requireModel resolves the model for a call: the per-call option wins, the
// config default backs it up, nothing configured is a validation error.
func requireModel(ctx context.Context, providerID, defaultModel string, opts llm.Options) (string, error) {
	if name, ok := opts.Model(); ok {
		return name, nil
	}
	if strings.TrimSpace(defaultModel) != "" {
		return defaultModel, nil
	}
	return "", platformerrors.NewErrorWithContext(ctx, platformerrors.LayerInfrastructure,
		platformerrors.ErrorTypeValidation, "no model specified and no default model configured", nil,
		"a225b3ef-5a4e-416e-bc30-cbe6aa33715b", map[string]any{"provider_id": providerID})
}
