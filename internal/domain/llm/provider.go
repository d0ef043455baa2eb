package llm

import "context"

// Common settings keys understood by adapter Configure implementations.
const (
	SettingAPIKey       = "api_key"
	SettingBaseURL      = "base_url"
	SettingDefaultModel = "default_model"
	SettingOrganization = "organization"
	SettingAPIVersion   = "api_version"
)

// Provider is the uniform contract every vendor adapter implements. The
// dispatch layer talks exclusively through this interface plus the optional
// extension interfaces below.
//
// Availability reflects adapter state only (credentials and endpoint
// configured); it never performs network calls.
type Provider interface {
	// ID returns the stable registration identifier of this adapter instance.
	ID() string
	// Kind returns the adapter family (openai, anthropic, ollama, ...).
	Kind() string
	// Capabilities returns the declared feature set.
	Capabilities() CapabilitySet
	// Supports reports whether the adapter declares the capability.
	Supports(c Capability) bool
	// Available reports whether the adapter is configured well enough to
	// attempt calls.
	Available() bool
	// Configure applies a settings map to the adapter. Called once at
	// registration time; unknown keys are ignored, invalid values error.
	Configure(settings map[string]any) error

	// Chat sends a conversation and returns the assistant reply.
	Chat(ctx context.Context, messages []Message, opts Options) (*CompletionResponse, error)
	// Complete sends a bare text prompt.
	Complete(ctx context.Context, prompt string, opts Options) (*CompletionResponse, error)
	// Embed converts inputs into embedding vectors, one per input.
	Embed(ctx context.Context, inputs []string, opts Options) (*EmbeddingResponse, error)
}

// VisionProvider is implemented by adapters that can analyze image content.
type VisionProvider interface {
	Provider
	AnalyzeImage(ctx context.Context, message Message, opts Options) (*VisionResponse, error)
}

// StreamingProvider is implemented by adapters that can stream chat
// responses incrementally.
type StreamingProvider interface {
	Provider
	StreamChat(ctx context.Context, messages []Message, opts Options) (Stream, error)
}

// ToolProvider is implemented by adapters that support function calling.
type ToolProvider interface {
	Provider
	ChatWithTools(ctx context.Context, messages []Message, tools []Tool, opts Options) (*CompletionResponse, error)
}
