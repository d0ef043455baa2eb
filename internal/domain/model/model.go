// Package model holds the catalog records the selection engine operates on:
// models, their owning providers and the logical configurations that bind
// callers to them.
package model

import (
	"strings"
)

// MicroUSD expresses prices in millionths of a dollar per 1K tokens, so
// 15000 is $0.0150. Zero means the price is unknown.
type MicroUSD int64

// AdapterKind names the adapter family a provider record is served by.
type AdapterKind string

const (
	AdapterKindOpenAI      AdapterKind = "openai"
	AdapterKindAzureOpenAI AdapterKind = "azure_openai"
	AdapterKindAnthropic   AdapterKind = "anthropic"
	AdapterKindOllama      AdapterKind = "ollama"
	AdapterKindCustom      AdapterKind = "custom"
)

// AdapterKindFromVendor maps loose vendor spellings onto adapter kinds.
func AdapterKindFromVendor(vendor string) AdapterKind {
	switch strings.ToLower(strings.TrimSpace(vendor)) {
	case "openai", "gpt":
		return AdapterKindOpenAI
	case "azure", "azure_openai", "azure-openai":
		return AdapterKindAzureOpenAI
	case "anthropic", "claude":
		return AdapterKindAnthropic
	case "ollama", "local":
		return AdapterKindOllama
	default:
		return AdapterKindCustom
	}
}

// ProviderRef identifies the provider a model belongs to, with the fields
// ranking and filtering need.
type ProviderRef struct {
	Identifier  string      `json:"identifier"`
	AdapterKind AdapterKind `json:"adapter_kind"`
	Priority    int         `json:"priority"`
	Active      bool        `json:"active"`
}

// TokenLimits for context and completion.
type TokenLimits struct {
	ContextLength       int `json:"context_length"`
	MaxCompletionTokens int `json:"max_completion_tokens"`
}

// Model describes one invokable model in the catalog. Provider is nil when
// the record has no resolvable owning provider; such models never match
// adapter-kind criteria. ContextLength 0 and cost 0 mean unknown.
type Model struct {
	Identifier   string       `json:"identifier"`
	DisplayName  string       `json:"display_name"`
	Provider     *ProviderRef `json:"provider,omitempty"`
	Capabilities []string     `json:"capabilities"`
	TokenLimits  TokenLimits  `json:"token_limits"`
	InputCost    MicroUSD     `json:"input_cost"`
	OutputCost   MicroUSD     `json:"output_cost"`
	IsDefault    bool         `json:"is_default"`
	SortOrder    int          `json:"sort_order"`
	Active       bool         `json:"active"`
}

// ContextLength returns the usable context window, 0 when unknown.
func (m *Model) ContextLength() int {
	return m.TokenLimits.ContextLength
}

// TotalCost is the combined input and output price used for cost ranking.
func (m *Model) TotalCost() MicroUSD {
	return m.InputCost + m.OutputCost
}

// HasCapability reports whether the model carries the capability tag.
// Comparison is exact.
func (m *Model) HasCapability(capability string) bool {
	for _, c := range m.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// ProviderPriority returns the owning provider's priority, 0 without owner.
func (m *Model) ProviderPriority() int {
	if m.Provider == nil {
		return 0
	}
	return m.Provider.Priority
}

// ProviderIdentifier returns the owning provider's identifier, "" without
// owner.
func (m *Model) ProviderIdentifier() string {
	if m.Provider == nil {
		return ""
	}
	return m.Provider.Identifier
}

// Validate checks the record for required fields.
func (m *Model) Validate() error {
	if m.Identifier == "" {
		return &ValidationError{Field: "identifier", Message: "identifier is required"}
	}
	if m.DisplayName == "" {
		return &ValidationError{Field: "display_name", Message: "display_name is required"}
	}
	return nil
}

// ParseCapabilityList splits a comma separated capability string into clean
// tags. Configured records store capabilities either as lists or as a single
// comma joined string.
func ParseCapabilityList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	capabilities := make([]string, 0, len(parts))
	for _, part := range parts {
		if tag := strings.TrimSpace(part); tag != "" {
			capabilities = append(capabilities, tag)
		}
	}
	return capabilities
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
