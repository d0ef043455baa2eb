package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/netresearch/llmrelay/internal/infrastructure/logger"
)

const DefaultProviderConfigFile = "config/providers.yml"

// BootstrapEntry describes a provider adapter to register on startup. Vendor
// selects the adapter kind; the dispatch layer validates it.
type BootstrapEntry struct {
	ID                  string
	DisplayName         string
	Vendor              string
	BaseURL             string
	APIKey              string
	DefaultModel        string
	Organization        string
	APIVersion          string
	Priority            int
	Capabilities        []string
	SyncModels          bool
	AutoEnableNewModels bool
}

// ConfigurationEntry declares a named invocation profile. Fixed mode binds a
// model identifier, criteria mode a constraint set; the dispatch layer
// materializes either against the live model catalog.
type ConfigurationEntry struct {
	ID       string
	Name     string
	Mode     string
	Model    string
	Criteria CriteriaEntry
	Options  map[string]any
}

// CriteriaEntry mirrors the selection engine's constraint clauses. Costs are
// micro-USD per token.
type CriteriaEntry struct {
	Capabilities     []string
	AdapterKinds     []string
	MinContextLength int
	MaxInputCost     int64
	PreferLowCost    bool
}

// BootstrapConfig maintains all configured provider sets plus the shared
// invocation profiles.
type BootstrapConfig struct {
	sets           map[string][]BootstrapEntry
	configurations []ConfigurationEntry
}

// Configurations returns a copy of the declared invocation profiles.
func (c *BootstrapConfig) Configurations() []ConfigurationEntry {
	if c == nil || len(c.configurations) == 0 {
		return nil
	}
	result := make([]ConfigurationEntry, len(c.configurations))
	copy(result, c.configurations)
	return result
}

// ProvidersForSet returns a copy of the providers defined for the requested set.
func (c *BootstrapConfig) ProvidersForSet(name string) []BootstrapEntry {
	if c == nil {
		return nil
	}
	set := strings.TrimSpace(name)
	if set == "" {
		set = "default"
	}
	list := c.sets[set]
	if len(list) == 0 {
		return nil
	}
	result := make([]BootstrapEntry, len(list))
	copy(result, list)
	return result
}

// LoadBootstrapConfig parses the yaml file at the provided path.
func LoadBootstrapConfig(path string) (*BootstrapConfig, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("provider config path is empty")
	}

	log := logger.GetLogger()
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("read provider config %q: %w", cleanPath, err)
	}
	log.Info().Str("path", cleanPath).Msg("loading provider config file")

	var doc providerConfigDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse provider config %q: %w", cleanPath, err)
	}

	if len(doc.Providers) == 0 {
		return nil, fmt.Errorf("provider config %q has no providers defined", cleanPath)
	}

	result := &BootstrapConfig{
		sets: make(map[string][]BootstrapEntry),
	}

	for rawSet, entries := range doc.Providers {
		setName := strings.TrimSpace(rawSet)
		if setName == "" || len(entries) == 0 {
			continue
		}
		for idx, entry := range entries {
			entryLogger := log.With().Str("set", setName).Int("index", idx).Str("id", entry.ID).Logger()
			enabled, err := parseEnabled(entry.EnableRaw)
			if err != nil {
				return nil, fmt.Errorf("providers.%s[%d]: %w", setName, idx, err)
			}
			if !enabled {
				entryLogger.Info().Msg("skipping provider (enable=false)")
				continue
			}
			normalized, err := normalizeBootstrapEntry(entry)
			if err != nil {
				return nil, fmt.Errorf("providers.%s[%d]: %w", setName, idx, err)
			}
			entryLogger.Info().
				Str("vendor", normalized.Vendor).
				Str("base_url", normalized.BaseURL).
				Bool("sync_models", normalized.SyncModels).
				Bool("auto_enable_new_models", normalized.AutoEnableNewModels).
				Msg("including provider for bootstrap")
			result.sets[setName] = append(result.sets[setName], normalized)
		}
	}

	if len(result.sets) == 0 {
		return nil, fmt.Errorf("provider config %q has no valid provider entries", cleanPath)
	}

	seenConfigurations := make(map[string]struct{}, len(doc.Configurations))
	for idx, entry := range doc.Configurations {
		normalized, err := normalizeConfigurationEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("configurations[%d]: %w", idx, err)
		}
		if _, dup := seenConfigurations[normalized.ID]; dup {
			return nil, fmt.Errorf("configurations[%d]: duplicate configuration id %q", idx, normalized.ID)
		}
		seenConfigurations[normalized.ID] = struct{}{}
		log.Info().
			Str("configuration", normalized.ID).
			Str("mode", normalized.Mode).
			Str("model", normalized.Model).
			Msg("including configuration for bootstrap")
		result.configurations = append(result.configurations, normalized)
	}

	return result, nil
}

type providerConfigDocument struct {
	Providers      map[string][]providerConfigEntry `yaml:"providers"`
	Configurations []configurationConfigEntry       `yaml:"configurations"`
}

type providerConfigEntry struct {
	EnableRaw    string   `yaml:"enable"`
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Kind         string   `yaml:"kind"`
	Vendor       string   `yaml:"vendor"`
	URL          string   `yaml:"url"`
	BaseURL      string   `yaml:"base_url"`
	APIKey       string   `yaml:"api_key"`
	Key          string   `yaml:"key"`
	DefaultModel string   `yaml:"default_model"`
	Organization string   `yaml:"organization"`
	APIVersion   string   `yaml:"api_version"`
	Priority     int      `yaml:"priority"`
	Capabilities []string `yaml:"capabilities"`
	AutoEnable   *bool    `yaml:"auto_enable_new_models"`
	SyncModels   *bool    `yaml:"sync_models"`
}

type configurationConfigEntry struct {
	ID       string                `yaml:"id"`
	Name     string                `yaml:"name"`
	Mode     string                `yaml:"mode"`
	Model    string                `yaml:"model"`
	Criteria configurationCriteria `yaml:"criteria"`
	Options  map[string]any        `yaml:"options"`
}

type configurationCriteria struct {
	Capabilities     []string `yaml:"capabilities"`
	AdapterKinds     []string `yaml:"adapter_kinds"`
	MinContextLength int      `yaml:"min_context_length"`
	MaxInputCost     int64    `yaml:"max_input_cost"`
	PreferLowCost    bool     `yaml:"prefer_low_cost"`
}

func normalizeConfigurationEntry(entry configurationConfigEntry) (ConfigurationEntry, error) {
	id := strings.TrimSpace(entry.ID)
	if id == "" {
		return ConfigurationEntry{}, errors.New("configuration id is required")
	}

	mode := strings.TrimSpace(strings.ToLower(entry.Mode))
	modelID := strings.TrimSpace(expandWithDefault(entry.Model))
	if mode == "" {
		if modelID != "" {
			mode = "fixed"
		} else {
			mode = "criteria"
		}
	}
	switch mode {
	case "fixed", "criteria":
	default:
		return ConfigurationEntry{}, fmt.Errorf("configuration %q has unknown mode %q", id, entry.Mode)
	}
	if mode == "fixed" && modelID == "" {
		return ConfigurationEntry{}, fmt.Errorf("configuration %q uses fixed mode but names no model", id)
	}

	name := strings.TrimSpace(entry.Name)
	if name == "" {
		name = id
	}

	return ConfigurationEntry{
		ID:    id,
		Name:  name,
		Mode:  mode,
		Model: modelID,
		Criteria: CriteriaEntry{
			Capabilities:     normalizeList(entry.Criteria.Capabilities),
			AdapterKinds:     normalizeList(entry.Criteria.AdapterKinds),
			MinContextLength: entry.Criteria.MinContextLength,
			MaxInputCost:     entry.Criteria.MaxInputCost,
			PreferLowCost:    entry.Criteria.PreferLowCost,
		},
		Options: entry.Options,
	}, nil
}

func normalizeBootstrapEntry(entry providerConfigEntry) (BootstrapEntry, error) {
	vendor := strings.TrimSpace(strings.ToLower(firstNonEmpty(entry.Kind, entry.Vendor)))
	if vendor == "" {
		return BootstrapEntry{}, errors.New("provider kind is required")
	}

	// Well known vendors fall back to their adapter's default endpoint, a
	// custom endpoint has nothing to fall back to.
	baseURL := strings.TrimSpace(expandWithDefault(firstNonEmpty(entry.URL, entry.BaseURL)))
	if baseURL == "" && vendor == "custom" {
		return BootstrapEntry{}, errors.New("provider url is required for kind custom")
	}

	id := strings.TrimSpace(expandWithDefault(entry.ID))
	if id == "" {
		id = vendor
	}

	name := strings.TrimSpace(expandWithDefault(entry.Name))
	if name == "" {
		name = fmt.Sprintf("%s Provider", strings.ToUpper(vendor))
	}

	apiKey := strings.TrimSpace(firstNonEmpty(entry.APIKey, entry.Key))
	if apiKey != "" {
		apiKey = expandWithDefault(apiKey)
	}

	autoEnable := true
	if entry.AutoEnable != nil {
		autoEnable = *entry.AutoEnable
	}

	syncModels := true
	if entry.SyncModels != nil {
		syncModels = *entry.SyncModels
	}

	capabilities := normalizeList(entry.Capabilities)

	return BootstrapEntry{
		ID:                  id,
		DisplayName:         name,
		Vendor:              vendor,
		BaseURL:             baseURL,
		APIKey:              apiKey,
		DefaultModel:        strings.TrimSpace(expandWithDefault(entry.DefaultModel)),
		Organization:        strings.TrimSpace(expandWithDefault(entry.Organization)),
		APIVersion:          strings.TrimSpace(expandWithDefault(entry.APIVersion)),
		Priority:            entry.Priority,
		Capabilities:        capabilities,
		SyncModels:          syncModels,
		AutoEnableNewModels: autoEnable,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// normalizeList lowercases and trims every element, dropping blanks. Empty
// input collapses to nil so downstream matchers treat it as "no constraint".
func normalizeList(values []string) []string {
	result := make([]string, 0, len(values))
	for _, v := range values {
		if item := strings.TrimSpace(strings.ToLower(v)); item != "" {
			result = append(result, item)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

func parseEnabled(raw string) (bool, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return true, nil
	}

	resolved := strings.TrimSpace(expandWithDefault(value))
	if resolved == "" {
		return true, nil
	}

	parsed, err := strconv.ParseBool(resolved)
	if err != nil {
		return false, fmt.Errorf("enable: %w", err)
	}
	return parsed, nil
}

// expandWithDefault expands ${VAR} and ${VAR:-default} syntax using os envs.
func expandWithDefault(raw string) string {
	for {
		start := strings.Index(raw, "${")
		if start == -1 {
			break
		}
		end := strings.Index(raw[start:], "}")
		if end == -1 {
			break
		}
		end = start + end
		expr := raw[start+2 : end]
		varName, defaultVal := expr, ""
		if strings.Contains(expr, ":-") {
			parts := strings.SplitN(expr, ":-", 2)
			varName = parts[0]
			defaultVal = parts[1]
		}
		val := os.Getenv(varName)
		if val == "" {
			val = defaultVal
		}
		raw = raw[:start] + val + raw[end+1:]
	}
	return raw
}
