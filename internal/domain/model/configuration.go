package model

// SelectionMode decides how a configuration resolves its model.
type SelectionMode string

const (
	// SelectionModeFixed binds the configuration to one concrete model.
	SelectionModeFixed SelectionMode = "fixed"
	// SelectionModeCriteria resolves the model dynamically at call time.
	SelectionModeCriteria SelectionMode = "criteria"
)

// Criteria filters and ranks the active model catalog. All set clauses must
// hold (AND); the zero value matches every model.
type Criteria struct {
	// Capabilities the model must carry, each matched exactly.
	Capabilities []string `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	// AdapterKinds the owning provider must be one of. Models without an
	// owning provider never match this clause.
	AdapterKinds []string `json:"adapter_kinds,omitempty" yaml:"adapter_kinds,omitempty"`
	// MinContextLength excludes models with a smaller or unknown context
	// window.
	MinContextLength int `json:"min_context_length,omitempty" yaml:"min_context_length,omitempty"`
	// MaxInputCost excludes models with a higher input price. Models with
	// unknown (zero) cost stay included.
	MaxInputCost MicroUSD `json:"max_input_cost,omitempty" yaml:"max_input_cost,omitempty"`
	// PreferLowCost enables the price rank between provider priority and the
	// default flag.
	PreferLowCost bool `json:"prefer_low_cost,omitempty" yaml:"prefer_low_cost,omitempty"`
}

// IsEmpty reports whether no filter clause is set. PreferLowCost only shapes
// ranking, not matching.
func (c Criteria) IsEmpty() bool {
	return len(c.Capabilities) == 0 &&
		len(c.AdapterKinds) == 0 &&
		c.MinContextLength == 0 &&
		c.MaxInputCost == 0
}

// Configuration is a named invocation profile: callers address it instead of
// a concrete provider/model pair. Options are forwarded to the adapter after
// dispatch meta keys are stripped.
type Configuration struct {
	PublicID string        `json:"public_id"`
	Name     string        `json:"name"`
	Mode     SelectionMode `json:"mode"`
	// Model is the bound model in fixed mode. Ignored in criteria mode.
	Model *Model `json:"model,omitempty"`
	// Criteria drive dynamic selection in criteria mode.
	Criteria Criteria `json:"criteria,omitempty"`
	// Options are per-configuration generation defaults (temperature,
	// max_tokens, ...) plus the optional provider routing key.
	Options map[string]any `json:"options,omitempty"`
	Active  bool           `json:"active"`
}

// Validate checks the record for required fields and mode consistency.
func (c *Configuration) Validate() error {
	if c.PublicID == "" {
		return &ValidationError{Field: "public_id", Message: "public_id is required"}
	}
	if c.Mode != SelectionModeFixed && c.Mode != SelectionModeCriteria {
		return &ValidationError{Field: "mode", Message: "mode must be fixed or criteria"}
	}
	return nil
}
