package llm

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Well-known option keys. Adapters read the generation parameters; the
// dispatch layer reads and strips the meta keys before the adapter sees the
// map.
const (
	OptionModel            = "model"
	OptionTemperature      = "temperature"
	OptionMaxTokens        = "max_tokens"
	OptionTopP             = "top_p"
	OptionFrequencyPenalty = "frequency_penalty"
	OptionPresencePenalty  = "presence_penalty"
	OptionStop             = "stop"
	OptionStream           = "stream"
	OptionUser             = "user"

	// OptionProvider routes a call to a specific registered adapter. It is a
	// dispatch concern and never reaches the vendor request.
	OptionProvider = "provider"
)

// Options carries per-call generation parameters as a flat map, matching the
// loosely typed option records configurations are stored with. Values may
// arrive as native numbers or as strings and are coerced on read.
type Options map[string]any

// Clone returns a shallow copy, never nil.
func (o Options) Clone() Options {
	dest := make(Options, len(o))
	for k, v := range o {
		dest[k] = v
	}
	return dest
}

// Merge returns a copy of o with overrides applied on top.
func (o Options) Merge(overrides Options) Options {
	dest := o.Clone()
	for k, v := range overrides {
		dest[k] = v
	}
	return dest
}

// WithoutMeta returns a copy with dispatch meta keys removed.
func (o Options) WithoutMeta() Options {
	dest := o.Clone()
	delete(dest, OptionProvider)
	return dest
}

// String returns the option as a trimmed string.
func (o Options) String(key string) (string, bool) {
	if value, ok := o[key]; ok {
		if str, ok := value.(string); ok {
			return strings.TrimSpace(str), true
		}
	}
	return "", false
}

// Model returns the per-call model override, if any.
func (o Options) Model() (string, bool) {
	model, ok := o.String(OptionModel)
	return model, ok && model != ""
}

// Provider returns the routing meta key, if any.
func (o Options) Provider() (string, bool) {
	provider, ok := o.String(OptionProvider)
	return provider, ok && provider != ""
}

// Float coerces the option into a float64. Strings are parsed through
// decimal so configured values like "0.7" behave like native numbers.
func (o Options) Float(key string) (float64, bool) {
	value, ok := o[key]
	if !ok || value == nil {
		return 0, false
	}
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		if strings.TrimSpace(v) == "" {
			return 0, false
		}
		if parsed, err := decimal.NewFromString(v); err == nil {
			return parsed.InexactFloat64(), true
		}
	}
	return 0, false
}

// Int coerces the option into an int.
func (o Options) Int(key string) (int, bool) {
	if f, ok := o.Float(key); ok {
		return int(f), true
	}
	return 0, false
}

// Bool coerces the option into a bool.
func (o Options) Bool(key string) (bool, bool) {
	value, ok := o[key]
	if !ok || value == nil {
		return false, false
	}
	switch v := value.(type) {
	case bool:
		return v, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes":
			return true, true
		case "false", "0", "no":
			return false, true
		}
	}
	return false, false
}

// StringSlice coerces the option into a string slice. Scalars become a
// single element slice.
func (o Options) StringSlice(key string) []string {
	value, ok := o[key]
	if !ok || value == nil {
		return nil
	}
	switch v := value.(type) {
	case []string:
		return v
	case []any:
		list := make([]string, 0, len(v))
		for _, item := range v {
			if str, ok := item.(string); ok {
				list = append(list, str)
			}
		}
		return list
	case string:
		if strings.TrimSpace(v) == "" {
			return nil
		}
		return []string{v}
	}
	return nil
}
