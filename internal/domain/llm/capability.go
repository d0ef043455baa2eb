package llm

// Capability identifies one invocation feature a provider adapter can serve.
// Matching is exact and case sensitive everywhere capabilities are compared.
type Capability string

const (
	CapabilityChat       Capability = "chat"
	CapabilityCompletion Capability = "completion"
	CapabilityEmbeddings Capability = "embeddings"
	CapabilityVision     Capability = "vision"
	CapabilityStreaming  Capability = "streaming"
	CapabilityTools      Capability = "tools"
)

// CapabilitySet is the declared feature set of an adapter. Order carries no
// meaning; membership does.
type CapabilitySet []Capability

// NewCapabilitySet builds a set from the given capabilities, dropping
// duplicates.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	seen := make(map[Capability]struct{}, len(caps))
	set := make(CapabilitySet, 0, len(caps))
	for _, c := range caps {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		set = append(set, c)
	}
	return set
}

// Has reports whether the set contains the capability.
func (s CapabilitySet) Has(c Capability) bool {
	for _, item := range s {
		if item == c {
			return true
		}
	}
	return false
}

// HasAll reports whether every given capability is in the set.
func (s CapabilitySet) HasAll(caps ...Capability) bool {
	for _, c := range caps {
		if !s.Has(c) {
			return false
		}
	}
	return true
}

// Strings returns the set as plain strings, for logging and tags.
func (s CapabilitySet) Strings() []string {
	out := make([]string, len(s))
	for i, c := range s {
		out[i] = string(c)
	}
	return out
}
