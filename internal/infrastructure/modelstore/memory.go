// Package modelstore provides the in-memory model catalog backing the
// selection engine. Records come from bootstrap configuration and the model
// sync job; consumers treat returned models as read-only.
package modelstore

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/netresearch/llmrelay/internal/domain/model"
)

// MemoryStore is a mutex-based in-memory model catalog.
// Thread-safe via sync.RWMutex.
type MemoryStore struct {
	mu     sync.RWMutex
	models map[string]*model.Model
	log    zerolog.Logger
}

var _ model.Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory model catalog.
func NewMemoryStore(log zerolog.Logger) *MemoryStore {
	return &MemoryStore{
		models: make(map[string]*model.Model),
		log:    log.With().Str("component", "model-store").Logger(),
	}
}

// ActiveModels returns all active catalog entries ordered by identifier.
func (s *MemoryStore) ActiveModels(ctx context.Context) ([]*model.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*model.Model, 0, len(s.models))
	for _, m := range s.models {
		if m.Active {
			result = append(result, m)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Identifier < result[j].Identifier
	})
	return result, nil
}

// FindByID returns the model with the given identifier, nil when absent.
func (s *MemoryStore) FindByID(ctx context.Context, identifier string) (*model.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.models[identifier], nil
}

// Upsert inserts or replaces a model by identifier. The stored record is a
// copy, so later mutations of m do not leak into the catalog.
func (s *MemoryStore) Upsert(ctx context.Context, m *model.Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.models[m.Identifier] = cloneModel(m)
	return nil
}

// ReplaceForProvider swaps every model owned by the provider with the given
// set in one step. Models of other providers are untouched.
func (s *MemoryStore) ReplaceForProvider(ctx context.Context, providerID string, models []*model.Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int
	for id, m := range s.models {
		if m.Provider != nil && m.Provider.Identifier == providerID {
			delete(s.models, id)
			removed++
		}
	}
	for _, m := range models {
		s.models[m.Identifier] = cloneModel(m)
	}

	s.log.Debug().
		Str("provider_id", providerID).
		Int("removed", removed).
		Int("inserted", len(models)).
		Msg("Replaced provider models")
	return nil
}

// Len reports the number of stored models, active or not.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.models)
}

func cloneModel(m *model.Model) *model.Model {
	clone := *m
	if m.Provider != nil {
		ref := *m.Provider
		clone.Provider = &ref
	}
	if m.Capabilities != nil {
		clone.Capabilities = append([]string(nil), m.Capabilities...)
	}
	return &clone
}
