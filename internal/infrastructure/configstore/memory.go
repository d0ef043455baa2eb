// Package configstore holds the named invocation configurations the dispatch
// layer resolves against. Records are declarative: fixed-mode entries name a
// model identifier, criteria-mode entries carry a constraint set. Materialize
// turns a record into a fresh domain configuration per request, binding the
// model against the live catalog so records never go stale.
package configstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/netresearch/llmrelay/internal/domain/model"
	"github.com/netresearch/llmrelay/internal/utils/platformerrors"
)

// Record is the stored form of an invocation configuration. ModelID is only
// consulted in fixed mode.
type Record struct {
	PublicID string
	Name     string
	Mode     model.SelectionMode
	ModelID  string
	Criteria model.Criteria
	Options  map[string]any
	Active   bool
}

// MemoryStore is a mutex-based in-memory configuration registry.
// Thread-safe via sync.RWMutex.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	models  model.Store
	log     zerolog.Logger
}

// NewMemoryStore creates an empty registry that binds fixed-mode records
// against the given model catalog.
func NewMemoryStore(models model.Store, log zerolog.Logger) *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		models:  models,
		log:     log.With().Str("component", "configuration-store").Logger(),
	}
}

// Put inserts or replaces a record by public id.
func (s *MemoryStore) Put(rec Record) error {
	if rec.PublicID == "" {
		return platformerrors.NewError(context.Background(), platformerrors.LayerInfrastructure, platformerrors.ErrorTypeValidation,
			"configuration public id is required", nil, "8e29dff9-b578-4ea9-af17-84c3e43cf9bd")
	}
	if rec.Mode != model.SelectionModeFixed && rec.Mode != model.SelectionModeCriteria {
		return platformerrors.NewErrorWithContext(context.Background(), platformerrors.LayerInfrastructure, platformerrors.ErrorTypeValidation,
			fmt.Sprintf("configuration %q has invalid mode %q", rec.PublicID, rec.Mode), nil, "08e5d473-10b4-415e-b6a9-e7f78229b224",
			map[string]any{"configuration": rec.PublicID})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[rec.PublicID] = cloneRecord(rec)
	s.log.Debug().
		Str("configuration", rec.PublicID).
		Str("mode", string(rec.Mode)).
		Msg("Stored configuration")
	return nil
}

// Load puts every record, stopping at the first invalid one.
func (s *MemoryStore) Load(records []Record) error {
	for _, rec := range records {
		if err := s.Put(rec); err != nil {
			return err
		}
	}
	return nil
}

// List returns all records ordered by public id.
func (s *MemoryStore) List() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		result = append(result, cloneRecord(rec))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].PublicID < result[j].PublicID
	})
	return result
}

// Materialize builds a fresh domain configuration for the record. Fixed-mode
// records resolve their model identifier against the catalog here; an
// identifier no longer in the catalog leaves the model unbound, which the
// dispatch layer reports as "no model assigned".
func (s *MemoryStore) Materialize(ctx context.Context, publicID string) (*model.Configuration, error) {
	s.mu.RLock()
	rec, ok := s.records[publicID]
	s.mu.RUnlock()

	if !ok {
		return nil, platformerrors.NewErrorWithContext(ctx, platformerrors.LayerInfrastructure, platformerrors.ErrorTypeNotFound,
			fmt.Sprintf("configuration %q not found", publicID), nil, "643e4db3-3954-4f0c-9f48-6d4b020b2196",
			map[string]any{"configuration": publicID})
	}
	if !rec.Active {
		return nil, platformerrors.NewErrorWithContext(ctx, platformerrors.LayerInfrastructure, platformerrors.ErrorTypeNotFound,
			fmt.Sprintf("configuration %q is not active", publicID), nil, "4460a853-4ba7-482e-b98e-8d53eb171ba0",
			map[string]any{"configuration": publicID})
	}

	cfg := &model.Configuration{
		PublicID: rec.PublicID,
		Name:     rec.Name,
		Mode:     rec.Mode,
		Criteria: cloneCriteria(rec.Criteria),
		Options:  cloneOptions(rec.Options),
		Active:   true,
	}

	if rec.Mode == model.SelectionModeFixed {
		m, err := s.models.FindByID(ctx, rec.ModelID)
		if err != nil {
			return nil, platformerrors.AsError(ctx, platformerrors.LayerInfrastructure, err,
				fmt.Sprintf("look up model %q for configuration %q", rec.ModelID, publicID))
		}
		if m == nil {
			s.log.Warn().
				Str("configuration", publicID).
				Str("model", rec.ModelID).
				Msg("Configured model is not in the catalog")
		}
		cfg.Model = m
	}

	return cfg, nil
}

// Len reports the number of stored records, active or not.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.records)
}

func cloneRecord(rec Record) Record {
	clone := rec
	clone.Criteria = cloneCriteria(rec.Criteria)
	clone.Options = cloneOptions(rec.Options)
	return clone
}

func cloneCriteria(c model.Criteria) model.Criteria {
	clone := c
	if c.Capabilities != nil {
		clone.Capabilities = append([]string(nil), c.Capabilities...)
	}
	if c.AdapterKinds != nil {
		clone.AdapterKinds = append([]string(nil), c.AdapterKinds...)
	}
	return clone
}

func cloneOptions(options map[string]any) map[string]any {
	if options == nil {
		return nil
	}
	clone := make(map[string]any, len(options))
	for k, v := range options {
		clone[k] = v
	}
	return clone
}
