package model

import "context"

// Store abstracts the model catalog the selection engine reads. Records are
// supplied by the host application and the model sync job; the engine itself
// never writes.
type Store interface {
	// ActiveModels returns all active catalog entries.
	ActiveModels(ctx context.Context) ([]*Model, error)
	// FindByID returns the model with the given identifier, nil when absent.
	FindByID(ctx context.Context, identifier string) (*Model, error)
	// Upsert inserts or replaces a model by identifier.
	Upsert(ctx context.Context, m *Model) error
	// ReplaceForProvider swaps every model owned by the provider with the
	// given set, in one step.
	ReplaceForProvider(ctx context.Context, providerID string, models []*Model) error
}
