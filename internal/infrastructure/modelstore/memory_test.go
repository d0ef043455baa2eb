package modelstore

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/netresearch/llmrelay/internal/domain/model"
)

func testModel(id, providerID string, active bool) *model.Model {
	return &model.Model{
		Identifier:   id,
		Provider:     &model.ProviderRef{Identifier: providerID, Priority: 1, Active: true},
		Capabilities: []string{"chat"},
		Active:       active,
	}
}

func TestMemoryStoreUpsertAndFind(t *testing.T) {
	store := NewMemoryStore(zerolog.Nop())
	ctx := context.Background()

	if err := store.Upsert(ctx, testModel("gpt-4o", "openai-main", true)); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	found, err := store.FindByID(ctx, "gpt-4o")
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if found == nil || found.Identifier != "gpt-4o" {
		t.Fatalf("expected stored model, got %+v", found)
	}

	missing, err := store.FindByID(ctx, "nope")
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for unknown identifier, got %+v", missing)
	}
}

func TestMemoryStoreUpsertReplaces(t *testing.T) {
	store := NewMemoryStore(zerolog.Nop())
	ctx := context.Background()

	m := testModel("gpt-4o", "openai-main", true)
	if err := store.Upsert(ctx, m); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	m.DisplayName = "GPT-4o"
	if err := store.Upsert(ctx, m); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	found, _ := store.FindByID(ctx, "gpt-4o")
	if found.DisplayName != "GPT-4o" {
		t.Errorf("expected upsert to replace the record, got %q", found.DisplayName)
	}
	if store.Len() != 1 {
		t.Errorf("expected 1 record, got %d", store.Len())
	}
}

func TestMemoryStoreStoresCopies(t *testing.T) {
	store := NewMemoryStore(zerolog.Nop())
	ctx := context.Background()

	m := testModel("gpt-4o", "openai-main", true)
	if err := store.Upsert(ctx, m); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	m.Capabilities[0] = "mutated"
	m.Provider.Identifier = "mutated"

	found, _ := store.FindByID(ctx, "gpt-4o")
	if found.Capabilities[0] != "chat" {
		t.Error("stored capabilities alias the caller slice")
	}
	if found.Provider.Identifier != "openai-main" {
		t.Error("stored provider ref aliases the caller pointer")
	}
}

func TestMemoryStoreActiveModels(t *testing.T) {
	store := NewMemoryStore(zerolog.Nop())
	ctx := context.Background()

	for _, m := range []*model.Model{
		testModel("c-model", "openai-main", true),
		testModel("a-model", "openai-main", true),
		testModel("b-model", "openai-main", false),
	} {
		if err := store.Upsert(ctx, m); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}

	active, err := store.ActiveModels(ctx)
	if err != nil {
		t.Fatalf("ActiveModels failed: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active models, got %d", len(active))
	}
	if active[0].Identifier != "a-model" || active[1].Identifier != "c-model" {
		t.Errorf("expected identifier order, got %s, %s", active[0].Identifier, active[1].Identifier)
	}
}

func TestMemoryStoreReplaceForProvider(t *testing.T) {
	store := NewMemoryStore(zerolog.Nop())
	ctx := context.Background()

	for _, m := range []*model.Model{
		testModel("gpt-4o", "openai-main", true),
		testModel("gpt-4o-mini", "openai-main", true),
		testModel("claude-sonnet-4", "anthropic-main", true),
	} {
		if err := store.Upsert(ctx, m); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}

	err := store.ReplaceForProvider(ctx, "openai-main", []*model.Model{
		testModel("gpt-5", "openai-main", true),
	})
	if err != nil {
		t.Fatalf("ReplaceForProvider failed: %v", err)
	}

	if store.Len() != 2 {
		t.Fatalf("expected 2 records after replace, got %d", store.Len())
	}
	if found, _ := store.FindByID(ctx, "gpt-4o"); found != nil {
		t.Error("expected old provider models removed")
	}
	if found, _ := store.FindByID(ctx, "gpt-5"); found == nil {
		t.Error("expected new provider model inserted")
	}
	if found, _ := store.FindByID(ctx, "claude-sonnet-4"); found == nil {
		t.Error("expected other provider models untouched")
	}
}
