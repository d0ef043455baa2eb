package configstore

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/netresearch/llmrelay/internal/domain/model"
	"github.com/netresearch/llmrelay/internal/infrastructure/modelstore"
	"github.com/netresearch/llmrelay/internal/utils/platformerrors"
)

func testStore(t *testing.T, models ...*model.Model) *MemoryStore {
	t.Helper()
	catalog := modelstore.NewMemoryStore(zerolog.Nop())
	for _, m := range models {
		if err := catalog.Upsert(context.Background(), m); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}
	return NewMemoryStore(catalog, zerolog.Nop())
}

func fixedRecord(publicID, modelID string) Record {
	return Record{
		PublicID: publicID,
		Name:     publicID,
		Mode:     model.SelectionModeFixed,
		ModelID:  modelID,
		Active:   true,
	}
}

func TestMemoryStorePutAndList(t *testing.T) {
	store := testStore(t)

	for _, rec := range []Record{
		fixedRecord("cfg-beta", "gpt-4o"),
		fixedRecord("cfg-alpha", "gpt-4o-mini"),
	} {
		if err := store.Put(rec); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	records := store.List()
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].PublicID != "cfg-alpha" || records[1].PublicID != "cfg-beta" {
		t.Errorf("expected public id order, got %s, %s", records[0].PublicID, records[1].PublicID)
	}

	replaced := fixedRecord("cfg-alpha", "gpt-5")
	if err := store.Put(replaced); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if store.Len() != 2 {
		t.Errorf("expected put to replace, got %d records", store.Len())
	}
	if got := store.List()[0].ModelID; got != "gpt-5" {
		t.Errorf("expected replaced model id, got %q", got)
	}
}

func TestMemoryStorePutValidation(t *testing.T) {
	store := testStore(t)

	err := store.Put(Record{Mode: model.SelectionModeFixed, ModelID: "gpt-4o"})
	if !platformerrors.IsErrorType(err, platformerrors.ErrorTypeValidation) {
		t.Errorf("expected validation error for missing public id, got %v", err)
	}

	err = store.Put(Record{PublicID: "cfg-bad", Mode: "roulette"})
	if !platformerrors.IsErrorType(err, platformerrors.ErrorTypeValidation) {
		t.Errorf("expected validation error for invalid mode, got %v", err)
	}
}

func TestMemoryStoreLoad(t *testing.T) {
	store := testStore(t)

	err := store.Load([]Record{
		fixedRecord("cfg-one", "gpt-4o"),
		{PublicID: "", Mode: model.SelectionModeFixed},
		fixedRecord("cfg-two", "gpt-4o"),
	})
	if err == nil {
		t.Fatal("expected load to fail on the invalid record")
	}
	if store.Len() != 1 {
		t.Errorf("expected load to stop after the first failure, got %d records", store.Len())
	}
}

func TestMemoryStoreMaterializeFixed(t *testing.T) {
	store := testStore(t, &model.Model{Identifier: "gpt-4o-mini", Active: true})
	ctx := context.Background()

	rec := fixedRecord("cfg-support", "gpt-4o-mini")
	rec.Options = map[string]any{"temperature": 0.2}
	if err := store.Put(rec); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	cfg, err := store.Materialize(ctx, "cfg-support")
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	if cfg.Mode != model.SelectionModeFixed {
		t.Errorf("unexpected mode %q", cfg.Mode)
	}
	if cfg.Model == nil || cfg.Model.Identifier != "gpt-4o-mini" {
		t.Fatalf("expected bound model, got %+v", cfg.Model)
	}
	if cfg.Options["temperature"] != 0.2 {
		t.Errorf("unexpected options: %+v", cfg.Options)
	}

	// Each call gets its own options map.
	cfg.Options["temperature"] = 0.9
	again, err := store.Materialize(ctx, "cfg-support")
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	if again.Options["temperature"] != 0.2 {
		t.Error("materialized options alias the stored record")
	}
}

func TestMemoryStoreMaterializeMissingModel(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.Put(fixedRecord("cfg-stale", "retired-model")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	cfg, err := store.Materialize(ctx, "cfg-stale")
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	if cfg.Model != nil {
		t.Errorf("expected unbound model for stale identifier, got %+v", cfg.Model)
	}
}

func TestMemoryStoreMaterializeCriteria(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	err := store.Put(Record{
		PublicID: "cfg-vision",
		Mode:     model.SelectionModeCriteria,
		Criteria: model.Criteria{Capabilities: []string{"vision"}, MinContextLength: 32000},
		Active:   true,
	})
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	cfg, err := store.Materialize(ctx, "cfg-vision")
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	if cfg.Model != nil {
		t.Errorf("criteria mode must not pre-bind a model, got %+v", cfg.Model)
	}
	if len(cfg.Criteria.Capabilities) != 1 || cfg.Criteria.Capabilities[0] != "vision" {
		t.Errorf("unexpected criteria: %+v", cfg.Criteria)
	}

	cfg.Criteria.Capabilities[0] = "mutated"
	again, _ := store.Materialize(ctx, "cfg-vision")
	if again.Criteria.Capabilities[0] != "vision" {
		t.Error("materialized criteria alias the stored record")
	}
}

func TestMemoryStoreMaterializeErrors(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	_, err := store.Materialize(ctx, "ghost")
	if !platformerrors.IsErrorType(err, platformerrors.ErrorTypeNotFound) {
		t.Errorf("expected not found for unknown configuration, got %v", err)
	}
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("unexpected message: %v", err)
	}

	inactive := fixedRecord("cfg-off", "gpt-4o")
	inactive.Active = false
	if err := store.Put(inactive); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	_, err = store.Materialize(ctx, "cfg-off")
	if !platformerrors.IsErrorType(err, platformerrors.ErrorTypeNotFound) {
		t.Errorf("expected not found for inactive configuration, got %v", err)
	}
	if err == nil || !strings.Contains(err.Error(), "is not active") {
		t.Errorf("unexpected message: %v", err)
	}
}
