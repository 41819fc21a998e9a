package masterdata

import (
	"context"
	"testing"

	"github.com/rpattn/stockimport/internal/domain"
	"github.com/rpattn/stockimport/internal/repository/memory"

	"github.com/google/uuid"
)

func TestItemLoaderBatchesAndCaches(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	orgID := uuid.New()
	for _, code := range []string{"RM-1", "RM-2"} {
		if err := store.Upsert(ctx, domain.Item{OrganizationID: orgID, Code: code, Name: code, Active: true}); err != nil {
			t.Fatalf("seed %s: %v", code, err)
		}
	}

	loader := NewItemLoader(store, orgID)
	items, err := loader.Items(ctx, []string{"RM-2", "RM-1", "", "RM-9", "RM-1"})
	if err != nil {
		t.Fatalf("Items returned error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 known items, got %d", len(items))
	}
	if _, ok := items["RM-9"]; ok {
		t.Fatalf("unknown code must not be returned")
	}
	if got := store.ItemLookups(); got != 1 {
		t.Fatalf("expected one batched lookup, got %d", got)
	}

	if _, err := loader.Items(ctx, []string{"RM-1", "RM-2"}); err != nil {
		t.Fatalf("second Items call: %v", err)
	}
	if got := store.ItemLookups(); got != 1 {
		t.Fatalf("expected cached results, got %d lookups", got)
	}
}

func TestItemLoaderScopesByOrganization(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	owner := uuid.New()
	if err := store.Upsert(ctx, domain.Item{OrganizationID: owner, Code: "RM-1", Active: true}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	items, err := NewItemLoader(store, uuid.New()).Items(ctx, []string{"RM-1"})
	if err != nil {
		t.Fatalf("Items returned error: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("items of another organization leaked: %v", items)
	}
}

func TestItemLoaderFoldsCodeCase(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	orgID := uuid.New()
	if err := store.Upsert(ctx, domain.Item{OrganizationID: orgID, Code: "rm-7", Active: true}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	items, err := NewItemLoader(store, orgID).Items(ctx, []string{"Rm-7", " RM-7", "rm-7"})
	if err != nil {
		t.Fatalf("Items returned error: %v", err)
	}
	item, ok := items["RM-7"]
	if !ok || len(items) != 1 {
		t.Fatalf("expected one item under RM-7, got %v", items)
	}
	if item.Code != "RM-7" {
		t.Fatalf("expected stored code to be normalized, got %q", item.Code)
	}
	if got := store.ItemLookups(); got != 1 {
		t.Fatalf("expected one batched lookup, got %d", got)
	}
}
