package eventstore

import (
	"context"
	"encoding/json"
	"testing"
)

func TestMemoryStore_CreateEventIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	raw := json.RawMessage(`{"a":1}`)
	norm := json.RawMessage(`{"b":2}`)

	first, err := store.CreateEvent(ctx, "form", "form_submission", raw, norm, "evt_1", "user@example.com", "org_1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	second, err := store.CreateEvent(ctx, "form", "form_submission", raw, norm, "evt_1", "user@example.com", "org_1")
	if err != nil {
		t.Fatalf("create duplicate: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected duplicate external_id to return the same event, got %s and %s", first.ID, second.ID)
	}
}

func TestMemoryStore_StatusLadder(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	event, err := store.CreateEvent(ctx, "form", "form_submission", nil, nil, "", "", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := store.MarkProcessed(ctx, event.ID); err != ErrInvalidTransition {
		t.Fatalf("expected received -> processed to be rejected, got %v", err)
	}

	if err := store.MarkProcessing(ctx, event.ID); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	if err := store.MarkProcessed(ctx, event.ID); err != nil {
		t.Fatalf("mark processed: %v", err)
	}

	got, err := store.GetByID(ctx, event.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusProcessed || got.ProcessedAt == nil {
		t.Fatalf("unexpected event state: %+v", got)
	}
}

func TestMemoryStore_ListFailedFiltersByProvider(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	a, _ := store.CreateEvent(ctx, "form", "form_submission", nil, nil, "a", "", "")
	b, _ := store.CreateEvent(ctx, "payment", "payment_intent.succeeded", nil, nil, "b", "", "")

	_ = store.MarkProcessing(ctx, a.ID)
	_ = store.MarkFailed(ctx, a.ID, "boom")
	_ = store.MarkProcessing(ctx, b.ID)
	_ = store.MarkFailed(ctx, b.ID, "boom")

	failed, err := store.ListFailed(ctx, "form", 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 1 || failed[0].Provider != "form" {
		t.Fatalf("expected only form events, got %+v", failed)
	}
}
