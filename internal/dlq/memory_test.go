package dlq

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStore_EnqueueSchedulesBackoff(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	entry, err := store.Enqueue(ctx, "evt_1", "first failure")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if entry.RetryCount != 0 || entry.Status != StatusPending {
		t.Fatalf("unexpected first enqueue state: %+v", entry)
	}
	if entry.NextRetryAt == nil || entry.NextRetryAt.Sub(entry.CreatedAt) < 900*time.Millisecond {
		t.Fatalf("expected ~1s priming delay, got %+v", entry.NextRetryAt)
	}

	second, err := store.Enqueue(ctx, "evt_1", "second failure")
	if err != nil {
		t.Fatalf("enqueue again: %v", err)
	}
	if second.RetryCount != 1 {
		t.Fatalf("expected retry_count to increment, got %d", second.RetryCount)
	}
	delay := second.NextRetryAt.Sub(time.Now().UTC())
	if delay < 1*time.Second || delay > 3*time.Second {
		t.Fatalf("expected ~2s backoff for retry_count=1, got %v", delay)
	}
}

func TestMemoryStore_AbandonsAfterMaxRetries(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var entry *Entry
	var err error
	for i := 0; i <= DefaultMaxRetries; i++ {
		entry, err = store.Enqueue(ctx, "evt_1", "failure")
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	if entry.Status != StatusAbandoned || entry.NextRetryAt != nil {
		t.Fatalf("expected entry to be abandoned with no next retry, got %+v", entry)
	}
}

func TestMemoryStore_GetPendingRetriesOnlyReturnsDue(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.Enqueue(ctx, "evt_future", "failure"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	pending, err := store.GetPendingRetries(ctx, 10)
	if err != nil {
		t.Fatalf("get pending retries: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no entries due yet (1s priming delay), got %d", len(pending))
	}
}

func TestMemoryStore_MarkResolvedClearsSchedule(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	entry, err := store.Enqueue(ctx, "evt_1", "failure")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := store.MarkResolved(ctx, entry.ID, "manually retried"); err != nil {
		t.Fatalf("mark resolved: %v", err)
	}

	got, err := store.GetByEventID(ctx, "evt_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusResolved || got.NextRetryAt != nil {
		t.Fatalf("unexpected resolved entry: %+v", got)
	}
}
