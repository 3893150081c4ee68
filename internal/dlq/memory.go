package dlq

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store, used for tests and as the backend when
// storage.backend is neither "postgres" nor "mongodb" (the default "memory").
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]Entry
	byEventID  map[string]string
}

// NewMemoryStore builds an empty in-memory DLQ.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:   make(map[string]Entry),
		byEventID: make(map[string]string),
	}
}

func (m *MemoryStore) Enqueue(ctx context.Context, eventID, errMsg string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()

	if id, ok := m.byEventID[eventID]; ok {
		entry := m.entries[id]
		if entry.Status == StatusAbandoned {
			result := entry
			return &result, nil
		}
		entry.ErrorMessage = errMsg
		entry.RetryCount++
		entry.LastRetryAt = &now
		entry.UpdatedAt = now
		if entry.RetryCount >= entry.MaxRetries {
			entry.Status = StatusAbandoned
			entry.NextRetryAt = nil
		} else {
			next := now.Add(backoffDelay(entry.RetryCount))
			entry.Status = StatusPending
			entry.NextRetryAt = &next
		}
		m.entries[id] = entry
		result := entry
		return &result, nil
	}

	next := now.Add(1 * time.Second)
	entry := Entry{
		ID:           "dlq_" + uuid.NewString(),
		EventID:      eventID,
		ErrorMessage: errMsg,
		RetryCount:   0,
		MaxRetries:   DefaultMaxRetries,
		NextRetryAt:  &next,
		Status:       StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.entries[entry.ID] = entry
	m.byEventID[eventID] = entry.ID
	result := entry
	return &result, nil
}

func (m *MemoryStore) GetByEventID(ctx context.Context, eventID string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byEventID[eventID]
	if !ok {
		return nil, ErrNotFound
	}
	entry := m.entries[id]
	return &entry, nil
}

func (m *MemoryStore) GetPendingRetries(ctx context.Context, limit int) ([]*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	var ready []*Entry
	for _, e := range m.entries {
		if e.Status != StatusPending && e.Status != StatusRetrying {
			continue
		}
		if e.NextRetryAt == nil || e.NextRetryAt.After(now) {
			continue
		}
		copied := e
		ready = append(ready, &copied)
	}

	sort.Slice(ready, func(i, j int) bool { return ready[i].NextRetryAt.Before(*ready[j].NextRetryAt) })
	if limit > 0 && len(ready) > limit {
		ready = ready[:limit]
	}
	return ready, nil
}

func (m *MemoryStore) MarkRetrying(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	entry.Status = StatusRetrying
	entry.LastRetryAt = &now
	entry.UpdatedAt = now
	m.entries[id] = entry
	return nil
}

func (m *MemoryStore) MarkResolved(ctx context.Context, id, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	entry.Status = StatusResolved
	entry.ResolvedAt = &now
	entry.ResolutionNote = note
	entry.NextRetryAt = nil
	entry.UpdatedAt = now
	m.entries[id] = entry
	return nil
}

func (m *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var s Stats
	for _, e := range m.entries {
		switch e.Status {
		case StatusPending:
			s.Pending++
		case StatusRetrying:
			s.Retrying++
		case StatusResolved:
			s.Resolved++
		case StatusAbandoned:
			s.Abandoned++
		}
	}
	return s, nil
}
