package eventstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store, used for tests and as the backend when
// storage.backend is neither "postgres" nor "mongodb" (the default "memory").
type MemoryStore struct {
	mu         sync.RWMutex
	events     map[string]Event
	byExternal map[string]string // "provider:externalID" -> event ID
}

// NewMemoryStore builds an empty in-memory event store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:     make(map[string]Event),
		byExternal: make(map[string]string),
	}
}

func externalKey(provider, externalID string) string {
	return provider + ":" + externalID
}

func (m *MemoryStore) CreateEvent(ctx context.Context, provider, eventType string, raw, normalized json.RawMessage, externalID, userIdentifier, orgID string) (*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if externalID != "" {
		if existingID, ok := m.byExternal[externalKey(provider, externalID)]; ok {
			existing := m.events[existingID]
			return &existing, nil
		}
	}

	event := Event{
		ID:                generateEventID(),
		Provider:          provider,
		EventType:         eventType,
		ExternalID:        externalID,
		UserIdentifier:    userIdentifier,
		OrganizationID:    orgID,
		RawPayload:        raw,
		NormalizedPayload: normalized,
		Status:            StatusReceived,
		ReceivedAt:        time.Now().UTC(),
	}

	m.events[event.ID] = event
	if externalID != "" {
		m.byExternal[externalKey(provider, externalID)] = event.ID
	}

	result := event
	return &result, nil
}

func (m *MemoryStore) GetByID(ctx context.Context, id string) (*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	event, ok := m.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &event, nil
}

func (m *MemoryStore) GetByExternalID(ctx context.Context, provider, externalID string) (*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byExternal[externalKey(provider, externalID)]
	if !ok {
		return nil, ErrNotFound
	}
	event := m.events[id]
	return &event, nil
}

func (m *MemoryStore) transition(id string, to Status, apply func(*Event)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	event, ok := m.events[id]
	if !ok {
		return ErrNotFound
	}
	if !nextStatusValid(event.Status, to) {
		return ErrInvalidTransition
	}
	apply(&event)
	event.Status = to
	m.events[id] = event
	return nil
}

func (m *MemoryStore) MarkProcessing(ctx context.Context, id string) error {
	return m.transition(id, StatusProcessing, func(e *Event) {})
}

func (m *MemoryStore) MarkProcessed(ctx context.Context, id string) error {
	return m.transition(id, StatusProcessed, func(e *Event) {
		now := time.Now().UTC()
		e.ProcessedAt = &now
	})
}

func (m *MemoryStore) MarkFailed(ctx context.Context, id, errMsg string) error {
	return m.transition(id, StatusFailed, func(e *Event) {
		e.ErrorMessage = errMsg
	})
}

func (m *MemoryStore) ListFailed(ctx context.Context, provider string, limit int) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Event
	for _, e := range m.events {
		if e.Status != StatusFailed {
			continue
		}
		if provider != "" && e.Provider != provider {
			continue
		}
		copied := e
		out = append(out, &copied)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
