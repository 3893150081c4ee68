// Package eventstore persists webhook events from first receipt through
// terminal processing state, enforcing idempotency on (provider, external_id)
// and a monotonic status ladder.
package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a stored event.
type Status string

const (
	StatusReceived   Status = "received"
	StatusProcessing Status = "processing"
	StatusProcessed  Status = "processed"
	StatusFailed     Status = "failed"
)

// ErrNotFound is returned when a lookup finds no matching event.
var ErrNotFound = errors.New("eventstore: event not found")

// ErrInvalidTransition is returned when a status update would violate the
// monotonic status ladder (received -> processing -> {processed | failed}).
var ErrInvalidTransition = errors.New("eventstore: invalid status transition")

// Event is a persisted webhook event.
type Event struct {
	ID                 string
	Provider           string
	EventType          string
	ExternalID         string
	UserIdentifier     string
	OrganizationID     string
	RawPayload         json.RawMessage
	NormalizedPayload  json.RawMessage
	Status             Status
	ReceivedAt         time.Time
	ProcessedAt        *time.Time
	ErrorMessage       string
}

// Store persists and queries webhook events.
type Store interface {
	// CreateEvent inserts a new event with status "received". When externalID
	// is non-empty and a row for (provider, externalID) already exists, the
	// existing row is returned instead of erroring (idempotent re-delivery).
	CreateEvent(ctx context.Context, provider, eventType string, raw, normalized json.RawMessage, externalID, userIdentifier, orgID string) (*Event, error)
	GetByID(ctx context.Context, id string) (*Event, error)
	GetByExternalID(ctx context.Context, provider, externalID string) (*Event, error)
	MarkProcessing(ctx context.Context, id string) error
	MarkProcessed(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, errMsg string) error
	ListFailed(ctx context.Context, provider string, limit int) ([]*Event, error)
}

// nextStatusValid reports whether the ladder allows the transition. failed ->
// processed is allowed alongside processing -> processed: a DLQ-recovered
// event transitions directly from failed once the dispatcher's retry
// succeeds, matching the original's unconditional mark_processed update.
func nextStatusValid(current, next Status) bool {
	switch current {
	case StatusReceived:
		return next == StatusProcessing || next == StatusFailed
	case StatusProcessing:
		return next == StatusProcessed || next == StatusFailed
	case StatusFailed:
		return next == StatusProcessed
	default:
		return false
	}
}

// generateEventID mints a unique event identifier.
func generateEventID() string {
	return "evt_" + uuid.NewString()
}
