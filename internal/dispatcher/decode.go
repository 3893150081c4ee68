package dispatcher

import (
	"encoding/json"

	"github.com/CedrosPay/server/internal/provider"
)

// decodeCanonicalEvent reconstructs the normalized event from its persisted
// JSON form for a DLQ retry, where only the stored row survives, not the
// original in-memory struct.
func decodeCanonicalEvent(raw json.RawMessage) (provider.CanonicalEvent, error) {
	var event provider.CanonicalEvent
	err := json.Unmarshal(raw, &event)
	return event, err
}
