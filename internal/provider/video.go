package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
)

// VideoProvider verifies and normalizes video-conferencing meeting event
// webhooks (modeled on Zoom). Signature covers "v0:{timestamp}:{body}",
// hex-encoded HMAC-SHA256, carried as "v0={hex}" in a single header
// alongside a companion timestamp header.
type VideoProvider struct {
	base
	header          string
	timestampHeader string
}

// NewVideoProvider builds a video-conferencing provider.
func NewVideoProvider(name, header, timestampHeader string, secrets SecretSource) *VideoProvider {
	return &VideoProvider{base: base{name: name, secrets: secrets}, header: header, timestampHeader: timestampHeader}
}

func (p *VideoProvider) SignatureHeader() string { return p.header }

func (p *VideoProvider) Verify(headers http.Header, body []byte) bool {
	sig := headers.Get(p.header)
	timestamp := headers.Get(p.timestampHeader)
	secret, ok := p.Secret()
	if sig == "" || timestamp == "" || !ok || secret == "" {
		return false
	}

	message := "v0:" + timestamp + ":" + string(body)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	expected := "v0=" + hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(sig), []byte(expected))
}

func (p *VideoProvider) Parse(body []byte) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *VideoProvider) Normalize(raw map[string]any) CanonicalEvent {
	eventType := stringField(raw, "event")
	if eventType == "" {
		eventType = "unknown"
	}
	payload, _ := raw["payload"].(map[string]any)
	object, _ := payload["object"].(map[string]any)

	hostEmail := stringField(object, "host_email")
	meetingID := meetingIDField(object, "id")

	return CanonicalEvent{
		Source:         p.name,
		EventType:      eventType,
		ExternalID:     stringField(raw, "event_ts"),
		ResourceID:     meetingID,
		OccurredAt:     stringField(object, "start_time"),
		UserIdentifier: hostEmail,
		OrganizationID: stringField(payload, "account_id"),
		Metadata: map[string]any{
			"topic":      object["topic"],
			"duration":   object["duration"],
			"host_email": hostEmail,
		},
	}
}

// meetingIDField extracts an id field that Zoom sends as either a JSON
// string or a JSON number depending on endpoint.
func meetingIDField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	default:
		return ""
	}
}
