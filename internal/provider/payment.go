package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// TimestampTolerance bounds how old (or future) a payment webhook's embedded
// timestamp may be before it is rejected as a likely replay.
const TimestampTolerance = 300 * time.Second

// PaymentProvider verifies and normalizes payment-processor style webhooks
// (modeled on Stripe). Signature is a compound header t=...,v1=...[,v1=...],
// hex-encoded HMAC-SHA256 over "{t}.{body}", checked against an anti-replay
// timestamp window before the HMAC comparison runs.
type PaymentProvider struct {
	base
	header string
	now    func() time.Time
}

// NewPaymentProvider builds a payment-processor provider.
func NewPaymentProvider(name, header string, secrets SecretSource) *PaymentProvider {
	return &PaymentProvider{base: base{name: name, secrets: secrets}, header: header, now: time.Now}
}

func (p *PaymentProvider) SignatureHeader() string { return p.header }

func (p *PaymentProvider) Verify(headers http.Header, body []byte) bool {
	header := headers.Get(p.header)
	secret, ok := p.Secret()
	if header == "" || !ok || secret == "" {
		return false
	}

	timestamp, signatures := parseCompoundSignature(header)
	if timestamp == "" || len(signatures) == 0 {
		return false
	}

	timestampInt, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	now := p.now()
	if math.Abs(float64(now.Unix()-timestampInt)) > TimestampTolerance.Seconds() {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "." + string(body)))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range signatures {
		if hmac.Equal([]byte(expected), []byte(sig)) {
			return true
		}
	}
	return false
}

// parseCompoundSignature parses "t=timestamp,v1=sig1,v1=sig2,..." into its
// timestamp and signature components.
func parseCompoundSignature(header string) (timestamp string, signatures []string) {
	for _, item := range strings.Split(header, ",") {
		key, value, found := strings.Cut(item, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch key {
		case "t":
			timestamp = value
		case "v1":
			signatures = append(signatures, value)
		}
	}
	return timestamp, signatures
}

func (p *PaymentProvider) Parse(body []byte) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *PaymentProvider) Normalize(raw map[string]any) CanonicalEvent {
	eventType := stringField(raw, "type")
	if eventType == "" {
		eventType = "unknown"
	}
	data, _ := raw["data"].(map[string]any)
	object, _ := data["object"].(map[string]any)
	metadata, _ := object["metadata"].(map[string]any)

	userIdentifier := stringField(metadata, "user_id")
	if userIdentifier == "" {
		userIdentifier = stringField(object, "receipt_email")
	}
	if userIdentifier == "" {
		userIdentifier = stringField(object, "customer_email")
	}
	orgID := stringField(metadata, "org_id")
	if orgID == "" {
		orgID = stringField(metadata, "organization_id")
	}

	resourceID := stringField(object, "id")

	eventMetadata := map[string]any{
		"customer_id":    object["customer"],
		"amount":         object["amount"],
		"currency":       object["currency"],
		"status":         object["status"],
		"enrollment_id":  stringField(metadata, "enrollment_id"),
		"journey_id":     stringField(metadata, "journey_id"),
		"step_id":        stringField(metadata, "step_id"),
	}
	switch {
	case strings.HasPrefix(eventType, "payment_intent"):
		eventMetadata["payment_intent_id"] = resourceID
	case strings.HasPrefix(eventType, "customer.subscription"):
		eventMetadata["subscription_id"] = resourceID
	case strings.HasPrefix(eventType, "invoice"):
		eventMetadata["invoice_id"] = resourceID
	}

	return CanonicalEvent{
		Source:         p.name,
		EventType:      eventType,
		ExternalID:     stringField(raw, "id"),
		ResourceID:     resourceID,
		OccurredAt:     unixToISO(raw["created"]),
		UserIdentifier: userIdentifier,
		OrganizationID: orgID,
		Metadata:       eventMetadata,
	}
}

// unixToISO converts a JSON-decoded numeric Unix timestamp to an ISO-8601 UTC
// string. Returns "" when absent or not numeric.
func unixToISO(v any) string {
	f, ok := v.(float64)
	if !ok {
		return ""
	}
	return time.Unix(int64(f), 0).UTC().Format(time.RFC3339)
}
