package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
)

// FormProvider verifies and normalizes form-submission style webhooks
// (modeled on Typeform). Signature is HMAC-SHA256 over the raw body,
// base64-encoded, carried in a single header prefixed "sha256=".
type FormProvider struct {
	base
	header string
}

// NewFormProvider builds a form-submission provider. name is the registry
// key and secret-store key (e.g. "form"); header is the signature header
// the source sends (e.g. "Typeform-Signature").
func NewFormProvider(name, header string, secrets SecretSource) *FormProvider {
	return &FormProvider{base: base{name: name, secrets: secrets}, header: header}
}

func (p *FormProvider) SignatureHeader() string { return p.header }

func (p *FormProvider) Verify(headers http.Header, body []byte) bool {
	sig := headers.Get(p.header)
	secret, ok := p.Secret()
	if sig == "" || !ok || secret == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(sig), []byte(expected))
}

func (p *FormProvider) Parse(body []byte) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *FormProvider) Normalize(raw map[string]any) CanonicalEvent {
	formResponse, _ := raw["form_response"].(map[string]any)
	hidden, _ := formResponse["hidden"].(map[string]any)

	userIdentifier := stringField(hidden, "user_id")
	if userIdentifier == "" {
		userIdentifier = stringField(hidden, "email")
	}
	orgID := stringField(hidden, "org_id")
	if orgID == "" {
		orgID = stringField(hidden, "organization_id")
	}

	return CanonicalEvent{
		Source:         p.name,
		EventType:      "form_submission",
		ExternalID:     stringField(raw, "event_id"),
		ResourceID:     stringField(formResponse, "form_id"),
		OccurredAt:     stringField(formResponse, "submitted_at"),
		UserIdentifier: userIdentifier,
		OrganizationID: orgID,
		Metadata: map[string]any{
			"enrollment_id":  stringField(hidden, "enrollment_id"),
			"journey_id":     stringField(hidden, "journey_id"),
			"step_id":        stringField(hidden, "step_id"),
			"response_token": stringField(formResponse, "token"),
			"form_id":        stringField(formResponse, "form_id"),
		},
	}
}

// stringField extracts a string value from a possibly-nil map, tolerating
// missing keys and non-string values by returning "".
func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	v, ok := m[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
