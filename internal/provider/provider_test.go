package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"testing"
	"time"
)

type fakeSecrets struct {
	secrets map[string]string
}

func (f fakeSecrets) Secret(name string) (string, bool) {
	s, ok := f.secrets[name]
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

func TestFormProvider_VerifyAndNormalize(t *testing.T) {
	secrets := fakeSecrets{secrets: map[string]string{"form": "shhh"}}
	p := NewFormProvider("form", "Typeform-Signature", secrets)

	body := []byte(`{"event_id":"evt_1","form_response":{"form_id":"f1","submitted_at":"2026-01-01T00:00:00Z","token":"tok","hidden":{"user_id":"u1","org_id":"o1"}}}`)
	mac := hmac.New(sha256.New, []byte("shhh"))
	mac.Write(body)
	sig := "sha256=" + base64.StdEncoding.EncodeToString(mac.Sum(nil))

	headers := http.Header{}
	headers.Set("Typeform-Signature", sig)

	if !p.Verify(headers, body) {
		t.Fatal("expected valid signature to verify")
	}

	headers.Set("Typeform-Signature", "sha256=bogus")
	if p.Verify(headers, body) {
		t.Fatal("expected tampered signature to fail")
	}

	raw, err := p.Parse(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	event := p.Normalize(raw)
	if event.ExternalID != "evt_1" || event.ResourceID != "f1" || event.UserIdentifier != "u1" || event.OrganizationID != "o1" {
		t.Fatalf("unexpected normalized event: %+v", event)
	}
}

func TestFormProvider_NoSecretFailsClosed(t *testing.T) {
	p := NewFormProvider("form", "Typeform-Signature", fakeSecrets{})
	headers := http.Header{}
	headers.Set("Typeform-Signature", "sha256=anything")
	if p.Verify(headers, []byte("body")) {
		t.Fatal("expected verify to fail when no secret is configured")
	}
}

func TestPaymentProvider_VerifyRejectsStaleTimestamp(t *testing.T) {
	secrets := fakeSecrets{secrets: map[string]string{"payment": "topsecret"}}
	p := NewPaymentProvider("payment", "Stripe-Signature", secrets)
	old := time.Now().Add(-1 * time.Hour)
	p.now = func() time.Time { return old.Add(1 * time.Hour) } // pin "now" for deterministic staleness

	body := []byte(`{"id":"evt_1","type":"payment_intent.succeeded"}`)
	timestamp := fmt.Sprintf("%d", old.Unix())
	mac := hmac.New(sha256.New, []byte("topsecret"))
	mac.Write([]byte(timestamp + "." + string(body)))
	sig := hex.EncodeToString(mac.Sum(nil))

	headers := http.Header{}
	headers.Set("Stripe-Signature", "t="+timestamp+",v1="+sig)

	if p.Verify(headers, body) {
		t.Fatal("expected a timestamp outside the tolerance window to be rejected")
	}
}

func TestPaymentProvider_VerifyAndNormalize(t *testing.T) {
	secrets := fakeSecrets{secrets: map[string]string{"payment": "topsecret"}}
	p := NewPaymentProvider("payment", "Stripe-Signature", secrets)

	body := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","created":1700000000,"data":{"object":{"id":"pi_1","customer":"cus_1","amount":1000,"currency":"usd","status":"succeeded","metadata":{"user_id":"u1","org_id":"o1"}}}}`)
	now := time.Now()
	timestamp := fmt.Sprintf("%d", now.Unix())
	p.now = func() time.Time { return now }

	mac := hmac.New(sha256.New, []byte("topsecret"))
	mac.Write([]byte(timestamp + "." + string(body)))
	sig := hex.EncodeToString(mac.Sum(nil))

	headers := http.Header{}
	headers.Set("Stripe-Signature", "t="+timestamp+",v1=bogus,v1="+sig)

	if !p.Verify(headers, body) {
		t.Fatal("expected valid signature among multiple v1 values to verify")
	}

	raw, err := p.Parse(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	event := p.Normalize(raw)
	if event.ResourceID != "pi_1" || event.UserIdentifier != "u1" || event.OrganizationID != "o1" {
		t.Fatalf("unexpected normalized event: %+v", event)
	}
	if event.Metadata["payment_intent_id"] != "pi_1" {
		t.Fatalf("expected payment_intent_id to be surfaced, got %+v", event.Metadata)
	}
}

func TestRegistry_DuplicateRegistrationPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected duplicate registration to panic")
		}
	}()
	secrets := fakeSecrets{}
	NewRegistry(
		NewFormProvider("form", "X-Sig", secrets),
		NewFormProvider("FORM", "X-Sig", secrets),
	)
}

func TestRegistry_GetCaseInsensitive(t *testing.T) {
	secrets := fakeSecrets{secrets: map[string]string{"form": "s"}}
	reg := NewRegistry(NewFormProvider("form", "X-Sig", secrets))

	if _, ok := reg.Get("FORM"); !ok {
		t.Fatal("expected case-insensitive lookup to find provider")
	}
	if _, ok := reg.Get("missing"); ok {
		t.Fatal("expected lookup of unregistered provider to fail")
	}

	status := reg.Status()
	if status.Total != 1 || status.Configured != 1 {
		t.Fatalf("unexpected status: %+v", status)
	}
}
