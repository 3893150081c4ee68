package errors

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
)

func TestWriteSuccess_EncodesEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccess(w, 202, "accepted", map[string]string{"trace_id": "evt_1"})

	if w.Code != 202 {
		t.Fatalf("expected status 202, got %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["success"] != true {
		t.Errorf("expected success=true, got %v", body["success"])
	}
}

func TestWriteFlatError_KnownCodeUsesItsStatus(t *testing.T) {
	w := httptest.NewRecorder()
	WriteFlatError(w, New(ErrCodeProviderNotFound, "unknown provider"))

	if w.Code != 404 {
		t.Fatalf("expected status 404, got %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	errObj, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected an error object, got %v", body["error"])
	}
	if errObj["code"] != "provider_not_found" {
		t.Errorf("expected code provider_not_found, got %v", errObj["code"])
	}
}

func TestWriteFlatError_UntypedErrorFallsBackToInternal(t *testing.T) {
	w := httptest.NewRecorder()
	WriteFlatError(w, errStdlib("boom"))

	if w.Code != 500 {
		t.Fatalf("expected status 500, got %d", w.Code)
	}
}

type errStdlib string

func (e errStdlib) Error() string { return string(e) }
