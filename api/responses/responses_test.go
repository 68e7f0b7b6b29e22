package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	pkgerrors "github.com/dukalink/dukalink-backend/pkg/errors"
)

func TestWriteSuccessWrapsData(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteSuccess(rec, map[string]string{"status": "ok"})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("expected json content type, got %q", got)
	}

	var envelope SuccessEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	data, ok := envelope.Data.(map[string]any)
	if !ok || data["status"] != "ok" {
		t.Fatalf("unexpected data: %v", envelope.Data)
	}
}

func TestWriteErrorSurfacesCodedMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	err := pkgerrors.New(pkgerrors.CodeInsufficientCredit, "order exceeds available headroom").
		WithDetails(map[string]string{"headroom": "20000.00"})
	WriteError(context.Background(), nil, rec, err)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}

	var envelope ErrorEnvelope
	if decodeErr := json.NewDecoder(rec.Body).Decode(&envelope); decodeErr != nil {
		t.Fatalf("decode: %v", decodeErr)
	}
	if envelope.Error.Code != string(pkgerrors.CodeInsufficientCredit) {
		t.Fatalf("unexpected code %s", envelope.Error.Code)
	}
	if envelope.Error.Message != "order exceeds available headroom" {
		t.Fatalf("expected the coded message, got %q", envelope.Error.Message)
	}
	details, ok := envelope.Error.Details.(map[string]any)
	if !ok || details["headroom"] != "20000.00" {
		t.Fatalf("expected headroom detail, got %v", envelope.Error.Details)
	}
}

func TestWriteErrorHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(context.Background(), nil, rec, errors.New("pq: connection refused on 10.0.0.4"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}

	var envelope ErrorEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Error.Code != string(pkgerrors.CodeInternal) {
		t.Fatalf("unexpected code %s", envelope.Error.Code)
	}
	// The wire never carries the raw cause.
	if envelope.Error.Message != "internal server error" {
		t.Fatalf("expected the public message, got %q", envelope.Error.Message)
	}
	if envelope.Error.Details != nil {
		t.Fatal("internal errors must not leak details")
	}
}
