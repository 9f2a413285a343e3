package encoding

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

func TestNegotiateContentType(t *testing.T) {
	tests := []struct {
		name         string
		acceptHeader string
		expectedType string
	}{
		{"empty Accept header defaults to JSON", "", ContentTypeJSON},
		{"explicit MessagePack", "application/msgpack", ContentTypeMsgpack},
		{"legacy MessagePack type", "application/x-msgpack", ContentTypeMsgpack},
		{"explicit JSON", "application/json", ContentTypeJSON},
		{"wildcard defaults to JSON", "*/*", ContentTypeJSON},
		{"MessagePack among several", "application/json, application/msgpack", ContentTypeMsgpack},
		{"quality values", "application/json;q=0.9, application/msgpack;q=1.0", ContentTypeMsgpack},
		{"MessagePack refused with q=0", "application/msgpack;q=0, application/json", ContentTypeJSON},
		{"unknown type defaults to JSON", "application/xml", ContentTypeJSON},
		{"case insensitive", "Application/MsgPack", ContentTypeMsgpack},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/runs", nil)
			if tt.acceptHeader != "" {
				req.Header.Set("Accept", tt.acceptHeader)
			}

			if got := NegotiateContentType(req); got != tt.expectedType {
				t.Errorf("expected content type %s, got %s", tt.expectedType, got)
			}
		})
	}
}

func TestWriteMsgpack(t *testing.T) {
	type runSummary struct {
		ID        string    `json:"id"`
		Score     float64   `json:"score"`
		StartedAt time.Time `json:"started_at"`
	}
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	w := httptest.NewRecorder()
	if err := WriteMsgpack(w, http.StatusOK, runSummary{ID: "aor_1", Score: 7.5, StartedAt: started}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != ContentTypeMsgpack {
		t.Errorf("expected Content-Type %s, got %s", ContentTypeMsgpack, ct)
	}

	var decoded map[string]interface{}
	if err := msgpack.Unmarshal(w.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if decoded["id"] != "aor_1" {
		t.Errorf("expected json tag names on the wire, got keys %v", decoded)
	}
	if ts, ok := decoded["started_at"].(time.Time); !ok || !ts.Equal(started) {
		t.Errorf("expected started_at %v, got %v", started, decoded["started_at"])
	}
}

func TestWriteMsgpack_Nil(t *testing.T) {
	w := httptest.NewRecorder()
	if err := WriteMsgpack(w, http.StatusNoContent, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.Code != http.StatusNoContent {
		t.Errorf("expected status %d, got %d", http.StatusNoContent, w.Code)
	}
}
