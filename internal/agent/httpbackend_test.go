package agent

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPStreamBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req StreamRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.InputText != "payload" || !req.EnableTrace {
			t.Errorf("unexpected request: %+v", req)
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, line := range []string{
			`{"chunk":"<div>"}`,
			``,
			`{"trace":{"step":1}}`,
			`{"chunk":"done</div>"}`,
		} {
			_, _ = w.Write([]byte(line + "\n"))
		}
	}))
	defer srv.Close()

	c := NewHTTPStreamBackend(srv.URL, 5*time.Second)
	stream, err := c.Invoke(context.Background(), StreamRequest{
		InputText:    "payload",
		AgentID:      "a1",
		AgentAliasID: "al1",
		SessionID:    "s1",
		EnableTrace:  true,
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	var chunks, traces int
	var text string
	for {
		ev, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if ev.Chunk != "" {
			chunks++
			text += ev.Chunk
		}
		if len(ev.Trace) > 0 {
			traces++
		}
	}
	if chunks != 2 || traces != 1 {
		t.Fatalf("chunks = %d, traces = %d; want 2, 1", chunks, traces)
	}
	if text != "<div>done</div>" {
		t.Fatalf("text = %q", text)
	}
}

func TestHTTPStreamBackendErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "agent not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewHTTPStreamBackend(srv.URL, 5*time.Second)
	if _, err := c.Invoke(context.Background(), StreamRequest{}); err == nil {
		t.Fatalf("expected error for non-200 response")
	}
}
