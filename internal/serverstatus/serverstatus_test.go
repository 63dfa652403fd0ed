package serverstatus

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSnapshot(t *testing.T) {
	r := NewReporter("1.2.3", func() int { return 4 })
	s := r.Snapshot()
	if s.Version != "1.2.3" {
		t.Fatalf("version = %q", s.Version)
	}
	if s.Connections != 4 {
		t.Fatalf("connections = %d; want 4", s.Connections)
	}
	if s.Goroutines <= 0 {
		t.Fatalf("goroutines = %d", s.Goroutines)
	}
	if s.GoVersion == "" {
		t.Fatalf("go version empty")
	}
}

func TestHandler(t *testing.T) {
	r := NewReporter("dev", nil)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rr := httptest.NewRecorder()
	r.Handler()(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("code = %d", rr.Code)
	}
	var s Snapshot
	if err := json.Unmarshal(rr.Body.Bytes(), &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if s.Version != "dev" {
		t.Fatalf("version = %q", s.Version)
	}
}
