package workorder

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryStoreUpdateExisting(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(map[string]map[string]string{
		"WO1": {"location_name": "Site1"},
	})

	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	if err := s.UpdateSafetyCheck(ctx, "WO1", "<div>Report</div>", at); err != nil {
		t.Fatalf("UpdateSafetyCheck: %v", err)
	}

	rec, err := s.Get(ctx, "WO1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec[FieldResponse] != "<div>Report</div>" {
		t.Fatalf("response = %q; want <div>Report</div>", rec[FieldResponse])
	}
	if rec[FieldPerformedAt] != at.Format(time.RFC3339Nano) {
		t.Fatalf("performedAt = %q", rec[FieldPerformedAt])
	}
	// Existing fields survive the merge.
	if rec["location_name"] != "Site1" {
		t.Fatalf("location_name clobbered: %q", rec["location_name"])
	}
}

func TestMemoryStoreNeverCreates(t *testing.T) {
	s := NewMemoryStore(nil)
	err := s.UpdateSafetyCheck(context.Background(), "missing", "x", time.Now())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v; want ErrNotFound", err)
	}
}

func TestRedisStore(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	s := NewRedisStore(client)
	ctx := context.Background()

	mr.HSet(keyPrefix+"WO1", "location_name", "Site1")

	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	if err := s.UpdateSafetyCheck(ctx, "WO1", "<div>Report</div>", at); err != nil {
		t.Fatalf("UpdateSafetyCheck: %v", err)
	}
	rec, err := s.Get(ctx, "WO1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec[FieldResponse] != "<div>Report</div>" || rec["location_name"] != "Site1" {
		t.Fatalf("unexpected record: %v", rec)
	}

	if err := s.UpdateSafetyCheck(ctx, "WO2", "x", at); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update of missing record: %v; want ErrNotFound", err)
	}
	if _, err := s.Get(ctx, "WO2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get of missing record: %v; want ErrNotFound", err)
	}
}
