package registry

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStorePutDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.Put(ctx, "c1", 10*time.Minute); err != nil {
		t.Fatalf("Put: %v", err)
	}
	ok, err := s.Exists(ctx, "c1")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !ok {
		t.Fatalf("Exists after Put = false; want true")
	}

	if err := s.Delete(ctx, "c1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	ok, err = s.Exists(ctx, "c1")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if ok {
		t.Fatalf("Exists after Delete = true; want false")
	}
}

func TestMemoryStoreDeleteIdempotent(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Delete(context.Background(), "never-added"); err != nil {
		t.Fatalf("Delete of missing entry: %v", err)
	}
}

func TestMemoryStorePutRefreshesExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.Put(ctx, "c1", -time.Second); err != nil {
		t.Fatalf("Put: %v", err)
	}
	ok, _ := s.Exists(ctx, "c1")
	if ok {
		t.Fatalf("expired entry reported as present")
	}
	if err := s.Put(ctx, "c1", time.Minute); err != nil {
		t.Fatalf("Put: %v", err)
	}
	ok, _ = s.Exists(ctx, "c1")
	if !ok {
		t.Fatalf("refreshed entry reported as absent")
	}
}
