// Package workorder is the boundary to the external work-order records.
// The gateway never creates work orders; it only merges safety-check
// results into records that already exist.
package workorder

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound means no work order exists for the given id.
var ErrNotFound = errors.New("work order not found")

// Fields merged into a work-order record after a safety check completes.
const (
	FieldResponse    = "safetyCheckResponse"
	FieldPerformedAt = "safetyCheckPerformedAt"
)

// Store reads and updates work-order records by id.
type Store interface {
	// Get returns the record's fields.
	Get(ctx context.Context, workOrderID string) (map[string]string, error)
	// UpdateSafetyCheck merges the response text and completion time into
	// an existing record. Last writer wins; there is no versioning.
	UpdateSafetyCheck(ctx context.Context, workOrderID, response string, performedAt time.Time) error
}

// memoryStore is an in-process Store for tests and local runs.
type memoryStore struct {
	mu      sync.RWMutex
	records map[string]map[string]string
}

// NewMemoryStore returns a Store seeded with the given records.
func NewMemoryStore(seed map[string]map[string]string) Store {
	records := make(map[string]map[string]string, len(seed))
	for id, fields := range seed {
		rec := make(map[string]string, len(fields))
		for k, v := range fields {
			rec[k] = v
		}
		records[id] = rec
	}
	return &memoryStore{records: records}
}

func (m *memoryStore) Get(_ context.Context, workOrderID string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[workOrderID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make(map[string]string, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out, nil
}

func (m *memoryStore) UpdateSafetyCheck(_ context.Context, workOrderID, response string, performedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[workOrderID]
	if !ok {
		return ErrNotFound
	}
	rec[FieldResponse] = response
	rec[FieldPerformedAt] = performedAt.Format(time.RFC3339Nano)
	return nil
}
