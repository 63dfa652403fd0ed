// Package registry tracks live client connections with a bounded lifetime.
package registry

import (
	"context"
	"sync"
	"time"
)

// Entry is the stored record for one connection.
type Entry struct {
	ConnectionID string    `json:"connectionId"`
	CreatedAt    time.Time `json:"createdAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Store is the durable connection table. Put and Delete must be safe to
// call from concurrent event handlers. Absence of an entry is advisory:
// it does not prove the transport has closed the connection.
type Store interface {
	// Put creates or refreshes the entry for connectionID with the given
	// lifetime.
	Put(ctx context.Context, connectionID string, ttl time.Duration) error
	// Delete removes the entry. Deleting a missing entry is not an error.
	Delete(ctx context.Context, connectionID string) error
	// Exists reports whether an unexpired entry is present.
	Exists(ctx context.Context, connectionID string) (bool, error)
}

// memoryStore implements Store with an in-process map. Used for tests and
// single-node deployments without Redis.
type memoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryStore returns an empty in-process Store.
func NewMemoryStore() Store {
	return &memoryStore{entries: make(map[string]Entry)}
}

func (m *memoryStore) Put(_ context.Context, connectionID string, ttl time.Duration) error {
	now := time.Now()
	m.mu.Lock()
	m.entries[connectionID] = Entry{
		ConnectionID: connectionID,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
	}
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) Delete(_ context.Context, connectionID string) error {
	m.mu.Lock()
	delete(m.entries, connectionID)
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) Exists(_ context.Context, connectionID string) (bool, error) {
	m.mu.RLock()
	e, ok := m.entries[connectionID]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return time.Now().Before(e.ExpiresAt), nil
}
