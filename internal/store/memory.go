package store

import (
	"bytes"
	"context"
	"sync"
	"time"
)

// entry is the last payload saved for one accessory.
type entry struct {
	Payload []byte
	SavedAt time.Time
}

// MemoryStore is a concurrency-safe in-memory implementation of weather.Store.
// Its contents do not survive a restart.
type MemoryStore struct {
	mu sync.RWMutex

	// key: accessory name
	data map[string]entry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]entry),
	}
}

// Set replaces the payload stored under key.
func (s *MemoryStore) Set(_ context.Context, key string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = entry{
		Payload: bytes.Clone(payload),
		SavedAt: time.Now().UTC(),
	}
	return nil
}

// Get returns the payload stored under key.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(e.Payload), true, nil
}

// SavedAt reports when key was last written.
func (s *MemoryStore) SavedAt(key string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.data[key]
	return e.SavedAt, ok
}
