package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Store persists ledger entries. Local files and remote object storage are
// interchangeable implementations.
type Store interface {
	// Load returns the entry for key, or an empty entry when none was stored yet.
	Load(ctx context.Context, key Key) (*Entry, error)
	// Save replaces the entry for key.
	Save(ctx context.Context, key Key, entry *Entry) error
}

// MemoryStore keeps entries in process memory. It round-trips through JSON so
// it behaves like the persistent stores.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[Key][]byte
	saves   int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[Key][]byte)}
}

func (m *MemoryStore) Load(_ context.Context, key Key) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.entries[key]
	if !ok {
		return NewEntry(), nil
	}

	entry := NewEntry()
	if err := json.Unmarshal(data, entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entry: %w", err)
	}
	if entry.Elements == nil {
		entry.Elements = make(map[string]*Record)
	}
	return entry, nil
}

func (m *MemoryStore) Save(_ context.Context, key Key, entry *Entry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = data
	m.saves++

	return nil
}

// Saves returns how many times Save was called.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
