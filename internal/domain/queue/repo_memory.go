package queue

import (
	"context"
	"sync"
)

// MemoryStore keeps the encoded snapshot in process memory. State is lost
// on restart; it is meant for development and tests.
type MemoryStore struct {
	mu  sync.Mutex
	doc []byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(_ context.Context) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.doc == nil {
		return nil, nil
	}
	return decodeSnapshot(m.doc)
}

func (m *MemoryStore) Save(_ context.Context, s *Snapshot) error {
	doc, err := encodeSnapshot(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.doc = doc
	m.mu.Unlock()
	return nil
}
