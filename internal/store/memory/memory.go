package memory

import (
	"context"
	"sync"

	"github.com/borsabridge/control-plane/internal/store"
)

type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]store.Document
}

func New() *MemoryStore {
	return &MemoryStore{docs: map[string]store.Document{}}
}

func (m *MemoryStore) Get(ctx context.Context, path string) (store.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, store.Wrap("get", path, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[store.CleanPath(path)]
	if !ok {
		return nil, nil
	}
	// A fresh copy so callers cannot mutate stored state.
	cloned, err := store.Normalize(doc)
	if err != nil {
		return nil, store.Wrap("get", path, err)
	}
	return cloned, nil
}

func (m *MemoryStore) Set(ctx context.Context, path string, doc store.Document) error {
	if err := ctx.Err(); err != nil {
		return store.Wrap("set", path, err)
	}
	normalized, err := store.Normalize(doc)
	if err != nil {
		return store.Wrap("set", path, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[store.CleanPath(path)] = normalized
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, path string, fields store.Document) error {
	if err := ctx.Err(); err != nil {
		return store.Wrap("update", path, err)
	}
	normalized, err := store.Normalize(fields)
	if err != nil {
		return store.Wrap("update", path, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := store.CleanPath(path)
	existing, ok := m.docs[key]
	if !ok {
		existing = store.Document{}
	}
	for field, value := range normalized {
		existing[field] = value
	}
	m.docs[key] = existing
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return store.Wrap("delete", path, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, store.CleanPath(path))
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}
