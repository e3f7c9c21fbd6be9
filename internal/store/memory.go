package store

import (
	"context"
	"slices"
	"sort"
	"sync"
)

// MemoryStore is an in-process Backend. Data is lost when the process exits.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string][]byte

	// FailWrites makes every write return a persistence error. Tests use it
	// to exercise degraded operation.
	FailWrites bool
	// FailReads makes every read return a persistence error.
	FailReads bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]byte)}
}

// SetFailWrites toggles write failures.
func (m *MemoryStore) SetFailWrites(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailWrites = fail
}

// SetFailReads toggles read failures.
func (m *MemoryStore) SetFailReads(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailReads = fail
}

func (m *MemoryStore) Load(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailReads {
		return nil, persistErr("load", key, nil)
	}
	data, ok := m.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(data), nil
}

func (m *MemoryStore) Save(ctx context.Context, key string, data []byte) error {
	return m.Update(ctx, key, func([]byte) ([]byte, error) { return data, nil })
}

func (m *MemoryStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return persistErr("update", key, nil)
	}

	var current []byte
	if data, ok := m.records[key]; ok {
		current = slices.Clone(data)
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	m.records[key] = slices.Clone(next)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return persistErr("delete", key, nil)
	}
	if _, ok := m.records[key]; !ok {
		return ErrNotFound
	}
	delete(m.records, key)
	return nil
}

func (m *MemoryStore) List(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailReads {
		return nil, persistErr("list", "", nil)
	}
	keys := make([]string, 0, len(m.records))
	for k := range m.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
