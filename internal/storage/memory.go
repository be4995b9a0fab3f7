package storage

import (
	"context"
	"io"
	"sort"
	"sync"
)

// MemoryClient is an in-process Backend, used for dry runs and tests
type MemoryClient struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

type memoryObject struct {
	data        []byte
	contentType string
}

// NewMemoryClient creates an empty in-memory store
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{objects: make(map[string]memoryObject)}
}

// Name implements Backend
func (m *MemoryClient) Name() string { return "memory" }

// Exists implements Backend
func (m *MemoryClient) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok, nil
}

// Put implements Backend
func (m *MemoryClient) Put(ctx context.Context, key string, body Body, size int64, opts PutOptions) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memoryObject{data: data, contentType: opts.ContentType}
	return nil
}

// Get returns a stored object's bytes and content type
func (m *MemoryClient) Get(key string) ([]byte, string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	return obj.data, obj.contentType, ok
}

// Keys returns all stored keys in sorted order
func (m *MemoryClient) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
