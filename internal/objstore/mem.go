package objstore

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Mem is an in-memory Store used by tests and by pipeline dry runs.
type Mem struct {
	mu      sync.RWMutex
	objects map[string]memObject
}

type memObject struct {
	data     []byte
	metadata map[string]string
}

// Compile-time interface check.
var _ Store = (*Mem)(nil)

// NewMem creates an empty in-memory store.
func NewMem() *Mem {
	return &Mem{objects: make(map[string]memObject)}
}

// Put stores a copy of data and metadata under key.
func (m *Mem) Put(_ context.Context, key string, data []byte, metadata map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj := memObject{data: append([]byte(nil), data...)}
	if metadata != nil {
		obj.metadata = make(map[string]string, len(metadata))
		for k, v := range metadata {
			obj.metadata[k] = v
		}
	}
	m.objects[key] = obj
	return nil
}

// Get returns copies of the stored data and metadata.
func (m *Mem) Get(_ context.Context, key string) ([]byte, map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[key]
	if !ok {
		return nil, nil, ErrNotExist
	}
	md := make(map[string]string, len(obj.metadata))
	for k, v := range obj.metadata {
		md[k] = v
	}
	return append([]byte(nil), obj.data...), md, nil
}

// List returns all keys under prefix in sorted order.
func (m *Mem) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes key if present.
func (m *Mem) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// Len returns the number of stored objects.
func (m *Mem) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
