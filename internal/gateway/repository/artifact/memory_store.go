package artifact

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string][]byte),
	}
}

func (s *MemoryStore) Put(_ context.Context, namespace, path string, content []byte) error {
	key, err := s.key(namespace, path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), content...)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, namespace, path string) ([]byte, error) {
	key, err := s.key(namespace, path)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), raw...), nil
}

func (s *MemoryStore) List(_ context.Context, namespace, prefix string) ([]string, error) {
	if s == nil {
		return nil, fmt.Errorf("store is nil")
	}
	ns, err := cleanNamespace(namespace)
	if err != nil {
		return nil, err
	}
	root := ns + "/"
	want := root + cleanPrefix(prefix)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, 16)
	for key := range s.data {
		if !strings.HasPrefix(key, want) {
			continue
		}
		out = append(out, strings.TrimPrefix(key, root))
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) Clear(_ context.Context, namespace string) error {
	if s == nil {
		return fmt.Errorf("store is nil")
	}
	ns, err := cleanNamespace(namespace)
	if err != nil {
		return err
	}
	root := ns + "/"
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.data {
		if strings.HasPrefix(key, root) {
			delete(s.data, key)
		}
	}
	return nil
}

// GetURL returns "" since memory contents have no addressable location.
func (s *MemoryStore) GetURL(_ context.Context, _, _ string) (string, error) {
	return "", nil
}

func (s *MemoryStore) key(namespace, path string) (string, error) {
	if s == nil {
		return "", fmt.Errorf("store is nil")
	}
	ns, err := cleanNamespace(namespace)
	if err != nil {
		return "", err
	}
	p, err := cleanPath(path)
	if err != nil {
		return "", err
	}
	return ns + "/" + p, nil
}
