package document

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

type memoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	puts    int
}

// NewMemoryStore builds an in-memory object store for testing.
func NewMemoryStore() Store {
	return &memoryStore{objects: make(map[string][]byte)}
}

func (s *memoryStore) Put(_ context.Context, key, _ string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), data...)
	s.puts++
	return nil
}

func (s *memoryStore) SignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.objects[key]; !ok {
		return "", errors.New("object not found")
	}
	return fmt.Sprintf("https://storage.test/%s?signed=1", key), nil
}

func (s *memoryStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// PutCount is a test helper exposing how many writes reached the store.
func PutCount(st Store) int {
	if m, ok := st.(*memoryStore); ok {
		m.mu.RLock()
		defer m.mu.RUnlock()
		return m.puts
	}
	return 0
}
