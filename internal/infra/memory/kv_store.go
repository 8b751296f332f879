package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"mcq-bot/internal/kv"
)

// KVStore is an in-process implementation of kv.Store for local runs and tests.
type KVStore struct {
	mu           sync.RWMutex
	values       map[string][]byte
	maxValueSize int
}

// Option configures a KVStore.
type Option func(*KVStore)

// WithMaxValueSize makes Put reject values larger than n bytes, like hosted KV services do.
func WithMaxValueSize(n int) Option {
	return func(s *KVStore) { s.maxValueSize = n }
}

func NewKVStore(opts ...Option) *KVStore {
	s := &KVStore{values: make(map[string][]byte)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *KVStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return nil, kv.ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *KVStore) Put(_ context.Context, key string, value []byte) error {
	if s.maxValueSize > 0 && len(value) > s.maxValueSize {
		return kv.ErrValueTooLarge
	}
	v := make([]byte, len(value))
	copy(v, value)
	s.mu.Lock()
	s.values[key] = v
	s.mu.Unlock()
	return nil
}

func (s *KVStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()
	return nil
}

func (s *KVStore) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0)
	for k := range s.values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Len reports the number of stored keys.
func (s *KVStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}
