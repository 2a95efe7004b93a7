package db

import (
	"context"
	"sync"
	"time"

	"github.com/brojonat/goldium/service/metrics"
)

// MemoryStore keeps everything in a map. Contents are lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	data    map[string][]byte
	closed  bool
	metrics *metrics.Metrics
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(m *metrics.Metrics) *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte), metrics: m}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (out []byte, err error) {
	defer func(start time.Time) { observe(s.metrics, "get", "memory", start, err) }(time.Now())

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	v, ok := s.data[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (s *MemoryStore) Put(ctx context.Context, key string, value []byte) (err error) {
	defer func(start time.Time) { observe(s.metrics, "put", "memory", start, err) }(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.data[key] = append([]byte(nil), value...)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) (err error) {
	defer func(start time.Time) { observe(s.metrics, "delete", "memory", start, err) }(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.data, key)
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
