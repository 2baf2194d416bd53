package checkpoint

import (
	"context"
	"sync"
	"time"
)

// memoryHistoryCap bounds per-instance history retained in memory.
const memoryHistoryCap = 64

// MemoryStore is an in-process Store for single-node deployments and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	history map[string][]*Checkpoint
}

// NewMemoryStore creates an empty in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{history: make(map[string][]*Checkpoint)}
}

// Put implements Store.
func (s *MemoryStore) Put(ctx context.Context, cp *Checkpoint) error {
	stored := &Checkpoint{
		InstanceID: cp.InstanceID,
		StepIndex:  cp.StepIndex,
		State:      append([]byte(nil), cp.State...),
		WrittenAt:  cp.WrittenAt,
	}
	if stored.WrittenAt.IsZero() {
		stored.WrittenAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	list := append(s.history[cp.InstanceID], stored)
	if len(list) > memoryHistoryCap {
		list = list[len(list)-memoryHistoryCap:]
	}
	s.history[cp.InstanceID] = list
	return nil
}

// Latest implements Store.
func (s *MemoryStore) Latest(ctx context.Context, instanceID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.history[instanceID]
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return list[len(list)-1], nil
}

// History implements Store.
func (s *MemoryStore) History(ctx context.Context, instanceID string, limit int) ([]*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.history[instanceID]
	if len(list) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}
	out := make([]*Checkpoint, 0, limit)
	for i := len(list) - 1; i >= len(list)-limit; i-- {
		out = append(out, list[i])
	}
	return out, nil
}
