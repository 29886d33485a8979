package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"taskpulse/domain"
)

// MemoryStore implements domain.TaskStore in process memory. It is used for
// local development and tests; all methods are safe for concurrent use.
type MemoryStore struct {
	mu     sync.RWMutex
	tasks  map[string]map[string]domain.Task // owner -> id -> task
	order  map[string][]string               // owner -> ids in insertion order
	global map[string]struct{}               // every id ever issued
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:  make(map[string]map[string]domain.Task),
		order:  make(map[string][]string),
		global: make(map[string]struct{}),
	}
}

// Find returns the owner's tasks in creation order.
func (m *MemoryStore) Find(_ context.Context, owner string) ([]domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tasks := make([]domain.Task, 0, len(m.order[owner]))
	for _, id := range m.order[owner] {
		tasks = append(tasks, m.tasks[owner][id])
	}
	return tasks, nil
}

func (m *MemoryStore) FindOne(_ context.Context, owner, id string) (*domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tasks[owner][id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

// Insert stores a new task. Ids are never reused, even after removal.
func (m *MemoryStore) Insert(_ context.Context, t domain.Task) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, used := m.global[t.ID]; used {
		return domain.Task{}, fmt.Errorf("task %s already exists", t.ID)
	}
	if m.tasks[t.Owner] == nil {
		m.tasks[t.Owner] = make(map[string]domain.Task)
	}
	m.tasks[t.Owner][t.ID] = t
	m.order[t.Owner] = append(m.order[t.Owner], t.ID)
	m.global[t.ID] = struct{}{}
	return t, nil
}

// UpdateFields applies f under the store lock, so concurrent updates to the
// same task are serialized and the later one carries the later UpdatedAt.
func (m *MemoryStore) UpdateFields(_ context.Context, owner, id string, f domain.TaskFields, at time.Time) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[owner][id]
	if !ok {
		return nil, nil
	}
	f.ApplyTo(&t)
	t.UpdatedAt = nextUpdatedAt(t.UpdatedAt, at)
	m.tasks[owner][id] = t
	return &t, nil
}

func (m *MemoryStore) Remove(_ context.Context, owner, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tasks[owner][id]; !ok {
		return false, nil
	}
	delete(m.tasks[owner], id)
	ids := m.order[owner]
	for i, v := range ids {
		if v == id {
			m.order[owner] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	return true, nil
}

// nextUpdatedAt keeps UpdatedAt strictly increasing per task even when the
// proposed time lags behind the stored one.
func nextUpdatedAt(prev, at time.Time) time.Time {
	if at.After(prev) {
		return at
	}
	return prev.Add(time.Nanosecond)
}
