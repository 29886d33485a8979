package domain

import (
	"context"
	"errors"
	"sync"
	"time"
)

type fakeStore struct {
	mu    sync.Mutex
	tasks map[string]Task
	err   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{tasks: map[string]Task{}}
}

func (f *fakeStore) Find(ctx context.Context, owner string) ([]Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := []Task{}
	for _, t := range f.tasks {
		if t.Owner == owner {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeStore) FindOne(ctx context.Context, owner, id string) (*Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok || t.Owner != owner {
		return nil, nil
	}
	return &t, nil
}

func (f *fakeStore) Insert(ctx context.Context, t Task) (Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return Task{}, f.err
	}
	if _, exists := f.tasks[t.ID]; exists {
		return Task{}, errors.New("duplicate id")
	}
	f.tasks[t.ID] = t
	return t, nil
}

func (f *fakeStore) UpdateFields(ctx context.Context, owner, id string, fields TaskFields, at time.Time) (*Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	t, ok := f.tasks[id]
	if !ok || t.Owner != owner {
		return nil, nil
	}
	fields.ApplyTo(&t)
	if at.After(t.UpdatedAt) {
		t.UpdatedAt = at
	}
	f.tasks[id] = t
	return &t, nil
}

func (f *fakeStore) Remove(ctx context.Context, owner, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	t, ok := f.tasks[id]
	if !ok || t.Owner != owner {
		return false, nil
	}
	delete(f.tasks, id)
	return true, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingPublisher) Publish(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordingPublisher) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
