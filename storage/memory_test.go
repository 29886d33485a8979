package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"taskpulse/domain"
)

func newTestTask(id, owner, title string, at time.Time) domain.Task {
	return domain.Task{ID: id, Owner: owner, Title: title, Status: domain.StatusTodo, Priority: domain.PriorityMedium, CreatedAt: at, UpdatedAt: at}
}

func TestMemoryStoreScopesByOwner(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now().UTC()

	for _, task := range []domain.Task{
		newTestTask("t1", "alice", "first", now),
		newTestTask("t2", "bob", "other", now),
		newTestTask("t3", "alice", "second", now),
	} {
		if _, err := s.Insert(ctx, task); err != nil {
			t.Fatalf("insert %s: %v", task.ID, err)
		}
	}

	tasks, err := s.Find(ctx, "alice")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(tasks) != 2 || tasks[0].ID != "t1" || tasks[1].ID != "t3" {
		t.Fatalf("unexpected tasks for alice: %+v", tasks)
	}
	if got, _ := s.FindOne(ctx, "alice", "t2"); got != nil {
		t.Fatalf("foreign task visible: %+v", got)
	}
	if removed, _ := s.Remove(ctx, "alice", "t2"); removed {
		t.Fatal("foreign task removed")
	}
}

func TestMemoryStoreNeverReusesIDs(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	task := newTestTask("t1", "alice", "x", time.Now())
	if _, err := s.Insert(ctx, task); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if removed, err := s.Remove(ctx, "alice", "t1"); err != nil || !removed {
		t.Fatalf("remove: %v %v", removed, err)
	}
	if _, err := s.Insert(ctx, task); err == nil {
		t.Fatal("expected reused id to be rejected")
	}
	if tasks, _ := s.Find(ctx, "alice"); len(tasks) != 0 {
		t.Fatalf("expected empty board, got %+v", tasks)
	}
}

func TestMemoryStoreUpdatedAtNeverMovesBackwards(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now().UTC()
	if _, err := s.Insert(ctx, newTestTask("t1", "alice", "x", now)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	done := domain.StatusDone
	got, err := s.UpdateFields(ctx, "alice", "t1", domain.TaskFields{Status: &done}, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !got.UpdatedAt.After(now) {
		t.Fatalf("updatedAt went backwards: %v <= %v", got.UpdatedAt, now)
	}
	if got.Status != domain.StatusDone || got.Title != "x" {
		t.Fatalf("unexpected task %+v", got)
	}
	if missing, err := s.UpdateFields(ctx, "alice", "nope", domain.TaskFields{Status: &done}, now); err != nil || missing != nil {
		t.Fatalf("expected nil for missing task, got %+v %v", missing, err)
	}
}

func TestMemoryStoreConcurrentUpdatesSerialize(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if _, err := s.Insert(ctx, newTestTask("t1", "alice", "x", domain.Now())); err != nil {
		t.Fatalf("insert: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			st := domain.Statuses[i%len(domain.Statuses)]
			if _, err := s.UpdateFields(ctx, "alice", "t1", domain.TaskFields{Status: &st}, domain.Now()); err != nil {
				t.Errorf("update: %v", err)
			}
		}(i)
	}
	wg.Wait()

	got, _ := s.FindOne(ctx, "alice", "t1")
	if got == nil || !got.UpdatedAt.After(got.CreatedAt) {
		t.Fatalf("unexpected final task %+v", got)
	}
}
