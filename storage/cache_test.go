package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"taskpulse/domain"
)

type countingStore struct {
	*MemoryStore
	finds int
}

func (c *countingStore) Find(ctx context.Context, owner string) ([]domain.Task, error) {
	c.finds++
	return c.MemoryStore.Find(ctx, owner)
}

// pausingStore holds Find between reading the backend and returning.
type pausingStore struct {
	*MemoryStore
	read    chan struct{}
	release chan struct{}
}

func (p *pausingStore) Find(ctx context.Context, owner string) ([]domain.Task, error) {
	tasks, err := p.MemoryStore.Find(ctx, owner)
	close(p.read)
	<-p.release
	return tasks, err
}

type failingStore struct {
	*MemoryStore
}

func (failingStore) Insert(context.Context, domain.Task) (domain.Task, error) {
	return domain.Task{}, errors.New("insert failed")
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestCacheFindMissThenHit(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	base := &countingStore{MemoryStore: NewMemoryStore()}
	if _, err := base.Insert(ctx, newTestTask("t1", "user-1", "Write code", time.Now().UTC())); err != nil {
		t.Fatalf("insert: %v", err)
	}
	cache := NewCache(base, client, time.Minute)

	tasks, err := cache.Find(ctx, "user-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "t1" {
		t.Fatalf("unexpected tasks: %#v", tasks)
	}
	if base.finds != 1 {
		t.Fatalf("expected 1 call to backend, got %d", base.finds)
	}
	if ttl := mr.TTL(tasksCacheKey("user-1")); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}

	cached, err := cache.Find(ctx, "user-1")
	if err != nil {
		t.Fatalf("find cached: %v", err)
	}
	if len(cached) != 1 || cached[0].Title != "Write code" || !cached[0].UpdatedAt.Equal(tasks[0].UpdatedAt) {
		t.Fatalf("unexpected cached tasks: %#v", cached)
	}
	if base.finds != 1 {
		t.Fatalf("expected cached fetch to avoid backend, calls=%d", base.finds)
	}
}

func TestCacheWritesEvictOwnerEntry(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	base := &countingStore{MemoryStore: NewMemoryStore()}
	cache := NewCache(base, client, time.Minute)

	if _, err := cache.Find(ctx, "user-1"); err != nil {
		t.Fatalf("find: %v", err)
	}
	if !mr.Exists(tasksCacheKey("user-1")) {
		t.Fatal("expected cache entry after find")
	}

	if _, err := cache.Insert(ctx, newTestTask("t1", "user-1", "x", time.Now())); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if mr.Exists(tasksCacheKey("user-1")) {
		t.Fatal("expected insert to evict cache entry")
	}

	tasks, err := cache.Find(ctx, "user-1")
	if err != nil || len(tasks) != 1 {
		t.Fatalf("expected fresh list after insert, got %v %v", tasks, err)
	}

	done := domain.StatusDone
	if _, err := cache.UpdateFields(ctx, "user-1", "t1", domain.TaskFields{Status: &done}, time.Now()); err != nil {
		t.Fatalf("update: %v", err)
	}
	if mr.Exists(tasksCacheKey("user-1")) {
		t.Fatal("expected update to evict cache entry")
	}

	if _, err := cache.Find(ctx, "user-1"); err != nil {
		t.Fatalf("find: %v", err)
	}
	if removed, err := cache.Remove(ctx, "user-1", "t1"); err != nil || !removed {
		t.Fatalf("remove: %v %v", removed, err)
	}
	if mr.Exists(tasksCacheKey("user-1")) {
		t.Fatal("expected remove to evict cache entry")
	}
}

func TestCacheDropsFillRacingWithDelete(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()
	mem := NewMemoryStore()
	if _, err := mem.Insert(ctx, newTestTask("t1", "user-1", "x", time.Now())); err != nil {
		t.Fatalf("insert: %v", err)
	}
	base := &pausingStore{MemoryStore: mem, read: make(chan struct{}), release: make(chan struct{})}
	cache := NewCache(base, client, time.Minute)

	done := make(chan error, 1)
	go func() {
		_, err := cache.Find(ctx, "user-1")
		done <- err
	}()
	<-base.read

	if removed, err := cache.Remove(ctx, "user-1", "t1"); err != nil || !removed {
		t.Fatalf("remove: %v %v", removed, err)
	}
	close(base.release)
	if err := <-done; err != nil {
		t.Fatalf("find: %v", err)
	}

	cache.base = mem
	tasks, err := cache.Find(ctx, "user-1")
	if err != nil {
		t.Fatalf("find after delete: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("expected deleted task to stay gone, got %#v", tasks)
	}
}

func TestCacheKeepsEntryWhenWriteFails(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	cache := NewCache(failingStore{MemoryStore: NewMemoryStore()}, client, time.Minute)

	if _, err := cache.Find(ctx, "user-1"); err != nil {
		t.Fatalf("find: %v", err)
	}
	if _, err := cache.Insert(ctx, newTestTask("t1", "user-1", "x", time.Now())); err == nil {
		t.Fatal("expected insert error")
	}
	if !mr.Exists(tasksCacheKey("user-1")) {
		t.Fatal("failed write must not evict")
	}
}

func TestCacheInvalidPayloadFallsBack(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	base := &countingStore{MemoryStore: NewMemoryStore()}
	cache := NewCache(base, client, time.Minute)

	if err := mr.Set(tasksCacheKey("user-1"), "not-json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := cache.Find(ctx, "user-1"); err != nil {
		t.Fatalf("find: %v", err)
	}
	if base.finds != 1 {
		t.Fatalf("expected backend call after corrupt entry, got %d", base.finds)
	}
}

func TestCacheWithoutRedis(t *testing.T) {
	ctx := context.Background()
	base := &countingStore{MemoryStore: NewMemoryStore()}
	cache := NewCache(base, nil, time.Minute)

	for i := 0; i < 2; i++ {
		if _, err := cache.Find(ctx, "user-1"); err != nil {
			t.Fatalf("find: %v", err)
		}
	}
	if base.finds != 2 {
		t.Fatalf("expected every find to reach backend, got %d", base.finds)
	}
}
