package storage

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"taskpulse/domain"
)

// Cache wraps a task store with a Redis-backed cache of each owner's task
// list. Every write bumps the owner's generation and evicts the entry after
// the backing store commits; a fill only lands if the generation it read
// before loading is still current.
type Cache struct {
	base  domain.TaskStore
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching store using the provided Redis client and TTL.
func NewCache(base domain.TaskStore, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) Find(ctx context.Context, owner string) ([]domain.Task, error) {
	if tasks, ok := c.loadTasksFromCache(ctx, owner); ok {
		return tasks, nil
	}

	gen, genOK := c.generation(ctx, owner)
	tasks, err := c.base.Find(ctx, owner)
	if err != nil {
		return nil, err
	}

	if genOK {
		c.storeTasks(ctx, owner, gen, tasks)
	}
	return tasks, nil
}

func (c *Cache) FindOne(ctx context.Context, owner, id string) (*domain.Task, error) {
	return c.base.FindOne(ctx, owner, id)
}

func (c *Cache) Insert(ctx context.Context, t domain.Task) (domain.Task, error) {
	out, err := c.base.Insert(ctx, t)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx, t.Owner)
	return out, nil
}

func (c *Cache) UpdateFields(ctx context.Context, owner, id string, f domain.TaskFields, at time.Time) (*domain.Task, error) {
	t, err := c.base.UpdateFields(ctx, owner, id, f, at)
	if err != nil {
		return nil, err
	}
	if t != nil {
		c.evict(ctx, owner)
	}
	return t, nil
}

func (c *Cache) Remove(ctx context.Context, owner, id string) (bool, error) {
	removed, err := c.base.Remove(ctx, owner, id)
	if err != nil {
		return false, err
	}
	if removed {
		c.evict(ctx, owner)
	}
	return removed, nil
}

func (c *Cache) loadTasksFromCache(ctx context.Context, owner string) ([]domain.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, tasksCacheKey(owner)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, tasksCacheKey(owner)).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := sonic.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, tasksCacheKey(owner)).Err()
		return nil, false
	}
	return tasks, true
}

var errStaleFill = errors.New("storage: cache generation moved")

// generation reads the owner's write counter. ok is false when Redis cannot
// be consulted, in which case the caller must not fill.
func (c *Cache) generation(ctx context.Context, owner string) (int64, bool) {
	if c.redis == nil || c.ttl == 0 {
		return 0, false
	}
	gen, err := c.redis.Get(ctx, generationKey(owner)).Int64()
	if err != nil && err != redis.Nil {
		return 0, false
	}
	return gen, true
}

func (c *Cache) storeTasks(ctx context.Context, owner string, gen int64, tasks []domain.Task) {
	data, err := sonic.Marshal(tasks)
	if err != nil {
		return
	}
	key := generationKey(owner)
	_ = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Int64()
		if err != nil && err != redis.Nil {
			return err
		}
		if cur != gen {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, tasksCacheKey(owner), data, c.ttl)
			return nil
		})
		return err
	}, key)
}

func (c *Cache) evict(ctx context.Context, owner string) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Incr(ctx, generationKey(owner)).Err()
	_ = c.redis.Del(ctx, tasksCacheKey(owner)).Err()
}

func tasksCacheKey(owner string) string {
	return "tasks:" + owner
}

func generationKey(owner string) string {
	return "tasks-gen:" + owner
}
