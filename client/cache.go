package client

import (
	"slices"
	"strings"
	"sync"
	"time"

	"taskpulse/domain"
)

// LocalIDPrefix marks placeholder ids of tasks created locally and not yet
// confirmed by the server.
const LocalIDPrefix = "local-"

// Op is the kind of a local mutation.
type Op int

const (
	OpCreate Op = iota + 1
	OpUpdate
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	}
	return "unknown"
}

// Intent is a mutation applied optimistically and awaiting the server.
type Intent struct {
	// ID identifies the mutation; assigned by ApplyOptimistic.
	ID     string
	Op     Op
	TaskID string
	Fields domain.TaskFields
	// Owner stamps optimistic creations.
	Owner string
}

// IsLocalID reports whether id is a placeholder for an unconfirmed creation.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, LocalIDPrefix)
}

// Cache is the client's mirror of the board.
//
// It keeps the last canonical value of every task separately from the
// pending intents. The visible view is the canonical state with the pending
// intents replayed on top in issue order, so confirmations, failures and
// broadcasts may interleave in any order and still produce the same view.
// Broadcasts for a task with a pending intent are held back until the intent
// resolves.
type Cache struct {
	mu sync.Mutex

	order      []string
	canonical  map[string]domain.Task
	tombstones map[string]struct{}
	pending    []Intent
	buffered   map[string][]domain.Event
	connected  bool

	viewOrder []string
	view      map[string]domain.Task

	changes chan struct{}
}

func NewCache() *Cache {
	c := &Cache{
		canonical:  make(map[string]domain.Task),
		tombstones: make(map[string]struct{}),
		buffered:   make(map[string][]domain.Event),
		changes:    make(chan struct{}, 1),
	}
	c.rebuildLocked()
	return c
}

// Changes is signalled after every change of the visible view.
func (c *Cache) Changes() <-chan struct{} {
	return c.changes
}

// ApplyOptimistic shows the intended result of in immediately and marks the
// task pending. It returns the intent with its ids filled in and the task as
// now displayed; for deletions the returned task is the value removed.
func (c *Cache) ApplyOptimistic(in Intent) (Intent, domain.Task) {
	c.mu.Lock()
	defer c.mu.Unlock()

	in.ID = domain.NewID()
	if in.Op == OpCreate {
		in.TaskID = LocalIDPrefix + domain.NewID()
	}
	prior := c.view[in.TaskID]
	c.pending = append(c.pending, in)
	c.rebuildLocked()

	if in.Op == OpDelete {
		return in, prior
	}
	return in, c.view[in.TaskID]
}

// Confirm replaces the optimistic value of a create or update with the
// canonical record returned by the server.
func (c *Cache) Confirm(in Intent, t domain.Task) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.resolveLocked(in.ID) {
		return
	}
	c.applyCanonicalLocked(t)
	c.flushLocked(in.TaskID)
	c.flushLocked(t.ID)
	c.rebuildLocked()
}

// ConfirmDelete records a delete acknowledged by the server.
func (c *Cache) ConfirmDelete(in Intent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.resolveLocked(in.ID) {
		return
	}
	c.removeLocked(in.TaskID)
	c.flushLocked(in.TaskID)
	c.rebuildLocked()
}

// OnFailure drops the intent, restoring the last canonical value, and
// returns err for the caller to surface. Nothing is retried.
func (c *Cache) OnFailure(in Intent, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.resolveLocked(in.ID) {
		c.flushLocked(in.TaskID)
		c.rebuildLocked()
	}
	return err
}

// Reconcile applies a pushed task event. Events for a task with a pending
// intent are buffered until it resolves.
func (c *Cache) Reconcile(ev domain.Event) {
	if !ev.IsTaskEvent() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	id := ev.AffectedID()
	if id == "" {
		return
	}
	if c.pendingLocked(id) {
		c.buffered[id] = append(c.buffered[id], ev)
		return
	}
	c.applyEventLocked(ev)
	c.rebuildLocked()
}

// Replace swaps in a freshly fetched collection. Buffered events predate the
// fetch and are discarded; pending intents stay applied on top. A held
// version newer than the fetched one is kept, and tombstoned ids stay gone.
func (c *Cache) Replace(tasks []domain.Task) {
	c.mu.Lock()
	defer c.mu.Unlock()

	held := c.canonical
	c.order = make([]string, 0, len(tasks))
	c.canonical = make(map[string]domain.Task, len(tasks))
	for _, t := range tasks {
		if _, gone := c.tombstones[t.ID]; gone {
			continue
		}
		if cur, ok := held[t.ID]; ok && cur.UpdatedAt.After(t.UpdatedAt) {
			t = cur
		}
		if _, dup := c.canonical[t.ID]; !dup {
			c.order = append(c.order, t.ID)
		}
		c.canonical[t.ID] = t
	}
	clear(c.buffered)
	c.rebuildLocked()
}

// SetConnected records the push channel state.
func (c *Cache) SetConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = connected
}

func (c *Cache) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Tasks returns the visible tasks in board order.
func (c *Cache) Tasks() []domain.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Task, 0, len(c.viewOrder))
	for _, id := range c.viewOrder {
		out = append(out, c.view[id])
	}
	return out
}

// Column returns the visible tasks with status s in board order.
func (c *Cache) Column(s domain.Status) []domain.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.Task
	for _, id := range c.viewOrder {
		if t := c.view[id]; t.Status == s {
			out = append(out, t)
		}
	}
	return out
}

func (c *Cache) Get(id string) (domain.Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.view[id]
	return t, ok
}

// Pending reports whether id has a mutation in flight.
func (c *Cache) Pending(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingLocked(id)
}

func (c *Cache) pendingLocked(id string) bool {
	for _, in := range c.pending {
		if in.TaskID == id {
			return true
		}
	}
	return false
}

func (c *Cache) resolveLocked(intentID string) bool {
	i := slices.IndexFunc(c.pending, func(in Intent) bool { return in.ID == intentID })
	if i < 0 {
		return false
	}
	c.pending = slices.Delete(c.pending, i, i+1)
	return true
}

// flushLocked replays events held back for id once nothing is pending on it.
func (c *Cache) flushLocked(id string) {
	if c.pendingLocked(id) {
		return
	}
	events := c.buffered[id]
	delete(c.buffered, id)
	for _, ev := range events {
		c.applyEventLocked(ev)
	}
}

func (c *Cache) applyEventLocked(ev domain.Event) {
	switch ev.Type {
	case domain.TaskCreated, domain.TaskUpdated:
		if ev.Task != nil {
			c.applyCanonicalLocked(*ev.Task)
		}
	case domain.TaskDeleted:
		c.removeLocked(ev.AffectedID())
	}
}

// applyCanonicalLocked stores t unless the task is known to be deleted or a
// later committed version is already held.
func (c *Cache) applyCanonicalLocked(t domain.Task) {
	if _, gone := c.tombstones[t.ID]; gone {
		return
	}
	cur, ok := c.canonical[t.ID]
	if !ok {
		c.order = append(c.order, t.ID)
	} else if t.UpdatedAt.Before(cur.UpdatedAt) {
		return
	}
	c.canonical[t.ID] = t
}

func (c *Cache) removeLocked(id string) {
	c.tombstones[id] = struct{}{}
	if _, ok := c.canonical[id]; !ok {
		return
	}
	delete(c.canonical, id)
	c.order = slices.DeleteFunc(c.order, func(o string) bool { return o == id })
}

// rebuildLocked recomputes the view from canonical state and pending intents.
func (c *Cache) rebuildLocked() {
	view := make(map[string]domain.Task, len(c.canonical)+len(c.pending))
	order := make([]string, 0, len(c.order)+len(c.pending))
	for _, id := range c.order {
		view[id] = c.canonical[id]
		order = append(order, id)
	}
	for _, in := range c.pending {
		switch in.Op {
		case OpCreate:
			view[in.TaskID] = domain.NewTask(in.TaskID, in.Owner, in.Fields, time.Time{})
			order = append(order, in.TaskID)
		case OpUpdate:
			if t, ok := view[in.TaskID]; ok {
				in.Fields.ApplyTo(&t)
				view[in.TaskID] = t
			}
		case OpDelete:
			if _, ok := view[in.TaskID]; ok {
				delete(view, in.TaskID)
				order = slices.DeleteFunc(order, func(o string) bool { return o == in.TaskID })
			}
		}
	}
	c.view = view
	c.viewOrder = order

	select {
	case c.changes <- struct{}{}:
	default:
	}
}
