package client

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"taskpulse/domain"
)

const defaultMutationTimeout = 10 * time.Second

// BoardConfig tunes a Board.
type BoardConfig struct {
	// MutationTimeout bounds every request to the server. A mutation that
	// times out is reverted and reported as a transport failure.
	MutationTimeout time.Duration
	// OnError receives failures of background moves. Defaults to logging.
	OnError func(taskID string, err error)
}

// Board ties the cache to the REST client and the event stream: it issues
// mutations optimistically, confirms or reverts them, and reconciles pushed
// events.
type Board struct {
	api     *API
	stream  *Stream
	cache   *Cache
	session *Session
	cfg     BoardConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     conc.WaitGroup

	mu       sync.Mutex
	presence map[string]domain.Presence
}

func NewBoard(api *API, stream *Stream, cache *Cache, session *Session, cfg BoardConfig) *Board {
	if cfg.MutationTimeout <= 0 {
		cfg.MutationTimeout = defaultMutationTimeout
	}
	if cfg.OnError == nil {
		cfg.OnError = func(taskID string, err error) {
			log.WithError(err).WithField("task", taskID).Warn("task mutation failed")
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Board{
		api:      api,
		stream:   stream,
		cache:    cache,
		session:  session,
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		presence: make(map[string]domain.Presence),
	}
}

func (b *Board) Cache() *Cache { return b.cache }

// Get returns the task as currently displayed.
func (b *Board) Get(id string) (domain.Task, bool) { return b.cache.Get(id) }

// Load fetches the whole collection and replaces the cache with it.
func (b *Board) Load(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.MutationTimeout)
	defer cancel()
	tasks, err := b.api.List(ctx)
	if err != nil {
		return err
	}
	b.cache.Replace(tasks)
	return nil
}

// Create adds a task. The placeholder is visible until the server answers.
func (b *Board) Create(ctx context.Context, f domain.TaskFields) (domain.Task, error) {
	if err := b.check(f, true); err != nil {
		return domain.Task{}, err
	}
	in, _ := b.cache.ApplyOptimistic(Intent{Op: OpCreate, Fields: f, Owner: b.session.User().UserID})

	ctx, cancel := context.WithTimeout(ctx, b.cfg.MutationTimeout)
	defer cancel()
	t, err := b.api.Create(ctx, f, in.ID)
	if err != nil {
		return domain.Task{}, b.fail(in, err)
	}
	b.cache.Confirm(in, t)
	return t, nil
}

// Update patches a task and returns the canonical record.
func (b *Board) Update(ctx context.Context, id string, f domain.TaskFields) (domain.Task, error) {
	if err := b.checkTarget(id); err != nil {
		return domain.Task{}, err
	}
	if err := b.check(f, false); err != nil {
		return domain.Task{}, err
	}
	in, _ := b.cache.ApplyOptimistic(Intent{Op: OpUpdate, TaskID: id, Fields: f})
	return b.sendUpdate(ctx, in)
}

func (b *Board) Delete(ctx context.Context, id string) error {
	if err := b.checkTarget(id); err != nil {
		return err
	}
	if !b.session.Active() {
		return fmt.Errorf("%w: not signed in", domain.ErrAuthorization)
	}
	in, _ := b.cache.ApplyOptimistic(Intent{Op: OpDelete, TaskID: id})

	ctx, cancel := context.WithTimeout(ctx, b.cfg.MutationTimeout)
	defer cancel()
	if _, err := b.api.Delete(ctx, id); err != nil {
		return b.fail(in, err)
	}
	b.cache.ConfirmDelete(in)
	return nil
}

// MoveTask changes a task's column. The cache shows the new column on return;
// the request completes in the background and failures go to OnError.
func (b *Board) MoveTask(id string, to domain.Status) error {
	if err := b.checkTarget(id); err != nil {
		return err
	}
	patch := domain.StatusPatch(to)
	if err := b.check(patch, false); err != nil {
		return err
	}
	in, _ := b.cache.ApplyOptimistic(Intent{Op: OpUpdate, TaskID: id, Fields: patch})
	b.wg.Go(func() {
		if _, err := b.sendUpdate(b.ctx, in); err != nil {
			b.cfg.OnError(id, err)
		}
	})
	return nil
}

func (b *Board) sendUpdate(ctx context.Context, in Intent) (domain.Task, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.MutationTimeout)
	defer cancel()
	t, err := b.api.Update(ctx, in.TaskID, in.Fields)
	if err != nil {
		return domain.Task{}, b.fail(in, err)
	}
	b.cache.Confirm(in, t)
	return t, nil
}

// fail reverts the intent. After a transport failure the server may still
// have committed it, so the board refetches in the background.
func (b *Board) fail(in Intent, err error) error {
	err = b.cache.OnFailure(in, err)
	if errors.Is(err, domain.ErrTransport) {
		b.wg.Go(func() {
			if err := b.Load(b.ctx); err != nil {
				log.WithError(err).Debug("refetch after transport failure")
			}
		})
	}
	return err
}

// Wait blocks until background moves have finished.
func (b *Board) Wait() {
	b.wg.Wait()
}

// Close abandons background moves and waits for them to unwind.
func (b *Board) Close() {
	b.cancel()
	b.wg.Wait()
}

// Announce pings presence on the open stream.
func (b *Board) Announce(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.MutationTimeout)
	defer cancel()
	return b.api.Announce(ctx, b.session.User().Name)
}

// Online lists other users announced on the stream, sorted by id.
func (b *Board) Online() []domain.Presence {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Presence, 0, len(b.presence))
	for _, p := range b.presence {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Run keeps the event stream open until ctx ends or the stream gives up.
// Every (re)connection refetches the collection.
func (b *Board) Run(ctx context.Context) error {
	return b.stream.Run(ctx, boardHandler{b})
}

func (b *Board) check(f domain.TaskFields, creating bool) error {
	if !b.session.Active() {
		return fmt.Errorf("%w: not signed in", domain.ErrAuthorization)
	}
	if !creating && f.Empty() {
		return &domain.ValidationError{Reason: "no fields to update"}
	}
	return f.Validate(creating)
}

func (b *Board) checkTarget(id string) error {
	if IsLocalID(id) {
		return &domain.ValidationError{Field: "id", Reason: "task is not saved yet"}
	}
	return nil
}

type boardHandler struct {
	b *Board
}

func (h boardHandler) OnConnect(ctx context.Context, sessionID string) error {
	log.WithField("session", sessionID).Debug("stream connected")
	h.b.mu.Lock()
	clear(h.b.presence)
	h.b.mu.Unlock()
	if err := h.b.Load(ctx); err != nil {
		return err
	}
	h.b.cache.SetConnected(true)
	return nil
}

func (h boardHandler) OnDisconnect(err error) {
	log.WithError(err).Debug("stream disconnected")
	h.b.cache.SetConnected(false)
}

func (h boardHandler) OnFrame(f Frame) error {
	switch f.Event {
	case domain.TaskCreated, domain.TaskUpdated:
		var t domain.Task
		if err := sonic.Unmarshal(f.Data, &t); err != nil {
			return fmt.Errorf("decode %s: %w", f.Event, err)
		}
		h.b.cache.Reconcile(domain.Event{Type: f.Event, Task: &t})
	case domain.TaskDeleted:
		var id string
		if err := sonic.Unmarshal(f.Data, &id); err != nil {
			return fmt.Errorf("decode %s: %w", f.Event, err)
		}
		h.b.cache.Reconcile(domain.Event{Type: f.Event, TaskID: id})
	case domain.Resync:
		log.Warn("stream fell behind; refetching board")
		return h.b.Load(h.b.ctx)
	case domain.UserJoined, domain.UserLeft:
		var p domain.Presence
		if err := sonic.Unmarshal(f.Data, &p); err != nil {
			return fmt.Errorf("decode %s: %w", f.Event, err)
		}
		h.b.mu.Lock()
		if f.Event == domain.UserJoined {
			h.b.presence[p.UserID] = p
		} else {
			delete(h.b.presence, p.UserID)
		}
		h.b.mu.Unlock()
	}
	return nil
}
