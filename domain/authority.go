package domain

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TaskStore is the durable record of tasks, addressed by owner and id.
// FindOne and UpdateFields return nil without error when the task does not
// exist in the owner's scope. UpdateFields must never move UpdatedAt
// backwards.
type TaskStore interface {
	Find(ctx context.Context, owner string) ([]Task, error)
	FindOne(ctx context.Context, owner, id string) (*Task, error)
	Insert(ctx context.Context, t Task) (Task, error)
	UpdateFields(ctx context.Context, owner, id string, f TaskFields, at time.Time) (*Task, error)
	Remove(ctx context.Context, owner, id string) (bool, error)
}

// Publisher receives committed events.
type Publisher interface {
	Publish(ev Event)
}

// Ack confirms a deletion.
type Ack struct {
	TaskID  string `json:"id"`
	Message string `json:"message"`
}

type originKey struct{}

// WithOrigin tags ctx with the session that initiated a mutation so the
// resulting event is not echoed back to it.
func WithOrigin(ctx context.Context, sessionID string) context.Context {
	if sessionID == "" {
		return ctx
	}
	return context.WithValue(ctx, originKey{}, sessionID)
}

// OriginFrom returns the session id stored by WithOrigin.
func OriginFrom(ctx context.Context) string {
	s, _ := ctx.Value(originKey{}).(string)
	return s
}

// echoOrigin is the origin to exclude from an event's fan-out. A requester
// that stopped waiting never sees the response, so it gets the event instead.
func echoOrigin(ctx context.Context) string {
	if ctx.Err() != nil {
		return ""
	}
	return OriginFrom(ctx)
}

// Authority validates and applies task mutations and emits exactly one event
// per committed mutation.
type Authority struct {
	store  TaskStore
	pub    Publisher
	tracer trace.Tracer
	now    func() time.Time
	newID  func() string
}

// NewAuthority wires an authority to its store and event publisher.
func NewAuthority(store TaskStore, pub Publisher) *Authority {
	if store == nil {
		panic("domain.NewAuthority: store is nil")
	}
	return &Authority{
		store:  store,
		pub:    pub,
		tracer: otel.Tracer("taskpulse/domain"),
		now:    Now,
		newID:  NewID,
	}
}

// List returns the owner's board.
func (a *Authority) List(ctx context.Context, owner string) ([]Task, error) {
	if owner == "" {
		return nil, ErrAuthorization
	}
	ctx, span := a.start(ctx, "tasks.list", owner)
	defer span.End()
	tasks, err := a.store.Find(ctx, owner)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("tasks.count", len(tasks)))
	return tasks, nil
}

// Create persists a new task with server-assigned id and timestamps.
func (a *Authority) Create(ctx context.Context, owner string, f TaskFields) (Task, error) {
	if owner == "" {
		return Task{}, ErrAuthorization
	}
	ctx, span := a.start(ctx, "tasks.create", owner)
	defer span.End()
	if err := f.Validate(true); err != nil {
		recordError(span, err)
		return Task{}, err
	}
	t, err := a.store.Insert(ctx, NewTask(a.newID(), owner, f, a.now()))
	if err != nil {
		recordError(span, err)
		return Task{}, err
	}
	span.SetAttributes(attribute.String("task.id", t.ID))
	a.emit(newTaskEvent(TaskCreated, owner, echoOrigin(ctx), &t, "", a.now()))
	return t, nil
}

// Update applies a partial patch and refreshes UpdatedAt.
func (a *Authority) Update(ctx context.Context, owner, id string, f TaskFields) (Task, error) {
	if owner == "" {
		return Task{}, ErrAuthorization
	}
	ctx, span := a.start(ctx, "tasks.update", owner)
	defer span.End()
	span.SetAttributes(attribute.String("task.id", id))
	if f.Empty() {
		err := &ValidationError{Reason: "update has no fields"}
		recordError(span, err)
		return Task{}, err
	}
	if err := f.Validate(false); err != nil {
		recordError(span, err)
		return Task{}, err
	}
	t, err := a.store.UpdateFields(ctx, owner, id, f, a.now())
	if err != nil {
		recordError(span, err)
		return Task{}, err
	}
	if t == nil {
		err := &NotFoundError{TaskID: id}
		recordError(span, err)
		return Task{}, err
	}
	a.emit(newTaskEvent(TaskUpdated, owner, echoOrigin(ctx), t, "", a.now()))
	return *t, nil
}

// Delete removes the task from the owner's board.
func (a *Authority) Delete(ctx context.Context, owner, id string) (Ack, error) {
	if owner == "" {
		return Ack{}, ErrAuthorization
	}
	ctx, span := a.start(ctx, "tasks.delete", owner)
	defer span.End()
	span.SetAttributes(attribute.String("task.id", id))
	removed, err := a.store.Remove(ctx, owner, id)
	if err != nil {
		recordError(span, err)
		return Ack{}, err
	}
	if !removed {
		err := &NotFoundError{TaskID: id}
		recordError(span, err)
		return Ack{}, err
	}
	a.emit(newTaskEvent(TaskDeleted, owner, echoOrigin(ctx), nil, id, a.now()))
	return Ack{TaskID: id, Message: "Task deleted"}, nil
}

func (a *Authority) emit(ev Event) {
	if a.pub == nil {
		return
	}
	log.WithFields(log.Fields{"type": ev.Type, "task": ev.AffectedID(), "owner": ev.Owner}).Debug("task event committed")
	a.pub.Publish(ev)
}

func (a *Authority) start(ctx context.Context, name, owner string) (context.Context, trace.Span) {
	return a.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("task.owner", owner)))
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, Kind(err))
}
