package domain

import "time"

const (
	TaskCreated = "task:created"
	TaskUpdated = "task:updated"
	TaskDeleted = "task:deleted"
	UserJoined  = "user:joined"
	UserLeft    = "user:left"
	// Resync tells a session that events were dropped and the collection must
	// be refetched.
	Resync = "sync:resync"
)

// Presence is the minimal profile announced by a connected user.
type Presence struct {
	UserID string `json:"id"`
	Name   string `json:"name"`
}

// Event is a change notification fanned out to connected sessions.
type Event struct {
	ID       string    `json:"id"`
	Seq      uint64    `json:"seq,omitempty"`
	Type     string    `json:"type"`
	Owner    string    `json:"owner"`
	Origin   string    `json:"origin,omitempty"`
	Instance string    `json:"instance,omitempty"`
	Task     *Task     `json:"task,omitempty"`
	TaskID   string    `json:"taskId,omitempty"`
	User     *Presence `json:"user,omitempty"`
	Time     int64     `json:"time"`
}

// IsTaskEvent reports whether the event describes a task mutation.
func (e Event) IsTaskEvent() bool {
	switch e.Type {
	case TaskCreated, TaskUpdated, TaskDeleted:
		return true
	}
	return false
}

// AffectedID returns the id of the task the event is about.
func (e Event) AffectedID() string {
	if e.TaskID != "" {
		return e.TaskID
	}
	if e.Task != nil {
		return e.Task.ID
	}
	return ""
}

// Payload returns the value sent to clients for this event: the full task for
// creations and updates, the bare id for deletions, the profile for presence.
func (e Event) Payload() any {
	switch e.Type {
	case TaskCreated, TaskUpdated:
		return e.Task
	case TaskDeleted:
		return e.TaskID
	case UserJoined, UserLeft:
		return e.User
	}
	return struct{}{}
}

func newTaskEvent(typ, owner, origin string, t *Task, id string, now time.Time) Event {
	return Event{
		ID:     NewID(),
		Type:   typ,
		Owner:  owner,
		Origin: origin,
		Task:   t,
		TaskID: id,
		Time:   now.UnixNano(),
	}
}
