package domain

import "time"

// Status is the board column a task sits in.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in-progress"
	StatusDone       Status = "done"
)

// Statuses lists the board columns in display order.
var Statuses = []Status{StatusTodo, StatusInProgress, StatusDone}

func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// Priority ranks a task within its column.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Task represents a single board item as stored by the task store.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      Status    `json:"status"`
	Priority    Priority  `json:"priority"`
	Owner       string    `json:"owner"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// TaskFields carries the client-editable subset of a task. Nil fields are
// left untouched when applied.
type TaskFields struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Status      *Status   `json:"status,omitempty"`
	Priority    *Priority `json:"priority,omitempty"`
}

// Empty reports whether no field is set.
func (f TaskFields) Empty() bool {
	return f.Title == nil && f.Description == nil && f.Status == nil && f.Priority == nil
}

// Validate checks the supplied fields. When creating, a non-empty title is
// mandatory.
func (f TaskFields) Validate(creating bool) error {
	if f.Title == nil {
		if creating {
			return &ValidationError{Field: "title", Reason: "is required"}
		}
	} else if *f.Title == "" {
		return &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if f.Status != nil && !f.Status.Valid() {
		return &ValidationError{Field: "status", Reason: "unknown value " + string(*f.Status)}
	}
	if f.Priority != nil && !f.Priority.Valid() {
		return &ValidationError{Field: "priority", Reason: "unknown value " + string(*f.Priority)}
	}
	return nil
}

// ApplyTo copies the set fields onto t.
func (f TaskFields) ApplyTo(t *Task) {
	if f.Title != nil {
		t.Title = *f.Title
	}
	if f.Description != nil {
		t.Description = *f.Description
	}
	if f.Status != nil {
		t.Status = *f.Status
	}
	if f.Priority != nil {
		t.Priority = *f.Priority
	}
}

// NewTask builds a task from creation fields, filling in the column and
// priority defaults.
func NewTask(id, owner string, f TaskFields, now time.Time) Task {
	t := Task{
		ID:        id,
		Owner:     owner,
		Status:    StatusTodo,
		Priority:  PriorityMedium,
		CreatedAt: now,
		UpdatedAt: now,
	}
	f.ApplyTo(&t)
	return t
}

// StatusPatch is the patch issued when a task is dropped onto another column.
func StatusPatch(s Status) TaskFields {
	return TaskFields{Status: &s}
}
