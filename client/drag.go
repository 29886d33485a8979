package client

import (
	"sync"

	"taskpulse/domain"
)

// DragState is the state of a drag session.
type DragState int

const (
	DragIdle DragState = iota
	DragDragging
)

func (s DragState) String() string {
	if s == DragDragging {
		return "dragging"
	}
	return "idle"
}

// Mover is what a drag session needs from the board.
type Mover interface {
	Get(id string) (domain.Task, bool)
	MoveTask(id string, to domain.Status) error
}

// Drag is the drag/drop state machine for one board. It is purely local
// until a task is dropped onto a different column.
type Drag struct {
	mu     sync.Mutex
	board  Mover
	state  DragState
	taskID string
}

func NewDrag(board Mover) *Drag {
	return &Drag{board: board}
}

// Start picks up a task. Starting again replaces the dragged task.
func (d *Drag) Start(taskID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = DragDragging
	d.taskID = taskID
}

// Drop releases the dragged task over column. A move is issued only when the
// column is valid and differs from the task's current status; the session is
// idle again on return either way. It reports whether a move was issued.
func (d *Drag) Drop(column domain.Status) (bool, error) {
	d.mu.Lock()
	id, dragging := d.taskID, d.state == DragDragging
	d.state, d.taskID = DragIdle, ""
	d.mu.Unlock()

	if !dragging || !column.Valid() {
		return false, nil
	}
	t, ok := d.board.Get(id)
	if !ok || t.Status == column {
		return false, nil
	}
	if err := d.board.MoveTask(id, column); err != nil {
		return false, err
	}
	return true, nil
}

// End finishes the drag without a mutation, as when the task is released
// outside any column or the drag is cancelled.
func (d *Drag) End() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state, d.taskID = DragIdle, ""
}

func (d *Drag) State() DragState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Dragging returns the id of the task being dragged.
func (d *Drag) Dragging() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.taskID, d.state == DragDragging
}
