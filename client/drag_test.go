package client

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskpulse/domain"
)

type move struct {
	id string
	to domain.Status
}

type fakeMover struct {
	tasks map[string]domain.Task
	moves []move
	err   error
}

func (f *fakeMover) Get(id string) (domain.Task, bool) {
	t, ok := f.tasks[id]
	return t, ok
}

func (f *fakeMover) MoveTask(id string, to domain.Status) error {
	if f.err != nil {
		return f.err
	}
	f.moves = append(f.moves, move{id, to})
	return nil
}

func newFakeMover() *fakeMover {
	return &fakeMover{tasks: map[string]domain.Task{
		"t1": {ID: "t1", Title: "a", Status: domain.StatusTodo},
	}}
}

func TestDropOnOtherColumnIssuesOneMove(t *testing.T) {
	m := newFakeMover()
	d := NewDrag(m)

	d.Start("t1")
	assert.Equal(t, DragDragging, d.State())
	id, ok := d.Dragging()
	assert.True(t, ok)
	assert.Equal(t, "t1", id)
	assert.Empty(t, m.moves, "starting a drag is local")

	moved, err := d.Drop(domain.StatusDone)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, []move{{"t1", domain.StatusDone}}, m.moves)
	assert.Equal(t, DragIdle, d.State())
}

func TestDropWithoutMove(t *testing.T) {
	tests := []struct {
		name string
		run  func(d *Drag) (bool, error)
	}{
		{name: "same column", run: func(d *Drag) (bool, error) {
			d.Start("t1")
			return d.Drop(domain.StatusTodo)
		}},
		{name: "not dragging", run: func(d *Drag) (bool, error) {
			return d.Drop(domain.StatusDone)
		}},
		{name: "ended before drop", run: func(d *Drag) (bool, error) {
			d.Start("t1")
			d.End()
			return d.Drop(domain.StatusDone)
		}},
		{name: "outside any column", run: func(d *Drag) (bool, error) {
			d.Start("t1")
			return d.Drop(domain.Status("archive"))
		}},
		{name: "task vanished", run: func(d *Drag) (bool, error) {
			d.Start("gone")
			return d.Drop(domain.StatusDone)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newFakeMover()
			d := NewDrag(m)
			moved, err := tt.run(d)
			require.NoError(t, err)
			assert.False(t, moved)
			assert.Empty(t, m.moves)
			assert.Equal(t, DragIdle, d.State())
		})
	}
}

func TestDropReturnsMoveErrorAndIdles(t *testing.T) {
	m := newFakeMover()
	m.err = errors.New("not signed in")
	d := NewDrag(m)

	d.Start("t1")
	moved, err := d.Drop(domain.StatusInProgress)
	assert.Error(t, err)
	assert.False(t, moved)
	assert.Equal(t, DragIdle, d.State())
}
