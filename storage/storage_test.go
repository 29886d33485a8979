package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"

	"taskpulse/domain"
)

func TestDecodeTaskEntity(t *testing.T) {
	data := []byte(`{"PartitionKey":"u1","RowKey":"t1","Timestamp":"2024-01-01T00:00:00Z","Title":"Draft roadmap","Description":"","Status":"in-progress","Priority":"high","CreatedAt@odata.type":"Edm.Int64","CreatedAt":"1700000000000000000","UpdatedAt@odata.type":"Edm.Int64","UpdatedAt":"1700000000000000500"}`)
	task, err := decodeTaskEntity(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if task.ID != "t1" || task.Owner != "u1" || task.Title != "Draft roadmap" {
		t.Fatalf("unexpected task: %+v", task)
	}
	if task.Status != domain.StatusInProgress || task.Priority != domain.PriorityHigh {
		t.Fatalf("unexpected enums: %s/%s", task.Status, task.Priority)
	}
	if task.UpdatedAt.Sub(task.CreatedAt) != 500*time.Nanosecond {
		t.Fatalf("expected nanosecond precision, got %v", task.UpdatedAt.Sub(task.CreatedAt))
	}
}

func TestTaskEntityRoundTrip(t *testing.T) {
	now := time.Unix(0, 1700000000123456789).UTC()
	in := domain.Task{ID: "t1", Owner: "u1", Title: "x", Status: domain.StatusDone, Priority: domain.PriorityLow, CreatedAt: now, UpdatedAt: now.Add(time.Nanosecond)}

	payload, err := sonic.Marshal(toEntity(in))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(payload), `"UpdatedAt@odata.type":"Edm.Int64"`) {
		t.Fatalf("missing odata type in %s", payload)
	}
	out, err := decodeTaskEntity(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", out, in)
	}
}

func TestSortByCreation(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tasks := []domain.Task{
		{ID: "f3", CreatedAt: at.Add(2 * time.Second)},
		{ID: "0a", CreatedAt: at.Add(time.Second)},
		{ID: "c2", CreatedAt: at},
		{ID: "b1", CreatedAt: at},
	}
	sortByCreation(tasks)
	var ids []string
	for _, task := range tasks {
		ids = append(ids, task.ID)
	}
	if got := strings.Join(ids, ","); got != "b1,c2,0a,f3" {
		t.Fatalf("unexpected order %s", got)
	}
}

func TestOwnerFilterEscapesQuotes(t *testing.T) {
	if got := ownerFilter("o'brien"); got != "PartitionKey eq 'o''brien'" {
		t.Fatalf("unexpected filter %q", got)
	}
}

func TestNextUpdatedAt(t *testing.T) {
	prev := time.Unix(100, 0)
	if got := nextUpdatedAt(prev, prev.Add(time.Second)); !got.Equal(prev.Add(time.Second)) {
		t.Fatalf("expected later time to win, got %v", got)
	}
	if got := nextUpdatedAt(prev, prev); !got.After(prev) {
		t.Fatalf("expected strictly later time, got %v", got)
	}
	if got := nextUpdatedAt(prev, prev.Add(-time.Hour)); !got.After(prev) {
		t.Fatalf("expected clock skew to be absorbed, got %v", got)
	}
}

func TestEncodeQueueMessage(t *testing.T) {
	msg, err := encodeQueueMessage(domain.Event{ID: "e1", Type: domain.TaskDeleted, Owner: "u1", TaskID: "t1", Time: 42})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	for _, want := range []string{`"eventId":"e1"`, `"type":"task:deleted"`, `"taskId":"t1"`, `"owner":"u1"`} {
		if !strings.Contains(msg, want) {
			t.Fatalf("expected %s in %s", want, msg)
		}
	}
	if strings.Contains(msg, `"task":`) {
		t.Fatalf("delete message must not carry a task: %s", msg)
	}
}
