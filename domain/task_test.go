package domain

import (
	"errors"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
)

func TestTaskMarshalUsesWireNames(t *testing.T) {
	task := Task{ID: "t1", Title: "Title", Status: StatusInProgress, Priority: PriorityLow}

	payload, err := sonic.Marshal(task)
	if err != nil {
		t.Fatalf("marshal task: %v", err)
	}

	for _, want := range []string{`"id":"t1"`, `"status":"in-progress"`, `"priority":"low"`, `"description":""`, `"updatedAt"`} {
		if !strings.Contains(string(payload), want) {
			t.Fatalf("expected %s in %s", want, payload)
		}
	}
}

func TestTaskFieldsDecodeLeavesMissingNil(t *testing.T) {
	var f TaskFields
	if err := sonic.Unmarshal([]byte(`{"status":"done"}`), &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if f.Status == nil || *f.Status != StatusDone {
		t.Fatalf("expected status done, got %v", f.Status)
	}
	if f.Title != nil || f.Description != nil || f.Priority != nil {
		t.Fatalf("expected other fields nil: %+v", f)
	}
}

func TestNowIsStrictlyIncreasing(t *testing.T) {
	prev := Now()
	for i := 0; i < 1000; i++ {
		next := Now()
		if !next.After(prev) {
			t.Fatalf("clock went backwards or stalled: %v then %v", prev, next)
		}
		prev = next
	}
}

func TestErrorKindsRoundTrip(t *testing.T) {
	cases := []struct {
		err  error
		kind string
	}{
		{&ValidationError{Field: "title", Reason: "must not be empty"}, "validation"},
		{&NotFoundError{TaskID: "t1"}, "not_found"},
		{ErrAuthorization, "authorization"},
		{ErrTransport, "transport"},
		{errors.New("boom"), "internal"},
	}
	for _, tc := range cases {
		if got := Kind(tc.err); got != tc.kind {
			t.Fatalf("Kind(%v) = %s, want %s", tc.err, got, tc.kind)
		}
		if tc.kind == "internal" {
			continue
		}
		if got := Kind(ErrorFromKind(tc.kind, tc.err.Error())); got != tc.kind {
			t.Fatalf("round trip of %s produced %s", tc.kind, got)
		}
	}
}
