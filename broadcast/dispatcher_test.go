package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"taskpulse/domain"
)

func taskEvent(typ, owner, origin, id string) domain.Event {
	return domain.Event{ID: domain.NewID(), Type: typ, Owner: owner, Origin: origin, TaskID: id, Time: domain.Now().UnixNano()}
}

func next(t *testing.T, s *Session) domain.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := s.Next(ctx)
	if err != nil {
		t.Fatalf("next on %s: %v", s.ID, err)
	}
	return ev
}

func expectEmpty(t *testing.T, s *Session) {
	t.Helper()
	if n := s.Pending(); n != 0 {
		t.Fatalf("expected no events for %s, got %d", s.ID, n)
	}
}

func TestRegisterAndUnregisterAreIdempotent(t *testing.T) {
	d := NewDispatcher()
	a := d.Register("a", "user1")
	if again := d.Register("a", "user1"); again != a {
		t.Fatal("expected the same session on re-register")
	}
	if d.Len() != 1 {
		t.Fatalf("expected one session, got %d", d.Len())
	}

	d.Unregister("a")
	d.Unregister("a")
	d.Unregister("never-registered")
	if d.Len() != 0 {
		t.Fatalf("expected no sessions, got %d", d.Len())
	}
	if _, err := a.Next(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected closed session, got %v", err)
	}

	d.Publish(taskEvent(domain.TaskDeleted, "user1", "", "t1"))
}

func TestPublishSkipsOriginAndOtherOwners(t *testing.T) {
	d := NewDispatcher()
	origin := d.Register("a", "user1")
	peer := d.Register("b", "user1")
	stranger := d.Register("c", "user2")

	d.Publish(taskEvent(domain.TaskDeleted, "user1", "a", "t1"))

	if ev := next(t, peer); ev.TaskID != "t1" || ev.Seq == 0 {
		t.Fatalf("unexpected event %+v", ev)
	}
	expectEmpty(t, origin)
	expectEmpty(t, stranger)
}

func TestGlobalScopeReachesEveryone(t *testing.T) {
	d := NewDispatcher(WithScope(ScopeGlobal))
	a := d.Register("a", "user1")
	c := d.Register("c", "user2")

	d.Publish(taskEvent(domain.TaskDeleted, "user1", "", "t1"))

	next(t, a)
	if ev := next(t, c); ev.TaskID != "t1" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestObserversSeePublishOrder(t *testing.T) {
	d := NewDispatcher(WithQueueSize(1000))
	a := d.Register("a", "user1")
	b := d.Register("b", "user1")

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				d.Publish(taskEvent(domain.TaskDeleted, "user1", "", domain.NewID()))
			}
		}()
	}
	wg.Wait()

	for i := 0; i < 200; i++ {
		ea, eb := next(t, a), next(t, b)
		if ea.ID != eb.ID || ea.Seq != eb.Seq {
			t.Fatalf("observers diverged at %d: %s/%d vs %s/%d", i, ea.ID, ea.Seq, eb.ID, eb.Seq)
		}
		if ea.Seq != uint64(i+1) {
			t.Fatalf("expected seq %d, got %d", i+1, ea.Seq)
		}
	}
}

func TestSlowSessionIsResyncedWithoutBlockingPublish(t *testing.T) {
	d := NewDispatcher(WithQueueSize(4))
	slow := d.Register("slow", "user1")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			d.Publish(taskEvent(domain.TaskDeleted, "user1", "", "t"))
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on slow session")
	}

	ev := next(t, slow)
	if ev.Type != domain.Resync {
		t.Fatalf("expected resync, got %s", ev.Type)
	}
	expectEmpty(t, slow)

	d.Publish(taskEvent(domain.TaskDeleted, "user1", "", "after"))
	if ev := next(t, slow); ev.TaskID != "after" {
		t.Fatalf("expected delivery to resume after resync, got %+v", ev)
	}
}

func TestOverflowDoesNotAffectOtherSessions(t *testing.T) {
	d := NewDispatcher(WithQueueSize(4))
	slow := d.Register("slow", "user1")
	fast := d.Register("fast", "user1")

	for i := 0; i < 10; i++ {
		d.Publish(taskEvent(domain.TaskDeleted, "user1", "", "t"))
		if ev := next(t, fast); ev.Type != domain.TaskDeleted {
			t.Fatalf("unexpected event for fast session %+v", ev)
		}
	}
	if ev := next(t, slow); ev.Type != domain.Resync {
		t.Fatalf("expected resync for slow session, got %s", ev.Type)
	}
}

func TestPresenceJoinAndLeave(t *testing.T) {
	d := NewDispatcher()
	a := d.Register("a", "user1")
	b := d.Register("b", "user2")

	if d.Announce("missing", domain.Presence{UserID: "x"}) {
		t.Fatal("expected announce on unknown session to fail")
	}
	if !d.Announce("a", domain.Presence{UserID: "user1", Name: "Ann"}) {
		t.Fatal("announce failed")
	}
	ev := next(t, b)
	if ev.Type != domain.UserJoined || ev.User == nil || ev.User.Name != "Ann" {
		t.Fatalf("unexpected join event %+v", ev)
	}
	expectEmpty(t, a)

	d.Unregister("a")
	ev = next(t, b)
	if ev.Type != domain.UserLeft || ev.User.UserID != "user1" {
		t.Fatalf("unexpected leave event %+v", ev)
	}
	d.Unregister("a")
	expectEmpty(t, b)
}

func TestParseScope(t *testing.T) {
	if s, err := ParseScope(""); err != nil || s != ScopeOwner {
		t.Fatalf("expected owner default, got %s %v", s, err)
	}
	if s, err := ParseScope("global"); err != nil || s != ScopeGlobal {
		t.Fatalf("expected global, got %s %v", s, err)
	}
	if _, err := ParseScope("team"); err == nil {
		t.Fatal("expected error for unknown scope")
	}
}

func TestForeignOriginCannotSuppressDelivery(t *testing.T) {
	d := NewDispatcher(WithScope(ScopeGlobal))
	victim := d.Register("a", "user1")

	d.Publish(taskEvent(domain.TaskDeleted, "user2", "a", "t1"))

	if ev := next(t, victim); ev.TaskID != "t1" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if d.Announce("a", domain.Presence{UserID: "user2"}) {
		t.Fatal("expected announce for another user's session to fail")
	}
}
