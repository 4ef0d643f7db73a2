package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"remindbot/internal/reminder"
	"remindbot/pkg/logx"
)

type fireRecorder struct {
	mu    sync.Mutex
	fired []string
	ch    chan string
}

func newFireRecorder() *fireRecorder {
	return &fireRecorder{ch: make(chan string, 16)}
}

func (f *fireRecorder) fire(_ context.Context, r reminder.Reminder) {
	f.mu.Lock()
	f.fired = append(f.fired, r.ID)
	f.mu.Unlock()
	f.ch <- r.ID
}

func (f *fireRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fired)
}

func (f *fireRecorder) wait(t *testing.T) string {
	t.Helper()
	select {
	case id := <-f.ch:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fire")
		return ""
	}
}

func due(id string, in time.Duration) reminder.Reminder {
	return reminder.Reminder{
		ID:       id,
		ChatID:   1,
		DueAt:    time.Now().Add(in),
		Task:     "t",
		Priority: reminder.PriorityLow,
	}
}

func TestScheduleFiresOnce(t *testing.T) {
	t.Parallel()
	rec := newFireRecorder()
	s := New(logx.Nop())
	s.SetFireFunc(rec.fire)
	s.Start(context.Background())

	s.Schedule(due("a", 20*time.Millisecond))
	if id := rec.wait(t); id != "a" {
		t.Fatalf("fired id = %s, want a", id)
	}
	if s.Armed("a") {
		t.Fatal("timer still armed after fire")
	}

	time.Sleep(50 * time.Millisecond)
	if n := rec.count(); n != 1 {
		t.Fatalf("fire count = %d, want 1", n)
	}
}

func TestScheduleIsIdempotentUpsert(t *testing.T) {
	t.Parallel()
	rec := newFireRecorder()
	s := New(logx.Nop())
	s.SetFireFunc(rec.fire)
	s.Start(context.Background())

	// Re-scheduling the same id replaces the pending timer; only the
	// latest schedule may fire.
	s.Schedule(due("a", time.Hour))
	s.Schedule(due("a", 20*time.Millisecond))
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1 after re-schedule", s.Len())
	}

	rec.wait(t)
	time.Sleep(50 * time.Millisecond)
	if n := rec.count(); n != 1 {
		t.Fatalf("fire count = %d, want exactly 1", n)
	}
}

func TestSchedulePastDueFiresImmediately(t *testing.T) {
	t.Parallel()
	rec := newFireRecorder()
	s := New(logx.Nop())
	s.SetFireFunc(rec.fire)
	s.Start(context.Background())

	s.Schedule(due("overdue", -time.Hour))
	if id := rec.wait(t); id != "overdue" {
		t.Fatalf("fired id = %s, want overdue", id)
	}
}

func TestCancelDisarms(t *testing.T) {
	t.Parallel()
	rec := newFireRecorder()
	s := New(logx.Nop())
	s.SetFireFunc(rec.fire)
	s.Start(context.Background())

	s.Schedule(due("a", 30*time.Millisecond))
	if !s.Cancel("a") {
		t.Fatal("Cancel = false, want true for armed timer")
	}
	if s.Cancel("a") {
		t.Fatal("Cancel = true for already-cancelled timer")
	}

	time.Sleep(80 * time.Millisecond)
	if n := rec.count(); n != 0 {
		t.Fatalf("fire count = %d after cancel, want 0", n)
	}
}

func TestRescheduleAfterCancelAdvancesVersion(t *testing.T) {
	t.Parallel()
	rec := newFireRecorder()
	s := New(logx.Nop())
	s.SetFireFunc(rec.fire)
	s.Start(context.Background())

	s.Schedule(due("a", time.Hour))
	s.mu.Lock()
	before := s.vers["a"]
	s.mu.Unlock()

	s.Cancel("a")
	s.Schedule(due("a", time.Hour))

	// A callback queued before the cancel holds the old version; the new
	// timer must never be reachable with it.
	s.mu.Lock()
	after := s.vers["a"]
	s.mu.Unlock()
	if after <= before {
		t.Fatalf("version after cancel+reschedule = %d, want > %d", after, before)
	}

	s.Stop(context.Background())
}

func TestStopDisarmsAll(t *testing.T) {
	t.Parallel()
	rec := newFireRecorder()
	s := New(logx.Nop())
	s.SetFireFunc(rec.fire)
	s.Start(context.Background())

	s.Schedule(due("a", 30*time.Millisecond))
	s.Schedule(due("b", 30*time.Millisecond))
	s.Stop(context.Background())
	if s.Len() != 0 {
		t.Fatalf("Len = %d after Stop, want 0", s.Len())
	}

	time.Sleep(80 * time.Millisecond)
	if n := rec.count(); n != 0 {
		t.Fatalf("fire count = %d after Stop, want 0", n)
	}
}

func TestPanickingHandlerIsContained(t *testing.T) {
	t.Parallel()
	s := New(logx.Nop())
	fired := make(chan struct{}, 1)
	s.SetFireFunc(func(context.Context, reminder.Reminder) {
		fired <- struct{}{}
		panic("boom")
	})
	s.Start(context.Background())

	s.Schedule(due("a", 10*time.Millisecond))
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fire")
	}
	// Give the deferred recover a moment; the test binary must survive.
	time.Sleep(30 * time.Millisecond)
}
