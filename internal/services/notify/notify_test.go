package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"remindbot/internal/reminder"
	kit "remindbot/internal/transport"
	"remindbot/pkg/logx"
)

type fakeAdapter struct {
	mu      sync.Mutex
	sent    []kit.Notification
	sendErr error
	ch      chan struct{}
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{ch: make(chan struct{}, 32)}
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		f.ch <- struct{}{}
		return kit.MessageRef{}, f.sendErr
	}
	f.sent = append(f.sent, kit.Notification{Target: to, Text: text, Options: opt})
	f.ch <- struct{}{}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) wait(t *testing.T) {
	t.Helper()
	select {
	case <-f.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for send")
	}
}

func (f *fakeAdapter) snapshot() []kit.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]kit.Notification, len(f.sent))
	copy(out, f.sent)
	return out
}

func TestFireMessage(t *testing.T) {
	t.Parallel()
	r := reminder.Reminder{
		ID:       "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		ChatID:   7,
		DueAt:    time.Now(),
		Task:     "Finish the report",
		Priority: reminder.PriorityHigh,
	}
	got := FireMessage(r)
	want := "⏰ Reminder! Task: *Finish the report*\nPriority: *HIGH*\nID: 01ARZ3NDEKTSV4RRFFQ69G5FAV"
	if got != want {
		t.Fatalf("FireMessage = %q, want %q", got, want)
	}
}

func TestNotifyDelivers(t *testing.T) {
	t.Parallel()
	ad := newFakeAdapter()
	s := New(Config{Workers: 1, QueueSize: 8, RatePerSec: 100}, ad, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	r := reminder.Reminder{ID: "x", ChatID: 42, DueAt: time.Now(), Task: "t", Priority: reminder.PriorityLow}
	s.NotifyFire(r)
	ad.wait(t)

	sent := ad.snapshot()
	if len(sent) != 1 {
		t.Fatalf("sent = %d messages, want 1", len(sent))
	}
	if sent[0].Target.ChatID != 42 {
		t.Fatalf("target chat = %d, want 42", sent[0].Target.ChatID)
	}
	if !strings.Contains(sent[0].Text, "ID: x") {
		t.Fatalf("text = %q, want fire template with id", sent[0].Text)
	}
}

func TestNotifyWhenStopped(t *testing.T) {
	t.Parallel()
	ad := newFakeAdapter()
	s := New(Config{}, ad, logx.Nop())

	err := s.Notify(kit.Notification{Target: kit.ChatTarget{ChatID: 1}, Text: "x"})
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("Notify before start: err = %v, want ErrStopped", err)
	}

	s.Start(context.Background())
	s.Stop(context.Background())
	err = s.Notify(kit.Notification{Target: kit.ChatTarget{ChatID: 1}, Text: "x"})
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("Notify after stop: err = %v, want ErrStopped", err)
	}
}

func TestNotifyQueueFull(t *testing.T) {
	t.Parallel()
	ad := newFakeAdapter()
	// Rate 1/s keeps the single worker busy so the tiny queue saturates.
	s := New(Config{Workers: 1, QueueSize: 1, RatePerSec: 1}, ad, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	var full bool
	for i := 0; i < 50; i++ {
		if err := s.Notify(kit.Notification{Target: kit.ChatTarget{ChatID: 1}, Text: "x"}); errors.Is(err, ErrQueueFull) {
			full = true
			break
		}
	}
	if !full {
		t.Fatal("expected ErrQueueFull once the queue saturates")
	}
}

func TestApplyConcurrentWithDelivery(t *testing.T) {
	t.Parallel()
	ad := newFakeAdapter()
	s := New(Config{Workers: 2, QueueSize: 64, RatePerSec: 100}, ad, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	// Reload settings while workers are draining; the workers must always
	// see a consistent limiter.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			s.Apply(Config{Workers: 2, QueueSize: 64, RatePerSec: 50 + i})
		}
	}()

	r := reminder.Reminder{ID: "x", ChatID: 1, DueAt: time.Now(), Task: "t", Priority: reminder.PriorityLow}
	for i := 0; i < 20; i++ {
		s.NotifyFire(r)
	}
	for i := 0; i < 20; i++ {
		ad.wait(t)
	}
	<-done
}

func TestApplyUpdatesRateLimit(t *testing.T) {
	t.Parallel()
	s := New(Config{RatePerSec: 1}, newFakeAdapter(), logx.Nop())

	s.Apply(Config{RatePerSec: 50})

	s.mu.Lock()
	limit := s.limiter.Limit()
	s.mu.Unlock()
	if limit != 50 {
		t.Fatalf("limiter rate = %v after Apply, want 50", limit)
	}
}

func TestSendFailureIsDropped(t *testing.T) {
	t.Parallel()
	ad := newFakeAdapter()
	ad.sendErr = errors.New("telegram unavailable")
	s := New(Config{Workers: 1, QueueSize: 8, RatePerSec: 100}, ad, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	s.NotifyFire(reminder.Reminder{ID: "x", ChatID: 1, DueAt: time.Now(), Task: "t", Priority: reminder.PriorityLow})
	ad.wait(t)

	// Worker must survive the failure and keep draining.
	ad.mu.Lock()
	ad.sendErr = nil
	ad.mu.Unlock()
	s.NotifyFire(reminder.Reminder{ID: "y", ChatID: 1, DueAt: time.Now(), Task: "t", Priority: reminder.PriorityLow})
	ad.wait(t)

	sent := ad.snapshot()
	if len(sent) != 1 || !strings.Contains(sent[0].Text, "ID: y") {
		t.Fatalf("sent = %+v, want only the second notification delivered", sent)
	}
}
