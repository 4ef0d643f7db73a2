package reminder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"remindbot/pkg/logx"
)

// Store is the durable persistence surface the service drives.
// Save rewrites the full collection; there are no partial writes.
type Store interface {
	Load(ctx context.Context) ([]Reminder, error)
	Save(ctx context.Context, all []Reminder) error
}

// TimerScheduler arms and disarms one-shot timers keyed by reminder id.
type TimerScheduler interface {
	Schedule(r Reminder)
	Cancel(id string) bool
}

// Notifier delivers the fire-time message. Enqueue-only: delivery failures
// stay inside the notifier and are never reported back here.
type Notifier interface {
	NotifyFire(r Reminder)
}

// Service owns the Registry+Store pair and is the single writer for it.
// Every mutation happens under one mutex: mutate the Registry, rewrite the
// full persisted collection, and only then consider the mutation committed.
// On a save failure the in-memory change is rolled back so memory and disk
// never drift apart.
type Service struct {
	mu    sync.Mutex
	reg   *Registry
	store Store
	sched TimerScheduler
	notif Notifier
	log   logx.Logger
}

func NewService(store Store, sched TimerScheduler, notif Notifier, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		reg:   NewRegistry(),
		store: store,
		sched: sched,
		notif: notif,
		log:   log,
	}
}

// Create validates inputs, constructs a reminder, commits it to the registry
// and store, and arms its timer. The reminder is returned only after the
// persisted state includes it.
func (s *Service) Create(ctx context.Context, chatID int64, dueAt time.Time, task, priority string) (Reminder, error) {
	rem, err := New(chatID, dueAt, task, priority)
	if err != nil {
		return Reminder{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reg.Add(rem); err != nil {
		return Reminder{}, err
	}
	if err := s.store.Save(ctx, s.reg.All()); err != nil {
		_, _ = s.reg.Remove(rem.ID)
		return Reminder{}, fmt.Errorf("persist reminder: %w", err)
	}
	s.sched.Schedule(rem)

	s.log.Info("reminder created",
		logx.String("id", rem.ID),
		logx.Int64("chat_id", rem.ChatID),
		logx.Time("due_at", rem.DueAt),
		logx.String("priority", string(rem.Priority)))
	return rem, nil
}

// Complete removes the reminder with the given id from registry and store and
// disarms its timer. ErrNotFound is returned for unknown ids; the collection
// is left unchanged in that case.
func (s *Service) Complete(ctx context.Context, id string) (Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rem, err := s.reg.Remove(id)
	if err != nil {
		return Reminder{}, err
	}
	if err := s.store.Save(ctx, s.reg.All()); err != nil {
		// Restore: the removal did not commit.
		_ = s.reg.Add(rem)
		return Reminder{}, fmt.Errorf("persist completion: %w", err)
	}
	s.sched.Cancel(id)

	s.log.Info("reminder completed", logx.String("id", rem.ID), logx.Int64("chat_id", rem.ChatID))
	return rem, nil
}

// List returns a snapshot of active reminders in creation order.
func (s *Service) List() []Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reg.All()
}

// Find looks up a single reminder by id.
func (s *Service) Find(id string) (Reminder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reg.Find(id)
}

// Restore loads the persisted collection into the registry and re-arms one
// timer per reminder. Reminders already past due fire immediately once
// (scheduler clamps negative delays); see HandleFire for the cleanup that
// keeps restarts from re-firing them again.
func (s *Service) Restore(ctx context.Context) (int, error) {
	all, err := s.store.Load(ctx)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rem := range all {
		if err := s.reg.Add(rem); err != nil {
			// Corrupt-but-parseable state; keep the first occurrence.
			s.log.Warn("skipping duplicate persisted reminder", logx.String("id", rem.ID))
			continue
		}
		s.sched.Schedule(rem)
	}
	n := s.reg.Len()
	if n > 0 {
		s.log.Info("reminders restored", logx.Int("count", n))
	}
	return n, nil
}

// HandleFire runs when a reminder's timer fires: hand the notification to the
// notifier, then retire the reminder from registry and store so a restart
// cannot re-arm it. The fire itself is never retried.
func (s *Service) HandleFire(ctx context.Context, rem Reminder) {
	s.notif.NotifyFire(rem)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.reg.Remove(rem.ID); err != nil {
		// Completed concurrently with the fire; nothing left to do.
		return
	}
	if err := s.store.Save(ctx, s.reg.All()); err != nil {
		// Keep registry and store in agreement: the reminder stays until the
		// next successful save, or re-fires once after a restart.
		_ = s.reg.Add(rem)
		s.log.Error("persist after fire failed", logx.String("id", rem.ID), logx.Err(err))
		return
	}
	s.log.Debug("reminder fired and retired", logx.String("id", rem.ID))
}
