// Package scheduler arms one one-shot timer per active reminder.
//
// Timers are keyed by reminder id in a stable map, so re-scheduling and
// cancellation are explicit operations. A per-id version counter makes
// replaced timers inert: a stale time.AfterFunc callback observes a newer
// version and returns without firing.
package scheduler

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"remindbot/internal/reminder"
	"remindbot/pkg/logx"
)

// FireFunc is invoked once when a reminder's due instant is reached.
// Implementations own delivery and cleanup; errors never propagate back
// into the scheduler and a fire is never retried.
type FireFunc func(ctx context.Context, r reminder.Reminder)

type Service struct {
	log logx.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
	vers   map[string]uint64
	fire   FireFunc
	runCtx context.Context
}

func New(log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:    log,
		timers: map[string]*time.Timer{},
		vers:   map[string]uint64{},
	}
}

// SetFireFunc installs the fire handler. Must be called before Schedule.
func (s *Service) SetFireFunc(fn FireFunc) {
	s.mu.Lock()
	s.fire = fn
	s.mu.Unlock()
}

// Start records the base context passed to fire callbacks.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	s.runCtx = ctx
	s.mu.Unlock()
}

// Schedule arms a timer for r, replacing any existing timer for the same id
// (idempotent upsert). A due instant already in the past is clamped to zero
// delay, so overdue reminders fire immediately once.
func (s *Service) Schedule(r reminder.Reminder) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[r.ID]; ok {
		_ = t.Stop()
		delete(s.timers, r.ID)
	}
	ver := s.vers[r.ID] + 1
	s.vers[r.ID] = ver

	delay := time.Until(r.DueAt)
	if delay < 0 {
		delay = 0
	}

	rem := r
	localVer := ver
	s.timers[r.ID] = time.AfterFunc(delay, func() {
		s.onTimer(rem, localVer)
	})

	s.log.Debug("timer armed",
		logx.String("id", r.ID),
		logx.Time("due_at", r.DueAt),
		logx.Duration("delay", delay))
}

// Cancel disarms the timer for id. No-op when absent.
// The version counter is bumped rather than deleted: a callback already
// queued before the cancel observes the newer version and stays inert, and
// a later Schedule of the same id can never reuse a version such a callback
// still holds.
func (s *Service) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.timers[id]
	if !ok {
		return false
	}
	_ = t.Stop()
	delete(s.timers, id)
	s.vers[id]++
	s.log.Debug("timer cancelled", logx.String("id", id))
	return true
}

// Armed reports whether a timer is currently armed for id.
func (s *Service) Armed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[id]
	return ok
}

// Len returns the number of armed timers.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop disarms every timer. In-flight fire callbacks are not waited for;
// they are already detached from scheduler state.
func (s *Service) Stop(ctx context.Context) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		_ = t.Stop()
		delete(s.timers, id)
		delete(s.vers, id)
	}
	s.log.Debug("all timers disarmed")
}

func (s *Service) onTimer(r reminder.Reminder, ver uint64) {
	s.mu.Lock()
	if s.vers[r.ID] != ver {
		// Replaced or cancelled after this callback was queued.
		s.mu.Unlock()
		return
	}
	delete(s.timers, r.ID)
	delete(s.vers, r.ID)
	fire := s.fire
	ctx := s.runCtx
	s.mu.Unlock()

	if fire == nil {
		s.log.Warn("timer fired with no handler installed", logx.String("id", r.ID))
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	// A panicking fire handler must not take the process down with it.
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("panic in fire handler",
				logx.String("id", r.ID),
				logx.Any("panic", rec),
				logx.String("stack", string(debug.Stack())))
		}
	}()
	fire(ctx, r)
}
