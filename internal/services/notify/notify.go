// Package notify delivers outbound messages through the chat transport.
//
// Delivery is fire-and-forget: a bounded queue feeds a small worker pool
// behind a rate limiter. Send failures are logged and dropped, never
// retried and never surfaced to a user-facing channel.
package notify

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"golang.org/x/time/rate"

	"remindbot/internal/reminder"
	kit "remindbot/internal/transport"
	"remindbot/pkg/logx"
)

var (
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

type Config struct {
	Workers    int
	QueueSize  int
	RatePerSec int
}

type Service struct {
	mu sync.Mutex

	log     logx.Logger
	adapter kit.Adapter

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	queue     chan kit.Notification

	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup
}

func New(cfg Config, adapter kit.Adapter, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{adapter: adapter, log: log}
	s.applyLocked(cfg)
	return s
}

// Apply adopts new settings. The rate limit takes effect immediately;
// worker count and queue capacity of a running pool are fixed until the
// next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.queue != nil {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan kit.Notification, s.cfg.QueueSize)
	s.accepting = true
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	workers := s.cfg.Workers
	queue := s.queue
	runCtx := s.runCtx
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		idx := i
		s.workerWG.Add(1)
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in notifier worker",
						logx.Int("worker", idx),
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())))
				}
			}()
			s.workerLoop(runCtx, queue, idx)
		}()
	}
	s.log.Info("notifier started", logx.Int("workers", workers), logx.Int("queue_cap", cap(queue)))
}

// Stop blocks intake and waits for workers, best-effort until ctx deadline.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.queue == nil {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	cancel := s.runCancel
	s.queue = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("notifier stopped")
	case <-ctx.Done():
		s.log.Warn("notifier stop cancelled", logx.Err(ctx.Err()))
	}
}

// Notify enqueues a notification for asynchronous delivery.
func (s *Service) Notify(n kit.Notification) error {
	s.mu.Lock()
	queue := s.queue
	accepting := s.accepting
	s.mu.Unlock()

	if queue == nil || !accepting {
		return ErrStopped
	}
	select {
	case queue <- n:
		return nil
	default:
		return ErrQueueFull
	}
}

// NotifyFire formats the fire-time reminder message and enqueues it.
// Implements the engine's Notifier port.
func (s *Service) NotifyFire(r reminder.Reminder) {
	n := kit.Notification{
		Target:  kit.ChatTarget{ChatID: r.ChatID},
		Text:    FireMessage(r),
		Options: &kit.SendOptions{DisablePreview: true},
	}
	if err := s.Notify(n); err != nil {
		s.log.Warn("fire notification dropped",
			logx.String("id", r.ID),
			logx.Int64("chat_id", r.ChatID),
			logx.Err(err))
	}
}

// FireMessage is the fixed fire-time template: task text, uppercased
// priority and the task id, addressed to the reminder's chat.
func FireMessage(r reminder.Reminder) string {
	return fmt.Sprintf("⏰ Reminder! Task: *%s*\nPriority: *%s*\nID: %s",
		r.Task, r.Priority.Display(), r.ID)
}

func (s *Service) workerLoop(ctx context.Context, queue <-chan kit.Notification, idx int) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-queue:
			if !ok {
				return
			}
			// Snapshot the limiter: Apply replaces it under the mutex.
			s.mu.Lock()
			lim := s.limiter
			s.mu.Unlock()
			if err := lim.Wait(ctx); err != nil {
				return
			}
			if _, err := s.adapter.SendText(ctx, n.Target, n.Text, n.Options); err != nil {
				s.log.Warn("notification send failed",
					logx.Int("worker", idx),
					logx.Int64("chat_id", n.Target.ChatID),
					logx.Err(err))
				continue
			}
			s.log.Debug("notification sent", logx.Int64("chat_id", n.Target.ChatID))
		}
	}
}
