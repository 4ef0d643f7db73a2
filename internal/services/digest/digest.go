// Package digest sends each chat a daily summary of its pending reminders.
package digest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"remindbot/internal/reminder"
	kit "remindbot/internal/transport"
	"remindbot/pkg/logx"
)

type Config struct {
	Enabled  bool
	At       string // "HH:MM", local to Timezone
	Timezone string // IANA TZ; empty means system local
}

// Lister exposes the reminder snapshot the digest reads.
type Lister interface {
	List() []reminder.Reminder
}

// Sender is the outbound side; the notifier satisfies it.
type Sender interface {
	Notify(n kit.Notification) error
}

type Service struct {
	log    logx.Logger
	lister Lister
	sender Sender

	mu  sync.Mutex
	cfg Config
	c   *cron.Cron
}

func New(cfg Config, lister Lister, sender Sender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{log: log, lister: lister, sender: sender, cfg: cfg}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked()
}

func (s *Service) startLocked() error {
	if !s.cfg.Enabled {
		return nil
	}
	h, m, err := parseHHMM(s.cfg.At)
	if err != nil {
		return fmt.Errorf("digest.at: %w", err)
	}

	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("digest.timezone: %w", err)
		}
	}

	c := cron.New(cron.WithLocation(loc))
	spec := fmt.Sprintf("%d %d * * *", m, h)
	if _, err := c.AddFunc(spec, s.run); err != nil {
		return fmt.Errorf("register digest job: %w", err)
	}
	c.Start()
	s.c = c
	s.log.Info("digest scheduled", logx.String("at", s.cfg.At), logx.String("tz", loc.String()))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
}

// Apply restarts the job when the digest settings change.
func (s *Service) Apply(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	running := s.c != nil
	if cfg == s.cfg && running == cfg.Enabled {
		return nil
	}
	if s.c != nil {
		<-s.c.Stop().Done()
		s.c = nil
	}
	s.cfg = cfg
	return s.startLocked()
}

func (s *Service) run() {
	byChat := map[int64][]reminder.Reminder{}
	var order []int64
	for _, r := range s.lister.List() {
		if _, seen := byChat[r.ChatID]; !seen {
			order = append(order, r.ChatID)
		}
		byChat[r.ChatID] = append(byChat[r.ChatID], r)
	}

	for _, chatID := range order {
		text := Render(byChat[chatID])
		err := s.sender.Notify(kit.Notification{
			Target:  kit.ChatTarget{ChatID: chatID},
			Text:    text,
			Options: &kit.SendOptions{DisablePreview: true},
		})
		if err != nil {
			s.log.Warn("digest dropped", logx.Int64("chat_id", chatID), logx.Err(err))
		}
	}
	if len(order) > 0 {
		s.log.Info("digest sent", logx.Int("chats", len(order)))
	}
}

// Render formats one chat's digest message.
func Render(rems []reminder.Reminder) string {
	var b strings.Builder
	fmt.Fprintf(&b, "☀️ You have %d pending reminder(s):\n", len(rems))
	for i, r := range rems {
		fmt.Fprintf(&b, "%d. %s — %s [%s]\n", i+1, r.DueAt.Format("2006-01-02 15:04"), r.Task, r.Priority.Display())
	}
	return strings.TrimRight(b.String(), "\n")
}

func parseHHMM(s string) (h, m int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	return t.Hour(), t.Minute(), nil
}
