package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"remindbot/internal/adapters/telegram"
	"remindbot/internal/reminder"
	"remindbot/internal/services/digest"
	"remindbot/internal/services/notify"
	"remindbot/internal/services/scheduler"
	"remindbot/internal/storage"
	kit "remindbot/internal/transport"
	"remindbot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *ConfigManager
	sup  *Supervisor

	log  logx.Logger
	logs *logx.Service

	adapter kit.Adapter
	store   storage.Store

	svc    *reminder.Service
	sched  *scheduler.Service
	notif  *notify.Service
	digest *digest.Service

	proc *Processor

	updates chan kit.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram"))

	pollTimeout, err := parseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logxConfig(cfg.Logging), ad)
	log = log.With(logx.String("comp", "app"))

	// Operator log target (chat id).
	if chatID := parseChatID(cfg.Telegram.GroupLog); chatID != 0 {
		logSvc.SetChatTarget(chatID)
	}

	storeCfg, err := storageConfig(cfg.Storage)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storeCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	schedSvc := scheduler.New(log.With(logx.String("comp", "scheduler")))
	notifSvc := notify.New(notify.Config{
		Workers:    cfg.Notifier.Workers,
		QueueSize:  cfg.Notifier.QueueSize,
		RatePerSec: cfg.Notifier.RatePerSec,
	}, ad, log.With(logx.String("comp", "notifier")))

	svc := reminder.NewService(store, schedSvc, notifSvc, log.With(logx.String("comp", "reminders")))
	schedSvc.SetFireFunc(svc.HandleFire)

	digSvc := digest.New(digest.Config{
		Enabled:  cfg.Digest.Enabled,
		At:       cfg.Digest.At,
		Timezone: cfg.Digest.Timezone,
	}, svc, notifSvc, log.With(logx.String("comp", "digest")))

	proc := NewProcessor(svc, ad, log.With(logx.String("comp", "commands")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		adapter: ad,
		store:   store,
		svc:     svc,
		sched:   schedSvc,
		notif:   notifSvc,
		digest:  digSvc,
		proc:    proc,
		updates: make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *Config) error {
		if cfg.Notifier.Workers < 0 || cfg.Notifier.QueueSize < 0 || cfg.Notifier.RatePerSec < 0 {
			return fmt.Errorf("notifier settings must be >= 0")
		}
		if _, err := parseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
			return err
		}
		if _, err := storageConfig(cfg.Storage); err != nil {
			return err
		}
		if cfg.Digest.Enabled {
			if _, err := time.Parse("15:04", strings.TrimSpace(cfg.Digest.At)); err != nil {
				return fmt.Errorf("digest.at: invalid time %q (want HH:MM)", cfg.Digest.At)
			}
			if tz := strings.TrimSpace(cfg.Digest.Timezone); tz != "" {
				if _, err := time.LoadLocation(tz); err != nil {
					return fmt.Errorf("digest.timezone: invalid %q: %w", tz, err)
				}
			}
		}
		return nil
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.sched.Start(a.sup.Context())
	a.notif.Start(a.sup.Context())

	// Reload persisted reminders and re-arm a timer per reminder before
	// accepting commands. Overdue reminders fire immediately once.
	if _, err := a.svc.Restore(a.sup.Context()); err != nil {
		return fmt.Errorf("restore reminders: %w", err)
	}

	if err := a.digest.Start(a.sup.Context()); err != nil {
		return err
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.proc.DispatchLoop(c, a.updates)
	})

	// Hot reload fan-out.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, newCfg)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) applyConfig(ctx context.Context, cfg *Config) {
	a.logs.Apply(logxConfig(cfg.Logging))
	a.logs.SetChatTarget(parseChatID(cfg.Telegram.GroupLog))

	a.notif.Apply(notify.Config{
		Workers:    cfg.Notifier.Workers,
		QueueSize:  cfg.Notifier.QueueSize,
		RatePerSec: cfg.Notifier.RatePerSec,
	})

	if err := a.digest.Apply(ctx, digest.Config{
		Enabled:  cfg.Digest.Enabled,
		At:       cfg.Digest.At,
		Timezone: cfg.Digest.Timezone,
	}); err != nil {
		a.log.Warn("digest config not applied", logx.Err(err))
	}

	// Storage driver/path and telegram token changes require a restart.
	a.log.Info("config reloaded")
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding immediately.
	a.sup.Cancel()

	// Run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem > 0 && rem < max {
					max = rem
				}
			}
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}
		start := time.Now()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step done", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("digest", 2*time.Second, func(c context.Context) error { a.digest.Stop(c); return nil })
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("storage", time.Second, func(c context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	_ = a.logs.Close()
	return nil
}

func logxConfig(c LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File: logx.FileConfig{
			Enabled: c.File.Enabled,
			Path:    c.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    c.Chat.Enabled,
			MinLevel:   c.Chat.MinLevel,
			RatePerSec: c.Chat.RatePerSec,
		},
	}
}

func storageConfig(c StorageConfig) (storage.Config, error) {
	busy, err := parseDurationField("storage.busy_timeout", c.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	driver := strings.ToLower(strings.TrimSpace(c.Driver))
	switch driver {
	case "", "file", "sqlite", "sqlite3":
	default:
		return storage.Config{}, fmt.Errorf("storage.driver: unknown driver %q", c.Driver)
	}
	path := strings.TrimSpace(c.Path)
	if path == "" {
		path = "./reminders.json"
	}
	return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
}

func parseChatID(raw string) int64 {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
