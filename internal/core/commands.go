package core

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"remindbot/internal/reminder"
	kit "remindbot/internal/transport"
	"remindbot/pkg/logx"
)

// handlerFunc handles one parsed command and returns the reply text.
// An empty return means no reply is sent.
type handlerFunc func(ctx context.Context, m *kit.Message, args []string) string

type command struct {
	route       string
	description string
	usage       string
	handle      handlerFunc
}

// Processor parses inbound text commands and drives the reminder service.
//
// One dispatch goroutine consumes the update channel, so a single inbound
// message is always handled to completion before the next one starts.
// Timer fires run concurrently with command handling; the reminder service
// serializes the shared registry+store mutations.
type Processor struct {
	log     logx.Logger
	adapter kit.Adapter
	svc     *reminder.Service

	routes map[string]command
	order  []string
}

func NewProcessor(svc *reminder.Service, adapter kit.Adapter, log logx.Logger) *Processor {
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Processor{log: log, adapter: adapter, svc: svc, routes: map[string]command{}}
	p.register(command{
		route:       "/remind",
		description: "create a reminder",
		usage:       "/remind <YYYY-MM-DD> <HH:MM> <task> <priority>",
		handle:      p.handleCreate,
	})
	p.register(command{
		route:       "/list",
		description: "list active reminders",
		usage:       "/list",
		handle:      p.handleList,
	})
	p.register(command{
		route:       "/done",
		description: "complete a reminder by id",
		usage:       "/done <id>",
		handle:      p.handleComplete,
	})
	p.register(command{
		route:       "/help",
		description: "show help",
		usage:       "/help",
		handle:      p.handleHelp,
	})
	return p
}

func (p *Processor) register(c command) {
	p.routes[c.route] = c
	p.order = append(p.order, c.route)
}

// DispatchLoop consumes transport updates until ctx is done.
func (p *Processor) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	p.log.Info("command dispatcher started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Kind != kit.UpdateMessage || up.Message == nil {
				continue
			}
			p.dispatch(ctx, up.Message)
		}
	}
}

func (p *Processor) dispatch(ctx context.Context, m *kit.Message) {
	route, args := commandRoute(m.Text)
	if route == "" {
		return
	}
	cmd, ok := p.routes[route]
	if !ok {
		// Unrecognized commands are ignored: no reply.
		return
	}

	reply := p.safeHandle(ctx, cmd, m, args)
	if reply == "" {
		return
	}
	if _, err := p.adapter.SendText(ctx, kit.ChatTarget{ChatID: m.ChatID}, reply, &kit.SendOptions{DisablePreview: true}); err != nil {
		p.log.Warn("reply send failed", logx.String("route", route), logx.Int64("chat_id", m.ChatID), logx.Err(err))
	}
}

// safeHandle guarantees every recognized command terminates in a reply:
// a panicking handler is logged and converted to the generic failure reply.
func (p *Processor) safeHandle(ctx context.Context, cmd command, m *kit.Message, args []string) (reply string) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("panic in command handler",
				logx.String("route", cmd.route),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
			reply = genericReply
		}
	}()
	return cmd.handle(ctx, m, args)
}

func (p *Processor) handleCreate(ctx context.Context, m *kit.Message, args []string) string {
	out := parseCreate(args)
	if out.Draft == nil {
		return out.Reply
	}
	d := out.Draft

	rem, err := p.svc.Create(ctx, m.ChatID, d.DueAt, d.Task, string(d.Priority))
	if err != nil {
		// Storage failure or a late validation miss: the mutation did not
		// commit, so never confirm success.
		p.log.Error("reminder creation failed", logx.Int64("chat_id", m.ChatID), logx.Err(err))
		return genericReply
	}

	return fmt.Sprintf("Reminder saved! ⏰\nID: %s\nTask: *%s*\nPriority: *%s*\nTime: %s",
		rem.ID, rem.Task, rem.Priority.Display(), rem.DueAt.Format(dueTimeLayout))
}

func (p *Processor) handleList(ctx context.Context, m *kit.Message, args []string) string {
	_ = ctx
	_ = args
	all := p.svc.List()
	if len(all) == 0 {
		return "No reminders yet. Create one with /remind."
	}
	var b strings.Builder
	b.WriteString("Your reminders:\n")
	for i, r := range all {
		fmt.Fprintf(&b, "%d. %s — %s — %s [%s]\n", i+1, r.ID, r.DueAt.Format(dueTimeLayout), r.Task, r.Priority.Display())
	}
	return strings.TrimRight(b.String(), "\n")
}

func (p *Processor) handleComplete(ctx context.Context, m *kit.Message, args []string) string {
	id := strings.TrimSpace(strings.Join(args, " "))
	if id == "" {
		return "Use: /done <id>"
	}

	rem, err := p.svc.Complete(ctx, id)
	switch {
	case errors.Is(err, reminder.ErrNotFound):
		return fmt.Sprintf("No reminder found with id %s.", id)
	case err != nil:
		p.log.Error("reminder completion failed", logx.String("id", id), logx.Err(err))
		return genericReply
	}
	return fmt.Sprintf("Done! Reminder %s completed and removed.", rem.ID)
}

func (p *Processor) handleHelp(ctx context.Context, m *kit.Message, args []string) string {
	_ = ctx
	_ = m
	_ = args
	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, route := range p.order {
		c := p.routes[route]
		fmt.Fprintf(&b, "%s — %s\n", c.usage, c.description)
	}
	return strings.TrimRight(b.String(), "\n")
}
