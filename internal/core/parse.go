package core

import (
	"strings"
	"time"

	"remindbot/internal/reminder"
)

// Creation command wire format (stable within a deployment):
//
//	/remind <YYYY-MM-DD> <HH:MM> <task text...> <priority>
//
// Fields are whitespace-separated; the task text is everything between the
// time and the trailing priority token.
const (
	createUsageReply = "Wrong format! Use: /remind <date> <time> <task> <priority>\n" +
		"Example: /remind 2024-12-10 14:00 Finish the report high"
	priorityReply = "Priority must be one of: low, medium, high."
	dateReply     = "Invalid date/time! Use format: YYYY-MM-DD HH:mm."
	genericReply  = "Something went wrong while saving your reminder."
)

const dueTimeLayout = "2006-01-02 15:04"

// createDraft holds the validated fields of a creation command before the
// reminder is constructed and committed.
type createDraft struct {
	DueAt    time.Time
	Task     string
	Priority reminder.Priority
}

// createOutcome is the tagged result of creation-command validation:
// either a valid draft, or the corrective reply to send back. Exactly one
// of the two is set.
type createOutcome struct {
	Draft *createDraft
	Reply string
}

func invalid(reply string) createOutcome { return createOutcome{Reply: reply} }

// parseCreate validates the creation arguments in order: field count,
// priority membership, then date+time parseability. No reminder is
// constructed until all three pass.
func parseCreate(args []string) createOutcome {
	// date, time, at least one task token, priority
	if len(args) < 4 {
		return invalid(createUsageReply)
	}

	prio, err := reminder.ParsePriority(args[len(args)-1])
	if err != nil {
		return invalid(priorityReply)
	}

	dueAt, err := time.ParseInLocation(dueTimeLayout, args[0]+" "+args[1], time.Local)
	if err != nil {
		return invalid(dateReply)
	}

	task := strings.TrimSpace(strings.Join(args[2:len(args)-1], " "))
	if task == "" {
		return invalid(createUsageReply)
	}

	return createOutcome{Draft: &createDraft{DueAt: dueAt, Task: task, Priority: prio}}
}

// commandRoute extracts the leading command token, tolerating the
// "@botname" suffix Telegram appends in groups.
func commandRoute(text string) (route string, args []string) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil
	}
	route = fields[0]
	if at := strings.IndexByte(route, '@'); at > 0 {
		route = route[:at]
	}
	return strings.ToLower(route), fields[1:]
}
