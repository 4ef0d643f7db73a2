package reminder

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	ErrDuplicateID = errors.New("duplicate reminder id")
	ErrNotFound    = errors.New("reminder not found")
)

// Priority is the closed priority set. Stored lowercase, displayed uppercase.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ParsePriority normalizes user input ("HIGH", "High", "high") to a valid
// Priority. Anything outside the closed set is rejected.
func ParsePriority(raw string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(raw)))
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return p, nil
	default:
		return "", fmt.Errorf("invalid priority %q (allowed: low, medium, high)", raw)
	}
}

func (p Priority) Display() string { return strings.ToUpper(string(p)) }

// Reminder is a single scheduled one-shot notification task.
// All fields are immutable after creation; there is no edit operation.
type Reminder struct {
	ID       string    `json:"id"`
	ChatID   int64     `json:"chat_id"`
	DueAt    time.Time `json:"due_at"`
	Task     string    `json:"task"`
	Priority Priority  `json:"priority"`
}

var (
	entropyMu sync.Mutex
	entropy   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// NewID returns a fresh unique reminder id (ULID: sortable, opaque to users).
func NewID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// New validates inputs and constructs a Reminder with a generated id.
func New(chatID int64, dueAt time.Time, task string, priority string) (Reminder, error) {
	p, err := ParsePriority(priority)
	if err != nil {
		return Reminder{}, err
	}
	task = strings.TrimSpace(task)
	if task == "" {
		return Reminder{}, errors.New("task text is empty")
	}
	if dueAt.IsZero() {
		return Reminder{}, errors.New("due time is zero")
	}
	return Reminder{
		ID:       NewID(),
		ChatID:   chatID,
		DueAt:    dueAt,
		Task:     task,
		Priority: p,
	}, nil
}
