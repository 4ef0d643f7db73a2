package storage

import (
	"context"
	"errors"
	"time"

	"remindbot/internal/reminder"
)

var (
	// ErrCorrupt wraps load failures caused by unreadable or malformed
	// persisted state (as opposed to plain I/O errors).
	ErrCorrupt = errors.New("corrupt persisted state")
)

// Config configures storage.
//
// Driver values:
//   - "file": single JSON document, atomically rewritten on every mutation
//   - "sqlite": SQLite database file
//
// If Driver is empty, "file" is assumed.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store persists the full reminder collection as one document.
// Save always rewrites the entire collection (never an append); Load returns
// an empty slice when nothing has been persisted yet.
type Store interface {
	Load(ctx context.Context) ([]reminder.Reminder, error)
	Save(ctx context.Context, all []reminder.Reminder) error
	Close() error
}
