package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"remindbot/internal/reminder"
	"remindbot/pkg/logx"
)

func sample(n int) []reminder.Reminder {
	base := time.Date(2025, 12, 10, 14, 0, 0, 0, time.UTC)
	all := make([]reminder.Reminder, 0, n)
	for i := 0; i < n; i++ {
		all = append(all, reminder.Reminder{
			ID:       reminder.NewID(),
			ChatID:   int64(100 + i),
			DueAt:    base.Add(time.Duration(i) * time.Hour),
			Task:     "task " + string(rune('a'+i)),
			Priority: reminder.PriorityMedium,
		})
	}
	return all
}

func assertSame(t *testing.T, got, want []reminder.Reminder) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i].ID {
			t.Fatalf("[%d].ID = %s, want %s (order must be preserved)", i, got[i].ID, want[i].ID)
		}
		if !got[i].DueAt.Equal(want[i].DueAt) {
			t.Fatalf("[%d].DueAt = %v, want %v", i, got[i].DueAt, want[i].DueAt)
		}
		if got[i].ChatID != want[i].ChatID || got[i].Task != want[i].Task || got[i].Priority != want[i].Priority {
			t.Fatalf("[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "reminders.json")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer st.Close()

	want := sample(3)
	if err := st.Save(context.Background(), want); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	got, err := st.Load(context.Background())
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	assertSame(t, got, want)

	// Full rewrite: saving a smaller collection leaves no trace of the rest.
	want = want[:1]
	if err := st.Save(context.Background(), want); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	got, err = st.Load(context.Background())
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	assertSame(t, got, want)
}

func TestFileStoreMissingFileIsEmpty(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "missing.json")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer st.Close()

	got, err := st.Load(context.Background())
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Load = %+v, want empty", got)
	}
}

func TestFileStoreCorruptFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "reminders.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer st.Close()

	_, err = st.Load(context.Background())
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("Load error = %v, want ErrCorrupt", err)
	}
}

func TestFileStoreSaveEmptyWritesDocument(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "reminders.json")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer st.Close()

	if err := st.Save(context.Background(), nil); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file on disk after empty save: %v", err)
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "reminders.db")
	st, err := Open(Config{Driver: "sqlite", Path: path, BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer st.Close()

	want := sample(4)
	if err := st.Save(context.Background(), want); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	got, err := st.Load(context.Background())
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	assertSame(t, got, want)

	// Replace with a reordered subset and verify the rewrite took.
	want = []reminder.Reminder{want[2], want[0]}
	if err := st.Save(context.Background(), want); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	got, err = st.Load(context.Background())
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	assertSame(t, got, want)
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	_, err := Open(Config{Driver: "postgres", Path: "x"}, logx.Nop())
	if err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
