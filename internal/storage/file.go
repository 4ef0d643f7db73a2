package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"remindbot/internal/reminder"
	"remindbot/pkg/logx"
)

// fileStore keeps the collection in a single JSON document.
//
// Save writes to <path>.tmp and renames over the target, so readers never
// observe a partially written document.
type fileStore struct {
	log  logx.Logger
	path string
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &fileStore{log: log, path: path}, nil
}

func (s *fileStore) Load(ctx context.Context) ([]reminder.Reminder, error) {
	_ = ctx
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var all []reminder.Reminder
	if err := json.Unmarshal(b, &all); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}
	return all, nil
}

func (s *fileStore) Save(ctx context.Context, all []reminder.Reminder) error {
	_ = ctx
	if all == nil {
		all = []reminder.Reminder{}
	}
	b, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	s.log.Debug("collection saved", logx.String("path", s.path), logx.Int("count", len(all)))
	return nil
}

func (s *fileStore) Close() error { return nil }
