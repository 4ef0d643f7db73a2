package core

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `telegram:
  token: "123:abc"
  group_log: "-100200300"
  poll_timeout: "15s"
logging:
  level: debug
  console: true
  file:
    enabled: true
    path: ./bot.log
  chat:
    enabled: true
    min_level: warn
    rate_per_sec: 1
storage:
  driver: sqlite
  path: ./reminders.db
  busy_timeout: "2s"
notifier:
  workers: 4
  queue_size: 128
  rate_per_sec: 5
digest:
  enabled: true
  at: "08:30"
  timezone: "Europe/Berlin"
`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestConfigLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", sampleYAML)
	m := NewConfigManager(path)

	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.BusyTimeout != "2s" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if !cfg.Digest.Enabled || cfg.Digest.At != "08:30" || cfg.Digest.Timezone != "Europe/Berlin" {
		t.Fatalf("digest = %+v", cfg.Digest)
	}
	if cfg.Notifier.Workers != 4 || cfg.Notifier.RatePerSec != 5 {
		t.Fatalf("notifier = %+v", cfg.Notifier)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get must return the loaded config")
	}
}

func TestConfigLoadJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"telegram":{"token":"t"},"logging":{"level":"info","console":true,"file":{"enabled":false,"path":""},"chat":{"enabled":false,"min_level":"","rate_per_sec":0}},"storage":{"driver":"file","path":"./r.json"},"notifier":{},"digest":{"enabled":false}}`)
	m := NewConfigManager(path)

	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Storage.Driver != "file" {
		t.Fatalf("driver = %q", cfg.Storage.Driver)
	}
}

func TestConfigRejectsUnknownField(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", sampleYAML+"surprise: true\n")
	m := NewConfigManager(path)
	if _, err := m.Load(); err == nil {
		t.Fatal("expected unknown-field error")
	}
}

func TestStorageConfigValidation(t *testing.T) {
	t.Parallel()
	if _, err := storageConfig(StorageConfig{Driver: "postgres", Path: "x"}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, err := storageConfig(StorageConfig{Driver: "sqlite", Path: "x", BusyTimeout: "soon"}); err == nil {
		t.Fatal("expected error for bad busy_timeout")
	}

	cfg, err := storageConfig(StorageConfig{})
	if err != nil {
		t.Fatalf("storageConfig error: %v", err)
	}
	if cfg.Path == "" {
		t.Fatal("expected a default path for the file driver")
	}
}

func TestParseChatID(t *testing.T) {
	t.Parallel()
	if got := parseChatID("-100200300"); got != -100200300 {
		t.Fatalf("parseChatID = %d", got)
	}
	if got := parseChatID(""); got != 0 {
		t.Fatalf("parseChatID empty = %d, want 0", got)
	}
	if got := parseChatID("abc"); got != 0 {
		t.Fatalf("parseChatID garbage = %d, want 0", got)
	}
}
