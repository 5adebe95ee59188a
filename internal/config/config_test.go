package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Schedule.InitialDelay.Std() != 20*time.Minute {
		t.Fatalf("initial delay = %v", cfg.Schedule.InitialDelay.Std())
	}
	if cfg.Schedule.MaxRetries != 3 {
		t.Fatalf("max retries = %d", cfg.Schedule.MaxRetries)
	}
	if cfg.Deliver.ChunkLimit != 35000 {
		t.Fatalf("chunk limit = %d", cfg.Deliver.ChunkLimit)
	}
	if cfg.LockTimeout.Std() != 10*time.Second {
		t.Fatalf("lock timeout = %v", cfg.LockTimeout.Std())
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "researchd.yaml")
	body := `
dataDir: /tmp/researchd-test
schedule:
  initialDelay: 90s
  maxRetries: 5
deliver:
  chunkLimit: 1000
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DataDir != "/tmp/researchd-test" {
		t.Fatalf("dataDir = %q", cfg.DataDir)
	}
	if cfg.Schedule.InitialDelay.Std() != 90*time.Second {
		t.Fatalf("initialDelay = %v", cfg.Schedule.InitialDelay.Std())
	}
	if cfg.Schedule.MaxRetries != 5 {
		t.Fatalf("maxRetries = %d", cfg.Schedule.MaxRetries)
	}
	// untouched values keep defaults
	if cfg.Schedule.RetryDelay.Std() != 5*time.Minute {
		t.Fatalf("retryDelay = %v", cfg.Schedule.RetryDelay.Std())
	}
}

func TestLoadBadDuration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("lockTimeout: soon\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for bad duration")
	}
}

func TestEnvOverlay(t *testing.T) {
	t.Setenv("RESEARCHD_SLACK_CHANNEL", "C12345678")
	t.Setenv("RESEARCHD_MAX_RETRIES", "1")
	t.Setenv("RESEARCHD_RESEARCH_COMMAND", "node deep-research.js")

	cfg := Default()
	FromEnv(&cfg)
	if cfg.Slack.Channel != "C12345678" {
		t.Fatalf("channel = %q", cfg.Slack.Channel)
	}
	if cfg.Schedule.MaxRetries != 1 {
		t.Fatalf("maxRetries = %d", cfg.Schedule.MaxRetries)
	}
	if len(cfg.Research.Command) != 2 || cfg.Research.Command[1] != "deep-research.js" {
		t.Fatalf("command = %v", cfg.Research.Command)
	}
}

func TestValidateCatchesEmptyCommand(t *testing.T) {
	cfg := Default()
	cfg.Research.Command = nil
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}
