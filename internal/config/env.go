package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// FromEnv overlays RESEARCHD_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("RESEARCHD_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("RESEARCHD_LOCK_PATH"); v != "" {
		cfg.LockPath = v
	}
	if v := os.Getenv("RESEARCHD_LOCK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.LockTimeout = Duration(d)
		}
	}
	if v := os.Getenv("RESEARCHD_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("RESEARCHD_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("RESEARCHD_SLACK_TOKEN"); v != "" {
		cfg.Slack.Token = v
	}
	if v := os.Getenv("RESEARCHD_SLACK_CHANNEL"); v != "" {
		cfg.Slack.Channel = v
	}
	if v := os.Getenv("RESEARCHD_INGEST_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Slack.IngestWindow = Duration(d)
		}
	}
	if v := os.Getenv("RESEARCHD_RESEARCH_COMMAND"); v != "" {
		cfg.Research.Command = splitCommand(v)
	}
	if v := os.Getenv("RESEARCHD_RESEARCH_WORKDIR"); v != "" {
		cfg.Research.WorkDir = v
	}
	if v := os.Getenv("RESEARCHD_RESEARCH_ARTIFACT"); v != "" {
		cfg.Research.ArtifactPath = v
	}
	if v := os.Getenv("RESEARCHD_RESEARCH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Research.Timeout = Duration(d)
		}
	}
	if v := os.Getenv("RESEARCHD_RETRIEVE_COMMAND"); v != "" {
		cfg.Retrieve.Command = splitCommand(v)
	}
	if v := os.Getenv("RESEARCHD_RETRIEVE_WORKDIR"); v != "" {
		cfg.Retrieve.WorkDir = v
	}
	if v := os.Getenv("RESEARCHD_REPORTS_DIR"); v != "" {
		cfg.Retrieve.ReportsDir = v
	}
	if v := os.Getenv("RESEARCHD_INITIAL_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Schedule.InitialDelay = Duration(d)
		}
	}
	if v := os.Getenv("RESEARCHD_RETRY_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Schedule.RetryDelay = Duration(d)
		}
	}
	if v := os.Getenv("RESEARCHD_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Schedule.MaxRetries = n
		}
	}
	if v := os.Getenv("RESEARCHD_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Schedule.Interval = Duration(d)
		}
	}
	if v := os.Getenv("RESEARCHD_CHUNK_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Deliver.ChunkLimit = n
		}
	}
}

// splitCommand splits a command string on whitespace. Arguments with embedded
// spaces should be configured through the YAML file instead.
func splitCommand(s string) []string {
	return strings.Fields(s)
}
