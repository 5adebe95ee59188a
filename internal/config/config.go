package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "20m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: bad duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the standard-library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// LogConfig selects logger level and format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SlackConfig configures the chat-platform collaborator.
type SlackConfig struct {
	Token            string   `yaml:"token"`
	Channel          string   `yaml:"channel"`
	IngestWindow     Duration `yaml:"ingestWindow"`
	IncludeThreads   bool     `yaml:"includeThreads"`
	ExcludeAutomated bool     `yaml:"excludeAutomated"`
}

// ResearchConfig configures the external deep-research job runner.
type ResearchConfig struct {
	Command      []string `yaml:"command"`
	WorkDir      string   `yaml:"workDir"`
	ArtifactPath string   `yaml:"artifactPath"`
	Timeout      Duration `yaml:"timeout"`
}

// RetrieveConfig configures the external report-retrieval step.
type RetrieveConfig struct {
	Command     []string `yaml:"command"`
	WorkDir     string   `yaml:"workDir"`
	ReportsDir  string   `yaml:"reportsDir"`
	Timeout     Duration `yaml:"timeout"`
	FreshWindow Duration `yaml:"freshWindow"`
}

// ScheduleConfig sets the deferred-retrieval policy.
type ScheduleConfig struct {
	InitialDelay Duration `yaml:"initialDelay"`
	RetryDelay   Duration `yaml:"retryDelay"`
	MaxRetries   int      `yaml:"maxRetries"`
	WaitBuffer   Duration `yaml:"waitBuffer"`
	Interval     Duration `yaml:"interval"`
}

// DeliverConfig sets delivery chunking behavior.
type DeliverConfig struct {
	ChunkLimit int      `yaml:"chunkLimit"`
	ChunkDelay Duration `yaml:"chunkDelay"`
}

// Config is the top-level configuration.
type Config struct {
	DataDir       string         `yaml:"dataDir"`
	LockPath      string         `yaml:"lockPath"`
	LockTimeout   Duration       `yaml:"lockTimeout"`
	SessionMaxAge Duration       `yaml:"sessionMaxAge"`
	Log           LogConfig      `yaml:"log"`
	Slack         SlackConfig    `yaml:"slack"`
	Research      ResearchConfig `yaml:"research"`
	Retrieve      RetrieveConfig `yaml:"retrieve"`
	Schedule      ScheduleConfig `yaml:"schedule"`
	Deliver       DeliverConfig  `yaml:"deliver"`
}

// Default returns the built-in defaults. Delay and retry constants mirror the
// production deployment: first retrieval 20 minutes after launch, 5-minute
// retries up to 3, 25-minute wait ceiling for run-once.
func Default() Config {
	return Config{
		LockTimeout:   Duration(10 * time.Second),
		SessionMaxAge: Duration(24 * time.Hour),
		Log:           LogConfig{Level: "info", Format: "console"},
		Slack: SlackConfig{
			IngestWindow:     Duration(24 * time.Hour),
			IncludeThreads:   true,
			ExcludeAutomated: true,
		},
		Research: ResearchConfig{
			Command:      []string{"node", "deep-research-with-start.js"},
			ArtifactPath: "deep-research-start-url.json",
			Timeout:      Duration(5 * time.Minute),
		},
		Retrieve: RetrieveConfig{
			Command:     []string{"node", "retrieve_report.js"},
			ReportsDir:  "reports",
			Timeout:     Duration(2 * time.Minute),
			FreshWindow: Duration(2 * time.Minute),
		},
		Schedule: ScheduleConfig{
			InitialDelay: Duration(20 * time.Minute),
			RetryDelay:   Duration(5 * time.Minute),
			MaxRetries:   3,
			WaitBuffer:   Duration(5 * time.Minute),
			Interval:     Duration(30 * time.Minute),
		},
		Deliver: DeliverConfig{
			ChunkLimit: 35000,
			ChunkDelay: Duration(time.Second),
		},
	}
}

// Load reads configuration from a YAML file over Default(). An empty path
// returns defaults. A .env file next to the working directory is applied
// first so file values may reference populated environment variables.
func Load(path string) (Config, error) {
	// best effort; absence of .env is normal
	_ = godotenv.Load()

	cfg := Default()
	if path == "" {
		FromEnv(&cfg)
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	FromEnv(&cfg)
	return cfg, nil
}

// Validate reports configuration problems that would prevent a run.
func (c Config) Validate() error {
	var errs []error
	if len(c.Research.Command) == 0 {
		errs = append(errs, errors.New("research.command is empty"))
	}
	if len(c.Retrieve.Command) == 0 {
		errs = append(errs, errors.New("retrieve.command is empty"))
	}
	if c.Research.ArtifactPath == "" {
		errs = append(errs, errors.New("research.artifactPath is empty"))
	}
	if c.Retrieve.ReportsDir == "" {
		errs = append(errs, errors.New("retrieve.reportsDir is empty"))
	}
	if c.Deliver.ChunkLimit <= 0 {
		errs = append(errs, errors.New("deliver.chunkLimit must be positive"))
	}
	if c.Schedule.MaxRetries < 0 {
		errs = append(errs, errors.New("schedule.maxRetries must not be negative"))
	}
	if c.LockTimeout.Std() <= 0 {
		errs = append(errs, errors.New("lockTimeout must be positive"))
	}
	return errors.Join(errs...)
}
