package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/splitleasesharath/slack-deep-research/pkg/log"
)

// ErrNoArtifact means the job exited successfully but did not write the URL
// artifact. A success exit without an artifact is a broken job, not a
// retryable condition.
var ErrNoArtifact = errors.New("research: job exited 0 without writing the url artifact")

// ErrTimeout means the job overran its deadline and was killed.
var ErrTimeout = errors.New("research: job timed out")

// artifact is the JSON file the job writes on success. Older job versions
// used "url"; both spellings are accepted.
type artifact struct {
	ReportURL string `json:"reportUrl"`
	URL       string `json:"url"`
}

func (a artifact) ref() string {
	if a.ReportURL != "" {
		return a.ReportURL
	}
	return a.URL
}

// Options configures a Launcher.
type Options struct {
	// Command is the job argv; the escaped query is appended as the final
	// argument. Required.
	Command []string
	// WorkDir is the directory the job runs in and artifact paths resolve
	// against. Empty means the process working directory.
	WorkDir string
	// ArtifactPath is where the job writes its URL artifact. Required.
	ArtifactPath string
	// Timeout bounds one job run. Defaults to 5 minutes.
	Timeout time.Duration
	Logger  log.Logger
}

// Launcher runs the external deep-research job.
type Launcher struct {
	command      []string
	workDir      string
	artifactPath string
	timeout      time.Duration
	logger       log.Logger
}

// NewLauncher validates opts and returns a Launcher.
func NewLauncher(opts Options) (*Launcher, error) {
	if len(opts.Command) == 0 {
		return nil, errors.New("research: Options.Command is required")
	}
	if opts.ArtifactPath == "" {
		return nil, errors.New("research: Options.ArtifactPath is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	return &Launcher{
		command:      opts.Command,
		workDir:      opts.WorkDir,
		artifactPath: opts.ArtifactPath,
		timeout:      opts.Timeout,
		logger:       logger.WithComponent("research"),
	}, nil
}

// Launch runs the job for query and returns the report URL from the
// artifact. The artifact file is removed before the run so a stale one from
// an earlier job can never be mistaken for this run's output.
func (l *Launcher) Launch(ctx context.Context, query string) (string, error) {
	path := l.artifactFile()
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("research: clear stale artifact: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	args := append(append([]string(nil), l.command[1:]...), EscapeQuery(query))
	cmd := exec.CommandContext(cctx, l.command[0], args...)
	cmd.Dir = l.workDir

	l.logger.Info("launching research job",
		log.Str("command", l.command[0]),
		log.Int("queryLen", len(query)))
	started := time.Now()
	out, err := cmd.CombinedOutput()
	elapsed := time.Since(started)
	if err != nil {
		if cctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return "", fmt.Errorf("%w after %s", ErrTimeout, l.timeout)
		}
		return "", fmt.Errorf("research: job failed after %s: %w: %s", elapsed.Round(time.Millisecond), err, tail(out))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNoArtifact
		}
		return "", fmt.Errorf("research: read artifact: %w", err)
	}
	var a artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return "", fmt.Errorf("research: parse artifact: %w", err)
	}
	ref := a.ref()
	if ref == "" {
		return "", ErrNoArtifact
	}

	l.logger.Info("research job launched",
		log.Str("resultRef", ref),
		log.Dur("elapsed", elapsed))
	return ref, nil
}

// artifactFile resolves the artifact path against the work directory.
func (l *Launcher) artifactFile() string {
	if filepath.IsAbs(l.artifactPath) || l.workDir == "" {
		return l.artifactPath
	}
	return filepath.Join(l.workDir, l.artifactPath)
}

// tail returns the last chunk of command output for error messages.
func tail(out []byte) string {
	const max = 512
	if len(out) > max {
		out = out[len(out)-max:]
	}
	return string(out)
}
