package report

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/splitleasesharath/slack-deep-research/pkg/log"
)

// ErrNoReport means the retrieval run produced no fresh report file. This is
// the retryable condition: the research job has not finished yet.
var ErrNoReport = errors.New("report: no fresh report file after retrieval")

// ErrTimeout means the retrieval command overran its deadline.
var ErrTimeout = errors.New("report: retrieval timed out")

// reportGlob matches the files the retrieval command writes.
const reportGlob = "report_*.txt"

// Options configures a Fetcher.
type Options struct {
	// Command is the retrieval argv; the result reference is appended as the
	// final argument. Required.
	Command []string
	// WorkDir is the directory the command runs in. Empty means the process
	// working directory.
	WorkDir string
	// ReportsDir is where report files appear, resolved against WorkDir when
	// relative. Required.
	ReportsDir string
	// Timeout bounds one retrieval run. Defaults to 2 minutes.
	Timeout time.Duration
	// FreshWindow is how recently a report file must have been modified to
	// count as this run's output. Defaults to 2 minutes.
	FreshWindow time.Duration
	Logger      log.Logger
}

// Fetcher runs the external retrieval command and picks up its report file.
type Fetcher struct {
	command     []string
	workDir     string
	reportsDir  string
	timeout     time.Duration
	freshWindow time.Duration
	logger      log.Logger

	now func() time.Time
}

// NewFetcher validates opts and returns a Fetcher.
func NewFetcher(opts Options) (*Fetcher, error) {
	if len(opts.Command) == 0 {
		return nil, errors.New("report: Options.Command is required")
	}
	if opts.ReportsDir == "" {
		return nil, errors.New("report: Options.ReportsDir is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.FreshWindow <= 0 {
		opts.FreshWindow = 2 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	return &Fetcher{
		command:     opts.Command,
		workDir:     opts.WorkDir,
		reportsDir:  opts.ReportsDir,
		timeout:     opts.Timeout,
		freshWindow: opts.FreshWindow,
		logger:      logger.WithComponent("report"),
		now:         time.Now,
	}, nil
}

// Fetch runs retrieval for resultRef and returns the text of the freshest
// report file. ErrNoReport means the report is not ready yet.
func (f *Fetcher) Fetch(ctx context.Context, resultRef string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	args := append(append([]string(nil), f.command[1:]...), resultRef)
	cmd := exec.CommandContext(cctx, f.command[0], args...)
	cmd.Dir = f.workDir

	f.logger.Info("retrieving report", log.Str("resultRef", resultRef))
	out, err := cmd.CombinedOutput()
	if err != nil {
		if cctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return "", fmt.Errorf("%w after %s", ErrTimeout, f.timeout)
		}
		return "", fmt.Errorf("report: retrieval failed: %w: %s", err, tail(out))
	}

	path, err := f.freshestReport()
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("report: read %s: %w", path, err)
	}
	f.logger.Info("report fetched",
		log.Str("file", filepath.Base(path)),
		log.Int("bytes", len(data)))
	return string(data), nil
}

// freshestReport returns the most recently modified report file whose mtime
// falls within the fresh window, or ErrNoReport.
func (f *Fetcher) freshestReport() (string, error) {
	dir := f.reportsDir
	if !filepath.IsAbs(dir) && f.workDir != "" {
		dir = filepath.Join(f.workDir, dir)
	}
	matches, err := filepath.Glob(filepath.Join(dir, reportGlob))
	if err != nil {
		return "", fmt.Errorf("report: scan %s: %w", dir, err)
	}

	cutoff := f.now().Add(-f.freshWindow)
	var best string
	var bestMod time.Time
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			continue
		}
		if best == "" || info.ModTime().After(bestMod) {
			best = path
			bestMod = info.ModTime()
		}
	}
	if best == "" {
		return "", ErrNoReport
	}
	return best, nil
}

func tail(out []byte) string {
	const max = 512
	if len(out) > max {
		out = out[len(out)-max:]
	}
	return string(out)
}
