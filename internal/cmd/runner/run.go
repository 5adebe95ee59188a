package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/splitleasesharath/slack-deep-research/internal/config"
	"github.com/splitleasesharath/slack-deep-research/internal/deliver"
	"github.com/splitleasesharath/slack-deep-research/internal/engine"
	"github.com/splitleasesharath/slack-deep-research/internal/ingest"
	"github.com/splitleasesharath/slack-deep-research/internal/report"
	"github.com/splitleasesharath/slack-deep-research/internal/research"
	"github.com/splitleasesharath/slack-deep-research/internal/slack"
	pebblestore "github.com/splitleasesharath/slack-deep-research/internal/storage/pebble"
	"github.com/splitleasesharath/slack-deep-research/internal/store"
	"github.com/splitleasesharath/slack-deep-research/pkg/log"
)

// Options are the CLI-level knobs layered over the config file.
type Options struct {
	ConfigPath string
	// DataDir overrides the configured data directory.
	DataDir string
	// Channel overrides the configured channel.
	Channel string
	// Wait blocks a run-once pass until its deferred delivery completes or
	// the wait ceiling elapses.
	Wait bool
}

// app holds the wired components for one invocation.
type app struct {
	cfg    config.Config
	logger log.Logger
	db     *pebblestore.DB
	st     *store.Store
	eng    *engine.Engine
}

func (a *app) close() {
	if a.eng != nil {
		a.eng.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

// loadConfig reads configuration and applies CLI overrides.
func loadConfig(opts Options) (config.Config, log.Logger, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}
	if cfg.DataDir == "" {
		cfg.DataDir = config.DefaultDataDir()
	}
	if opts.Channel != "" {
		cfg.Slack.Channel = opts.Channel
	}
	if cfg.LockPath == "" {
		cfg.LockPath = filepath.Join(cfg.DataDir, "claim.lock")
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, err
	}

	logger, err := log.ApplyConfig(log.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

// setup opens storage and builds the engine. needSlack skips the chat client
// for operations that only read local state.
func setup(opts Options, needSlack bool) (*app, error) {
	cfg, logger, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	db, err := pebblestore.Open(pebblestore.Options{
		DataDir: filepath.Join(cfg.DataDir, "store"),
		Fsync:   pebblestore.FsyncModeAlways,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, db: db}

	a.st, err = store.Open(db, store.Options{
		LockPath:    cfg.LockPath,
		LockTimeout: cfg.LockTimeout.Std(),
		Logger:      logger,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	if !needSlack {
		return a, nil
	}

	if cfg.Slack.Channel == "" {
		a.close()
		return nil, errors.New("slack.channel is not configured")
	}
	client, err := slack.NewClient(slack.Options{Token: cfg.Slack.Token, Logger: logger})
	if err != nil {
		a.close()
		return nil, err
	}
	syncer, err := ingest.NewSyncer(client, a.st, ingest.Options{
		ChannelID:        cfg.Slack.Channel,
		Window:           cfg.Slack.IngestWindow.Std(),
		IncludeThreads:   cfg.Slack.IncludeThreads,
		ExcludeAutomated: cfg.Slack.ExcludeAutomated,
		Logger:           logger,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	launcher, err := research.NewLauncher(research.Options{
		Command:      cfg.Research.Command,
		WorkDir:      cfg.Research.WorkDir,
		ArtifactPath: cfg.Research.ArtifactPath,
		Timeout:      cfg.Research.Timeout.Std(),
		Logger:       logger,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	fetcher, err := report.NewFetcher(report.Options{
		Command:     cfg.Retrieve.Command,
		WorkDir:     cfg.Retrieve.WorkDir,
		ReportsDir:  cfg.Retrieve.ReportsDir,
		Timeout:     cfg.Retrieve.Timeout.Std(),
		FreshWindow: cfg.Retrieve.FreshWindow.Std(),
		Logger:      logger,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	deliverer, err := deliver.New(client, deliver.Options{
		ChunkLimit: cfg.Deliver.ChunkLimit,
		ChunkDelay: cfg.Deliver.ChunkDelay.Std(),
		Logger:     logger,
	})
	if err != nil {
		a.close()
		return nil, err
	}

	a.eng, err = engine.New(engine.Options{
		Store:         a.st,
		Launcher:      launcher,
		Fetcher:       fetcher,
		Deliverer:     deliverer,
		Ingestor:      syncer,
		IsIncomplete:  report.IsIncomplete,
		InitialDelay:  cfg.Schedule.InitialDelay.Std(),
		RetryDelay:    cfg.Schedule.RetryDelay.Std(),
		MaxRetries:    cfg.Schedule.MaxRetries,
		WaitBuffer:    cfg.Schedule.WaitBuffer.Std(),
		SessionMaxAge: cfg.SessionMaxAge.Std(),
		Logger:        logger,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// signalCtx layers interrupt handling over ctx.
func signalCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

// RunOnce executes one workflow pass. With opts.Wait it blocks until the
// pass's deferred delivery finishes or the wait ceiling elapses.
func RunOnce(ctx context.Context, opts Options) error {
	sctx, stop := signalCtx(ctx)
	defer stop()

	a, err := setup(opts, true)
	if err != nil {
		return err
	}
	defer a.close()

	if resumed, err := a.eng.ResumePending(sctx); err != nil {
		a.logger.Warn("resume failed", log.Err(err))
	} else if resumed > 0 {
		a.logger.Info("resumed pending retrievals", log.Int("count", resumed))
	}

	res, err := a.eng.RunOnce(sctx)
	if err != nil {
		return err
	}
	if res.ItemTS == "" && a.eng.Pending() == 0 {
		return nil
	}
	if opts.Wait {
		return a.eng.Wait(sctx)
	}
	a.logger.Info("pass complete, deferred tasks detached",
		log.Int("pending", a.eng.Pending()))
	return nil
}

// Watch runs passes on the configured interval until interrupted.
func Watch(ctx context.Context, opts Options) error {
	sctx, stop := signalCtx(ctx)
	defer stop()

	a, err := setup(opts, true)
	if err != nil {
		return err
	}
	defer a.close()

	if resumed, err := a.eng.ResumePending(sctx); err != nil {
		a.logger.Warn("resume failed", log.Err(err))
	} else if resumed > 0 {
		a.logger.Info("resumed pending retrievals", log.Int("count", resumed))
	}

	a.logger.Info("watching for research requests",
		log.Str("channel", a.cfg.Slack.Channel),
		log.Dur("interval", a.cfg.Schedule.Interval.Std()))
	err = a.eng.RunContinuous(sctx, a.cfg.Schedule.Interval.Std())
	if errors.Is(err, context.Canceled) {
		// Pending timers were armed under the cancelled context, so their
		// fires cannot deliver anything; disarm them and exit. The session
		// checkpoints survive and the next run resumes the retrievals.
		if pending := a.eng.Pending(); pending > 0 {
			a.logger.Info("interrupted; pending retrievals checkpointed for the next run",
				log.Int("pending", pending))
		}
		return nil
	}
	return err
}

// Ingest runs one ingestion pass without claiming anything.
func Ingest(ctx context.Context, opts Options, w io.Writer) error {
	sctx, stop := signalCtx(ctx)
	defer stop()

	a, err := setup(opts, false)
	if err != nil {
		return err
	}
	defer a.close()

	if a.cfg.Slack.Channel == "" {
		return errors.New("slack.channel is not configured")
	}
	client, err := slack.NewClient(slack.Options{Token: a.cfg.Slack.Token, Logger: a.logger})
	if err != nil {
		return err
	}
	syncer, err := ingest.NewSyncer(client, a.st, ingest.Options{
		ChannelID:        a.cfg.Slack.Channel,
		Window:           a.cfg.Slack.IngestWindow.Std(),
		IncludeThreads:   a.cfg.Slack.IncludeThreads,
		ExcludeAutomated: a.cfg.Slack.ExcludeAutomated,
		Logger:           a.logger,
	})
	if err != nil {
		return err
	}
	stats, err := syncer.Sync(sctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "found=%d added=%d duplicates=%d automated=%d\n",
		stats.Found, stats.Added, stats.DuplicateSkipped, stats.AutomatedFiltered)
	return nil
}

// Stats prints lifecycle counters for the local store.
func Stats(ctx context.Context, opts Options, w io.Writer) error {
	a, err := setup(opts, false)
	if err != nil {
		return err
	}
	defer a.close()

	stats, err := a.st.CountStats(ctx)
	if err != nil {
		return err
	}
	sessions, err := a.st.ListSessions(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "items:       %d\n", stats.Total)
	fmt.Fprintf(w, "unclaimed:   %d\n", stats.Unclaimed)
	fmt.Fprintf(w, "claimed:     %d\n", stats.Claimed)
	fmt.Fprintf(w, "launched:    %d\n", stats.JobLaunched)
	fmt.Fprintf(w, "delivered:   %d\n", stats.Delivered)
	fmt.Fprintf(w, "system:      %d\n", stats.System)
	fmt.Fprintf(w, "automated:   %d\n", stats.Automated)
	fmt.Fprintf(w, "checkpoints: %d\n", len(sessions))
	return nil
}

// Check validates the configuration and reports the effective settings.
func Check(opts Options, w io.Writer) error {
	cfg, _, err := loadConfig(opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "config ok\n")
	fmt.Fprintf(w, "dataDir:   %s\n", cfg.DataDir)
	fmt.Fprintf(w, "lockPath:  %s\n", cfg.LockPath)
	fmt.Fprintf(w, "channel:   %s\n", cfg.Slack.Channel)
	fmt.Fprintf(w, "research:  %v\n", cfg.Research.Command)
	fmt.Fprintf(w, "retrieve:  %v\n", cfg.Retrieve.Command)
	fmt.Fprintf(w, "schedule:  initial=%s retry=%s maxRetries=%d\n",
		cfg.Schedule.InitialDelay.Std(), cfg.Schedule.RetryDelay.Std(), cfg.Schedule.MaxRetries)
	if cfg.Slack.Token == "" {
		fmt.Fprintf(w, "warning: slack token is empty\n")
	}
	return nil
}
