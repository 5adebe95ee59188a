package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/splitleasesharath/slack-deep-research/internal/deliver"
	"github.com/splitleasesharath/slack-deep-research/internal/ingest"
	"github.com/splitleasesharath/slack-deep-research/internal/scheduler"
	"github.com/splitleasesharath/slack-deep-research/internal/store"
	"github.com/splitleasesharath/slack-deep-research/pkg/log"
)

// Launcher starts the external research job and returns the result
// reference.
type Launcher interface {
	Launch(ctx context.Context, query string) (string, error)
}

// Fetcher retrieves the report text behind a result reference.
type Fetcher interface {
	Fetch(ctx context.Context, resultRef string) (string, error)
}

// Deliverer sends report text to a destination thread.
type Deliverer interface {
	Deliver(ctx context.Context, channelID, threadTS, header, text string) (*deliver.Result, error)
}

// Ingestor runs one ingestion pass. Optional.
type Ingestor interface {
	Sync(ctx context.Context) (ingest.Stats, error)
}

// Enhancer rewrites a raw request into a better research prompt. Optional;
// failures fall back to the raw text.
type Enhancer interface {
	Enhance(ctx context.Context, text string) (string, error)
}

// IsIncompleteFunc classifies fetched text as unfinished.
type IsIncompleteFunc func(text string) bool

// defaultHeader prefixes delivered reports.
const defaultHeader = "Deep Research Report"

// partialNote annotates a delivery made after retry exhaustion.
const partialNote = "[Partial result: retries exhausted, the report may still be in progress]"

// Options configures an Engine.
type Options struct {
	Store     *store.Store // required
	Launcher  Launcher     // required
	Fetcher   Fetcher      // required
	Deliverer Deliverer    // required
	Ingestor  Ingestor
	Enhancer  Enhancer

	// IsIncomplete classifies fetched text. Defaults to report.IsIncomplete
	// via the runner wiring; nil here means "everything is complete".
	IsIncomplete IsIncompleteFunc

	// InitialDelay is the gap between job launch and the first fetch.
	// Defaults to 20 minutes.
	InitialDelay time.Duration
	// RetryDelay is the gap between fetch attempts. Defaults to 5 minutes.
	RetryDelay time.Duration
	// MaxRetries bounds fetch retries after the initial attempt. Defaults
	// to 3.
	MaxRetries int
	// WaitBuffer pads the run-once wait ceiling past the worst-case retry
	// schedule. Defaults to 5 minutes.
	WaitBuffer time.Duration
	// SessionMaxAge is the cutoff for purging abandoned checkpoints.
	// Defaults to 24h.
	SessionMaxAge time.Duration
	// Header prefixes delivered reports.
	Header string
	Logger log.Logger
}

// PassResult summarizes one RunOnce pass.
type PassResult struct {
	// ItemTS is the claimed item, empty when the pass was idle.
	ItemTS string
	// RunID identifies the scheduled deferred task, empty when no job was
	// launched.
	RunID string
	// Ingested holds the ingestion counts when an Ingestor is configured.
	Ingested *ingest.Stats
}

// Engine runs the claim-launch-fetch-deliver workflow.
type Engine struct {
	st           *store.Store
	launcher     Launcher
	fetcher      Fetcher
	deliverer    Deliverer
	ingestor     Ingestor
	enhancer     Enhancer
	isIncomplete IsIncompleteFunc

	initialDelay  time.Duration
	retryDelay    time.Duration
	maxRetries    int
	waitBuffer    time.Duration
	sessionMaxAge time.Duration
	header        string

	sched  *scheduler.Registry
	logger log.Logger
}

// New validates opts and returns an Engine. The Engine owns its scheduler
// registry; independent engines never share deferred-task state.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("engine: Options.Store is required")
	}
	if opts.Launcher == nil || opts.Fetcher == nil || opts.Deliverer == nil {
		return nil, errors.New("engine: Launcher, Fetcher, and Deliverer are required")
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = 20 * time.Minute
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 5 * time.Minute
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 3
	}
	if opts.WaitBuffer <= 0 {
		opts.WaitBuffer = 5 * time.Minute
	}
	if opts.SessionMaxAge <= 0 {
		opts.SessionMaxAge = 24 * time.Hour
	}
	if opts.Header == "" {
		opts.Header = defaultHeader
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	logger = logger.WithComponent("engine")
	return &Engine{
		st:            opts.Store,
		launcher:      opts.Launcher,
		fetcher:       opts.Fetcher,
		deliverer:     opts.Deliverer,
		ingestor:      opts.Ingestor,
		enhancer:      opts.Enhancer,
		isIncomplete:  opts.IsIncomplete,
		initialDelay:  opts.InitialDelay,
		retryDelay:    opts.RetryDelay,
		maxRetries:    opts.MaxRetries,
		waitBuffer:    opts.WaitBuffer,
		sessionMaxAge: opts.SessionMaxAge,
		header:        opts.Header,
		sched:         scheduler.New(logger),
		logger:        logger,
	}, nil
}

// Close cancels all armed deferred tasks.
func (e *Engine) Close() { e.sched.Close() }

// Pending reports the number of armed deferred tasks.
func (e *Engine) Pending() int { return e.sched.Len() }

// RunOnce processes at most one item: optional ingestion, claim, enhance,
// launch, schedule the deferred fetch. An idle pass (nothing claimable, or
// the claim lock busy) returns an empty PassResult and no error.
func (e *Engine) RunOnce(ctx context.Context) (PassResult, error) {
	var res PassResult

	// Checkpoints with an armed timer are live regardless of age; purging
	// them would strand the retry if its delivery fails.
	if purged, err := e.st.PurgeSessions(ctx, time.Now().Add(-e.sessionMaxAge), e.sched.Has); err != nil {
		e.logger.Warn("session purge failed", log.Err(err))
	} else if purged > 0 {
		e.logger.Info("purged stale sessions", log.Int("count", purged))
	}

	if e.ingestor != nil {
		stats, err := e.ingestor.Sync(ctx)
		if err != nil {
			// Ingestion trouble does not stop the pass; already-stored items
			// are still claimable.
			e.logger.Error("ingestion failed", log.Err(err))
		} else {
			res.Ingested = &stats
		}
	}

	item, err := e.st.ClaimNext(ctx)
	if err != nil {
		return res, err
	}
	if item == nil {
		e.logger.Info("nothing to do")
		return res, nil
	}
	res.ItemTS = item.TS

	query := e.enhanceQuery(ctx, item)

	ref, err := e.launcher.Launch(ctx, query)
	if err != nil {
		// The item goes back to the pool so the next pass retries it.
		e.logger.Error("job launch failed",
			log.Str("ts", item.TS),
			log.Err(err))
		if rerr := e.st.ResetClaim(ctx, item.TS); rerr != nil {
			e.logger.Error("claim reset failed", log.Str("ts", item.TS), log.Err(rerr))
		}
		return res, nil
	}
	if err := e.st.MarkJobLaunched(ctx, item.TS, ref); err != nil {
		return res, err
	}

	runID, err := e.scheduleFetch(ctx, item, ref)
	if err != nil {
		return res, err
	}
	res.RunID = runID
	return res, nil
}

// Wait blocks until this engine's armed tasks finish, bounded by the
// worst-case retry schedule plus the buffer. Tasks still pending at the
// ceiling keep running; the caller just stops waiting.
func (e *Engine) Wait(ctx context.Context) error {
	ceiling := e.initialDelay + time.Duration(e.maxRetries)*e.retryDelay + e.waitBuffer
	wctx, cancel := context.WithTimeout(ctx, ceiling)
	defer cancel()
	err := e.sched.Wait(wctx)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		e.logger.Warn("wait ceiling reached with tasks still pending",
			log.Int("pending", e.sched.Len()),
			log.Dur("ceiling", ceiling))
		return nil
	}
	return err
}

// RunContinuous re-invokes RunOnce on a fixed interval until ctx is
// cancelled. The first pass runs immediately.
func (e *Engine) RunContinuous(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := e.RunOnce(ctx); err != nil {
			e.logger.Error("pass failed", log.Err(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// enhanceQuery stores and returns the enhanced prompt when an Enhancer is
// configured; any failure falls back to the item's raw text.
func (e *Engine) enhanceQuery(ctx context.Context, item *store.WorkItem) string {
	if e.enhancer == nil {
		return item.Query()
	}
	enhanced, err := e.enhancer.Enhance(ctx, item.Text)
	if err != nil || enhanced == "" {
		e.logger.Warn("prompt enhancement failed, using raw text",
			log.Str("ts", item.TS),
			log.Err(err))
		return item.Query()
	}
	if err := e.st.SetEnhancedText(ctx, item.TS, enhanced); err != nil {
		e.logger.Warn("enhanced text not persisted", log.Str("ts", item.TS), log.Err(err))
	}
	return enhanced
}

// scheduleFetch checkpoints a session and arms the first deferred fetch.
func (e *Engine) scheduleFetch(ctx context.Context, item *store.WorkItem, ref string) (string, error) {
	runID := uuid.NewString()
	now := time.Now().UTC()
	sess := &store.Session{
		RunID:       runID,
		ItemTS:      item.TS,
		ResultRef:   ref,
		ScheduledAt: now,
		FireAt:      now.Add(e.initialDelay),
		MaxRetries:  e.maxRetries,
	}
	if err := e.st.PutSession(ctx, sess); err != nil {
		return "", err
	}

	t := &fetchTask{
		runID:     runID,
		itemTS:    item.TS,
		channelID: item.ChannelID,
		threadTS:  item.DeliverThread(),
		resultRef: ref,
	}
	if err := e.sched.Schedule(ctx, runID, e.initialDelay, t.bind(e)); err != nil {
		return "", err
	}
	e.logger.Info("deferred fetch scheduled",
		log.Str("ts", item.TS),
		log.Str("runId", runID),
		log.Dur("delay", e.initialDelay))
	return runID, nil
}

// ResumePending re-arms deferred fetches for sessions checkpointed by an
// earlier process. Resumed tasks fire after the normal retry delay and keep
// their recorded retry count. Returns the number re-armed.
func (e *Engine) ResumePending(ctx context.Context) (int, error) {
	sessions, err := e.st.ListSessions(ctx)
	if err != nil {
		return 0, err
	}
	resumed := 0
	for _, sess := range sessions {
		item, err := e.st.GetItem(ctx, sess.ItemTS)
		if err != nil {
			e.logger.Warn("checkpoint references missing item",
				log.Str("runId", sess.RunID),
				log.Str("ts", sess.ItemTS),
				log.Err(err))
			continue
		}
		if item.ResultDelivered {
			if err := e.st.DeleteSession(ctx, sess.RunID); err != nil {
				e.logger.Warn("stale checkpoint cleanup failed", log.Str("runId", sess.RunID), log.Err(err))
			}
			continue
		}
		t := &fetchTask{
			runID:     sess.RunID,
			itemTS:    sess.ItemTS,
			channelID: item.ChannelID,
			threadTS:  item.DeliverThread(),
			resultRef: sess.ResultRef,
			attempt:   sess.Retries,
		}
		if err := e.sched.Schedule(ctx, sess.RunID, e.retryDelay, t.bind(e)); err != nil {
			return resumed, err
		}
		resumed++
		e.logger.Info("resumed deferred fetch",
			log.Str("runId", sess.RunID),
			log.Str("ts", sess.ItemTS),
			log.Int("retries", sess.Retries))
	}
	return resumed, nil
}
