package engine

import (
	"context"
	"time"

	"github.com/splitleasesharath/slack-deep-research/internal/scheduler"
	"github.com/splitleasesharath/slack-deep-research/pkg/log"
)

// fetchTask is one deferred retrieval for a launched job. The task owns its
// retry state; the engine only arms timers for it.
type fetchTask struct {
	runID     string
	itemTS    string
	channelID string
	threadTS  string
	resultRef string

	// attempt counts fetches already made; 0 means the initial attempt is
	// still ahead.
	attempt int
	// lastText is the most recent fetched content, delivered annotated when
	// retries run out.
	lastText string
}

// bind returns the scheduler callback for one firing of t.
func (t *fetchTask) bind(e *Engine) scheduler.Task {
	return func(ctx context.Context) { e.runFetch(ctx, t) }
}

// runFetch performs one fetch attempt and either delivers, reschedules, or
// exhausts.
func (e *Engine) runFetch(ctx context.Context, t *fetchTask) {
	t.attempt++
	logger := e.logger.With(
		log.Str("runId", t.runID),
		log.Str("ts", t.itemTS),
		log.Int("attempt", t.attempt))

	text, err := e.fetcher.Fetch(ctx, t.resultRef)
	switch {
	case err != nil:
		logger.Warn("fetch attempt failed", log.Err(err))
	case e.isIncomplete != nil && e.isIncomplete(text):
		logger.Info("result incomplete", log.Int("length", len(text)))
		t.lastText = text
	default:
		t.lastText = text
		e.deliverResult(ctx, t, text, false)
		return
	}

	if t.attempt <= e.maxRetries {
		e.reschedule(ctx, t)
		return
	}

	// Retries exhausted: deliver whatever we have, annotated as partial.
	logger.Warn("retries exhausted, delivering partial result",
		log.Int("length", len(t.lastText)))
	e.deliverResult(ctx, t, t.lastText, true)
}

// reschedule arms the next attempt and advances the session checkpoint.
func (e *Engine) reschedule(ctx context.Context, t *fetchTask) {
	sess, err := e.st.GetSession(ctx, t.runID)
	if err == nil {
		sess.Retries = t.attempt
		sess.FireAt = time.Now().UTC().Add(e.retryDelay)
		if perr := e.st.PutSession(ctx, sess); perr != nil {
			e.logger.Warn("checkpoint update failed", log.Str("runId", t.runID), log.Err(perr))
		}
	}
	if err := e.sched.Schedule(ctx, t.runID, e.retryDelay, t.bind(e)); err != nil {
		e.logger.Error("reschedule failed", log.Str("runId", t.runID), log.Err(err))
	}
}

// deliverResult sends text to the item's thread and finalizes the item. A
// partial delivery carries an annotation under the header. Sent chunks stay
// sent on partial failure; the item is finalized only when every chunk
// landed.
func (e *Engine) deliverResult(ctx context.Context, t *fetchTask, text string, partial bool) {
	logger := e.logger.With(log.Str("runId", t.runID), log.Str("ts", t.itemTS))

	if text == "" {
		// Nothing was ever fetched; point the requester at the reference.
		text = "The report could not be retrieved automatically. It may still be available at: " + t.resultRef
	}
	header := e.header
	if partial {
		header += "\n" + partialNote
	}

	res, err := e.deliverer.Deliver(ctx, t.channelID, t.threadTS, header, text)
	if err != nil {
		// The session stays on disk so the next run resumes this delivery.
		logger.Error("delivery failed", log.Err(err))
		return
	}
	if err := e.st.MarkDelivered(ctx, t.itemTS, res.ThreadTS); err != nil {
		logger.Error("finalize failed", log.Err(err))
		return
	}
	if err := e.st.DeleteSession(ctx, t.runID); err != nil {
		logger.Warn("checkpoint cleanup failed", log.Err(err))
	}
	logger.Info("result delivered",
		log.Int("chunks", len(res.Receipts)),
		log.Bool("partial", partial))
}
