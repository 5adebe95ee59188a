package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/splitleasesharath/slack-deep-research/internal/slack"
	"github.com/splitleasesharath/slack-deep-research/internal/store"
	"github.com/splitleasesharath/slack-deep-research/pkg/log"
)

// Source fetches channel history. Implemented by the slack client; tests
// substitute fakes.
type Source interface {
	FetchHistory(ctx context.Context, channelID string, since, until time.Time, includeThreads bool) ([]slack.Message, error)
}

// Stats are the counts of one ingestion pass.
type Stats struct {
	Found             int
	Added             int
	DuplicateSkipped  int
	AutomatedFiltered int
}

// Options configures a Syncer.
type Options struct {
	// ChannelID is the channel to ingest. Required.
	ChannelID string
	// Window is the trailing history window. Defaults to 24h.
	Window time.Duration
	// IncludeThreads pulls thread replies as well.
	IncludeThreads bool
	// ExcludeAutomated drops bot messages instead of storing them.
	ExcludeAutomated bool
	Logger           log.Logger
}

// Syncer ingests channel history into the store.
type Syncer struct {
	src  Source
	st   *store.Store
	opts Options

	now func() time.Time
}

// NewSyncer wires a Syncer over src and st.
func NewSyncer(src Source, st *store.Store, opts Options) (*Syncer, error) {
	if src == nil || st == nil {
		return nil, errors.New("ingest: source and store are required")
	}
	if opts.ChannelID == "" {
		return nil, errors.New("ingest: Options.ChannelID is required")
	}
	if opts.Window <= 0 {
		opts.Window = 24 * time.Hour
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNop()
	}
	opts.Logger = opts.Logger.WithComponent("ingest")
	return &Syncer{src: src, st: st, opts: opts, now: time.Now}, nil
}

// Sync runs one ingestion pass and returns its counts. An audit row is
// written whether the pass completes or fails.
func (s *Syncer) Sync(ctx context.Context) (Stats, error) {
	started := s.now().UTC()
	since := started.Add(-s.opts.Window)
	row := &store.RetrievalLog{
		StartedAt:   started,
		ChannelID:   s.opts.ChannelID,
		WindowStart: since,
		WindowEnd:   started,
	}

	msgs, err := s.src.FetchHistory(ctx, s.opts.ChannelID, since, started, s.opts.IncludeThreads)
	if err != nil {
		row.CompletedAt = s.now().UTC()
		row.Status = "failed"
		row.Error = err.Error()
		if _, lerr := s.st.AppendRetrievalLog(ctx, row); lerr != nil {
			s.opts.Logger.Error("audit row write failed", log.Err(lerr))
		}
		return Stats{}, fmt.Errorf("ingest: fetch history: %w", err)
	}

	var stats Stats
	for _, m := range msgs {
		if m.TS == "" {
			continue
		}
		stats.Found++
		if m.Automated {
			stats.AutomatedFiltered++
			if s.opts.ExcludeAutomated {
				continue
			}
		}
		added, err := s.st.PutItem(ctx, &store.WorkItem{
			TS:          m.TS,
			ChannelID:   s.opts.ChannelID,
			ThreadTS:    m.ThreadTS,
			UserID:      m.UserID,
			Username:    m.Username,
			Text:        m.Text,
			SentAt:      m.SentAt,
			RetrievedAt: started,
			Automated:   m.Automated,
		})
		if err != nil {
			row.CompletedAt = s.now().UTC()
			row.Status = "failed"
			row.Error = err.Error()
			if _, lerr := s.st.AppendRetrievalLog(ctx, row); lerr != nil {
				s.opts.Logger.Error("audit row write failed", log.Err(lerr))
			}
			return stats, fmt.Errorf("ingest: store item %s: %w", m.TS, err)
		}
		if added {
			stats.Added++
		} else {
			stats.DuplicateSkipped++
		}
	}

	row.CompletedAt = s.now().UTC()
	row.Status = "completed"
	row.Found = stats.Found
	row.Added = stats.Added
	row.DuplicateSkipped = stats.DuplicateSkipped
	row.AutomatedFiltered = stats.AutomatedFiltered
	if _, err := s.st.AppendRetrievalLog(ctx, row); err != nil {
		return stats, fmt.Errorf("ingest: audit row: %w", err)
	}

	s.opts.Logger.Info("ingestion pass complete",
		log.Int("found", stats.Found),
		log.Int("added", stats.Added),
		log.Int("duplicates", stats.DuplicateSkipped),
		log.Int("automated", stats.AutomatedFiltered))
	return stats, nil
}
