package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/splitleasesharath/slack-deep-research/internal/lock"
	pebblestore "github.com/splitleasesharath/slack-deep-research/internal/storage/pebble"
	"github.com/splitleasesharath/slack-deep-research/pkg/id"
	"github.com/splitleasesharath/slack-deep-research/pkg/log"
)

// ErrNotFound is returned when an item does not exist.
var ErrNotFound = errors.New("store: item not found")

// ErrInvariant is returned when a flag transition would violate the
// lifecycle ordering (jobLaunched implies claimed, delivered implies
// jobLaunched).
var ErrInvariant = errors.New("store: lifecycle invariant violated")

// Options configures a Store.
type Options struct {
	// LockPath is the advisory lock file guarding claims. Required.
	LockPath string
	// LockTimeout bounds the wait for the claim lock. Defaults to 10s.
	LockTimeout time.Duration
	Logger      log.Logger
}

// Store persists work items, retrieval logs, and session checkpoints.
type Store struct {
	db     *pebblestore.DB
	idgen  *id.Generator
	logger log.Logger

	// claimMu serializes claims within the process; guard serializes them
	// across processes. Both are held for the whole claim critical section.
	claimMu     sync.Mutex
	guard       *lock.FileLock
	lockTimeout time.Duration
}

// Open wires a Store over an opened database.
func Open(db *pebblestore.DB, opts Options) (*Store, error) {
	if opts.LockPath == "" {
		return nil, errors.New("store: Options.LockPath is required")
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 10 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{
		db:          db,
		idgen:       id.NewGenerator(),
		logger:      logger.WithComponent("store"),
		guard:       lock.New(opts.LockPath),
		lockTimeout: opts.LockTimeout,
	}, nil
}

// PutItem inserts a new item; it reports false when the ts already exists
// (duplicates are skipped, never overwritten). Claimable items also get an
// unclaimed-index entry in the same batch.
func (s *Store) PutItem(ctx context.Context, item *WorkItem) (bool, error) {
	if item.TS == "" {
		return false, errors.New("store: item ts is empty")
	}
	if _, err := s.db.Get(itemKey(item.TS)); err == nil {
		return false, nil
	} else if !errors.Is(err, pebblestore.ErrNotFound) {
		return false, fmt.Errorf("store: check item %s: %w", item.TS, err)
	}

	val, err := encodeItem(item)
	if err != nil {
		return false, err
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(itemKey(item.TS), val, nil); err != nil {
		return false, err
	}
	if !item.Claimed && !item.Automated {
		if err := b.Set(unclaimedKey(item.SentAt.UnixMilli(), item.TS), nil, nil); err != nil {
			return false, err
		}
	}
	if err := s.db.CommitBatch(ctx, b); err != nil {
		return false, fmt.Errorf("store: put item %s: %w", item.TS, err)
	}
	return true, nil
}

// GetItem loads one item by ts.
func (s *Store) GetItem(ctx context.Context, ts string) (*WorkItem, error) {
	data, err := s.db.Get(itemKey(ts))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get item %s: %w", ts, err)
	}
	return decodeItem(data)
}

// update applies fn to the stored item and writes it back, optionally with
// extra batch mutations supplied by fn via the batch argument.
func (s *Store) update(ctx context.Context, ts string, fn func(item *WorkItem, b *pebble.Batch) error) (*WorkItem, error) {
	item, err := s.GetItem(ctx, ts)
	if err != nil {
		return nil, err
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := fn(item, b); err != nil {
		return nil, err
	}
	val, err := encodeItem(item)
	if err != nil {
		return nil, err
	}
	if err := b.Set(itemKey(ts), val, nil); err != nil {
		return nil, err
	}
	if err := s.db.CommitBatch(ctx, b); err != nil {
		return nil, fmt.Errorf("store: update item %s: %w", ts, err)
	}
	return item, nil
}

// MarkJobLaunched records a successful job launch and its result reference.
func (s *Store) MarkJobLaunched(ctx context.Context, ts, resultRef string) error {
	_, err := s.update(ctx, ts, func(item *WorkItem, _ *pebble.Batch) error {
		if !item.Claimed {
			return fmt.Errorf("%w: jobLaunched on unclaimed item %s", ErrInvariant, ts)
		}
		now := time.Now().UTC()
		item.JobLaunched = true
		item.JobLaunchedAt = &now
		item.ResultRef = resultRef
		return nil
	})
	return err
}

// MarkDelivered finalizes an item after its result reached the destination.
func (s *Store) MarkDelivered(ctx context.Context, ts, deliveredThreadTS string) error {
	_, err := s.update(ctx, ts, func(item *WorkItem, _ *pebble.Batch) error {
		if !item.JobLaunched {
			return fmt.Errorf("%w: delivered before jobLaunched on item %s", ErrInvariant, ts)
		}
		now := time.Now().UTC()
		item.ResultDelivered = true
		item.ResultDeliveredAt = &now
		item.DeliveredThreadTS = deliveredThreadTS
		return nil
	})
	return err
}

// SetEnhancedText stores the preprocessed prompt for an item.
func (s *Store) SetEnhancedText(ctx context.Context, ts, text string) error {
	_, err := s.update(ctx, ts, func(item *WorkItem, _ *pebble.Batch) error {
		item.EnhancedText = text
		return nil
	})
	return err
}

// ResetClaim returns a claimed item to the unclaimed pool. This is the
// explicit failure-recovery path used when job launch fails: the claim flag
// is cleared and the index entry restored so the next pass retries the item.
func (s *Store) ResetClaim(ctx context.Context, ts string) error {
	_, err := s.update(ctx, ts, func(item *WorkItem, b *pebble.Batch) error {
		if item.JobLaunched {
			return fmt.Errorf("%w: reset claim after jobLaunched on item %s", ErrInvariant, ts)
		}
		item.Claimed = false
		item.ClaimedAt = nil
		return b.Set(unclaimedKey(item.SentAt.UnixMilli(), item.TS), nil, nil)
	})
	return err
}

// Stats are pipeline counters over the whole item table.
type Stats struct {
	Total       int
	Unclaimed   int
	Claimed     int
	JobLaunched int
	Delivered   int
	System      int
	Automated   int
}

// CountStats scans the item rows and tallies lifecycle counters.
func (s *Store) CountStats(ctx context.Context) (Stats, error) {
	iter, err := s.db.PrefixIter([]byte(prefixItem))
	if err != nil {
		return Stats{}, err
	}
	defer iter.Close()

	var st Stats
	for ok := iter.First(); ok; ok = iter.Next() {
		item, err := decodeItem(iter.Value())
		if err != nil {
			return st, err
		}
		st.Total++
		switch {
		case item.ResultDelivered:
			st.Delivered++
		case item.JobLaunched:
			st.JobLaunched++
		case item.Claimed:
			st.Claimed++
		default:
			st.Unclaimed++
		}
		if item.SystemGenerated {
			st.System++
		}
		if item.Automated {
			st.Automated++
		}
	}
	return st, nil
}

// AppendRetrievalLog writes one audit row for an ingestion pass and returns
// its assigned ID.
func (s *Store) AppendRetrievalLog(ctx context.Context, row *RetrievalLog) (string, error) {
	rowID := s.idgen.Next()
	row.ID = rowID.String()
	val, err := json.Marshal(row)
	if err != nil {
		return "", fmt.Errorf("store: encode retrieval log: %w", err)
	}
	if err := s.db.Set(rlogKey(rowID), val); err != nil {
		return "", fmt.Errorf("store: append retrieval log: %w", err)
	}
	return row.ID, nil
}

// ListRetrievalLogs returns up to limit rows, oldest first.
func (s *Store) ListRetrievalLogs(ctx context.Context, limit int) ([]*RetrievalLog, error) {
	iter, err := s.db.PrefixIter([]byte(prefixRLog))
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var rows []*RetrievalLog
	for ok := iter.First(); ok && (limit <= 0 || len(rows) < limit); ok = iter.Next() {
		var row RetrievalLog
		if err := json.Unmarshal(iter.Value(), &row); err != nil {
			return nil, fmt.Errorf("store: decode retrieval log: %w", err)
		}
		rows = append(rows, &row)
	}
	return rows, nil
}

// PutSession checkpoints an in-flight deferred task.
func (s *Store) PutSession(ctx context.Context, sess *Session) error {
	val, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("store: encode session %s: %w", sess.RunID, err)
	}
	return s.db.Set(sessionKey(sess.RunID), val)
}

// GetSession loads one checkpoint by run ID.
func (s *Store) GetSession(ctx context.Context, runID string) (*Session, error) {
	data, err := s.db.Get(sessionKey(runID))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get session %s: %w", runID, err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("store: decode session %s: %w", runID, err)
	}
	return &sess, nil
}

// DeleteSession removes a checkpoint once its task completed.
func (s *Store) DeleteSession(ctx context.Context, runID string) error {
	return s.db.Delete(sessionKey(runID))
}

// ListSessions returns all outstanding checkpoints.
func (s *Store) ListSessions(ctx context.Context) ([]*Session, error) {
	iter, err := s.db.PrefixIter([]byte(prefixSession))
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []*Session
	for ok := iter.First(); ok; ok = iter.Next() {
		var sess Session
		if err := json.Unmarshal(iter.Value(), &sess); err != nil {
			return nil, fmt.Errorf("store: decode session: %w", err)
		}
		out = append(out, &sess)
	}
	return out, nil
}

// PurgeSessions drops checkpoints scheduled before cutoff, skipping any run
// ID the caller reports as still armed. A nil inUse skips nothing. Returns
// the number removed.
func (s *Store) PurgeSessions(ctx context.Context, cutoff time.Time, inUse func(runID string) bool) (int, error) {
	sessions, err := s.ListSessions(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, sess := range sessions {
		if !sess.ScheduledAt.Before(cutoff) {
			continue
		}
		if inUse != nil && inUse(sess.RunID) {
			continue
		}
		if err := s.DeleteSession(ctx, sess.RunID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
