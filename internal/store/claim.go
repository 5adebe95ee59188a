package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/splitleasesharath/slack-deep-research/internal/lock"
	"github.com/splitleasesharath/slack-deep-research/pkg/log"
)

// systemMessagePatterns identify platform notices that are retired without
// processing. Matching is case-insensitive substring.
var systemMessagePatterns = []string{
	"has joined the channel",
	"has left the channel",
	"set the channel topic",
	"set the channel description",
	"pinned a message",
	"unpinned a message",
	"archived the channel",
	"unarchived the channel",
	"renamed the channel",
	"set the channel purpose",
	"cleared the channel topic",
	"cleared the channel purpose",
}

// IsSystemMessage reports whether text is a platform notice.
func IsSystemMessage(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range systemMessagePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// ClaimNext atomically claims the oldest unclaimed, non-automated item and
// returns a detached snapshot of it. System notices encountered on the way
// are retired (claimed, never processed) and the scan continues; the loop is
// bounded by the number of unclaimed entries, so a long run of consecutive
// notices cannot recurse.
//
// A lock timeout means another worker holds the claim section; that is an
// idle result (nil, nil), not an error. Store write failures propagate and
// leave the item unclaimed.
func (s *Store) ClaimNext(ctx context.Context) (*WorkItem, error) {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	if err := s.guard.Acquire(ctx, s.lockTimeout); err != nil {
		if errors.Is(err, lock.ErrTimeout) {
			s.logger.Warn("claim lock busy; another worker may be active",
				log.Dur("timeout", s.lockTimeout))
			return nil, nil
		}
		return nil, err
	}
	defer func() { _ = s.guard.Release() }()

	for {
		ts, err := s.oldestUnclaimed()
		if err != nil {
			return nil, err
		}
		if ts == "" {
			return nil, nil
		}

		item, err := s.GetItem(ctx, ts)
		if err != nil {
			return nil, err
		}

		if IsSystemMessage(item.Text) {
			if err := s.retire(ctx, item); err != nil {
				return nil, err
			}
			s.logger.Info("retired system message", log.Str("ts", item.TS))
			continue
		}

		if err := s.markClaimed(ctx, item); err != nil {
			return nil, err
		}
		s.logger.Info("claimed item",
			log.Str("ts", item.TS),
			log.Str("user", item.Username))
		snapshot := *item
		return &snapshot, nil
	}
}

// oldestUnclaimed returns the ts of the first unclaimed index entry, or ""
// when the index is empty. Index keys sort by sentAt then ts.
func (s *Store) oldestUnclaimed() (string, error) {
	iter, err := s.db.PrefixIter([]byte(prefixUnclaimed))
	if err != nil {
		return "", err
	}
	defer iter.Close()
	if !iter.First() {
		return "", nil
	}
	ts := tsFromUnclaimedKey(iter.Key())
	if ts == "" {
		return "", fmt.Errorf("store: malformed unclaimed index key %q", iter.Key())
	}
	return ts, nil
}

// markClaimed flips the claim flag and removes the index entry in one batch.
func (s *Store) markClaimed(ctx context.Context, item *WorkItem) error {
	now := time.Now().UTC()
	item.Claimed = true
	item.ClaimedAt = &now

	val, err := encodeItem(item)
	if err != nil {
		return err
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(itemKey(item.TS), val, nil); err != nil {
		return err
	}
	if err := b.Delete(unclaimedKey(item.SentAt.UnixMilli(), item.TS), nil); err != nil {
		return err
	}
	if err := s.db.CommitBatch(ctx, b); err != nil {
		return fmt.Errorf("store: claim item %s: %w", item.TS, err)
	}
	return nil
}

// retire permanently marks a system notice as claimed so it never surfaces
// again.
func (s *Store) retire(ctx context.Context, item *WorkItem) error {
	item.SystemGenerated = true
	return s.markClaimed(ctx, item)
}
