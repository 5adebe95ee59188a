package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	pebblestore "github.com/splitleasesharath/slack-deep-research/internal/storage/pebble"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: filepath.Join(dir, "db")})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	st, err := Open(db, Options{LockPath: filepath.Join(dir, "claim.lock")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return st
}

func testItem(ts string, sentAt time.Time, text string) *WorkItem {
	return &WorkItem{
		TS:          ts,
		ChannelID:   "C001",
		UserID:      "U001",
		Username:    "alice",
		Text:        text,
		SentAt:      sentAt,
		RetrievedAt: time.Now().UTC(),
	}
}

func TestPutItemDuplicateSkipped(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	added, err := st.PutItem(ctx, testItem("1700000000.000100", base, "first"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if !added {
		t.Fatalf("expected first insert to add")
	}

	added, err = st.PutItem(ctx, testItem("1700000000.000100", base, "changed text"))
	if err != nil {
		t.Fatalf("put duplicate: %v", err)
	}
	if added {
		t.Fatalf("duplicate ts must be skipped")
	}

	got, err := st.GetItem(ctx, "1700000000.000100")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Text != "first" {
		t.Fatalf("duplicate insert overwrote row: got %q", got.Text)
	}
}

func TestClaimNextEmpty(t *testing.T) {
	st := newTestStore(t)
	item, err := st.ClaimNext(context.Background())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if item != nil {
		t.Fatalf("expected no item, got %v", item)
	}
}

func TestClaimNextOrdering(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// Insert out of order; claims must come back oldest sentAt first, with
	// sentAt ties broken by ts.
	inserts := []*WorkItem{
		testItem("1700000003.000300", base.Add(3*time.Minute), "third"),
		testItem("1700000001.000100", base.Add(1*time.Minute), "first"),
		testItem("1700000002.000250", base.Add(2*time.Minute), "tie-b"),
		testItem("1700000002.000200", base.Add(2*time.Minute), "tie-a"),
	}
	for _, it := range inserts {
		if _, err := st.PutItem(ctx, it); err != nil {
			t.Fatalf("put %s: %v", it.TS, err)
		}
	}

	want := []string{"first", "tie-a", "tie-b", "third"}
	for i, text := range want {
		item, err := st.ClaimNext(ctx)
		if err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		if item == nil {
			t.Fatalf("claim %d: expected item %q, got none", i, text)
		}
		if item.Text != text {
			t.Fatalf("claim %d: got %q, want %q", i, item.Text, text)
		}
		if !item.Claimed || item.ClaimedAt == nil {
			t.Fatalf("claim %d: flags not set on snapshot", i)
		}
	}

	item, err := st.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("final claim: %v", err)
	}
	if item != nil {
		t.Fatalf("queue should be drained, got %q", item.Text)
	}
}

func TestClaimNextRetiresSystemMessages(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	if _, err := st.PutItem(ctx, testItem("1.000100", base, "Alice has joined the channel")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := st.PutItem(ctx, testItem("1.000200", base.Add(time.Second), "Bob set the channel topic: hello")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := st.PutItem(ctx, testItem("1.000300", base.Add(2*time.Second), "research golang schedulers")); err != nil {
		t.Fatalf("put: %v", err)
	}

	item, err := st.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if item == nil || item.Text != "research golang schedulers" {
		t.Fatalf("expected the real request past two notices, got %v", item)
	}

	for _, ts := range []string{"1.000100", "1.000200"} {
		notice, err := st.GetItem(ctx, ts)
		if err != nil {
			t.Fatalf("get %s: %v", ts, err)
		}
		if !notice.Claimed || !notice.SystemGenerated {
			t.Fatalf("notice %s not retired: claimed=%v system=%v", ts, notice.Claimed, notice.SystemGenerated)
		}
		if notice.JobLaunched {
			t.Fatalf("notice %s must never launch a job", ts)
		}
	}
}

func TestClaimExclusivity(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, err := st.PutItem(ctx, testItem("2.000100", time.Now().UTC(), "only one")); err != nil {
		t.Fatalf("put: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan *WorkItem, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			item, err := st.ClaimNext(ctx)
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			results <- item
		}()
	}
	wg.Wait()
	close(results)

	won := 0
	for item := range results {
		if item != nil {
			won++
		}
	}
	if won != 1 {
		t.Fatalf("expected exactly one winner, got %d", won)
	}
}

func TestAutomatedNotClaimable(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	bot := testItem("3.000100", time.Now().UTC(), "automated digest")
	bot.Automated = true
	if _, err := st.PutItem(ctx, bot); err != nil {
		t.Fatalf("put: %v", err)
	}

	item, err := st.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if item != nil {
		t.Fatalf("automated item must not be claimable, got %q", item.Text)
	}
	// The row still exists for the audit trail.
	if _, err := st.GetItem(ctx, "3.000100"); err != nil {
		t.Fatalf("get: %v", err)
	}
}

func TestLifecycleInvariants(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, err := st.PutItem(ctx, testItem("4.000100", time.Now().UTC(), "req")); err != nil {
		t.Fatalf("put: %v", err)
	}

	if err := st.MarkJobLaunched(ctx, "4.000100", "https://example.com/r/1"); !errors.Is(err, ErrInvariant) {
		t.Fatalf("jobLaunched on unclaimed item: got %v, want ErrInvariant", err)
	}
	if err := st.MarkDelivered(ctx, "4.000100", "4.000100"); !errors.Is(err, ErrInvariant) {
		t.Fatalf("delivered before launch: got %v, want ErrInvariant", err)
	}

	if _, err := st.ClaimNext(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := st.MarkJobLaunched(ctx, "4.000100", "https://example.com/r/1"); err != nil {
		t.Fatalf("jobLaunched: %v", err)
	}
	if err := st.MarkDelivered(ctx, "4.000100", "4.000100"); err != nil {
		t.Fatalf("delivered: %v", err)
	}

	got, err := st.GetItem(ctx, "4.000100")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Claimed || !got.JobLaunched || !got.ResultDelivered {
		t.Fatalf("lifecycle flags incomplete: %+v", got)
	}
	if got.ResultRef != "https://example.com/r/1" {
		t.Fatalf("result ref not recorded: %q", got.ResultRef)
	}
}

func TestResetClaim(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, err := st.PutItem(ctx, testItem("5.000100", time.Now().UTC(), "req")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := st.ClaimNext(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if err := st.ResetClaim(ctx, "5.000100"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	got, err := st.GetItem(ctx, "5.000100")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Claimed || got.ClaimedAt != nil {
		t.Fatalf("claim not cleared: %+v", got)
	}

	// The item is claimable again.
	item, err := st.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if item == nil || item.TS != "5.000100" {
		t.Fatalf("expected reclaim of 5.000100, got %v", item)
	}

	// Once the job launched, the claim is no longer resettable.
	if err := st.MarkJobLaunched(ctx, "5.000100", "ref"); err != nil {
		t.Fatalf("launch: %v", err)
	}
	if err := st.ResetClaim(ctx, "5.000100"); !errors.Is(err, ErrInvariant) {
		t.Fatalf("reset after launch: got %v, want ErrInvariant", err)
	}
}

func TestSetEnhancedText(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	it := testItem("6.000100", time.Now().UTC(), "raw question")
	if _, err := st.PutItem(ctx, it); err != nil {
		t.Fatalf("put: %v", err)
	}
	if got := it.Query(); got != "raw question" {
		t.Fatalf("query before enhancement: %q", got)
	}

	if err := st.SetEnhancedText(ctx, "6.000100", "refined question"); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := st.GetItem(ctx, "6.000100")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Query() != "refined question" {
		t.Fatalf("query after enhancement: %q", got.Query())
	}
	if got.Text != "raw question" {
		t.Fatalf("raw text must be preserved: %q", got.Text)
	}
}

func TestCountStats(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	bot := testItem("7.000050", base, "bot post")
	bot.Automated = true
	if _, err := st.PutItem(ctx, bot); err != nil {
		t.Fatalf("put: %v", err)
	}
	for i, text := range []string{"a", "b", "c"} {
		it := testItem(fmt.Sprintf("7.0001%02d", i), base.Add(time.Duration(i)*time.Second), text)
		if _, err := st.PutItem(ctx, it); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	if _, err := st.ClaimNext(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := st.MarkJobLaunched(ctx, "7.000100", "ref"); err != nil {
		t.Fatalf("launch: %v", err)
	}

	stats, err := st.CountStats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 4 || stats.JobLaunched != 1 || stats.Unclaimed != 3 || stats.Automated != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestRetrievalLogs(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		row := &RetrievalLog{
			StartedAt:   now.Add(time.Duration(i) * time.Minute),
			CompletedAt: now.Add(time.Duration(i)*time.Minute + time.Second),
			ChannelID:   "C001",
			Found:       i + 1,
			Status:      "completed",
		}
		id, err := st.AppendRetrievalLog(ctx, row)
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if id == "" || row.ID != id {
			t.Fatalf("row id not assigned: %q vs %q", id, row.ID)
		}
	}

	rows, err := st.ListRetrievalLogs(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	// IDs are time-sortable, so listing is append order.
	for i := 1; i < len(rows); i++ {
		if rows[i-1].ID >= rows[i].ID {
			t.Fatalf("rows out of order: %q then %q", rows[i-1].ID, rows[i].ID)
		}
	}

	limited, err := st.ListRetrievalLogs(ctx, 2)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("limit ignored: got %d rows", len(limited))
	}
}

func TestSessionCheckpoints(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	old := &Session{
		RunID:       "run-old",
		ItemTS:      "8.000100",
		ResultRef:   "https://example.com/r/old",
		ScheduledAt: now.Add(-48 * time.Hour),
		FireAt:      now.Add(-47 * time.Hour),
		MaxRetries:  3,
	}
	fresh := &Session{
		RunID:       "run-fresh",
		ItemTS:      "8.000200",
		ResultRef:   "https://example.com/r/fresh",
		ScheduledAt: now,
		FireAt:      now.Add(20 * time.Minute),
		MaxRetries:  3,
	}
	for _, sess := range []*Session{old, fresh} {
		if err := st.PutSession(ctx, sess); err != nil {
			t.Fatalf("put session %s: %v", sess.RunID, err)
		}
	}

	all, err := st.ListSessions(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(all))
	}

	// An armed checkpoint survives the purge no matter how old it is.
	removed, err := st.PurgeSessions(ctx, now.Add(-24*time.Hour), func(runID string) bool {
		return runID == "run-old"
	})
	if err != nil {
		t.Fatalf("purge with armed checkpoint: %v", err)
	}
	if removed != 0 {
		t.Fatalf("purged an armed checkpoint")
	}

	removed, err = st.PurgeSessions(ctx, now.Add(-24*time.Hour), nil)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 purged, got %d", removed)
	}

	all, err = st.ListSessions(ctx)
	if err != nil {
		t.Fatalf("list after purge: %v", err)
	}
	if len(all) != 1 || all[0].RunID != "run-fresh" {
		t.Fatalf("wrong survivor: %+v", all)
	}

	if err := st.DeleteSession(ctx, "run-fresh"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	all, err = st.ListSessions(ctx)
	if err != nil {
		t.Fatalf("list after delete: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected empty, got %d", len(all))
	}
}

func TestIsSystemMessage(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"Alice has joined the channel", true},
		{"bob HAS LEFT THE CHANNEL", true},
		{"carol pinned a message to this channel", true},
		{"dan renamed the channel from x to y", true},
		{"research the channel capacity of fiber links", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsSystemMessage(tc.text); got != tc.want {
			t.Errorf("IsSystemMessage(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}
