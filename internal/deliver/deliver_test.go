package deliver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

type fakeSender struct {
	sent      []sentMsg
	failParts map[int]error // 1-based send ordinal -> error
}

type sentMsg struct {
	channelID string
	threadTS  string
	text      string
}

func (f *fakeSender) SendNew(ctx context.Context, channelID, text string) (string, error) {
	return f.record(channelID, "", text)
}

func (f *fakeSender) SendToThread(ctx context.Context, channelID, threadTS, text string) (string, error) {
	return f.record(channelID, threadTS, text)
}

func (f *fakeSender) record(channelID, threadTS, text string) (string, error) {
	ordinal := len(f.sent) + 1
	if err, ok := f.failParts[ordinal]; ok {
		f.sent = append(f.sent, sentMsg{channelID, threadTS, ""})
		return "", err
	}
	f.sent = append(f.sent, sentMsg{channelID, threadTS, text})
	return fmt.Sprintf("ts-%03d", ordinal), nil
}

func newTestDeliverer(t *testing.T, sender Sender, limit int) *Deliverer {
	t.Helper()
	d, err := New(sender, Options{ChunkLimit: limit, ChunkDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return d
}

func TestSplitChunksBoundaries(t *testing.T) {
	exact := strings.Repeat("a", 100)
	if got := SplitChunks(exact, 100); len(got) != 1 {
		t.Fatalf("exact ceiling: %d chunks, want 1", len(got))
	}
	over := strings.Repeat("a", 101)
	got := SplitChunks(over, 100)
	if len(got) != 2 {
		t.Fatalf("ceiling+1: %d chunks, want 2", len(got))
	}
	if got[0]+got[1] != over {
		t.Fatalf("chunks do not reassemble")
	}
	if len([]rune(got[1])) != 1 {
		t.Fatalf("second chunk = %d runes, want 1", len([]rune(got[1])))
	}
}

func TestSplitChunksRuneSafe(t *testing.T) {
	// Multibyte runes must never be split mid-encoding.
	text := strings.Repeat("日本語テキスト", 50)
	chunks := SplitChunks(text, 64)
	if strings.Join(chunks, "") != text {
		t.Fatalf("chunks do not reassemble the original")
	}
	for i := range chunks {
		if !strings.HasPrefix(text, strings.Join(chunks[:i+1], "")) {
			t.Fatalf("chunk %d breaks rune boundaries", i)
		}
	}
}

func TestDeliverSingleChunk(t *testing.T) {
	s := &fakeSender{}
	d := newTestDeliverer(t, s, 100)

	res, err := d.Deliver(context.Background(), "C1", "th-1", "Research Report", "short body")
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if len(s.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(s.sent))
	}
	if s.sent[0].text != "Research Report\n\nshort body" {
		t.Fatalf("message = %q", s.sent[0].text)
	}
	if s.sent[0].threadTS != "th-1" {
		t.Fatalf("threadTS = %q", s.sent[0].threadTS)
	}
	if res.Sent() != 1 || res.ThreadTS != "th-1" {
		t.Fatalf("result = %+v", res)
	}
}

func TestDeliverMultiChunkReassembles(t *testing.T) {
	s := &fakeSender{}
	d := newTestDeliverer(t, s, 50)
	body := strings.Repeat("0123456789", 13) // 130 runes -> 3 chunks

	res, err := d.Deliver(context.Background(), "C1", "th-1", "HDR", body)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if len(s.sent) != 3 || res.Sent() != 3 {
		t.Fatalf("sent %d, want 3", len(s.sent))
	}

	// Strip header and part markers; the remainder must be the original.
	var rebuilt strings.Builder
	for i, m := range s.sent {
		text := m.text
		if i == 0 {
			text = strings.TrimPrefix(text, "HDR\n\n")
		} else {
			marker := fmt.Sprintf("[Part %d/3]\n", i+1)
			if !strings.HasPrefix(text, marker) {
				t.Fatalf("chunk %d missing marker %q: %q", i+1, marker, text[:20])
			}
			text = strings.TrimPrefix(text, marker)
		}
		rebuilt.WriteString(text)
	}
	if rebuilt.String() != body {
		t.Fatalf("reassembled text differs from original")
	}
}

func TestDeliverNewThreadChaining(t *testing.T) {
	s := &fakeSender{}
	d := newTestDeliverer(t, s, 10)

	res, err := d.Deliver(context.Background(), "C1", "", "", strings.Repeat("x", 25))
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	// First chunk opens the thread; the rest reply under its ts.
	if s.sent[0].threadTS != "" {
		t.Fatalf("first chunk should start a new thread")
	}
	for i, m := range s.sent[1:] {
		if m.threadTS != "ts-001" {
			t.Fatalf("chunk %d posted to thread %q, want ts-001", i+2, m.threadTS)
		}
	}
	if res.ThreadTS != "ts-001" {
		t.Fatalf("result thread = %q", res.ThreadTS)
	}
}

func TestDeliverPartialFailureNoRollback(t *testing.T) {
	sendErr := errors.New("rate limited")
	s := &fakeSender{failParts: map[int]error{2: sendErr}}
	d := newTestDeliverer(t, s, 10)

	res, err := d.Deliver(context.Background(), "C1", "th-1", "", strings.Repeat("x", 25))
	if err == nil {
		t.Fatalf("expected partial failure error")
	}
	if !strings.Contains(err.Error(), "parts [2]") {
		t.Fatalf("error does not name failed part: %v", err)
	}
	// All three chunks were attempted; two landed.
	if len(res.Receipts) != 3 || res.Sent() != 2 {
		t.Fatalf("receipts=%d sent=%d, want 3/2", len(res.Receipts), res.Sent())
	}
	if !errors.Is(res.Receipts[1].Err, sendErr) {
		t.Fatalf("receipt 2 error = %v", res.Receipts[1].Err)
	}
	if res.Receipts[0].Err != nil || res.Receipts[2].Err != nil {
		t.Fatalf("successful receipts must carry no error")
	}
}

func TestDeliverContextCancelBetweenChunks(t *testing.T) {
	s := &fakeSender{}
	d := newTestDeliverer(t, s, 10)
	d.delay = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := d.Deliver(ctx, "C1", "th-1", "", strings.Repeat("x", 35))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if len(s.sent) == 0 || len(s.sent) == 4 {
		t.Fatalf("expected a partial send, got %d", len(s.sent))
	}
}
