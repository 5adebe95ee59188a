package deliver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/splitleasesharath/slack-deep-research/pkg/log"
)

// Sender posts messages to the chat platform. Implemented by the slack
// package; tests substitute fakes.
type Sender interface {
	// SendNew posts a top-level channel message and returns its ts.
	SendNew(ctx context.Context, channelID, text string) (string, error)
	// SendToThread posts a reply in threadTS and returns the reply's ts.
	SendToThread(ctx context.Context, channelID, threadTS, text string) (string, error)
}

// ChunkReceipt records the outcome of one chunk send.
type ChunkReceipt struct {
	Index int // 1-based
	Total int
	TS    string
	Err   error
}

// Result is the per-chunk outcome of one delivery.
type Result struct {
	Receipts []ChunkReceipt
	// ThreadTS is the thread the delivery landed in: the destination thread,
	// or the first chunk's ts when the delivery started a new thread.
	ThreadTS string
}

// Sent reports how many chunks were acknowledged.
func (r *Result) Sent() int {
	n := 0
	for _, rec := range r.Receipts {
		if rec.Err == nil {
			n++
		}
	}
	return n
}

// Options configures a Deliverer.
type Options struct {
	// ChunkLimit is the per-message ceiling in runes. Defaults to 35000.
	ChunkLimit int
	// ChunkDelay is the pause between consecutive chunk sends. Defaults to 1s.
	ChunkDelay time.Duration
	Logger     log.Logger
}

// Deliverer chunks and sends report text.
type Deliverer struct {
	sender Sender
	limit  int
	delay  time.Duration
	logger log.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// New returns a Deliverer posting through sender.
func New(sender Sender, opts Options) (*Deliverer, error) {
	if sender == nil {
		return nil, errors.New("deliver: sender is required")
	}
	if opts.ChunkLimit <= 0 {
		opts.ChunkLimit = 35000
	}
	if opts.ChunkDelay <= 0 {
		opts.ChunkDelay = time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	return &Deliverer{
		sender: sender,
		limit:  opts.ChunkLimit,
		delay:  opts.ChunkDelay,
		logger: logger.WithComponent("deliver"),
		sleep:  sleepCtx,
	}, nil
}

// Deliver sends text to the destination. A non-empty threadTS posts replies
// there; otherwise the first chunk starts a new thread and the rest reply to
// it. The header rides on the first chunk; later chunks carry a [Part i/N]
// marker. Sent chunks stay sent when a later chunk fails; the error names
// the failed parts and the Result carries every receipt.
func (d *Deliverer) Deliver(ctx context.Context, channelID, threadTS, header, text string) (*Result, error) {
	chunks := SplitChunks(text, d.limit)
	total := len(chunks)
	res := &Result{ThreadTS: threadTS}

	d.logger.Info("delivering report",
		log.Str("channel", channelID),
		log.Int("chunks", total),
		log.Int("runes", len([]rune(text))))

	var failed []int
	for i, chunk := range chunks {
		if i > 0 {
			if err := d.sleep(ctx, d.delay); err != nil {
				return res, err
			}
		}

		msg := composeChunk(header, chunk, i+1, total)
		ts, err := d.send(ctx, channelID, res.ThreadTS, msg)
		rec := ChunkReceipt{Index: i + 1, Total: total, TS: ts, Err: err}
		res.Receipts = append(res.Receipts, rec)
		if err != nil {
			failed = append(failed, i+1)
			d.logger.Error("chunk send failed",
				log.Int("part", i+1),
				log.Int("of", total),
				log.Err(err))
			continue
		}
		if res.ThreadTS == "" {
			res.ThreadTS = ts
		}
	}

	if len(failed) > 0 {
		return res, fmt.Errorf("deliver: %d of %d chunks failed (parts %v)", len(failed), total, failed)
	}
	return res, nil
}

func (d *Deliverer) send(ctx context.Context, channelID, threadTS, msg string) (string, error) {
	if threadTS == "" {
		return d.sender.SendNew(ctx, channelID, msg)
	}
	return d.sender.SendToThread(ctx, channelID, threadTS, msg)
}

// composeChunk prefixes the header on part 1 and a part marker afterwards.
func composeChunk(header, chunk string, part, total int) string {
	if part == 1 {
		if header == "" {
			return chunk
		}
		return header + "\n\n" + chunk
	}
	return fmt.Sprintf("[Part %d/%d]\n%s", part, total, chunk)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
