package slack

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	slackapi "github.com/slack-go/slack"

	"github.com/splitleasesharath/slack-deep-research/pkg/log"
)

// Message is one channel message in the neutral shape ingestion consumes.
type Message struct {
	TS       string
	ThreadTS string
	UserID   string
	Username string
	Text     string
	SentAt   time.Time
	// Automated marks bot-authored messages.
	Automated bool
}

// historyPageSize is the per-request message limit for history calls.
const historyPageSize = 200

// Options configures a Client.
type Options struct {
	// Token is the bot token. Required.
	Token  string
	Logger log.Logger
}

// Client wraps the Slack Web API.
type Client struct {
	api    *slackapi.Client
	logger log.Logger

	mu        sync.Mutex
	usernames map[string]string
}

// NewClient returns a Client for the workspace the token belongs to.
func NewClient(opts Options) (*Client, error) {
	if opts.Token == "" {
		return nil, errors.New("slack: Options.Token is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	return &Client{
		api:       slackapi.New(opts.Token),
		logger:    logger.WithComponent("slack"),
		usernames: make(map[string]string),
	}, nil
}

// SendNew posts a top-level channel message and returns its ts.
func (c *Client) SendNew(ctx context.Context, channelID, text string) (string, error) {
	_, ts, err := c.api.PostMessageContext(ctx, channelID,
		slackapi.MsgOptionText(text, false))
	if err != nil {
		return "", fmt.Errorf("slack: post to %s: %w", channelID, err)
	}
	return ts, nil
}

// SendToThread posts a reply under threadTS and returns the reply's ts.
func (c *Client) SendToThread(ctx context.Context, channelID, threadTS, text string) (string, error) {
	_, ts, err := c.api.PostMessageContext(ctx, channelID,
		slackapi.MsgOptionText(text, false),
		slackapi.MsgOptionTS(threadTS))
	if err != nil {
		return "", fmt.Errorf("slack: reply in %s/%s: %w", channelID, threadTS, err)
	}
	return ts, nil
}

// FetchHistory returns channel messages sent in (since, until], including
// thread replies when includeThreads is set. Pagination is followed to
// exhaustion.
func (c *Client) FetchHistory(ctx context.Context, channelID string, since, until time.Time, includeThreads bool) ([]Message, error) {
	var out []Message
	cursor := ""
	for {
		resp, err := c.api.GetConversationHistoryContext(ctx, &slackapi.GetConversationHistoryParameters{
			ChannelID: channelID,
			Oldest:    formatTS(since),
			Latest:    formatTS(until),
			Limit:     historyPageSize,
			Cursor:    cursor,
		})
		if err != nil {
			return nil, fmt.Errorf("slack: history for %s: %w", channelID, err)
		}
		for _, m := range resp.Messages {
			out = append(out, c.convert(ctx, m))
			if includeThreads && m.ReplyCount > 0 && m.ThreadTimestamp == m.Timestamp {
				replies, err := c.fetchReplies(ctx, channelID, m.Timestamp)
				if err != nil {
					return nil, err
				}
				out = append(out, replies...)
			}
		}
		cursor = resp.ResponseMetaData.NextCursor
		if cursor == "" || !resp.HasMore {
			break
		}
	}
	c.logger.Debug("history fetched",
		log.Str("channel", channelID),
		log.Int("messages", len(out)))
	return out, nil
}

// fetchReplies pulls all replies under a thread parent, excluding the parent
// itself, which the history call already returned.
func (c *Client) fetchReplies(ctx context.Context, channelID, threadTS string) ([]Message, error) {
	var out []Message
	cursor := ""
	for {
		msgs, hasMore, next, err := c.api.GetConversationRepliesContext(ctx, &slackapi.GetConversationRepliesParameters{
			ChannelID: channelID,
			Timestamp: threadTS,
			Limit:     historyPageSize,
			Cursor:    cursor,
		})
		if err != nil {
			return nil, fmt.Errorf("slack: replies for %s/%s: %w", channelID, threadTS, err)
		}
		for _, m := range msgs {
			if m.Timestamp == threadTS {
				continue
			}
			out = append(out, c.convert(ctx, m))
		}
		if !hasMore || next == "" {
			break
		}
		cursor = next
	}
	return out, nil
}

// convert maps a platform message to the neutral shape.
func (c *Client) convert(ctx context.Context, m slackapi.Message) Message {
	return Message{
		TS:        m.Timestamp,
		ThreadTS:  m.ThreadTimestamp,
		UserID:    m.User,
		Username:  c.username(ctx, m.User),
		Text:      m.Text,
		SentAt:    ParseTS(m.Timestamp),
		Automated: m.BotID != "" || m.SubType == "bot_message",
	}
}

// username resolves a user ID to a display name, cached per client. Lookup
// failures fall back to the raw ID.
func (c *Client) username(ctx context.Context, userID string) string {
	if userID == "" {
		return ""
	}
	c.mu.Lock()
	if name, ok := c.usernames[userID]; ok {
		c.mu.Unlock()
		return name
	}
	c.mu.Unlock()

	name := userID
	if u, err := c.api.GetUserInfoContext(ctx, userID); err == nil {
		if u.Profile.DisplayName != "" {
			name = u.Profile.DisplayName
		} else if u.RealName != "" {
			name = u.RealName
		} else if u.Name != "" {
			name = u.Name
		}
	}

	c.mu.Lock()
	c.usernames[userID] = name
	c.mu.Unlock()
	return name
}

// ParseTS converts a platform ts ("1700000000.000100") to a time. A
// malformed ts yields the zero time.
func ParseTS(ts string) time.Time {
	sec, frac, _ := strings.Cut(ts, ".")
	s, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}
	}
	var micros int64
	if frac != "" {
		// Pad or trim to microseconds.
		for len(frac) < 6 {
			frac += "0"
		}
		frac = frac[:6]
		micros, _ = strconv.ParseInt(frac, 10, 64)
	}
	return time.Unix(s, micros*1000).UTC()
}

// formatTS renders a time as a platform ts boundary.
func formatTS(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return fmt.Sprintf("%d.%06d", t.Unix(), t.Nanosecond()/1000)
}
