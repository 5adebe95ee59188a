package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// WorkItem is one unit of inbound work tracked through the pipeline. TS is
// the chat platform's message timestamp: opaque, globally unique within a
// channel, and monotonically comparable. Rows are never deleted; lifecycle
// flags plus paired timestamps form the audit trail.
type WorkItem struct {
	TS        string `json:"ts"`
	ChannelID string `json:"channelId"`
	ThreadTS  string `json:"threadTs,omitempty"`
	UserID    string `json:"userId,omitempty"`
	Username  string `json:"username,omitempty"`

	Text         string `json:"text"`
	EnhancedText string `json:"enhancedText,omitempty"`

	SentAt      time.Time `json:"sentAt"`
	RetrievedAt time.Time `json:"retrievedAt"`

	// Automated marks bot-authored messages; they are stored for the audit
	// trail but never indexed for claiming.
	Automated bool `json:"automated,omitempty"`
	// SystemGenerated is set when the claim loop retires a platform notice
	// (joins, topic changes) without processing it.
	SystemGenerated bool `json:"systemGenerated,omitempty"`

	Claimed   bool       `json:"claimed"`
	ClaimedAt *time.Time `json:"claimedAt,omitempty"`

	JobLaunched   bool       `json:"jobLaunched"`
	JobLaunchedAt *time.Time `json:"jobLaunchedAt,omitempty"`
	// ResultRef is the opaque reference (URL) produced by the job launch.
	ResultRef string `json:"resultRef,omitempty"`

	ResultDelivered   bool       `json:"resultDelivered"`
	ResultDeliveredAt *time.Time `json:"resultDeliveredAt,omitempty"`
	// DeliveredThreadTS is the thread the delivery landed in.
	DeliveredThreadTS string `json:"deliveredThreadTs,omitempty"`
}

// Query returns the text the research job should run: the enhanced prompt
// when preprocessing produced one, the raw text otherwise.
func (w *WorkItem) Query() string {
	if w.EnhancedText != "" {
		return w.EnhancedText
	}
	return w.Text
}

// DeliverThread returns the thread results should land in: the item's own
// thread when it is a reply, otherwise the item itself becomes the thread
// root.
func (w *WorkItem) DeliverThread() string {
	if w.ThreadTS != "" {
		return w.ThreadTS
	}
	return w.TS
}

func encodeItem(w *WorkItem) ([]byte, error) {
	b, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("store: encode item %s: %w", w.TS, err)
	}
	return b, nil
}

func decodeItem(data []byte) (*WorkItem, error) {
	var w WorkItem
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("store: decode item: %w", err)
	}
	return &w, nil
}

// RetrievalLog is one append-only row per ingestion pass.
type RetrievalLog struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt"`
	ChannelID   string    `json:"channelId"`

	WindowStart time.Time `json:"windowStart"`
	WindowEnd   time.Time `json:"windowEnd"`

	Found             int `json:"found"`
	Added             int `json:"added"`
	DuplicateSkipped  int `json:"duplicateSkipped"`
	AutomatedFiltered int `json:"automatedFiltered"`

	Status string `json:"status"` // completed | failed
	Error  string `json:"error,omitempty"`
}

// Session checkpoints one in-flight deferred task so a crashed process's
// retrieval can be re-armed by the next run.
type Session struct {
	RunID       string    `json:"runId"`
	ItemTS      string    `json:"itemTs"`
	ResultRef   string    `json:"resultRef"`
	ScheduledAt time.Time `json:"scheduledAt"`
	FireAt      time.Time `json:"fireAt"`
	Retries     int       `json:"retries"`
	MaxRetries  int       `json:"maxRetries"`
}
