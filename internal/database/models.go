package database

import (
	"time"

	"github.com/edgard/leadpilot/internal/lead"
)

// Sender identifies who authored a conversation entry.
type Sender string

const (
	SenderCustomer Sender = "customer"
	SenderBot      Sender = "bot"
)

// Conversation entry sources for bot messages.
const (
	SourceGreeting = "autonomous_greeting"
	SourceReply    = "reply"
	SourceApproved = "approved"
	SourceApology  = "apology"
)

// ConversationEntry is one message in a chat's capped history.
type ConversationEntry struct {
	ID        int64     `db:"id"`
	ChatID    string    `db:"chat_id"`
	LeadID    string    `db:"lead_id"`
	Sender    Sender    `db:"sender"`
	Text      string    `db:"text"`
	Source    string    `db:"source"`
	Timestamp time.Time `db:"timestamp"`
}

// ProcessedEvent is an inbound message id that has already been consumed.
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	Degraded    bool      `db:"degraded"`
	ProcessedAt time.Time `db:"processed_at"`
}

// RateState is the persisted Rate Governor state.
type RateState struct {
	ConsecutiveFailures int        `db:"consecutive_failures"`
	FailuresResetAt     *time.Time `db:"failures_reset_at"`
	PausedUntil         *time.Time `db:"paused_until"`
	LastSendAt          *time.Time `db:"last_send_at"`
	DailyCount          int        `db:"daily_count"`
	DailyDate           string     `db:"daily_date"`
	UpdatedAt           time.Time  `db:"updated_at"`
}

// SendKind classifies outbound messages in the send log.
type SendKind string

const (
	SendGreeting SendKind = "greeting"
	SendReply    SendKind = "reply"
	SendApproved SendKind = "approved"
)

// SendRecord is one row of the outbound audit log.
type SendRecord struct {
	ID       int64         `db:"id"`
	LeadID   string        `db:"lead_id"`
	ChatID   string        `db:"chat_id"`
	Kind     SendKind      `db:"kind"`
	Strategy lead.Strategy `db:"strategy"`
	Success  bool          `db:"success"`
	Error    string        `db:"error"`
	SentAt   time.Time     `db:"sent_at"`
}

// InboundBatch is everything one poll learned about one lead, committed atomically.
type InboundBatch struct {
	Lead    *lead.Lead
	Create  bool
	Entries []ConversationEntry
	Events  []ProcessedEvent
}

// OutboundRecord is one send attempt together with the resulting lead state.
// Entry is only written when the send succeeded.
type OutboundRecord struct {
	Lead  *lead.Lead
	Entry *ConversationEntry
	Send  SendRecord
}

// StrategyStat aggregates outreach results per strategy.
type StrategyStat struct {
	Sent       int `json:"sent"`
	Interested int `json:"interested"`
}

// LeadFilter selects leads. SQL narrows by the column fields; Where runs in Go afterwards.
type LeadFilter struct {
	Statuses          []lead.Status
	PendingOnly       bool
	StrategyRequested bool
	IncludeArchived   bool
	ArchivedOnly      bool
	Limit             int
	Where             func(*lead.Lead) bool
}
