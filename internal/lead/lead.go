package lead

import (
	"fmt"
	"strings"
	"time"
)

// DraftKind tells what a stored draft will be sent as once approved.
type DraftKind string

const (
	DraftNone     DraftKind = ""
	DraftGreeting DraftKind = "greeting"
	DraftReply    DraftKind = "reply"
)

// Lead is one prospective or active customer conversation.
type Lead struct {
	ID                   string     `db:"id"`
	Phone                string     `db:"phone"`
	ChatID               string     `db:"chat_id"`
	CompanyName          string     `db:"company_name"`
	City                 string     `db:"city"`
	Review               string     `db:"review"`
	Status               Status     `db:"status"`
	ActiveStrategy       Strategy   `db:"active_strategy"`
	RequestedStrategy    Strategy   `db:"requested_strategy"`
	PendingReplySince    *time.Time `db:"pending_reply_since"`
	LastIncomingText     string     `db:"last_incoming_text"`
	DraftMessage         string     `db:"draft_message"`
	DraftKind            DraftKind  `db:"draft_kind"`
	StatusBeforeApproval Status     `db:"status_before_approval"`
	LastSentiment        Sentiment  `db:"last_sentiment"`
	WinProbability       int        `db:"win_probability"`
	Objection            string     `db:"objection"`
	NextMove             string     `db:"next_move"`
	IntroMessage         string     `db:"intro_message"`
	SentCount            int        `db:"sent_count"`
	CustomerMessageCount int        `db:"customer_message_count"`
	LastOutboundAt       *time.Time `db:"last_outbound_at"`
	LastInboundAt        *time.Time `db:"last_inbound_at"`
	LastError            string     `db:"last_error"`
	IsGuest              bool       `db:"is_guest"`
	ArchivedAt           *time.Time `db:"archived_at"`
	ArchiveReason        string     `db:"archive_reason"`
	CreatedAt            time.Time  `db:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at"`
}

// Transition moves the lead to the given status. Operator actions pass override=true,
// which lifts the state machine rules but never resurrects a blacklisted lead.
func (l *Lead) Transition(to Status, override bool) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	if override {
		if l.Status == StatusBlacklisted && to != StatusBlacklisted {
			return fmt.Errorf("%w: %s -> %s (blacklisted leads stay blacklisted)", ErrInvalidTransition, l.Status, to)
		}
		l.Status = to
		return nil
	}
	if !CanTransition(l.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, l.Status, to)
	}
	l.Status = to
	return nil
}

// IsExistingCustomer reports whether outreach with this lead has already progressed,
// in which case autonomous first contact must not start again.
func (l *Lead) IsExistingCustomer() bool {
	return l.Status != StatusNew ||
		l.SentCount > 0 ||
		l.LastInboundAt != nil ||
		l.LastOutboundAt != nil
}

// IsArchived reports whether the lead was moved to the archival partition.
func (l *Lead) IsArchived() bool {
	return l.ArchivedAt != nil
}

// HasPendingReply reports whether an inbound message is waiting for a deferred reply.
func (l *Lead) HasPendingReply() bool {
	return l.PendingReplySince != nil
}

// DisplayName returns the company name, falling back to the phone number.
func (l *Lead) DisplayName() string {
	if name := strings.TrimSpace(l.CompanyName); name != "" {
		return name
	}
	if l.Phone != "" {
		return l.Phone
	}
	return l.ID
}

// QueueDraft parks text behind the approval gate and remembers the status to restore on discard.
func (l *Lead) QueueDraft(text string, kind DraftKind) error {
	prev := l.Status
	if prev == StatusApprovalRequired {
		prev = l.StatusBeforeApproval
	}
	if err := l.Transition(StatusApprovalRequired, false); err != nil {
		return err
	}
	l.DraftMessage = text
	l.DraftKind = kind
	l.StatusBeforeApproval = prev
	return nil
}

// DiscardDraft drops a pending draft and restores the pre-approval status.
func (l *Lead) DiscardDraft() error {
	if l.Status != StatusApprovalRequired && l.Status != StatusApproved {
		return fmt.Errorf("%w: lead %s has no draft awaiting approval", ErrInvalidTransition, l.ID)
	}
	restore := l.StatusBeforeApproval
	if restore == "" || !restore.Valid() {
		restore = StatusNew
	}
	l.Status = restore
	l.DraftMessage = ""
	l.DraftKind = DraftNone
	l.StatusBeforeApproval = ""
	return nil
}

// AppendIncoming merges a new inbound text into the unhandled buffer.
func (l *Lead) AppendIncoming(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if l.LastIncomingText == "" {
		l.LastIncomingText = text
		return
	}
	l.LastIncomingText = l.LastIncomingText + "\n" + text
}
