// Package thinking defers replies by a human-like delay, absorbs bursts of
// inbound messages into one reply and guards against bot-to-bot loops.
package thinking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/edgard/leadpilot/internal/config"
	"github.com/edgard/leadpilot/internal/database"
	"github.com/edgard/leadpilot/internal/lead"
	"github.com/edgard/leadpilot/internal/logger"
	"github.com/edgard/leadpilot/internal/timers"
)

// ErrSelfLoop is returned when the conversation ends with too many bot messages in a row.
var ErrSelfLoop = errors.New("self-loop detected: too many consecutive bot messages")

// LeadStore is the slice of the store the scheduler needs.
type LeadStore interface {
	GetLead(ctx context.Context, id string) (*lead.Lead, error)
	SaveLead(ctx context.Context, l *lead.Lead) error
	ListLeads(ctx context.Context, f database.LeadFilter) ([]*lead.Lead, error)
}

// ConfigSource yields the current configuration snapshot.
type ConfigSource interface {
	Current() *config.Config
}

// Scheduler tracks pending replies as pending_reply:<lead> timers.
type Scheduler struct {
	store  LeadStore
	timers *timers.Timers
	clock  clockwork.Clock
	cfg    ConfigSource
	logger *slog.Logger
}

// New creates a Scheduler.
func New(store LeadStore, tm *timers.Timers, clock clockwork.Clock, cfg ConfigSource, log *slog.Logger) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Scheduler{
		store:  store,
		timers: tm,
		clock:  clock,
		cfg:    cfg,
		logger: log.With("component", "thinking"),
	}
}

func (s *Scheduler) delay() time.Duration {
	return s.cfg.Current().Orchestrator.ThinkingDelay
}

// Mark records an inbound text on l and restarts its timer at now.
// The caller persists l.
func (s *Scheduler) Mark(l *lead.Lead, text string, now time.Time) {
	l.AppendIncoming(text)
	since := now
	l.PendingReplySince = &since
	s.timers.Set(timers.PendingReplyName(l.ID), now.Add(s.delay()))
}

// Queue loads the lead, marks the text and saves it.
func (s *Scheduler) Queue(ctx context.Context, leadID, text string) error {
	l, err := s.store.GetLead(ctx, leadID)
	if err != nil {
		return fmt.Errorf("queue reply for %s: %w", leadID, err)
	}
	s.Mark(l, text, s.clock.Now())
	if err := s.store.SaveLead(ctx, l); err != nil {
		return fmt.Errorf("queue reply for %s: %w", leadID, err)
	}
	s.logger.DebugContext(ctx, "Reply queued", "lead_id", leadID, "due_in", s.delay())
	return nil
}

// DueLeads refreshes the timers from the store and returns the leads whose
// thinking delay elapsed at now, oldest first.
func (s *Scheduler) DueLeads(ctx context.Context, now time.Time) ([]string, error) {
	pending, err := s.store.ListLeads(ctx, database.LeadFilter{PendingOnly: true})
	if err != nil {
		return nil, fmt.Errorf("list pending leads: %w", err)
	}
	delay := s.delay()
	keep := make(map[string]bool, len(pending))
	for _, l := range pending {
		keep[l.ID] = true
		s.timers.Set(timers.PendingReplyName(l.ID), l.PendingReplySince.Add(delay))
	}
	s.timers.ClearPrefix(timers.PendingReply, keep)
	return s.timers.DueWithPrefix(timers.PendingReply, now), nil
}

// Reset drops the pending state of l in memory. The caller persists l.
func (s *Scheduler) Reset(l *lead.Lead) {
	l.PendingReplySince = nil
	l.LastIncomingText = ""
	s.timers.Clear(timers.PendingReplyName(l.ID))
}

// Clear cancels a lead's pending reply and persists the change.
func (s *Scheduler) Clear(ctx context.Context, leadID string) error {
	l, err := s.store.GetLead(ctx, leadID)
	if err != nil {
		return fmt.Errorf("clear pending reply for %s: %w", leadID, err)
	}
	s.Reset(l)
	if err := s.store.SaveLead(ctx, l); err != nil {
		return fmt.Errorf("clear pending reply for %s: %w", leadID, err)
	}
	return nil
}

// Guard returns ErrSelfLoop when history ends with self_loop_limit or more bot entries.
func (s *Scheduler) Guard(history []database.ConversationEntry) error {
	return CheckSelfLoop(history, s.cfg.Current().Orchestrator.SelfLoopLimit)
}

// CheckSelfLoop counts trailing bot entries against limit.
func CheckSelfLoop(history []database.ConversationEntry, limit int) error {
	if limit <= 0 {
		return nil
	}
	run := 0
	for i := len(history) - 1; i >= 0 && history[i].Sender == database.SenderBot; i-- {
		run++
	}
	if run >= limit {
		return fmt.Errorf("%w (%d in a row)", ErrSelfLoop, run)
	}
	return nil
}

// UnconsumedInbound joins the customer entries written after the last bot entry.
func UnconsumedInbound(history []database.ConversationEntry) string {
	start := 0
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Sender == database.SenderBot {
			start = i + 1
			break
		}
	}
	var parts []string
	for _, e := range history[start:] {
		if e.Sender != database.SenderCustomer {
			continue
		}
		if text := strings.TrimSpace(e.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n")
}
