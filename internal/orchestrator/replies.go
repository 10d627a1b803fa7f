package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/edgard/leadpilot/internal/config"
	"github.com/edgard/leadpilot/internal/database"
	"github.com/edgard/leadpilot/internal/governor"
	"github.com/edgard/leadpilot/internal/lead"
	"github.com/edgard/leadpilot/internal/logger"
	"github.com/edgard/leadpilot/internal/thinking"
)

// errDeferred marks a send that the circuit breaker postponed.
var errDeferred = errors.New("send deferred by circuit breaker")

// deliver paces and sends one text: jitter, seen, typing, send. A returned
// error is a failed send unless ctx is done.
func (o *Orchestrator) deliver(ctx context.Context, cfg *config.Config, chatID, text string) error {
	if err := o.governor.Wait(ctx, o.governor.Jitter()); err != nil {
		return err
	}
	if err := o.gateway.MarkSeen(ctx, chatID); err != nil {
		o.logger.DebugContext(ctx, "Failed to mark chat seen", "chat_id", chatID, "error", err)
	}
	if err := o.gateway.StartTyping(ctx, chatID); err != nil {
		o.logger.DebugContext(ctx, "Failed to start typing", "chat_id", chatID, "error", err)
	}
	typing := governor.Between(cfg.Orchestrator.TypingMin, cfg.Orchestrator.TypingMax)
	if err := o.governor.Wait(ctx, typing); err != nil {
		return err
	}
	sendErr := o.gateway.SendText(ctx, chatID, decorate(cfg, text))
	if err := o.gateway.StopTyping(ctx, chatID); err != nil {
		o.logger.DebugContext(ctx, "Failed to stop typing", "chat_id", chatID, "error", err)
	}
	return sendErr
}

// decorate applies the test-mode banner to an outgoing text.
func decorate(cfg *config.Config, text string) string {
	if cfg.Orchestrator.TestMode && cfg.Orchestrator.TestBanner != "" {
		return cfg.Orchestrator.TestBanner + text
	}
	return text
}

// record commits a send attempt and feeds the outcome to the governor.
func (o *Orchestrator) record(ctx context.Context, l *lead.Lead, kind database.SendKind, gk governor.Kind, entry *database.ConversationEntry, sendErr error) error {
	send := database.SendRecord{
		LeadID:   l.ID,
		ChatID:   l.ChatID,
		Kind:     kind,
		Strategy: l.ActiveStrategy,
		Success:  sendErr == nil,
		SentAt:   o.clock.Now(),
	}
	if sendErr != nil {
		send.Error = sendErr.Error()
		entry = nil
	}
	storeErr := o.store.RecordOutbound(ctx, database.OutboundRecord{Lead: l, Entry: entry, Send: send})
	if storeErr != nil {
		storeErr = fmt.Errorf("record outbound for %s: %w", l.ID, storeErr)
	}
	return errors.Join(storeErr, o.governor.RecordOutcome(ctx, gk, sendErr == nil))
}

// markFailed moves l to Error after a failed send, keeping whatever it still owes.
func (o *Orchestrator) markFailed(ctx context.Context, l *lead.Lead, sendErr error) {
	if err := l.Transition(lead.StatusError, false); err != nil {
		o.logger.WarnContext(ctx, "Cannot mark lead as failed", "lead_id", l.ID, "error", err)
	}
	l.LastError = sendErr.Error()
	o.logger.WarnContext(ctx, "Send failed", "lead_id", l.ID, "error", sendErr)
}

func (o *Orchestrator) botEntry(l *lead.Lead, text, source string) *database.ConversationEntry {
	return &database.ConversationEntry{
		ChatID:    l.ChatID,
		LeadID:    l.ID,
		Sender:    database.SenderBot,
		Text:      text,
		Source:    source,
		Timestamp: o.clock.Now(),
	}
}

// sendApprovals sends every draft the operator approved.
func (o *Orchestrator) sendApprovals(ctx context.Context, cfg *config.Config) error {
	approved, err := o.store.ListLeads(ctx, database.LeadFilter{Statuses: []lead.Status{lead.StatusApproved}})
	if err != nil {
		return fmt.Errorf("list approved leads: %w", err)
	}
	for _, l := range approved {
		id := l.ID
		err := o.withLead(ctx, cfg, id, func(ctx context.Context) error {
			return o.sendApproved(ctx, cfg, id)
		})
		if errors.Is(err, errDeferred) {
			o.logger.DebugContext(ctx, "Approved sends deferred by circuit breaker")
			return nil
		}
		if err := o.leadError(ctx, "approval", id, err); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) sendApproved(ctx context.Context, cfg *config.Config, id string) error {
	l, err := o.store.GetLead(ctx, id)
	if err != nil {
		return err
	}
	if l.Status != lead.StatusApproved {
		return nil
	}
	if l.DraftMessage == "" {
		o.logger.WarnContext(ctx, "Approved lead has no draft, restoring status", "lead_id", id)
		if err := l.DiscardDraft(); err != nil {
			return err
		}
		return o.store.SaveLead(ctx, l)
	}
	if !o.governor.CanReply() {
		return errDeferred
	}

	kind := l.DraftKind
	text := l.DraftMessage
	sendErr := o.deliver(ctx, cfg, l.ChatID, text)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	sendKind, gk := database.SendApproved, governor.KindReply
	if kind == lead.DraftGreeting {
		// an approved greeting is still first contact and counts toward the day
		sendKind, gk = database.SendGreeting, governor.KindAutonomous
	}
	var entry *database.ConversationEntry
	if sendErr == nil {
		next := lead.StatusPending
		if kind == lead.DraftGreeting {
			next = lead.StatusSent
			l.SentCount++
		}
		// the operator's approval is the override
		if err := l.Transition(next, true); err != nil {
			return err
		}
		now := o.clock.Now()
		l.LastOutboundAt = &now
		l.LastError = ""
		l.DraftMessage = ""
		l.DraftKind = lead.DraftNone
		l.StatusBeforeApproval = ""
		entry = o.botEntry(l, text, database.SourceApproved)
		o.logger.InfoContext(ctx, "Approved draft sent", "lead_id", id, "kind", kind, "preview", logger.Preview(text))
	} else {
		o.markFailed(ctx, l, sendErr)
	}
	return o.record(ctx, l, sendKind, gk, entry, sendErr)
}

// replyDue answers every lead whose thinking delay elapsed, a few leads at a time.
func (o *Orchestrator) replyDue(ctx context.Context, cfg *config.Config) error {
	due, err := o.thinking.DueLeads(ctx, o.clock.Now())
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}
	if !o.governor.CanReply() {
		o.logger.DebugContext(ctx, "Replies deferred by circuit breaker", "pending", len(due))
		return nil
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Orchestrator.ReplyWorkers)
	for _, id := range due {
		g.Go(func() error {
			err := o.withLead(gCtx, cfg, id, func(ctx context.Context) error {
				return o.reply(ctx, cfg, id)
			})
			if errors.Is(err, errDeferred) {
				o.logger.DebugContext(gCtx, "Reply deferred by circuit breaker", "lead_id", id)
				return nil
			}
			return o.leadError(gCtx, "reply", id, err)
		})
	}
	return g.Wait()
}

// shouldAnalyze runs the strategic analysis on the first customer message and every third one.
func shouldAnalyze(customerMessages int) bool {
	return customerMessages == 1 || (customerMessages > 0 && customerMessages%3 == 0)
}

func (o *Orchestrator) reply(ctx context.Context, cfg *config.Config, id string) error {
	l, err := o.store.GetLead(ctx, id)
	if err != nil {
		return err
	}
	if !l.HasPendingReply() {
		return nil
	}
	switch {
	case l.Status == lead.StatusApproved:
		// the approval step sends the draft first
		return nil
	case l.Status.IsTerminal():
		o.thinking.Reset(l)
		return o.store.SaveLead(ctx, l)
	}

	history, err := o.store.GetConversation(ctx, l.ChatID, cfg.Database.ConversationCap)
	if err != nil {
		return err
	}
	if err := o.thinking.Guard(history); err != nil {
		o.logger.WarnContext(ctx, "Cancelling reply", "lead_id", id, "error", err)
		o.thinking.Reset(l)
		return o.store.SaveLead(ctx, l)
	}

	incoming := thinking.UnconsumedInbound(history)
	if incoming == "" {
		incoming = l.LastIncomingText
	}
	if incoming == "" {
		o.thinking.Reset(l)
		return o.store.SaveLead(ctx, l)
	}

	if kw, ok := lead.ContainsAny(incoming, cfg.Outreach.HardRejectKeywords); ok {
		return o.Blacklist(ctx, l, "hard reject keyword: "+kw)
	}

	if !o.governor.CanReply() {
		return errDeferred
	}

	sentiment := o.classifier.Classify(ctx, incoming)
	l.LastSentiment = sentiment
	if shouldAnalyze(l.CustomerMessageCount) {
		if insight, err := o.generator.Analyze(ctx, incoming, history); err != nil {
			o.logger.WarnContext(ctx, "Strategic analysis failed", "lead_id", id, "error", err)
		} else {
			insight.Apply(l)
		}
	}

	text, source := cfg.Outreach.Apology, database.SourceApology
	if sentiment != lead.SentimentAggressive {
		text, source = o.generator.GenerateReply(ctx, l, incoming, history), database.SourceReply
		if cfg.Orchestrator.Paraphrase {
			text = o.generator.Paraphrase(ctx, text)
		}
	}

	before := l.Status
	target := sentiment.StatusFor()
	critical, isCritical := lead.ContainsAny(incoming, cfg.Outreach.CriticalKeywords)

	if isCritical || cfg.Orchestrator.ManualApproval || before == lead.StatusApprovalRequired {
		// the verdict is only applied when the draft is discarded
		o.thinking.Reset(l)
		if err := l.QueueDraft(text, lead.DraftReply); err != nil {
			return errors.Join(fmt.Errorf("hold reply for %s: %w", id, err), o.store.SaveLead(ctx, l))
		}
		// a regenerated draft carries the newest verdict, so discarding it applies that verdict
		if before == lead.StatusApprovalRequired || lead.CanTransition(before, target) {
			l.StatusBeforeApproval = target
		}
		if err := o.store.SaveLead(ctx, l); err != nil {
			return err
		}
		o.logger.InfoContext(ctx, "Reply waiting for approval", "lead_id", id, "critical_keyword", critical)
		if err := o.notifier.NotifyApproval(ctx, l); err != nil {
			o.logger.WarnContext(ctx, "Failed to notify operator", "lead_id", id, "error", err)
		}
		o.notifyInterest(ctx, l, before, target, incoming)
		return nil
	}

	if !o.governor.CanReply() {
		return errDeferred
	}
	sendErr := o.deliver(ctx, cfg, l.ChatID, text)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var entry *database.ConversationEntry
	if sendErr == nil {
		if err := l.Transition(target, false); err != nil {
			o.logger.WarnContext(ctx, "Keeping lead status", "lead_id", id, "sentiment", sentiment, "error", err)
		}
		o.thinking.Reset(l)
		now := o.clock.Now()
		l.LastOutboundAt = &now
		l.LastError = ""
		entry = o.botEntry(l, text, source)
		o.logger.InfoContext(ctx, "Reply sent",
			"lead_id", id, "sentiment", sentiment, "status", l.Status, "preview", logger.Preview(text))
	} else {
		// PendingReplySince stays set so the reply is retried once the breaker allows it
		o.markFailed(ctx, l, sendErr)
	}
	if err := o.record(ctx, l, database.SendReply, governor.KindReply, entry, sendErr); err != nil {
		return err
	}
	if sendErr == nil {
		o.notifyInterest(ctx, l, before, target, incoming)
	}
	return nil
}

func (o *Orchestrator) notifyInterest(ctx context.Context, l *lead.Lead, before, target lead.Status, incoming string) {
	if target != lead.StatusInterested || before == lead.StatusInterested {
		return
	}
	if err := o.notifier.NotifyInterest(ctx, l, incoming); err != nil {
		o.logger.WarnContext(ctx, "Failed to send interest alert", "lead_id", l.ID, "error", err)
	}
}
