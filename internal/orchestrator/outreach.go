package orchestrator

import (
	"context"
	"fmt"

	"github.com/edgard/leadpilot/internal/config"
	"github.com/edgard/leadpilot/internal/database"
	"github.com/edgard/leadpilot/internal/governor"
	"github.com/edgard/leadpilot/internal/lead"
	"github.com/edgard/leadpilot/internal/logger"
	"github.com/edgard/leadpilot/internal/phone"
	"github.com/edgard/leadpilot/internal/timers"
)

// freshTarget reports whether l may receive an autonomous first contact. A
// greeting that failed before anything was delivered leaves the lead in Error
// and it stays a target.
func freshTarget(l *lead.Lead) bool {
	if l.IsArchived() || l.ChatID == "" {
		return false
	}
	switch l.Status {
	case lead.StatusNew:
		return !l.IsExistingCustomer()
	case lead.StatusError:
		return l.DraftKind == lead.DraftNone && l.SentCount == 0 && l.LastInboundAt == nil && l.LastOutboundAt == nil
	}
	return false
}

// allowedPhones canonicalizes the security-lock whitelist.
func allowedPhones(cfg *config.Config) map[string]bool {
	allowed := make(map[string]bool, len(cfg.Outreach.AllowedPhones))
	for _, p := range cfg.Outreach.AllowedPhones {
		if n := phone.Normalize(p, cfg.Outreach.DefaultRegion); n != "" {
			allowed[n] = true
		}
	}
	return allowed
}

// outreach greets new leads in creation order while the governor allows it.
func (o *Orchestrator) outreach(ctx context.Context, cfg *config.Config) error {
	if ok, reason := o.governor.Check(); !ok {
		o.logger.DebugContext(ctx, "Autonomous outreach blocked", "reason", reason)
		return nil
	}

	var allowed map[string]bool
	if cfg.Outreach.SecurityLock {
		allowed = allowedPhones(cfg)
	}
	candidates, err := o.store.ListLeads(ctx, database.LeadFilter{
		Statuses: []lead.Status{lead.StatusNew, lead.StatusError},
		Where: func(l *lead.Lead) bool {
			return freshTarget(l) && (allowed == nil || allowed[l.Phone])
		},
	})
	if err != nil {
		return fmt.Errorf("list outreach candidates: %w", err)
	}

	for _, l := range candidates {
		if ok, reason := o.governor.Check(); !ok {
			o.logger.DebugContext(ctx, "Autonomous outreach stopped", "reason", reason, "remaining", len(candidates))
			return nil
		}
		blocked, err := o.store.IsBlacklisted(ctx, l.Phone)
		if err != nil {
			if err := o.leadError(ctx, "outreach", l.ID, err); err != nil {
				return err
			}
			continue
		}
		if blocked {
			o.logger.DebugContext(ctx, "Skipping blacklisted candidate", "lead_id", l.ID)
			continue
		}

		id := l.ID
		var attempted bool
		err = o.withLead(ctx, cfg, id, func(ctx context.Context) error {
			var err error
			attempted, err = o.greet(ctx, cfg, id)
			return err
		})
		if attempted {
			o.timers.Set(timers.NextSend, o.clock.Now().Add(cfg.Rate.MinSpacing))
		}
		if err := o.leadError(ctx, "outreach", id, err); err != nil {
			return err
		}
	}
	return nil
}

// greet sends or queues the first contact of one lead. attempted reports
// whether a send went to the gateway.
func (o *Orchestrator) greet(ctx context.Context, cfg *config.Config, id string) (attempted bool, err error) {
	l, err := o.store.GetLead(ctx, id)
	if err != nil {
		return false, err
	}
	if !freshTarget(l) {
		return false, nil
	}

	if l.IntroMessage == "" {
		l.IntroMessage = o.generator.GenerateIntro(ctx, l, lead.StrategyFor(l))
	}
	greeting := cfg.Outreach.Greeting
	if cfg.Orchestrator.Paraphrase {
		greeting = o.generator.Paraphrase(ctx, greeting)
	}

	if cfg.Orchestrator.ManualApproval {
		if err := l.QueueDraft(greeting, lead.DraftGreeting); err != nil {
			return false, err
		}
		if err := o.store.SaveLead(ctx, l); err != nil {
			return false, err
		}
		o.logger.InfoContext(ctx, "Greeting waiting for approval", "lead_id", id)
		if err := o.notifier.NotifyApproval(ctx, l); err != nil {
			o.logger.WarnContext(ctx, "Failed to notify operator", "lead_id", id, "error", err)
		}
		return false, nil
	}

	sendErr := o.deliver(ctx, cfg, l.ChatID, greeting)
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	var entry *database.ConversationEntry
	if sendErr == nil {
		if err := l.Transition(lead.StatusSent, false); err != nil {
			return true, err
		}
		l.SentCount++
		now := o.clock.Now()
		l.LastOutboundAt = &now
		l.LastError = ""
		entry = o.botEntry(l, greeting, database.SourceGreeting)
		o.logger.InfoContext(ctx, "Greeting sent", "lead_id", id, "strategy", l.ActiveStrategy, "preview", logger.Preview(greeting))
	} else {
		o.markFailed(ctx, l, sendErr)
	}
	return true, o.record(ctx, l, database.SendGreeting, governor.KindAutonomous, entry, sendErr)
}
