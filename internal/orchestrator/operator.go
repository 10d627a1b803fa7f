package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/edgard/leadpilot/internal/lead"
)

// ErrNoDraft is returned when an approval action targets a lead without a draft.
var ErrNoDraft = errors.New("lead has no draft awaiting approval")

// operate loads leadID under its lease, applies fn and saves the lead.
func (o *Orchestrator) operate(ctx context.Context, leadID string, fn func(l *lead.Lead) error) (*lead.Lead, error) {
	var out *lead.Lead
	err := o.withLead(ctx, o.cfg.Current(), leadID, func(ctx context.Context) error {
		l, err := o.store.GetLead(ctx, leadID)
		if err != nil {
			return err
		}
		if err := fn(l); err != nil {
			return err
		}
		if err := o.store.SaveLead(ctx, l); err != nil {
			return err
		}
		out = l
		return nil
	})
	return out, err
}

// Approve releases a held draft. The next running tick sends it.
func (o *Orchestrator) Approve(ctx context.Context, leadID string) (*lead.Lead, error) {
	l, err := o.operate(ctx, leadID, func(l *lead.Lead) error {
		if l.DraftMessage == "" {
			return fmt.Errorf("approve %s: %w", l.ID, ErrNoDraft)
		}
		switch l.Status {
		case lead.StatusApproved:
			return nil
		case lead.StatusApprovalRequired:
			return l.Transition(lead.StatusApproved, false)
		case lead.StatusError:
			// a failed approved send keeps its draft and may be approved again
			return l.Transition(lead.StatusApproved, true)
		}
		return fmt.Errorf("approve %s in status %s: %w", l.ID, l.Status, ErrNoDraft)
	})
	if err == nil {
		o.logger.InfoContext(ctx, "Draft approved by operator", "lead_id", leadID)
	}
	return l, err
}

// Discard drops a held draft and restores the status the lead had before the gate.
func (o *Orchestrator) Discard(ctx context.Context, leadID string) (*lead.Lead, error) {
	l, err := o.operate(ctx, leadID, func(l *lead.Lead) error {
		if l.Status == lead.StatusError && l.DraftMessage != "" {
			l.DraftMessage = ""
			l.DraftKind = lead.DraftNone
			return nil
		}
		if err := l.DiscardDraft(); err != nil {
			return fmt.Errorf("discard %s: %w", l.ID, ErrNoDraft)
		}
		return nil
	})
	if err == nil {
		o.logger.InfoContext(ctx, "Draft discarded by operator", "lead_id", leadID, "status", l.Status)
	}
	return l, err
}

// Convert marks a lead as a won customer.
func (o *Orchestrator) Convert(ctx context.Context, leadID string) (*lead.Lead, error) {
	l, err := o.operate(ctx, leadID, func(l *lead.Lead) error {
		if err := l.Transition(lead.StatusConverted, true); err != nil {
			return err
		}
		o.thinking.Reset(l)
		l.DraftMessage = ""
		l.DraftKind = lead.DraftNone
		return nil
	})
	if err == nil {
		o.logger.InfoContext(ctx, "Lead converted by operator", "lead_id", leadID)
	}
	return l, err
}

// RequestStrategy records a strategy change; the loop applies it and regenerates the pitch.
func (o *Orchestrator) RequestStrategy(ctx context.Context, leadID string, code lead.Strategy) (*lead.Lead, error) {
	if _, ok := lead.LookupStrategy(code); !ok {
		return nil, fmt.Errorf("unknown strategy %q", code)
	}
	return o.operate(ctx, leadID, func(l *lead.Lead) error {
		l.RequestedStrategy = code
		return nil
	})
}

// BlacklistLead blacklists leadID under its lease. A lead already blacklisted is left alone.
func (o *Orchestrator) BlacklistLead(ctx context.Context, leadID, reason string) error {
	return o.withLead(ctx, o.cfg.Current(), leadID, func(ctx context.Context) error {
		l, err := o.store.GetLead(ctx, leadID)
		if err != nil {
			return err
		}
		if l.Status == lead.StatusBlacklisted {
			return nil
		}
		return o.Blacklist(ctx, l, reason)
	})
}

// IsGhost reports whether l was greeted, never answered and has been silent
// since before cutoff.
func IsGhost(l *lead.Lead, cutoff time.Time) bool {
	return l.Status == lead.StatusSent &&
		!l.IsArchived() &&
		l.LastInboundAt == nil &&
		l.LastOutboundAt != nil &&
		l.LastOutboundAt.Before(cutoff)
}

// ArchiveGhost archives leadID and its gateway chat when it is still a ghost.
func (o *Orchestrator) ArchiveGhost(ctx context.Context, leadID string) (bool, error) {
	cfg := o.cfg.Current()
	archived := false
	err := o.withLead(ctx, cfg, leadID, func(ctx context.Context) error {
		l, err := o.store.GetLead(ctx, leadID)
		if err != nil {
			return err
		}
		if !IsGhost(l, o.clock.Now().Add(-cfg.Outreach.GhostAfter)) {
			return nil
		}
		if err := o.store.ArchiveLead(ctx, l, "ghost"); err != nil {
			return err
		}
		archived = true
		if l.ChatID != "" {
			if err := o.gateway.ArchiveChat(ctx, l.ChatID); err != nil {
				o.logger.WarnContext(ctx, "Failed to archive ghost chat", "lead_id", l.ID, "error", err)
			}
		}
		o.logger.InfoContext(ctx, "Ghost lead archived", "lead_id", l.ID)
		return nil
	})
	return archived, err
}
