package tasks

import (
	"context"
	"fmt"

	"github.com/edgard/leadpilot/internal/config"
	"github.com/edgard/leadpilot/internal/database"
	"github.com/edgard/leadpilot/internal/lead"
	"github.com/edgard/leadpilot/internal/orchestrator"
)

// newHousekeepingTask blacklists leads whose last message is a hard reject and
// archives ghost leads that never answered a greeting.
func newHousekeepingTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", config.TaskHousekeeping)

	return func(ctx context.Context) error {
		cfg := deps.Config.Current()

		leads, err := deps.Store.ListLeads(ctx, database.LeadFilter{
			Where: func(l *lead.Lead) bool {
				return !l.Status.IsTerminal() && !l.Status.IsProtected()
			},
		})
		if err != nil {
			return fmt.Errorf("list leads: %w", err)
		}

		var blacklisted, ghosts, failed int
		cutoff := deps.Clock.Now().Add(-cfg.Outreach.GhostAfter)
		for _, l := range leads {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			kw, hit, err := lastCustomerRejects(ctx, deps.Store, l, cfg)
			if err != nil {
				if database.IsCorrupt(err) {
					return err
				}
				log.WarnContext(ctx, "Failed to read conversation", "lead_id", l.ID, "error", err)
				failed++
				continue
			}
			if hit {
				if err := deps.Leads.BlacklistLead(ctx, l.ID, "hard reject: "+kw); err != nil {
					if database.IsCorrupt(err) {
						return err
					}
					log.WarnContext(ctx, "Failed to blacklist lead", "lead_id", l.ID, "error", err)
					failed++
					continue
				}
				blacklisted++
				continue
			}

			if !orchestrator.IsGhost(l, cutoff) {
				continue
			}
			archived, err := deps.Leads.ArchiveGhost(ctx, l.ID)
			if err != nil {
				if database.IsCorrupt(err) {
					return err
				}
				log.WarnContext(ctx, "Failed to archive ghost lead", "lead_id", l.ID, "error", err)
				failed++
				continue
			}
			if archived {
				ghosts++
			}
		}

		log.InfoContext(ctx, "Housekeeping completed",
			"scanned", len(leads),
			"blacklisted", blacklisted,
			"ghosts_archived", ghosts,
			"failed", failed)
		return nil
	}
}

// lastCustomerRejects checks the most recent customer message of l against
// the hard-reject keywords.
func lastCustomerRejects(ctx context.Context, store database.Store, l *lead.Lead, cfg *config.Config) (string, bool, error) {
	if l.ChatID == "" || l.LastInboundAt == nil {
		return "", false, nil
	}
	entries, err := store.GetConversation(ctx, l.ChatID, cfg.Database.ConversationCap)
	if err != nil {
		return "", false, err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Sender != database.SenderCustomer {
			continue
		}
		kw, hit := lead.ContainsAny(entries[i].Text, cfg.Outreach.HardRejectKeywords)
		return kw, hit, nil
	}
	return "", false, nil
}
