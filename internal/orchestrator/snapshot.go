package orchestrator

import (
	"context"

	"github.com/edgard/leadpilot/internal/governor"
	"github.com/edgard/leadpilot/internal/status"
)

// Status returns the snapshot written by the last tick, if any.
func (o *Orchestrator) Status() (status.Snapshot, bool) {
	s := o.last.Load()
	if s == nil {
		return status.Snapshot{}, false
	}
	return *s, true
}

// publish builds the status snapshot, keeps it for Status and writes the file.
func (o *Orchestrator) publish(ctx context.Context, t *tick) {
	rs := o.governor.Snapshot()
	snap := status.Snapshot{
		UpdatedAt:        o.clock.Now().UTC(),
		DailySent:        rs.DailyCount,
		DailyLimit:       t.cfg.Rate.DailyLimit,
		PausedUntil:      rs.PausedUntil,
		GatewayAvailable: t.gatewayUp,
	}

	counts, err := o.store.CountLeadsByStatus(ctx)
	if err != nil {
		o.logger.WarnContext(ctx, "Failed to count leads for status snapshot", "error", err)
	}
	snap.Counts = counts
	stats, err := o.store.StrategyStats(ctx)
	if err != nil {
		o.logger.WarnContext(ctx, "Failed to load strategy stats for status snapshot", "error", err)
	}
	snap.Strategies = stats

	ok, reason := o.governor.Check()
	switch {
	case t.err != nil:
		snap.Status, snap.Details = status.StateError, t.err.Error()
	case !t.running:
		snap.Status, snap.Details = status.StatePaused, "paused by operator or configuration"
	case rs.PausedUntil != nil:
		snap.Status, snap.Details = status.StateCooldown, "circuit breaker open"
	case !t.gatewayUp:
		snap.Status, snap.Details = status.StateIdle, t.detail
	case !ok && reason != governor.ReasonSpacing:
		snap.Status, snap.Details = status.StateIdle, "outreach blocked: "+string(reason)
	default:
		snap.Status, snap.Details = status.StateRunning, "ok"
	}

	o.last.Store(&snap)
	if err := o.status.Write(snap); err != nil {
		o.logger.WarnContext(ctx, "Failed to write status snapshot", "error", err)
	}
}
