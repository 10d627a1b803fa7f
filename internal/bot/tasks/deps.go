// Package tasks implements the periodic maintenance jobs that run next to the
// orchestrator loop: housekeeping of stale leads and SQLite upkeep.
package tasks

import (
	"context"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/edgard/leadpilot/internal/config"
	"github.com/edgard/leadpilot/internal/database"
)

// LeadOps applies lead state changes under the lead's lease.
// *orchestrator.Orchestrator implements it.
type LeadOps interface {
	BlacklistLead(ctx context.Context, leadID, reason string) error
	ArchiveGhost(ctx context.Context, leadID string) (bool, error)
}

// ConfigSource returns the active configuration snapshot.
type ConfigSource interface {
	Current() *config.Config
}

// TaskDeps contains all dependencies required by scheduled tasks.
type TaskDeps struct {
	Logger *slog.Logger
	Store  database.Store
	Leads  LeadOps
	Config ConfigSource
	Clock  clockwork.Clock
}
