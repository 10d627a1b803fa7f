package tasks

import (
	"context"
	"fmt"

	"github.com/edgard/leadpilot/internal/config"
)

// newSQLMaintenanceTask trims the capped tables and runs VACUUM and ANALYZE.
func newSQLMaintenanceTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", config.TaskSQLMaintenance)

	return func(ctx context.Context) error {
		startTime := deps.Clock.Now()
		cfg := deps.Config.Current()

		trimmed, err := deps.Store.TrimProcessedEvents(ctx, cfg.Database.ProcessedEventsCap)
		if err != nil {
			return fmt.Errorf("trim processed events: %w", err)
		}
		purged, err := deps.Store.PurgeExpiredLeases(ctx, deps.Clock.Now())
		if err != nil {
			return fmt.Errorf("purge expired leases: %w", err)
		}

		if err := deps.Store.RunSQLMaintenance(ctx); err != nil {
			log.ErrorContext(ctx, "SQL maintenance task failed", "error", err, "duration", deps.Clock.Since(startTime))
			return fmt.Errorf("sql maintenance failed: %w", err)
		}

		log.InfoContext(ctx, "SQL maintenance completed",
			"events_trimmed", trimmed,
			"leases_purged", purged,
			"duration", deps.Clock.Since(startTime))
		return nil
	}
}
