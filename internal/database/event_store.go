package database

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// LoadProcessedEvents returns up to limit most recent processed ids, oldest first.
func (s *sqlxStore) LoadProcessedEvents(ctx context.Context, limit int) ([]string, error) {
	if err := requireCtx(ctx, "load processed events"); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.limits.ProcessedEventsCap
	}
	var ids []string
	query := `
		SELECT event_id FROM (
			SELECT seq, event_id FROM processed_events ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC;`
	if err := s.db.SelectContext(ctx, &ids, query, limit); err != nil {
		return nil, wrapErr("load processed events", err)
	}
	return ids, nil
}

// MarkEventsProcessed records ids; ids already present are left untouched.
func (s *sqlxStore) MarkEventsProcessed(ctx context.Context, events []ProcessedEvent) error {
	if len(events) == 0 {
		return nil
	}
	return s.withTx(ctx, "mark events processed", func(tx *sqlx.Tx) error {
		return s.insertEvents(ctx, tx, events)
	})
}

func (s *sqlxStore) insertEvents(ctx context.Context, tx *sqlx.Tx, events []ProcessedEvent) error {
	if len(events) == 0 {
		return nil
	}
	for _, ev := range events {
		if ev.EventID == "" {
			continue
		}
		if ev.ProcessedAt.IsZero() {
			ev.ProcessedAt = s.now()
		}
		_, err := tx.NamedExecContext(ctx, `
			INSERT OR IGNORE INTO processed_events (event_id, degraded, processed_at)
			VALUES (:event_id, :degraded, :processed_at);`, ev)
		if err != nil {
			return wrapErr("insert processed event "+ev.EventID, err)
		}
	}
	_, err := tx.ExecContext(ctx, `
		DELETE FROM processed_events WHERE seq NOT IN (
			SELECT seq FROM processed_events ORDER BY seq DESC LIMIT ?
		);`, s.limits.ProcessedEventsCap)
	return wrapErr("trim processed events", err)
}

// TrimProcessedEvents evicts the oldest ids beyond keep.
func (s *sqlxStore) TrimProcessedEvents(ctx context.Context, keep int) (int64, error) {
	if err := requireCtx(ctx, "trim processed events"); err != nil {
		return 0, err
	}
	if keep <= 0 {
		keep = s.limits.ProcessedEventsCap
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM processed_events WHERE seq NOT IN (
			SELECT seq FROM processed_events ORDER BY seq DESC LIMIT ?
		);`, keep)
	if err != nil {
		return 0, wrapErr("trim processed events", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapErr("trim processed events", err)
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "Trimmed processed events", "removed", n, "kept", keep)
	}
	return n, nil
}
