package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/edgard/leadpilot/internal/lead"
	"github.com/edgard/leadpilot/internal/logger"
)

// Store defines the persistence operations of the orchestrator.
// Every method accepts context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// CreateLead inserts a new lead. A phone collision returns ErrDuplicate.
	CreateLead(ctx context.Context, l *lead.Lead) error
	// GetLead loads a lead by id or returns ErrNotFound.
	GetLead(ctx context.Context, id string) (*lead.Lead, error)
	// FindLeadByChat resolves a lead by gateway chat id, then by canonical phone.
	FindLeadByChat(ctx context.Context, chatID, phone string) (*lead.Lead, error)
	// ListLeads returns leads matching the filter in creation order.
	ListLeads(ctx context.Context, f LeadFilter) ([]*lead.Lead, error)
	// SaveLead persists every mutable field of an existing lead.
	SaveLead(ctx context.Context, l *lead.Lead) error
	// CountLeadsByStatus returns non-archived lead counts per status.
	CountLeadsByStatus(ctx context.Context) (map[lead.Status]int, error)
	// ArchiveLead moves a lead into the archival partition.
	ArchiveLead(ctx context.Context, l *lead.Lead, reason string) error

	// AppendConversation adds an entry and evicts beyond the per-chat cap.
	AppendConversation(ctx context.Context, entry ConversationEntry) error
	// GetConversation returns up to limit most recent entries, oldest first.
	GetConversation(ctx context.Context, chatID string, limit int) ([]ConversationEntry, error)

	// RecordInbound commits one poll batch (lead, entries, processed ids) atomically.
	RecordInbound(ctx context.Context, batch InboundBatch) error
	// RecordOutbound commits a send attempt (lead, entry, send log) atomically.
	RecordOutbound(ctx context.Context, rec OutboundRecord) error

	// LoadProcessedEvents returns up to limit most recent processed ids, oldest first.
	LoadProcessedEvents(ctx context.Context, limit int) ([]string, error)
	// MarkEventsProcessed records ids idempotently and trims the table to its cap.
	MarkEventsProcessed(ctx context.Context, events []ProcessedEvent) error
	// TrimProcessedEvents evicts the oldest ids beyond keep and returns how many were removed.
	TrimProcessedEvents(ctx context.Context, keep int) (int64, error)

	// LoadRateState returns the persisted governor state; a fresh database yields the zero value.
	LoadRateState(ctx context.Context) (RateState, error)
	// SaveRateState upserts the governor state.
	SaveRateState(ctx context.Context, st RateState) error

	// AcquireLease takes key for token until expiresAt when it is free or expired at now.
	AcquireLease(ctx context.Context, key, token string, now, expiresAt time.Time) (bool, error)
	// RenewLease extends a lease still held by token.
	RenewLease(ctx context.Context, key, token string, expiresAt time.Time) (bool, error)
	// ReleaseLease drops a lease held by token.
	ReleaseLease(ctx context.Context, key, token string) error
	// PurgeExpiredLeases deletes leases that expired before now.
	PurgeExpiredLeases(ctx context.Context, now time.Time) (int64, error)

	// AddToBlacklist blocks a phone from any further contact.
	AddToBlacklist(ctx context.Context, phone, reason string) error
	// IsBlacklisted reports whether a phone is blocked.
	IsBlacklisted(ctx context.Context, phone string) (bool, error)

	// StrategyStats aggregates greetings sent and interested leads per strategy.
	StrategyStats(ctx context.Context) (map[lead.Strategy]StrategyStat, error)
	// SentSince counts successful greetings since the given instant.
	SentSince(ctx context.Context, since time.Time) (int, error)

	// RunSQLMaintenance performs VACUUM and ANALYZE.
	RunSQLMaintenance(ctx context.Context) error
}

// Limits bounds the capped tables.
type Limits struct {
	ConversationCap    int
	ProcessedEventsCap int
}

// sqlxStore implements Store on top of sqlx and SQLite.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
	limits Limits
	now    func() time.Time
}

// NewStore creates a Store backed by db.
func NewStore(db *sqlx.DB, log *slog.Logger, limits Limits) Store {
	if log == nil {
		log = logger.Discard()
	}
	if limits.ConversationCap <= 0 {
		limits.ConversationCap = 100
	}
	if limits.ProcessedEventsCap <= 0 {
		limits.ProcessedEventsCap = 2000
	}
	return &sqlxStore{
		db:     db,
		logger: log.With("component", "store"),
		limits: limits,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return wrapErr("ping", s.db.PingContext(ctx))
}

// withTx runs fn inside a transaction, rolling back on any error or panic.
func (s *sqlxStore) withTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction", "op", op, "error", err)
		return wrapErr(op+": begin", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
				s.logger.WarnContext(ctx, "Error rolling back transaction", "op", op, "error", rollbackErr)
			}
		}
	}()

	if err := fn(tx); err != nil {
		return wrapErr(op, err)
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit transaction", "op", op, "error", err)
		return wrapErr(op+": commit", err)
	}
	tx = nil
	return nil
}

// RunSQLMaintenance compacts the file and refreshes planner statistics.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Running SQL maintenance")
	for _, stmt := range []string{"VACUUM;", "ANALYZE;"} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			s.logger.ErrorContext(ctx, "SQL maintenance statement failed", "statement", stmt, "error", err)
			return wrapErr("sql maintenance", err)
		}
	}
	return nil
}

func requireCtx(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
