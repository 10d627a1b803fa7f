package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/edgard/leadpilot/internal/lead"
)

const leadColumns = `id, phone, chat_id, company_name, city, review, status, active_strategy, requested_strategy,
	pending_reply_since, last_incoming_text, draft_message, draft_kind, status_before_approval, last_sentiment,
	win_probability, objection, next_move, intro_message, sent_count, customer_message_count, last_outbound_at,
	last_inbound_at, last_error, is_guest, archived_at, archive_reason, created_at, updated_at`

const insertLeadQuery = `
	INSERT INTO leads (` + leadColumns + `)
	VALUES (:id, :phone, :chat_id, :company_name, :city, :review, :status, :active_strategy, :requested_strategy,
		:pending_reply_since, :last_incoming_text, :draft_message, :draft_kind, :status_before_approval, :last_sentiment,
		:win_probability, :objection, :next_move, :intro_message, :sent_count, :customer_message_count, :last_outbound_at,
		:last_inbound_at, :last_error, :is_guest, :archived_at, :archive_reason, :created_at, :updated_at);`

const updateLeadQuery = `
	UPDATE leads SET
		phone = :phone, chat_id = :chat_id, company_name = :company_name, city = :city, review = :review,
		status = :status, active_strategy = :active_strategy, requested_strategy = :requested_strategy,
		pending_reply_since = :pending_reply_since, last_incoming_text = :last_incoming_text,
		draft_message = :draft_message, draft_kind = :draft_kind, status_before_approval = :status_before_approval,
		last_sentiment = :last_sentiment, win_probability = :win_probability, objection = :objection,
		next_move = :next_move, intro_message = :intro_message, sent_count = :sent_count,
		customer_message_count = :customer_message_count, last_outbound_at = :last_outbound_at,
		last_inbound_at = :last_inbound_at, last_error = :last_error, is_guest = :is_guest,
		archived_at = :archived_at, archive_reason = :archive_reason, updated_at = :updated_at
	WHERE id = :id;`

func validateLead(l *lead.Lead) error {
	if l == nil {
		return errors.New("lead is nil")
	}
	if strings.TrimSpace(l.ID) == "" {
		return errors.New("lead must have an id")
	}
	if !l.Status.Valid() {
		return fmt.Errorf("lead %s has unknown status %q", l.ID, l.Status)
	}
	return nil
}

// CreateLead inserts a new lead record.
func (s *sqlxStore) CreateLead(ctx context.Context, l *lead.Lead) error {
	if err := validateLead(l); err != nil {
		return err
	}
	return s.withTx(ctx, "create lead", func(tx *sqlx.Tx) error {
		return s.insertLead(ctx, tx, l)
	})
}

func (s *sqlxStore) insertLead(ctx context.Context, tx *sqlx.Tx, l *lead.Lead) error {
	now := s.now()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	l.UpdatedAt = now
	if l.ActiveStrategy == "" {
		l.ActiveStrategy = lead.DefaultStrategy
	}
	if _, err := tx.NamedExecContext(ctx, insertLeadQuery, l); err != nil {
		s.logger.ErrorContext(ctx, "Error inserting lead", "lead_id", l.ID, "error", err)
		return wrapErr("insert lead "+l.ID, err)
	}
	s.logger.DebugContext(ctx, "Lead created", "lead_id", l.ID, "status", l.Status, "guest", l.IsGuest)
	return nil
}

func (s *sqlxStore) updateLead(ctx context.Context, tx *sqlx.Tx, l *lead.Lead) error {
	l.UpdatedAt = s.now()
	res, err := tx.NamedExecContext(ctx, updateLeadQuery, l)
	if err != nil {
		return wrapErr("update lead "+l.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapErr("update lead "+l.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("update lead %s: %w", l.ID, ErrNotFound)
	}
	return nil
}

// SaveLead persists every mutable field of l.
func (s *sqlxStore) SaveLead(ctx context.Context, l *lead.Lead) error {
	if err := validateLead(l); err != nil {
		return err
	}
	return s.withTx(ctx, "save lead", func(tx *sqlx.Tx) error {
		return s.updateLead(ctx, tx, l)
	})
}

// GetLead loads a lead by id.
func (s *sqlxStore) GetLead(ctx context.Context, id string) (*lead.Lead, error) {
	if err := requireCtx(ctx, "get lead"); err != nil {
		return nil, err
	}
	var l lead.Lead
	query := `SELECT ` + leadColumns + ` FROM leads WHERE id = ?;`
	if err := s.db.GetContext(ctx, &l, query, id); err != nil {
		return nil, wrapErr("get lead "+id, err)
	}
	return &l, nil
}

// FindLeadByChat resolves a lead by chat id first and canonical phone second.
func (s *sqlxStore) FindLeadByChat(ctx context.Context, chatID, phone string) (*lead.Lead, error) {
	if err := requireCtx(ctx, "find lead"); err != nil {
		return nil, err
	}
	var l lead.Lead
	query := `SELECT ` + leadColumns + ` FROM leads
		WHERE (chat_id = ? AND chat_id <> '') OR (phone = ? AND phone <> '')
		ORDER BY CASE WHEN chat_id = ? THEN 0 ELSE 1 END, archived_at IS NOT NULL
		LIMIT 1;`
	if err := s.db.GetContext(ctx, &l, query, chatID, phone, chatID); err != nil {
		return nil, wrapErr("find lead by chat "+chatID, err)
	}
	return &l, nil
}

// ListLeads returns leads matching f in creation order.
func (s *sqlxStore) ListLeads(ctx context.Context, f LeadFilter) ([]*lead.Lead, error) {
	if err := requireCtx(ctx, "list leads"); err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	switch {
	case f.ArchivedOnly:
		where = append(where, "archived_at IS NOT NULL")
	case !f.IncludeArchived:
		where = append(where, "archived_at IS NULL")
	}
	if f.PendingOnly {
		where = append(where, "pending_reply_since IS NOT NULL")
	}
	if f.StrategyRequested {
		where = append(where, "requested_strategy <> ''")
	}
	if len(f.Statuses) > 0 {
		clause, inArgs, err := sqlx.In("status IN (?)", f.Statuses)
		if err != nil {
			return nil, fmt.Errorf("list leads: build status filter: %w", err)
		}
		where = append(where, clause)
		args = append(args, inArgs...)
	}

	query := `SELECT ` + leadColumns + ` FROM leads`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY rowid"
	// the Go predicate may drop rows, so the limit is applied after it
	if f.Limit > 0 && f.Where == nil {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	var rows []*lead.Lead
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		s.logger.ErrorContext(ctx, "Error listing leads", "error", err)
		return nil, wrapErr("list leads", err)
	}

	if f.Where == nil {
		return rows, nil
	}
	out := make([]*lead.Lead, 0, len(rows))
	for _, l := range rows {
		if f.Where(l) {
			out = append(out, l)
			if f.Limit > 0 && len(out) == f.Limit {
				break
			}
		}
	}
	return out, nil
}

// CountLeadsByStatus returns non-archived lead counts per status.
func (s *sqlxStore) CountLeadsByStatus(ctx context.Context) (map[lead.Status]int, error) {
	if err := requireCtx(ctx, "count leads"); err != nil {
		return nil, err
	}
	var rows []struct {
		Status lead.Status `db:"status"`
		Count  int         `db:"n"`
	}
	query := `SELECT status, COUNT(*) AS n FROM leads WHERE archived_at IS NULL GROUP BY status;`
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, wrapErr("count leads by status", err)
	}
	counts := make(map[lead.Status]int, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// ArchiveLead stamps the lead as archived; the row is kept.
func (s *sqlxStore) ArchiveLead(ctx context.Context, l *lead.Lead, reason string) error {
	if err := validateLead(l); err != nil {
		return err
	}
	if l.Status.IsProtected() {
		return fmt.Errorf("archive lead %s: status %s is protected", l.ID, l.Status)
	}
	now := s.now()
	l.ArchivedAt = &now
	l.ArchiveReason = reason
	l.PendingReplySince = nil
	return s.withTx(ctx, "archive lead", func(tx *sqlx.Tx) error {
		return s.updateLead(ctx, tx, l)
	})
}
