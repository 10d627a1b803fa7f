package database

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/jmoiron/sqlx"
)

const insertEntryQuery = `
	INSERT INTO conversation_entries (chat_id, lead_id, sender, text, source, timestamp)
	VALUES (:chat_id, :lead_id, :sender, :text, :source, :timestamp);`

// AppendConversation adds one entry to a chat history.
func (s *sqlxStore) AppendConversation(ctx context.Context, entry ConversationEntry) error {
	return s.withTx(ctx, "append conversation", func(tx *sqlx.Tx) error {
		return s.appendEntry(ctx, tx, entry)
	})
}

func (s *sqlxStore) appendEntry(ctx context.Context, tx *sqlx.Tx, entry ConversationEntry) error {
	if entry.ChatID == "" {
		return errors.New("conversation entry must have a chat id")
	}
	if entry.Sender != SenderCustomer && entry.Sender != SenderBot {
		return fmt.Errorf("conversation entry has unknown sender %q", entry.Sender)
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	if _, err := tx.NamedExecContext(ctx, insertEntryQuery, entry); err != nil {
		return wrapErr("insert conversation entry", err)
	}

	// keep only the newest entries of this chat
	_, err := tx.ExecContext(ctx, `
		DELETE FROM conversation_entries
		WHERE chat_id = ? AND id NOT IN (
			SELECT id FROM conversation_entries WHERE chat_id = ? ORDER BY id DESC LIMIT ?
		);`, entry.ChatID, entry.ChatID, s.limits.ConversationCap)
	if err != nil {
		return wrapErr("evict conversation entries", err)
	}
	return nil
}

// GetConversation returns up to limit most recent entries of a chat, oldest first.
func (s *sqlxStore) GetConversation(ctx context.Context, chatID string, limit int) ([]ConversationEntry, error) {
	if err := requireCtx(ctx, "get conversation"); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > s.limits.ConversationCap {
		limit = s.limits.ConversationCap
	}

	var entries []ConversationEntry
	query := `
		SELECT id, chat_id, lead_id, sender, text, source, timestamp
		FROM conversation_entries WHERE chat_id = ? ORDER BY id DESC LIMIT ?;`
	if err := s.db.SelectContext(ctx, &entries, query, chatID, limit); err != nil {
		s.logger.ErrorContext(ctx, "Error fetching conversation", "chat_id", chatID, "error", err)
		return nil, wrapErr("get conversation "+chatID, err)
	}
	slices.Reverse(entries)
	return entries, nil
}

// RecordInbound commits a poll batch: the lead (created or updated), its new
// history entries and the consumed event ids either all land or none do.
func (s *sqlxStore) RecordInbound(ctx context.Context, batch InboundBatch) error {
	if err := validateLead(batch.Lead); err != nil {
		return err
	}
	return s.withTx(ctx, "record inbound", func(tx *sqlx.Tx) error {
		if batch.Create {
			if err := s.insertLead(ctx, tx, batch.Lead); err != nil {
				return err
			}
		} else if err := s.updateLead(ctx, tx, batch.Lead); err != nil {
			return err
		}
		for _, e := range batch.Entries {
			if e.LeadID == "" {
				e.LeadID = batch.Lead.ID
			}
			if err := s.appendEntry(ctx, tx, e); err != nil {
				return err
			}
		}
		return s.insertEvents(ctx, tx, batch.Events)
	})
}

// RecordOutbound commits the outcome of one send attempt.
func (s *sqlxStore) RecordOutbound(ctx context.Context, rec OutboundRecord) error {
	if err := validateLead(rec.Lead); err != nil {
		return err
	}
	return s.withTx(ctx, "record outbound", func(tx *sqlx.Tx) error {
		if err := s.updateLead(ctx, tx, rec.Lead); err != nil {
			return err
		}
		if rec.Entry != nil {
			e := *rec.Entry
			if e.LeadID == "" {
				e.LeadID = rec.Lead.ID
			}
			if err := s.appendEntry(ctx, tx, e); err != nil {
				return err
			}
		}
		send := rec.Send
		if send.LeadID == "" {
			send.LeadID = rec.Lead.ID
		}
		if send.ChatID == "" {
			send.ChatID = rec.Lead.ChatID
		}
		if send.SentAt.IsZero() {
			send.SentAt = s.now()
		}
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO send_log (lead_id, chat_id, kind, strategy, success, error, sent_at)
			VALUES (:lead_id, :chat_id, :kind, :strategy, :success, :error, :sent_at);`, send)
		if err != nil {
			return wrapErr("insert send log", err)
		}
		return nil
	})
}
