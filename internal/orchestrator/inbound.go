package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/edgard/leadpilot/internal/config"
	"github.com/edgard/leadpilot/internal/database"
	"github.com/edgard/leadpilot/internal/dedup"
	"github.com/edgard/leadpilot/internal/lead"
	"github.com/edgard/leadpilot/internal/lease"
	"github.com/edgard/leadpilot/internal/logger"
	"github.com/edgard/leadpilot/internal/phone"
	"github.com/edgard/leadpilot/internal/waha"
)

// pollStatuses are the lead statuses whose chats are always polled, even when
// they dropped out of the gateway's recent chat list.
var pollStatuses = []lead.Status{
	lead.StatusSent, lead.StatusPending, lead.StatusInterested, lead.StatusNeutral,
	lead.StatusAggressive, lead.StatusApprovalRequired, lead.StatusApproved, lead.StatusError,
}

// ignoredChat reports chats that never belong to a lead.
func ignoredChat(chatID string) bool {
	return chatID == "" ||
		phone.IsGroup(chatID) ||
		strings.HasSuffix(chatID, "@broadcast") ||
		strings.HasSuffix(chatID, "@newsletter")
}

// poll reads recent gateway chats plus the chats of active leads and records
// every unseen customer message.
func (o *Orchestrator) poll(ctx context.Context, cfg *config.Config) error {
	chats, err := o.gateway.GetChats(ctx, cfg.Gateway.ChatLimit)
	if err != nil {
		return fmt.Errorf("list chats: %w", err)
	}
	active, err := o.store.ListLeads(ctx, database.LeadFilter{Statuses: pollStatuses})
	if err != nil {
		return fmt.Errorf("list active leads: %w", err)
	}

	names := make(map[string]string, len(chats))
	var order []string
	add := func(chatID, name string) {
		if ignoredChat(chatID) {
			return
		}
		if _, ok := names[chatID]; ok {
			return
		}
		names[chatID] = name
		order = append(order, chatID)
	}
	for _, c := range chats {
		add(c.ID.String(), c.Name)
	}
	for _, l := range active {
		add(l.ChatID, "")
	}

	for _, chatID := range order {
		if err := o.pollChat(ctx, cfg, chatID, names[chatID]); err != nil {
			if fatal(ctx, err) {
				return err
			}
			o.logger.WarnContext(ctx, "Failed to poll chat", "chat_id", chatID, "error", err)
		}
	}
	return nil
}

type inbound struct {
	key dedup.Key
	msg waha.Message
}

// pollChat consumes the unseen messages of one chat, oldest first.
func (o *Orchestrator) pollChat(ctx context.Context, cfg *config.Config, chatID, chatName string) error {
	msgs, err := o.gateway.GetMessages(ctx, chatID, cfg.Gateway.MessageLimit)
	if err != nil {
		return fmt.Errorf("get messages: %w", err)
	}

	var (
		fresh []inbound
		skip  []dedup.Key
	)
	for _, m := range msgs {
		k := dedup.KeyFor(m.ID.String(), chatID, m.Timestamp, m.Body)
		if !o.dedup.IsNew(k.ID) {
			continue
		}
		if m.FromMe || strings.TrimSpace(m.Body) == "" {
			skip = append(skip, k)
			continue
		}
		fresh = append(fresh, inbound{key: k, msg: m})
	}
	if err := o.dedup.MarkProcessed(ctx, skip...); err != nil {
		return err
	}
	if len(fresh) == 0 {
		return nil
	}

	keys := make([]dedup.Key, len(fresh))
	for i, in := range fresh {
		keys[i] = in.key
	}

	canonical := phone.FromChatID(chatID)
	if canonical != "" {
		canonical = phone.Normalize(canonical, cfg.Outreach.DefaultRegion)
	}
	blocked, err := o.store.IsBlacklisted(ctx, canonical)
	if err != nil {
		return err
	}
	if blocked {
		o.logger.InfoContext(ctx, "Dropping messages from blacklisted phone", "chat_id", chatID, "count", len(fresh))
		return o.dedup.MarkProcessed(ctx, keys...)
	}

	now := o.clock.Now()
	found, err := o.store.FindLeadByChat(ctx, chatID, canonical)
	switch {
	case errors.Is(err, database.ErrNotFound):
		guest := &lead.Lead{
			ID:          o.guestID(now),
			Phone:       canonical,
			ChatID:      chatID,
			CompanyName: strings.TrimSpace(chatName),
			Status:      lead.StatusNew,
			IsGuest:     true,
		}
		o.logger.InfoContext(ctx, "New guest lead from unknown chat", "lead_id", guest.ID, "chat_id", chatID)
		return o.recordChat(ctx, guest, true, chatID, fresh, keys, now)
	case err != nil:
		return err
	}

	// the messages stay unprocessed while another writer holds the lead
	id := found.ID
	err = o.withLead(ctx, cfg, id, func(ctx context.Context) error {
		l, err := o.store.GetLead(ctx, id)
		if err != nil {
			return err
		}
		return o.recordChat(ctx, l, false, chatID, fresh, keys, now)
	})
	if errors.Is(err, lease.ErrHeld) {
		o.logger.DebugContext(ctx, "Lead busy, inbound deferred to the next poll", "lead_id", id, "messages", len(fresh))
		return nil
	}
	return err
}

// recordChat appends fresh to l's conversation and queues the reply in one
// transaction. An existing lead must be held under its lease.
func (o *Orchestrator) recordChat(ctx context.Context, l *lead.Lead, create bool, chatID string, fresh []inbound, keys []dedup.Key, now time.Time) error {
	if l.Status == lead.StatusBlacklisted {
		o.logger.InfoContext(ctx, "Dropping messages from blacklisted lead", "lead_id", l.ID, "count", len(fresh))
		return o.dedup.MarkProcessed(ctx, keys...)
	}
	if l.ChatID != chatID {
		l.ChatID = chatID
	}

	terminal := l.Status.IsTerminal()
	entries := make([]database.ConversationEntry, 0, len(fresh))
	texts := make([]string, 0, len(fresh))
	for _, in := range fresh {
		text := strings.TrimSpace(in.msg.Body)
		entries = append(entries, database.ConversationEntry{
			ChatID:    chatID,
			LeadID:    l.ID,
			Sender:    database.SenderCustomer,
			Text:      text,
			Timestamp: messageTime(in.msg, now),
		})
		texts = append(texts, text)
		l.CustomerMessageCount++
		if !terminal {
			o.thinking.Mark(l, text, now)
		}
	}
	seenAt := now
	l.LastInboundAt = &seenAt
	if !terminal && l.IsArchived() {
		// a ghost that writes back is active again
		l.ArchivedAt = nil
		l.ArchiveReason = ""
	}

	batch := database.InboundBatch{
		Lead:    l,
		Create:  create,
		Entries: entries,
		Events:  o.dedup.Events(ctx, keys...),
	}
	if err := o.store.RecordInbound(ctx, batch); err != nil {
		return fmt.Errorf("record inbound for %s: %w", l.ID, err)
	}
	ids := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = k.ID
	}
	o.dedup.Remember(ids...)

	o.logger.InfoContext(ctx, "Inbound recorded",
		"lead_id", l.ID, "messages", len(fresh), "status", l.Status, "preview", logger.Preview(texts[len(texts)-1]))

	if terminal {
		msg := fmt.Sprintf("Message from %s lead %s (%s):\n\n%s", l.Status, l.DisplayName(), l.ID, strings.Join(texts, "\n"))
		if err := o.notifier.Alert(ctx, msg); err != nil {
			o.logger.WarnContext(ctx, "Failed to alert operator", "lead_id", l.ID, "error", err)
		}
	}

	if err := o.gateway.MarkSeen(ctx, chatID); err != nil {
		o.logger.DebugContext(ctx, "Failed to mark chat seen", "chat_id", chatID, "error", err)
	}
	return nil
}

// messageTime converts the gateway's unix seconds, falling back to now.
func messageTime(m waha.Message, now time.Time) time.Time {
	if m.Timestamp <= 0 {
		return now
	}
	return time.Unix(m.Timestamp, 0).UTC()
}
