// Package dedup remembers which inbound gateway events were already consumed
// so that a replayed poll never produces a second reply.
package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/edgard/leadpilot/internal/database"
	"github.com/edgard/leadpilot/internal/logger"
)

// bodyPrefixRunes bounds how much of the message text goes into a synthesized key.
const bodyPrefixRunes = 80

// Key identifies one inbound event.
type Key struct {
	ID string
	// Degraded is set when the gateway gave no id and the key was synthesized.
	Degraded bool
}

// EventStore is the durable side of the deduplicator.
type EventStore interface {
	LoadProcessedEvents(ctx context.Context, limit int) ([]string, error)
	MarkEventsProcessed(ctx context.Context, events []database.ProcessedEvent) error
}

// Deduplicator is an in-memory FIFO set mirrored to the processed_events table.
type Deduplicator struct {
	store  EventStore
	logger *slog.Logger
	limit  int

	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
}

// New creates a deduplicator holding at most limit ids.
func New(store EventStore, log *slog.Logger, limit int) *Deduplicator {
	if log == nil {
		log = logger.Discard()
	}
	if limit <= 0 {
		limit = 2000
	}
	return &Deduplicator{
		store:  store,
		logger: log.With("component", "dedup"),
		limit:  limit,
		seen:   make(map[string]struct{}, limit),
	}
}

// KeyFor returns the gateway id when present. Otherwise it synthesizes
// chat|timestamp|body-prefix and flags the key as degraded.
func KeyFor(id, chatID string, timestamp int64, body string) Key {
	if id = strings.TrimSpace(id); id != "" {
		return Key{ID: id}
	}
	runes := []rune(strings.TrimSpace(body))
	if len(runes) > bodyPrefixRunes {
		runes = runes[:bodyPrefixRunes]
	}
	return Key{
		ID:       chatID + "|" + strconv.FormatInt(timestamp, 10) + "|" + string(runes),
		Degraded: true,
	}
}

// Load warms the in-memory set from storage.
func (d *Deduplicator) Load(ctx context.Context) error {
	ids, err := d.store.LoadProcessedEvents(ctx, d.limit)
	if err != nil {
		return fmt.Errorf("load processed events: %w", err)
	}
	d.Remember(ids...)
	d.logger.InfoContext(ctx, "Processed event ids loaded", "count", len(ids))
	return nil
}

// IsNew reports whether id has not been consumed yet.
func (d *Deduplicator) IsNew(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seen[id]
	return !ok
}

// Events converts keys into durable rows, warning once per degraded key.
func (d *Deduplicator) Events(ctx context.Context, keys ...Key) []database.ProcessedEvent {
	events := make([]database.ProcessedEvent, 0, len(keys))
	for _, k := range keys {
		if k.ID == "" {
			continue
		}
		if k.Degraded {
			d.logger.WarnContext(ctx, "Inbound message has no gateway id, using synthesized key", "key", logger.Preview(k.ID))
		}
		events = append(events, database.ProcessedEvent{EventID: k.ID, Degraded: k.Degraded})
	}
	return events
}

// MarkProcessed persists keys and then remembers them in memory.
func (d *Deduplicator) MarkProcessed(ctx context.Context, keys ...Key) error {
	events := d.Events(ctx, keys...)
	if len(events) == 0 {
		return nil
	}
	if err := d.store.MarkEventsProcessed(ctx, events); err != nil {
		return fmt.Errorf("mark events processed: %w", err)
	}
	ids := make([]string, len(events))
	for i, ev := range events {
		ids[i] = ev.EventID
	}
	d.Remember(ids...)
	return nil
}

// Remember updates only the in-memory set. It is used after a transaction
// that already wrote the durable rows.
func (d *Deduplicator) Remember(ids ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := d.seen[id]; ok {
			continue
		}
		d.seen[id] = struct{}{}
		d.order = append(d.order, id)
	}
	if over := len(d.order) - d.limit; over > 0 {
		for _, id := range d.order[:over] {
			delete(d.seen, id)
		}
		d.order = append(d.order[:0:0], d.order[over:]...)
	}
}

// Len returns how many ids are held in memory.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.order)
}
