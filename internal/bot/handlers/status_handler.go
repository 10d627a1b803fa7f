package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/leadpilot/internal/database"
	"github.com/edgard/leadpilot/internal/lead"
	"github.com/edgard/leadpilot/internal/status"
)

// NewStatusHandler returns a handler for the /status command.
func NewStatusHandler(deps HandlerDeps) bot.HandlerFunc {
	return statusHandler{deps}.Handle
}

type statusHandler struct {
	deps HandlerDeps
}

func (h statusHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "status")
	if update.Message == nil {
		return
	}

	snap, ok := h.deps.Operator.Status()
	if !ok {
		send(ctx, b, log, update.Message.Chat.ID, "No status yet, the loop has not completed a tick.")
		return
	}
	send(ctx, b, log, update.Message.Chat.ID, formatStatus(snap, h.deps.Config.Paused()))
}

func formatStatus(s status.Snapshot, paused bool) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Status: %s (%s)\n", s.Status, s.Details)
	fmt.Fprintf(&sb, "Sent today: %d/%d\n", s.DailySent, s.DailyLimit)
	if s.GatewayAvailable {
		sb.WriteString("Gateway: up\n")
	} else {
		sb.WriteString("Gateway: down\n")
	}
	if paused {
		sb.WriteString("Operator pause: on\n")
	}
	if s.PausedUntil != nil {
		fmt.Fprintf(&sb, "Cooldown until: %s\n", s.PausedUntil.Format(time.DateTime))
	}
	var counts []string
	for _, st := range lead.AllStatuses {
		if n := s.Counts[st]; n > 0 {
			counts = append(counts, fmt.Sprintf("%s %d", st, n))
		}
	}
	if len(counts) > 0 {
		fmt.Fprintf(&sb, "Leads: %s\n", strings.Join(counts, ", "))
	}
	fmt.Fprintf(&sb, "Updated: %s", s.UpdatedAt.Format(time.DateTime))
	return sb.String()
}

// NewStatsHandler returns a handler for the /stats command.
func NewStatsHandler(deps HandlerDeps) bot.HandlerFunc {
	return statsHandler{deps}.Handle
}

type statsHandler struct {
	deps HandlerDeps
}

func (h statsHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "stats")
	if update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID

	stats, err := h.deps.Store.StrategyStats(ctx)
	if err != nil {
		log.ErrorContext(ctx, "Failed to load strategy stats", "error", err)
		send(ctx, b, log, chatID, h.deps.Config.Current().Messages.GeneralError)
		return
	}
	counts, err := h.deps.Store.CountLeadsByStatus(ctx)
	if err != nil {
		log.ErrorContext(ctx, "Failed to count leads", "error", err)
		send(ctx, b, log, chatID, h.deps.Config.Current().Messages.GeneralError)
		return
	}
	send(ctx, b, log, chatID, formatStats(stats, counts))
}

func formatStats(stats map[lead.Strategy]database.StrategyStat, counts map[lead.Status]int) string {
	var sb strings.Builder
	sb.WriteString("Strategies:\n")
	for _, s := range lead.Strategies {
		st := stats[s.Code]
		rate := 0.0
		if st.Sent > 0 {
			rate = float64(st.Interested) * 100 / float64(st.Sent)
		}
		fmt.Fprintf(&sb, "%s %s: sent %d, interested %d (%.0f%%)\n", s.Code, s.Name, st.Sent, st.Interested, rate)
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	fmt.Fprintf(&sb, "Active leads: %d, interested %d, converted %d",
		total, counts[lead.StatusInterested], counts[lead.StatusConverted])
	return sb.String()
}
