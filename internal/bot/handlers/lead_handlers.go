package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/leadpilot/internal/database"
	"github.com/edgard/leadpilot/internal/lead"
	"github.com/edgard/leadpilot/internal/lease"
	"github.com/edgard/leadpilot/internal/orchestrator"
)

// Callback data prefixes of the approval buttons; the lead id follows.
const (
	CallbackApprove = "approve:"
	CallbackDiscard = "discard:"
)

// leadAction applies one operator intent to a lead.
type leadAction func(ctx context.Context, leadID string) (*lead.Lead, error)

// describe renders the outcome of a lead action for the operator.
func describe(verb, leadID string, l *lead.Lead, err error) string {
	switch {
	case err == nil:
		return fmt.Sprintf("%s %s (%s): now %s.", verb, l.DisplayName(), l.ID, l.Status)
	case errors.Is(err, database.ErrNotFound):
		return fmt.Sprintf("Lead %s not found.", leadID)
	case errors.Is(err, orchestrator.ErrNoDraft):
		return fmt.Sprintf("Lead %s has no draft awaiting approval.", leadID)
	case errors.Is(err, lease.ErrHeld):
		return fmt.Sprintf("Lead %s is busy, try again in a moment.", leadID)
	case errors.Is(err, lead.ErrInvalidTransition):
		return fmt.Sprintf("Cannot change lead %s: %v", leadID, err)
	}
	return ""
}

// NewLeadCommandHandler returns a handler for /approve, /discard and /convert.
func NewLeadCommandHandler(deps HandlerDeps, name, verb string, action leadAction) bot.HandlerFunc {
	return leadCommandHandler{deps: deps, name: name, verb: verb, action: action}.Handle
}

type leadCommandHandler struct {
	deps   HandlerDeps
	name   string
	verb   string
	action leadAction
}

func (h leadCommandHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", h.name)
	if update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID

	args := commandArgs(update)
	if len(args) != 1 {
		send(ctx, b, log, chatID, fmt.Sprintf("Usage: /%s <lead>", h.name))
		return
	}
	send(ctx, b, log, chatID, h.run(ctx, log, args[0]))
}

func (h leadCommandHandler) run(ctx context.Context, log *slog.Logger, leadID string) string {
	l, err := h.action(ctx, leadID)
	text := describe(h.verb, leadID, l, err)
	if text == "" {
		log.ErrorContext(ctx, "Lead command failed", "lead_id", leadID, "error", err)
		return h.deps.Config.Current().Messages.GeneralError
	}
	if err != nil {
		log.WarnContext(ctx, "Lead command rejected", "lead_id", leadID, "error", err)
	}
	return text
}

// NewStrategyHandler returns a handler for /strategy <lead> <code>.
func NewStrategyHandler(deps HandlerDeps) bot.HandlerFunc {
	return strategyHandler{deps}.Handle
}

type strategyHandler struct {
	deps HandlerDeps
}

func (h strategyHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "strategy")
	if update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID

	args := commandArgs(update)
	if len(args) != 2 {
		var codes []string
		for _, s := range lead.Strategies {
			codes = append(codes, fmt.Sprintf("%s %s", s.Code, s.Name))
		}
		send(ctx, b, log, chatID, "Usage: /strategy <lead> <code>\n"+strings.Join(codes, "\n"))
		return
	}
	code, err := lead.ParseStrategy(args[1])
	if err != nil {
		send(ctx, b, log, chatID, fmt.Sprintf("Unknown strategy %q.", args[1]))
		return
	}

	l, err := h.deps.Operator.RequestStrategy(ctx, args[0], code)
	if err != nil {
		text := describe("", args[0], l, err)
		if text == "" {
			log.ErrorContext(ctx, "Strategy request failed", "lead_id", args[0], "error", err)
			text = h.deps.Config.Current().Messages.GeneralError
		}
		send(ctx, b, log, chatID, text)
		return
	}
	log.InfoContext(ctx, "Strategy change requested", "lead_id", l.ID, "strategy", code)
	send(ctx, b, log, chatID, fmt.Sprintf("Strategy %s requested for %s (%s). It applies on the next tick.", code, l.DisplayName(), l.ID))
}

// NewCallbackHandler returns the handler of the inline Approve and Discard buttons.
func NewCallbackHandler(deps HandlerDeps) bot.HandlerFunc {
	return callbackHandler{deps}.Handle
}

type callbackHandler struct {
	deps HandlerDeps
}

func (h callbackHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "approval_callback")
	cq := update.CallbackQuery
	if cq == nil {
		return
	}

	var cmd leadCommandHandler
	var leadID string
	switch {
	case strings.HasPrefix(cq.Data, CallbackApprove):
		leadID = strings.TrimPrefix(cq.Data, CallbackApprove)
		cmd = leadCommandHandler{deps: h.deps, name: "approve", verb: "Approved", action: h.deps.Operator.Approve}
	case strings.HasPrefix(cq.Data, CallbackDiscard):
		leadID = strings.TrimPrefix(cq.Data, CallbackDiscard)
		cmd = leadCommandHandler{deps: h.deps, name: "discard", verb: "Discarded", action: h.deps.Operator.Discard}
	default:
		log.WarnContext(ctx, "Unknown callback data", "data", cq.Data)
		return
	}

	text := cmd.run(ctx, log, leadID)
	if _, err := b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: cq.ID,
		Text:            text,
	}); err != nil {
		log.ErrorContext(ctx, "Failed to answer callback", "error", err)
	}

	msg := cq.Message.Message
	if msg == nil {
		return
	}
	if _, err := b.EditMessageReplyMarkup(ctx, &bot.EditMessageReplyMarkupParams{
		ChatID:    msg.Chat.ID,
		MessageID: msg.ID,
	}); err != nil {
		log.DebugContext(ctx, "Failed to remove approval buttons", "error", err)
	}
	send(ctx, b, log, msg.Chat.ID, text)
}
