package handlers

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// NewPauseHandler returns a handler that sets (paused=true) or clears the
// operator pause override. The override is not persisted.
func NewPauseHandler(deps HandlerDeps, paused bool) bot.HandlerFunc {
	return pauseHandler{deps: deps, paused: paused}.Handle
}

type pauseHandler struct {
	deps   HandlerDeps
	paused bool
}

func (h pauseHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "pause")
	if update.Message == nil {
		return
	}

	h.deps.Config.SetPaused(h.paused)
	log.InfoContext(ctx, "Operator changed pause override", "paused", h.paused)

	msgs := h.deps.Config.Current().Messages
	text := msgs.Resumed
	if h.paused {
		text = msgs.Paused
	}
	send(ctx, b, log, update.Message.Chat.ID, text)
}
