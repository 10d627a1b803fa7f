package handlers

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/leadpilot/internal/config"
)

// NewTextHandler answers a command with a fixed configured message.
// The message is read on every call so hot reloads apply.
func NewTextHandler(deps HandlerDeps, name string, pick func(config.MessagesConfig) string) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		log := deps.Logger.With("handler", name)
		if update.Message == nil {
			log.WarnContext(ctx, "Update without message", "update_id", update.ID)
			return
		}
		log.InfoContext(ctx, "Handling command", "command", name, "chat_id", update.Message.Chat.ID)
		send(ctx, b, log, update.Message.Chat.ID, pick(deps.Config.Current().Messages))
	}
}
