// Package handlers contains the operator console commands, the approval
// buttons and their registration logic and middleware.
package handlers

import (
	"context"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// senderID returns the Telegram user behind a message or button press.
func senderID(update *models.Update) (int64, bool) {
	switch {
	case update.Message != nil && update.Message.From != nil:
		return update.Message.From.ID, true
	case update.CallbackQuery != nil:
		return update.CallbackQuery.From.ID, true
	}
	return 0, false
}

// AdminOnly creates a middleware that lets only the configured admin through.
// Anyone else gets the unauthorized message and the update stops here.
func AdminOnly(deps HandlerDeps) tgbot.Middleware {
	return func(next tgbot.HandlerFunc) tgbot.HandlerFunc {
		return func(ctx context.Context, bot *tgbot.Bot, update *models.Update) {
			cfg := deps.Config.Current()
			userID, ok := senderID(update)
			if ok && userID == cfg.Operator.AdminUserID {
				next(ctx, bot, update)
				return
			}

			log := deps.Logger.With("middleware", "AdminOnly")
			log.WarnContext(ctx, "Unauthorized access attempt", "user_id", userID)

			if update.CallbackQuery != nil {
				_, err := bot.AnswerCallbackQuery(ctx, &tgbot.AnswerCallbackQueryParams{
					CallbackQueryID: update.CallbackQuery.ID,
					Text:            cfg.Messages.Unauthorized,
				})
				if err != nil {
					log.ErrorContext(ctx, "Failed to answer unauthorized callback", "error", err)
				}
				return
			}
			if update.Message == nil {
				return
			}
			_, err := bot.SendMessage(ctx, &tgbot.SendMessageParams{
				ChatID: update.Message.Chat.ID,
				Text:   cfg.Messages.Unauthorized,
			})
			if err != nil {
				log.ErrorContext(ctx, "Failed to send unauthorized message", "error", err, "chat_id", update.Message.Chat.ID)
			}
		}
	}
}
