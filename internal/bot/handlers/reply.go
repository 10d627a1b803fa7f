package handlers

import (
	"context"
	"log/slog"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// send writes text to chatID and logs a failed delivery.
func send(ctx context.Context, b *bot.Bot, log *slog.Logger, chatID int64, text string) {
	if _, err := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text}); err != nil {
		log.ErrorContext(ctx, "Failed to send reply", "error", err, "chat_id", chatID)
	}
}

// commandArgs returns the whitespace-separated arguments after the command word.
func commandArgs(update *models.Update) []string {
	if update.Message == nil {
		return nil
	}
	fields := strings.Fields(update.Message.Text)
	if len(fields) < 2 {
		return nil
	}
	return fields[1:]
}
