// Package telegram wires the operator console onto go-telegram/bot and
// delivers operator notifications from the orchestrator.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/leadpilot/internal/bot/handlers"
)

// NewConsoleBot creates the go-telegram/bot client used by the operator console and the notifier.
func NewConsoleBot(token string, logger *slog.Logger, opts ...bot.Option) (*bot.Bot, error) {
	if token == "" {
		return nil, errors.New("operator bot token is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	b, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create operator bot: %w", err)
	}
	logger.Info("Operator bot created", "component", "operator_console")
	return b, nil
}

// wrap applies mw so that mw[0] runs first.
func wrap(h bot.HandlerFunc, mw []bot.Middleware) bot.HandlerFunc {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

// RegisterHandlers installs every console handler on b.
func RegisterHandlers(b *bot.Bot, logger *slog.Logger, registered map[string]handlers.RegisteredHandler) error {
	if b == nil {
		return errors.New("operator bot is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "operator_console")

	count := 0
	for key, h := range registered {
		if h.Handler == nil {
			log.Warn("Handler missing, not registered", "key", key)
			continue
		}
		b.RegisterHandler(h.HandlerType, h.Pattern, h.MatchType, wrap(h.Handler, h.Middleware))
		log.Debug("Handler registered", "pattern", h.Pattern, "middleware", len(h.Middleware))
		count++
	}
	log.Info("Console handlers registered", "count", count)
	return nil
}

// consoleCommands is the command menu shown by Telegram clients.
var consoleCommands = []models.BotCommand{
	{Command: "status", Description: "Loop state, daily quota and lead counts"},
	{Command: "stats", Description: "Greetings and interest per strategy"},
	{Command: "pause", Description: "Stop all outbound sending"},
	{Command: "resume", Description: "Resume outbound sending"},
	{Command: "approve", Description: "Approve a held draft: /approve <lead>"},
	{Command: "discard", Description: "Drop a held draft: /discard <lead>"},
	{Command: "convert", Description: "Mark a lead as converted: /convert <lead>"},
	{Command: "strategy", Description: "Change strategy: /strategy <lead> <A-E>"},
	{Command: "help", Description: "Command list"},
}

// SetCommands publishes the console command menu. Failure only costs the menu.
func SetCommands(ctx context.Context, b *bot.Bot, logger *slog.Logger) {
	if _, err := b.SetMyCommands(ctx, &bot.SetMyCommandsParams{Commands: consoleCommands}); err != nil {
		logger.WarnContext(ctx, "Failed to set Telegram command menu", "error", err)
	}
}
