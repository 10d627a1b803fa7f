package handlers

import (
	tgbot "github.com/go-telegram/bot"

	"github.com/edgard/leadpilot/internal/config"
)

// RegisteredHandler represents a command handler with its description and middleware.
type RegisteredHandler struct {
	HandlerType tgbot.HandlerType
	Pattern     string
	Handler     tgbot.HandlerFunc
	Middleware  []tgbot.Middleware
	MatchType   tgbot.MatchType
}

// RegisterAllCommands initializes and returns a map of all operator console handlers.
// Every entry is admin-only.
func RegisterAllCommands(deps HandlerDeps) map[string]RegisteredHandler {
	adminMiddleware := []tgbot.Middleware{AdminOnly(deps)}
	command := func(pattern string, h tgbot.HandlerFunc) RegisteredHandler {
		return RegisteredHandler{
			HandlerType: tgbot.HandlerTypeMessageText,
			Pattern:     pattern,
			Handler:     h,
			MatchType:   tgbot.MatchTypeCommandStartOnly,
			Middleware:  adminMiddleware,
		}
	}

	op := deps.Operator
	handlers := map[string]RegisteredHandler{
		"/start":    command("start", NewTextHandler(deps, "start", func(m config.MessagesConfig) string { return m.Welcome })),
		"/help":     command("help", NewTextHandler(deps, "help", func(m config.MessagesConfig) string { return m.Help })),
		"/status":   command("status", NewStatusHandler(deps)),
		"/stats":    command("stats", NewStatsHandler(deps)),
		"/pause":    command("pause", NewPauseHandler(deps, true)),
		"/resume":   command("resume", NewPauseHandler(deps, false)),
		"/approve":  command("approve", NewLeadCommandHandler(deps, "approve", "Approved", op.Approve)),
		"/discard":  command("discard", NewLeadCommandHandler(deps, "discard", "Discarded", op.Discard)),
		"/convert":  command("convert", NewLeadCommandHandler(deps, "convert", "Converted", op.Convert)),
		"/strategy": command("strategy", NewStrategyHandler(deps)),
	}

	for _, prefix := range []string{CallbackApprove, CallbackDiscard} {
		handlers[prefix] = RegisteredHandler{
			HandlerType: tgbot.HandlerTypeCallbackQueryData,
			Pattern:     prefix,
			Handler:     NewCallbackHandler(deps),
			MatchType:   tgbot.MatchTypePrefix,
			Middleware:  adminMiddleware,
		}
	}
	return handlers
}
