package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/leadpilot/internal/bot/handlers"
	"github.com/edgard/leadpilot/internal/config"
	"github.com/edgard/leadpilot/internal/lead"
)

// ConfigSource returns the active configuration snapshot.
type ConfigSource interface {
	Current() *config.Config
}

// Notifier sends approval requests and alerts to the admin chat.
// It implements orchestrator.Notifier.
type Notifier struct {
	bot    *bot.Bot
	cfg    ConfigSource
	logger *slog.Logger
	delay  time.Duration
}

// NewNotifier returns a Notifier posting through b to the configured admin.
func NewNotifier(b *bot.Bot, cfg ConfigSource, logger *slog.Logger) *Notifier {
	return &Notifier{
		bot:    b,
		cfg:    cfg,
		logger: logger.With("component", "notifier"),
		delay:  time.Second,
	}
}

// NotifyApproval posts a held draft with Approve and Discard buttons.
func (n *Notifier) NotifyApproval(ctx context.Context, l *lead.Lead) error {
	msgs := n.cfg.Current().Messages
	text := fmt.Sprintf(msgs.ApprovalRequest, l.DisplayName(), l.ID, l.DraftMessage)
	markup := &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{{
			{Text: "Approve", CallbackData: handlers.CallbackApprove + l.ID},
			{Text: "Discard", CallbackData: handlers.CallbackDiscard + l.ID},
		}},
	}
	return n.send(ctx, text, markup)
}

// NotifyInterest tells the operator a lead turned interested.
func (n *Notifier) NotifyInterest(ctx context.Context, l *lead.Lead, text string) error {
	msgs := n.cfg.Current().Messages
	return n.send(ctx, fmt.Sprintf(msgs.InterestAlert, l.DisplayName(), l.ID, text), nil)
}

// Alert posts a plain text alert.
func (n *Notifier) Alert(ctx context.Context, text string) error {
	return n.send(ctx, text, nil)
}

func (n *Notifier) send(ctx context.Context, text string, markup models.ReplyMarkup) error {
	params := &bot.SendMessageParams{
		ChatID: n.cfg.Current().Operator.AdminUserID,
		Text:   text,
	}
	if markup != nil {
		params.ReplyMarkup = markup
	}
	return retry.Do(
		func() error {
			_, err := n.bot.SendMessage(ctx, params)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(n.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			n.logger.WarnContext(ctx, "Retrying operator notification", "attempt", attempt+1, "error", err)
		}),
	)
}
