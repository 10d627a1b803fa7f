// Package bot manages the lifecycle of the lead orchestrator process: the
// scheduler driving the loop, the optional operator console and config reloads.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	tgbot "github.com/go-telegram/bot"
	"golang.org/x/sync/errgroup"
)

// ConfigWatcher hot-reloads the configuration file.
type ConfigWatcher interface {
	Watch()
}

// Bot represents the main application and manages its components' lifecycle.
type Bot struct {
	logger    *slog.Logger
	config    ConfigWatcher
	tgBot     *tgbot.Bot
	scheduler *Scheduler
}

// NewBot creates the application. tgBot is nil when the operator console is disabled.
func NewBot(logger *slog.Logger, config ConfigWatcher, tgBot *tgbot.Bot, scheduler *Scheduler) *Bot {
	return &Bot{
		logger:    logger.With("component", "bot_orchestrator"),
		config:    config,
		tgBot:     tgBot,
		scheduler: scheduler,
	}
}

// Run starts every component and blocks until ctx is cancelled or a component
// fails. A storage corruption reported by the scheduler is returned so the
// process exits non-zero.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("Starting lead orchestrator...")

	if b.config != nil {
		b.config.Watch()
	}

	g, gCtx := errgroup.WithContext(ctx)

	if b.tgBot != nil {
		g.Go(func() error {
			b.logger.Info("Starting operator console listener...")

			b.tgBot.Start(gCtx)
			b.logger.Info("Operator console listener stopped.")

			if gCtx.Err() == nil {
				b.logger.Warn("Operator console listener stopped unexpectedly without context cancellation.")
				return errors.New("operator console listener stopped unexpectedly")
			}
			return nil
		})
	}

	g.Go(func() error {
		b.logger.Info("Starting scheduler...")
		if err := b.scheduler.Start(gCtx); err != nil {
			b.logger.Error("Failed to start scheduler", "error", err)
			return fmt.Errorf("failed to start scheduler: %w", err)
		}

		var runErr error
		select {
		case <-gCtx.Done():
			b.logger.Info("Shutdown signal received, stopping scheduler...")
		case runErr = <-b.scheduler.Fatal():
			b.logger.Error("Fatal error, stopping scheduler", "error", runErr)
		}

		if err := b.scheduler.Stop(); err != nil {
			b.logger.Error("Error stopping scheduler", "error", err)
		}
		return runErr
	})

	b.logger.Info("Lead orchestrator running. Waiting for shutdown signal or error...")
	err := g.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Error("Lead orchestrator stopped due to error", "error", err)
		return err
	}

	b.logger.Info("Lead orchestrator stopped gracefully.")
	return nil
}
