// Package main contains the entrypoint of the lead conversation orchestrator.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/jonboulle/clockwork"

	"github.com/edgard/leadpilot/internal/bot"
	"github.com/edgard/leadpilot/internal/bot/handlers"
	"github.com/edgard/leadpilot/internal/bot/tasks"
	"github.com/edgard/leadpilot/internal/config"
	"github.com/edgard/leadpilot/internal/database"
	"github.com/edgard/leadpilot/internal/dedup"
	"github.com/edgard/leadpilot/internal/gemini"
	"github.com/edgard/leadpilot/internal/governor"
	"github.com/edgard/leadpilot/internal/lease"
	"github.com/edgard/leadpilot/internal/logger"
	"github.com/edgard/leadpilot/internal/orchestrator"
	"github.com/edgard/leadpilot/internal/status"
	"github.com/edgard/leadpilot/internal/telegram"
	"github.com/edgard/leadpilot/internal/thinking"
	"github.com/edgard/leadpilot/internal/timers"
	"github.com/edgard/leadpilot/internal/waha"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run wires every component, blocks until shutdown and returns the exit code.
// Storage corruption exits non-zero.
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	flag.Parse()

	bootstrap := slog.New(slog.NewTextHandler(os.Stderr, nil))
	provider, err := config.NewProvider(*configPath, bootstrap)
	if err != nil {
		bootstrap.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}
	cfg := provider.Current()

	log := logger.NewLogger(cfg.Logger.Level, cfg.Logger.JSON)
	slog.SetDefault(log)
	log.Info("Logger initialized", "level", cfg.Logger.Level, "json", cfg.Logger.JSON)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to open database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log, database.Limits{
		ConversationCap:    cfg.Database.ConversationCap,
		ProcessedEventsCap: cfg.Database.ProcessedEventsCap,
	})

	clock := clockwork.NewRealClock()

	gov, err := governor.New(ctx, store, provider, clock, log)
	if err != nil {
		log.Error("Failed to load rate governor state", "error", err)
		return 1
	}
	dd := dedup.New(store, log, cfg.Database.ProcessedEventsCap)
	if err := dd.Load(ctx); err != nil {
		log.Error("Failed to load processed events", "error", err)
		return 1
	}

	gemClient, err := gemini.NewClient(ctx, cfg.Gemini, provider, log)
	if err != nil {
		log.Error("Failed to initialize Gemini client", "error", err)
		return 1
	}
	classifier := gemini.NewKeywordClassifier(gemClient, func() []string {
		return provider.Current().Outreach.AggressiveKeywords
	}, log)

	tm := timers.New()
	gateway := waha.NewClient(cfg.Gateway, cfg.Outreach.DefaultRegion, log)

	var (
		tg       *tgbot.Bot
		notifier orchestrator.Notifier
	)
	if cfg.Operator.Enabled {
		tg, err = telegram.NewConsoleBot(cfg.Operator.Token, log, tgbot.WithMiddlewares(logger.Middleware(log)))
		if err != nil {
			log.Error("Failed to create Telegram bot", "error", err)
			return 1
		}
		notifier = telegram.NewNotifier(tg, provider, log)
	}

	orch, err := orchestrator.New(orchestrator.Deps{
		Store:      store,
		Gateway:    gateway,
		Generator:  gemClient,
		Classifier: classifier,
		Notifier:   notifier,
		Config:     provider,
		Governor:   gov,
		Dedup:      dd,
		Thinking:   thinking.New(store, tm, clock, provider, log),
		Leases:     lease.NewManager(store, clock, log),
		Timers:     tm,
		Status:     status.NewWriter(cfg.Status.Path, log),
		Clock:      clock,
		Logger:     log,
	})
	if err != nil {
		log.Error("Failed to build orchestrator", "error", err)
		return 1
	}

	if tg != nil {
		hDeps := handlers.HandlerDeps{
			Logger:   log,
			Config:   provider,
			Store:    store,
			Operator: orch,
		}
		if err := telegram.RegisterHandlers(tg, log, handlers.RegisterAllCommands(hDeps)); err != nil {
			log.Error("Failed to register Telegram handlers", "error", err)
			return 1
		}
		telegram.SetCommands(ctx, tg, log)
	}

	tDeps := tasks.TaskDeps{
		Logger: log,
		Store:  store,
		Leads:  orch,
		Config: provider,
		Clock:  clock,
	}
	sched, err := bot.NewScheduler(log, clock, cfg, orch.Tick, tasks.RegisterAllTasks(tDeps))
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}
	app := bot.NewBot(log, provider, tg, sched)

	runErr := app.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Lead orchestrator stopped due to error", "error", runErr)
		// Allow logs to flush before exiting on error
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Lead orchestrator stopped gracefully.")
	return 0
}
