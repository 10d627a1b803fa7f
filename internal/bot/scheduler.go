package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"

	"github.com/edgard/leadpilot/internal/bot/tasks"
	"github.com/edgard/leadpilot/internal/config"
	"github.com/edgard/leadpilot/internal/database"
	"github.com/edgard/leadpilot/internal/logger"
)

// TickFunc runs one orchestrator pass.
type TickFunc func(ctx context.Context) error

// Scheduler drives the orchestrator tick and the cron maintenance tasks with gocron.
// A fatal error from any job is delivered once on Fatal.
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *slog.Logger
	clock     clockwork.Clock
	cfg       *config.Config
	tick      TickFunc
	taskMap   map[string]tasks.ScheduledTaskFunc

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc

	fatalOnce sync.Once
	fatal     chan error
}

// NewScheduler creates a scheduler for tick and the tasks enabled in cfg.
func NewScheduler(log *slog.Logger, clock clockwork.Clock, cfg *config.Config, tick TickFunc, taskMap map[string]tasks.ScheduledTaskFunc) (*Scheduler, error) {
	if log == nil {
		log = logger.Discard()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	log = log.With("component", "scheduler")

	s, err := gocron.NewScheduler(
		gocron.WithLogger(logger.Gocron(log)),
		gocron.WithClock(clock),
		gocron.WithStopTimeout(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create gocron scheduler: %w", err)
	}

	return &Scheduler{
		scheduler: s,
		logger:    log,
		clock:     clock,
		cfg:       cfg,
		tick:      tick,
		taskMap:   taskMap,
		fatal:     make(chan error, 1),
	}, nil
}

// Fatal delivers the first error that must stop the process.
func (s *Scheduler) Fatal() <-chan error {
	return s.fatal
}

func (s *Scheduler) raise(err error) {
	s.fatalOnce.Do(func() {
		s.fatal <- err
	})
}

// Start registers the tick job and every enabled task, then starts the scheduler.
// Jobs run with a context that Stop cancels.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("scheduler is already running")
	}
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	if s.tick != nil {
		interval := s.cfg.Orchestrator.TickInterval
		_, err := s.scheduler.NewJob(
			gocron.DurationJob(interval),
			gocron.NewTask(s.runTick, s.ctx),
			gocron.WithName("tick"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)
		if err != nil {
			s.cancel()
			return fmt.Errorf("schedule tick: %w", err)
		}
		s.logger.Info("Scheduled orchestrator tick", "interval", interval)
	}

	scheduledCount := 0
	for taskName, taskConfig := range s.cfg.Scheduler.Tasks {
		if !taskConfig.Enabled {
			s.logger.Info("Skipping disabled task", "task_name", taskName)
			continue
		}

		taskFunc, exists := s.taskMap[taskName]
		if !exists {
			s.logger.Warn("Scheduled task configured but not found in registry, skipping", "task_name", taskName)
			continue
		}

		if taskConfig.Schedule == "" {
			s.logger.Warn("Scheduled task enabled but has empty schedule, skipping", "task_name", taskName)
			continue
		}

		_, err := s.scheduler.NewJob(
			gocron.CronJob(taskConfig.Schedule, true),
			gocron.NewTask(s.runTask, s.ctx, taskName, taskFunc),
			gocron.WithName(taskName),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			s.logger.Error("Failed to schedule task", "task_name", taskName, "schedule", taskConfig.Schedule, "error", err)
			continue
		}

		s.logger.Info("Scheduled task", "task_name", taskName, "schedule", taskConfig.Schedule)
		scheduledCount++
	}

	s.scheduler.Start()
	s.running = true
	s.logger.Info("Scheduler started", "tasks_scheduled", scheduledCount)
	return nil
}

func (s *Scheduler) runTick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := s.tick(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("Orchestrator tick failed", "error", err)
		s.raise(fmt.Errorf("tick: %w", err))
	}
}

func (s *Scheduler) runTask(ctx context.Context, name string, taskFunc tasks.ScheduledTaskFunc) {
	if ctx.Err() != nil {
		return
	}
	s.logger.Info("Running scheduled task", "task_name", name)
	startTime := s.clock.Now()
	err := taskFunc(ctx)
	duration := s.clock.Since(startTime)
	if err != nil {
		s.logger.Error("Scheduled task failed", "task_name", name, "error", err, "duration", duration)
		if database.IsCorrupt(err) {
			s.raise(fmt.Errorf("task %s: %w", name, err))
		}
		return
	}
	s.logger.Info("Finished scheduled task", "task_name", name, "duration", duration)
}

// Stop cancels running jobs and shuts the scheduler down, waiting for them to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.cancel()
	err := s.scheduler.Shutdown()
	if err != nil {
		s.logger.Error("Error during scheduler shutdown", "error", err)
	} else {
		s.logger.Info("Scheduler stopped gracefully")
	}
	s.running = false
	return err
}
