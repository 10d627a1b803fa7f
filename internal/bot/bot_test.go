package bot

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/edgard/leadpilot/internal/bot/tasks"
	"github.com/edgard/leadpilot/internal/config"
	"github.com/edgard/leadpilot/internal/database"
	"github.com/edgard/leadpilot/internal/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func schedulerConfig() *config.Config {
	cfg := config.Default()
	cfg.Orchestrator.TickInterval = 20 * time.Millisecond
	cfg.Scheduler.Tasks = nil
	return cfg
}

type countingWatcher struct{ calls atomic.Int32 }

func (w *countingWatcher) Watch() { w.calls.Add(1) }

func TestSchedulerRunsTickUntilStopped(t *testing.T) {
	var ticks atomic.Int32
	s, err := NewScheduler(logger.Discard(), nil, schedulerConfig(), func(context.Context) error {
		ticks.Add(1)
		return nil
	}, nil)
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	require.Error(t, s.Start(context.Background()), "second start")

	require.Eventually(t, func() bool { return ticks.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
}

func TestSchedulerSkipsUnknownTasks(t *testing.T) {
	cfg := schedulerConfig()
	cfg.Scheduler.Tasks = map[string]config.TaskConfig{
		"missing":                 {Enabled: true, Schedule: "0 0 * * * *"},
		config.TaskSQLMaintenance: {Enabled: false, Schedule: "0 30 4 * * *"},
	}
	s, err := NewScheduler(logger.Discard(), nil, cfg, nil, map[string]tasks.ScheduledTaskFunc{
		config.TaskSQLMaintenance: func(context.Context) error { return nil },
	})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	assert.Empty(t, s.scheduler.Jobs())
	require.NoError(t, s.Stop())
}

func TestBotRunReturnsFatalTickError(t *testing.T) {
	s, err := NewScheduler(logger.Discard(), nil, schedulerConfig(), func(context.Context) error {
		return fmt.Errorf("list leads: %w", database.ErrCorrupt)
	}, nil)
	require.NoError(t, err)

	w := &countingWatcher{}
	b := NewBot(logger.Discard(), w, nil, s)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = b.Run(ctx)
	require.Error(t, err)
	assert.True(t, database.IsCorrupt(err))
	assert.Equal(t, int32(1), w.calls.Load())
}

func TestBotRunStopsOnCancel(t *testing.T) {
	started := make(chan struct{})
	var once atomic.Bool
	s, err := NewScheduler(logger.Discard(), nil, schedulerConfig(), func(context.Context) error {
		if once.CompareAndSwap(false, true) {
			close(started)
		}
		return nil
	}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewBot(logger.Discard(), nil, nil, s).Run(ctx) }()

	<-started
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("bot did not stop")
	}
}
