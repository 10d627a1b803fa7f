package governor

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/leadpilot/internal/config"
	"github.com/edgard/leadpilot/internal/database"
)

// monday11 is 11:00 in Istanbul, inside the default morning window.
var monday11 = time.Date(2026, 10, 12, 8, 0, 0, 0, time.UTC)

type memStore struct {
	mu sync.Mutex
	st database.RateState
}

func (m *memStore) LoadRateState(context.Context) (database.RateState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st, nil
}

func (m *memStore) SaveRateState(_ context.Context, st database.RateState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st = st
	return nil
}

func newGovernor(t *testing.T, at time.Time, tweak func(*config.RateConfig)) (*Governor, *clockwork.FakeClock, *memStore) {
	t.Helper()
	cfg := config.Default()
	cfg.Rate.MinSpacing = 0
	if tweak != nil {
		tweak(&cfg.Rate)
	}
	clock := clockwork.NewFakeClockAt(at)
	store := &memStore{}
	g, err := New(context.Background(), store, config.NewStaticProvider(cfg), clock, nil)
	require.NoError(t, err)
	return g, clock, store
}

func fail(t *testing.T, g *Governor, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, g.RecordOutcome(context.Background(), KindReply, false))
	}
}

func TestCircuitBreakerCooldown(t *testing.T) {
	t.Parallel()
	g, clock, store := newGovernor(t, monday11, nil)

	require.True(t, g.CanSendNow())
	fail(t, g, 2)
	assert.True(t, g.CanSendNow(), "two failures stay below the threshold")

	fail(t, g, 1)
	ok, reason := g.Check()
	assert.False(t, ok)
	assert.Equal(t, ReasonCooldown, reason)
	assert.False(t, g.CanReply())
	require.NotNil(t, store.st.PausedUntil)
	assert.True(t, store.st.PausedUntil.Equal(monday11.Add(30*time.Minute)))

	clock.Advance(29 * time.Minute)
	assert.False(t, g.CanSendNow())

	clock.Advance(time.Minute)
	assert.True(t, g.CanSendNow())
	assert.True(t, g.CanReply())
	assert.Zero(t, g.Snapshot().ConsecutiveFailures)
}

func TestFailureWindowResets(t *testing.T) {
	t.Parallel()
	g, clock, _ := newGovernor(t, monday11, nil)

	fail(t, g, 2)
	clock.Advance(61 * time.Minute)
	fail(t, g, 1)
	assert.True(t, g.CanReply())
	assert.Equal(t, 1, g.Snapshot().ConsecutiveFailures)
}

func TestSuccessResetsFailures(t *testing.T) {
	t.Parallel()
	g, _, _ := newGovernor(t, monday11, nil)

	fail(t, g, 2)
	require.NoError(t, g.RecordOutcome(context.Background(), KindReply, true))
	fail(t, g, 2)
	assert.True(t, g.CanReply())
	assert.Zero(t, g.Snapshot().DailyCount, "replies never count toward the daily cap")
}

func TestDailyLimitRollsOverAtLocalMidnight(t *testing.T) {
	t.Parallel()
	g, clock, _ := newGovernor(t, monday11, func(rc *config.RateConfig) { rc.DailyLimit = 2 })
	ctx := context.Background()

	require.NoError(t, g.RecordOutcome(ctx, KindAutonomous, true))
	require.NoError(t, g.RecordOutcome(ctx, KindAutonomous, true))
	ok, reason := g.Check()
	assert.False(t, ok)
	assert.Equal(t, ReasonDailyLimit, reason)
	assert.Equal(t, "2026-10-12", g.Snapshot().DailyDate)

	clock.Advance(24 * time.Hour)
	assert.True(t, g.CanSendNow())
	snap := g.Snapshot()
	assert.Zero(t, snap.DailyCount)
	assert.Equal(t, "2026-10-13", snap.DailyDate)
}

func TestDailyDateUsesConfiguredTimezone(t *testing.T) {
	t.Parallel()
	// 22:30 UTC on Monday is already Tuesday in Istanbul
	g, _, _ := newGovernor(t, time.Date(2026, 10, 12, 22, 30, 0, 0, time.UTC), nil)
	assert.Equal(t, "2026-10-13", g.Snapshot().DailyDate)
}

func TestMinSpacing(t *testing.T) {
	t.Parallel()
	g, clock, _ := newGovernor(t, monday11, func(rc *config.RateConfig) { rc.MinSpacing = 15 * time.Minute })

	require.NoError(t, g.RecordOutcome(context.Background(), KindAutonomous, true))
	ok, reason := g.Check()
	assert.False(t, ok)
	assert.Equal(t, ReasonSpacing, reason)
	assert.True(t, g.CanReply())

	clock.Advance(15 * time.Minute)
	assert.True(t, g.CanSendNow())
}

func TestBusinessHours(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		at   time.Time
		open bool
	}{
		{name: "monday morning window", at: monday11, open: true},
		{name: "monday lunch gap", at: time.Date(2026, 10, 12, 10, 0, 0, 0, time.UTC), open: false},
		{name: "saturday evening", at: time.Date(2026, 10, 17, 16, 30, 0, 0, time.UTC), open: true},
		{name: "sunday closed", at: time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC), open: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g, _, _ := newGovernor(t, tt.at, nil)
			assert.Equal(t, tt.open, g.IsBusinessHours())
			ok, reason := g.Check()
			assert.Equal(t, tt.open, ok)
			if !tt.open {
				assert.Equal(t, ReasonBusinessHours, reason)
				assert.True(t, g.CanReply(), "replies ignore business hours")
			}
		})
	}
}

func TestCooldownSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "gov.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.CloseDB(db) })
	store := database.NewStore(db, nil, database.Limits{})

	cfg := config.NewStaticProvider(config.Default())
	clock := clockwork.NewFakeClockAt(monday11)
	first, err := New(ctx, store, cfg, clock, nil)
	require.NoError(t, err)
	fail(t, first, 3)
	require.False(t, first.CanReply())

	clock.Advance(10 * time.Minute)
	second, err := New(ctx, store, cfg, clock, nil)
	require.NoError(t, err)
	assert.False(t, second.CanReply())
	require.NotNil(t, second.Snapshot().PausedUntil)

	clock.Advance(20 * time.Minute)
	assert.True(t, second.CanReply())
}

func TestBetween(t *testing.T) {
	t.Parallel()
	for i := 0; i < 100; i++ {
		d := Between(5*time.Second, 15*time.Second)
		assert.GreaterOrEqual(t, d, 5*time.Second)
		assert.LessOrEqual(t, d, 15*time.Second)
	}
	assert.Equal(t, time.Second, Between(time.Second, time.Second))
}

func TestSleep(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClock()

	done := make(chan error, 1)
	go func() { done <- Sleep(context.Background(), clock, time.Minute) }()
	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	clock.Advance(time.Minute)
	assert.NoError(t, <-done)
}

func TestSleepCancelledLeavesNoTimer(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, clock, time.Hour), context.Canceled)

	waitCtx, stop := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer stop()
	assert.ErrorIs(t, clock.BlockUntilContext(waitCtx, 1), context.DeadlineExceeded)
}

func TestSleepReleasesTimerOnCancel(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Sleep(ctx, clock, time.Hour) }()
	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	require.NoError(t, clock.BlockUntilContext(context.Background(), 0))
}
