// Package governor paces outbound traffic: a daily cap, minimum spacing,
// business hours and a persisted circuit breaker over send failures.
package governor

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/edgard/leadpilot/internal/config"
	"github.com/edgard/leadpilot/internal/database"
	"github.com/edgard/leadpilot/internal/logger"
)

const dateLayout = "2006-01-02"

// Kind distinguishes autonomous first contact from conversational sends.
type Kind int

const (
	// KindAutonomous is a greeting, sent by the bot or approved by the operator;
	// it counts toward the daily cap and spacing.
	KindAutonomous Kind = iota
	// KindReply covers replies and approved reply drafts; only the breaker applies.
	KindReply
)

func (k Kind) String() string {
	if k == KindAutonomous {
		return "autonomous"
	}
	return "reply"
}

// Reason explains why an autonomous send is not allowed right now.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonCooldown      Reason = "cooldown"
	ReasonDailyLimit    Reason = "daily_limit"
	ReasonSpacing       Reason = "spacing"
	ReasonBusinessHours Reason = "business_hours"
	ReasonBadSchedule   Reason = "bad_schedule"
)

// StateStore persists the governor state.
type StateStore interface {
	LoadRateState(ctx context.Context) (database.RateState, error)
	SaveRateState(ctx context.Context, st database.RateState) error
}

// ConfigSource yields the current configuration snapshot.
type ConfigSource interface {
	Current() *config.Config
}

// Governor decides when sending is allowed. All methods are safe for concurrent use.
type Governor struct {
	store  StateStore
	cfg    ConfigSource
	clock  clockwork.Clock
	logger *slog.Logger

	mu    sync.Mutex
	st    database.RateState
	tz    string
	loc   *time.Location
	hours config.BusinessHoursConfig
	sched config.Hours
}

// New builds a governor and loads the persisted state from store.
func New(ctx context.Context, store StateStore, cfg ConfigSource, clock clockwork.Clock, log *slog.Logger) (*Governor, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = logger.Discard()
	}
	st, err := store.LoadRateState(ctx)
	if err != nil {
		return nil, fmt.Errorf("load rate state: %w", err)
	}
	g := &Governor{
		store:  store,
		cfg:    cfg,
		clock:  clock,
		logger: log.With("component", "governor"),
		st:     st,
	}
	if st.PausedUntil != nil && clock.Now().Before(*st.PausedUntil) {
		g.logger.WarnContext(ctx, "Circuit breaker still cooling down after restart", "paused_until", st.PausedUntil.UTC())
	}
	return g, nil
}

func (g *Governor) rate() config.RateConfig {
	return g.cfg.Current().Rate
}

// location returns the configured timezone, cached until the name changes.
func (g *Governor) location(rc config.RateConfig) *time.Location {
	if g.loc != nil && g.tz == rc.Timezone {
		return g.loc
	}
	loc, err := time.LoadLocation(rc.Timezone)
	if err != nil {
		g.logger.Error("Invalid timezone, falling back to UTC", "timezone", rc.Timezone, "error", err)
		loc = time.UTC
	}
	g.tz, g.loc = rc.Timezone, loc
	return loc
}

func (g *Governor) schedule(rc config.RateConfig) (config.Hours, error) {
	if g.sched.Days != nil && slices.Equal(g.hours.Days, rc.BusinessHours.Days) && slices.Equal(g.hours.Windows, rc.BusinessHours.Windows) {
		return g.sched, nil
	}
	h, err := rc.BusinessHours.Schedule()
	if err != nil {
		return config.Hours{}, err
	}
	g.hours, g.sched = rc.BusinessHours, h
	return h, nil
}

// settle applies the time-driven resets: the day rollover, an elapsed cooldown
// and an elapsed failure window.
func (g *Governor) settle(now time.Time, rc config.RateConfig) {
	today := now.In(g.location(rc)).Format(dateLayout)
	if g.st.DailyDate != today {
		g.st.DailyDate = today
		g.st.DailyCount = 0
	}
	if g.st.PausedUntil != nil && !now.Before(*g.st.PausedUntil) {
		g.st.PausedUntil = nil
		g.st.ConsecutiveFailures = 0
		g.st.FailuresResetAt = nil
	}
	if g.st.FailuresResetAt != nil && !now.Before(*g.st.FailuresResetAt) {
		g.st.FailuresResetAt = nil
		g.st.ConsecutiveFailures = 0
	}
}

func (g *Governor) coolingDown(now time.Time) bool {
	return g.st.PausedUntil != nil && now.Before(*g.st.PausedUntil)
}

// Check evaluates every gate for an autonomous send.
func (g *Governor) Check() (bool, Reason) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rc := g.rate()
	now := g.clock.Now()
	g.settle(now, rc)

	if g.coolingDown(now) {
		return false, ReasonCooldown
	}
	if g.st.DailyCount >= rc.DailyLimit {
		return false, ReasonDailyLimit
	}
	if g.st.LastSendAt != nil && now.Sub(*g.st.LastSendAt) < rc.MinSpacing {
		return false, ReasonSpacing
	}
	hours, err := g.schedule(rc)
	if err != nil {
		g.logger.Error("Invalid business hours, blocking autonomous sends", "error", err)
		return false, ReasonBadSchedule
	}
	if !hours.Open(now.In(g.location(rc))) {
		return false, ReasonBusinessHours
	}
	return true, ReasonNone
}

// CanSendNow reports whether an autonomous send is allowed.
func (g *Governor) CanSendNow() bool {
	ok, _ := g.Check()
	return ok
}

// CanReply reports whether conversational sends are allowed; only the breaker applies.
func (g *Governor) CanReply() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock.Now()
	g.settle(now, g.rate())
	return !g.coolingDown(now)
}

// IsBusinessHours reports whether the current local time is inside the configured windows.
func (g *Governor) IsBusinessHours() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	rc := g.rate()
	hours, err := g.schedule(rc)
	if err != nil {
		return false
	}
	return hours.Open(g.clock.Now().In(g.location(rc)))
}

// RecordOutcome updates the counters after a send attempt and persists them.
func (g *Governor) RecordOutcome(ctx context.Context, kind Kind, success bool) error {
	g.mu.Lock()
	rc := g.rate()
	now := g.clock.Now()
	g.settle(now, rc)

	if kind == KindAutonomous {
		t := now
		g.st.LastSendAt = &t
	}
	if success {
		g.st.ConsecutiveFailures = 0
		g.st.FailuresResetAt = nil
		if kind == KindAutonomous {
			g.st.DailyCount++
		}
	} else {
		if g.st.ConsecutiveFailures == 0 {
			reset := now.Add(rc.FailureWindow)
			g.st.FailuresResetAt = &reset
		}
		g.st.ConsecutiveFailures++
		if g.st.ConsecutiveFailures >= rc.FailureThreshold && !g.coolingDown(now) {
			until := now.Add(rc.Cooldown)
			g.st.PausedUntil = &until
			g.logger.WarnContext(ctx, "Circuit breaker opened",
				"failures", g.st.ConsecutiveFailures, "paused_until", until.UTC())
		}
	}
	st := g.st
	g.mu.Unlock()

	g.logger.DebugContext(ctx, "Send outcome recorded",
		"kind", kind.String(), "success", success,
		"failures", st.ConsecutiveFailures, "daily_count", st.DailyCount)
	if err := g.store.SaveRateState(ctx, st); err != nil {
		return fmt.Errorf("persist rate state: %w", err)
	}
	return nil
}

// Snapshot returns the effective state after time-driven resets.
func (g *Governor) Snapshot() database.RateState {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.settle(g.clock.Now(), g.rate())
	return g.st
}

// Jitter returns a uniform random duration in [jitter_min, jitter_max].
func (g *Governor) Jitter() time.Duration {
	rc := g.rate()
	return Between(rc.JitterMin, rc.JitterMax)
}

// Wait sleeps d on the governor clock or until ctx is done.
func (g *Governor) Wait(ctx context.Context, d time.Duration) error {
	return Sleep(ctx, g.clock, d)
}

// Between returns a uniform random duration in [lo, hi].
func Between(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}

// Sleep blocks for d on clock, returning early with ctx.Err() when ctx is done.
func Sleep(ctx context.Context, clock clockwork.Clock, d time.Duration) error {
	if d <= 0 || ctx.Err() != nil {
		return ctx.Err()
	}
	t := clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.Chan():
		return nil
	}
}
