// Package orchestrator implements the conversation control loop. One Tick polls
// the gateway for inbound messages, answers the replies whose thinking delay
// elapsed, sends approved drafts and paces autonomous first contact.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/edgard/leadpilot/internal/config"
	"github.com/edgard/leadpilot/internal/database"
	"github.com/edgard/leadpilot/internal/dedup"
	"github.com/edgard/leadpilot/internal/governor"
	"github.com/edgard/leadpilot/internal/lead"
	"github.com/edgard/leadpilot/internal/lease"
	"github.com/edgard/leadpilot/internal/logger"
	"github.com/edgard/leadpilot/internal/status"
	"github.com/edgard/leadpilot/internal/thinking"
	"github.com/edgard/leadpilot/internal/timers"
	"github.com/edgard/leadpilot/internal/waha"
)

// Gateway is the messaging transport.
type Gateway interface {
	SendText(ctx context.Context, chatID, text string) error
	GetMessages(ctx context.Context, chatID string, limit int) ([]waha.Message, error)
	GetChats(ctx context.Context, limit int) ([]waha.Chat, error)
	MarkSeen(ctx context.Context, chatID string) error
	StartTyping(ctx context.Context, chatID string) error
	StopTyping(ctx context.Context, chatID string) error
	ArchiveChat(ctx context.Context, chatID string) error
	IsAvailable(ctx context.Context) bool
}

// Generator writes outgoing texts. Every text method fails soft.
type Generator interface {
	GenerateReply(ctx context.Context, l *lead.Lead, incoming string, history []database.ConversationEntry) string
	GenerateIntro(ctx context.Context, l *lead.Lead, s lead.StrategyInfo) string
	Paraphrase(ctx context.Context, text string) string
	Analyze(ctx context.Context, incoming string, history []database.ConversationEntry) (lead.Insight, error)
}

// Classifier labels a customer's message.
type Classifier interface {
	Classify(ctx context.Context, text string) lead.Sentiment
}

// Notifier reaches the human operator.
type Notifier interface {
	NotifyApproval(ctx context.Context, l *lead.Lead) error
	NotifyInterest(ctx context.Context, l *lead.Lead, text string) error
	Alert(ctx context.Context, text string) error
}

// ConfigSource yields the hot-reloaded configuration and the operator pause override.
type ConfigSource interface {
	Current() *config.Config
	Running() bool
	Paused() bool
}

// Deps holds everything the orchestrator needs. Notifier, Status, Clock and
// Logger are optional.
type Deps struct {
	Store      database.Store
	Gateway    Gateway
	Generator  Generator
	Classifier Classifier
	Notifier   Notifier
	Config     ConfigSource
	Governor   *governor.Governor
	Dedup      *dedup.Deduplicator
	Thinking   *thinking.Scheduler
	Leases     *lease.Manager
	Timers     *timers.Timers
	Status     *status.Writer
	Clock      clockwork.Clock
	Logger     *slog.Logger
}

// Orchestrator owns lead state transitions. Tick must not run concurrently with itself.
type Orchestrator struct {
	store      database.Store
	gateway    Gateway
	generator  Generator
	classifier Classifier
	notifier   Notifier
	cfg        ConfigSource
	governor   *governor.Governor
	dedup      *dedup.Deduplicator
	thinking   *thinking.Scheduler
	leases     *lease.Manager
	timers     *timers.Timers
	status     *status.Writer
	clock      clockwork.Clock
	logger     *slog.Logger

	guestMu   sync.Mutex
	lastGuest int64

	last atomic.Pointer[status.Snapshot]
}

// New validates deps and builds an Orchestrator.
func New(d Deps) (*Orchestrator, error) {
	switch {
	case d.Store == nil:
		return nil, errors.New("orchestrator: store is required")
	case d.Gateway == nil:
		return nil, errors.New("orchestrator: gateway is required")
	case d.Generator == nil:
		return nil, errors.New("orchestrator: generator is required")
	case d.Classifier == nil:
		return nil, errors.New("orchestrator: classifier is required")
	case d.Config == nil:
		return nil, errors.New("orchestrator: config is required")
	case d.Governor == nil, d.Dedup == nil, d.Thinking == nil, d.Leases == nil, d.Timers == nil:
		return nil, errors.New("orchestrator: governor, dedup, thinking, leases and timers are required")
	}
	if d.Notifier == nil {
		d.Notifier = nopNotifier{}
	}
	if d.Status == nil {
		d.Status = status.NewWriter("", d.Logger)
	}
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Logger == nil {
		d.Logger = logger.Discard()
	}
	return &Orchestrator{
		store:      d.Store,
		gateway:    d.Gateway,
		generator:  d.Generator,
		classifier: d.Classifier,
		notifier:   d.Notifier,
		cfg:        d.Config,
		governor:   d.Governor,
		dedup:      d.Dedup,
		thinking:   d.Thinking,
		leases:     d.Leases,
		timers:     d.Timers,
		status:     d.Status,
		clock:      d.Clock,
		logger:     d.Logger.With("component", "orchestrator"),
	}, nil
}

// tick carries what one Tick observed for the status snapshot.
type tick struct {
	cfg       *config.Config
	running   bool
	gatewayUp bool
	detail    string
	err       error
}

// Tick runs one pass of the loop. It returns an error only for failures that
// must stop the process (storage corruption) or when ctx is done.
func (o *Orchestrator) Tick(ctx context.Context) error {
	t := &tick{cfg: o.cfg.Current(), running: o.cfg.Running()}
	now := o.clock.Now()

	t.gatewayUp = o.gateway.IsAvailable(ctx)
	if !t.gatewayUp {
		t.detail = "gateway unavailable"
		o.logger.WarnContext(ctx, "Gateway unavailable, skipping gateway work this tick")
	}

	if t.gatewayUp && t.cfg.Orchestrator.InboundEnabled && o.timers.Due(timers.NextPoll, now) {
		err := o.poll(ctx, t.cfg)
		o.timers.Set(timers.NextPoll, now.Add(t.cfg.Orchestrator.PollInterval))
		if err := o.check(ctx, "poll", err); err != nil {
			return o.fail(ctx, t, err)
		}
	}

	if err := o.check(ctx, "strategy requests", o.applyStrategyRequests(ctx, t.cfg)); err != nil {
		return o.fail(ctx, t, err)
	}

	if t.running && t.gatewayUp {
		if err := o.check(ctx, "approvals", o.sendApprovals(ctx, t.cfg)); err != nil {
			return o.fail(ctx, t, err)
		}
		if err := o.check(ctx, "replies", o.replyDue(ctx, t.cfg)); err != nil {
			return o.fail(ctx, t, err)
		}
		if t.cfg.Orchestrator.OutboundEnabled && o.timers.Due(timers.NextSend, o.clock.Now()) {
			if err := o.check(ctx, "outreach", o.outreach(ctx, t.cfg)); err != nil {
				return o.fail(ctx, t, err)
			}
		}
	}

	o.publish(ctx, t)
	return nil
}

// check logs a failed step and swallows it unless it is fatal.
func (o *Orchestrator) check(ctx context.Context, step string, err error) error {
	if err == nil {
		return nil
	}
	if fatal(ctx, err) {
		return err
	}
	o.logger.ErrorContext(ctx, "Tick step failed", "step", step, "error", err)
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, t *tick, err error) error {
	if database.IsCorrupt(err) {
		o.logger.ErrorContext(ctx, "Storage corruption detected, halting", "error", err)
		t.err = err
		o.publish(context.WithoutCancel(ctx), t)
	}
	return err
}

// fatal reports whether err must abort the tick.
func fatal(ctx context.Context, err error) bool {
	return database.IsCorrupt(err) || ctx.Err() != nil
}

// leadError decides what a per-lead failure means for the surrounding loop:
// fatal errors are returned, everything else is logged and dropped.
func (o *Orchestrator) leadError(ctx context.Context, step, leadID string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, lease.ErrHeld) {
		o.logger.DebugContext(ctx, "Lead busy, skipping this tick", "step", step, "lead_id", leadID)
		return nil
	}
	if fatal(ctx, err) {
		return err
	}
	o.logger.ErrorContext(ctx, "Lead step failed", "step", step, "lead_id", leadID, "error", err)
	return nil
}

func leaseKey(leadID string) string {
	return "lead:" + leadID
}

// withLead runs fn for leadID under its single-flight lease.
func (o *Orchestrator) withLead(ctx context.Context, cfg *config.Config, leadID string, fn func(ctx context.Context) error) error {
	return lease.With(ctx, o.leases, leaseKey(leadID), cfg.Orchestrator.LeaseTTL, fn)
}

// guestID returns G-<unix>, bumped past the last id handed out by this process.
func (o *Orchestrator) guestID(now time.Time) string {
	o.guestMu.Lock()
	defer o.guestMu.Unlock()
	n := now.Unix()
	if n <= o.lastGuest {
		n = o.lastGuest + 1
	}
	o.lastGuest = n
	return "G-" + strconv.FormatInt(n, 10)
}

// applyStrategyRequests consumes operator strategy changes and regenerates the pitch.
func (o *Orchestrator) applyStrategyRequests(ctx context.Context, cfg *config.Config) error {
	leads, err := o.store.ListLeads(ctx, database.LeadFilter{StrategyRequested: true, IncludeArchived: true})
	if err != nil {
		return fmt.Errorf("list strategy requests: %w", err)
	}
	for _, l := range leads {
		id := l.ID
		err := o.withLead(ctx, cfg, id, func(ctx context.Context) error {
			return o.applyStrategy(ctx, id)
		})
		if err := o.leadError(ctx, "strategy", id, err); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) applyStrategy(ctx context.Context, id string) error {
	l, err := o.store.GetLead(ctx, id)
	if err != nil {
		return err
	}
	if l.RequestedStrategy == "" {
		return nil
	}
	info, ok := lead.LookupStrategy(l.RequestedStrategy)
	if ok {
		l.ActiveStrategy = info.Code
		l.IntroMessage = o.generator.GenerateIntro(ctx, l, info)
		o.logger.InfoContext(ctx, "Strategy changed", "lead_id", l.ID, "strategy", info.Code)
	} else {
		o.logger.WarnContext(ctx, "Ignoring unknown strategy request", "lead_id", l.ID, "strategy", l.RequestedStrategy)
	}
	l.RequestedStrategy = ""
	return o.store.SaveLead(ctx, l)
}

// Blacklist ends all contact with l: the lead becomes Blacklisted and archived,
// its phone goes on the blacklist and its gateway chat is archived.
func (o *Orchestrator) Blacklist(ctx context.Context, l *lead.Lead, reason string) error {
	if err := l.Transition(lead.StatusBlacklisted, false); err != nil {
		return fmt.Errorf("blacklist lead %s: %w", l.ID, err)
	}
	o.thinking.Reset(l)
	l.DraftMessage = ""
	l.DraftKind = lead.DraftNone
	if l.Phone != "" {
		if err := o.store.AddToBlacklist(ctx, l.Phone, reason); err != nil {
			return fmt.Errorf("blacklist lead %s: %w", l.ID, err)
		}
	}
	if err := o.store.ArchiveLead(ctx, l, reason); err != nil {
		return fmt.Errorf("blacklist lead %s: %w", l.ID, err)
	}
	if l.ChatID != "" {
		if err := o.gateway.ArchiveChat(ctx, l.ChatID); err != nil {
			o.logger.WarnContext(ctx, "Failed to archive chat", "lead_id", l.ID, "error", err)
		}
	}
	o.logger.InfoContext(ctx, "Lead blacklisted", "lead_id", l.ID, "reason", reason)
	return nil
}

type nopNotifier struct{}

func (nopNotifier) NotifyApproval(context.Context, *lead.Lead) error         { return nil }
func (nopNotifier) NotifyInterest(context.Context, *lead.Lead, string) error { return nil }
func (nopNotifier) Alert(context.Context, string) error                      { return nil }
