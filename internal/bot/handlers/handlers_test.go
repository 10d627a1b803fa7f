package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/leadpilot/internal/config"
	"github.com/edgard/leadpilot/internal/database"
	"github.com/edgard/leadpilot/internal/lead"
	"github.com/edgard/leadpilot/internal/lease"
	"github.com/edgard/leadpilot/internal/logger"
	"github.com/edgard/leadpilot/internal/orchestrator"
	"github.com/edgard/leadpilot/internal/status"
)

const adminID = 42

type apiCall struct {
	method string
	params map[string]string
}

// fakeTelegram records Bot API calls and answers them with minimal successful results.
type fakeTelegram struct {
	mu    sync.Mutex
	calls []apiCall
}

func (f *fakeTelegram) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	params := map[string]string{}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var raw map[string]any
		_ = json.NewDecoder(r.Body).Decode(&raw)
		for k, v := range raw {
			params[k] = fmt.Sprint(v)
		}
	} else if err := r.ParseMultipartForm(1 << 20); err == nil {
		for k, v := range r.MultipartForm.Value {
			params[k] = v[0]
		}
	} else if err := r.ParseForm(); err == nil {
		for k := range r.Form {
			params[k] = r.Form.Get(k)
		}
	}

	method := path.Base(r.URL.Path)
	f.mu.Lock()
	f.calls = append(f.calls, apiCall{method: method, params: params})
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if method == "answerCallbackQuery" {
		_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
		return
	}
	_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"}}}`))
}

func (f *fakeTelegram) texts(method string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if c.method == method {
			out = append(out, c.params["text"])
		}
	}
	return out
}

type fakeOperator struct {
	mu       sync.Mutex
	leads    map[string]*lead.Lead
	held     bool
	snap     *status.Snapshot
	strategy map[string]lead.Strategy
}

func (f *fakeOperator) get(id string) (*lead.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held {
		return nil, lease.ErrHeld
	}
	l, ok := f.leads[id]
	if !ok {
		return nil, fmt.Errorf("get lead %s: %w", id, database.ErrNotFound)
	}
	return l, nil
}

func (f *fakeOperator) Approve(_ context.Context, id string) (*lead.Lead, error) {
	l, err := f.get(id)
	if err != nil {
		return nil, err
	}
	if l.DraftMessage == "" {
		return nil, orchestrator.ErrNoDraft
	}
	return l, l.Transition(lead.StatusApproved, false)
}

func (f *fakeOperator) Discard(_ context.Context, id string) (*lead.Lead, error) {
	l, err := f.get(id)
	if err != nil {
		return nil, err
	}
	return l, l.DiscardDraft()
}

func (f *fakeOperator) Convert(_ context.Context, id string) (*lead.Lead, error) {
	l, err := f.get(id)
	if err != nil {
		return nil, err
	}
	return l, l.Transition(lead.StatusConverted, true)
}

func (f *fakeOperator) RequestStrategy(_ context.Context, id string, code lead.Strategy) (*lead.Lead, error) {
	l, err := f.get(id)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.strategy == nil {
		f.strategy = map[string]lead.Strategy{}
	}
	f.strategy[id] = code
	return l, nil
}

func (f *fakeOperator) Status() (status.Snapshot, bool) {
	if f.snap == nil {
		return status.Snapshot{}, false
	}
	return *f.snap, true
}

type env struct {
	ctx      context.Context
	b        *bot.Bot
	tg       *fakeTelegram
	op       *fakeOperator
	provider *config.Provider
	handlers map[string]RegisteredHandler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	tg := &fakeTelegram{}
	srv := httptest.NewServer(tg)
	t.Cleanup(srv.Close)

	b, err := bot.New("123:test", bot.WithServerURL(srv.URL), bot.WithSkipGetMe())
	require.NoError(t, err)

	db, err := database.NewDB(filepath.Join(t.TempDir(), "handlers.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.CloseDB(db) })

	cfg := config.Default()
	cfg.Operator.AdminUserID = adminID
	e := &env{
		ctx: context.Background(),
		b:   b,
		tg:  tg,
		op: &fakeOperator{leads: map[string]*lead.Lead{
			"L1": {ID: "L1", CompanyName: "Cafe Moda", Status: lead.StatusApprovalRequired,
				DraftMessage: "Merhaba!", DraftKind: lead.DraftReply, StatusBeforeApproval: lead.StatusInterested},
			"L2": {ID: "L2", CompanyName: "Kahve Dünyası", Status: lead.StatusSent},
		}},
		provider: config.NewStaticProvider(cfg),
	}
	e.handlers = RegisterAllCommands(HandlerDeps{
		Logger:   logger.Discard(),
		Config:   e.provider,
		Store:    database.NewStore(db, nil, database.Limits{}),
		Operator: e.op,
	})
	return e
}

// command runs the registered handler for text through its middleware, as user from.
func (e *env) command(from int64, text string) {
	name := strings.Fields(text)[0]
	rh := e.handlers[name]
	h := rh.Handler
	for i := len(rh.Middleware) - 1; i >= 0; i-- {
		h = rh.Middleware[i](h)
	}
	h(e.ctx, e.b, &models.Update{Message: &models.Message{
		ID:   7,
		Text: text,
		From: &models.User{ID: from},
		Chat: models.Chat{ID: from, Type: models.ChatTypePrivate},
	}})
}

func (e *env) callback(from int64, data string) {
	prefix := data[:strings.Index(data, ":")+1]
	rh := e.handlers[prefix]
	h := rh.Handler
	for i := len(rh.Middleware) - 1; i >= 0; i-- {
		h = rh.Middleware[i](h)
	}
	h(e.ctx, e.b, &models.Update{CallbackQuery: &models.CallbackQuery{
		ID:   "cb1",
		From: models.User{ID: from},
		Data: data,
		Message: models.MaybeInaccessibleMessage{
			Message: &models.Message{ID: 9, Chat: models.Chat{ID: from, Type: models.ChatTypePrivate}},
		},
	}})
}

func TestRegistryCoversConsole(t *testing.T) {
	e := newEnv(t)
	for _, name := range []string{"/start", "/help", "/status", "/stats", "/pause", "/resume",
		"/approve", "/discard", "/convert", "/strategy", CallbackApprove, CallbackDiscard} {
		rh, ok := e.handlers[name]
		require.True(t, ok, name)
		assert.Len(t, rh.Middleware, 1, name)
	}
}

func TestNonAdminIsRejected(t *testing.T) {
	e := newEnv(t)
	e.command(7, "/approve L1")

	assert.Equal(t, []string{"Not authorized."}, e.tg.texts("sendMessage"))
	assert.Equal(t, lead.StatusApprovalRequired, e.op.leads["L1"].Status)
}

func TestApproveCommand(t *testing.T) {
	e := newEnv(t)
	e.command(adminID, "/approve L1")
	e.command(adminID, "/approve L2")
	e.command(adminID, "/approve L9")
	e.command(adminID, "/approve")

	assert.Equal(t, []string{
		"Approved Cafe Moda (L1): now Approved.",
		"Lead L2 has no draft awaiting approval.",
		"Lead L9 not found.",
		"Usage: /approve <lead>",
	}, e.tg.texts("sendMessage"))
}

func TestBusyLeadIsReported(t *testing.T) {
	e := newEnv(t)
	e.op.held = true
	e.command(adminID, "/convert L2")
	assert.Equal(t, []string{"Lead L2 is busy, try again in a moment."}, e.tg.texts("sendMessage"))
}

func TestDiscardCallbackRestoresStatus(t *testing.T) {
	e := newEnv(t)
	e.callback(adminID, CallbackDiscard+"L1")

	assert.Equal(t, lead.StatusInterested, e.op.leads["L1"].Status)
	assert.Equal(t, []string{"Discarded Cafe Moda (L1): now Interested."}, e.tg.texts("answerCallbackQuery"))
	assert.Equal(t, []string{"Discarded Cafe Moda (L1): now Interested."}, e.tg.texts("sendMessage"))
}

func TestStrategyCommand(t *testing.T) {
	e := newEnv(t)
	e.command(adminID, "/strategy L2 d")
	e.command(adminID, "/strategy L2 Z")

	assert.Equal(t, lead.StrategyCloser, e.op.strategy["L2"])
	sent := e.tg.texts("sendMessage")
	require.Len(t, sent, 2)
	assert.Contains(t, sent[0], "Strategy D requested for Kahve Dünyası (L2)")
	assert.Equal(t, `Unknown strategy "Z".`, sent[1])
}

func TestPauseAndResume(t *testing.T) {
	e := newEnv(t)
	e.command(adminID, "/pause")
	assert.True(t, e.provider.Paused())
	assert.False(t, e.provider.Running())

	e.command(adminID, "/resume")
	assert.False(t, e.provider.Paused())
	assert.Equal(t, []string{"Outbound sending paused.", "Outbound sending resumed."}, e.tg.texts("sendMessage"))
}

func TestStatusCommand(t *testing.T) {
	e := newEnv(t)
	e.command(adminID, "/status")

	until := time.Date(2026, 10, 13, 10, 30, 0, 0, time.UTC)
	e.op.snap = &status.Snapshot{
		Status:      status.StateCooldown,
		Details:     "circuit breaker open",
		DailySent:   3,
		DailyLimit:  25,
		PausedUntil: &until,
		Counts:      map[lead.Status]int{lead.StatusNew: 10, lead.StatusSent: 3},
		UpdatedAt:   until.Add(-time.Hour),
	}
	e.command(adminID, "/status")

	sent := e.tg.texts("sendMessage")
	require.Len(t, sent, 2)
	assert.Contains(t, sent[0], "No status yet")
	assert.Contains(t, sent[1], "Status: cooldown (circuit breaker open)")
	assert.Contains(t, sent[1], "Sent today: 3/25")
	assert.Contains(t, sent[1], "Cooldown until: 2026-10-13 10:30:00")
	assert.Contains(t, sent[1], "Leads: New 10, Sent 3")
}

func TestFormatStats(t *testing.T) {
	out := formatStats(
		map[lead.Strategy]database.StrategyStat{lead.StrategyVisionary: {Sent: 4, Interested: 1}},
		map[lead.Status]int{lead.StatusSent: 4, lead.StatusInterested: 1},
	)
	assert.Contains(t, out, "A The Visionary")
	assert.Contains(t, out, "sent 4, interested 1 (25%)")
	assert.Contains(t, out, "Active leads: 5, interested 1, converted 0")
}
