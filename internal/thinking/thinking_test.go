package thinking

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/leadpilot/internal/config"
	"github.com/edgard/leadpilot/internal/database"
	"github.com/edgard/leadpilot/internal/lead"
	"github.com/edgard/leadpilot/internal/timers"
)

func entry(sender database.Sender, text string) database.ConversationEntry {
	return database.ConversationEntry{ChatID: "c", Sender: sender, Text: text}
}

func TestCheckSelfLoop(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		history []database.ConversationEntry
		wantErr bool
	}{
		{name: "empty", history: nil},
		{
			name: "two trailing bot entries",
			history: []database.ConversationEntry{
				entry(database.SenderCustomer, "hi"),
				entry(database.SenderBot, "a"),
				entry(database.SenderBot, "b"),
			},
		},
		{
			name: "three trailing bot entries",
			history: []database.ConversationEntry{
				entry(database.SenderBot, "a"),
				entry(database.SenderBot, "b"),
				entry(database.SenderBot, "c"),
			},
			wantErr: true,
		},
		{
			name: "customer breaks the run",
			history: []database.ConversationEntry{
				entry(database.SenderBot, "a"),
				entry(database.SenderBot, "b"),
				entry(database.SenderCustomer, "?"),
				entry(database.SenderBot, "c"),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := CheckSelfLoop(tt.history, 3)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrSelfLoop)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestUnconsumedInbound(t *testing.T) {
	t.Parallel()

	history := []database.ConversationEntry{
		entry(database.SenderCustomer, "old question"),
		entry(database.SenderBot, "answer"),
		entry(database.SenderCustomer, "first"),
		entry(database.SenderCustomer, "  "),
		entry(database.SenderCustomer, "second"),
	}
	assert.Equal(t, "first\nsecond", UnconsumedInbound(history))
	assert.Empty(t, UnconsumedInbound(history[:2]))
	assert.Equal(t, "old question", UnconsumedInbound(history[:1]))
}

func TestBurstExtendsTimer(t *testing.T) {
	ctx := context.Background()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "thinking.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.CloseDB(db) })
	store := database.NewStore(db, nil, database.Limits{})

	require.NoError(t, store.CreateLead(ctx, &lead.Lead{ID: "L1", Phone: "905551112233", Status: lead.StatusSent}))

	cfg := config.Default()
	cfg.Orchestrator.ThinkingDelay = 60 * time.Second
	start := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(start)
	s := New(store, timers.New(), clock, config.NewStaticProvider(cfg), nil)

	require.NoError(t, s.Queue(ctx, "L1", "merhaba"))
	clock.Advance(5 * time.Second)
	require.NoError(t, s.Queue(ctx, "L1", "fiyat nedir"))

	due, err := s.DueLeads(ctx, start.Add(60*time.Second))
	require.NoError(t, err)
	assert.Empty(t, due, "second message restarted the delay")

	due, err = s.DueLeads(ctx, start.Add(65*time.Second))
	require.NoError(t, err)
	assert.Equal(t, []string{"L1"}, due)

	l, err := store.GetLead(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, "merhaba\nfiyat nedir", l.LastIncomingText)

	require.NoError(t, s.Clear(ctx, "L1"))
	l, err = store.GetLead(ctx, "L1")
	require.NoError(t, err)
	assert.Nil(t, l.PendingReplySince)
	assert.Empty(t, l.LastIncomingText)

	due, err = s.DueLeads(ctx, start.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, due)
}
