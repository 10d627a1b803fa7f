package dedup

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/leadpilot/internal/database"
)

type memStore struct {
	ids  []string
	fail error
}

func (m *memStore) LoadProcessedEvents(_ context.Context, limit int) ([]string, error) {
	if len(m.ids) > limit {
		return m.ids[len(m.ids)-limit:], nil
	}
	return m.ids, nil
}

func (m *memStore) MarkEventsProcessed(_ context.Context, events []database.ProcessedEvent) error {
	if m.fail != nil {
		return m.fail
	}
	for _, ev := range events {
		m.ids = append(m.ids, ev.EventID)
	}
	return nil
}

func TestKeyFor(t *testing.T) {
	t.Parallel()

	k := KeyFor(" true_905551112233@c.us_ABC ", "905551112233@c.us", 1700000000, "hi")
	assert.Equal(t, Key{ID: "true_905551112233@c.us_ABC"}, k)

	body := strings.Repeat("ş", 100)
	k = KeyFor("", "905551112233@c.us", 1700000000, body)
	assert.True(t, k.Degraded)
	assert.Equal(t, "905551112233@c.us|1700000000|"+strings.Repeat("ş", 80), k.ID)

	assert.Equal(t, k, KeyFor("", "905551112233@c.us", 1700000000, body), "synthesized keys are stable")
}

func TestMarkProcessed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := &memStore{}
	d := New(store, nil, 10)

	assert.True(t, d.IsNew("a"))
	require.NoError(t, d.MarkProcessed(ctx, Key{ID: "a"}, Key{ID: "b", Degraded: true}, Key{}))
	assert.False(t, d.IsNew("a"))
	assert.False(t, d.IsNew("b"))
	assert.Equal(t, []string{"a", "b"}, store.ids)

	store.fail = errors.New("disk full")
	require.Error(t, d.MarkProcessed(ctx, Key{ID: "c"}))
	assert.True(t, d.IsNew("c"), "failed writes must not be remembered")
}

func TestFIFOEviction(t *testing.T) {
	t.Parallel()
	d := New(&memStore{}, nil, 3)

	d.Remember("1", "2", "3", "2", "4")
	assert.Equal(t, 3, d.Len())
	assert.True(t, d.IsNew("1"))
	for _, id := range []string{"2", "3", "4"} {
		assert.False(t, d.IsNew(id))
	}
}

func TestLoadSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "dedup.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.CloseDB(db) })
	store := database.NewStore(db, nil, database.Limits{ProcessedEventsCap: 5})

	first := New(store, nil, 5)
	require.NoError(t, first.MarkProcessed(ctx, Key{ID: "evt-1"}, Key{ID: "evt-2"}))

	second := New(store, nil, 5)
	require.NoError(t, second.Load(ctx))
	assert.False(t, second.IsNew("evt-1"))
	assert.False(t, second.IsNew("evt-2"))
	assert.True(t, second.IsNew("evt-3"))
}
