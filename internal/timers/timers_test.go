package timers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimers(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	tm := New()

	assert.True(t, tm.Due(NextPoll, now), "unset timers are due")

	tm.Set(NextPoll, now.Add(15*time.Second))
	assert.False(t, tm.Due(NextPoll, now))
	assert.True(t, tm.Due(NextPoll, now.Add(15*time.Second)))

	at, ok := tm.Next(NextPoll)
	assert.True(t, ok)
	assert.Equal(t, now.Add(15*time.Second), at)

	tm.Clear(NextPoll)
	_, ok = tm.Next(NextPoll)
	assert.False(t, ok)
}

func TestDueWithPrefix(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	tm := New()

	tm.Set(PendingReplyName("L2"), now.Add(-time.Second))
	tm.Set(PendingReplyName("L1"), now.Add(-time.Minute))
	tm.Set(PendingReplyName("L3"), now.Add(time.Minute))
	tm.Set(NextSend, now.Add(-time.Hour))

	assert.Equal(t, []string{"L1", "L2"}, tm.DueWithPrefix(PendingReply, now))

	tm.ClearPrefix(PendingReply, map[string]bool{"L3": true})
	assert.Equal(t, []string{NextSend, "pending_reply:L3"}, tm.Names())
}
