// Package timers keeps named deadlines that the orchestrator evaluates every tick.
package timers

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Well-known timer names.
const (
	NextPoll     = "next_poll"
	NextSend     = "next_send"
	PendingReply = "pending_reply:"
)

// PendingReplyName returns the timer name of a lead's deferred reply.
func PendingReplyName(leadID string) string {
	return PendingReply + leadID
}

// Timers is a set of named deadlines. The zero value is not usable; use New.
type Timers struct {
	mu sync.RWMutex
	at map[string]time.Time
}

// New returns an empty timer set.
func New() *Timers {
	return &Timers{at: make(map[string]time.Time)}
}

// Set arms name to fire at t.
func (t *Timers) Set(name string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.at[name] = at
}

// Clear disarms name.
func (t *Timers) Clear(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.at, name)
}

// Due reports whether name fired at now. An unset timer is due.
func (t *Timers) Due(name string, now time.Time) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	at, ok := t.at[name]
	return !ok || !now.Before(at)
}

// Next returns when name fires, if it is set.
func (t *Timers) Next(name string) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	at, ok := t.at[name]
	return at, ok
}

// DueWithPrefix returns the suffixes of set timers under prefix that fired at now,
// earliest deadline first.
func (t *Timers) DueWithPrefix(prefix string, now time.Time) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	type due struct {
		key string
		at  time.Time
	}
	var fired []due
	for name, at := range t.at {
		key, ok := strings.CutPrefix(name, prefix)
		if !ok || now.Before(at) {
			continue
		}
		fired = append(fired, due{key: key, at: at})
	}
	sort.Slice(fired, func(i, j int) bool {
		if fired[i].at.Equal(fired[j].at) {
			return fired[i].key < fired[j].key
		}
		return fired[i].at.Before(fired[j].at)
	})
	keys := make([]string, len(fired))
	for i, f := range fired {
		keys[i] = f.key
	}
	return keys
}

// ClearPrefix disarms every timer under prefix whose suffix is not in keep.
func (t *Timers) ClearPrefix(prefix string, keep map[string]bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for name := range t.at {
		if key, ok := strings.CutPrefix(name, prefix); ok && !keep[key] {
			delete(t.at, name)
		}
	}
}

// Names returns the armed timer names in sorted order.
func (t *Timers) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.at))
	for name := range t.at {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
