// Package lease provides renewable, token-fenced locks backed by the store.
package lease

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/edgard/leadpilot/internal/logger"
)

var (
	// ErrHeld is returned when another holder owns an unexpired lease.
	ErrHeld = errors.New("lease is held by another owner")
	// ErrLost is returned when a lease expired and was taken over.
	ErrLost = errors.New("lease lost")
)

// Store persists leases.
type Store interface {
	AcquireLease(ctx context.Context, key, token string, now, expiresAt time.Time) (bool, error)
	RenewLease(ctx context.Context, key, token string, expiresAt time.Time) (bool, error)
	ReleaseLease(ctx context.Context, key, token string) error
}

// Manager hands out leases.
type Manager struct {
	store  Store
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewManager creates a lease manager.
func NewManager(store Store, clock clockwork.Clock, log *slog.Logger) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Manager{store: store, clock: clock, logger: log.With("component", "lease")}
}

// Lease is one acquired key.
type Lease struct {
	Key   string
	Token string
	TTL   time.Duration
	m     *Manager
}

// Acquire takes key for ttl or returns ErrHeld.
func (m *Manager) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	token := uuid.NewString()
	now := m.clock.Now()
	ok, err := m.store.AcquireLease(ctx, key, token, now, now.Add(ttl))
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("acquire lease %s: %w", key, ErrHeld)
	}
	return &Lease{Key: key, Token: token, TTL: ttl, m: m}, nil
}

// Renew extends the lease by its TTL from now.
func (l *Lease) Renew(ctx context.Context) error {
	ok, err := l.m.store.RenewLease(ctx, l.Key, l.Token, l.m.clock.Now().Add(l.TTL))
	if err != nil {
		return fmt.Errorf("renew lease %s: %w", l.Key, err)
	}
	if !ok {
		return fmt.Errorf("renew lease %s: %w", l.Key, ErrLost)
	}
	return nil
}

// Release gives the lease up. Releasing a lost lease is not an error.
func (l *Lease) Release(ctx context.Context) error {
	if err := l.m.store.ReleaseLease(ctx, l.Key, l.Token); err != nil {
		return fmt.Errorf("release lease %s: %w", l.Key, err)
	}
	return nil
}

// With runs fn while holding key. The lease is renewed every ttl/2 and is
// released however fn returns. If renewal fails the context passed to fn is
// cancelled and With returns ErrLost unless fn already failed.
func With(ctx context.Context, m *Manager, key string, ttl time.Duration, fn func(ctx context.Context) error) (err error) {
	l, err := m.Acquire(ctx, key, ttl)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	var (
		wg      sync.WaitGroup
		lostErr error
		lostMu  sync.Mutex
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := m.clock.NewTicker(ttl / 2)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.Chan():
				if renewErr := l.Renew(runCtx); renewErr != nil {
					if runCtx.Err() != nil {
						return
					}
					m.logger.WarnContext(ctx, "Lease renewal failed", "key", key, "error", renewErr)
					lostMu.Lock()
					lostErr = renewErr
					lostMu.Unlock()
					cancel()
					return
				}
			}
		}
	}()

	defer func() {
		cancel()
		wg.Wait()
		// release on a fresh context so a cancelled caller still frees the key
		releaseCtx, releaseCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer releaseCancel()
		if relErr := l.Release(releaseCtx); relErr != nil {
			m.logger.WarnContext(ctx, "Lease release failed", "key", key, "error", relErr)
		}
		lostMu.Lock()
		if lostErr != nil && err == nil {
			err = lostErr
		}
		lostMu.Unlock()
	}()

	return fn(runCtx)
}
