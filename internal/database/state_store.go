package database

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/edgard/leadpilot/internal/lead"
)

// LoadRateState returns the persisted governor state.
func (s *sqlxStore) LoadRateState(ctx context.Context) (RateState, error) {
	var st RateState
	if err := requireCtx(ctx, "load rate state"); err != nil {
		return st, err
	}
	err := s.db.GetContext(ctx, &st, `
		SELECT consecutive_failures, failures_reset_at, paused_until, last_send_at, daily_count, daily_date, updated_at
		FROM rate_state WHERE id = 1;`)
	if errors.Is(err, sql.ErrNoRows) {
		return RateState{}, nil
	}
	if err != nil {
		return st, wrapErr("load rate state", err)
	}
	return st, nil
}

// SaveRateState upserts the single governor state row.
func (s *sqlxStore) SaveRateState(ctx context.Context, st RateState) error {
	st.UpdatedAt = s.now()
	return s.withTx(ctx, "save rate state", func(tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO rate_state (id, consecutive_failures, failures_reset_at, paused_until, last_send_at, daily_count, daily_date, updated_at)
			VALUES (1, :consecutive_failures, :failures_reset_at, :paused_until, :last_send_at, :daily_count, :daily_date, :updated_at)
			ON CONFLICT(id) DO UPDATE SET
				consecutive_failures = excluded.consecutive_failures,
				failures_reset_at = excluded.failures_reset_at,
				paused_until = excluded.paused_until,
				last_send_at = excluded.last_send_at,
				daily_count = excluded.daily_count,
				daily_date = excluded.daily_date,
				updated_at = excluded.updated_at;`, st)
		return err
	})
}

type leaseRow struct {
	Token     string    `db:"token"`
	ExpiresAt time.Time `db:"expires_at"`
}

// AcquireLease takes key for token when the key is free, expired at now, or
// already held by the same token.
func (s *sqlxStore) AcquireLease(ctx context.Context, key, token string, now, expiresAt time.Time) (bool, error) {
	acquired := false
	err := s.withTx(ctx, "acquire lease "+key, func(tx *sqlx.Tx) error {
		var cur leaseRow
		err := tx.GetContext(ctx, &cur, `SELECT token, expires_at FROM leases WHERE key = ?;`, key)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return err
		case cur.Token != token && cur.ExpiresAt.After(now):
			return nil
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO leases (key, token, expires_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET token = excluded.token, expires_at = excluded.expires_at;`,
			key, token, expiresAt.UTC())
		if err != nil {
			return err
		}
		acquired = true
		return nil
	})
	return acquired, err
}

// RenewLease extends a lease only while token still holds it.
func (s *sqlxStore) RenewLease(ctx context.Context, key, token string, expiresAt time.Time) (bool, error) {
	if err := requireCtx(ctx, "renew lease"); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE leases SET expires_at = ? WHERE key = ? AND token = ?;`, expiresAt.UTC(), key, token)
	if err != nil {
		return false, wrapErr("renew lease "+key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapErr("renew lease "+key, err)
	}
	return n == 1, nil
}

// ReleaseLease drops a lease held by token. Releasing a lost lease is a no-op.
func (s *sqlxStore) ReleaseLease(ctx context.Context, key, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM leases WHERE key = ? AND token = ?;`, key, token)
	return wrapErr("release lease "+key, err)
}

// PurgeExpiredLeases deletes leases that expired before now.
func (s *sqlxStore) PurgeExpiredLeases(ctx context.Context, now time.Time) (int64, error) {
	var removed int64
	err := s.withTx(ctx, "purge leases", func(tx *sqlx.Tx) error {
		var rows []struct {
			Key       string    `db:"key"`
			Token     string    `db:"token"`
			ExpiresAt time.Time `db:"expires_at"`
		}
		if err := tx.SelectContext(ctx, &rows, `SELECT key, token, expires_at FROM leases;`); err != nil {
			return err
		}
		for _, r := range rows {
			if r.ExpiresAt.After(now) {
				continue
			}
			res, err := tx.ExecContext(ctx, `DELETE FROM leases WHERE key = ? AND token = ?;`, r.Key, r.Token)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			removed += n
		}
		return nil
	})
	return removed, err
}

// AddToBlacklist blocks a phone permanently.
func (s *sqlxStore) AddToBlacklist(ctx context.Context, phone, reason string) error {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return errors.New("blacklist: phone is empty")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blacklist (phone, reason, created_at) VALUES (?, ?, ?)
		ON CONFLICT(phone) DO UPDATE SET reason = excluded.reason;`, phone, reason, s.now())
	if err != nil {
		return wrapErr("add to blacklist", err)
	}
	s.logger.InfoContext(ctx, "Phone blacklisted", "phone", phone, "reason", reason)
	return nil
}

// IsBlacklisted reports whether phone is blocked.
func (s *sqlxStore) IsBlacklisted(ctx context.Context, phone string) (bool, error) {
	if phone == "" {
		return false, nil
	}
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM blacklist WHERE phone = ?;`, phone); err != nil {
		return false, wrapErr("check blacklist", err)
	}
	return n > 0, nil
}

// StrategyStats counts greetings per strategy together with how many of those
// leads reached Interested or beyond.
func (s *sqlxStore) StrategyStats(ctx context.Context) (map[lead.Strategy]StrategyStat, error) {
	if err := requireCtx(ctx, "strategy stats"); err != nil {
		return nil, err
	}
	var rows []struct {
		Strategy   lead.Strategy `db:"strategy"`
		Sent       int           `db:"sent"`
		Interested int           `db:"interested"`
	}
	query := `
		SELECT l.active_strategy AS strategy,
			COUNT(*) AS sent,
			SUM(CASE WHEN l.status IN (?, ?, ?, ?) THEN 1 ELSE 0 END) AS interested
		FROM leads l
		WHERE l.sent_count > 0
		GROUP BY l.active_strategy;`
	err := s.db.SelectContext(ctx, &rows, query,
		lead.StatusInterested, lead.StatusApprovalRequired, lead.StatusApproved, lead.StatusConverted)
	if err != nil {
		return nil, wrapErr("strategy stats", err)
	}
	stats := make(map[lead.Strategy]StrategyStat, len(rows))
	for _, r := range rows {
		stats[r.Strategy] = StrategyStat{Sent: r.Sent, Interested: r.Interested}
	}
	return stats, nil
}

// SentSince counts successful greetings sent at or after since.
func (s *sqlxStore) SentSince(ctx context.Context, since time.Time) (int, error) {
	if err := requireCtx(ctx, "sent since"); err != nil {
		return 0, err
	}
	var times []time.Time
	err := s.db.SelectContext(ctx, &times,
		`SELECT sent_at FROM send_log WHERE kind = ? AND success = 1;`, SendGreeting)
	if err != nil {
		return 0, wrapErr("sent since", err)
	}
	n := 0
	for _, t := range times {
		if !t.Before(since) {
			n++
		}
	}
	return n, nil
}
