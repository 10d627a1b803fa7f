package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when an insert collides with a unique key.
	ErrDuplicate = errors.New("record already exists")
	// ErrCorrupt marks unrecoverable storage corruption; the process must halt on it.
	ErrCorrupt = errors.New("database corruption detected")
)

// IsCorrupt reports whether err is, or wraps, storage corruption.
func IsCorrupt(err error) bool {
	return errors.Is(err, ErrCorrupt)
}

// wrapErr maps driver errors onto the package sentinels and adds op context.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_NOTADB:
			return fmt.Errorf("%s: %w: %v", op, ErrCorrupt, err)
		case sqlite3.SQLITE_CONSTRAINT:
			if strings.Contains(err.Error(), "UNIQUE") {
				return fmt.Errorf("%s: %w: %v", op, ErrDuplicate, err)
			}
		}
	}
	// some corruption surfaces only as text from deeper layers
	if msg := err.Error(); strings.Contains(msg, "malformed") || strings.Contains(msg, "file is not a database") {
		return fmt.Errorf("%s: %w: %v", op, ErrCorrupt, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
