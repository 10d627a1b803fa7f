// Package status writes the bot_status.json snapshot read by external dashboards.
package status

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/edgard/leadpilot/internal/database"
	"github.com/edgard/leadpilot/internal/lead"
	"github.com/edgard/leadpilot/internal/logger"
)

// State is the coarse loop state shown on the dashboard.
type State string

const (
	StateRunning  State = "running"
	StatePaused   State = "paused"
	StateCooldown State = "cooldown"
	StateIdle     State = "idle"
	StateError    State = "error"
)

// Snapshot is the full content of the status file.
type Snapshot struct {
	Status           State                                   `json:"status"`
	Details          string                                  `json:"details"`
	UpdatedAt        time.Time                               `json:"updated_at"`
	DailySent        int                                     `json:"daily_sent"`
	DailyLimit       int                                     `json:"daily_limit"`
	PausedUntil      *time.Time                              `json:"paused_until,omitempty"`
	GatewayAvailable bool                                    `json:"gateway_available"`
	Counts           map[lead.Status]int                     `json:"counts"`
	Strategies       map[lead.Strategy]database.StrategyStat `json:"strategies"`
}

// Writer replaces the status file atomically.
type Writer struct {
	path   string
	logger *slog.Logger
}

// NewWriter creates a writer for path. An empty path disables writing.
func NewWriter(path string, log *slog.Logger) *Writer {
	if log == nil {
		log = logger.Discard()
	}
	return &Writer{path: path, logger: log.With("component", "status")}
}

// Write stores s through a temp file in the same directory, fsynced and renamed
// over the target, so readers never observe a partial file.
func (w *Writer) Write(s Snapshot) (err error) {
	if w.path == "" {
		return nil
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}

	dir := filepath.Dir(w.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(w.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp status file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync status: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close status: %w", err)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod status: %w", err)
	}
	if err = os.Rename(tmp.Name(), w.path); err != nil {
		return fmt.Errorf("rename status: %w", err)
	}
	w.logger.Debug("Status snapshot written", "status", s.Status, "path", w.path)
	return nil
}
