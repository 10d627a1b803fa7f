package handlers

import (
	"context"
	"log/slog"

	"github.com/edgard/leadpilot/internal/config"
	"github.com/edgard/leadpilot/internal/database"
	"github.com/edgard/leadpilot/internal/lead"
	"github.com/edgard/leadpilot/internal/status"
)

// LeadOperator applies operator intents to leads. *orchestrator.Orchestrator implements it.
type LeadOperator interface {
	Approve(ctx context.Context, leadID string) (*lead.Lead, error)
	Discard(ctx context.Context, leadID string) (*lead.Lead, error)
	Convert(ctx context.Context, leadID string) (*lead.Lead, error)
	RequestStrategy(ctx context.Context, leadID string, code lead.Strategy) (*lead.Lead, error)
	Status() (status.Snapshot, bool)
}

// ConfigControl exposes the active configuration and the operator pause override.
type ConfigControl interface {
	Current() *config.Config
	SetPaused(paused bool)
	Paused() bool
}

// HandlerDeps provides dependencies for the operator console handlers.
type HandlerDeps struct {
	Logger   *slog.Logger
	Config   ConfigControl
	Store    database.Store
	Operator LeadOperator
}
