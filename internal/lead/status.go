// Package lead defines the lead record, its lifecycle statuses and the
// transition rules the orchestrator enforces.
package lead

import (
	"errors"
	"fmt"
	"strings"
)

// Status is the canonical lifecycle value of a lead.
type Status string

const (
	StatusNew              Status = "New"
	StatusSent             Status = "Sent"
	StatusPending          Status = "Pending"
	StatusInterested       Status = "Interested"
	StatusRejected         Status = "Rejected"
	StatusAggressive       Status = "Aggressive"
	StatusNeutral          Status = "Neutral"
	StatusConverted        Status = "Converted"
	StatusBlacklisted      Status = "Blacklisted"
	StatusApprovalRequired Status = "ApprovalRequired"
	StatusApproved         Status = "Approved"
	StatusError            Status = "Error"
)

// ErrInvalidTransition is returned when a status change is not allowed by the state machine.
var ErrInvalidTransition = errors.New("invalid lead status transition")

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusNew, StatusSent, StatusPending, StatusInterested, StatusRejected, StatusAggressive,
	StatusNeutral, StatusConverted, StatusBlacklisted, StatusApprovalRequired, StatusApproved, StatusError,
}

// IsTerminal reports whether no further autonomous outreach may happen from s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusRejected, StatusConverted, StatusBlacklisted:
		return true
	}
	return false
}

// IsProtected reports whether housekeeping must never archive a lead in this status.
func (s Status) IsProtected() bool {
	switch s {
	case StatusInterested, StatusApprovalRequired, StatusApproved, StatusConverted:
		return true
	}
	return false
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// ParseStatus maps external spellings (case-insensitive, with the legacy aliases the
// dashboard used) onto the canonical status.
func ParseStatus(raw string) (Status, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.NewReplacer(" ", "", "_", "", "-", "").Replace(key)

	switch key {
	case "", "new", "ready", "waiting":
		return StatusNew, nil
	case "sent", "greetingsent", "contacted":
		return StatusSent, nil
	case "pending", "replied":
		return StatusPending, nil
	case "interested", "hotlead", "positive":
		return StatusInterested, nil
	case "rejected", "notinterested", "negative":
		return StatusRejected, nil
	case "aggressive":
		return StatusAggressive, nil
	case "neutral", "followup":
		return StatusNeutral, nil
	case "converted", "customer", "won":
		return StatusConverted, nil
	case "blacklisted", "blocked":
		return StatusBlacklisted, nil
	case "approvalrequired", "actionrequired":
		return StatusApprovalRequired, nil
	case "approved":
		return StatusApproved, nil
	case "error", "automatederror":
		return StatusError, nil
	}
	return "", fmt.Errorf("unknown lead status %q", raw)
}

// transitions lists, per source status, the statuses it may move to without an operator override.
var transitions = map[Status][]Status{
	StatusNew: {
		StatusSent, StatusApprovalRequired, StatusError, StatusBlacklisted,
		StatusInterested, StatusRejected, StatusAggressive, StatusNeutral,
	},
	StatusSent: {
		StatusPending, StatusInterested, StatusRejected, StatusAggressive, StatusNeutral,
		StatusApprovalRequired, StatusError, StatusBlacklisted,
	},
	StatusPending: {
		StatusInterested, StatusRejected, StatusAggressive, StatusNeutral,
		StatusApprovalRequired, StatusError, StatusBlacklisted,
	},
	StatusInterested: {
		StatusPending, StatusInterested, StatusRejected, StatusAggressive, StatusNeutral,
		StatusApprovalRequired, StatusError, StatusConverted, StatusBlacklisted,
	},
	StatusNeutral: {
		StatusPending, StatusInterested, StatusRejected, StatusAggressive, StatusNeutral,
		StatusApprovalRequired, StatusError, StatusConverted, StatusBlacklisted,
	},
	StatusAggressive: {
		StatusPending, StatusInterested, StatusRejected, StatusAggressive, StatusNeutral,
		StatusApprovalRequired, StatusError, StatusBlacklisted,
	},
	StatusApprovalRequired: {
		StatusApproved, StatusApprovalRequired, StatusBlacklisted,
		// discarding a draft restores the status the lead had before the gate
		StatusNew, StatusSent, StatusPending, StatusInterested, StatusNeutral, StatusAggressive, StatusError,
	},
	StatusApproved: {
		StatusSent, StatusPending, StatusError, StatusBlacklisted,
	},
	StatusError: {
		StatusSent, StatusPending, StatusInterested, StatusRejected, StatusAggressive, StatusNeutral,
		StatusApprovalRequired, StatusError, StatusBlacklisted,
	},
	// terminal statuses only move between each other
	StatusRejected:    {StatusConverted, StatusBlacklisted},
	StatusConverted:   {StatusBlacklisted},
	StatusBlacklisted: {},
}

// CanTransition reports whether from may move to to without an operator override.
// Staying in the same status is always allowed.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
