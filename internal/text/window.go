package text

import (
	"github.com/edgard/leadpilot/internal/database"
)

// entryOverhead approximates the tokens spent on role and timestamp per entry.
const entryOverhead = 15

// DynamicWindow selects the most recent history that fits a token budget.
type DynamicWindow struct {
	MaxTokens int
}

// NewDynamicWindow creates a window with the given budget.
func NewDynamicWindow(maxTokens int) *DynamicWindow {
	return &DynamicWindow{MaxTokens: maxTokens}
}

// EstimateTokens is a rough, model-agnostic token count.
func EstimateTokens(s string) int {
	return len(s)/3 + 5
}

// Select returns the newest suffix of entries that fits next to the system
// instruction and the current message, in chronological order.
func (w *DynamicWindow) Select(entries []database.ConversationEntry, systemTokens, currentTokens int) []database.ConversationEntry {
	available := w.MaxTokens - systemTokens - currentTokens
	if available <= 0 || len(entries) == 0 {
		return nil
	}

	used := 0
	first := len(entries)
	for i := len(entries) - 1; i >= 0; i-- {
		cost := EstimateTokens(entries[i].Text) + entryOverhead
		if used+cost > available {
			break
		}
		used += cost
		first = i
	}
	return entries[first:]
}
