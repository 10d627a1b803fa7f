// Package text cleans generated message text and fits conversation history
// into a model's context budget.
package text

import (
	"regexp"
	"strings"
)

var (
	// controlCharsRegex matches ASCII control characters other than tab and newline.
	controlCharsRegex = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)

	// multipleNewlinesRegex matches runs of 3 or more newlines.
	multipleNewlinesRegex = regexp.MustCompile(`\n{3,}`)

	// transcriptPrefixRegex matches the "[2026-10-12 11:00] customer:" prefix the
	// model sometimes echoes back from the history it was given.
	transcriptPrefixRegex = regexp.MustCompile(`(?m)^\s*\[\d{4}-\d{2}-\d{2}[ T]\d{2}:\d{2}(?::\d{2})?[^\]]*\]\s*(?:customer|bot|you|assistant)?\s*:?\s*`)

	// wrappingQuotes are stripped when they enclose the whole reply.
	wrappingQuotes = []string{`"`, "'", "“", "”", "«", "»"}

	// unicodeReplacer normalizes invisible and exotic whitespace characters.
	unicodeReplacer = strings.NewReplacer(
		"\u2060", "",
		"\uFEFF", "",
		"\u00AD", "",
		"\u200E", "",
		"\u200F", "",
		"\u2061", "",
		"\u2062", "",
		"\u2063", "",
		"\u2064", "",
		"\u2028", "\n",
		"\u2029", "\n\n",
		"\u200B", " ",
		"\u200C", " ",
		"\u205F", " ",
		"\u2009", " ",
		"\u200A", " ",
		"\u202F", " ",
		"\u3000", " ",
		"\u00A0", " ",
	)
)
