package text

import (
	"errors"
	"strings"
	"unicode"
)

// ErrEmpty is returned when there is nothing left to send after sanitizing.
var ErrEmpty = errors.New("text is empty")

// collapseSpaces folds whitespace runs inside a line into single spaces.
func collapseSpaces(line string) string {
	var sb strings.Builder
	space := false
	for _, r := range line {
		if unicode.IsSpace(r) {
			if !space {
				sb.WriteRune(' ')
				space = true
			}
			continue
		}
		sb.WriteRune(r)
		space = false
	}
	return strings.TrimSpace(sb.String())
}

// stripWrappingQuotes removes one pair of quotes enclosing the whole text.
func stripWrappingQuotes(s string) string {
	for _, open := range wrappingQuotes {
		for _, closing := range wrappingQuotes {
			if len(s) > len(open)+len(closing) && strings.HasPrefix(s, open) && strings.HasSuffix(s, closing) {
				inner := s[len(open) : len(s)-len(closing)]
				if !strings.ContainsAny(inner, open+closing) {
					return strings.TrimSpace(inner)
				}
			}
		}
	}
	return s
}

// Sanitize turns model output into a sendable WhatsApp message:
// transcript prefixes echoed from the history are removed, line endings and
// exotic whitespace are normalized, control characters are dropped, blank
// line runs are capped at one empty line and enclosing quotes are stripped.
// Markdown formatting is removed first.
func Sanitize(input string) (string, error) {
	if strings.TrimSpace(input) == "" {
		return "", ErrEmpty
	}

	s := strings.ReplaceAll(input, "\r\n", "\n")
	s = StripMarkdown(s)
	s = strings.ReplaceAll(s, "\r", "\n")
	s = unicodeReplacer.Replace(s)
	s = transcriptPrefixRegex.ReplaceAllString(s, "")
	s = controlCharsRegex.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = collapseSpaces(lines[i])
	}
	s = strings.Join(lines, "\n")
	s = multipleNewlinesRegex.ReplaceAllString(s, "\n\n")
	s = stripWrappingQuotes(strings.TrimSpace(s))

	if s == "" {
		return "", ErrEmpty
	}
	return s, nil
}
