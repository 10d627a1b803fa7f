// Package phone canonicalizes lead phone numbers and maps them to gateway chat ids.
package phone

import (
	"strings"
	"unicode"

	"github.com/nyaruka/phonenumbers"
)

// DefaultRegion is used when a number carries no country code.
const DefaultRegion = "TR"

const (
	userSuffix  = "@c.us"
	groupSuffix = "@g.us"
)

// Normalize returns the canonical digits-only, country-code-prefixed form of input.
// Numbers libphonenumber cannot validate fall back to the Turkish mobile heuristic.
// The empty string means the input held no digits.
func Normalize(input, region string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return ""
	}
	if region == "" {
		region = DefaultRegion
	}

	if num, err := phonenumbers.Parse(trimmed, region); err == nil && phonenumbers.IsValidNumber(num) {
		return strings.TrimPrefix(phonenumbers.Format(num, phonenumbers.E164), "+")
	}

	return fallback(trimmed)
}

func fallback(input string) string {
	digits := digitsOnly(input)
	if digits == "" {
		return ""
	}
	national := strings.TrimPrefix(digits, "90")
	national = strings.TrimPrefix(national, "0")
	if len(national) == 10 && strings.HasPrefix(national, "5") {
		return "90" + national
	}
	return digits
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ChatID returns the gateway chat id for a canonical phone.
func ChatID(canonical string) string {
	if canonical == "" {
		return ""
	}
	if strings.Contains(canonical, "@") {
		return canonical
	}
	return canonical + userSuffix
}

// FromChatID extracts the phone part of a personal chat id. Linked-device ids
// ("@lid") and groups yield an empty string.
func FromChatID(chatID string) string {
	if !strings.HasSuffix(chatID, userSuffix) {
		return ""
	}
	return digitsOnly(strings.TrimSuffix(chatID, userSuffix))
}

// IsGroup reports whether chatID refers to a group conversation.
func IsGroup(chatID string) bool {
	return strings.HasSuffix(chatID, groupSuffix)
}
