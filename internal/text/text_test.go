package text

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/leadpilot/internal/database"
)

func TestSanitize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "plain", input: "Merhaba, nasılsınız?", want: "Merhaba, nasılsınız?"},
		{name: "echoed transcript prefix", input: "[2026-10-12 11:00] bot: Selamlar", want: "Selamlar"},
		{name: "crlf and blank runs", input: "Satır 1\r\n\r\n\r\n\r\nSatır 2", want: "Satır 1\n\nSatır 2"},
		{name: "exotic spaces", input: "Kahve\u00A0\u200Bdurağı\u2009  için", want: "Kahve durağı için"},
		{name: "control characters", input: "a\x00b\x07c", want: "a b c"},
		{name: "wrapping quotes", input: `"Harika, detayları ileteyim mi?"`, want: "Harika, detayları ileteyim mi?"},
		{name: "inner quotes kept", input: `"Kaffiy" ile "sadakat" bir arada`, want: `"Kaffiy" ile "sadakat" bir arada`},
		{name: "markdown emphasis", input: "**Harika!** Kaffiy'den detayları _şimdi_ ileteyim.", want: "Harika! Kaffiy'den detayları şimdi ileteyim."},
		{name: "markdown heading", input: "## Paketler\nAylık 499 TL & kurulum", want: "Paketler\n\nAylık 499 TL & kurulum"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Sanitize(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSanitizeEmpty(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "   ", "\u200B\u200B", "\x00\x01"} {
		_, err := Sanitize(in)
		assert.ErrorIs(t, err, ErrEmpty, "%q", in)
	}
}

func TestWindowKeepsNewestEntries(t *testing.T) {
	t.Parallel()

	var entries []database.ConversationEntry
	for i := 0; i < 10; i++ {
		entries = append(entries, database.ConversationEntry{ID: int64(i), Text: strings.Repeat("x", 30)})
	}
	// each entry costs 30/3+5+15 = 30 tokens
	w := NewDynamicWindow(100)
	got := w.Select(entries, 10, 0)
	require.Len(t, got, 3)
	assert.Equal(t, int64(7), got[0].ID)
	assert.Equal(t, int64(9), got[2].ID)

	assert.Empty(t, w.Select(entries, 60, 40))
	assert.Len(t, NewDynamicWindow(10_000).Select(entries, 0, 0), 10)
}

func TestStripMarkdownLeavesPlainText(t *testing.T) {
	t.Parallel()

	in := "- madde bir\n1) madde iki <3 https://kaffiy.com"
	assert.Equal(t, in, StripMarkdown(in))
}
