package telegram

import (
	"strings"
	"unicode/utf8"
)

const (
	maxMessageLength = 4096
	maxCaptionLength = 1024
)

// sanitizeText strips invalid UTF-8, which the Bot API rejects.
func sanitizeText(text string) string {
	if utf8.ValidString(text) {
		return text
	}
	return strings.ToValidUTF8(text, "")
}

// truncateText cuts text to limit bytes on a rune boundary, appending "..."
// when truncation occurs.
func truncateText(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	const suffix = "..."
	cut := limit - len(suffix)
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + suffix
}
