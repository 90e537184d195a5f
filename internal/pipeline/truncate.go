package pipeline

import "strings"

// ellipsis is appended in place of the dropped tail. It costs 3 bytes in
// UTF-8, same as "...", but reads as a single glyph in an IRC client.
const ellipsis = "…"

// ShortenToBytesWidth returns s if its UTF-8 encoding already fits within
// maxBytes. Otherwise it drops words from the end, preferring to break on
// a space, until the remainder plus ellipsis fits, then appends ellipsis.
func ShortenToBytesWidth(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	if maxBytes <= len(ellipsis) {
		return truncateRunes(ellipsis, maxBytes)
	}

	budget := maxBytes - len(ellipsis)
	truncated := truncateRunes(s, budget)

	if idx := strings.LastIndexByte(truncated, ' '); idx > 0 {
		truncated = truncated[:idx]
	}
	truncated = strings.TrimRight(truncated, " \t")

	return truncated + ellipsis
}

// truncateRunes cuts s to at most maxBytes bytes without splitting a rune.
func truncateRunes(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	cut := maxBytes
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
