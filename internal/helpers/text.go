package helpers

import "strings"

// WordCount counts whitespace-separated words.
func WordCount(s string) int {
	return len(strings.Fields(s))
}

// TruncateWords keeps at most max words of s, collapsing whitespace only when
// truncation happens.
func TruncateWords(s string, max int) string {
	if max <= 0 {
		return ""
	}
	words := strings.Fields(s)
	if len(words) <= max {
		return strings.TrimSpace(s)
	}
	return strings.Join(words[:max], " ")
}

// TruncateRunes cuts s to at most max runes.
func TruncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
