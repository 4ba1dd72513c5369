package retrieval

import (
	"strings"
	"unicode/utf8"
)

const (
	snippetMaxChars   = 150
	noDescriptionText = "No description available"
)

// Snippet returns the display text for a result: the title, else the first 150 characters of
// the description with an ellipsis when cut, else a placeholder.
func Snippet(title, description string) string {
	if t := strings.TrimSpace(title); t != "" {
		return t
	}

	if d := strings.TrimSpace(description); d != "" {
		return truncateRunes(d, snippetMaxChars)
	}

	return noDescriptionText
}

// truncateRunes cuts s to max characters and appends "..." when anything was removed.
func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}

	runes := []rune(s)

	return string(runes[:max]) + "..."
}
