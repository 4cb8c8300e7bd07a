package validators

import (
	"strings"
	"unicode/utf8"
)

// SanitizeString trims input, drops invalid UTF-8 and caps it at maxLen characters.
func SanitizeString(input string, maxLen int) string {
	trimmed := strings.TrimSpace(strings.ToValidUTF8(input, ""))
	if maxLen > 0 && utf8.RuneCountInString(trimmed) > maxLen {
		return strings.TrimSpace(string([]rune(trimmed)[:maxLen]))
	}
	return trimmed
}
