package validators

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSanitizeStringKeepsRunesWhole(t *testing.T) {
	got := SanitizeString("a"+strings.Repeat("é", 300), 200)
	if !utf8.ValidString(got) {
		t.Fatalf("expected valid utf-8, got %q", got)
	}
	if n := utf8.RuneCountInString(got); n != 200 {
		t.Fatalf("expected 200 runes, got %d", n)
	}
}

func TestSanitizeStringTrimsAndDropsInvalidBytes(t *testing.T) {
	if got := SanitizeString("  leave at door \xff ", 0); got != "leave at door" {
		t.Fatalf("unexpected sanitized value %q", got)
	}
	if got := SanitizeString("short", 10); got != "short" {
		t.Fatalf("expected input unchanged, got %q", got)
	}
}
