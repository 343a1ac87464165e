// Package textmatch implements the keyword matching used by the clinical
// checkers. Matching is a case and accent insensitive substring search, so
// "Disnea" in a narrative matches the keyword "disnea" and "auscultación"
// matches "auscultacion".
package textmatch

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lowercases s and strips combining marks.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		return strings.ToLower(s)
	}
	return strings.ToLower(folded)
}

// Contains reports whether keyword occurs in text. An empty keyword never matches.
func Contains(text, keyword string) bool {
	k := strings.TrimSpace(Fold(keyword))
	if k == "" {
		return false
	}
	return strings.Contains(Fold(text), k)
}

// FirstMatch returns the first keyword found in text.
func FirstMatch(text string, keywords []string) (string, bool) {
	folded := Fold(text)
	for _, kw := range keywords {
		k := strings.TrimSpace(Fold(kw))
		if k == "" {
			continue
		}
		if strings.Contains(folded, k) {
			return kw, true
		}
	}
	return "", false
}

// AnyMentions reports whether any of the texts mentions keyword.
func AnyMentions(texts []string, keyword string) bool {
	for _, t := range texts {
		if Contains(t, keyword) {
			return true
		}
	}
	return false
}
