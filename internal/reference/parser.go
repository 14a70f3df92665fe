// Package reference extracts citation markers from generated text and ties
// them back to live page elements.
package reference

import (
	"fmt"
	"regexp"
	"strings"
)

// Generated text cites a page passage with a triple-bracket marker:
// [[[ verbatim phrase from the page ]]]. Markers never nest and never
// overlap. The (?s) flag lets a phrase span line breaks.
var markerPattern = regexp.MustCompile(`(?s)\[\[\[(.*?)\]\]\]`)

// PlaceholderFormat is the stable token a marker is replaced with in display
// text. The number is the citation's 1-based position in order of appearance.
const PlaceholderFormat = "⟦REF_%d⟧"

// ParseCitations scans text for citation markers and returns the display
// text (markers replaced with numbered placeholders) together with the
// citation keys in left-to-right order of appearance.
//
// The function is pure and safe to re-run on a growing streamed buffer: an
// unterminated marker at the end of the buffer is left untouched until its
// closing delimiter arrives, and re-parsing a longer prefix always yields a
// super-sequence of the citations found so far.
func ParseCitations(text string) (displayText string, citations []string) {
	n := 0
	displayText = markerPattern.ReplaceAllStringFunc(text, func(marker string) string {
		content := markerPattern.FindStringSubmatch(marker)[1]
		citations = append(citations, strings.TrimSpace(content))
		n++
		return fmt.Sprintf(PlaceholderFormat, n)
	})
	return displayText, citations
}

// FilterReferenceLinks strips all citation markers from text, producing the
// clean copy used when persisting or exporting generated output. Idempotent.
func FilterReferenceLinks(text string) string {
	return markerPattern.ReplaceAllString(text, "")
}

// NormalizeKey trims a raw marker body down to the registry lookup key.
func NormalizeKey(raw string) string {
	return strings.TrimSpace(raw)
}
