package page

import (
	"strings"
	"unicode"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// Matcher locates the page element whose visible text most plausibly
// contains a citation key.
type Matcher struct {
	src TextSource
}

func NewMatcher(src TextSource) *Matcher {
	return &Matcher{src: src}
}

// FindMatchingElement searches the current snapshot for the element best
// matching the citation key. The policy is ordered, first tier that produces
// a hit wins:
//
//  1. exact whitespace-normalized substring match against an element's own
//     text, preferring the innermost (least text) element
//  2. the case-insensitive variant of 1
//  3. fuzzy fallback: both sides lowercased, punctuation stripped and
//     whitespace collapsed, requiring the key to appear as a contiguous
//     substring of the candidate's text
//
// Returns nil when nothing qualifies; callers treat that as an unresolved
// citation, not an error. For a fixed snapshot and key the result is
// deterministic.
func (m *Matcher) FindMatchingElement(key string) *Element {
	normKey := normalizeSpace(key)
	if normKey == "" {
		return nil
	}

	candidates := m.src.Query(func(el *Element) bool {
		return strings.TrimSpace(el.OwnText) != ""
	})

	if el := bestMatch(candidates, normKey, func(el *Element) string {
		return normalizeSpace(el.OwnText)
	}); el != nil {
		return el
	}

	lowerKey := strings.ToLower(normKey)
	if el := bestMatch(candidates, lowerKey, func(el *Element) string {
		return strings.ToLower(normalizeSpace(el.OwnText))
	}); el != nil {
		return el
	}

	return m.fuzzyMatch(normKey)
}

// bestMatch returns the qualifying candidate with the least text, falling
// back to document order on ties so repeated calls agree.
func bestMatch(candidates []*Element, key string, textOf func(*Element) string) *Element {
	var best *Element
	bestLen := 0
	for _, el := range candidates {
		text := textOf(el)
		if !strings.Contains(text, key) {
			continue
		}
		if best == nil || len(text) < bestLen {
			best = el
			bestLen = len(text)
		}
	}
	return best
}

func (m *Matcher) fuzzyMatch(key string) *Element {
	looseKey := normalizeLoose(key)
	if looseKey == "" {
		return nil
	}

	// Consider the whole subtree here, not just own text, so a phrase split
	// across inline children can still resolve to its containing element.
	candidates := m.src.Query(func(el *Element) bool {
		return strings.TrimSpace(el.Text) != ""
	})

	var best *Element
	bestLen := 0
	bestDistance := 0
	for _, el := range candidates {
		text := normalizeLoose(el.Text)
		if !strings.Contains(text, looseKey) {
			continue
		}
		distance := fuzzy.LevenshteinDistance(looseKey, text)
		if best == nil || len(text) < bestLen || (len(text) == bestLen && distance < bestDistance) {
			best = el
			bestLen = len(text)
			bestDistance = distance
		}
	}
	return best
}

// normalizeSpace collapses all whitespace runs to single spaces and trims.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// normalizeLoose lowercases, replaces punctuation and symbols with spaces
// and collapses whitespace, so trailing periods, quotes and dashes never
// break a containment check.
func normalizeLoose(s string) string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return ' '
		}
		return unicode.ToLower(r)
	}, s)
	return normalizeSpace(mapped)
}
