package page

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleHTML = `<html><head><title>Doc</title></head><body>
	<div id="main">
		<h1>Ocean Colors</h1>
		<p>The sky is blue and vast above the water.</p>
		<p>Storm clouds gather <em>quickly</em> in the evening.</p>
		<div class="wrap">
			<span>blue and vast</span>
		</div>
	</div>
	<div id="pagesage-panel">
		<p>blue and vast</p>
	</div>
	<script>var x = "blue and vast";</script>
</body></html>`

func loadDocument(t *testing.T, html string) *Document {
	t.Helper()
	doc := NewDocument()
	require.NoError(t, doc.SetHTML(html, "https://example.com/article"))
	return doc
}

func TestFindMatchingElementExact(t *testing.T) {
	t.Parallel()
	doc := loadDocument(t, sampleHTML)
	matcher := NewMatcher(doc)

	el := matcher.FindMatchingElement("blue and vast")
	require.NotNil(t, el)
	// The span holds the phrase with the least surrounding text, so it wins
	// over the longer paragraph.
	assert.Equal(t, "span", el.Tag)
}

func TestFindMatchingElementPrefersInnermost(t *testing.T) {
	t.Parallel()
	doc := loadDocument(t, sampleHTML)
	matcher := NewMatcher(doc)

	el := matcher.FindMatchingElement("Storm clouds gather")
	require.NotNil(t, el)
	assert.Equal(t, "p", el.Tag)
}

func TestFindMatchingElementCaseInsensitive(t *testing.T) {
	t.Parallel()
	doc := loadDocument(t, sampleHTML)
	matcher := NewMatcher(doc)

	el := matcher.FindMatchingElement("OCEAN COLORS")
	require.NotNil(t, el)
	assert.Equal(t, "h1", el.Tag)
}

func TestFindMatchingElementFuzzy(t *testing.T) {
	t.Parallel()
	doc := loadDocument(t, sampleHTML)
	matcher := NewMatcher(doc)

	// "quickly" sits in a nested em, so the paragraph's own text never
	// contains the full phrase; only the fuzzy subtree tier can find it.
	el := matcher.FindMatchingElement("clouds gather quickly in the evening")
	require.NotNil(t, el)
	assert.Equal(t, "p", el.Tag)
}

func TestFindMatchingElementIgnoresInjectedUI(t *testing.T) {
	t.Parallel()
	doc := loadDocument(t, `<html><body>
		<div id="pagesage-root"><p>only here</p></div>
	</body></html>`)
	matcher := NewMatcher(doc)

	assert.Nil(t, matcher.FindMatchingElement("only here"))
}

func TestFindMatchingElementNoMatch(t *testing.T) {
	t.Parallel()
	doc := loadDocument(t, sampleHTML)
	matcher := NewMatcher(doc)

	assert.Nil(t, matcher.FindMatchingElement("nothing like this exists on the page"))
	assert.Nil(t, matcher.FindMatchingElement("   "))
}

func TestFindMatchingElementDeterministic(t *testing.T) {
	t.Parallel()
	doc := loadDocument(t, sampleHTML)
	matcher := NewMatcher(doc)

	first := matcher.FindMatchingElement("blue and vast")
	require.NotNil(t, first)
	for range 10 {
		again := matcher.FindMatchingElement("blue and vast")
		require.NotNil(t, again)
		assert.Equal(t, first.Path, again.Path)
	}
}

func TestMatchedElementContainsNormalizedKey(t *testing.T) {
	t.Parallel()
	doc := loadDocument(t, sampleHTML)
	matcher := NewMatcher(doc)

	keys := []string{
		"blue and vast",
		"Ocean Colors",
		"storm CLOUDS gather",
		"clouds gather quickly in the evening.",
	}
	for _, key := range keys {
		el := matcher.FindMatchingElement(key)
		require.NotNil(t, el, "key %q should resolve", key)
		assert.Contains(t, normalizeLoose(el.Text), normalizeLoose(key))
	}
}

func TestDocumentLiveness(t *testing.T) {
	t.Parallel()
	doc := loadDocument(t, sampleHTML)
	matcher := NewMatcher(doc)

	el := matcher.FindMatchingElement("blue and vast")
	require.NotNil(t, el)
	assert.True(t, doc.IsLive(el))

	require.NoError(t, doc.SetHTML(`<html><body><p>replaced</p></body></html>`, ""))
	assert.False(t, doc.IsLive(el), "elements from an older snapshot must go stale")

	fresh := matcher.FindMatchingElement("replaced")
	require.NotNil(t, fresh)
	assert.True(t, doc.IsLive(fresh))
}

func TestNormalizeLoose(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "the sky is blue", normalizeLoose(`  The "sky"   is blue! `))
	assert.Equal(t, "", normalizeLoose("..."))
}
