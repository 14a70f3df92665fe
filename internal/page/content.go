package page

import (
	"fmt"
	"net/url"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/go-shiori/go-readability"
)

// PageContent extracts the readable text of the current snapshot, the plain
// payload sent upstream as generation context. The extraction runs once per
// snapshot and is cached; it is idempotent from the caller's point of view.
func (d *Document) PageContent() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.contentDone {
		return d.content, d.contentErr
	}
	d.content, d.contentErr = extractContent(d.rawHTML, d.url)
	d.contentDone = true
	return d.content, d.contentErr
}

func extractContent(rawHTML, pageURL string) (string, error) {
	if strings.TrimSpace(rawHTML) == "" {
		return "", fmt.Errorf("no page snapshot loaded")
	}

	parsedURL, err := url.Parse(pageURL)
	if err != nil || pageURL == "" {
		parsedURL = &url.URL{Scheme: "https", Host: "localhost"}
	}

	// Readability isolates the main article so navigation chrome and footers
	// don't eat the context budget. Pages it can't make sense of fall back to
	// the full document.
	contentHTML := rawHTML
	title := ""
	article, readErr := readability.FromReader(strings.NewReader(rawHTML), parsedURL)
	if readErr == nil && strings.TrimSpace(article.Content) != "" {
		contentHTML = article.Content
		title = article.Title
	}

	converter := md.NewConverter("", true, nil)
	markdown, err := converter.ConvertString(contentHTML)
	if err != nil {
		return "", fmt.Errorf("convert page content: %w", err)
	}

	text := strings.TrimSpace(markdown)
	if text == "" {
		return "", fmt.Errorf("page has no extractable content")
	}
	if title != "" {
		text = "# " + title + "\n\n" + text
	}
	return text, nil
}
