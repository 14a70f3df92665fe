// Package page models the host page as a parsed HTML snapshot so the matcher
// and registry can run against it without touching a live browser.
package page

import (
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// UINamespace is the id/class/attribute prefix reserved for the assistant's
// own injected markup. Elements under it are invisible to the matcher, so
// generated citations can never resolve to generated content.
const UINamespace = "pagesage"

// Tags whose text never renders and is never worth matching against.
var skippedTags = map[string]struct{}{
	"script": {}, "style": {}, "noscript": {}, "template": {},
	"head": {}, "meta": {}, "link": {}, "title": {}, "iframe": {},
}

// Element is one snapshot of a page element. It addresses the live element
// through Path, not through an owning pointer: the real element belongs to
// the host page and may be removed or mutated at any time.
type Element struct {
	Tag     string
	Path    string // CSS child path, stable for a fixed snapshot
	OwnText string // direct text children only
	Text    string // full subtree text

	gen uint64
}

// TextSource is the page capability handed to the matcher and registry.
type TextSource interface {
	// Query returns, in document order, every element that satisfies pred.
	Query(pred func(*Element) bool) []*Element
	// Generation identifies the current snapshot; it changes when the page
	// content is replaced.
	Generation() uint64
	// IsLive reports whether el still belongs to the current snapshot.
	IsLive(el *Element) bool
}

// Document is a goquery-backed TextSource fed by page snapshots from the
// client.
type Document struct {
	mu       sync.RWMutex
	url      string
	rawHTML  string
	gen      uint64
	elements []*Element

	content     string
	contentErr  error
	contentDone bool
}

func NewDocument() *Document {
	return &Document{}
}

// SetHTML replaces the snapshot with newly captured page HTML. Elements from
// earlier snapshots stop being live.
func (d *Document) SetHTML(rawHTML, pageURL string) error {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return fmt.Errorf("parse page snapshot: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.gen++
	d.url = pageURL
	d.rawHTML = rawHTML
	d.elements = nil
	d.content = ""
	d.contentErr = nil
	d.contentDone = false

	body := doc.Find("body")
	if body.Length() == 0 {
		return nil
	}
	for _, node := range body.Nodes {
		d.collect(node, "body")
	}
	return nil
}

func (d *Document) collect(node *html.Node, path string) {
	childIndex := 0
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if child.Type != html.ElementNode {
			continue
		}
		childIndex++
		tag := child.Data
		if _, skip := skippedTags[tag]; skip {
			continue
		}
		if isInjectedUI(child) {
			continue
		}

		childPath := fmt.Sprintf("%s > %s:nth-child(%d)", path, tag, childIndex)
		d.elements = append(d.elements, &Element{
			Tag:     tag,
			Path:    childPath,
			OwnText: directText(child),
			Text:    subtreeText(child),
			gen:     d.gen,
		})
		d.collect(child, childPath)
	}
}

// isInjectedUI reports whether the element belongs to the assistant's own
// injected markup.
func isInjectedUI(node *html.Node) bool {
	for _, attr := range node.Attr {
		switch attr.Key {
		case "id":
			if strings.HasPrefix(attr.Val, UINamespace+"-") {
				return true
			}
		case "class":
			for _, class := range strings.Fields(attr.Val) {
				if strings.HasPrefix(class, UINamespace+"-") {
					return true
				}
			}
		default:
			if strings.HasPrefix(attr.Key, "data-"+UINamespace) {
				return true
			}
		}
	}
	return false
}

func directText(node *html.Node) string {
	var b strings.Builder
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.TextNode {
			b.WriteString(child.Data)
		}
	}
	return b.String()
}

func subtreeText(node *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			return
		}
		if n.Type == html.ElementNode {
			if _, skip := skippedTags[n.Data]; skip {
				return
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(node)
	return b.String()
}

func (d *Document) Query(pred func(*Element) bool) []*Element {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []*Element
	for _, el := range d.elements {
		if pred == nil || pred(el) {
			out = append(out, el)
		}
	}
	return out
}

func (d *Document) Generation() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.gen
}

func (d *Document) IsLive(el *Element) bool {
	if el == nil {
		return false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return el.gen == d.gen
}

// URL returns the address of the current snapshot.
func (d *Document) URL() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.url
}
